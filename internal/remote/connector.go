package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/jw6ventures/planner/internal/secrets"
	"github.com/jw6ventures/planner/internal/store"
)

// ProviderGoogle is the provider name stored with credentials.
const ProviderGoogle = "google"

// Connector turns an owner's stored credential into a retrying Client.
type Connector struct {
	creds  store.CredentialRepository
	box    *secrets.Box
	oauth  *oauth2.Config
	policy RetryPolicy
	opts   []option.ClientOption
}

// NewConnector returns a connector. A nil oauth config disables remote sync for every owner.
func NewConnector(creds store.CredentialRepository, box *secrets.Box, oauth *oauth2.Config, policy RetryPolicy, opts ...option.ClientOption) *Connector {
	return &Connector{creds: creds, box: box, oauth: oauth, policy: policy, opts: opts}
}

// Enabled reports whether remote linking is configured at all.
func (c *Connector) Enabled() bool {
	return c != nil && c.oauth != nil
}

// ForOwner returns nil without error when the owner has no linked calendar.
func (c *Connector) ForOwner(ctx context.Context, ownerID string) (*Binding, error) {
	if !c.Enabled() {
		return nil, nil
	}
	cred, err := c.creds.Get(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load remote credential: %w", err)
	}
	if cred == nil {
		return nil, nil
	}
	tok, err := c.box.OpenToken(cred.Token)
	if err != nil {
		return nil, &Error{Op: "connect", Kind: KindAuth, Err: err}
	}

	ts := &persistingTokenSource{
		base: oauth2.ReuseTokenSource(tok, c.oauth.TokenSource(ctx, tok)),
		last: tok.AccessToken,
		save: func(refreshed *oauth2.Token) error {
			sealed, err := c.box.SealToken(refreshed)
			if err != nil {
				return err
			}
			updated := *cred
			updated.Token = sealed
			return c.creds.Save(context.WithoutCancel(ctx), updated)
		},
	}

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	gc, err := NewGoogleClient(ctx, cred.CalendarID, opts...)
	if err != nil {
		return nil, err
	}
	return &Binding{
		Client:       WithRetry(gc, c.policy),
		CalendarID:   cred.CalendarID,
		AccountEmail: cred.AccountEmail,
	}, nil
}

// Link stores a freshly granted token for ownerID, replacing any previous link.
func (c *Connector) Link(ctx context.Context, ownerID, calendarID, accountEmail string, tok *oauth2.Token) error {
	if !c.Enabled() {
		return errors.New("remote calendar linking is not configured")
	}
	sealed, err := c.box.SealToken(tok)
	if err != nil {
		return err
	}
	return c.creds.Save(ctx, store.RemoteCredential{
		OwnerID:      ownerID,
		Provider:     ProviderGoogle,
		CalendarID:   calendarID,
		AccountEmail: accountEmail,
		Token:        sealed,
	})
}

// Unlink forgets the owner's credential. Synced correlation ids are kept.
func (c *Connector) Unlink(ctx context.Context, ownerID string) error {
	return c.creds.Delete(ctx, ownerID)
}

// persistingTokenSource writes refreshed tokens back to the credential store.
type persistingTokenSource struct {
	base oauth2.TokenSource
	save func(*oauth2.Token) error

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := p.save(tok); err != nil {
			slog.Warn("failed to persist refreshed remote token", "error", err)
		}
	}
	return tok, nil
}
