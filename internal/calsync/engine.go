// Package calsync keeps an owner's calendar document consistent with their remote calendar.
package calsync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jw6ventures/planner/internal/logging"
	"github.com/jw6ventures/planner/internal/remote"
	"github.com/jw6ventures/planner/internal/store"
)

// ErrRelinkRequired is reported in the outcome when the remote credential was rejected and cleared.
var ErrRelinkRequired = errors.New("remote calendar must be re-linked")

// Linker resolves an owner's remote calendar. ForOwner returns nil when none is linked.
type Linker interface {
	ForOwner(ctx context.Context, ownerID string) (*remote.Binding, error)
	Unlink(ctx context.Context, ownerID string) error
}

type Options struct {
	// Timeout bounds all remote work of one invocation.
	Timeout time.Duration
	// Window is listed on both sides of now during pull-sync.
	Window       time.Duration
	ImportRemote bool
	PruneRanges  bool

	Now   func() time.Time
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Window <= 0 {
		o.Window = 365 * 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Engine runs reconciliation and pull-sync. Remote calls within one invocation are sequential.
type Engine struct {
	docs   store.DocumentRepository
	linker Linker
	opts   Options
}

func New(docs store.DocumentRepository, linker Linker, opts Options) *Engine {
	return &Engine{docs: docs, linker: linker, opts: opts.withDefaults()}
}

// Load returns the owner's document, creating it on first access.
func (e *Engine) Load(ctx context.Context, ownerID string) (*store.Document, error) {
	return e.docs.GetOrCreate(ctx, ownerID)
}

// ClearEvents empties the owner's events and keeps ranges. Remote copies of
// locally created events are deleted the same way a save without them would.
func (e *Engine) ClearEvents(ctx context.Context, ownerID string) (*store.Document, Outcome, error) {
	prev, err := e.docs.GetOrCreate(ctx, ownerID)
	if err != nil {
		return nil, Outcome{Op: opClear}, err
	}
	return e.reconcile(ctx, opClear, ownerID, prev, nil, store.CloneRanges(prev.Ranges))
}

// bind resolves the remote binding. An unusable credential is cleared and
// reported through relink instead of an error.
func (e *Engine) bind(ctx context.Context, ownerID string, out *Outcome) (*remote.Binding, error) {
	if e.linker == nil {
		out.LocalOnly = true
		return nil, nil
	}
	binding, err := e.linker.ForOwner(ctx, ownerID)
	if remote.IsAuth(err) {
		e.unlink(ctx, ownerID, err, out)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if binding == nil {
		out.LocalOnly = true
	}
	return binding, nil
}

func (e *Engine) unlink(ctx context.Context, ownerID string, cause error, out *Outcome) {
	out.RelinkRequired = true
	logger := logging.FromContext(ctx)
	logger.Warn("remote credential rejected; clearing link", "owner", ownerID, "error", cause)
	if err := e.linker.Unlink(context.WithoutCancel(ctx), ownerID); err != nil {
		logger.Error("failed to clear remote credential", "owner", ownerID, "error", err)
	}
}
