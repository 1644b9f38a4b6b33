package auth

import (
	"crypto/sha256"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/jw6ventures/planner/internal/config"
)

const (
	sessionCookieName = "planner_session"
	stateCookieName   = "planner_oauth_state"
	sessionTTL        = 7 * 24 * time.Hour
	stateTTL          = 10 * time.Minute
)

// SessionManager signs and encrypts the session and OAuth state cookies.
type SessionManager struct {
	codec  *securecookie.SecureCookie
	secure bool
	now    func() time.Time
}

type sessionValue struct {
	OwnerID string `json:"owner_id"`
	Exp     int64  `json:"exp"`
}

type stateValue struct {
	State string `json:"state"`
	Nonce string `json:"nonce"`
	Exp   int64  `json:"exp"`
}

func NewSessionManager(cfg *config.Config) *SessionManager {
	hash := sha256.Sum256([]byte(cfg.Session.Secret))
	hashKey := hash[:]

	// Derive an AES-256 sized block key to avoid invalid key length errors.
	blockKey := hash[:]
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionTTL.Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})

	secure := true
	if base, err := url.Parse(cfg.BaseURL); err == nil && base.Scheme != "https" {
		secure = false
	}

	return &SessionManager{codec: sc, secure: secure, now: time.Now}
}

// Issue sets the session cookie for ownerID.
func (m *SessionManager) Issue(w http.ResponseWriter, ownerID string) error {
	exp := m.now().Add(sessionTTL)
	encoded, err := m.codec.Encode(sessionCookieName, sessionValue{OwnerID: ownerID, Exp: exp.Unix()})
	if err != nil {
		return err
	}
	m.set(w, sessionCookieName, encoded, exp)
	return nil
}

// Clear removes the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	m.set(w, sessionCookieName, "", time.Unix(0, 0))
}

// CurrentOwner extracts the owner from the request session if present.
func (m *SessionManager) CurrentOwner(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", false
	}

	var value sessionValue
	if err := m.codec.Decode(sessionCookieName, c.Value, &value); err != nil {
		return "", false
	}
	if value.OwnerID == "" || time.Unix(value.Exp, 0).Before(m.now()) {
		return "", false
	}
	return value.OwnerID, true
}

// IssueState stores the OAuth state and OIDC nonce for the callback.
func (m *SessionManager) IssueState(w http.ResponseWriter, state, nonce string) error {
	exp := m.now().Add(stateTTL)
	encoded, err := m.codec.Encode(stateCookieName, stateValue{State: state, Nonce: nonce, Exp: exp.Unix()})
	if err != nil {
		return err
	}
	m.set(w, stateCookieName, encoded, exp)
	return nil
}

// ConsumeState returns the stored nonce when state matches, and clears the cookie either way.
func (m *SessionManager) ConsumeState(w http.ResponseWriter, r *http.Request, state string) (string, bool) {
	c, err := r.Cookie(stateCookieName)
	if err != nil {
		return "", false
	}
	m.set(w, stateCookieName, "", time.Unix(0, 0))

	var value stateValue
	if err := m.codec.Decode(stateCookieName, c.Value, &value); err != nil {
		return "", false
	}
	if state == "" || value.State != state || time.Unix(value.Exp, 0).Before(m.now()) {
		return "", false
	}
	return value.Nonce, true
}

func (m *SessionManager) set(w http.ResponseWriter, name, value string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
