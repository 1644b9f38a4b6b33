package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"

	"github.com/jw6ventures/planner/internal/auth"
	"github.com/jw6ventures/planner/internal/config"
	httperrors "github.com/jw6ventures/planner/internal/http/errors"
)

type contextKey struct{}

const (
	cookieName = "planner_csrf"
	// HeaderName carries the token on requests and echoes it on responses,
	// since the cookie itself is not readable by scripts.
	HeaderName = "X-CSRF-Token"
)

// Middleware issues a CSRF token cookie and validates it on mutating requests.
// Requests authenticated by the trusted upstream header carry no cookie and are exempt.
func Middleware(cfg *config.Config) func(http.Handler) http.Handler {
	secure := true
	if base, err := url.Parse(cfg.BaseURL); err == nil && base.Scheme != "https" {
		secure = false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.IsHeaderAuth(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}

			token := ""
			if c, err := r.Cookie(cookieName); err == nil {
				token = c.Value
			}
			if token == "" {
				var err error
				token, err = generateToken()
				if err != nil {
					httperrors.InternalError(w, r, err, "issue csrf token")
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     cookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			w.Header().Set(HeaderName, token)

			if isStateChanging(r.Method) {
				provided := r.Header.Get(HeaderName)
				if provided == "" {
					provided = r.URL.Query().Get("_csrf")
				}
				if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
					httperrors.Write(w, http.StatusForbidden, "invalid csrf token")
					return
				}
			}

			ctx := context.WithValue(r.Context(), contextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromContext returns the CSRF token associated with the request.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
