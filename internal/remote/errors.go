package remote

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Kind classifies remote failures by how callers must react to them.
type Kind int

const (
	// KindTransport covers network failures and cancelled contexts.
	KindTransport Kind = iota
	// KindRateLimited is the only kind that is retried.
	KindRateLimited
	// KindAuth means the stored credential is no longer usable.
	KindAuth
	// KindNotFound means the remote event is already gone.
	KindNotFound
	// KindPermanent covers every other rejection by the provider.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindPermanent:
		return "permanent"
	default:
		return "transport"
	}
}

// Error wraps a provider failure with the operation and its classification.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or KindTransport for unclassified errors.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindTransport
}

func IsAuth(err error) bool        { return err != nil && KindOf(err) == KindAuth }
func IsRateLimited(err error) bool { return err != nil && KindOf(err) == KindRateLimited }
func IsNotFound(err error) bool    { return err != nil && KindOf(err) == KindNotFound }

// classify converts an error returned by the Google client library.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return err
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &Error{Op: op, Kind: KindAuth, Err: err}
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &Error{Op: op, Kind: kindForStatus(gerr), Err: err}
	}

	return &Error{Op: op, Kind: KindTransport, Err: err}
}

func kindForStatus(gerr *googleapi.Error) Kind {
	switch gerr.Code {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusNotFound, http.StatusGone:
		return KindNotFound
	case http.StatusForbidden:
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded":
				return KindRateLimited
			}
		}
		return KindPermanent
	}
	if gerr.Code >= 500 {
		return KindTransport
	}
	return KindPermanent
}
