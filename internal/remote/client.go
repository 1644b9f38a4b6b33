// Package remote talks to the user's remote calendar. It knows nothing about local storage.
package remote

import (
	"context"
	"time"
)

// Payload is the provider-neutral body of an Insert or Update.
type Payload struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	ColorID     string `json:"colorId,omitempty"`

	// Timed events use Start and End.
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`

	// All-day events use dates formatted 2006-01-02; EndDate is exclusive.
	AllDay    bool   `json:"allDay,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// Summary is one remote event as returned by List.
type Summary struct {
	ID          string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// Client is the event CRUD surface of one remote calendar.
type Client interface {
	List(ctx context.Context, from, to time.Time) ([]Summary, error)
	Insert(ctx context.Context, p Payload) (string, error)
	Update(ctx context.Context, remoteID string, p Payload) error
	Delete(ctx context.Context, remoteID string) error
}

// Binding is a ready-to-use client for one owner's linked calendar.
type Binding struct {
	Client       Client
	CalendarID   string
	AccountEmail string
}
