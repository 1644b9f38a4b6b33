package store

import (
	"encoding/json"
	"time"
)

// Color is the display color of an event.
type Color string

const (
	ColorDefault Color = "default"
	ColorBlue    Color = "blue"
	ColorGreen   Color = "green"
	ColorPink    Color = "pink"
	ColorPurple  Color = "purple"
)

// Valid reports whether c is one of the known colors.
func (c Color) Valid() bool {
	switch c {
	case ColorDefault, ColorBlue, ColorGreen, ColorPink, ColorPurple:
		return true
	}
	return false
}

// Origin records where an event was first created.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// RangePaletteSize is the number of distinct range colors.
const RangePaletteSize = 8

// Event is a single timed calendar entry owned by one user.
type Event struct {
	ID          string    `json:"id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Title       string    `json:"title"`
	Color       Color     `json:"color"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Creator     string    `json:"creator,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Origin      Origin    `json:"origin,omitempty"`

	RemoteEventID    string `json:"remoteEventId,omitempty"`
	RemoteCalendarID string `json:"remoteCalendarId,omitempty"`
	// SyncedHash fingerprints the payload the remote last accepted.
	SyncedHash string `json:"syncedHash,omitempty"`
}

// ReadOnly reports whether the event mirrors a remote event and must not be pushed back.
func (e Event) ReadOnly() bool {
	return e.Origin == OriginRemote
}

// Range is an inclusive multi-day span. Start and End may arrive in either order.
type Range struct {
	ID         string    `json:"id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Label      string    `json:"label,omitempty"`
	ColorIndex *int      `json:"colorIndex,omitempty"`

	RemoteEventID string `json:"remoteEventId,omitempty"`
	SyncedHash    string `json:"syncedHash,omitempty"`
}

// Normalized returns the range endpoints ordered (min, max).
func (r Range) Normalized() (time.Time, time.Time) {
	if r.End.Before(r.Start) {
		return r.End, r.Start
	}
	return r.Start, r.End
}

// SpanDays returns the number of calendar days covered, counting both endpoints.
func (r Range) SpanDays() int {
	start, end := r.Normalized()
	return int(civilDate(end).Sub(civilDate(start))/(24*time.Hour)) + 1
}

// Color returns the palette index, or -1 when none has been assigned.
func (r Range) Color() int {
	if r.ColorIndex == nil {
		return -1
	}
	return *r.ColorIndex
}

// civilDate maps t to midnight UTC of its calendar date in t's own location.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Document is the persisted per-owner calendar state.
type Document struct {
	OwnerID   string    `json:"ownerId"`
	Events    []Event   `json:"events"`
	Ranges    []Range   `json:"ranges"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// NewDocument returns an empty document for ownerID.
func NewDocument(ownerID string) *Document {
	return &Document{OwnerID: ownerID, Events: []Event{}, Ranges: []Range{}}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{OwnerID: d.OwnerID, UpdatedAt: d.UpdatedAt}
	out.Events = CloneEvents(d.Events)
	out.Ranges = CloneRanges(d.Ranges)
	return out
}

// CloneEvents deep-copies a slice of events. The result is never nil.
func CloneEvents(in []Event) []Event {
	out := make([]Event, len(in))
	copy(out, in)
	for i := range out {
		if in[i].Tags != nil {
			out[i].Tags = append([]string(nil), in[i].Tags...)
		}
	}
	return out
}

// CloneRanges deep-copies a slice of ranges. The result is never nil.
func CloneRanges(in []Range) []Range {
	out := make([]Range, len(in))
	copy(out, in)
	for i := range out {
		if in[i].ColorIndex != nil {
			idx := *in[i].ColorIndex
			out[i].ColorIndex = &idx
		}
	}
	return out
}

// RemoteCredential links an owner to a remote calendar account.
type RemoteCredential struct {
	OwnerID      string
	Provider     string
	CalendarID   string
	AccountEmail string
	// Token holds the sealed OAuth token; only internal/secrets can open it.
	Token     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

func encodeEvents(events []Event) ([]byte, error) {
	if events == nil {
		events = []Event{}
	}
	return json.Marshal(events)
}

func encodeRanges(ranges []Range) ([]byte, error) {
	if ranges == nil {
		ranges = []Range{}
	}
	return json.Marshal(ranges)
}

func decodeEvents(data []byte) ([]Event, error) {
	events := []Event{}
	if len(data) == 0 {
		return events, nil
	}
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

func decodeRanges(data []byte) ([]Range, error) {
	ranges := []Range{}
	if len(data) == 0 {
		return ranges, nil
	}
	if err := json.Unmarshal(data, &ranges); err != nil {
		return nil, err
	}
	if ranges == nil {
		ranges = []Range{}
	}
	return ranges, nil
}
