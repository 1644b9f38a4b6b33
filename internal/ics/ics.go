// Package ics converts calendar documents to and from iCalendar.
package ics

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/jw6ventures/planner/internal/remote"
	"github.com/jw6ventures/planner/internal/store"
)

// MaxImportEvents caps how many VEVENTs one import may add.
const MaxImportEvents = 2000

var ErrTooManyEvents = fmt.Errorf("ics: more than %d events", MaxImportEvents)

// Export renders events as timed VEVENTs and ranges as all-day VEVENTs with an exclusive end.
func Export(doc *store.Document, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//jw6ventures//planner//EN")

	for _, ev := range doc.Events {
		vev := cal.AddEvent(ev.ID)
		vev.SetDtStampTime(now)
		if !ev.CreatedAt.IsZero() {
			vev.SetCreatedTime(ev.CreatedAt)
		}
		vev.SetStartAt(ev.Start)
		vev.SetEndAt(ev.End)
		vev.SetSummary(ev.Title)
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
		if len(ev.Tags) > 0 {
			vev.SetProperty(ical.ComponentPropertyCategories, strings.Join(ev.Tags, ","))
		}
	}

	for _, r := range doc.Ranges {
		start, end := r.Normalized()
		vev := cal.AddEvent(r.ID)
		vev.SetDtStampTime(now)
		vev.SetAllDayStartAt(start)
		vev.SetAllDayEndAt(end.AddDate(0, 0, 1))
		vev.SetSummary(remote.RangePayload(r).Summary)
	}

	return cal.Serialize()
}

// Import parses VEVENTs into new local events. Unparseable events are skipped.
func Import(r io.Reader, newID func() string, now time.Time) ([]store.Event, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}
	vevents := cal.Events()
	if len(vevents) > MaxImportEvents {
		return nil, ErrTooManyEvents
	}

	events := make([]store.Event, 0, len(vevents))
	for _, ve := range vevents {
		ev, err := toEvent(ve)
		if err != nil {
			slog.Warn("skipping unparseable VEVENT", "uid", ve.Id(), "error", err)
			continue
		}
		ev.ID = newID()
		ev.CreatedAt = now
		events = append(events, ev)
	}
	return events, nil
}

func toEvent(ve *ical.VEvent) (store.Event, error) {
	start, err := ve.GetStartAt()
	if err != nil {
		return store.Event{}, err
	}
	if start.IsZero() {
		return store.Event{}, errors.New("missing DTSTART")
	}
	end, err := ve.GetEndAt()
	if err != nil || end.Before(start) {
		end = start
	}

	ev := store.Event{
		Start:  start,
		End:    end,
		Color:  store.ColorDefault,
		Origin: store.OriginLocal,
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyCategories); p != nil {
		for _, tag := range strings.Split(p.Value, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				ev.Tags = append(ev.Tags, tag)
			}
		}
	}
	return ev, nil
}
