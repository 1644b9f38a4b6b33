package remote

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleClient implements Client against one Google calendar.
type GoogleClient struct {
	svc        *calendar.Service
	calendarID string
}

// NewGoogleClient builds a calendar service from opts, typically option.WithTokenSource.
func NewGoogleClient(ctx context.Context, calendarID string, opts ...option.ClientOption) (*GoogleClient, error) {
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleClient{svc: svc, calendarID: calendarID}, nil
}

func (g *GoogleClient) List(ctx context.Context, from, to time.Time) ([]Summary, error) {
	var out []Summary
	call := g.svc.Events.List(g.calendarID).
		TimeMin(from.UTC().Format(time.RFC3339)).
		TimeMax(to.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(false).
		MaxResults(250)
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			out = append(out, toSummary(item))
		}
		return nil
	})
	if err != nil {
		return nil, classify("list", err)
	}
	return out, nil
}

func (g *GoogleClient) Insert(ctx context.Context, p Payload) (string, error) {
	created, err := g.svc.Events.Insert(g.calendarID, toGoogleEvent(p)).Context(ctx).Do()
	if err != nil {
		return "", classify("insert", err)
	}
	return created.Id, nil
}

func (g *GoogleClient) Update(ctx context.Context, remoteID string, p Payload) error {
	if _, err := g.svc.Events.Update(g.calendarID, remoteID, toGoogleEvent(p)).Context(ctx).Do(); err != nil {
		return classify("update", err)
	}
	return nil
}

func (g *GoogleClient) Delete(ctx context.Context, remoteID string) error {
	if err := g.svc.Events.Delete(g.calendarID, remoteID).Context(ctx).Do(); err != nil {
		return classify("delete", err)
	}
	return nil
}

func toGoogleEvent(p Payload) *calendar.Event {
	ev := &calendar.Event{
		Summary:     p.Summary,
		Description: p.Description,
		ColorId:     p.ColorID,
	}
	if p.AllDay {
		ev.Start = &calendar.EventDateTime{Date: p.StartDate}
		ev.End = &calendar.EventDateTime{Date: p.EndDate}
	} else {
		ev.Start = &calendar.EventDateTime{DateTime: p.Start.Format(time.RFC3339)}
		ev.End = &calendar.EventDateTime{DateTime: p.End.Format(time.RFC3339)}
	}
	return ev
}

func toSummary(item *calendar.Event) Summary {
	s := Summary{ID: item.Id, Title: item.Summary, Description: item.Description}
	s.Start, s.AllDay = parseEventTime(item.Start)
	s.End, _ = parseEventTime(item.End)
	return s
}

func parseEventTime(dt *calendar.EventDateTime) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t, false
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse(dateLayout, dt.Date); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
