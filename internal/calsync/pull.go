package calsync

import (
	"context"
	"fmt"
	"time"

	"github.com/jw6ventures/planner/internal/logging"
	"github.com/jw6ventures/planner/internal/remote"
	"github.com/jw6ventures/planner/internal/store"
)

// PullSync lists the remote window around now, drops local records whose
// remote counterpart disappeared, refreshes read-only mirrors and imports
// unknown remote events. Owners without a linked calendar get their document back unchanged.
func (e *Engine) PullSync(ctx context.Context, ownerID string) (doc *store.Document, out Outcome, err error) {
	started := time.Now()
	out = Outcome{Op: opPull}
	defer func() { out.report(ctx, ownerID, started, err) }()

	doc, err = e.docs.GetOrCreate(ctx, ownerID)
	if err != nil {
		return nil, out, fmt.Errorf("load calendar: %w", err)
	}
	binding, err := e.bind(ctx, ownerID, &out)
	if err != nil {
		return nil, out, err
	}
	if binding == nil {
		return doc, out, nil
	}

	now := e.opts.Now()
	from, to := now.Add(-e.opts.Window), now.Add(e.opts.Window)

	rctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	summaries, listErr := binding.Client.List(rctx, from, to)
	cancel()
	if listErr != nil {
		out.Failed++
		if remote.IsAuth(listErr) {
			e.unlink(ctx, ownerID, listErr, &out)
		} else {
			out.Partial = true
			logging.FromContext(ctx).Warn("remote list failed; keeping local calendar", "owner", ownerID, "error", listErr)
		}
		return doc, out, nil
	}

	present := make(map[string]remote.Summary, len(summaries))
	for _, s := range summaries {
		present[s.ID] = s
	}

	changed := false
	events := make([]store.Event, 0, len(doc.Events))
	for _, ev := range doc.Events {
		if ev.RemoteEventID == "" || !overlaps(ev.Start, ev.End, from, to) {
			events = append(events, ev)
			continue
		}
		s, ok := present[ev.RemoteEventID]
		if !ok {
			out.Pruned++
			changed = true
			continue
		}
		if ev.ReadOnly() && refreshMirror(&ev, s) {
			changed = true
		}
		events = append(events, ev)
	}

	ranges := make([]store.Range, 0, len(doc.Ranges))
	for _, r := range doc.Ranges {
		if e.opts.PruneRanges && r.RemoteEventID != "" {
			start, end := r.Normalized()
			if overlaps(start, end.AddDate(0, 0, 1), from, to) {
				if _, ok := present[r.RemoteEventID]; !ok {
					out.Pruned++
					changed = true
					continue
				}
			}
		}
		ranges = append(ranges, r)
	}

	if e.opts.ImportRemote {
		known := make(map[string]struct{}, len(doc.Events)+len(doc.Ranges))
		for _, ev := range doc.Events {
			known[ev.RemoteEventID] = struct{}{}
		}
		for _, r := range doc.Ranges {
			known[r.RemoteEventID] = struct{}{}
		}
		for _, s := range summaries {
			if _, ok := known[s.ID]; ok || s.ID == "" {
				continue
			}
			known[s.ID] = struct{}{}
			events = append(events, store.Event{
				ID:               e.opts.NewID(),
				Start:            s.Start,
				End:              s.End,
				Title:            s.Title,
				Description:      s.Description,
				Color:            store.ColorDefault,
				CreatedAt:        now,
				Origin:           store.OriginRemote,
				RemoteEventID:    s.ID,
				RemoteCalendarID: binding.CalendarID,
			})
			out.Imported++
			changed = true
		}
	}

	if !changed {
		return doc, out, nil
	}
	doc, err = e.docs.Replace(ctx, store.Document{OwnerID: ownerID, Events: events, Ranges: ranges})
	if err != nil {
		return nil, out, fmt.Errorf("persist calendar: %w", err)
	}
	return doc, out, nil
}

// overlaps reports whether [start, end) intersects [from, to). Records outside
// the listed window are never pruned since their absence proves nothing.
func overlaps(start, end, from, to time.Time) bool {
	if end.Before(start) {
		start, end = end, start
	}
	if end.Equal(start) {
		end = end.Add(time.Nanosecond)
	}
	return end.After(from) && start.Before(to)
}

func refreshMirror(ev *store.Event, s remote.Summary) bool {
	if ev.Title == s.Title && ev.Description == s.Description && ev.Start.Equal(s.Start) && ev.End.Equal(s.End) {
		return false
	}
	ev.Title = s.Title
	ev.Description = s.Description
	ev.Start = s.Start
	ev.End = s.End
	return true
}
