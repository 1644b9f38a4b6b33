package calsync

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jw6ventures/planner/internal/remote"
	"github.com/jw6ventures/planner/internal/store"
)

// Reconcile merges a full client submission into the owner's document, pushes
// the differences to the linked remote calendar and persists the result.
// Remote failures never fail the save; they are counted in the Outcome.
//
// Read-only mirrors belong to pull-sync. A submission that omits a stored
// mirror keeps it, and a mirror the document does not hold is dropped.
func (e *Engine) Reconcile(ctx context.Context, ownerID string, events []store.Event, ranges []store.Range) (*store.Document, Outcome, error) {
	prev, err := e.docs.GetOrCreate(ctx, ownerID)
	if err != nil {
		out := Outcome{Op: opReconcile}
		out.report(ctx, ownerID, time.Now(), err)
		return nil, out, fmt.Errorf("load calendar: %w", err)
	}
	return e.reconcile(ctx, opReconcile, ownerID, prev, keepMirrors(prev.Events, events), ranges)
}

// keepMirrors appends the stored read-only events missing from incoming.
func keepMirrors(prev, incoming []store.Event) []store.Event {
	seen := make(map[string]struct{}, len(incoming))
	for _, ev := range incoming {
		seen[ev.ID] = struct{}{}
	}
	out := slices.Clip(incoming)
	for _, old := range prev {
		if _, ok := seen[old.ID]; !ok && old.ReadOnly() {
			out = append(out, old)
		}
	}
	return out
}

func (e *Engine) reconcile(ctx context.Context, op, ownerID string, prev *store.Document, events []store.Event, ranges []store.Range) (doc *store.Document, out Outcome, err error) {
	started := time.Now()
	out = Outcome{Op: op}
	defer func() { out.report(ctx, ownerID, started, err) }()

	events = correlateEvents(prev.Events, events, e.opts.Now())
	ranges = correlateRanges(prev.Ranges, ranges)
	assignColorIndexes(ranges)

	binding, err := e.bind(ctx, ownerID, &out)
	if err != nil {
		return nil, out, err
	}
	if binding != nil {
		rctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		p := &pusher{client: binding.Client, calendarID: binding.CalendarID, out: &out}
		p.deleteMissing(rctx, prev, events, ranges)
		p.upsertEvents(rctx, events)
		p.upsertRanges(rctx, ranges)
		cancel()
		if p.authErr != nil {
			e.unlink(ctx, ownerID, p.authErr, &out)
		}
	}

	doc, err = e.docs.Replace(ctx, store.Document{OwnerID: ownerID, Events: events, Ranges: ranges})
	if err != nil {
		return nil, out, fmt.Errorf("persist calendar: %w", err)
	}
	return doc, out, nil
}

// correlateEvents copies correlation state from the persisted record with the
// same id. Client-supplied remote ids survive only when nothing is persisted
// yet. Unknown mirrors are dropped since only pull-sync creates them.
func correlateEvents(prev, incoming []store.Event, now time.Time) []store.Event {
	byID := make(map[string]store.Event, len(prev))
	for _, ev := range prev {
		byID[ev.ID] = ev
	}
	out := store.CloneEvents(incoming)
	out = slices.DeleteFunc(out, func(ev store.Event) bool {
		_, ok := byID[ev.ID]
		return !ok && ev.ReadOnly()
	})
	for i := range out {
		ev := &out[i]
		if !ev.Color.Valid() {
			ev.Color = store.ColorDefault
		}
		old, ok := byID[ev.ID]
		if !ok {
			ev.SyncedHash = ""
			ev.Origin = store.OriginLocal
			if ev.CreatedAt.IsZero() {
				ev.CreatedAt = now
			}
			continue
		}
		if old.RemoteEventID != "" {
			ev.RemoteEventID = old.RemoteEventID
			ev.RemoteCalendarID = old.RemoteCalendarID
		}
		ev.SyncedHash = old.SyncedHash
		ev.Origin = old.Origin
		if ev.Origin == "" {
			ev.Origin = store.OriginLocal
		}
		if !old.CreatedAt.IsZero() {
			ev.CreatedAt = old.CreatedAt
		}
	}
	return out
}

func correlateRanges(prev, incoming []store.Range) []store.Range {
	byID := make(map[string]store.Range, len(prev))
	for _, r := range prev {
		byID[r.ID] = r
	}
	out := store.CloneRanges(incoming)
	for i := range out {
		r := &out[i]
		if r.ColorIndex != nil && (*r.ColorIndex < 0 || *r.ColorIndex >= store.RangePaletteSize) {
			r.ColorIndex = nil
		}
		old, ok := byID[r.ID]
		if !ok {
			r.SyncedHash = ""
			continue
		}
		if old.RemoteEventID != "" {
			r.RemoteEventID = old.RemoteEventID
		}
		r.SyncedHash = old.SyncedHash
		if r.ColorIndex == nil && old.ColorIndex != nil {
			idx := *old.ColorIndex
			r.ColorIndex = &idx
		}
	}
	return out
}

// assignColorIndexes gives ranges without a palette index the lowest unused
// one. Existing indexes are never changed.
func assignColorIndexes(ranges []store.Range) {
	used := make(map[int]bool, store.RangePaletteSize)
	for _, r := range ranges {
		if r.ColorIndex != nil {
			used[*r.ColorIndex] = true
		}
	}
	for i := range ranges {
		if ranges[i].ColorIndex != nil {
			continue
		}
		idx := lowestUnused(used)
		used[idx] = true
		ranges[i].ColorIndex = &idx
	}
}

func lowestUnused(used map[int]bool) int {
	for i := 0; i < store.RangePaletteSize; i++ {
		if !used[i] {
			return i
		}
	}
	// Palette exhausted: start another cycle.
	clear(used)
	return 0
}

// pusher issues remote calls for one invocation, one at a time.
type pusher struct {
	client     remote.Client
	calendarID string
	out        *Outcome

	authErr error
	stopped bool
}

// proceed reports whether another remote call may be issued.
func (p *pusher) proceed(ctx context.Context) bool {
	if p.stopped {
		return false
	}
	if ctx.Err() != nil {
		p.stopped = true
		p.out.Partial = true
		return false
	}
	return true
}

func (p *pusher) fail(ctx context.Context, err error) {
	p.out.Failed++
	switch {
	case remote.IsAuth(err):
		p.authErr = err
		p.stopped = true
	case ctx.Err() != nil:
		p.stopped = true
		p.out.Partial = true
	}
}

func (p *pusher) deleteMissing(ctx context.Context, prev *store.Document, events []store.Event, ranges []store.Range) {
	keepEvents := make(map[string]struct{}, len(events))
	for _, ev := range events {
		keepEvents[ev.ID] = struct{}{}
	}
	for _, old := range prev.Events {
		if _, ok := keepEvents[old.ID]; ok || old.RemoteEventID == "" || old.ReadOnly() {
			continue
		}
		p.delete(ctx, old.RemoteEventID)
	}

	keepRanges := make(map[string]struct{}, len(ranges))
	for _, r := range ranges {
		keepRanges[r.ID] = struct{}{}
	}
	for _, old := range prev.Ranges {
		if _, ok := keepRanges[old.ID]; ok || old.RemoteEventID == "" {
			continue
		}
		p.delete(ctx, old.RemoteEventID)
	}
}

func (p *pusher) delete(ctx context.Context, remoteID string) {
	if !p.proceed(ctx) {
		return
	}
	err := p.client.Delete(ctx, remoteID)
	if err == nil || remote.IsNotFound(err) {
		p.out.Deleted++
		return
	}
	p.fail(ctx, err)
}

func (p *pusher) upsertEvents(ctx context.Context, events []store.Event) {
	for i := range events {
		ev := &events[i]
		if ev.ReadOnly() {
			p.out.Skipped++
			continue
		}
		payload := remote.EventPayload(*ev)
		id, hash, ok := p.push(ctx, ev.RemoteEventID, ev.SyncedHash, payload)
		if !ok {
			continue
		}
		if id != ev.RemoteEventID {
			ev.RemoteCalendarID = p.calendarID
		}
		ev.RemoteEventID = id
		ev.SyncedHash = hash
	}
}

func (p *pusher) upsertRanges(ctx context.Context, ranges []store.Range) {
	for i := range ranges {
		r := &ranges[i]
		id, hash, ok := p.push(ctx, r.RemoteEventID, r.SyncedHash, remote.RangePayload(*r))
		if !ok {
			continue
		}
		r.RemoteEventID = id
		r.SyncedHash = hash
	}
}

// push inserts or updates one record. It returns the remote id and payload
// fingerprint to store, and false when nothing should change locally.
//
// An update answered with not found means the remote copy is gone while the
// submission still holds the record, so it is inserted again under a new id.
func (p *pusher) push(ctx context.Context, remoteID, syncedHash string, payload remote.Payload) (string, string, bool) {
	hash := remote.Fingerprint(payload)
	if remoteID != "" && hash == syncedHash {
		p.out.Skipped++
		return "", "", false
	}
	if !p.proceed(ctx) {
		return "", "", false
	}
	if remoteID != "" {
		err := p.client.Update(ctx, remoteID, payload)
		if err == nil {
			p.out.Updated++
			return remoteID, hash, true
		}
		if !remote.IsNotFound(err) {
			p.fail(ctx, err)
			return "", "", false
		}
		p.out.Recreated++
		if !p.proceed(ctx) {
			return "", "", false
		}
	}
	id, err := p.client.Insert(ctx, payload)
	if err != nil {
		p.fail(ctx, err)
		return "", "", false
	}
	p.out.Created++
	return id, hash, true
}
