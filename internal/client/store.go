// Package client holds a browser session's optimistic view of one calendar
// document and coalesces edits into debounced full-document saves.
package client

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jw6ventures/planner/internal/store"
)

const (
	DefaultDebounce  = time.Second
	DefaultUndoDepth = 20
)

var (
	ErrClosed        = errors.New("client: store closed")
	ErrLoading       = errors.New("client: load already in progress")
	ErrUnknownID     = errors.New("client: no record with that id")
	ErrReadOnly      = errors.New("client: event mirrors the remote calendar and cannot be edited")
	ErrNothingToUndo = errors.New("client: nothing to undo")
)

// State is the session lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateSynced
	StateDirty
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	case StateDirty:
		return "dirty"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Snapshot is the full document exchanged with the server.
type Snapshot struct {
	Events []store.Event `json:"events"`
	Ranges []store.Range `json:"ranges"`
}

// Transport loads and saves whole documents. Sync runs a server-side pull
// from the remote calendar and returns the resulting document.
type Transport interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) (Snapshot, error)
	Sync(ctx context.Context) (Snapshot, error)
}

type Option func(*Store)

func WithDebounce(d time.Duration) Option { return func(s *Store) { s.debounce = d } }

func WithUndoDepth(n int) Option { return func(s *Store) { s.undoDepth = n } }

func WithIDGenerator(f func() string) Option { return func(s *Store) { s.newID = f } }

func WithClock(f func() time.Time) Option { return func(s *Store) { s.now = f } }

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// Store is safe for concurrent use, though a UI normally drives it from one goroutine.
//
// Saves are only scheduled once the initial load has succeeded. Until then
// edits stay in memory, so an empty session never overwrites the server copy.
type Store struct {
	transport Transport
	debounce  time.Duration
	undoDepth int
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	state         State
	initialSynced bool
	gen           uint64
	timer         *time.Timer
	events        []store.Event
	ranges        []store.Range
	draftStart    *time.Time
	eventUndo     [][]store.Event
	rangeUndo     [][]store.Range
}

func New(t Transport, opts ...Option) *Store {
	s := &Store{
		transport: t,
		debounce:  DefaultDebounce,
		undoDepth: DefaultUndoDepth,
		newID:     uuid.NewString,
		now:       time.Now,
		logger:    slog.Default(),
		events:    []store.Event{},
		ranges:    []store.Range{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.undoDepth <= 0 {
		s.undoDepth = DefaultUndoDepth
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Load fetches the server document and replaces the in-memory state with it.
// On failure the session keeps its local state and saves stay disabled until Reload succeeds.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateLoading:
		s.mu.Unlock()
		return ErrLoading
	}
	s.state = StateLoading
	s.mu.Unlock()

	snap, err := s.transport.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	if err != nil {
		s.state = StateUninitialized
		s.logger.Warn("calendar load failed; continuing with local state", "error", err)
		return err
	}
	s.events = store.CloneEvents(snap.Events)
	s.ranges = store.CloneRanges(snap.Ranges)
	s.gen++
	s.state = StateSynced
	s.initialSynced = true
	return nil
}

// Reload retries a failed initial load. It is a no-op once the session has synced.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	synced := s.initialSynced
	s.mu.Unlock()
	if synced {
		return nil
	}
	return s.Load(ctx)
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InitialSynced reports whether a load has completed, which arms saving.
func (s *Store) InitialSynced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialSynced
}

// PendingSave reports whether a debounced save is waiting to fire.
func (s *Store) PendingSave() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateDirty
}

func (s *Store) Events() []store.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.CloneEvents(s.events)
}

func (s *Store) Ranges() []store.Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.CloneRanges(s.ranges)
}

// AddEvent inserts ev, generating an id and createdAt when missing.
func (s *Store) AddEvent(ev store.Event) (store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return store.Event{}, ErrClosed
	}
	if ev.ID == "" {
		ev.ID = s.newID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now().UTC()
	}
	if !ev.Color.Valid() {
		ev.Color = store.ColorDefault
	}
	ev.Origin = store.OriginLocal
	ev.RemoteEventID, ev.RemoteCalendarID, ev.SyncedHash = "", "", ""
	s.events = append(s.events, ev)
	s.mutatedLocked()
	return ev, nil
}

// UpdateEvent replaces the editable fields of the event with ev.ID.
func (s *Store) UpdateEvent(ev store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	i := slices.IndexFunc(s.events, func(e store.Event) bool { return e.ID == ev.ID })
	if i < 0 {
		return ErrUnknownID
	}
	cur := &s.events[i]
	if cur.ReadOnly() {
		return ErrReadOnly
	}
	if !ev.Color.Valid() {
		ev.Color = store.ColorDefault
	}
	cur.Start, cur.End = ev.Start, ev.End
	cur.Title, cur.Color = ev.Title, ev.Color
	cur.Description = ev.Description
	cur.Tags = slices.Clone(ev.Tags)
	s.mutatedLocked()
	return nil
}

// DeleteEvent removes an event after snapshotting the collection for undo.
// Mirrors of remote events can only be removed in the remote calendar.
func (s *Store) DeleteEvent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	i := slices.IndexFunc(s.events, func(e store.Event) bool { return e.ID == id })
	if i < 0 {
		return ErrUnknownID
	}
	if s.events[i].ReadOnly() {
		return ErrReadOnly
	}
	s.eventUndo = pushCapped(s.eventUndo, store.CloneEvents(s.events), s.undoDepth)
	s.events = slices.Delete(s.events, i, i+1)
	s.mutatedLocked()
	return nil
}

// UndoEventDelete restores the collection as it was before the last deletion.
func (s *Store) UndoEventDelete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	n := len(s.eventUndo)
	if n == 0 {
		return ErrNothingToUndo
	}
	s.events = s.eventUndo[n-1]
	s.eventUndo = s.eventUndo[:n-1]
	s.mutatedLocked()
	return nil
}

// AddRange creates a range with the next palette color after the highest in use.
func (s *Store) AddRange(start, end time.Time, label string) (store.Range, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return store.Range{}, ErrClosed
	}
	return s.addRangeLocked(start, end, label), nil
}

func (s *Store) addRangeLocked(start, end time.Time, label string) store.Range {
	idx := nextColorIndex(s.ranges)
	r := store.Range{ID: s.newID(), Start: start, End: end, Label: label, ColorIndex: &idx}
	s.ranges = append(s.ranges, r)
	s.mutatedLocked()
	return store.CloneRanges([]store.Range{r})[0]
}

func (s *Store) RenameRange(id, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	i := slices.IndexFunc(s.ranges, func(r store.Range) bool { return r.ID == id })
	if i < 0 {
		return ErrUnknownID
	}
	s.ranges[i].Label = label
	s.mutatedLocked()
	return nil
}

func (s *Store) DeleteRange(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	i := slices.IndexFunc(s.ranges, func(r store.Range) bool { return r.ID == id })
	if i < 0 {
		return ErrUnknownID
	}
	s.rangeUndo = pushCapped(s.rangeUndo, store.CloneRanges(s.ranges), s.undoDepth)
	s.ranges = slices.Delete(s.ranges, i, i+1)
	s.mutatedLocked()
	return nil
}

func (s *Store) UndoRangeDelete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	n := len(s.rangeUndo)
	if n == 0 {
		return ErrNothingToUndo
	}
	s.ranges = s.rangeUndo[n-1]
	s.rangeUndo = s.rangeUndo[:n-1]
	s.mutatedLocked()
	return nil
}

// PickRangeEndpoint records the first endpoint of a draft range; the second
// pick creates the range. Endpoints may be picked in either order.
func (s *Store) PickRangeEndpoint(day time.Time) (*store.Range, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, ErrClosed
	}
	if s.draftStart == nil {
		s.draftStart = &day
		return nil, nil
	}
	start := *s.draftStart
	s.draftStart = nil
	r := s.addRangeLocked(start, day, "")
	return &r, nil
}

func (s *Store) CancelDraft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draftStart = nil
}

func (s *Store) DraftStart() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draftStart == nil {
		return time.Time{}, false
	}
	return *s.draftStart, true
}

// Flush saves a pending change immediately. Unlike a debounced save, a
// failure is returned and the change stays pending.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDirty {
		s.mu.Unlock()
		return nil
	}
	snap := s.beginSaveLocked()
	gen := s.gen
	s.mu.Unlock()

	resp, err := s.transport.Save(ctx, snap)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return err
	}
	if err != nil {
		if s.state == StateSynced && gen == s.gen {
			s.state = StateDirty
		}
		return err
	}
	s.mergeLocked(resp)
	return nil
}

// Sync saves pending edits, has the server pull from the remote calendar and
// replaces the session's collections with the result. Applying the result
// never schedules a save. Edits made while the request runs are kept, and
// only correlation and mirrors are taken from the result.
func (s *Store) Sync(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateLoading:
		s.mu.Unlock()
		return ErrLoading
	}
	gen := s.gen
	s.mu.Unlock()

	snap, err := s.transport.Sync(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	if err != nil {
		return err
	}
	if gen != s.gen || s.state == StateLoading {
		s.mergeLocked(snap)
		return nil
	}
	s.events = store.CloneEvents(snap.Events)
	s.ranges = store.CloneRanges(snap.Ranges)
	s.gen++
	s.state = StateSynced
	s.initialSynced = true
	return nil
}

// Close cancels any pending save and in-flight request, then waits for them to return.
func (s *Store) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// mutatedLocked moves Synced to Dirty and (re)starts the debounce timer.
func (s *Store) mutatedLocked() {
	s.gen++
	if !s.initialSynced || s.state == StateLoading {
		return
	}
	s.state = StateDirty
	if s.timer != nil {
		s.timer.Stop()
	}
	gen := s.gen
	s.timer = time.AfterFunc(s.debounce, func() { s.fire(gen) })
}

func (s *Store) fire(gen uint64) {
	s.mu.Lock()
	if s.state != StateDirty || gen != s.gen {
		s.mu.Unlock()
		return
	}
	snap := s.beginSaveLocked()
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	resp, err := s.transport.Save(s.ctx, snap)
	if err != nil {
		// Swallowed: the next edit saves the whole document again.
		s.logger.Warn("background calendar save failed", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.mergeLocked(resp)
	}
}

func (s *Store) beginSaveLocked() Snapshot {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateSynced
	return Snapshot{Events: store.CloneEvents(s.events), Ranges: store.CloneRanges(s.ranges)}
}

// mergeLocked copies server-assigned correlation onto matching local records.
// Mirrors belong to the server, so the session takes exactly the ones it holds.
// It never schedules a save, so a save response cannot echo into another save.
func (s *Store) mergeLocked(resp Snapshot) {
	events := make(map[string]store.Event, len(resp.Events))
	for _, e := range resp.Events {
		events[e.ID] = e
	}
	s.events = slices.DeleteFunc(s.events, func(e store.Event) bool {
		saved, ok := events[e.ID]
		return e.ReadOnly() && (!ok || !saved.ReadOnly())
	})
	local := make(map[string]struct{}, len(s.events))
	for i := range s.events {
		local[s.events[i].ID] = struct{}{}
		saved, ok := events[s.events[i].ID]
		switch {
		case !ok:
		case saved.ReadOnly():
			s.events[i] = store.CloneEvents([]store.Event{saved})[0]
		default:
			s.events[i].RemoteEventID = saved.RemoteEventID
			s.events[i].RemoteCalendarID = saved.RemoteCalendarID
			s.events[i].SyncedHash = saved.SyncedHash
		}
	}
	for _, e := range resp.Events {
		if _, ok := local[e.ID]; !ok && e.ReadOnly() {
			s.events = append(s.events, store.CloneEvents([]store.Event{e})[0])
		}
	}

	ranges := make(map[string]store.Range, len(resp.Ranges))
	for _, r := range resp.Ranges {
		ranges[r.ID] = r
	}
	for i := range s.ranges {
		saved, ok := ranges[s.ranges[i].ID]
		if !ok {
			continue
		}
		s.ranges[i].RemoteEventID = saved.RemoteEventID
		s.ranges[i].SyncedHash = saved.SyncedHash
		if s.ranges[i].ColorIndex == nil && saved.ColorIndex != nil {
			idx := *saved.ColorIndex
			s.ranges[i].ColorIndex = &idx
		}
	}
}

// nextColorIndex is one past the highest index in use, wrapping at the palette size.
func nextColorIndex(ranges []store.Range) int {
	highest := -1
	for _, r := range ranges {
		highest = max(highest, r.Color())
	}
	return (highest + 1) % store.RangePaletteSize
}

func pushCapped[T any](stack []T, v T, depth int) []T {
	stack = append(stack, v)
	if over := len(stack) - depth; over > 0 {
		stack = slices.Delete(stack, 0, over)
	}
	return stack
}
