package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"guardsched/internal/ics"
	appLog "guardsched/internal/log"
	"guardsched/internal/metrics"
	"guardsched/internal/model"
)

// Client is the part of the API client the store needs.
type Client interface {
	ListEvents(ctx context.Context, weekOf time.Time) ([]model.Event, error)
	AddEvent(ctx context.Context, in model.EventInput) error
	EditEvent(ctx context.Context, id int, in model.EventInput) error
	DeleteEvent(ctx context.Context, id int) error
}

// SyncRecorder receives the time of each successful week download.
// *session.Session implements it.
type SyncRecorder interface {
	MarkSynced(t time.Time) error
}

// Options configures a Store.
type Options struct {
	// Location is the display zone. If nil, time.Local is used.
	Location *time.Location
	// SundayFirst anchors weeks on Sunday instead of Monday.
	SundayFirst bool
	Sync        SyncRecorder
	Metrics     *metrics.Metrics
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Store is the view-model for the event calendar. It owns the events of a
// single loaded week, the selected-date cursor and the load state.
//
// State reads and writes go through mu. Mutating operations (add, update,
// delete, batch and recurring adds) are serialized through mutate, so a
// second mutation waits for the first one and its reload to finish.
type Store struct {
	client   Client
	loc      *time.Location
	firstDay time.Weekday
	sync     SyncRecorder
	metrics  *metrics.Metrics
	now      func() time.Time
	log      appLog.Logger

	mutate sync.Mutex

	mu          sync.RWMutex
	events      []model.Event
	selected    time.Time
	trackedWeek time.Time
	state       model.LoadState
	loadSeq     uint64
	listeners   []func()
}

func New(client Client, opts Options) *Store {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	first := time.Monday
	if opts.SundayFirst {
		first = time.Sunday
	}
	return &Store{
		client:   client,
		loc:      opts.Location,
		firstDay: first,
		sync:     opts.Sync,
		metrics:  opts.Metrics,
		now:      opts.Now,
		log:      appLog.With("component", "events"),
		events:   []model.Event{},
		selected: opts.Now().In(opts.Location),
	}
}

// OnChange registers fn to be called after every state change. fn runs on
// the goroutine that made the change and must not block.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.RLock()
	ls := append([]func(){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range ls {
		fn()
	}
}

func (s *Store) Location() *time.Location { return s.loc }

// WeekOf returns the week anchor of t in the store's zone.
func (s *Store) WeekOf(t time.Time) time.Time {
	return model.StartOfWeek(t.In(s.loc), s.firstDay)
}

func (s *Store) State() model.LoadState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Events returns a copy of the loaded week.
func (s *Store) Events() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Event(nil), s.events...)
}

// TrackedWeek is the anchor of the loaded week, zero before the first load.
func (s *Store) TrackedWeek() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackedWeek
}

func (s *Store) SelectedDate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

func (s *Store) setLoading() {
	s.mu.Lock()
	s.state.Loading = true
	s.mu.Unlock()
	s.notify()
}

func (s *Store) setError(err error) {
	s.mu.Lock()
	s.state = model.LoadState{Result: model.ResultError, Err: err, UpdatedAt: s.now()}
	s.mu.Unlock()
	s.notify()
}

// LoadEventsForWeek replaces the collection with the events of the week
// containing weekStart. On failure the collection is cleared, the state
// carries the error and the error is returned.
//
// When loads overlap, only the most recently issued one is applied.
func (s *Store) LoadEventsForWeek(ctx context.Context, weekStart time.Time) error {
	anchor := s.WeekOf(weekStart)

	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	s.trackedWeek = anchor
	s.state.Loading = true
	s.mu.Unlock()
	s.notify()

	events, err := s.client.ListEvents(ctx, anchor)

	s.mu.Lock()
	if seq != s.loadSeq {
		s.mu.Unlock()
		s.log.Debug("discarding stale week load", "week", model.FormatDay(anchor))
		return err
	}
	now := s.now()
	if err != nil {
		s.events = []model.Event{}
		s.state = model.LoadState{Result: model.ResultError, Err: err, UpdatedAt: now}
	} else {
		s.events = events
		s.state = model.LoadState{Result: model.ResultFor(len(events)), UpdatedAt: now}
	}
	result := s.state.Result
	s.mu.Unlock()

	s.metrics.ObserveReload("events", result.String(), len(events))
	if err != nil {
		s.log.Error("error loading events for week", err, "week", model.FormatDay(anchor))
	} else {
		s.log.Info("week loaded", "week", model.FormatDay(anchor), "count", len(events))
		if s.sync != nil {
			if serr := s.sync.MarkSynced(now); serr != nil {
				s.log.Error("failed to record sync time", serr)
			}
		}
	}
	s.notify()
	return err
}

// LoadWeekIfNeeded loads the week containing forDate unless it is already the
// tracked week. It reports whether a load was issued.
func (s *Store) LoadWeekIfNeeded(ctx context.Context, forDate time.Time) (bool, error) {
	anchor := s.WeekOf(forDate)

	s.mu.RLock()
	same := !s.trackedWeek.IsZero() && model.SameDay(s.trackedWeek, anchor)
	s.mu.RUnlock()
	if same {
		return false, nil
	}
	return true, s.LoadEventsForWeek(ctx, anchor)
}

// Refresh reloads the tracked week, or the selected date's week before the
// first load.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.RLock()
	target := s.trackedWeek
	if target.IsZero() {
		target = s.selected
	}
	s.mu.RUnlock()
	return s.LoadEventsForWeek(ctx, target)
}

// SetSelectedDate moves the cursor and loads its week if needed.
func (s *Store) SetSelectedDate(ctx context.Context, d time.Time) (bool, error) {
	s.mu.Lock()
	s.selected = d.In(s.loc)
	s.mu.Unlock()
	s.notify()
	return s.LoadWeekIfNeeded(ctx, d)
}

// Unit is the step size of date navigation.
type Unit int

const (
	Day Unit = iota
	Week
)

// Step moves the cursor n days or weeks (negative n goes back).
func (s *Store) Step(ctx context.Context, unit Unit, n int) (bool, error) {
	days := n
	if unit == Week {
		days = 7 * n
	}
	return s.SetSelectedDate(ctx, s.SelectedDate().AddDate(0, 0, days))
}

// GoToCurrentWeek moves the cursor to the anchor of the current week.
func (s *Store) GoToCurrentWeek(ctx context.Context) (bool, error) {
	return s.SetSelectedDate(ctx, s.WeekOf(s.now()))
}

// EventsForDay returns the loaded events starting on d's calendar day, in
// collection order.
func (s *Store) EventsForDay(d time.Time) []model.Event {
	day := d.In(s.loc)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Event, 0)
	for _, ev := range s.events {
		start, err := ev.Start(s.loc)
		if err != nil {
			continue
		}
		if model.SameDay(start, day) {
			out = append(out, ev)
		}
	}
	return out
}

// SortedEventsForDay is EventsForDay ordered by start time.
func (s *Store) SortedEventsForDay(d time.Time) []model.Event {
	out := s.EventsForDay(d)
	s.sortByStart(out)
	return out
}

func (s *Store) sortByStart(evs []model.Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		a, _ := evs[i].Start(s.loc)
		b, _ := evs[j].Start(s.loc)
		return a.Before(b)
	})
}

// GroupedByDay partitions the loaded events by the midnight of their start
// day. Each group is sorted by start time. Events whose date does not parse
// are reported by Unscheduled instead.
func (s *Store) GroupedByDay() map[time.Time][]model.Event {
	s.mu.RLock()
	groups := make(map[time.Time][]model.Event)
	for _, ev := range s.events {
		start, err := ev.Start(s.loc)
		if err != nil {
			continue
		}
		key := model.StartOfDay(start)
		groups[key] = append(groups[key], ev)
	}
	s.mu.RUnlock()

	for _, g := range groups {
		s.sortByStart(g)
	}
	return groups
}

// SortedDayKeys returns the distinct start days of the loaded events in
// ascending order.
func (s *Store) SortedDayKeys() []time.Time {
	groups := s.GroupedByDay()
	keys := make([]time.Time, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}

// Unscheduled returns loaded events whose date cannot be parsed.
func (s *Store) Unscheduled() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Event
	for _, ev := range s.events {
		if _, err := ev.Start(s.loc); err != nil {
			out = append(out, ev)
		}
	}
	return out
}

// reloadTarget is the date whose week is reloaded after a mutation: the
// event's own date, or now when it does not parse.
func (s *Store) reloadTarget(date string) time.Time {
	if t, err := model.ParseWireTime(date, s.loc); err == nil {
		return t
	}
	return s.now()
}

func (s *Store) mutateAndReload(ctx context.Context, action string, ev model.Event, call func(context.Context) error) error {
	s.mutate.Lock()
	defer s.mutate.Unlock()

	s.setLoading()
	if err := call(ctx); err != nil {
		s.log.Error("event "+action+" failed", err, "id", ev.ID)
		s.setError(err)
		return err
	}
	s.log.Info("event "+action+" succeeded", "id", ev.ID, "date", ev.Date)
	return s.LoadEventsForWeek(ctx, s.reloadTarget(ev.Date))
}

// AddEvent creates ev on the server and reloads the week containing its date.
// ev.ID is ignored.
func (s *Store) AddEvent(ctx context.Context, ev model.Event) error {
	return s.mutateAndReload(ctx, "add", ev, func(ctx context.Context) error {
		return s.client.AddEvent(ctx, ev.Input())
	})
}

// UpdateEvent sends ev's mutable fields and reloads the week containing
// its new date.
func (s *Store) UpdateEvent(ctx context.Context, ev model.Event) error {
	return s.mutateAndReload(ctx, "update", ev, func(ctx context.Context) error {
		return s.client.EditEvent(ctx, ev.ID, ev.Input())
	})
}

func (s *Store) DeleteEvent(ctx context.Context, ev model.Event) error {
	return s.mutateAndReload(ctx, "delete", ev, func(ctx context.Context) error {
		return s.client.DeleteEvent(ctx, ev.ID)
	})
}

// DeleteBatch deletes every event independently. There is no rollback: the
// returned error joins one entry per failed id, and the events that were
// deleted stay deleted. The tracked week is reloaded once at the end, or the
// first event's week when no week is tracked yet.
func (s *Store) DeleteBatch(ctx context.Context, evs []model.Event) error {
	if len(evs) == 0 {
		return nil
	}

	s.mutate.Lock()
	defer s.mutate.Unlock()

	target := s.TrackedWeek()
	if target.IsZero() {
		target = s.reloadTarget(evs[0].Date)
	}

	s.setLoading()
	var errs []error
	for _, ev := range evs {
		if err := s.client.DeleteEvent(ctx, ev.ID); err != nil {
			s.log.Error("batch delete failed for event", err, "id", ev.ID)
			errs = append(errs, fmt.Errorf("event %d: %w", ev.ID, err))
		}
	}

	reloadErr := s.LoadEventsForWeek(ctx, target)
	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.mu.Lock()
		s.state.Result = model.ResultError
		s.state.Err = err
		s.mu.Unlock()
		s.notify()
		return errors.Join(err, reloadErr)
	}
	return reloadErr
}

// AddRecurring creates one event per occurrence of rule (an RRULE value)
// starting at ev's date and ending at until. It stops at the first failed
// create and returns how many events were created.
func (s *Store) AddRecurring(ctx context.Context, ev model.Event, rule string, until time.Time, maxOccurrences int) (int, error) {
	inputs, truncated, err := ics.Expand(ev.Input(), rule, ics.ExpandConfig{
		Location:       s.loc,
		Until:          until,
		MaxOccurrences: maxOccurrences,
	})
	if err != nil {
		return 0, err
	}
	if truncated {
		s.log.Warn("recurring series truncated", "rule", rule, "cap", maxOccurrences)
	}
	return s.AddAll(ctx, inputs)
}

// AddAll creates each input in order, stopping at the first failure, then
// reloads the week of the first input. It returns the number created.
func (s *Store) AddAll(ctx context.Context, inputs []model.EventInput) (int, error) {
	if len(inputs) == 0 {
		return 0, nil
	}

	s.mutate.Lock()
	defer s.mutate.Unlock()

	s.setLoading()
	created := 0
	for _, in := range inputs {
		if err := s.client.AddEvent(ctx, in); err != nil {
			s.log.Error("event add failed", err, "date", in.Date, "created", created)
			var reloadErr error
			if created > 0 {
				reloadErr = s.LoadEventsForWeek(ctx, s.reloadTarget(inputs[0].Date))
			}
			s.setError(err)
			return created, errors.Join(err, reloadErr)
		}
		created++
	}
	s.log.Info("events added", "count", created)
	return created, s.LoadEventsForWeek(ctx, s.reloadTarget(inputs[0].Date))
}
