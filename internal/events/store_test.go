package events

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"guardsched/internal/api"
	"guardsched/internal/apitest"
	"guardsched/internal/model"
)

var loc = time.UTC

// wednesday 2024-06-05 10:00; its week is anchored on Monday 06-03.
func fixedNow() time.Time { return time.Date(2024, time.June, 5, 10, 0, 0, 0, loc) }

func newFakeStore(t *testing.T) (*Store, *apitest.Server) {
	t.Helper()
	fake := apitest.New(t, loc)
	client := api.New(fake.URL, api.Options{Location: loc})
	return New(client, Options{Location: loc, Now: fixedNow}), fake
}

func wire(y int, m time.Month, d, h, min int) string {
	return model.FormatWireTime(time.Date(y, m, d, h, min, 0, 0, loc))
}

// stubClient serves canned weeks and records calls.
type stubClient struct {
	mu      sync.Mutex
	list    func(ctx context.Context, weekOf time.Time) ([]model.Event, error)
	weeks   []time.Time
	deleted []int
}

func (c *stubClient) ListEvents(ctx context.Context, weekOf time.Time) ([]model.Event, error) {
	c.mu.Lock()
	c.weeks = append(c.weeks, weekOf)
	c.mu.Unlock()
	return c.list(ctx, weekOf)
}

func (c *stubClient) AddEvent(context.Context, model.EventInput) error       { return nil }
func (c *stubClient) EditEvent(context.Context, int, model.EventInput) error { return nil }
func (c *stubClient) DeleteEvent(_ context.Context, id int) error {
	c.mu.Lock()
	c.deleted = append(c.deleted, id)
	c.mu.Unlock()
	return nil
}

func staticList(evs ...model.Event) func(context.Context, time.Time) ([]model.Event, error) {
	return func(context.Context, time.Time) ([]model.Event, error) {
		return append([]model.Event(nil), evs...), nil
	}
}

type syncRecorder struct{ times []time.Time }

func (r *syncRecorder) MarkSynced(t time.Time) error {
	r.times = append(r.times, t)
	return nil
}

func TestLoadEventsForWeek(t *testing.T) {
	rec := &syncRecorder{}
	client := &stubClient{list: staticList(
		model.Event{ID: 1, Date: wire(2024, 6, 4, 9, 0), Title: "a", Duration: 60_000},
	)}
	s := New(client, Options{Location: loc, Now: fixedNow, Sync: rec})

	if err := s.LoadEventsForWeek(context.Background(), fixedNow()); err != nil {
		t.Fatal(err)
	}
	if len(client.weeks) != 1 || !client.weeks[0].Equal(time.Date(2024, 6, 3, 0, 0, 0, 0, loc)) {
		t.Errorf("requested weeks = %v", client.weeks)
	}
	if got := s.TrackedWeek(); !got.Equal(time.Date(2024, 6, 3, 0, 0, 0, 0, loc)) {
		t.Errorf("tracked week = %v", got)
	}
	st := s.State()
	if st.Loading || st.Result != model.ResultOK || st.Err != nil {
		t.Errorf("state = %+v", st)
	}
	if len(rec.times) != 1 {
		t.Errorf("sync marks = %d, want 1", len(rec.times))
	}
}

func TestLoadFailureClearsCollection(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	client := &stubClient{list: func(context.Context, time.Time) ([]model.Event, error) {
		calls++
		if calls == 1 {
			return []model.Event{{ID: 1, Date: wire(2024, 6, 4, 9, 0)}}, nil
		}
		return nil, boom
	}}
	rec := &syncRecorder{}
	s := New(client, Options{Location: loc, Now: fixedNow, Sync: rec})
	ctx := context.Background()

	if err := s.LoadEventsForWeek(ctx, fixedNow()); err != nil {
		t.Fatal(err)
	}
	if err := s.LoadEventsForWeek(ctx, fixedNow()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if n := len(s.Events()); n != 0 {
		t.Errorf("events after failure = %d, want 0", n)
	}
	st := s.State()
	if st.Result != model.ResultError || !errors.Is(st.Err, boom) {
		t.Errorf("state = %+v", st)
	}
	if len(rec.times) != 1 {
		t.Errorf("failed load must not mark sync; marks = %d", len(rec.times))
	}
}

func TestEmptyWeekIsNotAnError(t *testing.T) {
	s := New(&stubClient{list: staticList()}, Options{Location: loc, Now: fixedNow})
	if err := s.LoadEventsForWeek(context.Background(), fixedNow()); err != nil {
		t.Fatal(err)
	}
	if st := s.State(); st.Result != model.ResultEmpty {
		t.Errorf("result = %s, want empty", st.Result)
	}
}

func TestLoadWeekIfNeeded(t *testing.T) {
	client := &stubClient{list: staticList()}
	s := New(client, Options{Location: loc, Now: fixedNow})
	ctx := context.Background()

	steps := []struct {
		date       time.Time
		wantIssued bool
		wantCalls  int
	}{
		{time.Date(2024, 6, 5, 0, 0, 0, 0, loc), true, 1},
		{time.Date(2024, 6, 7, 0, 0, 0, 0, loc), false, 1},
		{time.Date(2024, 6, 9, 23, 0, 0, 0, loc), false, 1},
		{time.Date(2024, 6, 10, 0, 0, 0, 0, loc), true, 2},
		{time.Date(2024, 6, 3, 0, 0, 0, 0, loc), true, 3},
	}
	for i, st := range steps {
		issued, err := s.LoadWeekIfNeeded(ctx, st.date)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if issued != st.wantIssued || len(client.weeks) != st.wantCalls {
			t.Errorf("step %d: issued=%v calls=%d, want %v/%d", i, issued, len(client.weeks), st.wantIssued, st.wantCalls)
		}
	}
}

func TestSundayFirstWeeks(t *testing.T) {
	client := &stubClient{list: staticList()}
	s := New(client, Options{Location: loc, Now: fixedNow, SundayFirst: true})
	if _, err := s.LoadWeekIfNeeded(context.Background(), fixedNow()); err != nil {
		t.Fatal(err)
	}
	if !client.weeks[0].Equal(time.Date(2024, 6, 2, 0, 0, 0, 0, loc)) {
		t.Errorf("week = %v, want sunday 06-02", client.weeks[0])
	}
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	old := []model.Event{{ID: 1, Date: wire(2024, 6, 4, 9, 0), Title: "old"}}
	fresh := []model.Event{{ID: 2, Date: wire(2024, 6, 11, 9, 0), Title: "fresh"}}

	client := &stubClient{list: func(_ context.Context, weekOf time.Time) ([]model.Event, error) {
		if weekOf.Day() == 3 {
			close(entered)
			<-release
			return old, nil
		}
		return fresh, nil
	}}
	s := New(client, Options{Location: loc, Now: fixedNow})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.LoadEventsForWeek(ctx, time.Date(2024, 6, 3, 0, 0, 0, 0, loc)) }()
	<-entered

	if err := s.LoadEventsForWeek(ctx, time.Date(2024, 6, 10, 0, 0, 0, 0, loc)); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	evs := s.Events()
	if len(evs) != 1 || evs[0].Title != "fresh" {
		t.Errorf("events = %+v, want the later load", evs)
	}
	if !s.TrackedWeek().Equal(time.Date(2024, 6, 10, 0, 0, 0, 0, loc)) {
		t.Errorf("tracked week = %v", s.TrackedWeek())
	}
}

func TestDayViews(t *testing.T) {
	client := &stubClient{list: staticList(
		model.Event{ID: 1, Date: wire(2024, 6, 5, 14, 0), Title: "afternoon"},
		model.Event{ID: 2, Date: wire(2024, 6, 4, 9, 0), Title: "tuesday"},
		model.Event{ID: 3, Date: wire(2024, 6, 5, 8, 0), Title: "morning"},
		model.Event{ID: 4, Date: "not-a-date", Title: "broken"},
		model.Event{ID: 5, Date: wire(2024, 6, 5, 23, 59), Title: "late"},
	)}
	s := New(client, Options{Location: loc, Now: fixedNow})
	if err := s.LoadEventsForWeek(context.Background(), fixedNow()); err != nil {
		t.Fatal(err)
	}

	wed := time.Date(2024, 6, 5, 12, 0, 0, 0, loc)
	if got := ids(s.EventsForDay(wed)); got != "1,3,5" {
		t.Errorf("EventsForDay = %s, want collection order 1,3,5", got)
	}
	if got := ids(s.SortedEventsForDay(wed)); got != "3,1,5" {
		t.Errorf("SortedEventsForDay = %s, want 3,1,5", got)
	}
	if got := s.EventsForDay(time.Date(2024, 6, 8, 0, 0, 0, 0, loc)); len(got) != 0 {
		t.Errorf("saturday = %+v, want none", got)
	}

	groups := s.GroupedByDay()
	keys := s.SortedDayKeys()
	if len(keys) != 2 || !keys[0].Equal(time.Date(2024, 6, 4, 0, 0, 0, 0, loc)) || !keys[1].Equal(time.Date(2024, 6, 5, 0, 0, 0, 0, loc)) {
		t.Fatalf("keys = %v", keys)
	}
	if got := ids(groups[keys[1]]); got != "3,1,5" {
		t.Errorf("wednesday group = %s", got)
	}

	total := len(s.Unscheduled())
	for _, g := range groups {
		total += len(g)
	}
	if total != len(s.Events()) {
		t.Errorf("groups + unscheduled = %d, want %d", total, len(s.Events()))
	}
	if un := s.Unscheduled(); len(un) != 1 || un[0].ID != 4 {
		t.Errorf("unscheduled = %+v", un)
	}
}

func TestStepAndCurrentWeek(t *testing.T) {
	client := &stubClient{list: staticList()}
	s := New(client, Options{Location: loc, Now: fixedNow})
	ctx := context.Background()

	if _, err := s.Step(ctx, Week, 1); err != nil {
		t.Fatal(err)
	}
	if got := s.SelectedDate(); !model.SameDay(got, time.Date(2024, 6, 12, 0, 0, 0, 0, loc)) {
		t.Errorf("selected = %v", got)
	}
	issued, err := s.Step(ctx, Day, -1)
	if err != nil || issued {
		t.Errorf("day step inside week: issued=%v err=%v", issued, err)
	}
	if _, err := s.GoToCurrentWeek(ctx); err != nil {
		t.Fatal(err)
	}
	if got := s.SelectedDate(); !got.Equal(time.Date(2024, 6, 3, 0, 0, 0, 0, loc)) {
		t.Errorf("selected = %v, want monday 06-03", got)
	}
	if len(client.weeks) != 2 {
		t.Errorf("loads = %d, want 2", len(client.weeks))
	}
}

func TestAddEventReloadsItsWeek(t *testing.T) {
	s, fake := newFakeStore(t)
	ctx := context.Background()

	ev := model.Event{Date: wire(2024, 6, 5, 9, 0), Title: "Patrol", Onsite: true, Duration: 900000}
	if err := s.AddEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	if n := fake.Count(http.MethodPost, "/api/events/"); n != 1 {
		t.Errorf("POST count = %d", n)
	}
	if n := fake.Count(http.MethodGet, "/api/events/weekof/06-03-2024"); n != 1 {
		t.Errorf("week reload count = %d", n)
	}
	reqs := fake.Requests()
	if !strings.Contains(string(reqs[0].Body), `"user_id":null`) {
		t.Errorf("body = %s, want user_id null", reqs[0].Body)
	}

	evs := s.Events()
	if len(evs) != 1 || evs[0].Title != "Patrol" || !evs[0].Onsite {
		t.Errorf("events = %+v", evs)
	}
}

func TestUpdateEventMovesToNewWeek(t *testing.T) {
	s, fake := newFakeStore(t)
	ctx := context.Background()
	fake.SeedEventWithID(model.Event{ID: 7, Date: wire(2024, 6, 5, 9, 0), Title: "x", Duration: 60000})

	if err := s.LoadEventsForWeek(ctx, fixedNow()); err != nil {
		t.Fatal(err)
	}
	ev := s.Events()[0]
	ev.Date = wire(2024, 6, 12, 9, 0)
	if err := s.UpdateEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if n := fake.Count(http.MethodGet, "/api/events/weekof/06-10-2024"); n != 1 {
		t.Errorf("reload of new week = %d", n)
	}
	if evs := s.Events(); len(evs) != 1 || evs[0].ID != 7 {
		t.Errorf("events = %+v", evs)
	}
}

func TestDeleteEvent(t *testing.T) {
	s, fake := newFakeStore(t)
	ctx := context.Background()
	fake.SeedEventWithID(model.Event{ID: 41, Date: wire(2024, 6, 4, 9, 0), Title: "a", Duration: 60000})
	fake.SeedEventWithID(model.Event{ID: 42, Date: wire(2024, 6, 5, 9, 0), Title: "b", Duration: 60000})
	fake.Fail(http.MethodDelete, "/api/events/41", http.StatusInternalServerError, "cannot delete")

	if err := s.LoadEventsForWeek(ctx, fixedNow()); err != nil {
		t.Fatal(err)
	}
	byID := map[int]model.Event{}
	for _, ev := range s.Events() {
		byID[ev.ID] = ev
	}

	if err := s.DeleteEvent(ctx, byID[42]); err != nil {
		t.Fatalf("delete 42: %v", err)
	}
	if got := ids(s.Events()); got != "41" {
		t.Errorf("after delete 42 events = %s", got)
	}

	err := s.DeleteEvent(ctx, byID[41])
	var se *api.ServerError
	if !errors.As(err, &se) || se.Message != "cannot delete" {
		t.Fatalf("delete 41 err = %v", err)
	}
	if got := ids(s.Events()); got != "41" {
		t.Errorf("failed delete must keep the collection, got %s", got)
	}
	if st := s.State(); st.Result != model.ResultError || st.Loading {
		t.Errorf("state = %+v", st)
	}
}

func TestDeleteBatchPartialFailure(t *testing.T) {
	s, fake := newFakeStore(t)
	ctx := context.Background()
	for id := 40; id <= 42; id++ {
		fake.SeedEventWithID(model.Event{ID: id, Date: wire(2024, 6, 5, id-30, 0), Title: "e", Duration: 60000})
	}
	fake.Fail(http.MethodDelete, "/api/events/41", http.StatusInternalServerError, "nope")

	if err := s.LoadEventsForWeek(ctx, fixedNow()); err != nil {
		t.Fatal(err)
	}
	err := s.DeleteBatch(ctx, s.Events())
	if err == nil || !strings.Contains(err.Error(), "event 41") {
		t.Fatalf("err = %v, want failure for event 41", err)
	}
	if got := ids(s.Events()); got != "41" {
		t.Errorf("events after batch = %s, want 41", got)
	}
	if n := fake.Count(http.MethodGet, "/api/events/weekof/06-03-2024"); n != 2 {
		t.Errorf("week loads = %d, want initial + one reload", n)
	}
	if st := s.State(); st.Result != model.ResultError {
		t.Errorf("state = %+v", st)
	}
}

func TestDeleteBatchReloadsTrackedWeek(t *testing.T) {
	client := &stubClient{list: staticList()}
	s := New(client, Options{Location: loc, Now: fixedNow})
	ctx := context.Background()
	next := time.Date(2024, 6, 10, 0, 0, 0, 0, loc)

	if err := s.LoadEventsForWeek(ctx, next); err != nil {
		t.Fatal(err)
	}
	// an event from another week must not move the view
	if err := s.DeleteBatch(ctx, []model.Event{{ID: 7, Date: wire(2024, 6, 4, 9, 0)}}); err != nil {
		t.Fatal(err)
	}
	if len(client.weeks) != 2 || !client.weeks[1].Equal(next) {
		t.Errorf("loaded weeks = %v, want reload of %v", client.weeks, next)
	}
	if !s.TrackedWeek().Equal(next) {
		t.Errorf("tracked week = %v", s.TrackedWeek())
	}
}

func TestDeleteBatchEmpty(t *testing.T) {
	client := &stubClient{list: staticList()}
	s := New(client, Options{Location: loc, Now: fixedNow})
	if err := s.DeleteBatch(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(client.weeks) != 0 || len(client.deleted) != 0 {
		t.Error("empty batch should not call the API")
	}
}

func TestAddRecurring(t *testing.T) {
	s, fake := newFakeStore(t)
	ev := model.Event{Date: wire(2024, 6, 3, 8, 0), Title: "Morning round", Duration: 1_800_000}

	n, err := s.AddRecurring(context.Background(), ev, "FREQ=DAILY;COUNT=3", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || fake.Count(http.MethodPost, "/api/events/") != 3 {
		t.Errorf("created = %d, posts = %d", n, fake.Count(http.MethodPost, "/api/events/"))
	}
	if got := len(s.SortedDayKeys()); got != 3 {
		t.Errorf("days with events = %d, want 3", got)
	}
}

func TestAddAllStopsAtFirstFailure(t *testing.T) {
	s, fake := newFakeStore(t)
	fake.Fail(http.MethodPost, "/api/events/", http.StatusBadRequest, "rejected")

	n, err := s.AddAll(context.Background(), []model.EventInput{
		{Date: wire(2024, 6, 3, 8, 0), Title: "a", Duration: 60000},
		{Date: wire(2024, 6, 4, 8, 0), Title: "b", Duration: 60000},
	})
	if n != 0 || !api.IsStatus(err, http.StatusBadRequest) {
		t.Errorf("n = %d, err = %v", n, err)
	}
	if c := fake.Count(http.MethodPost, "/api/events/"); c != 1 {
		t.Errorf("posts = %d, want 1", c)
	}
}

// failingAdds rejects every add after the first ok ones.
type failingAdds struct {
	*stubClient
	ok    int
	added int
}

var errRejected = errors.New("rejected")

func (c *failingAdds) AddEvent(context.Context, model.EventInput) error {
	if c.added >= c.ok {
		return errRejected
	}
	c.added++
	return nil
}

func TestAddAllReportsReloadFailure(t *testing.T) {
	errOffline := errors.New("offline")
	client := &failingAdds{
		stubClient: &stubClient{list: func(context.Context, time.Time) ([]model.Event, error) {
			return nil, errOffline
		}},
		ok: 1,
	}
	s := New(client, Options{Location: loc, Now: fixedNow})

	n, err := s.AddAll(context.Background(), []model.EventInput{
		{Date: wire(2024, 6, 3, 8, 0), Title: "a", Duration: 60000},
		{Date: wire(2024, 6, 4, 8, 0), Title: "b", Duration: 60000},
	})
	if n != 1 {
		t.Errorf("created = %d, want 1", n)
	}
	if !errors.Is(err, errRejected) || !errors.Is(err, errOffline) {
		t.Errorf("err = %v, want both the add and the reload failure", err)
	}
	if len(client.weeks) != 1 {
		t.Errorf("reloads = %d, want 1", len(client.weeks))
	}
	if st := s.State(); st.Result != model.ResultError || !errors.Is(st.Err, errRejected) {
		t.Errorf("state = %+v", st)
	}
}

func ids(evs []model.Event) string {
	parts := make([]string, 0, len(evs))
	for _, ev := range evs {
		parts = append(parts, strconv.Itoa(ev.ID))
	}
	return strings.Join(parts, ",")
}
