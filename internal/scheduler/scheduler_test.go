package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/steamwatch/internal/collector"
	"github.com/rewired-gh/steamwatch/internal/models"
	"github.com/rewired-gh/steamwatch/internal/steam"
	"github.com/rewired-gh/steamwatch/internal/storage"
	"github.com/rewired-gh/steamwatch/internal/views"
	"github.com/rewired-gh/steamwatch/internal/watchlist"
)

// fakeClock advances by step on every Now call and fires After immediately.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	step   time.Duration
	waits  []time.Duration
	onWait func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), step: time.Minute}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	hook := c.onWait
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type staticSource struct {
	w     models.Watchlist
	err   error
	loads int
}

func (s *staticSource) Load() (models.Watchlist, error) {
	s.loads++
	return s.w, s.err
}

type fakeCollector struct {
	calls  int
	result func(call int) models.CycleResult
}

func (f *fakeCollector) Collect(ctx context.Context, w models.Watchlist) models.CycleResult {
	f.calls++
	return f.result(f.calls)
}

type fakePersister struct {
	sets []views.Set
	errs []storage.WriteError
}

func (p *fakePersister) WriteViews(set views.Set) []storage.WriteError {
	p.sets = append(p.sets, set)
	return p.errs
}

type recordingReporter struct {
	reports []models.CycleReport
	hook    func(models.CycleReport)
}

func (r *recordingReporter) ReportCycle(ctx context.Context, report models.CycleReport) {
	r.reports = append(r.reports, report)
	if r.hook != nil {
		r.hook(report)
	}
}

// stubFetcher returns a fixed payload for every app not listed in fail.
type stubFetcher struct {
	fail map[int]bool
}

func (f stubFetcher) FetchAppDetails(ctx context.Context, appID int) (steam.RawDetail, bool) {
	if f.fail[appID] {
		return nil, false
	}
	return steam.RawDetail{
		"name": "App",
		"type": "game",
		"price_overview": map[string]any{
			"currency":         "USD",
			"initial":          float64(1999),
			"final":            float64(999),
			"discount_percent": float64(50),
		},
	}, true
}

func (f stubFetcher) FetchPlayerCount(ctx context.Context, appID int) (int, bool) {
	return appID * 10, true
}

func oneGame(id int) models.CycleResult {
	return models.CycleResult{
		ID:      "cycle",
		Watched: 1,
		Games:   []models.Game{{AppID: id, Name: "App", Type: "game", Currency: "USD", Timestamp: 1}},
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateFetching, "fetching"},
		{StateSaving, "saving"},
		{StateWaiting, "waiting"},
		{StateStopped, "stopped"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int32(tt.state), got, tt.want)
		}
	}
}

func TestRun_CyclesUntilMaxAndWaitsInterval(t *testing.T) {
	clock := newFakeClock()
	source := &staticSource{w: models.Watchlist{Games: []int{570}}}
	coll := &fakeCollector{result: func(int) models.CycleResult { return oneGame(570) }}
	persister := &fakePersister{}
	reporter := &recordingReporter{}

	s := New(Config{Interval: 5 * time.Minute, MaxCycles: 3}, source, coll, persister,
		WithClock(clock), WithReporters(reporter))
	if got := s.State(); got != StateIdle {
		t.Fatalf("initial State() = %v, want idle", got)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if source.loads != 3 {
		t.Errorf("watchlist loaded %d times, want once per cycle (3)", source.loads)
	}
	if len(persister.sets) != 3 || len(reporter.reports) != 3 {
		t.Errorf("persisted %d cycles, reported %d, want 3 each", len(persister.sets), len(reporter.reports))
	}
	wantWaits := []time.Duration{5 * time.Minute, 5 * time.Minute}
	if !reflect.DeepEqual(clock.waits, wantWaits) {
		t.Errorf("waits = %v, want %v", clock.waits, wantWaits)
	}
	if s.Cycles() != 3 {
		t.Errorf("Cycles() = %d, want 3", s.Cycles())
	}
	if got := s.State(); got != StateStopped {
		t.Errorf("final State() = %v, want stopped", got)
	}
}

func TestRun_WatchlistErrorIsFatalBeforeFetch(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"missing", watchlist.ErrNotFound},
		{"empty", watchlist.ErrEmpty},
		{"invalid", watchlist.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &staticSource{err: tt.err}
			coll := &fakeCollector{result: func(int) models.CycleResult { return oneGame(1) }}
			persister := &fakePersister{}

			s := New(Config{Interval: time.Second}, source, coll, persister, WithClock(newFakeClock()))
			err := s.Run(context.Background())
			if !errors.Is(err, tt.err) {
				t.Fatalf("Run() error = %v, want %v", err, tt.err)
			}
			if coll.calls != 0 || len(persister.sets) != 0 {
				t.Errorf("collect calls = %d, writes = %d, want none", coll.calls, len(persister.sets))
			}
		})
	}
}

func TestRun_EmptyWatchlistFileWritesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watchlist.json")
	if err := os.WriteFile(path, []byte(`{"games": []}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	dataDir := filepath.Join(dir, "data")
	fetcher := &countingFetcher{}

	s := New(Config{Interval: time.Second},
		watchlist.FileSource{Path: path},
		collector.New(collector.Config{Concurrency: 1}, fetcher),
		storage.NewWriter(dataDir, storage.Files{}, 0, 0),
		WithClock(newFakeClock()))

	if err := s.Run(context.Background()); !errors.Is(err, watchlist.ErrEmpty) {
		t.Fatalf("Run() error = %v, want ErrEmpty", err)
	}
	if fetcher.calls != 0 {
		t.Errorf("fetcher called %d times, want 0", fetcher.calls)
	}
	if _, err := os.Stat(dataDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("data directory created: %v", err)
	}
}

type countingFetcher struct {
	stubFetcher
	calls int
}

func (f *countingFetcher) FetchAppDetails(ctx context.Context, appID int) (steam.RawDetail, bool) {
	f.calls++
	return f.stubFetcher.FetchAppDetails(ctx, appID)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &staticSource{w: models.Watchlist{Games: []int{1}}}
	coll := &fakeCollector{result: func(int) models.CycleResult { return oneGame(1) }}
	s := New(Config{Interval: time.Second}, source, coll, &fakePersister{}, WithClock(newFakeClock()))

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, want nil on cancellation", err)
	}
	if source.loads != 0 || coll.calls != 0 {
		t.Errorf("loads = %d, collects = %d, want none", source.loads, coll.calls)
	}
}

func TestRun_InterruptedCycleIsNotPersisted(t *testing.T) {
	source := &staticSource{w: models.Watchlist{Games: []int{1, 2}}}
	coll := &fakeCollector{result: func(call int) models.CycleResult {
		r := oneGame(1)
		r.Interrupted = call == 2
		return r
	}}
	persister := &fakePersister{}
	reporter := &recordingReporter{}

	s := New(Config{Interval: time.Second}, source, coll, persister,
		WithClock(newFakeClock()), WithReporters(reporter))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(persister.sets) != 1 || len(reporter.reports) != 1 {
		t.Errorf("persisted %d, reported %d, want only the first cycle", len(persister.sets), len(reporter.reports))
	}
}

func TestRun_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := newFakeClock()
	clock.onWait = cancel
	source := &staticSource{w: models.Watchlist{Games: []int{1}}}
	coll := &fakeCollector{result: func(int) models.CycleResult { return oneGame(1) }}
	persister := &fakePersister{}

	s := New(Config{Interval: time.Hour}, source, coll, persister, WithClock(clock))
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if coll.calls != 1 {
		t.Errorf("collect called %d times, want 1", coll.calls)
	}
}

func TestRun_PersistFailureDoesNotStopLoop(t *testing.T) {
	source := &staticSource{w: models.Watchlist{Games: []int{1}}}
	coll := &fakeCollector{result: func(int) models.CycleResult { return oneGame(1) }}
	persister := &fakePersister{errs: []storage.WriteError{
		{View: "discounts", Path: "/data/discounts.json", Err: os.ErrPermission},
	}}
	reporter := &recordingReporter{}

	s := New(Config{Interval: time.Second, MaxCycles: 2}, source, coll, persister,
		WithClock(newFakeClock()), WithReporters(reporter))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(reporter.reports) != 2 {
		t.Fatalf("reported %d cycles, want 2", len(reporter.reports))
	}
	for _, r := range reporter.reports {
		if len(r.PersistErrors) != 1 || r.Healthy() {
			t.Errorf("report persist errors = %v, healthy = %v", r.PersistErrors, r.Healthy())
		}
	}
}

func TestRun_ViewsShareCaptureTime(t *testing.T) {
	source := &staticSource{w: models.Watchlist{Games: []int{1}}}
	coll := &fakeCollector{result: func(int) models.CycleResult { return oneGame(1) }}
	persister := &fakePersister{}
	clock := newFakeClock()
	want := clock.now.Unix()

	s := New(Config{Interval: time.Second, MaxCycles: 1}, source, coll, persister, WithClock(clock))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	set := persister.sets[0]
	if set.Snapshot.UpdatedAt != want || set.Discounts.UpdatedAt != want || set.Players.UpdatedAt != want {
		t.Errorf("updated_at = %d/%d/%d, want %d for all",
			set.Snapshot.UpdatedAt, set.Discounts.UpdatedAt, set.Players.UpdatedAt, want)
	}
}

type recordingObserver struct {
	sets []views.Set
}

func (o *recordingObserver) ObserveViews(ctx context.Context, set views.Set) {
	o.sets = append(o.sets, set)
}

func TestRun_ObserversSeePersistedViews(t *testing.T) {
	source := &staticSource{w: models.Watchlist{Games: []int{1}}}
	coll := &fakeCollector{result: func(call int) models.CycleResult {
		r := oneGame(1)
		r.Interrupted = call == 3
		return r
	}}
	observer := &recordingObserver{}

	s := New(Config{Interval: time.Second}, source, coll, &fakePersister{},
		WithClock(newFakeClock()), WithViewObservers(observer))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(observer.sets) != 2 {
		t.Fatalf("observed %d cycles, want 2", len(observer.sets))
	}
	if observer.sets[0].Snapshot.GameCount != 1 {
		t.Errorf("observed snapshot = %+v", observer.sets[0].Snapshot)
	}
}

func writeWatchlist(t *testing.T, dir string, ids []int) string {
	t.Helper()
	data, err := json.Marshal(models.Watchlist{Games: ids})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	path := filepath.Join(dir, "watchlist.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestRun_PartialFailureEndToEnd(t *testing.T) {
	const a, b, c = 10, 20, 30
	dir := t.TempDir()
	path := writeWatchlist(t, dir, []int{a, b, c})
	writer := storage.NewWriter(filepath.Join(dir, "data"), storage.Files{}, 0, 0)
	coll := collector.New(collector.Config{Concurrency: 1}, stubFetcher{fail: map[int]bool{b: true}})

	s := New(Config{Interval: time.Second, MaxCycles: 1}, watchlist.FileSource{Path: path}, coll, writer,
		WithClock(newFakeClock()))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(writer.Path(storage.DefaultSnapshotFile))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var snapshot models.SnapshotView
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if snapshot.GameCount != 2 {
		t.Errorf("game_count = %d, want 2", snapshot.GameCount)
	}
	var got []int
	for _, g := range snapshot.Games {
		got = append(got, g.AppID)
	}
	if !reflect.DeepEqual(got, []int{a, c}) {
		t.Errorf("snapshot apps = %v, want [%d %d]", got, a, c)
	}
}

func TestRun_SnapshotStableAcrossUnchangedCycles(t *testing.T) {
	dir := t.TempDir()
	path := writeWatchlist(t, dir, []int{570, 730, 440})
	writer := storage.NewWriter(filepath.Join(dir, "data"), storage.Files{}, 0, 0)
	captured := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	coll := collector.New(collector.Config{Concurrency: 1}, stubFetcher{},
		collector.WithClock(func() time.Time { return captured }))

	var snapshots [][]byte
	reporter := &recordingReporter{hook: func(models.CycleReport) {
		data, err := os.ReadFile(writer.Path(storage.DefaultSnapshotFile))
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		snapshots = append(snapshots, data)
	}}

	s := New(Config{Interval: time.Second, MaxCycles: 2}, watchlist.FileSource{Path: path}, coll, writer,
		WithClock(newFakeClock()), WithReporters(reporter))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("captured %d snapshots, want 2", len(snapshots))
	}

	first, second := withoutUpdatedAt(t, snapshots[0]), withoutUpdatedAt(t, snapshots[1])
	if !bytes.Equal(first, second) {
		t.Errorf("snapshots differ beyond updated_at:\n%s\n%s", first, second)
	}
	if bytes.Equal(snapshots[0], snapshots[1]) {
		t.Error("updated_at did not advance between cycles")
	}
}

func withoutUpdatedAt(t *testing.T, data []byte) []byte {
	t.Helper()
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	delete(doc, "updated_at")
	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return out
}
