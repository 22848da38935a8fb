package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
)

var origin = geo.Coordinate{Latitude: 45.4642, Longitude: 9.19}

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func northOf(c geo.Coordinate, meters float64) geo.Coordinate {
	return geo.Coordinate{
		Latitude:  c.Latitude + meters/geo.EarthRadiusMeters*180/math.Pi,
		Longitude: c.Longitude,
	}
}

func sampleAt(meters float64, at time.Time) geo.PositionSample {
	return geo.PositionSample{Coordinate: northOf(origin, meters), CapturedAt: at}
}

// fastPolicy keeps the canonical ratios on a millisecond scale
func fastPolicy() IntervalPolicy {
	return IntervalPolicy{
		Base:             30 * time.Millisecond,
		Step:             30 * time.Millisecond,
		Min:              15 * time.Millisecond,
		Max:              300 * time.Millisecond,
		StationaryMeters: 50,
		BackoffFactor:    1.5,
	}
}

func fastSchedulerConfig() SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	cfg.Policy = fastPolicy()
	cfg.ProviderTimeout = time.Second
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errNoFix = errors.New("no fix")

// scriptedProvider plays back fixes in order, then blocks until the caller
// gives up. When fail is set every call errors instead.
type scriptedProvider struct {
	mu     sync.Mutex
	fixes  []geo.PositionSample
	fail   bool
	calls  int
	called chan struct{}
}

func newScriptedProvider(fixes ...geo.PositionSample) *scriptedProvider {
	return &scriptedProvider{fixes: fixes, called: make(chan struct{}, 100)}
}

func (p *scriptedProvider) CurrentPosition(ctx context.Context, _ time.Duration) (geo.PositionSample, error) {
	p.mu.Lock()
	p.calls++
	fail := p.fail
	var (
		fix geo.PositionSample
		ok  bool
	)
	if !fail && len(p.fixes) > 0 {
		fix, p.fixes, ok = p.fixes[0], p.fixes[1:], true
	}
	p.mu.Unlock()

	select {
	case p.called <- struct{}{}:
	default:
	}

	if fail {
		return geo.PositionSample{}, errNoFix
	}
	if ok {
		return fix, nil
	}
	<-ctx.Done()
	return geo.PositionSample{}, ctx.Err()
}

func (p *scriptedProvider) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

func (p *scriptedProvider) push(fixes ...geo.PositionSample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixes = append(p.fixes, fixes...)
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingHandler struct {
	mu       sync.Mutex
	samples  []geo.PositionSample
	failures int
}

func (h *recordingHandler) HandleSample(_ context.Context, s geo.PositionSample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, s)
}

func (h *recordingHandler) HandleSamplingFailure(error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples), h.failures
}

type fakeWriter struct {
	mu     sync.Mutex
	err    error
	writes []geo.Coordinate
}

func (w *fakeWriter) UpsertUserPosition(_ context.Context, _ string, c geo.Coordinate, _ time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, c)
	return w.err
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func (w *fakeWriter) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

type fakeAnnouncer struct {
	mu    sync.Mutex
	count int
}

func (a *fakeAnnouncer) AnnouncePosition(context.Context, string, geo.PositionSample) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count++
	return nil
}

// fakeFinder answers proximity queries. With late set it waits for the
// query to be cancelled and then answers anyway, like a backend that
// ignores cancellation.
type fakeFinder struct {
	mu        sync.Mutex
	peers     []proximity.Peer
	interests []proximity.Interest
	err       error
	late      bool
	calls     int
	started   chan struct{}
}

func newFakeFinder(peers ...proximity.Peer) *fakeFinder {
	return &fakeFinder{
		peers:     peers,
		interests: []proximity.Interest{{ID: "coffee", Name: "Coffee"}},
		started:   make(chan struct{}, 100),
	}
}

func (f *fakeFinder) FindPeers(ctx context.Context, _ geo.Coordinate, _ float64, _ []string, _ string) ([]proximity.Peer, error) {
	f.mu.Lock()
	f.calls++
	peers, err, late := f.peers, f.err, f.late
	f.mu.Unlock()

	select {
	case f.started <- struct{}{}:
	default:
	}

	if late {
		<-ctx.Done()
	}
	return peers, err
}

func (f *fakeFinder) ViewerInterests(context.Context, string) ([]proximity.Interest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interests, nil
}

func (f *fakeFinder) set(fn func(f *fakeFinder)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeFinder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSubscription struct {
	mu     sync.Mutex
	closed bool
}

func (s *fakeSubscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeEvents struct {
	mu   sync.Mutex
	out  chan<- proximity.PeerEvent
	subs []*fakeSubscription
}

func (e *fakeEvents) Subscribe(_ context.Context, out chan<- proximity.PeerEvent) (proximity.Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub := &fakeSubscription{}
	e.out = out
	e.subs = append(e.subs, sub)
	return sub, nil
}

func (e *fakeEvents) publish(ev proximity.PeerEvent) {
	e.mu.Lock()
	out := e.out
	e.mu.Unlock()
	out <- ev
}

type recordingSink struct {
	mu      sync.Mutex
	updates []proximity.Update
}

func (s *recordingSink) Deliver(u proximity.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *recordingSink) all() []proximity.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]proximity.Update(nil), s.updates...)
}

func peerAt(id string, meters float64, tags ...string) proximity.Peer {
	p := proximity.Peer{
		ID:              id,
		DisplayLocation: northOf(origin, meters),
		DistanceMeters:  meters,
		IsOnline:        true,
	}
	for _, tag := range tags {
		p.SharedInterests = append(p.SharedInterests, proximity.SharedInterest{ID: tag, Name: tag})
	}
	return p
}
