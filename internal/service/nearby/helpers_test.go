package nearby

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
)

var center = geo.Coordinate{Latitude: 45.4642, Longitude: 9.19}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// northOf returns a coordinate meters due north of origin
func northOf(origin geo.Coordinate, meters float64) geo.Coordinate {
	return geo.Coordinate{
		Latitude:  origin.Latitude + meters/geo.EarthRadiusMeters*180/math.Pi,
		Longitude: origin.Longitude,
	}
}

func peerAt(id string, meters float64, tags ...string) proximity.Peer {
	p := proximity.Peer{
		ID:              id,
		DisplayLocation: northOf(center, meters),
		DistanceMeters:  meters,
		IsOnline:        true,
	}
	for _, tag := range tags {
		p.SharedInterests = append(p.SharedInterests, proximity.SharedInterest{ID: tag, Name: tag})
	}
	return p
}

type fakeFinder struct {
	mu        sync.Mutex
	peers     []proximity.Peer
	interests []proximity.Interest
	err       error
	calls     int
	block     bool
	lastTags  []string
}

func (f *fakeFinder) FindPeers(ctx context.Context, _ geo.Coordinate, _ float64, tags []string, _ string) ([]proximity.Peer, error) {
	f.mu.Lock()
	f.calls++
	f.lastTags = tags
	peers, err, block := f.peers, f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return peers, err
}

func (f *fakeFinder) ViewerInterests(context.Context, string) ([]proximity.Interest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interests, nil
}

func (f *fakeFinder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
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

func (s *recordingSink) last() (proximity.Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return proximity.Update{}, false
	}
	return s.updates[len(s.updates)-1], true
}

// seededStore returns a store whose live snapshot holds peers
func seededStore(radius proximity.Radius, onChange func(proximity.Snapshot), peers ...proximity.Peer) *Store {
	s := NewStore(radius, onChange)
	s.SetCenter(center)
	ticket, _, cancel, _ := s.Begin(context.Background())
	defer cancel()
	s.Replace(ticket, proximity.Snapshot{Peers: peers, FetchedAt: time.Now()})
	return s
}
