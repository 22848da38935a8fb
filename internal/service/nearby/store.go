// internal/service/nearby/store.go

package nearby

import (
	"context"
	"sort"
	"sync"
	"time"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
)

// Ticket identifies one issued proximity query. Only the most recently
// issued ticket may replace the live snapshot.
type Ticket struct {
	generation uint64
	startSeq   uint64
	Center     geo.Coordinate
	Radius     proximity.Radius
}

// storeState is only ever touched by the owner goroutine
type storeState struct {
	peers     map[string]proximity.Peer
	meta      proximity.Snapshot
	hasSnap   bool
	center    geo.Coordinate
	radius    proximity.Radius
	hasCenter bool

	generation uint64
	seq        uint64
	removed    map[string]uint64
	inflight   context.CancelFunc
}

// Store owns the live Nearby Snapshot. Every read and mutation is a message
// executed one at a time by a single owner goroutine.
type Store struct {
	ops      chan func(*storeState)
	quit     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	onChange func(proximity.Snapshot)
}

// NewStore starts the owner goroutine. onChange, when set, runs on the owner
// goroutine after every applied change and receives a private copy.
func NewStore(radius proximity.Radius, onChange func(proximity.Snapshot)) *Store {
	s := &Store{
		ops:      make(chan func(*storeState)),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		onChange: onChange,
	}

	st := &storeState{
		peers:   make(map[string]proximity.Peer),
		removed: make(map[string]uint64),
		radius:  radius,
	}

	go s.run(st)

	return s
}

func (s *Store) run(st *storeState) {
	defer close(s.stopped)

	for {
		select {
		case op := <-s.ops:
			op(st)
		case <-s.quit:
			if st.inflight != nil {
				st.inflight()
				st.inflight = nil
			}
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for it. It reports false once
// the store is closed.
func (s *Store) do(fn func(*storeState)) bool {
	done := make(chan struct{})
	op := func(st *storeState) {
		defer close(done)
		fn(st)
	}

	select {
	case s.ops <- op:
	case <-s.stopped:
		return false
	}

	<-done
	return true
}

// Close stops the owner goroutine and cancels any in-flight query.
// Results delivered after Close are discarded.
func (s *Store) Close() {
	s.once.Do(func() {
		close(s.quit)
	})
	<-s.stopped
}

// SetCenter records the center the next queries run against
func (s *Store) SetCenter(center geo.Coordinate) {
	s.do(func(st *storeState) {
		st.center = center
		st.hasCenter = true
	})
}

// SetRadius records the radius the next queries run against
func (s *Store) SetRadius(radius proximity.Radius) {
	s.do(func(st *storeState) {
		st.radius = radius
	})
}

// Target returns the most recent query center and radius
func (s *Store) Target() (geo.Coordinate, proximity.Radius, bool) {
	var (
		center geo.Coordinate
		radius proximity.Radius
		ok     bool
	)
	s.do(func(st *storeState) {
		center, radius, ok = st.center, st.radius, st.hasCenter
	})
	return center, radius, ok
}

// Begin issues a ticket for a query against the current target. The previous
// in-flight query, if any, is cancelled. The returned context is cancelled
// when a newer ticket is issued or the store closes.
func (s *Store) Begin(parent context.Context) (Ticket, context.Context, context.CancelFunc, bool) {
	var (
		ticket Ticket
		ctx    context.Context
		cancel context.CancelFunc
		ok     bool
	)

	applied := s.do(func(st *storeState) {
		if !st.hasCenter {
			return
		}
		if st.inflight != nil {
			st.inflight()
		}

		st.generation++
		ctx, cancel = context.WithCancel(parent)
		st.inflight = cancel

		ticket = Ticket{
			generation: st.generation,
			startSeq:   st.seq,
			Center:     st.center,
			Radius:     st.radius,
		}
		ok = true
	})

	if !applied || !ok {
		return Ticket{}, nil, nil, false
	}
	return ticket, ctx, cancel, true
}

// CancelInflight cancels the outstanding query without issuing a new one
func (s *Store) CancelInflight() {
	s.do(func(st *storeState) {
		if st.inflight != nil {
			st.inflight()
			st.inflight = nil
		}
	})
}

// Replace swaps in the result of ticket's query. Stale tickets, and any
// result arriving after Close, are rejected. Peers removed while the query
// was in flight stay removed; duplicate ids collapse to one entry.
func (s *Store) Replace(ticket Ticket, snapshot proximity.Snapshot) bool {
	var applied bool

	s.do(func(st *storeState) {
		if ticket.generation != st.generation {
			return
		}

		peers := make(map[string]proximity.Peer, len(snapshot.Peers))
		for _, p := range snapshot.Peers {
			if seq, gone := st.removed[p.ID]; gone && seq > ticket.startSeq {
				continue
			}
			if _, dup := peers[p.ID]; dup {
				continue
			}
			peers[p.ID] = p.Clone()
		}

		st.peers = peers
		st.meta = snapshot
		st.meta.Center = ticket.Center
		st.meta.Radius = ticket.Radius
		st.meta.Peers = nil
		st.hasSnap = true
		st.removed = make(map[string]uint64)
		if st.inflight != nil {
			st.inflight()
			st.inflight = nil
		}

		applied = true
		s.notify(st)
	})

	return applied
}

// Remove drops a peer from the snapshot. The removal is remembered so an
// in-flight query cannot resurrect the peer.
func (s *Store) Remove(peerID string) bool {
	var removed bool

	s.do(func(st *storeState) {
		st.seq++
		st.removed[peerID] = st.seq

		if _, ok := st.peers[peerID]; ok {
			delete(st.peers, peerID)
			removed = true
			s.notify(st)
		}
	})

	return removed
}

// Patch moves a peer already present in the snapshot, keyed by id. Absent
// peers are left alone since their shared interests are unknown. A peer
// patched outside the snapshot's own radius is dropped instead.
func (s *Store) Patch(peerID string, position geo.Coordinate, at time.Time) bool {
	var patched bool

	s.do(func(st *storeState) {
		p, ok := st.peers[peerID]
		if !ok || !st.hasSnap {
			return
		}

		distance := geo.DistanceMeters(st.meta.Center, position)
		if distance > st.meta.Radius.Meters() {
			delete(st.peers, peerID)
			s.notify(st)
			return
		}

		p.DisplayLocation = position
		p.DistanceMeters = distance
		if at.After(p.LastActiveAt) {
			p.LastActiveAt = at
		}
		st.peers[peerID] = p

		patched = true
		s.notify(st)
	})

	return patched
}

// Snapshot returns a copy of the live snapshot
func (s *Store) Snapshot() (proximity.Snapshot, bool) {
	var (
		snap proximity.Snapshot
		ok   bool
	)
	s.do(func(st *storeState) {
		if st.hasSnap {
			snap, ok = st.build(), true
		}
	})
	return snap, ok
}

// HasSnapshot reports whether any query result has been applied
func (s *Store) HasSnapshot() bool {
	var ok bool
	s.do(func(st *storeState) {
		ok = st.hasSnap
	})
	return ok
}

func (s *Store) notify(st *storeState) {
	if s.onChange != nil {
		s.onChange(st.build())
	}
}

// build assembles a private snapshot copy, nearest peers first
func (st *storeState) build() proximity.Snapshot {
	snap := st.meta.Clone()
	snap.Peers = make([]proximity.Peer, 0, len(st.peers))
	for _, p := range st.peers {
		snap.Peers = append(snap.Peers, p.Clone())
	}

	sort.Slice(snap.Peers, func(i, j int) bool {
		if snap.Peers[i].DistanceMeters != snap.Peers[j].DistanceMeters {
			return snap.Peers[i].DistanceMeters < snap.Peers[j].DistanceMeters
		}
		return snap.Peers[i].ID < snap.Peers[j].ID
	})

	return snap
}
