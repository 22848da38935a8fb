// internal/service/nearby/view.go

package nearby

import (
	"sync"

	"tribe/internal/domain/proximity"
)

// View is the single source of truth for what is rendered. It recomputes
// the displayed peers whenever the snapshot or the tag selection changes
// and pushes the result to the sink. It never touches the network.
type View struct {
	mu        sync.Mutex
	snapshot  proximity.Snapshot
	selected  proximity.TagSet
	displayed []proximity.Peer
	radius    proximity.Radius
	status    func() proximity.Status
	sink      proximity.Sink
	closed    bool
}

// NewView creates a view. status supplies the session status attached to
// every update and must not call back into the view.
func NewView(radius proximity.Radius, sink proximity.Sink, status func() proximity.Status) *View {
	return &View{
		selected: proximity.NewTagSet(),
		radius:   radius,
		status:   status,
		sink:     sink,
	}
}

// OnSnapshot is fed every snapshot change
func (v *View) OnSnapshot(snapshot proximity.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.snapshot = snapshot
	v.radius = snapshot.Radius
	v.recompute()
}

// SetFilter replaces the tag selection and returns the effective set
func (v *View) SetFilter(tagIDs []string) proximity.TagSet {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.selected = proximity.NewTagSet(tagIDs...)
	v.recompute()

	return copyTags(v.selected)
}

// SetRadius records the radius reported with updates. Peers of the current
// snapshot beyond a smaller radius are hidden until the next snapshot lands.
func (v *View) SetRadius(radius proximity.Radius) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.radius = radius
	v.recompute()
}

// Refresh re-sends the current state, e.g. after a status change
func (v *View) Refresh() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.deliver()
}

// Current returns the update the viewer is looking at
func (v *View) Current() proximity.Update {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.update()
}

// Close stops all further deliveries
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.closed = true
}

func (v *View) recompute() {
	v.displayed = withinRadius(Filter(v.snapshot, v.selected), v.radius)
	v.deliver()
}

func withinRadius(peers []proximity.Peer, radius proximity.Radius) []proximity.Peer {
	if !radius.Valid() {
		return peers
	}

	out := make([]proximity.Peer, 0, len(peers))
	for _, p := range peers {
		if p.DistanceMeters <= radius.Meters() {
			out = append(out, p)
		}
	}
	return out
}

func (v *View) deliver() {
	if v.closed || v.sink == nil {
		return
	}
	v.sink.Deliver(v.update())
}

func (v *View) update() proximity.Update {
	peers := make([]proximity.Peer, len(v.displayed))
	for i, p := range v.displayed {
		peers[i] = p.Clone()
	}

	u := proximity.Update{
		Peers:    peers,
		Filter:   v.selected.IDs(),
		RadiusKm: v.radius,
	}
	if v.status != nil {
		u.Status = v.status()
	}
	return u
}

func copyTags(t proximity.TagSet) proximity.TagSet {
	out := make(proximity.TagSet, len(t))
	for id := range t {
		out[id] = struct{}{}
	}
	return out
}
