// internal/domain/proximity/model.go

package proximity

import (
	"fmt"
	"sort"
	"time"

	"tribe/internal/domain/geo"
)

// Radius is one of the enumerated search radii, in kilometers
type Radius int

const (
	Radius5Km  Radius = 5
	Radius10Km Radius = 10
	Radius25Km Radius = 25
)

// Radii lists every supported radius
var Radii = []Radius{Radius5Km, Radius10Km, Radius25Km}

// Meters returns the radius in meters
func (r Radius) Meters() float64 {
	return float64(r) * 1000
}

// Valid reports whether r is one of the enumerated radii
func (r Radius) Valid() bool {
	for _, v := range Radii {
		if r == v {
			return true
		}
	}
	return false
}

// ParseRadiusKm validates a radius supplied by the UI
func ParseRadiusKm(km float64) (Radius, error) {
	r := Radius(km)
	if float64(r) != km || !r.Valid() {
		return 0, fmt.Errorf("%w: %v km", ErrInvalidRadius, km)
	}
	return r, nil
}

// Interest is an interest tag declared by a user
type Interest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// SharedInterest is an interest tag present in both the viewer's and a peer's set
type SharedInterest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	Proficiency int    `json:"proficiency"`
}

// Peer is another user discoverable as a nearby tribe member.
// The client only ever holds a read-only, possibly stale copy.
type Peer struct {
	ID              string           `json:"id"`
	DisplayLocation geo.Coordinate   `json:"display_location"`
	DistanceMeters  float64          `json:"distance_meters"`
	SharedInterests []SharedInterest `json:"shared_interests"`
	IsOnline        bool             `json:"is_online"`
	LastActiveAt    time.Time        `json:"last_active_at"`
}

// Clone returns a deep copy of the peer
func (p Peer) Clone() Peer {
	c := p
	c.SharedInterests = append([]SharedInterest(nil), p.SharedInterests...)
	return c
}

// SharesAny reports whether the peer shares at least one tag in tags
func (p Peer) SharesAny(tags TagSet) bool {
	for _, si := range p.SharedInterests {
		if tags.Has(si.ID) {
			return true
		}
	}
	return false
}

// Snapshot is the full set of nearby peers for one set of query parameters.
// Peer order carries no meaning.
type Snapshot struct {
	Center         geo.Coordinate `json:"center"`
	Radius         Radius         `json:"radius_km"`
	RequiredTagIDs []string       `json:"required_tag_ids"`
	Peers          []Peer         `json:"peers"`
	FetchedAt      time.Time      `json:"fetched_at"`
}

// Clone returns a deep copy of the snapshot
func (s Snapshot) Clone() Snapshot {
	c := s
	c.RequiredTagIDs = append([]string(nil), s.RequiredTagIDs...)
	c.Peers = make([]Peer, len(s.Peers))
	for i, p := range s.Peers {
		c.Peers[i] = p.Clone()
	}
	return c
}

// Peer looks up a peer by id
func (s Snapshot) Peer(id string) (Peer, bool) {
	for _, p := range s.Peers {
		if p.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}

// TagSet is a set of interest tag ids. The empty set means no filter.
type TagSet map[string]struct{}

// NewTagSet builds a set from ids, skipping blanks
func NewTagSet(ids ...string) TagSet {
	set := make(TagSet, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Has reports membership
func (t TagSet) Has(id string) bool {
	_, ok := t[id]
	return ok
}

// IDs returns the members in sorted order
func (t TagSet) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
