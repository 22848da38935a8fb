// internal/service/nearby/filter.go

package nearby

import (
	"tribe/internal/domain/proximity"
)

// Filter derives the displayed peers from a snapshot and the viewer's tag
// selection. An empty selection returns the snapshot's peers unchanged;
// otherwise a peer is kept when any of its shared interests is selected.
// Unknown tag ids never match and are otherwise ignored.
func Filter(snapshot proximity.Snapshot, selected proximity.TagSet) []proximity.Peer {
	if len(selected) == 0 {
		return snapshot.Peers
	}

	out := make([]proximity.Peer, 0, len(snapshot.Peers))
	for _, p := range snapshot.Peers {
		if p.SharesAny(selected) {
			out = append(out, p)
		}
	}

	return out
}
