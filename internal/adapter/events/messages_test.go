package events

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
)

func TestDecodePositionEvent(t *testing.T) {
	ev := DecodePositionEvent([]byte(`{"peer_id":"ana","latitude":45.5,"longitude":9.2,"captured_at":"2024-05-01T09:00:00Z"}`))

	if ev.Kind != proximity.EventPositionChanged || ev.PeerID != "ana" {
		t.Fatalf("expected a position event for ana, got %+v", ev)
	}
	if ev.Position == nil || ev.Position.Latitude != 45.5 || ev.Position.Longitude != 9.2 {
		t.Fatalf("expected position 45.5,9.2, got %+v", ev.Position)
	}
	if !ev.CapturedAt.Equal(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected capture time to be decoded, got %v", ev.CapturedAt)
	}
}

func TestDecodePositionEventMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"peer_id":`,
		"missing peer":   `{"latitude":45.5,"longitude":9.2}`,
		"missing coords": `{"peer_id":"ana","latitude":45.5}`,
		"out of range":   `{"peer_id":"ana","latitude":145.5,"longitude":9.2}`,
	}

	for name, payload := range cases {
		ev := DecodePositionEvent([]byte(payload))
		if ev.Kind != proximity.EventMalformed || ev.Err == nil {
			t.Fatalf("%s: expected a malformed event, got %+v", name, ev)
		}
	}

	ev := DecodePositionEvent([]byte(`{"latitude":1,"longitude":1}`))
	if !errors.Is(ev.Err, errMissingPeer) {
		t.Fatalf("expected errMissingPeer, got %v", ev.Err)
	}
}

func TestDecodeInterestsEvent(t *testing.T) {
	ev := DecodeInterestsEvent([]byte(`{"peer_id":"bo","tag_ids":["coffee","chess"]}`))
	if ev.Kind != proximity.EventInterestsChanged || ev.PeerID != "bo" || len(ev.TagIDs) != 2 {
		t.Fatalf("expected an interests event for bo, got %+v", ev)
	}

	if ev := DecodeInterestsEvent([]byte(`{"tag_ids":[]}`)); ev.Kind != proximity.EventMalformed {
		t.Fatalf("expected a malformed event, got %+v", ev)
	}
}

func TestEncodedPositionDecodes(t *testing.T) {
	sample := geo.PositionSample{
		Coordinate: geo.Coordinate{Latitude: 45.4642, Longitude: 9.19},
		CapturedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	payload, err := EncodePosition("viewer", sample)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	ev := DecodePositionEvent(payload)
	if ev.PeerID != "viewer" || *ev.Position != sample.Coordinate {
		t.Fatalf("expected announced position to be readable by peers, got %+v", ev)
	}
}

func TestResyncReachesLiveSubscriptionsOnly(t *testing.T) {
	b := NewBus(nil, DefaultBusConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	out := make(chan proximity.PeerEvent, 4)

	sub := &subscription{bus: b, id: 1, done: make(chan struct{})}
	b.listeners[sub.id] = func() { out <- proximity.PeerEvent{Kind: proximity.EventResync} }

	b.Resync()
	select {
	case ev := <-out:
		if ev.Kind != proximity.EventResync {
			t.Fatalf("expected resync, got %s", ev.Kind)
		}
	default:
		t.Fatal("expected a resync event")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("expected clean unsubscribe, got %v", err)
	}
	if b.Listeners() != 0 {
		t.Fatalf("expected no listeners, got %d", b.Listeners())
	}

	b.Resync()
	if len(out) != 0 {
		t.Fatal("expected no resync after unsubscribe")
	}
}
