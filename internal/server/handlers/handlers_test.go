package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
	"tribe/internal/service/nearby"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSessions struct {
	mu      sync.Mutex
	updates map[string]proximity.Update
	radius  proximity.Radius
	stopped []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{updates: map[string]proximity.Update{
		"ana": {
			Peers:    []proximity.Peer{{ID: "bo", DistanceMeters: 1200}},
			Filter:   []string{},
			RadiusKm: proximity.Radius10Km,
			Status:   proximity.Status{Active: true, NoInterests: true},
		},
	}}
}

func (f *fakeSessions) get(userID string) (proximity.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.updates[userID]
	if !ok {
		return proximity.Update{}, proximity.ErrSessionNotFound
	}
	return u, nil
}

func (f *fakeSessions) Nearby(userID string) (proximity.Update, error) {
	return f.get(userID)
}

func (f *fakeSessions) SetFilter(userID string, tagIDs []string) (proximity.Update, error) {
	u, err := f.get(userID)
	if err != nil {
		return u, err
	}
	u.Filter = tagIDs
	u.Peers = nil
	return u, nil
}

func (f *fakeSessions) SetRadius(userID string, radius proximity.Radius) error {
	if _, err := f.get(userID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.radius = radius
	return nil
}

func (f *fakeSessions) Status(userID string) (proximity.Status, error) {
	u, err := f.get(userID)
	return u.Status, err
}

func (f *fakeSessions) Stop(userID string) error {
	if _, err := f.get(userID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, userID)
	return nil
}

func sessionRouter(h *SessionHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/sessions/{userID}", func(r chi.Router) {
		r.Get("/nearby", h.GetNearby)
		r.Put("/filter", h.SetFilter)
		r.Put("/radius", h.SetRadius)
		r.Get("/status", h.GetStatus)
		r.Delete("/", h.StopSession)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var payload map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("expected json body, got %q", rec.Body.String())
		}
	}
	return rec, payload
}

func TestGetNearby(t *testing.T) {
	h := sessionRouter(NewSessionHandler(newFakeSessions(), discardLogger()))

	rec, payload := do(t, h, http.MethodGet, "/sessions/ana/nearby", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	peers, _ := payload["peers"].([]interface{})
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer, got %v", payload["peers"])
	}
	reasons, _ := payload["reasons"].([]interface{})
	if len(reasons) != 1 || reasons[0] != proximity.ReasonNoInterests {
		t.Fatalf("expected no_interests reason, got %v", payload["reasons"])
	}

	rec, payload = do(t, h, http.MethodGet, "/sessions/ghost/nearby", "")
	if rec.Code != http.StatusNotFound || payload["error"] == nil {
		t.Fatalf("expected 404 with an error, got %d %v", rec.Code, payload)
	}
}

func TestSetRadius(t *testing.T) {
	sessions := newFakeSessions()
	h := sessionRouter(NewSessionHandler(sessions, discardLogger()))

	rec, payload := do(t, h, http.MethodPut, "/sessions/ana/radius", `{"radius_km": 7}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for 7 km, got %d", rec.Code)
	}
	if payload["error"] == nil {
		t.Fatal("expected an error message")
	}

	rec, _ = do(t, h, http.MethodPut, "/sessions/ana/radius", `{"radius_km": 25}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sessions.radius != proximity.Radius25Km {
		t.Fatalf("expected radius 25, got %d", sessions.radius)
	}

	rec, _ = do(t, h, http.MethodPut, "/sessions/ghost/radius", `{"radius_km": 5}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSetFilter(t *testing.T) {
	h := sessionRouter(NewSessionHandler(newFakeSessions(), discardLogger()))

	rec, payload := do(t, h, http.MethodPut, "/sessions/ana/filter", `{"tag_ids": ["hiking"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	filter, _ := payload["filter"].([]interface{})
	if len(filter) != 1 || filter[0] != "hiking" {
		t.Fatalf("expected hiking filter, got %v", payload["filter"])
	}

	rec, _ = do(t, h, http.MethodPut, "/sessions/ana/filter", `{"tag_ids": `)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a broken body, got %d", rec.Code)
	}
}

func TestStatusAndStop(t *testing.T) {
	sessions := newFakeSessions()
	h := sessionRouter(NewSessionHandler(sessions, discardLogger()))

	rec, payload := do(t, h, http.MethodGet, "/sessions/ana/status", "")
	if rec.Code != http.StatusOK || payload["active"] != true || payload["no_interests"] != true {
		t.Fatalf("expected active session without interests, got %d %v", rec.Code, payload)
	}

	rec, _ = do(t, h, http.MethodDelete, "/sessions/ana", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(sessions.stopped) != 1 {
		t.Fatalf("expected session to be stopped, got %v", sessions.stopped)
	}

	rec, _ = do(t, h, http.MethodDelete, "/sessions/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type fakeQuerier struct {
	interests []proximity.Interest
	peers     []proximity.Peer
	err       error
	last      nearby.Request
}

func (f *fakeQuerier) ViewerInterests(context.Context, string) ([]proximity.Interest, error) {
	return f.interests, nil
}

func (f *fakeQuerier) Query(_ context.Context, req nearby.Request) (proximity.Snapshot, error) {
	f.last = req
	if len(req.RequiredTagIDs) == 0 {
		return proximity.Snapshot{}, proximity.ErrNoInterests
	}
	if f.err != nil {
		return proximity.Snapshot{}, f.err
	}
	return proximity.Snapshot{Center: req.Center, Radius: req.Radius, Peers: f.peers}, nil
}

func TestNearbyQuery(t *testing.T) {
	q := &fakeQuerier{
		interests: []proximity.Interest{{ID: "coffee"}, {ID: "hiking"}},
		peers: []proximity.Peer{
			{ID: "bo", SharedInterests: []proximity.SharedInterest{{ID: "coffee"}}},
			{ID: "cy", SharedInterests: []proximity.SharedInterest{{ID: "hiking"}}},
		},
	}
	h := NewNearbyHandler(q, discardLogger())

	rec, payload := do(t, http.HandlerFunc(h.GetNearby), http.MethodGet,
		"/nearby?user_id=ana&lat=45.46&lng=9.19&radius_km=5&tags=hiking", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if q.last.Radius != proximity.Radius5Km || q.last.Center != (geo.Coordinate{Latitude: 45.46, Longitude: 9.19}) {
		t.Fatalf("expected the query to use the request location, got %+v", q.last)
	}
	peers, _ := payload["peers"].([]interface{})
	if len(peers) != 1 || payload["total"] != float64(2) {
		t.Fatalf("expected 1 of 2 peers after filtering, got %v", payload)
	}
}

func TestNearbyQueryErrors(t *testing.T) {
	q := &fakeQuerier{}
	h := http.HandlerFunc(NewNearbyHandler(q, discardLogger()).GetNearby)

	cases := []struct {
		path string
		code int
	}{
		{"/nearby?lat=1&lng=1", http.StatusBadRequest},
		{"/nearby?user_id=ana&lat=1", http.StatusBadRequest},
		{"/nearby?user_id=ana&lat=x&lng=1", http.StatusBadRequest},
		{"/nearby?user_id=ana&lat=95&lng=1", http.StatusBadRequest},
		{"/nearby?user_id=ana&lat=1&lng=1&radius_km=7", http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rec, _ := do(t, h, http.MethodGet, tc.path, ""); rec.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.code, rec.Code)
		}
	}

	rec, payload := do(t, h, http.MethodGet, "/nearby?user_id=ana&lat=1&lng=1", "")
	if rec.Code != http.StatusUnprocessableEntity || payload["reason"] != proximity.ReasonNoInterests {
		t.Fatalf("expected 422 with no_interests, got %d %v", rec.Code, payload)
	}
}
