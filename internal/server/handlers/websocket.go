// internal/server/handlers/websocket.go

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
	"tribe/internal/service/tracking"
)

var errLinkClosed = errors.New("device link closed")

// TrackingSessions is the part of the session manager used by device links
type TrackingSessions interface {
	Get(userID string) (*tracking.Session, error)
	Start(userID string, provider proximity.LocationProvider, sink proximity.Sink) (*tracking.Session, bool)
	Release(session *tracking.Session)
}

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64

	// Outgoing messages buffered per connection
	SendBuffer int
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
	}
}

// WebSocketUpgrader is used to upgrade HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, this should be more restrictive
		return true
	},
}

// Messages exchanged with the device
type (
	locateMessage struct {
		Type      string `json:"type"`
		RequestID string `json:"request_id"`
		TimeoutMs int64  `json:"timeout_ms"`
	}

	nearbyMessage struct {
		Type string `json:"type"`
		proximity.Update
		Reasons []string `json:"reasons"`
	}

	errorMessage struct {
		Type   string `json:"type"`
		Error  string `json:"error"`
		Reason string `json:"reason,omitempty"`
	}

	deviceMessage struct {
		Type       string     `json:"type"`
		RequestID  string     `json:"request_id"`
		Latitude   *float64   `json:"latitude"`
		Longitude  *float64   `json:"longitude"`
		Accuracy   *float64   `json:"accuracy"`
		CapturedAt *time.Time `json:"captured_at"`
		TagIDs     []string   `json:"tag_ids"`
		RadiusKm   float64    `json:"radius_km"`
	}
)

// deviceLink is a connected device. It answers location requests for the
// user's tracking session and receives every nearby update.
type deviceLink struct {
	conn     *websocket.Conn
	send     chan []byte
	closed   chan struct{}
	once     sync.Once
	userID   string
	config   WebSocketConfig
	sessions TrackingSessions
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]chan geo.PositionSample
	session *tracking.Session
}

// TrackingWebSocketHandler connects a device to the user's tracking session
func TrackingWebSocketHandler(sessions TrackingSessions, config WebSocketConfig, logger *slog.Logger) http.HandlerFunc {
	logger = logger.With("component", "device_link")

	return func(w http.ResponseWriter, r *http.Request) {
		// Get user ID from query parameters or authentication
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			// In a real implementation, we would get this from the authentication token
			respondWithError(w, logger, http.StatusBadRequest, "Missing user ID", nil)
			return
		}

		if _, err := sessions.Get(userID); err == nil {
			respondWithError(w, logger, http.StatusConflict, "Tracking session already active", nil)
			return
		}

		// Upgrade HTTP connection to WebSocket
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Failed to upgrade to WebSocket", "error", err)
			return
		}

		link := &deviceLink{
			conn:     conn,
			send:     make(chan []byte, config.SendBuffer),
			closed:   make(chan struct{}),
			userID:   userID,
			config:   config,
			sessions: sessions,
			logger:   logger.With("user_id", userID),
			pending:  make(map[string]chan geo.PositionSample),
		}

		go link.writePump()

		session, started := sessions.Start(userID, link, link)
		if !started {
			link.enqueue(errorMessage{Type: "error", Error: "tracking session already active"})
			link.close()
			return
		}

		link.mu.Lock()
		link.session = session
		link.mu.Unlock()

		// the write pump may have failed before the session was recorded
		select {
		case <-link.closed:
			sessions.Release(session)
			return
		default:
		}

		go link.readPump()

		link.logger.Info("Device connected")
	}
}

// CurrentPosition asks the device for a fix and waits for the answer
func (l *deviceLink) CurrentPosition(ctx context.Context, timeout time.Duration) (geo.PositionSample, error) {
	id := uuid.NewString()
	reply := make(chan geo.PositionSample, 1)

	l.mu.Lock()
	l.pending[id] = reply
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	if !l.enqueue(locateMessage{Type: "locate", RequestID: id, TimeoutMs: timeout.Milliseconds()}) {
		return geo.PositionSample{}, errLinkClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sample := <-reply:
		return sample, nil
	case <-timer.C:
		return geo.PositionSample{}, proximity.ErrLocationTimeout
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return geo.PositionSample{}, proximity.ErrLocationTimeout
		}
		return geo.PositionSample{}, ctx.Err()
	case <-l.closed:
		return geo.PositionSample{}, errLinkClosed
	}
}

// Deliver pushes a nearby update to the device without blocking
func (l *deviceLink) Deliver(update proximity.Update) {
	reasons := update.Status.Reasons()
	if reasons == nil {
		reasons = []string{}
	}
	l.enqueue(nearbyMessage{Type: "nearby", Update: update, Reasons: reasons})
}

// enqueue queues a message for the write pump. Messages are dropped when
// the link is closed or the device is not keeping up.
func (l *deviceLink) enqueue(msg interface{}) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		l.logger.Error("Failed to marshal message", "error", err)
		return false
	}

	select {
	case <-l.closed:
		return false
	default:
	}

	select {
	case l.send <- data:
		return true
	case <-l.closed:
		return false
	default:
		l.logger.Warn("Dropping message for slow device")
		return false
	}
}

// readPump handles messages from the device until the connection drops
func (l *deviceLink) readPump() {
	defer l.close()

	l.conn.SetReadLimit(l.config.MaxMessageSize)
	l.conn.SetReadDeadline(time.Now().Add(l.config.PongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(l.config.PongWait))
		return nil
	})

	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l.logger.Warn("WebSocket error", "error", err)
			}
			return
		}

		l.processIncomingMessage(message)
	}
}

// writePump pumps queued messages to the WebSocket connection
func (l *deviceLink) writePump() {
	ticker := time.NewTicker(l.config.PingPeriod)
	defer func() {
		ticker.Stop()
		l.close()
	}()

	for {
		select {
		case message := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(l.config.WriteWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(l.config.WriteWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-l.closed:
			l.drain()
			l.conn.SetWriteDeadline(time.Now().Add(l.config.WriteWait))
			l.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// drain flushes messages queued before the link closed
func (l *deviceLink) drain() {
	for {
		select {
		case message := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(l.config.WriteWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// processIncomingMessage processes an incoming WebSocket message
func (l *deviceLink) processIncomingMessage(message []byte) {
	var msg deviceMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		l.logger.Warn("Failed to parse WebSocket message", "error", err)
		return
	}

	switch msg.Type {
	case "position":
		l.handlePosition(msg)

	case "filter":
		if s := l.currentSession(); s != nil {
			s.SetFilter(msg.TagIDs)
		}

	case "radius":
		l.handleRadius(msg)

	default:
		l.logger.Warn("Unknown message type", "type", msg.Type)
	}
}

// handlePosition answers an outstanding location request
func (l *deviceLink) handlePosition(msg deviceMessage) {
	if msg.Latitude == nil || msg.Longitude == nil {
		l.logger.Warn("Position without coordinates", "request_id", msg.RequestID)
		return
	}

	sample := geo.PositionSample{
		Coordinate: geo.Coordinate{Latitude: *msg.Latitude, Longitude: *msg.Longitude},
		Accuracy:   msg.Accuracy,
		CapturedAt: time.Now().UTC(),
	}
	if msg.CapturedAt != nil {
		sample.CapturedAt = *msg.CapturedAt
	}

	l.mu.Lock()
	reply, ok := l.pending[msg.RequestID]
	l.mu.Unlock()

	if !ok {
		l.logger.Debug("Ignoring unsolicited position", "request_id", msg.RequestID)
		return
	}

	select {
	case reply <- sample:
	default:
	}
}

func (l *deviceLink) handleRadius(msg deviceMessage) {
	s := l.currentSession()
	if s == nil {
		return
	}

	radius, err := proximity.ParseRadiusKm(msg.RadiusKm)
	if err == nil {
		err = s.SetRadius(radius)
	}
	if err != nil {
		l.enqueue(errorMessage{Type: "error", Error: err.Error()})
	}
}

func (l *deviceLink) currentSession() *tracking.Session {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.session
}

// close closes the connection and stops the user's session
func (l *deviceLink) close() {
	l.once.Do(func() {
		close(l.closed)

		if s := l.currentSession(); s != nil {
			l.sessions.Release(s)
		}

		l.conn.Close()
		l.logger.Info("WebSocket connection closed")
	})
}
