// Package hub tracks WebSocket subscribers per call session and fans
// server events out to them.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
)

// Conn is the write side of a subscriber's connection.
type Conn interface {
	Write(ctx context.Context, data []byte) error
}

// Subscriber is one WebSocket client attached to a session.
type Subscriber struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	conn      Conn
	ctx       context.Context
	cancel    context.CancelFunc

	mu       sync.Mutex
	lastSeen time.Time
}

// Context is canceled when the subscriber is unregistered or a write to it
// fails. Read loops should stop when it is done.
func (s *Subscriber) Context() context.Context {
	return s.ctx
}

// LastSeen returns the time of the subscriber's most recent pong (or its
// registration, if it never ponged).
func (s *Subscriber) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Hub owns the session → subscribers map. Each process has one Hub.
type Hub struct {
	mu         sync.RWMutex
	sessions   map[uuid.UUID]map[*Subscriber]bool
	heartbeats map[uuid.UUID]context.CancelFunc

	writeTimeout      time.Duration
	heartbeatInterval time.Duration
	onSessionEmpty    func(sessionID uuid.UUID)
	logger            *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithHeartbeatInterval overrides the server ping cadence.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hub) { h.heartbeatInterval = d }
}

// WithOnSessionEmpty registers a callback invoked after a session's last
// subscriber leaves.
func WithOnSessionEmpty(fn func(sessionID uuid.UUID)) Option {
	return func(h *Hub) { h.onSessionEmpty = fn }
}

// New creates a Hub.
func New(writeTimeout time.Duration, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		sessions:          make(map[uuid.UUID]map[*Subscriber]bool),
		heartbeats:        make(map[uuid.UUID]context.CancelFunc),
		writeTimeout:      writeTimeout,
		heartbeatInterval: 30 * time.Second,
		logger:            logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register attaches a connection to a session and returns its Subscriber.
// The first subscriber of a session starts the session's heartbeat.
func (h *Hub) Register(parentCtx context.Context, sessionID uuid.UUID, conn Conn) *Subscriber {
	ctx, cancel := context.WithCancel(parentCtx)
	sub := &Subscriber{
		ID:        uuid.New(),
		SessionID: sessionID,
		conn:      conn,
		ctx:       ctx,
		cancel:    cancel,
		lastSeen:  time.Now(),
	}

	h.mu.Lock()
	subs, exists := h.sessions[sessionID]
	if !exists {
		subs = make(map[*Subscriber]bool)
		h.sessions[sessionID] = subs

		hbCtx, hbCancel := context.WithCancel(context.Background())
		h.heartbeats[sessionID] = hbCancel
		go h.heartbeat(hbCtx, sessionID)
	}
	subs[sub] = true
	h.mu.Unlock()

	h.logger.Info("WebSocket subscriber registered",
		slog.String("session_id", sessionID.String()),
		slog.String("subscriber_id", sub.ID.String()))
	return sub
}

// Unregister detaches a subscriber. When the session's last subscriber
// leaves, the heartbeat stops and the session-empty callback fires.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	subs, exists := h.sessions[sub.SessionID]
	if exists {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.sessions, sub.SessionID)
			if cancelHB, ok := h.heartbeats[sub.SessionID]; ok {
				cancelHB()
				delete(h.heartbeats, sub.SessionID)
			}
		}
	}
	empty := exists && len(subs) == 0
	h.mu.Unlock()

	sub.cancel()

	if empty && h.onSessionEmpty != nil {
		h.onSessionEmpty(sub.SessionID)
	}
}

// Broadcast sends an envelope to every subscriber of a session. Failed
// subscribers are canceled so their read loops exit and unregister them.
func (h *Hub) Broadcast(sessionID uuid.UUID, envelope models.EventEnvelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast envelope",
			slog.String("session_id", sessionID.String()),
			slog.String("type", envelope.Type),
			slog.String("error", err.Error()))
		return
	}

	// Snapshot under the lock, send outside it.
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.sessions[sessionID]))
	for sub := range h.sessions[sessionID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := h.sendRaw(sub, data); err != nil {
			h.logger.Warn("Failed to send to WebSocket subscriber",
				slog.String("subscriber_id", sub.ID.String()),
				slog.String("error", err.Error()))
			sub.cancel()
		}
	}
}

// Send writes an envelope to a single subscriber.
func (h *Hub) Send(sub *Subscriber, envelope models.EventEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return h.sendRaw(sub, data)
}

// Touch records subscriber liveness after a client pong.
func (h *Hub) Touch(sub *Subscriber) {
	sub.mu.Lock()
	sub.lastSeen = time.Now()
	sub.mu.Unlock()
}

// SubscriberCount returns the number of subscribers attached to a session.
func (h *Hub) SubscriberCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Close cancels every subscriber and heartbeat.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID, subs := range h.sessions {
		for sub := range subs {
			sub.cancel()
		}
		if cancelHB, ok := h.heartbeats[sessionID]; ok {
			cancelHB()
			delete(h.heartbeats, sessionID)
		}
		delete(h.sessions, sessionID)
	}
}

// heartbeat emits a system.ping to the session until canceled.
func (h *Hub) heartbeat(ctx context.Context, sessionID uuid.UUID) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Broadcast(sessionID, models.NewServerEnvelope(sessionID, models.EventTypePing, nil))
		}
	}
}

func (h *Hub) sendRaw(sub *Subscriber, data []byte) error {
	writeCtx, cancel := context.WithTimeout(sub.ctx, h.writeTimeout)
	defer cancel()
	return sub.conn.Write(writeCtx, data)
}
