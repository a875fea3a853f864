package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *fakeConn) received() []models.EventEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.EventEnvelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env models.EventEnvelope
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBroadcast_AllSubscribers(t *testing.T) {
	h := New(time.Second, testLogger())
	defer h.Close()
	sessionID := uuid.New()

	c1, c2 := &fakeConn{}, &fakeConn{}
	h.Register(context.Background(), sessionID, c1)
	h.Register(context.Background(), sessionID, c2)

	env := models.NewServerEnvelope(sessionID, models.EventTypeGuidanceUpdate, map[string]any{"suggested_reply": "hi"})
	h.Broadcast(sessionID, env)

	for _, c := range []*fakeConn{c1, c2} {
		got := c.received()
		require.Len(t, got, 1)
		assert.Equal(t, models.EventTypeGuidanceUpdate, got[0].Type)
		assert.Equal(t, env.EventID, got[0].EventID)
	}
}

func TestBroadcast_SessionIsolation(t *testing.T) {
	h := New(time.Second, testLogger())
	defer h.Close()

	sessionA, sessionB := uuid.New(), uuid.New()
	connA, connB := &fakeConn{}, &fakeConn{}
	h.Register(context.Background(), sessionA, connA)
	h.Register(context.Background(), sessionB, connB)

	h.Broadcast(sessionA, models.NewServerEnvelope(sessionA, models.EventTypeRuleAlert, nil))

	assert.Len(t, connA.received(), 1)
	assert.Empty(t, connB.received())
}

func TestBroadcast_FailedWriteCancelsSubscriber(t *testing.T) {
	h := New(time.Second, testLogger())
	defer h.Close()
	sessionID := uuid.New()

	bad := &fakeConn{err: errors.New("broken pipe")}
	sub := h.Register(context.Background(), sessionID, bad)

	h.Broadcast(sessionID, models.NewServerEnvelope(sessionID, models.EventTypePing, nil))

	select {
	case <-sub.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("subscriber context not canceled after failed write")
	}
}

func TestUnregister_LastSubscriberFiresCallback(t *testing.T) {
	var (
		mu      sync.Mutex
		emptied []uuid.UUID
	)
	h := New(time.Second, testLogger(), WithOnSessionEmpty(func(id uuid.UUID) {
		mu.Lock()
		emptied = append(emptied, id)
		mu.Unlock()
	}))
	defer h.Close()
	sessionID := uuid.New()

	sub1 := h.Register(context.Background(), sessionID, &fakeConn{})
	sub2 := h.Register(context.Background(), sessionID, &fakeConn{})
	require.Equal(t, 2, h.SubscriberCount(sessionID))

	h.Unregister(sub1)
	mu.Lock()
	assert.Empty(t, emptied)
	mu.Unlock()

	h.Unregister(sub2)
	assert.Equal(t, 0, h.SubscriberCount(sessionID))
	mu.Lock()
	assert.Equal(t, []uuid.UUID{sessionID}, emptied)
	mu.Unlock()
}

func TestUnregister_Idempotent(t *testing.T) {
	h := New(time.Second, testLogger())
	defer h.Close()
	sessionID := uuid.New()

	sub := h.Register(context.Background(), sessionID, &fakeConn{})
	h.Unregister(sub)
	h.Unregister(sub)
	assert.Equal(t, 0, h.SubscriberCount(sessionID))
}

func TestHeartbeat_PingsUntilSessionEmpty(t *testing.T) {
	h := New(time.Second, testLogger(), WithHeartbeatInterval(20*time.Millisecond))
	defer h.Close()
	sessionID := uuid.New()

	conn := &fakeConn{}
	sub := h.Register(context.Background(), sessionID, conn)

	require.Eventually(t, func() bool {
		for _, env := range conn.received() {
			if env.Type == models.EventTypePing {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	h.Unregister(sub)
	time.Sleep(50 * time.Millisecond)
	count := len(conn.received())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, len(conn.received()), "heartbeat kept pinging after last subscriber left")
}

func TestSend_SingleSubscriber(t *testing.T) {
	h := New(time.Second, testLogger())
	defer h.Close()
	sessionID := uuid.New()

	c1, c2 := &fakeConn{}, &fakeConn{}
	sub1 := h.Register(context.Background(), sessionID, c1)
	h.Register(context.Background(), sessionID, c2)

	require.NoError(t, h.Send(sub1, models.NewServerEnvelope(sessionID, models.EventTypeAck, nil)))
	assert.Len(t, c1.received(), 1)
	assert.Empty(t, c2.received())
}

func TestTouch_UpdatesLastSeen(t *testing.T) {
	h := New(time.Second, testLogger())
	defer h.Close()

	sub := h.Register(context.Background(), uuid.New(), &fakeConn{})
	before := sub.LastSeen()
	time.Sleep(5 * time.Millisecond)
	h.Touch(sub)
	assert.True(t, sub.LastSeen().After(before))
}
