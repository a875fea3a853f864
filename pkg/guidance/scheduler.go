// Package guidance debounces transcript activity into LLM guidance events.
// Every transcript append arms (or re-arms) a per-session timer; when the
// timer fires, recent transcript context is summarized into a
// server.guidance_update that is persisted and fanned out.
package guidance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackcarlos19/csr-call-assistant/pkg/llm"
	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
)

// contextSegments caps how many recent transcript segments feed one prompt.
const contextSegments = 20

// generateTimeout bounds one guidance generation end to end.
const generateTimeout = 30 * time.Second

// TranscriptReader reads recent transcript segments for prompt context.
type TranscriptReader interface {
	RecentTranscriptSegments(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.Event, error)
}

// Appender appends server events to the session log.
type Appender interface {
	AppendEvent(ctx context.Context, sessionID, eventID uuid.UUID, eventType string, payload map[string]any) (int64, bool, error)
}

// Generator produces structured completions. Implemented by llm.Client.
type Generator interface {
	Complete(ctx context.Context, messages []llm.Message, schema llm.Schema) (map[string]any, error)
}

// Broadcaster fans events out to a session's subscribers. Implemented by hub.Hub.
type Broadcaster interface {
	Broadcast(sessionID uuid.UUID, envelope models.EventEnvelope)
}

// Scheduler owns the per-session debounce timers.
type Scheduler struct {
	store     TranscriptReader
	appender  Appender
	generator Generator
	hub       Broadcaster
	logger    *slog.Logger

	debounce time.Duration

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
	closed bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(s *Scheduler) { s.debounce = d }
}

// NewScheduler creates a Scheduler with a 1.5 second debounce window.
func NewScheduler(store TranscriptReader, appender Appender, generator Generator, hub Broadcaster, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     store,
		appender:  appender,
		generator: generator,
		hub:       hub,
		logger:    logger,
		debounce:  1500 * time.Millisecond,
		timers:    make(map[uuid.UUID]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms the session's debounce timer, resetting it if already armed.
// Guidance generates once per quiet period, not once per segment.
func (s *Scheduler) Schedule(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if timer, ok := s.timers[sessionID]; ok {
		timer.Stop()
	}
	s.timers[sessionID] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.timers, sessionID)
		s.mu.Unlock()
		s.run(sessionID)
	})
}

// Cancel disarms any pending timer for the session. Called when a session
// completes or loses its last subscriber.
func (s *Scheduler) Cancel(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[sessionID]; ok {
		timer.Stop()
		delete(s.timers, sessionID)
	}
}

// Close disarms every timer and rejects further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for sessionID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, sessionID)
	}
}

// run generates one guidance event. Failures are logged and swallowed: the
// transcript path must never stall on the LLM.
func (s *Scheduler) run(sessionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
	defer cancel()

	segments, err := s.store.RecentTranscriptSegments(ctx, sessionID, contextSegments)
	if err != nil {
		s.logger.Error("Failed to read transcript for guidance",
			slog.String("session_id", sessionID.String()),
			slog.String("error", err.Error()))
		return
	}
	lines := llm.ConversationLines(segments)
	if len(lines) == 0 {
		return
	}

	out, err := s.generator.Complete(ctx, llm.GuidanceMessages(lines), llm.GuidanceSchema())
	if err != nil {
		s.logger.Error("Guidance generation failed",
			slog.String("session_id", sessionID.String()),
			slog.String("error", err.Error()))
		return
	}

	envelope := models.NewServerEnvelope(sessionID, models.EventTypeGuidanceUpdate, out)
	seq, _, err := s.appender.AppendEvent(ctx, sessionID, envelope.EventID, envelope.Type, envelope.Payload)
	if err != nil {
		// Session may have completed while generating.
		s.logger.Warn("Failed to persist guidance event",
			slog.String("session_id", sessionID.String()),
			slog.String("error", err.Error()))
		return
	}
	envelope.ServerSeq = &seq

	s.hub.Broadcast(sessionID, envelope)
}
