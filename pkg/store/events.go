package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
)

// AppendEvent durably appends an event to a session's log and returns the
// assigned server_seq. The whole read-max + insert runs inside one
// transaction holding the session's advisory lock, so concurrent appends to
// the same session serialize and the sequence stays dense. The lock is a
// pg_advisory_xact_lock, released by commit or rollback — a cancelled caller
// cannot leak it.
//
// A retry carrying an already-stored (session_id, event_id) returns the
// previously assigned sequence with fresh=false and stores nothing.
// Appending to a completed session fails with ErrSessionCompleted.
func (s *Store) AppendEvent(ctx context.Context, sessionID, eventID uuid.UUID, eventType string, payload map[string]any) (seq int64, fresh bool, err error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock($1)`, sessionLockKey(sessionID)); err != nil {
		return 0, false, fmt.Errorf("failed to acquire session lock: %w", err)
	}

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM call_sessions WHERE id = $1`, sessionID).Scan(&status)
	if errors.Is(err, stdsql.ErrNoRows) {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read session status: %w", err)
	}
	if status != models.SessionStatusActive {
		return 0, false, ErrSessionCompleted
	}

	var maxSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(server_seq), 0) FROM call_events WHERE session_id = $1`,
		sessionID).Scan(&maxSeq); err != nil {
		return 0, false, fmt.Errorf("failed to read max server_seq: %w", err)
	}
	next := maxSeq + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO call_events (id, session_id, event_id, server_seq, type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), sessionID, eventID, next, eventType, payloadJSON, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err, "uq_session_event") {
			// A concurrent retry with the same event_id already committed.
			_ = tx.Rollback()
			return s.existingSeq(ctx, sessionID, eventID)
		}
		return 0, false, fmt.Errorf("failed to insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err, "uq_session_event") {
			return s.existingSeq(ctx, sessionID, eventID)
		}
		return 0, false, fmt.Errorf("failed to commit event: %w", err)
	}

	return next, true, nil
}

// existingSeq looks up the server_seq previously assigned to
// (session_id, event_id) after an idempotency collision.
func (s *Store) existingSeq(ctx context.Context, sessionID, eventID uuid.UUID) (int64, bool, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT server_seq FROM call_events WHERE session_id = $1 AND event_id = $2`,
		sessionID, eventID).Scan(&seq)
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve duplicate event: %w", err)
	}
	return seq, false, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			e           models.Event
			payloadJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventID, &e.ServerSeq, &e.Type, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode event payload: %w", err)
			}
		}
		if e.Payload == nil {
			e.Payload = map[string]any{}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

const eventColumns = `id, session_id, event_id, server_seq, type, payload, created_at`

// EventsAfter returns the session's events with server_seq > cursor in
// ascending order. Used by resume replay.
func (s *Store) EventsAfter(ctx context.Context, sessionID uuid.UUID, cursor int64) ([]models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM call_events
		 WHERE session_id = $1 AND server_seq > $2
		 ORDER BY server_seq ASC`,
		sessionID, cursor)
}

// RecentTranscriptSegments returns the most recent limit transcript segments
// in ascending server_seq order. Used to assemble guidance context.
func (s *Store) RecentTranscriptSegments(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.Event, error) {
	events, err := s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM call_events
		 WHERE session_id = $1 AND type = $2
		 ORDER BY server_seq DESC
		 LIMIT $3`,
		sessionID, models.EventTypeTranscriptSegment, limit)
	if err != nil {
		return nil, err
	}
	// Reverse into ascending order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// TranscriptEvents returns all transcript events (segments and finals) in
// server_seq order. Used for the end-of-call summary.
func (s *Store) TranscriptEvents(ctx context.Context, sessionID uuid.UUID) ([]models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM call_events
		 WHERE session_id = $1 AND type IN ($2, $3)
		 ORDER BY server_seq ASC`,
		sessionID, models.EventTypeTranscriptSegment, models.EventTypeTranscriptFinal)
}
