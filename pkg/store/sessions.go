package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
)

const sessionColumns = `id, created_at, status, tenant_id, org_id, location_id, campaign_id, ended_at, summary, disposition`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.CreatedAt, &s.Status,
		&s.TenantID, &s.OrgID, &s.LocationID, &s.CampaignID,
		&s.EndedAt, &s.Summary, &s.Disposition,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSession inserts a new active session carrying the given scope tags.
func (s *Store) CreateSession(ctx context.Context, scope models.SessionScope) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO call_sessions (id, created_at, status, tenant_id, org_id, location_id, campaign_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+sessionColumns,
		uuid.New(), time.Now().UTC(), models.SessionStatusActive,
		scope.TenantID, scope.OrgID, scope.LocationID, scope.CampaignID,
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// GetSession fetches a session by id. Returns ErrNotFound if absent.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// CompleteSession atomically transitions a session to completed, setting
// ended_at, summary, and disposition. The transition happens at most once:
// if the session is already completed the stored values are returned and the
// new ones discarded.
func (s *Store) CompleteSession(ctx context.Context, id uuid.UUID, summary, disposition string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE call_sessions
		 SET status = $2, ended_at = $3, summary = $4, disposition = $5
		 WHERE id = $1 AND status = $6
		 RETURNING `+sessionColumns,
		id, models.SessionStatusCompleted, time.Now().UTC(), summary, disposition,
		models.SessionStatusActive,
	)
	sess, err := scanSession(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		// Lost the race or already completed — return whatever is stored.
		return s.GetSession(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete session: %w", err)
	}
	return sess, nil
}
