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

// LoadActiveRules returns the enabled rules of active rulesets whose scope
// is global (tenant_id NULL) or matches the given tenant. A nil tenant loads
// only global rulesets. Matching the remaining scope tags is reserved.
func (s *Store) LoadActiveRules(ctx context.Context, tenantID *string) ([]models.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.ruleset_id, r.kind, r.config, r.enabled
		 FROM rules r
		 JOIN rulesets rs ON rs.id = r.ruleset_id
		 WHERE r.enabled AND rs.status = $1
		   AND (rs.tenant_id IS NULL OR rs.tenant_id = $2)`,
		models.RuleSetStatusActive, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var (
			r          models.Rule
			configJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.RulesetID, &r.Kind, &configJSON, &r.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &r.Config); err != nil {
				return nil, fmt.Errorf("failed to decode rule config: %w", err)
			}
		}
		if r.Config == nil {
			r.Config = map[string]any{}
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

// SeedRule is one rule definition to seed into the global ruleset.
type SeedRule struct {
	Kind   string
	Config map[string]any
}

// SeedGlobalRules ensures a global active ruleset exists and inserts any of
// the given rules not already present (matched by config "id"). Returns the
// number of rules inserted.
func (s *Store) SeedGlobalRules(ctx context.Context, seeds []SeedRule) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rulesetID uuid.UUID
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM rulesets
		 WHERE tenant_id IS NULL AND org_id IS NULL
		   AND location_id IS NULL AND campaign_id IS NULL
		   AND status = $1
		 LIMIT 1`,
		models.RuleSetStatusActive).Scan(&rulesetID)
	if errors.Is(err, stdsql.ErrNoRows) {
		rulesetID = uuid.New()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rulesets (id, version, status, created_at) VALUES ($1, 1, $2, $3)`,
			rulesetID, models.RuleSetStatusActive, time.Now().UTC()); err != nil {
			return 0, fmt.Errorf("failed to create global ruleset: %w", err)
		}
	} else if err != nil {
		return 0, fmt.Errorf("failed to look up global ruleset: %w", err)
	}

	existing := map[string]bool{}
	rows, err := tx.QueryContext(ctx,
		`SELECT config->>'id' FROM rules WHERE ruleset_id = $1`, rulesetID)
	if err != nil {
		return 0, fmt.Errorf("failed to list existing rules: %w", err)
	}
	for rows.Next() {
		var id stdsql.NullString
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan existing rule id: %w", err)
		}
		if id.Valid {
			existing[id.String] = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("failed to iterate existing rules: %w", err)
	}
	rows.Close()

	seeded := 0
	for _, seed := range seeds {
		if id, ok := seed.Config["id"].(string); ok && existing[id] {
			continue
		}
		configJSON, err := json.Marshal(seed.Config)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal seed rule config: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rules (id, ruleset_id, kind, config, enabled) VALUES ($1, $2, $3, $4, TRUE)`,
			uuid.New(), rulesetID, seed.Kind, configJSON); err != nil {
			return 0, fmt.Errorf("failed to insert seed rule: %w", err)
		}
		seeded++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit seed transaction: %w", err)
	}
	return seeded, nil
}
