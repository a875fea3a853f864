package models

import (
	"time"

	"github.com/google/uuid"
)

// Rule kinds. Rules are configuration, not events.
const (
	RuleKindKeywordAlert     = "keyword_alert"
	RuleKindProhibitedClaim  = "prohibited_claim"
	RuleKindRequiredQuestion = "required_question"
)

// RuleSetStatusActive marks rulesets whose rules are evaluated.
const RuleSetStatusActive = "active"

// RuleSet groups rules under a tenancy scope and version.
type RuleSet struct {
	ID         uuid.UUID `json:"id"`
	TenantID   *string   `json:"tenant_id"`
	OrgID      *string   `json:"org_id"`
	LocationID *string   `json:"location_id"`
	CampaignID *string   `json:"campaign_id"`
	Version    int       `json:"version"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Rule is a configured pattern matcher. Config is free-form JSON whose shape
// depends on Kind; see pkg/rules for the accessors.
type Rule struct {
	ID        uuid.UUID      `json:"id"`
	RulesetID uuid.UUID      `json:"ruleset_id"`
	Kind      string         `json:"kind"`
	Config    map[string]any `json:"config"`
	Enabled   bool           `json:"enabled"`
}
