package rules

import "github.com/jackcarlos19/csr-call-assistant/pkg/store"

// DefaultSeedRules is the home-services starter rule corpus seeded into the
// global ruleset by cmd/seed-rules.
func DefaultSeedRules() []store.SeedRule {
	return []store.SeedRule{
		{
			Kind: "keyword_alert",
			Config: map[string]any{
				"id":       "competitor_mention",
				"patterns": []any{"CoolBreeze", "AC Pro", "One Hour", "competitor"},
				"severity": "info",
				"message":  "Competitor mentioned — acknowledge and redirect to our value proposition",
			},
		},
		{
			Kind: "keyword_alert",
			Config: map[string]any{
				"id":       "price_concern",
				"patterns": []any{"how much", "cost", "expensive", "afford", "price"},
				"severity": "info",
				"message":  "Price sensitivity detected — emphasize value and financing options",
			},
		},
		{
			Kind: "keyword_alert",
			Config: map[string]any{
				"id":       "emergency_urgency",
				"patterns": []any{"emergency", "urgent", "can't stop", "flooding", "burst", "fire"},
				"severity": "high",
				"message":  "Emergency call — prioritize dispatch, ask safety questions first",
			},
		},
		{
			Kind: "keyword_alert",
			Config: map[string]any{
				"id":       "upsell_opportunity",
				"patterns": []any{"annual plan", "membership", "protection plan", "monthly plan"},
				"severity": "info",
				"message":  "Upsell in progress — ensure no prohibited pricing claims",
			},
		},
		{
			Kind: "keyword_alert",
			Config: map[string]any{
				"id":       "cancellation_mention",
				"patterns": []any{"cancel", "cancellation", "terminate", "end my service"},
				"severity": "warning",
				"message":  "Cancellation/churn signal — follow retention protocol",
			},
		},
		{
			Kind: "required_question",
			Config: map[string]any{
				"id":               "confirm_service_address",
				"question":         "Confirm the service address",
				"satisfy_patterns": []any{"address", "where.*service", "location"},
			},
		},
		{
			Kind: "required_question",
			Config: map[string]any{
				"id":               "confirm_callback_number",
				"question":         "Confirm callback phone number",
				"satisfy_patterns": []any{"phone.*number", "reach you", "callback", "contact.*number"},
			},
		},
		{
			Kind: "required_question",
			Config: map[string]any{
				"id":               "confirm_home_warranty",
				"question":         "Ask about home warranty",
				"satisfy_patterns": []any{"home warranty", "warranty.*cover"},
			},
		},
		{
			Kind: "required_question",
			Config: map[string]any{
				"id":               "confirm_water_shutoff",
				"question":         "Ask if customer located water shutoff valve",
				"satisfy_patterns": []any{"shutoff", "shut.*off.*valve", "main.*water"},
			},
		},
		{
			Kind: "required_question",
			Config: map[string]any{
				"id":               "confirm_pets_children",
				"question":         "Confirm children or pets in home",
				"satisfy_patterns": []any{"children", "pets", "kids", "animals.*home"},
			},
		},
		{
			Kind: "required_question",
			Config: map[string]any{
				"id":               "confirm_pest_type",
				"question":         "Identify pest type",
				"satisfy_patterns": []any{"what.*type", "what.*kind", "describe.*pest", "what.*seeing"},
			},
		},
		{
			Kind: "prohibited_claim",
			Config: map[string]any{
				"id":       "guarantee_same_day",
				"patterns": []any{"guarantee.*today", "guarantee.*same.day", "promise.*today"},
				"severity": "critical",
				"message":  "PROHIBITED: Cannot guarantee same-day service. Say 'We will do our best to schedule today' instead.",
			},
		},
		{
			Kind: "prohibited_claim",
			Config: map[string]any{
				"id":       "price_lock_guarantee",
				"patterns": []any{"guarantee.*price", "price.*won't.*go up", "lock.*rate", "promise.*price"},
				"severity": "critical",
				"message":  "PROHIBITED: Cannot guarantee future pricing. Say 'Current pricing is...' without future commitments.",
			},
		},
	}
}
