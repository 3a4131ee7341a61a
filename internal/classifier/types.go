package classifier

import "time"

// Intent is the coarse business domain a message belongs to.
type Intent string

const (
	IntentFinancial Intent = "financial"
	IntentMarketing Intent = "marketing"
	IntentHR        Intent = "hr"
	IntentGeneral   Intent = "general"
)

// Valid reports whether the intent is one of the four known domains.
func (i Intent) Valid() bool {
	switch i {
	case IntentFinancial, IntentMarketing, IntentHR, IntentGeneral:
		return true
	}
	return false
}

// Agent returns the response-generating agent recommended for the intent.
// The default agent is the most generally capable one.
func (i Intent) Agent() string {
	switch i {
	case IntentFinancial:
		return "finance-agent"
	case IntentMarketing:
		return "marketing-agent"
	case IntentHR:
		return "hr-agent"
	default:
		return "default-agent"
	}
}

// Urgency is the classifier-assigned priority level.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Valid reports whether the urgency is a known level.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// Priority maps urgency onto a numeric dispatch priority.
func (u Urgency) Priority() int {
	switch u {
	case UrgencyCritical:
		return 3
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 1
	case UrgencyLow:
		return 0
	default:
		return 1
	}
}

// Stage describes how a message relates to the prior exchange.
type Stage string

const (
	StageInitial       Stage = "initial"
	StageContinuation  Stage = "continuation"
	StageClarification Stage = "clarification"
	StageCorrection    Stage = "correction"
	StageDeepening     Stage = "deepening"
)

// Valid reports whether the stage is a known value.
func (s Stage) Valid() bool {
	switch s {
	case StageInitial, StageContinuation, StageClarification, StageCorrection, StageDeepening:
		return true
	}
	return false
}

// SecondaryOther is the catch-all secondary intent within every domain.
const SecondaryOther = "other"

// secondaryIntents scopes the recognized secondary intents per primary intent.
var secondaryIntents = map[Intent][]string{
	IntentFinancial: {
		"record_transaction", "check_balance", "create_category", "generate_report",
		"plan_budget", "analyze_margin", "query_history", SecondaryOther,
	},
	IntentMarketing: {
		"create_campaign", "analyze_competition", "sales_strategy", "social_media",
		"customer_segmentation", "product_promotion", "performance_metrics", SecondaryOther,
	},
	IntentHR: {
		"hire_employee", "performance_review", "conflict_management", "team_training",
		"company_policy", "org_climate", "career_plan", SecondaryOther,
	},
	IntentGeneral: {
		"conceptual_question", "general_guidance", "emotional_support", "basic_information", SecondaryOther,
	},
}

// validSecondary reports whether secondary is in scope for the primary intent.
func validSecondary(primary Intent, secondary string) bool {
	for _, s := range secondaryIntents[primary] {
		if s == secondary {
			return true
		}
	}
	return false
}

// Result is the canonical, immutable output of one classification.
type Result struct {
	PrimaryIntent   Intent  `json:"primary_intent"`
	SecondaryIntent string  `json:"secondary_intent"`
	Urgency         Urgency `json:"urgency"`
	Stage           Stage   `json:"conversation_context"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
}

// Outcome is a Result plus execution metadata: the routing decision handed
// to the agent dispatcher.
type Outcome struct {
	Result            Result        `json:"classification"`
	AgentID           string        `json:"agent_id"`
	Priority          int           `json:"priority"`
	CacheHit          bool          `json:"cache_hit"`
	Success           bool          `json:"success"`
	ResponseTime      time.Duration `json:"response_time"`
	ExperimentVariant string        `json:"experiment_variant,omitempty"`
}
