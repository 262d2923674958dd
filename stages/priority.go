package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/songzhibin97/complaint-engine/types"
)

const (
	priorityConfidence  = 0.95
	defaultBasePriority = 2
	maxPriorityScore    = 5
	reviewThreshold     = 4
	churnRiskThreshold  = 0.7
	highValueThreshold  = 5000
)

// Factor names reported by the priority stage.
const (
	FactorAngry            = "angry_sentiment"
	FactorFrustrated       = "frustrated_sentiment"
	FactorVIP              = "vip_customer"
	FactorRepeatComplaint  = "repeat_complaint"
	FactorPrevious         = "previous_complaint"
	FactorLegalThreat      = "legal_threat"
	FactorChargebackThreat = "chargeback_threat"
	FactorSocialThreat     = "social_media_threat"
	FactorUrgency          = "urgency_detected"
	FactorHighChurn        = "high_churn_risk"
	FactorHighValue        = "high_ltv_customer"
)

var basePriority = map[string]int{
	"Legal":     4,
	"Billing":   3,
	"Shipping":  3,
	"Product":   2,
	"Technical": 2,
	"Service":   2,
	"Feedback":  1,
	"Other":     2,
}

var priorityLevels = map[int]types.PriorityLevel{
	5: types.PriorityCritical,
	4: types.PriorityHigh,
	3: types.PriorityMedium,
	2: types.PriorityLow,
	1: types.PriorityMinimal,
}

var threatBonus = map[string]struct {
	points int
	factor string
	label  string
}{
	threatLegal:      {3, FactorLegalThreat, "legal threat"},
	threatChargeback: {3, FactorChargebackThreat, "chargeback threat"},
	threatSocial:     {2, FactorSocialThreat, "social media threat"},
}

// IsVIP reports whether the tier earns VIP handling.
func IsVIP(tier string) bool {
	return tier == "Gold" || tier == "Platinum"
}

// PriorityInput carries everything the score depends on.
type PriorityInput struct {
	Classification types.ClassificationResult `json:"classification"`
	Context        types.ContextResult        `json:"customer_context"`
	UrgencySignals []string                   `json:"urgency_signals"`
}

// Priority scores a complaint by point accumulation. It is a pure function of
// its input and never consults the reasoning service.
type Priority struct {
	base
}

// NewPriority creates the priority stage.
func NewPriority(options ...Option) *Priority {
	return &Priority{base: newBase(options...)}
}

func (s *Priority) Name() string { return NamePriority }

func (s *Priority) Execute(_ context.Context, in PriorityInput) (types.PriorityResult, error) {
	return ScorePriority(in), nil
}

// ScorePriority computes the priority score, level and contributing factors.
func ScorePriority(in PriorityInput) types.PriorityResult {
	category := in.Classification.PrimaryCategory
	if category == "" {
		category = CategoryOther
	}
	basePoints, ok := basePriority[category]
	if !ok {
		basePoints = defaultBasePriority
	}

	var (
		modifiers int
		factors   = []string{}
		reasons   = []string{fmt.Sprintf("Base priority for %s: %d", category, basePoints)}
	)
	add := func(points int, factor, reason string) {
		modifiers += points
		factors = append(factors, factor)
		reasons = append(reasons, reason)
	}

	switch in.Classification.Sentiment {
	case types.SentimentAngry:
		add(2, FactorAngry, "+2 for angry sentiment")
	case types.SentimentFrustrated:
		add(1, FactorFrustrated, "+1 for frustrated sentiment")
	}

	if tier := in.Context.Profile.Tier; IsVIP(tier) {
		add(1, FactorVIP, fmt.Sprintf("+1 for %s tier customer", tier))
	}

	switch total := in.Context.Metrics.TotalComplaints; {
	case total >= 3:
		add(2, FactorRepeatComplaint, fmt.Sprintf("+2 for repeat complainant (%d previous)", total))
	case total >= 1:
		add(1, FactorPrevious, "+1 for previous complaint history")
	}

	// Only the first recognised threat counts.
	for _, signal := range in.Classification.EscalationSignals {
		if kind, ok := threatKind(signal); ok {
			bonus := threatBonus[kind]
			add(bonus.points, bonus.factor, fmt.Sprintf("+%d for %s", bonus.points, bonus.label))
			break
		}
	}

	if len(in.UrgencySignals) > 0 {
		add(1, FactorUrgency, "+1 for urgency signals")
	}
	if in.Context.Risk.ChurnRiskScore > churnRiskThreshold {
		add(1, FactorHighChurn, "+1 for high churn risk")
	}
	if ltv := in.Context.Profile.LifetimeValue; ltv > highValueThreshold {
		add(1, FactorHighValue, fmt.Sprintf("+1 for high LTV ($%.2f)", ltv))
	}

	score := basePoints + modifiers
	if score > maxPriorityScore {
		score = maxPriorityScore
	}
	if score < 1 {
		score = 1
	}
	level := priorityLevels[score]
	reasons = append(reasons, fmt.Sprintf("Final priority: %d (%s)", score, level))

	return types.PriorityResult{
		Score:               score,
		Level:               level,
		Factors:             factors,
		BasePriority:        basePoints,
		Modifiers:           modifiers,
		Reasoning:           strings.Join(reasons, " | "),
		RequiresHumanReview: score >= reviewThreshold,
		Assessment:          types.Assessment{Confidence: priorityConfidence},
	}
}
