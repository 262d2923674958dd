package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/songzhibin97/complaint-engine/types"
)

const (
	escalationConfidence = 0.95
	defaultSLAMinutes    = 480
	followUpChurnRisk    = 0.5

	TeamLegal   = "legal_team"
	TeamGeneral = "general_support"
)

// Escalation levels.
const (
	LevelNone = iota
	LevelTeamLead
	LevelSupervisor
	LevelManager
)

// Routing decision types.
const (
	RouteEscalate = "escalate"
	RouteAutoSend = "auto_send"
	RouteReview   = "queue_for_review"
)

// Escalation reasons.
const (
	ReasonCritical      = "Critical priority complaint"
	ReasonHigh          = "High priority complaint"
	ReasonIterationCap  = "Response generation failed after max iterations"
	ReasonLegal         = "Legal/compliance concern"
	ReasonVIP           = "VIP customer"
	ReasonRepeatDecline = "Repeat complainant with declining sentiment"
	ReasonHighChurn     = "High churn risk"
)

var teamAssignments = map[string]string{
	"Billing":   "billing_team",
	"Shipping":  "logistics_team",
	"Product":   "product_team",
	"Technical": "technical_support",
	"Legal":     TeamLegal,
	"Service":   "customer_success",
	"Feedback":  "product_feedback",
	"Other":     TeamGeneral,
}

// SLAMinutes is the response budget per priority level.
var SLAMinutes = map[types.PriorityLevel]int{
	types.PriorityCritical: 60,
	types.PriorityHigh:     240,
	types.PriorityMedium:   480,
	types.PriorityLow:      1440,
	types.PriorityMinimal:  2880,
}

var levelNames = []string{"ai_auto", "team_lead", "supervisor", "manager"}

// EscalationInput is the state the routing decision depends on.
type EscalationInput struct {
	Priority       types.PriorityResult       `json:"priority"`
	Classification types.ClassificationResult `json:"classification"`
	Validation     types.ValidationResult     `json:"validation"`
	Context        types.ContextResult        `json:"customer_context"`
	IterationCount int                        `json:"iteration_count"`
	MaxIterations  int                        `json:"max_iterations"`
}

// Escalation decides routing, escalation level and SLA. It never consults
// the reasoning service.
type Escalation struct {
	base
}

// NewEscalation creates the escalation stage.
func NewEscalation(options ...Option) *Escalation {
	return &Escalation{base: newBase(options...)}
}

func (s *Escalation) Name() string { return NameEscalation }

func (s *Escalation) Execute(_ context.Context, in EscalationInput) (types.EscalationResult, error) {
	return Decide(in, s.now()), nil
}

// Decide computes the escalation decision at the given time. Levels from
// independent triggers combine by max, never by sum.
func Decide(in EscalationInput, now time.Time) types.EscalationResult {
	score := in.Priority.Score
	category := in.Classification.PrimaryCategory
	maxIterations := in.MaxIterations
	if maxIterations <= 0 {
		maxIterations = types.DefaultMaxIterations
	}

	team, ok := teamAssignments[category]
	if !ok {
		team = TeamGeneral
	}

	var (
		escalate bool
		level    = LevelNone
		reasons  = []string{}
	)
	raise := func(l int) {
		if l > level {
			level = l
		}
	}

	switch {
	case score >= 5:
		escalate = true
		raise(LevelSupervisor)
		reasons = append(reasons, ReasonCritical)
	case score >= 4:
		escalate = true
		raise(LevelTeamLead)
		reasons = append(reasons, ReasonHigh)
	}

	if !in.Validation.Approved && in.IterationCount >= maxIterations {
		escalate = true
		raise(LevelTeamLead)
		reasons = append(reasons, ReasonIterationCap)
	}

	if legalConcern(in) {
		escalate = true
		raise(LevelManager)
		reasons = append(reasons, ReasonLegal)
		team = TeamLegal
	}

	if IsVIP(in.Context.Profile.Tier) {
		raise(LevelTeamLead)
		if score >= 4 {
			reasons = append(reasons, ReasonVIP)
		}
	}

	risk := in.Context.Risk
	if risk.IsRepeatComplainant && risk.SentimentTrend == types.TrendDeclining {
		escalate = true
		raise(LevelTeamLead)
		reasons = append(reasons, ReasonRepeatDecline)
	}

	if risk.ChurnRiskScore > churnRiskThreshold {
		raise(LevelTeamLead)
		reasons = append(reasons, ReasonHighChurn)
	}

	slaMinutes, ok := SLAMinutes[in.Priority.Level]
	if !ok {
		slaMinutes = defaultSLAMinutes
	}
	levelName := levelNames[level]
	autoSend := !escalate && in.Validation.Approved && score <= 3

	actions := []string{}
	if escalate {
		actions = append(actions, fmt.Sprintf("Route to %s for review", levelName))
	}
	if score >= 4 {
		actions = append(actions, "Monitor for SLA compliance")
	}
	if risk.ChurnRiskScore > followUpChurnRisk {
		actions = append(actions, "Schedule follow-up check")
	}
	if !in.Validation.Approved {
		actions = append(actions, "Require human review of response before sending")
	}

	routing := RouteReview
	switch {
	case escalate:
		routing = RouteEscalate
	case autoSend:
		routing = RouteAutoSend
	}

	return types.EscalationResult{
		ShouldEscalate:        escalate,
		Level:                 level,
		LevelName:             levelName,
		Reasons:               reasons,
		AssignedTeam:          team,
		SLADeadline:           now.UTC().Add(time.Duration(slaMinutes) * time.Minute),
		SLAMinutes:            slaMinutes,
		AutoSendEligible:      autoSend,
		RequiresHumanReview:   escalate || score >= 4,
		ActionRecommendations: actions,
		Routing: types.RoutingDecision{
			Type:         routing,
			Destination:  team,
			PriorityFlag: in.Priority.Level == types.PriorityCritical || in.Priority.Level == types.PriorityHigh,
		},
		Assessment: types.Assessment{Confidence: escalationConfidence},
	}
}

// legalConcern reports a Legal category, a legal_threat priority factor, or
// any legal escalation signal.
func legalConcern(in EscalationInput) bool {
	if in.Classification.PrimaryCategory == CategoryLegal || in.Priority.HasFactor(FactorLegalThreat) {
		return true
	}
	for _, signal := range in.Classification.EscalationSignals {
		if kind, ok := threatKind(signal); ok && kind == threatLegal {
			return true
		}
	}
	return false
}
