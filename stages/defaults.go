package stages

import (
	"strings"
	"time"

	"github.com/songzhibin97/complaint-engine/types"
)

// The Default* constructors build the placeholder result used when a stage
// failed. They are fully populated and report zero confidence.

func DefaultIntake(in IntakeInput, complaintID string, now time.Time) types.IntakeResult {
	return types.IntakeResult{
		ComplaintID:    complaintID,
		NormalizedText: strings.TrimSpace(in.RawText),
		RawText:        in.RawText,
		Channel:        in.Channel,
		Language:       "en",
		WordCount:      len(strings.Fields(in.RawText)),
		UrgencySignals: []string{},
		KeyEntities:    []string{},
		ReceivedAt:     now.UTC(),
	}
}

func DefaultContext(in ContextInput) types.ContextResult {
	return types.ContextResult{
		CustomerID: in.CustomerID,
		Profile:    profileSummary(in.Profile),
		Metrics:    types.ComplaintMetrics{ResolutionRate: 1.0},
		Risk: types.RiskAssessment{
			SentimentTrend: types.TrendUnknown,
		},
		RecentInteractions: []types.Interaction{},
		OpenComplaints:     []types.OpenComplaint{},
	}
}

func DefaultClassification() types.ClassificationResult {
	return types.ClassificationResult{
		Categories:          []types.CategoryScore{{Name: CategoryOther, Confidence: classificationDefaultConfidence}},
		PrimaryCategory:     CategoryOther,
		Sentiment:           types.SentimentNeutral,
		SentimentScore:      0.5,
		Intent:              IntentDefault,
		SecondaryIntents:    []string{},
		KeyIssues:           []string{},
		EmotionalIndicators: []string{},
		EscalationSignals:   []string{},
	}
}

func DefaultPriority() types.PriorityResult {
	return types.PriorityResult{
		Score:        defaultBasePriority + 1,
		Level:        types.PriorityMedium,
		Factors:      []string{},
		BasePriority: defaultBasePriority + 1,
		Reasoning:    "Priority unavailable, defaulted to medium",
	}
}

func DefaultResponse(iteration int) types.ResponseResult {
	return types.ResponseResult{
		Parts:              types.ResponseParts{Actions: []string{}},
		RecommendedActions: []string{"Write response manually"},
		Tone:               string(types.SentimentNeutral),
		Iteration:          iteration,
	}
}

func DefaultValidation() types.ValidationResult {
	return types.ValidationResult{
		Issues:      []string{"Validation unavailable"},
		Suggestions: []string{},
		Feedback:    "Validation could not be completed.",
	}
}

// DefaultEscalation routes to human review without escalating.
func DefaultEscalation(in EscalationInput, now time.Time) types.EscalationResult {
	team, ok := teamAssignments[in.Classification.PrimaryCategory]
	if !ok {
		team = TeamGeneral
	}
	return types.EscalationResult{
		LevelName:             levelNames[LevelNone],
		Reasons:               []string{},
		AssignedTeam:          team,
		SLADeadline:           now.UTC().Add(defaultSLAMinutes * time.Minute),
		SLAMinutes:            defaultSLAMinutes,
		RequiresHumanReview:   true,
		ActionRecommendations: []string{"Require human review of response before sending"},
		Routing:               types.RoutingDecision{Type: RouteReview, Destination: team},
	}
}
