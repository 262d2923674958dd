package stages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/complaint-engine/types"
)

func priorityInput(category string, sentiment types.Sentiment) PriorityInput {
	in := PriorityInput{}
	in.Classification.PrimaryCategory = category
	in.Classification.Sentiment = sentiment
	in.Context.Profile.Tier = "Standard"
	return in
}

func TestScorePriorityScenario(t *testing.T) {
	in := priorityInput("Product", types.SentimentAngry)
	in.Context.Metrics.TotalComplaints = 1

	result := ScorePriority(in)
	assert.Equal(t, 5, result.Score)
	assert.Equal(t, types.PriorityCritical, result.Level)
	assert.True(t, result.RequiresHumanReview)
	assert.Equal(t, 2, result.BasePriority)
	assert.Equal(t, 3, result.Modifiers)
	assert.Equal(t, []string{FactorAngry, FactorPrevious}, result.Factors)
	assert.Equal(t,
		"Base priority for Product: 2 | +2 for angry sentiment | +1 for previous complaint history | Final priority: 5 (critical)",
		result.Reasoning)
	assert.Equal(t, 0.95, result.Confidence)
	assert.False(t, result.AIProcessed)
}

func TestScorePriorityLevels(t *testing.T) {
	tests := []struct {
		name     string
		in       PriorityInput
		score    int
		level    types.PriorityLevel
		review   bool
		modifier int
	}{
		{"Minimal", priorityInput("Feedback", types.SentimentPositive), 1, types.PriorityMinimal, false, 0},
		{"LowDefault", priorityInput("", types.SentimentNeutral), 2, types.PriorityLow, false, 0},
		{"UnknownCategory", priorityInput("Spaceships", types.SentimentNeutral), 2, types.PriorityLow, false, 0},
		{"Medium", priorityInput("Billing", types.SentimentNeutral), 3, types.PriorityMedium, false, 0},
		{"High", priorityInput("Billing", types.SentimentFrustrated), 4, types.PriorityHigh, true, 1},
		{"Capped", priorityInput("Legal", types.SentimentAngry), 5, types.PriorityCritical, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ScorePriority(tt.in)
			assert.Equal(t, tt.score, result.Score)
			assert.Equal(t, tt.level, result.Level)
			assert.Equal(t, tt.review, result.RequiresHumanReview)
			assert.Equal(t, tt.modifier, result.Modifiers)
		})
	}
}

func TestScorePriorityModifiers(t *testing.T) {
	in := priorityInput("Feedback", types.SentimentNeutral)
	in.Context.Profile.Tier = "Platinum"
	in.Context.Profile.LifetimeValue = 7500
	in.Context.Metrics.TotalComplaints = 4
	in.Context.Risk.ChurnRiskScore = 0.8
	in.UrgencySignals = []string{"asap"}
	in.Classification.EscalationSignals = []string{"will dispute with my bank"}

	result := ScorePriority(in)
	assert.Equal(t, []string{FactorVIP, FactorRepeatComplaint, FactorChargebackThreat, FactorUrgency, FactorHighChurn, FactorHighValue}, result.Factors)
	assert.Equal(t, 1+2+3+1+1+1, result.Modifiers)
	assert.Equal(t, 5, result.Score)
	assert.Contains(t, result.Reasoning, "+1 for Platinum tier customer")
	assert.Contains(t, result.Reasoning, "+2 for repeat complainant (4 previous)")
	assert.Contains(t, result.Reasoning, "+1 for high LTV ($7500.00)")
}

func TestScorePriorityFirstThreatOnly(t *testing.T) {
	in := priorityInput("Feedback", types.SentimentNeutral)
	in.Classification.EscalationSignals = []string{"customer is unhappy", "will post a bad review", "contacting a lawyer"}

	result := ScorePriority(in)
	assert.Equal(t, []string{FactorSocialThreat}, result.Factors)
	assert.Equal(t, 2, result.Modifiers)
	assert.Equal(t, 3, result.Score)

	// Within one signal the legal check runs before the others.
	in.Classification.EscalationSignals = []string{"legal action and a chargeback"}
	result = ScorePriority(in)
	assert.Equal(t, []string{FactorLegalThreat}, result.Factors)
}

func TestScorePriorityDeterministic(t *testing.T) {
	in := priorityInput("Shipping", types.SentimentFrustrated)
	in.UrgencySignals = []string{"urgent"}
	in.Context.Metrics.TotalComplaints = 2

	first := ScorePriority(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ScorePriority(in))
	}

	stage := NewPriority()
	result, err := stage.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first, result)
}

func TestScorePriorityBounds(t *testing.T) {
	categories := append([]string{"", "Unknown"}, Categories...)
	sentiments := []types.Sentiment{types.SentimentPositive, types.SentimentNeutral, types.SentimentFrustrated, types.SentimentAngry}
	for _, category := range categories {
		for _, sentiment := range sentiments {
			for total := 0; total <= 4; total++ {
				in := priorityInput(category, sentiment)
				in.Context.Metrics.TotalComplaints = total
				in.Classification.EscalationSignals = []string{"lawsuit"}
				result := ScorePriority(in)
				if result.Score < 1 || result.Score > 5 {
					t.Fatalf("score out of range: %d for %+v", result.Score, in)
				}
				assert.Equal(t, result.Score >= 4, result.RequiresHumanReview)
			}
		}
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrFloat(f float64) *float64 { return &f }

func TestContextEmptyHistory(t *testing.T) {
	stage := NewContext(WithClock(fixedClock))
	result, err := stage.Execute(context.Background(), ContextInput{CustomerID: "CUST-1"})
	require.NoError(t, err)

	assert.Equal(t, "CUST-1", result.CustomerID)
	assert.Equal(t, "Standard", result.Profile.Tier)
	assert.Equal(t, "email", result.Profile.PreferredChannel)
	assert.Equal(t, "en", result.Profile.Language)
	assert.Equal(t, "UTC", result.Profile.Timezone)
	assert.Equal(t, 0, result.Metrics.TotalComplaints)
	assert.Equal(t, 1.0, result.Metrics.ResolutionRate)
	assert.Nil(t, result.Metrics.AvgSatisfactionScore)
	assert.Equal(t, types.TrendUnknown, result.Risk.SentimentTrend)
	assert.Equal(t, 0.0, result.Risk.ChurnRiskScore)
	assert.False(t, result.Risk.IsRepeatComplainant)
	assert.Empty(t, result.RecentInteractions)
	assert.NotNil(t, result.OpenComplaints)
	assert.Equal(t, 0.9, result.Confidence)
}

func TestContextAggregation(t *testing.T) {
	day := 24 * time.Hour
	longText := "This is a long complaint text that goes on and on about a problem with my order and keeps going past one hundred characters easily."
	history := []types.PastComplaint{
		{ExternalID: "C-1", Categories: []string{"Billing"}, Sentiment: types.SentimentPositive, Status: types.ComplaintResolved, ReceivedAt: ptrTime(fixedNow.Add(-200 * day)), SatisfactionScore: ptrFloat(2.5)},
		{ExternalID: "C-2", Categories: []string{"Shipping"}, Sentiment: types.SentimentPositive, Status: types.ComplaintClosed, ReceivedAt: ptrTime(fixedNow.Add(-120 * day))},
		{ExternalID: "C-3", Sentiment: types.SentimentNeutral, Status: types.ComplaintResolved, ReceivedAt: ptrTime(fixedNow.Add(-60 * day)), SatisfactionScore: ptrFloat(1.5), Escalated: true},
		{ExternalID: "C-4", Categories: []string{"Product"}, Sentiment: types.SentimentAngry, Status: types.ComplaintPendingReview, ReceivedAt: ptrTime(fixedNow.Add(-10 * day)), RawText: longText},
		{ExternalID: "C-5", Categories: []string{"Product"}, Sentiment: types.SentimentAngry, Status: types.ComplaintNew, ReceivedAt: ptrTime(fixedNow.Add(-2 * day)), RawText: "short"},
	}
	profile := &types.CustomerProfile{Name: "Jane", Tier: "Gold", LifetimeValue: 1200, Timezone: "Europe/Berlin"}

	stage := NewContext(WithClock(fixedClock))
	result, err := stage.Execute(context.Background(), ContextInput{CustomerID: "CUST-9", Profile: profile, History: history})
	require.NoError(t, err)

	assert.Equal(t, "Jane", result.Profile.Name)
	assert.Equal(t, "Gold", result.Profile.Tier)
	assert.Equal(t, "Europe/Berlin", result.Profile.Timezone)
	assert.Equal(t, "en", result.Profile.Language)

	assert.Equal(t, 5, result.Metrics.TotalComplaints)
	assert.Equal(t, 2, result.Metrics.ResolvedComplaints)
	assert.InDelta(t, 0.4, result.Metrics.ResolutionRate, 1e-9)
	require.NotNil(t, result.Metrics.AvgSatisfactionScore)
	assert.InDelta(t, 2.0, *result.Metrics.AvgSatisfactionScore, 1e-9)
	assert.Equal(t, 2, result.Metrics.OpenComplaintsCount)

	assert.Equal(t, 2, result.RecentComplaintsCount)
	assert.Equal(t, types.TrendDeclining, result.Risk.SentimentTrend)
	assert.True(t, result.Risk.IsRepeatComplainant)
	assert.True(t, result.Risk.HasEscalationHistory)
	// 0.3 volume + 0.3 recency + 0.2 satisfaction + 0.2 trend, capped.
	assert.Equal(t, 1.0, result.Risk.ChurnRiskScore)

	require.Len(t, result.RecentInteractions, 3)
	assert.Equal(t, "C-3", result.RecentInteractions[0].ComplaintID)
	assert.Equal(t, "Unknown", result.RecentInteractions[0].Category)
	assert.Equal(t, "Product", result.RecentInteractions[2].Category)

	require.Len(t, result.OpenComplaints, 2)
	assert.Equal(t, "C-4", result.OpenComplaints[0].ComplaintID)
	assert.Len(t, []rune(result.OpenComplaints[0].Summary), 100)
	assert.Equal(t, "short", result.OpenComplaints[1].Summary)
}

func TestSentimentTrend(t *testing.T) {
	mk := func(sentiments ...types.Sentiment) []types.PastComplaint {
		out := make([]types.PastComplaint, len(sentiments))
		for i, s := range sentiments {
			out[i] = types.PastComplaint{Sentiment: s}
		}
		return out
	}

	assert.Equal(t, types.TrendUnknown, SentimentTrend(nil))
	assert.Equal(t, types.TrendUnknown, SentimentTrend(mk("", "")))
	assert.Equal(t, types.TrendStable, SentimentTrend(mk(types.SentimentAngry)))
	assert.Equal(t, types.TrendImproving, SentimentTrend(mk(types.SentimentAngry, types.SentimentAngry, types.SentimentPositive, types.SentimentPositive)))
	assert.Equal(t, types.TrendDeclining, SentimentTrend(mk(types.SentimentPositive, types.SentimentFrustrated)))
	assert.Equal(t, types.TrendStable, SentimentTrend(mk(types.SentimentNeutral, types.SentimentFrustrated, types.SentimentNeutral)))
	// Only the last five count: the early angry run is ignored.
	assert.Equal(t, types.TrendStable, SentimentTrend(mk(
		types.SentimentAngry, types.SentimentAngry, types.SentimentAngry,
		types.SentimentPositive, types.SentimentPositive, types.SentimentPositive, types.SentimentPositive, types.SentimentPositive)))
}

func TestChurnRisk(t *testing.T) {
	tests := []struct {
		name   string
		total  int
		recent int
		avg    *float64
		trend  types.SentimentTrend
		want   float64
	}{
		{"None", 0, 0, nil, types.TrendUnknown, 0},
		{"OneRecent", 1, 1, nil, types.TrendStable, 0.25},
		{"ThreeOld", 3, 0, ptrFloat(3.5), types.TrendStable, 0.3},
		{"LowSatisfaction", 1, 0, ptrFloat(1.0), types.TrendStable, 0.4},
		{"ZeroSatisfactionIgnored", 1, 0, ptrFloat(0), types.TrendStable, 0.1},
		{"Declining", 3, 2, ptrFloat(4.5), types.TrendDeclining, 0.7},
		{"Capped", 6, 3, ptrFloat(1.0), types.TrendDeclining, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ChurnRisk(tt.total, tt.recent, tt.avg, tt.trend), 1e-9)
		})
	}
}
