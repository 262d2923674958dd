package stages

import (
	"context"
	"math"
	"time"

	"github.com/songzhibin97/complaint-engine/types"
)

const (
	contextConfidence = 0.9
	recentWindow      = 30 * 24 * time.Hour
	trendWindow       = 5
	interactionWindow = 3
	summaryLength     = 100
)

var sentimentPoints = map[types.Sentiment]float64{
	types.SentimentPositive:   4,
	types.SentimentNeutral:    3,
	types.SentimentFrustrated: 2,
	types.SentimentAngry:      1,
}

// ContextInput is the customer data loaded by the caller. History is oldest first.
type ContextInput struct {
	CustomerID string                 `json:"customer_id,omitempty"`
	Profile    *types.CustomerProfile `json:"customer_data,omitempty"`
	History    []types.PastComplaint  `json:"complaint_history"`
}

// Context aggregates customer history into metrics and risk indicators.
// It never consults the reasoning service.
type Context struct {
	base
}

// NewContext creates the context stage.
func NewContext(options ...Option) *Context {
	return &Context{base: newBase(options...)}
}

func (s *Context) Name() string { return NameContext }

func (s *Context) Execute(_ context.Context, in ContextInput) (types.ContextResult, error) {
	now := s.now()
	history := in.History

	var (
		resolved     int
		satisfaction []float64
		recent       int
		escalated    bool
		open         = []types.OpenComplaint{}
	)
	for _, c := range history {
		if c.Status == types.ComplaintResolved {
			resolved++
		}
		if c.SatisfactionScore != nil && *c.SatisfactionScore != 0 {
			satisfaction = append(satisfaction, *c.SatisfactionScore)
		}
		if c.ReceivedAt != nil && c.ReceivedAt.After(now.Add(-recentWindow)) {
			recent++
		}
		if c.Escalated {
			escalated = true
		}
		if c.Status.Open() {
			open = append(open, types.OpenComplaint{
				ComplaintID: c.ExternalID,
				Summary:     truncate(c.RawText, summaryLength),
				Status:      c.Status,
				ReceivedAt:  c.ReceivedAt,
			})
		}
	}

	total := len(history)
	rate := 1.0
	if total > 0 {
		rate = float64(resolved) / float64(total)
	}
	avg := average(satisfaction)
	trend := SentimentTrend(history)

	return types.ContextResult{
		CustomerID: in.CustomerID,
		Profile:    profileSummary(in.Profile),
		Metrics: types.ComplaintMetrics{
			TotalComplaints:      total,
			ResolvedComplaints:   resolved,
			ResolutionRate:       rate,
			AvgSatisfactionScore: avg,
			OpenComplaintsCount:  len(open),
		},
		Risk: types.RiskAssessment{
			ChurnRiskScore:       ChurnRisk(total, recent, avg, trend),
			SentimentTrend:       trend,
			IsRepeatComplainant:  total > 2,
			HasEscalationHistory: escalated,
		},
		RecentInteractions:    recentInteractions(history),
		OpenComplaints:        open,
		RecentComplaintsCount: recent,
		Assessment:            types.Assessment{Confidence: contextConfidence},
	}, nil
}

// SentimentTrend compares the first and second half of the last five reported
// sentiments. History must be oldest first.
func SentimentTrend(history []types.PastComplaint) types.SentimentTrend {
	if len(history) > trendWindow {
		history = history[len(history)-trendWindow:]
	}
	var scores []float64
	for _, c := range history {
		if c.Sentiment == "" {
			continue
		}
		points, ok := sentimentPoints[c.Sentiment]
		if !ok {
			points = 3
		}
		scores = append(scores, points)
	}

	switch len(scores) {
	case 0:
		return types.TrendUnknown
	case 1:
		return types.TrendStable
	}

	mid := len(scores) / 2
	first := *average(scores[:mid])
	second := *average(scores[mid:])
	switch {
	case second < first-0.5:
		return types.TrendDeclining
	case second > first+0.5:
		return types.TrendImproving
	}
	return types.TrendStable
}

// ChurnRisk scores attrition risk in [0, 1] from complaint volume, recency,
// satisfaction and sentiment trend.
func ChurnRisk(total, recent int, avgSatisfaction *float64, trend types.SentimentTrend) float64 {
	risk := 0.0

	switch {
	case total >= 5:
		risk += 0.3
	case total >= 3:
		risk += 0.2
	case total >= 1:
		risk += 0.1
	}

	switch {
	case recent >= 2:
		risk += 0.3
	case recent >= 1:
		risk += 0.15
	}

	if avgSatisfaction != nil && *avgSatisfaction > 0 {
		switch s := *avgSatisfaction; {
		case s < 2:
			risk += 0.3
		case s < 3:
			risk += 0.2
		case s < 4:
			risk += 0.1
		}
	}

	if trend == types.TrendDeclining {
		risk += 0.2
	}

	// Round away float noise so that 0.1+0.2 compares like 0.3.
	return math.Min(math.Round(risk*1000)/1000, 1.0)
}

func profileSummary(p *types.CustomerProfile) types.ProfileSummary {
	summary := types.ProfileSummary{
		Tier:             "Standard",
		PreferredChannel: string(types.ChannelEmail),
		Language:         "en",
		Timezone:         "UTC",
	}
	if p == nil {
		return summary
	}
	summary.Name = p.Name
	summary.Email = p.Email
	summary.LifetimeValue = p.LifetimeValue
	summary.MemberSince = p.MemberSince
	if p.Tier != "" {
		summary.Tier = p.Tier
	}
	if p.PreferredChannel != "" {
		summary.PreferredChannel = p.PreferredChannel
	}
	if p.Language != "" {
		summary.Language = p.Language
	}
	if p.Timezone != "" {
		summary.Timezone = p.Timezone
	}
	return summary
}

func recentInteractions(history []types.PastComplaint) []types.Interaction {
	if len(history) > interactionWindow {
		history = history[len(history)-interactionWindow:]
	}
	out := make([]types.Interaction, 0, len(history))
	for _, c := range history {
		category := "Unknown"
		if len(c.Categories) > 0 {
			category = c.Categories[0]
		}
		out = append(out, types.Interaction{
			ComplaintID: c.ExternalID,
			Date:        c.ReceivedAt,
			Category:    category,
			Status:      c.Status,
			Sentiment:   c.Sentiment,
		})
	}
	return out
}

func average(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	return &avg
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
