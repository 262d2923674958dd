package types

import (
	"encoding/json"
	"time"
)

// StageResult is implemented by the output record of every stage.
type StageResult interface {
	StageConfidence() float64
	FromReasoner() bool
}

// Assessment carries the fields every stage result reports.
type Assessment struct {
	Confidence  float64 `json:"confidence"`
	AIProcessed bool    `json:"ai_processed"`
}

func (a Assessment) StageConfidence() float64 { return a.Confidence }

func (a Assessment) FromReasoner() bool { return a.AIProcessed }

// IntakeResult is the normalized form of the incoming complaint.
type IntakeResult struct {
	ComplaintID         string    `json:"complaint_id"`
	NormalizedText      string    `json:"normalized_text"`
	RawText             string    `json:"raw_text"`
	Channel             Channel   `json:"channel"`
	Language            string    `json:"language"`
	WordCount           int       `json:"word_count"`
	HasAttachments      bool      `json:"has_attachments"`
	ContactInfoProvided bool      `json:"contact_info_provided"`
	UrgencySignals      []string  `json:"urgency_signals"`
	KeyEntities         []string  `json:"key_entities"`
	ReceivedAt          time.Time `json:"received_at"`
	Assessment
}

// SentimentTrend describes how a customer's sentiment moved across recent complaints.
type SentimentTrend string

const (
	TrendUnknown   SentimentTrend = "unknown"
	TrendStable    SentimentTrend = "stable"
	TrendDeclining SentimentTrend = "declining"
	TrendImproving SentimentTrend = "improving"
)

type ProfileSummary struct {
	Name             string     `json:"name,omitempty"`
	Email            string     `json:"email,omitempty"`
	Tier             string     `json:"tier"`
	LifetimeValue    float64    `json:"lifetime_value"`
	PreferredChannel string     `json:"preferred_channel"`
	Language         string     `json:"language"`
	Timezone         string     `json:"timezone"`
	MemberSince      *time.Time `json:"member_since,omitempty"`
}

type ComplaintMetrics struct {
	TotalComplaints      int      `json:"total_complaints"`
	ResolvedComplaints   int      `json:"resolved_complaints"`
	ResolutionRate       float64  `json:"resolution_rate"`
	AvgSatisfactionScore *float64 `json:"avg_satisfaction_score"`
	OpenComplaintsCount  int      `json:"open_complaints_count"`
}

type RiskAssessment struct {
	ChurnRiskScore       float64        `json:"churn_risk_score"`
	SentimentTrend       SentimentTrend `json:"sentiment_trend"`
	IsRepeatComplainant  bool           `json:"is_repeat_complainant"`
	HasEscalationHistory bool           `json:"has_escalation_history"`
}

type Interaction struct {
	ComplaintID string          `json:"complaint_id"`
	Date        *time.Time      `json:"date,omitempty"`
	Category    string          `json:"category"`
	Status      ComplaintStatus `json:"status,omitempty"`
	Sentiment   Sentiment       `json:"sentiment,omitempty"`
}

type OpenComplaint struct {
	ComplaintID string          `json:"complaint_id"`
	Summary     string          `json:"summary"`
	Status      ComplaintStatus `json:"status"`
	ReceivedAt  *time.Time      `json:"received_at,omitempty"`
}

// ContextResult is the enriched customer context.
type ContextResult struct {
	CustomerID            string           `json:"customer_id,omitempty"`
	Profile               ProfileSummary   `json:"customer_profile"`
	Metrics               ComplaintMetrics `json:"complaint_metrics"`
	Risk                  RiskAssessment   `json:"risk_assessment"`
	RecentInteractions    []Interaction    `json:"recent_interactions"`
	OpenComplaints        []OpenComplaint  `json:"open_complaints"`
	RecentComplaintsCount int              `json:"recent_complaints_count"`
	Assessment
}

// CategoryScore is one label of a multi-label classification.
type CategoryScore struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// UnmarshalJSON accepts either {"name": ..., "confidence": ...} or a bare category name.
func (c *CategoryScore) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		c.Name = name
		return nil
	}
	type plain CategoryScore
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = CategoryScore(p)
	return nil
}

// ClassificationResult is the category, sentiment and intent analysis of a complaint.
type ClassificationResult struct {
	Categories          []CategoryScore `json:"categories"`
	PrimaryCategory     string          `json:"primary_category"`
	Sentiment           Sentiment       `json:"sentiment"`
	SentimentScore      float64         `json:"sentiment_score"`
	Intent              string          `json:"intent"`
	SecondaryIntents    []string        `json:"secondary_intents"`
	KeyIssues           []string        `json:"key_issues"`
	EmotionalIndicators []string        `json:"emotional_indicators"`
	EscalationSignals   []string        `json:"escalation_signals"`
	Assessment
}

// CategoryNames returns the label names in order.
func (c ClassificationResult) CategoryNames() []string {
	names := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		names = append(names, cat.Name)
	}
	return names
}

// PriorityLevel is the named bucket of a priority score.
type PriorityLevel string

const (
	PriorityCritical PriorityLevel = "critical"
	PriorityHigh     PriorityLevel = "high"
	PriorityMedium   PriorityLevel = "medium"
	PriorityLow      PriorityLevel = "low"
	PriorityMinimal  PriorityLevel = "minimal"
)

// PriorityResult is the outcome of deterministic priority scoring.
type PriorityResult struct {
	Score               int           `json:"score"`
	Level               PriorityLevel `json:"level"`
	Factors             []string      `json:"factors"`
	BasePriority        int           `json:"base_priority"`
	Modifiers           int           `json:"modifiers"`
	Reasoning           string        `json:"reasoning"`
	RequiresHumanReview bool          `json:"requires_human_review"`
	Assessment
}

// HasFactor reports whether the named factor contributed to the score.
func (p PriorityResult) HasFactor(name string) bool {
	for _, f := range p.Factors {
		if f == name {
			return true
		}
	}
	return false
}

type ResponseParts struct {
	Greeting       string   `json:"greeting"`
	Acknowledgment string   `json:"acknowledgment"`
	Explanation    string   `json:"explanation"`
	Actions        []string `json:"actions"`
	NextSteps      string   `json:"next_steps"`
	Closing        string   `json:"closing"`
}

// ResponseResult is a drafted customer reply.
type ResponseResult struct {
	DraftResponse      string        `json:"draft_response"`
	Parts              ResponseParts `json:"response_parts"`
	RecommendedActions []string      `json:"recommended_actions"`
	Tone               string        `json:"tone"`
	Iteration          int           `json:"iteration"`
	Assessment
}

// Check is the verdict on one quality dimension.
type Check struct {
	Passed bool   `json:"passed"`
	Score  int    `json:"score"`
	Notes  string `json:"notes"`
}

// Checks holds the five quality dimensions a draft is judged on.
type Checks struct {
	Completeness    Check `json:"completeness"`
	Tone            Check `json:"tone"`
	Empathy         Check `json:"empathy"`
	Specificity     Check `json:"specificity"`
	Professionalism Check `json:"professionalism"`
}

// All returns the five checks in a fixed order.
func (c Checks) All() []Check {
	return []Check{c.Completeness, c.Tone, c.Empathy, c.Specificity, c.Professionalism}
}

// AllPassed reports whether every dimension passed.
func (c Checks) AllPassed() bool {
	for _, check := range c.All() {
		if !check.Passed {
			return false
		}
	}
	return true
}

// ValidationResult is the quality verdict on a draft response.
type ValidationResult struct {
	Approved              bool     `json:"approved"`
	OverallScore          int      `json:"overall_score"`
	Checks                Checks   `json:"checks"`
	Issues                []string `json:"issues"`
	Suggestions           []string `json:"suggestions"`
	Feedback              string   `json:"feedback"`
	NeedsPriorityIncrease bool     `json:"needs_priority_increase"`
	Assessment
}

type RoutingDecision struct {
	Type         string `json:"type"` // "escalate", "auto_send" or "queue_for_review"
	Destination  string `json:"destination"`
	PriorityFlag bool   `json:"priority_flag"`
}

// EscalationResult is the routing and escalation decision.
type EscalationResult struct {
	ShouldEscalate        bool            `json:"should_escalate"`
	Level                 int             `json:"escalation_level"`
	LevelName             string          `json:"escalation_level_name"`
	Reasons               []string        `json:"escalation_reasons"`
	AssignedTeam          string          `json:"assigned_team"`
	SLADeadline           time.Time       `json:"sla_deadline"`
	SLAMinutes            int             `json:"sla_minutes"`
	AutoSendEligible      bool            `json:"auto_send_eligible"`
	RequiresHumanReview   bool            `json:"requires_human_review"`
	ActionRecommendations []string        `json:"action_recommendations"`
	Routing               RoutingDecision `json:"routing_decision"`
	Assessment
}
