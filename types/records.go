package types

import "time"

// Customer is a stored customer.
type Customer struct {
	ID               string    `json:"id"`
	Email            string    `json:"email,omitempty"`
	Name             string    `json:"name,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Tier             string    `json:"tier"`
	LifetimeValue    float64   `json:"lifetime_value"`
	PreferredChannel string    `json:"preferred_channel,omitempty"`
	Language         string    `json:"language,omitempty"`
	Timezone         string    `json:"timezone,omitempty"`
	TotalComplaints  int       `json:"total_complaints"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Profile converts the stored customer into the run input profile.
func (c Customer) Profile() *CustomerProfile {
	since := c.CreatedAt
	p := &CustomerProfile{
		Name:             c.Name,
		Email:            c.Email,
		Tier:             c.Tier,
		LifetimeValue:    c.LifetimeValue,
		PreferredChannel: c.PreferredChannel,
		Language:         c.Language,
		Timezone:         c.Timezone,
	}
	if !since.IsZero() {
		p.MemberSince = &since
	}
	return p
}

// ComplaintRecord is the stored form of a processed complaint.
type ComplaintRecord struct {
	ID                  string          `json:"id"`
	CustomerID          string          `json:"customer_id,omitempty"`
	RawText             string          `json:"raw_text"`
	NormalizedText      string          `json:"normalized_text,omitempty"`
	Channel             Channel         `json:"channel"`
	Status              ComplaintStatus `json:"status"`
	Categories          []string        `json:"categories"`
	PrimaryCategory     string          `json:"primary_category,omitempty"`
	Sentiment           Sentiment       `json:"sentiment,omitempty"`
	SentimentScore      float64         `json:"sentiment_score"`
	Intent              string          `json:"intent,omitempty"`
	PriorityScore       int             `json:"priority_score"`
	PriorityLevel       PriorityLevel   `json:"priority_level,omitempty"`
	FinalResponse       string          `json:"final_response,omitempty"`
	Escalated           bool            `json:"escalated"`
	EscalationLevel     int             `json:"escalation_level"`
	EscalationReasons   []string        `json:"escalation_reasons"`
	AssignedTeam        string          `json:"assigned_team,omitempty"`
	AssignedTo          string          `json:"assigned_to,omitempty"`
	RequiresHumanReview bool            `json:"requires_human_review"`
	IterationCount      int             `json:"iteration_count"`
	ProcessingStatus    Status          `json:"processing_status"`
	ProcessingError     string          `json:"processing_error,omitempty"`
	ResolutionSummary   string          `json:"resolution_summary,omitempty"`
	SatisfactionScore   *float64        `json:"satisfaction_score,omitempty"`
	SLADeadline         *time.Time      `json:"sla_deadline,omitempty"`
	ReceivedAt          time.Time       `json:"received_at"`
	FirstResponseAt     *time.Time      `json:"first_response_at,omitempty"`
	ResolvedAt          *time.Time      `json:"resolved_at,omitempty"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Past summarizes the record as history for a later run.
func (r ComplaintRecord) Past() PastComplaint {
	received := r.ReceivedAt
	return PastComplaint{
		ExternalID:        r.ID,
		RawText:           r.RawText,
		Categories:        r.Categories,
		Sentiment:         r.Sentiment,
		Status:            r.Status,
		ReceivedAt:        &received,
		SatisfactionScore: r.SatisfactionScore,
		Escalated:         r.Escalated,
	}
}
