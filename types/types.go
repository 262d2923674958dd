package types

import (
	"time"
)

// Channel is the communication channel a complaint arrived on.
type Channel string

const (
	ChannelEmail  Channel = "email"
	ChannelChat   Channel = "chat"
	ChannelSocial Channel = "social"
	ChannelPhone  Channel = "phone"
	ChannelCRM    Channel = "crm"
)

// Channels lists every accepted channel.
var Channels = []Channel{ChannelEmail, ChannelChat, ChannelSocial, ChannelPhone, ChannelCRM}

// Valid reports whether c is one of the accepted channels.
func (c Channel) Valid() bool {
	for _, ch := range Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// Sentiment is the detected emotional tone of a complaint.
type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentFrustrated Sentiment = "frustrated"
	SentimentAngry      Sentiment = "angry"
)

// Valid reports whether s is one of the four known sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentFrustrated, SentimentAngry:
		return true
	}
	return false
}

// Status is the terminal disposition of a workflow run.
type Status string

const (
	StatusNew           Status = "new" // before Finalize
	StatusAutoResolved  Status = "auto_resolved"
	StatusPendingReview Status = "pending_review"
	StatusEscalated     Status = "escalated"
	StatusError         Status = "error"
)

// Terminal reports whether s is one of the closed set of final statuses.
func (s Status) Terminal() bool {
	switch s {
	case StatusAutoResolved, StatusPendingReview, StatusEscalated, StatusError:
		return true
	}
	return false
}

// ComplaintStatus is the lifecycle status of a stored complaint.
type ComplaintStatus string

const (
	ComplaintNew           ComplaintStatus = "new"
	ComplaintInProgress    ComplaintStatus = "in_progress"
	ComplaintPendingReview ComplaintStatus = "pending_review"
	ComplaintEscalated     ComplaintStatus = "escalated"
	ComplaintResolved      ComplaintStatus = "resolved"
	ComplaintClosed        ComplaintStatus = "closed"
)

// Open reports whether a complaint in this status still awaits handling.
func (s ComplaintStatus) Open() bool {
	return s == ComplaintNew || s == ComplaintInProgress || s == ComplaintPendingReview
}

// Node identifies a state of the complaint workflow.
type Node string

const (
	NodeIntake         Node = "intake"
	NodeContext        Node = "context"
	NodeClassification Node = "classification"
	NodePriority       Node = "priority"
	NodeResponse       Node = "response"
	NodeValidation     Node = "validation"
	NodeEscalation     Node = "escalation"
	NodeFinalize       Node = "finalize"
	NodeEnd            Node = "end"
)

// Transition defines a guarded edge between two workflow nodes.
// Condition is an expression evaluated against the run state; "true" always fires.
type Transition struct {
	From      Node   `json:"from" yaml:"from"`
	To        Node   `json:"to" yaml:"to"`
	Condition string `json:"condition" yaml:"condition"`
}

// CustomerProfile is the pre-loaded customer data handed to a run.
type CustomerProfile struct {
	Name             string     `json:"name,omitempty"`
	Email            string     `json:"email,omitempty"`
	Tier             string     `json:"tier,omitempty"`
	LifetimeValue    float64    `json:"lifetime_value"`
	PreferredChannel string     `json:"preferred_channel,omitempty"`
	Language         string     `json:"language,omitempty"`
	Timezone         string     `json:"timezone,omitempty"`
	MemberSince      *time.Time `json:"member_since,omitempty"`
}

// PastComplaint summarizes one earlier complaint of the same customer.
type PastComplaint struct {
	ExternalID        string          `json:"external_id"`
	RawText           string          `json:"raw_text,omitempty"`
	Categories        []string        `json:"categories,omitempty"`
	Sentiment         Sentiment       `json:"sentiment,omitempty"`
	Status            ComplaintStatus `json:"status,omitempty"`
	ReceivedAt        *time.Time      `json:"received_at,omitempty"`
	SatisfactionScore *float64        `json:"satisfaction_score,omitempty"`
	Escalated         bool            `json:"escalated"`
}

// ComplaintInput is the immutable input of a single workflow run.
// History must be ordered oldest first.
type ComplaintInput struct {
	RawText    string           `json:"raw_text"`
	Channel    Channel          `json:"channel"`
	CustomerID string           `json:"customer_id,omitempty"`
	Profile    *CustomerProfile `json:"customer_profile,omitempty"`
	History    []PastComplaint  `json:"complaint_history,omitempty"`
}
