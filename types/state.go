package types

// DefaultMaxIterations bounds the response drafting and validation loop.
const DefaultMaxIterations = 3

// WorkflowState is the carrier threaded through one complaint run. It is owned
// exclusively by the run that created it; stages of one run never execute concurrently.
type WorkflowState struct {
	Input ComplaintInput `json:"input"`

	ComplaintID    string `json:"complaint_id"`
	NormalizedText string `json:"normalized_text"`

	Intake         *IntakeResult         `json:"intake_result,omitempty"`
	Context        *ContextResult        `json:"customer_context,omitempty"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Priority       *PriorityResult       `json:"priority,omitempty"`
	Response       *ResponseResult       `json:"response,omitempty"`
	Validation     *ValidationResult     `json:"validation,omitempty"`
	Escalation     *EscalationResult     `json:"escalation,omitempty"`

	IterationCount      int  `json:"iteration_count"`
	MaxIterations       int  `json:"max_iterations"`
	ValidationPassed    bool `json:"validation_passed"`
	RequiresHumanReview bool `json:"requires_human_review"`

	Audit *AuditLog `json:"audit_logs"`

	CurrentNode   Node   `json:"current_node"`
	FinalResponse string `json:"final_response"`
	Status        Status `json:"status"`
	Error         string `json:"error,omitempty"`
}

// NewWorkflowState creates the initial state of a run.
func NewWorkflowState(in ComplaintInput, maxIterations int) *WorkflowState {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &WorkflowState{
		Input:         in,
		MaxIterations: maxIterations,
		Audit:         NewAuditLog(),
		CurrentNode:   NodeIntake,
		Status:        StatusNew,
	}
}

// Env exposes the control-flow fields to transition conditions.
func (s *WorkflowState) Env() map[string]interface{} {
	return map[string]interface{}{
		"validation_passed": s.ValidationPassed,
		"iteration_count":   s.IterationCount,
		"max_iterations":    s.MaxIterations,
		"status":            string(s.Status),
	}
}

// ResultBundle is everything a run returns to its caller.
type ResultBundle struct {
	ComplaintID         string                `json:"complaint_id"`
	Intake              *IntakeResult         `json:"intake_result,omitempty"`
	Context             *ContextResult        `json:"customer_context,omitempty"`
	Classification      *ClassificationResult `json:"classification,omitempty"`
	Priority            *PriorityResult       `json:"priority,omitempty"`
	Response            *ResponseResult       `json:"response,omitempty"`
	Validation          *ValidationResult     `json:"validation,omitempty"`
	Escalation          *EscalationResult     `json:"escalation,omitempty"`
	IterationCount      int                   `json:"iteration_count"`
	MaxIterations       int                   `json:"max_iterations"`
	ValidationPassed    bool                  `json:"validation_passed"`
	RequiresHumanReview bool                  `json:"requires_human_review"`
	Status              Status                `json:"status"`
	FinalResponse       string                `json:"final_response"`
	Error               string                `json:"error,omitempty"`
	AuditLog            []AuditEntry          `json:"audit_logs"`
}

// Bundle snapshots the state. A run that ended in StatusError keeps only its
// identifier, error and audit trail.
func (s *WorkflowState) Bundle() ResultBundle {
	b := ResultBundle{
		ComplaintID:   s.ComplaintID,
		MaxIterations: s.MaxIterations,
		Status:        s.Status,
		Error:         s.Error,
		AuditLog:      s.Audit.Entries(),
	}
	if s.Status == StatusError {
		return b
	}
	b.Intake = s.Intake
	b.Context = s.Context
	b.Classification = s.Classification
	b.Priority = s.Priority
	b.Response = s.Response
	b.Validation = s.Validation
	b.Escalation = s.Escalation
	b.IterationCount = s.IterationCount
	b.ValidationPassed = s.ValidationPassed
	b.RequiresHumanReview = s.RequiresHumanReview
	b.FinalResponse = s.FinalResponse
	return b
}
