package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/songzhibin97/complaint-engine/types"
)

const (
	responseFallbackConfidence = 0.65
	responseDefaultConfidence  = 0.7
	defaultCustomerName        = "Valued Customer"
	defaultClosing             = "We value your business and are committed to resolving this matter to your satisfaction.\n\nBest regards,\nCustomer Support Team"
)

var toneGuidelines = map[types.Sentiment]string{
	types.SentimentAngry:      "Be extremely empathetic, acknowledge their frustration explicitly, apologize sincerely, and focus on immediate resolution. Use phrases like 'I completely understand your frustration' and 'You have every right to be upset'.",
	types.SentimentFrustrated: "Be understanding and patient, acknowledge the inconvenience, and clearly outline the steps being taken to resolve the issue.",
	types.SentimentNeutral:    "Be professional and helpful, provide clear information, and offer assistance.",
	types.SentimentPositive:   "Be warm and appreciative, thank them for their feedback, and continue the positive interaction.",
}

var acknowledgments = map[types.Sentiment]string{
	types.SentimentAngry:      "We sincerely apologize for this experience. We completely understand your frustration and take this matter very seriously.",
	types.SentimentFrustrated: "We apologize for the inconvenience you've experienced. We understand how frustrating this must be.",
	types.SentimentNeutral:    "Thank you for contacting us. We understand your concern and appreciate you bringing this to our attention.",
	types.SentimentPositive:   "Thank you for your feedback! We're glad to hear from you and understand how much your experience matters.",
}

var categoryActions = map[string][]string{
	"Shipping":  {"Tracking your order status", "Contacting our shipping partner", "Expediting delivery if possible"},
	"Billing":   {"Reviewing your account", "Investigating the billing discrepancy", "Processing any necessary adjustments"},
	"Product":   {"Documenting the product issue", "Arranging for replacement or refund", "Escalating to our quality team"},
	"Technical": {"Creating a support ticket", "Assigning a technical specialist", "Investigating the issue"},
	"Service":   {"Reviewing the interaction", "Following up with the team involved", "Implementing service improvements"},
}

var defaultActions = []string{"Reviewing your case", "Assigning to the appropriate team"}

const responseInstructions = `You are an expert customer service representative crafting responses to complaints.
Your responses should be empathetic, professional, and solution-focused.

Guidelines:
1. Always acknowledge the customer's feelings first
2. Take responsibility (don't blame the customer or make excuses)
3. Provide specific actions being taken
4. Include clear next steps
5. End with a commitment to resolution

Return a JSON object with:
{
    "greeting": "personalized greeting",
    "acknowledgment": "acknowledgment of the issue and empathy",
    "explanation": "brief explanation if needed (no excuses)",
    "actions": ["list of specific actions being taken"],
    "next_steps": "what happens next",
    "closing": "professional closing with commitment",
    "full_response": "the complete formatted response",
    "recommended_actions": ["internal actions for the team"],
    "tone": "the tone used",
    "confidence": 0.0 to 1.0
}

Return ONLY valid JSON.`

// ResponseInput is everything a draft is written from. PreviousFeedback is the
// last validation feedback and is only used when Iteration > 1.
type ResponseInput struct {
	NormalizedText   string                     `json:"normalized_text"`
	Classification   types.ClassificationResult `json:"classification"`
	Priority         types.PriorityResult       `json:"priority"`
	Context          types.ContextResult        `json:"customer_context"`
	Iteration        int                        `json:"iteration"`
	PreviousFeedback string                     `json:"previous_feedback"`
}

// Response drafts the customer reply.
type Response struct {
	base
}

// NewResponse creates the response drafting stage.
func NewResponse(options ...Option) *Response {
	return &Response{base: newBase(options...)}
}

func (s *Response) Name() string { return NameResponse }

type draft struct {
	Greeting           string   `json:"greeting"`
	Acknowledgment     string   `json:"acknowledgment"`
	Explanation        string   `json:"explanation"`
	Actions            []string `json:"actions"`
	NextSteps          string   `json:"next_steps"`
	Closing            string   `json:"closing"`
	FullResponse       string   `json:"full_response"`
	RecommendedActions []string `json:"recommended_actions"`
	Tone               string   `json:"tone"`
	Confidence         float64  `json:"confidence"`
}

func (s *Response) Execute(ctx context.Context, in ResponseInput) (types.ResponseResult, error) {
	sentiment := in.Classification.Sentiment
	if !sentiment.Valid() {
		sentiment = types.SentimentNeutral
	}
	name := customerName(in.Context)

	d := draft{Tone: string(sentiment), Confidence: responseDefaultConfidence}
	aiUsed := s.consult(ctx, s.Name(), responseInstructions, responsePrompt(in, sentiment, name), &d, func() error {
		return unitRange("confidence", d.Confidence)
	})
	if !aiUsed {
		d = templateDraft(name, sentiment, in.Classification.PrimaryCategory, in.Priority.Level)
	}
	if strings.TrimSpace(d.FullResponse) == "" {
		d.FullResponse = assemble(d, name)
	}

	return types.ResponseResult{
		DraftResponse: d.FullResponse,
		Parts: types.ResponseParts{
			Greeting:       d.Greeting,
			Acknowledgment: d.Acknowledgment,
			Explanation:    d.Explanation,
			Actions:        nonNil(d.Actions),
			NextSteps:      d.NextSteps,
			Closing:        d.Closing,
		},
		RecommendedActions: nonNil(d.RecommendedActions),
		Tone:               d.Tone,
		Iteration:          in.Iteration,
		Assessment:         types.Assessment{Confidence: d.Confidence, AIProcessed: aiUsed},
	}, nil
}

func responsePrompt(in ResponseInput, sentiment types.Sentiment, name string) string {
	category := in.Classification.PrimaryCategory
	if category == "" {
		category = "General"
	}
	issues := in.Classification.KeyIssues
	if len(issues) == 0 {
		issues = []string{"general concern"}
	}
	level := in.Priority.Level
	if level == "" {
		level = types.PriorityMedium
	}

	lines := []string{
		"Customer Name: " + name,
		"Customer Tier: " + in.Context.Profile.Tier,
		"Complaint Category: " + category,
		"Customer Sentiment: " + string(sentiment),
		"Priority Level: " + string(level),
		"Key Issues: " + strings.Join(issues, ", "),
	}
	if total := in.Context.Metrics.TotalComplaints; total > 1 {
		lines = append(lines, fmt.Sprintf("Note: This is contact number %d from this customer", total+1))
	}
	if n := len(in.Context.OpenComplaints); n > 0 {
		lines = append(lines, fmt.Sprintf("Note: Customer has %d open complaint(s)", n))
	}
	if in.Iteration > 1 && in.PreviousFeedback != "" {
		lines = append(lines,
			"",
			"IMPORTANT - Previous response was rejected. Feedback: "+in.PreviousFeedback,
			"Please address the feedback in this revised response.")
	}

	return fmt.Sprintf("Tone Guidelines: %s\n\nCustomer Context:\n%s\n\nOriginal Complaint:\n%s\n\nGenerate an appropriate response following the JSON format specified.",
		toneGuidelines[sentiment], strings.Join(lines, "\n"), in.NormalizedText)
}

// templateDraft builds the rule-based reply: acknowledgment by sentiment,
// actions by category, next steps by priority level.
func templateDraft(name string, sentiment types.Sentiment, category string, level types.PriorityLevel) draft {
	actions, ok := categoryActions[category]
	if !ok {
		actions = defaultActions
	}
	ack, ok := acknowledgments[sentiment]
	if !ok {
		ack = acknowledgments[types.SentimentNeutral]
	}
	next := "You will receive an update within 48 hours."
	if level == types.PriorityHigh || level == types.PriorityCritical {
		next = "You will receive an update within 24 hours."
	}

	d := draft{
		Greeting:           fmt.Sprintf("Dear %s,", name),
		Acknowledgment:     ack,
		Actions:            append([]string(nil), actions...),
		NextSteps:          next,
		Closing:            defaultClosing,
		RecommendedActions: []string{"Review complaint details", "Follow up with customer"},
		Tone:               string(sentiment),
		Confidence:         responseFallbackConfidence,
	}

	bullets := make([]string, len(d.Actions))
	for i, a := range d.Actions {
		bullets[i] = "• " + a
	}
	d.FullResponse = strings.Join([]string{
		d.Greeting,
		d.Acknowledgment,
		"We are taking the following actions:\n" + strings.Join(bullets, "\n"),
		d.NextSteps,
		d.Closing,
	}, "\n\n")
	return d
}

// assemble joins reasoner-provided parts when no full text came back.
func assemble(d draft, name string) string {
	greeting := d.Greeting
	if greeting == "" {
		greeting = fmt.Sprintf("Dear %s,", name)
	}
	closing := d.Closing
	if closing == "" {
		closing = "Best regards,\nCustomer Support Team"
	}

	parts := []string{greeting}
	for _, p := range []string{d.Acknowledgment, d.Explanation} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(d.Actions) > 0 {
		bullets := make([]string, len(d.Actions))
		for i, a := range d.Actions {
			bullets[i] = "• " + a
		}
		parts = append(parts, "Actions we're taking:\n"+strings.Join(bullets, "\n"))
	}
	if d.NextSteps != "" {
		parts = append(parts, d.NextSteps)
	}
	parts = append(parts, closing)
	return strings.Join(parts, "\n\n")
}

func customerName(c types.ContextResult) string {
	if c.Profile.Name != "" {
		return c.Profile.Name
	}
	return defaultCustomerName
}
