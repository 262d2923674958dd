package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/songzhibin97/complaint-engine/types"
)

const (
	validationFallbackConfidence = 0.6
	validationDefaultConfidence  = 0.7

	// ApprovalScore is the minimum overall score for a reasoner-approved draft.
	ApprovalScore = 7
	// FallbackApprovalScore is the minimum average for a rule-approved draft.
	FallbackApprovalScore = 6
	// minimumDraftLength is the length a draft must exceed to count as specific.
	minimumDraftLength = 100
	// priorityIncreaseScore is the overall score under which a rejected draft
	// signals that the complaint deserves more attention.
	priorityIncreaseScore = 5
)

var (
	greetingWords = []string{"dear", "hello", "hi"}
	empathyWords  = []string{"sorry", "apologize", "understand", "frustrat"}
	actionWords   = []string{"we are", "we will", "we're", "investigating", "reviewing"}
	closingWords  = []string{"regards", "thank", "sincerely", "best"}
)

var validationInstructions = fmt.Sprintf(`You are a quality assurance specialist reviewing customer service responses.
Evaluate the response against the original complaint and provide detailed feedback.

Check for:
1. COMPLETENESS: Does the response address ALL issues mentioned in the complaint?
2. TONE: Is the tone appropriate for the customer's sentiment?
3. EMPATHY: Does the response show genuine understanding?
4. SPECIFICITY: Are the actions and next steps specific and clear?
5. PROFESSIONALISM: Is the language professional and error-free?
6. PROMISES: Are any promises made realistic and achievable?

Return a JSON object with:
{
    "approved": true/false,
    "overall_score": 1-10,
    "checks": {
        "completeness": {"passed": true/false, "score": 1-10, "notes": "..."},
        "tone": {"passed": true/false, "score": 1-10, "notes": "..."},
        "empathy": {"passed": true/false, "score": 1-10, "notes": "..."},
        "specificity": {"passed": true/false, "score": 1-10, "notes": "..."},
        "professionalism": {"passed": true/false, "score": 1-10, "notes": "..."}
    },
    "issues": ["list of specific issues found"],
    "suggestions": ["list of specific improvements"],
    "feedback": "overall feedback for regeneration if needed",
    "confidence": 0.0 to 1.0
}

The response should be approved (approved: true) only if:
- Overall score >= %d
- All checks passed
- No major issues found

Return ONLY valid JSON.`, ApprovalScore)

// ValidationInput is a draft together with what it answers.
type ValidationInput struct {
	OriginalComplaint string                     `json:"original_complaint"`
	DraftResponse     string                     `json:"draft_response"`
	Classification    types.ClassificationResult `json:"classification"`
	Priority          types.PriorityResult       `json:"priority"`
}

// Validation judges a draft on five quality dimensions.
type Validation struct {
	base
}

// NewValidation creates the validation stage.
func NewValidation(options ...Option) *Validation {
	return &Validation{base: newBase(options...)}
}

func (s *Validation) Name() string { return NameValidation }

func (s *Validation) Execute(ctx context.Context, in ValidationInput) (types.ValidationResult, error) {
	content := fmt.Sprintf("Original Complaint:\n%s\n\nCustomer Sentiment: %s\nCategories: %s\nKey Issues: %s\nPriority: %s\n\nDraft Response:\n%s\n",
		in.OriginalComplaint,
		in.Classification.Sentiment,
		strings.Join(in.Classification.CategoryNames(), ", "),
		strings.Join(in.Classification.KeyIssues, ", "),
		in.Priority.Level,
		in.DraftResponse)

	result := types.ValidationResult{
		OverallScore: priorityIncreaseScore,
		Assessment:   types.Assessment{Confidence: validationDefaultConfidence},
	}
	if !s.consult(ctx, s.Name(), validationInstructions, content, &result, func() error {
		return checkValidation(result)
	}) {
		return ValidateByRules(in.DraftResponse), nil
	}

	result.AIProcessed = true
	// The reasoner's verdict only stands when it agrees with the approval policy.
	result.Approved = result.Approved &&
		result.OverallScore >= ApprovalScore &&
		result.Checks.AllPassed() &&
		len(result.Issues) == 0
	result.Issues = nonNil(result.Issues)
	result.Suggestions = nonNil(result.Suggestions)
	result.NeedsPriorityIncrease = !result.Approved && result.OverallScore < priorityIncreaseScore
	return result, nil
}

var checkNames = []string{"completeness", "tone", "empathy", "specificity", "professionalism"}

// checkValidation rejects a verdict whose scores leave the 1 to 10 scale. An
// omitted check decodes to score 0 and is rejected too.
func checkValidation(v types.ValidationResult) error {
	if err := unitRange("confidence", v.Confidence); err != nil {
		return err
	}
	if err := qualityRange("overall_score", v.OverallScore); err != nil {
		return err
	}
	for i, check := range v.Checks.All() {
		if err := qualityRange("checks."+checkNames[i], check.Score); err != nil {
			return err
		}
	}
	return nil
}

// ValidateByRules checks a draft with keyword heuristics.
func ValidateByRules(draftText string) types.ValidationResult {
	lower := strings.ToLower(draftText)

	hasGreeting := containsAny(lower, greetingWords)
	hasEmpathy := containsAny(lower, empathyWords)
	hasActions := containsAny(lower, actionWords)
	hasClosing := containsAny(lower, closingWords)
	longEnough := len(draftText) > minimumDraftLength

	checks := types.Checks{
		Completeness:    heuristic(hasActions, 7, 5, "Actions included", "Needs more specific actions"),
		Tone:            types.Check{Passed: true, Score: 7, Notes: "Appears appropriate"},
		Empathy:         heuristic(hasEmpathy, 8, 5, "Empathy shown", "Could show more empathy"),
		Specificity:     heuristic(longEnough, 7, 5, "Sufficient detail", "Could be more detailed"),
		Professionalism: heuristic(hasGreeting && hasClosing, 8, 8, "Professional format", "Missing greeting or closing"),
	}

	sum := 0
	var notes []string
	for _, check := range checks.All() {
		sum += check.Score
		if !check.Passed {
			notes = append(notes, check.Notes)
		}
	}
	overall := sum / len(checks.All())
	allPassed := checks.AllPassed()
	approved := allPassed && overall >= FallbackApprovalScore

	result := types.ValidationResult{
		Approved:              approved,
		OverallScore:          overall,
		Checks:                checks,
		Issues:                []string{},
		Suggestions:           []string{},
		NeedsPriorityIncrease: !approved && overall < priorityIncreaseScore,
		Assessment:            types.Assessment{Confidence: validationFallbackConfidence},
	}
	if !allPassed {
		result.Issues = []string{"Some quality checks need attention"}
		result.Suggestions = notes
		result.Feedback = "Consider adding more specific details. " + strings.Join(notes, ". ") + "."
	}
	return result
}

func heuristic(passed bool, passScore, failScore int, passNote, failNote string) types.Check {
	if passed {
		return types.Check{Passed: true, Score: passScore, Notes: passNote}
	}
	return types.Check{Passed: false, Score: failScore, Notes: failNote}
}
