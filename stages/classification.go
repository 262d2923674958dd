package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/songzhibin97/complaint-engine/types"
)

// Categories a complaint may be labelled with.
var Categories = []string{"Billing", "Shipping", "Product", "Service", "Technical", "Feedback", "Legal", "Other"}

// Intents a complaint may express.
var Intents = []string{"Refund", "Exchange", "Information", "Complaint", "Praise", "Escalation", "Cancellation", "Technical Support"}

const (
	CategoryOther = "Other"
	CategoryLegal = "Legal"
	IntentDefault = "Complaint"

	classificationFallbackConfidence = 0.6
	classificationDefaultConfidence  = 0.5
	keywordMatchConfidence           = 0.7
)

var classificationInstructions = fmt.Sprintf(`You are an expert complaint classifier for a customer service system.
Analyze the complaint and provide classification in JSON format.

Available categories (can select multiple): %s
Available sentiments (select one): positive, neutral, frustrated, angry
Available intents (select primary): %s

Return a JSON object with:
{
    "categories": [{"name": "category", "confidence": 0.0 to 1.0}],
    "primary_category": "the main category",
    "sentiment": "detected sentiment",
    "sentiment_score": 0.0 to 1.0 intensity,
    "intent": "primary intent",
    "secondary_intents": [list of other detected intents],
    "key_issues": [list of specific issues mentioned],
    "emotional_indicators": [list of emotional words/phrases found],
    "escalation_signals": [any threats or escalation mentions],
    "confidence": overall confidence 0.0 to 1.0
}

Return ONLY valid JSON.`, strings.Join(Categories, ", "), strings.Join(Intents, ", "))

// ClassificationInput is the normalized text with the customer context built so far.
type ClassificationInput struct {
	NormalizedText string              `json:"normalized_text"`
	Context        types.ContextResult `json:"customer_context"`
}

// Classification labels categories, sentiment and intent.
type Classification struct {
	base
}

// NewClassification creates the classification stage.
func NewClassification(options ...Option) *Classification {
	return &Classification{base: newBase(options...)}
}

func (s *Classification) Name() string { return NameClassification }

func (s *Classification) Execute(ctx context.Context, in ClassificationInput) (types.ClassificationResult, error) {
	content := fmt.Sprintf("Complaint text:\n%s\n\nCustomer Context:\n- Previous complaints: %d\n- Customer tier: %s",
		in.NormalizedText, in.Context.Metrics.TotalComplaints, in.Context.Profile.Tier)

	result := types.ClassificationResult{
		Sentiment:      types.SentimentNeutral,
		SentimentScore: 0.5,
		Intent:         IntentDefault,
		Assessment:     types.Assessment{Confidence: classificationDefaultConfidence},
	}
	if !s.consult(ctx, s.Name(), classificationInstructions, content, &result, func() error {
		return checkClassification(result)
	}) {
		return ClassifyByRules(in.NormalizedText), nil
	}

	result.AIProcessed = true
	normalizeClassification(&result)
	return result, nil
}

// ClassifyByRules is the keyword fallback. Category tables are checked in the
// fixed order Billing, Shipping, Product, Service, Technical; the first match is primary.
func ClassifyByRules(text string) types.ClassificationResult {
	lower := strings.ToLower(text)

	var (
		categories []types.CategoryScore
		keyIssues  = []string{}
	)
	for _, group := range categoryKeywords {
		if hit := matching(lower, group.keywords); len(hit) > 0 {
			categories = append(categories, types.CategoryScore{Name: group.name, Confidence: keywordMatchConfidence})
			keyIssues = append(keyIssues, hit...)
		}
	}
	if len(categories) == 0 {
		categories = []types.CategoryScore{{Name: CategoryOther, Confidence: classificationDefaultConfidence}}
	}

	sentiment, score := types.SentimentNeutral, 0.5
	indicators := []string{}
	for _, group := range sentimentKeywords {
		if hit := matching(lower, group.keywords); len(hit) > 0 {
			sentiment = types.Sentiment(group.name)
			score = 0.3
			if sentiment == types.SentimentPositive {
				score = 0.7
			}
			indicators = hit
			break
		}
	}

	return types.ClassificationResult{
		Categories:          categories,
		PrimaryCategory:     categories[0].Name,
		Sentiment:           sentiment,
		SentimentScore:      score,
		Intent:              intentByRules(lower),
		SecondaryIntents:    []string{},
		KeyIssues:           keyIssues,
		EmotionalIndicators: indicators,
		EscalationSignals:   nonNil(extractThreats(lower)),
		Assessment:          types.Assessment{Confidence: classificationFallbackConfidence},
	}
}

func intentByRules(lower string) string {
	switch {
	case strings.Contains(lower, "refund"):
		return "Refund"
	case strings.Contains(lower, "cancel"):
		return "Cancellation"
	case strings.Contains(lower, "exchange"), strings.Contains(lower, "replace"):
		return "Exchange"
	case containsAny(lower, []string{"help", "how", "what", "where"}):
		return "Information"
	}
	return IntentDefault
}

func checkClassification(c types.ClassificationResult) error {
	if err := unitRange("confidence", c.Confidence); err != nil {
		return err
	}
	if err := unitRange("sentiment_score", c.SentimentScore); err != nil {
		return err
	}
	for _, cat := range c.Categories {
		if err := unitRange("categories."+cat.Name, cat.Confidence); err != nil {
			return err
		}
	}
	return nil
}

// normalizeClassification fills anything the reasoner left out so later
// stages never see an empty record.
func normalizeClassification(c *types.ClassificationResult) {
	kept := c.Categories[:0]
	for _, cat := range c.Categories {
		if cat.Name != "" {
			kept = append(kept, cat)
		}
	}
	c.Categories = kept
	if len(c.Categories) == 0 {
		name := c.PrimaryCategory
		if name == "" {
			name = CategoryOther
		}
		c.Categories = []types.CategoryScore{{Name: name, Confidence: classificationDefaultConfidence}}
	}
	if c.PrimaryCategory == "" {
		c.PrimaryCategory = c.Categories[0].Name
	}
	if !c.Sentiment.Valid() {
		c.Sentiment = types.SentimentNeutral
	}
	if c.Intent == "" {
		c.Intent = IntentDefault
	}
	c.SecondaryIntents = nonNil(c.SecondaryIntents)
	c.KeyIssues = nonNil(c.KeyIssues)
	c.EmotionalIndicators = nonNil(c.EmotionalIndicators)
	c.EscalationSignals = nonNil(c.EscalationSignals)
}
