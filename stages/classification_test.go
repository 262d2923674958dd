package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/complaint-engine/types"
)

func TestClassifyByRules(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		primary   string
		sentiment types.Sentiment
		intent    string
	}{
		{"BillingBeatsProduct", "The item is broken and I want a refund. I am furious!", "Billing", types.SentimentAngry, "Refund"},
		{"ProductOnly", "The item is broken and I'm furious", "Product", types.SentimentAngry, IntentDefault},
		{"ShippingFrustrated", "My package is late again, I'm so disappointed", "Shipping", types.SentimentFrustrated, IntentDefault},
		{"Cancellation", "Please cancel my subscription, the website keeps crashing", "Technical", types.SentimentNeutral, "Cancellation"},
		{"Exchange", "I'd like to exchange this product for a larger size", "Product", types.SentimentNeutral, "Exchange"},
		{"Positive", "Thank you, the staff were excellent", "Service", types.SentimentPositive, IntentDefault},
		{"Information", "Where is my invoice?", "Billing", types.SentimentNeutral, "Information"},
		{"Other", "Hello there", CategoryOther, types.SentimentNeutral, IntentDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyByRules(tt.text)
			assert.Equal(t, tt.primary, result.PrimaryCategory)
			assert.Equal(t, tt.sentiment, result.Sentiment)
			assert.Equal(t, tt.intent, result.Intent)
			assert.Equal(t, 0.6, result.Confidence)
			assert.False(t, result.AIProcessed)
			require.NotEmpty(t, result.Categories)
			assert.Equal(t, tt.primary, result.Categories[0].Name)
		})
	}
}

func TestClassifyByRulesScores(t *testing.T) {
	result := ClassifyByRules("The item is broken and I want a refund. I am furious!")
	assert.Equal(t, []string{"Billing", "Product"}, result.CategoryNames())
	for _, c := range result.Categories {
		assert.Equal(t, 0.7, c.Confidence)
	}
	assert.Equal(t, 0.3, result.SentimentScore)
	assert.Equal(t, []string{"furious"}, result.EmotionalIndicators)
	assert.Contains(t, result.KeyIssues, "refund")
	assert.Contains(t, result.KeyIssues, "broken")

	other := ClassifyByRules("Hello there")
	assert.Equal(t, []types.CategoryScore{{Name: CategoryOther, Confidence: 0.5}}, other.Categories)
	assert.Equal(t, 0.5, other.SentimentScore)

	positive := ClassifyByRules("Great job")
	assert.Equal(t, 0.7, positive.SentimentScore)
}

func TestClassifyByRulesThreats(t *testing.T) {
	result := ClassifyByRules("Fix this or I will call my lawyer and post about it on twitter")
	assert.Equal(t, []string{"legal action threat (lawyer)", "social media threat (twitter)"}, result.EscalationSignals)

	for _, signal := range result.EscalationSignals {
		_, ok := threatKind(signal)
		assert.True(t, ok, signal)
	}

	kind, _ := threatKind(result.EscalationSignals[0])
	assert.Equal(t, threatLegal, kind)

	none := ClassifyByRules("My package is late")
	assert.NotNil(t, none.EscalationSignals)
	assert.Empty(t, none.EscalationSignals)
}

func TestClassificationMalformedReasoner(t *testing.T) {
	reasoner := &MockReasoner{text: "I think this is about billing, probably."}
	stage := NewClassification(WithReasoner(reasoner))

	text := "The item is broken and I want a refund. I am furious!"
	result, err := stage.Execute(context.Background(), ClassificationInput{NormalizedText: text})
	require.NoError(t, err)

	assert.Equal(t, 1, reasoner.calls)
	assert.False(t, result.AIProcessed)
	assert.Equal(t, 0.6, result.Confidence)
	assert.Equal(t, "Billing", result.PrimaryCategory)
	assert.Equal(t, types.SentimentAngry, result.Sentiment)
	assert.Equal(t, "Refund", result.Intent)
	assert.NotNil(t, result.SecondaryIntents)
	assert.NotNil(t, result.EscalationSignals)
}

func TestClassificationWithReasoner(t *testing.T) {
	reasoner := &MockReasoner{text: `{
		"categories": ["Shipping", {"name": "Billing", "confidence": 0.4}],
		"sentiment": "livid",
		"sentiment_score": 0.9,
		"intent": "Refund",
		"key_issues": ["late delivery"],
		"escalation_signals": ["threatens chargeback"],
		"confidence": 0.88
	}`}
	stage := NewClassification(WithReasoner(reasoner))

	in := ClassificationInput{NormalizedText: "Where is my package"}
	in.Context.Metrics.TotalComplaints = 2
	in.Context.Profile.Tier = "Gold"

	result, err := stage.Execute(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, result.AIProcessed)
	assert.Equal(t, 0.88, result.Confidence)
	assert.Equal(t, "Shipping", result.PrimaryCategory)
	assert.Equal(t, []string{"Shipping", "Billing"}, result.CategoryNames())
	assert.Equal(t, types.SentimentNeutral, result.Sentiment)
	assert.Equal(t, 0.9, result.SentimentScore)
	assert.Equal(t, []string{"threatens chargeback"}, result.EscalationSignals)
	assert.NotNil(t, result.EmotionalIndicators)
	assert.Contains(t, reasoner.lastContent(), "Previous complaints: 2")
	assert.Contains(t, reasoner.lastContent(), "Customer tier: Gold")
}

func TestClassificationReasonerDefaults(t *testing.T) {
	stage := NewClassification(WithReasoner(&MockReasoner{text: `{}`}))
	result, err := stage.Execute(context.Background(), ClassificationInput{NormalizedText: "x"})
	require.NoError(t, err)

	assert.True(t, result.AIProcessed)
	assert.Equal(t, CategoryOther, result.PrimaryCategory)
	assert.Equal(t, types.SentimentNeutral, result.Sentiment)
	assert.Equal(t, IntentDefault, result.Intent)
	assert.Equal(t, 0.5, result.Confidence)
	assert.Equal(t, 0.5, result.SentimentScore)
}

func TestClassificationRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"Confidence", `{"primary_category":"Billing","categories":["Billing"],"sentiment":"angry","confidence":85}`},
		{"NegativeConfidence", `{"primary_category":"Billing","confidence":-0.2}`},
		{"SentimentScore", `{"primary_category":"Billing","sentiment_score":7,"confidence":0.8}`},
		{"CategoryConfidence", `{"categories":[{"name":"Billing","confidence":1.5}],"confidence":0.8}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage := NewClassification(WithReasoner(&MockReasoner{text: tt.text}))
			in := ClassificationInput{NormalizedText: "I was charged twice on my bill"}

			result, err := stage.Execute(context.Background(), in)
			require.NoError(t, err)
			assert.False(t, result.AIProcessed)
			assert.Equal(t, ClassifyByRules(in.NormalizedText), result)
		})
	}
}
