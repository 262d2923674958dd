package stages

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/complaint-engine/reasoning"
	"github.com/songzhibin97/complaint-engine/types"
)

// MockReasoner returns a canned answer and records what it was asked.
type MockReasoner struct {
	mu       sync.Mutex
	text     string
	err      error
	calls    int
	contents []string
}

func (m *MockReasoner) Evaluate(ctx context.Context, instructions, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.contents = append(m.contents, content)
	return m.text, m.err
}

func (m *MockReasoner) lastContent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.contents) == 0 {
		return ""
	}
	return m.contents[len(m.contents)-1]
}

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestNewComplaintID(t *testing.T) {
	pattern := regexp.MustCompile(`^C-[0-9A-F]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewComplaintID()
		if !pattern.MatchString(id) {
			t.Fatalf("unexpected complaint id format: %q", id)
		}
		seen[id] = true
	}
	assert.Greater(t, len(seen), 95)
}

func TestConsultFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		reasoner reasoning.Reasoner
	}{
		{"NoReasoner", nil},
		{"NoBackend", reasoning.NewClient(nil)},
		{"Transient", &MockReasoner{err: &reasoning.Failure{Kind: reasoning.KindTransient, Err: errors.New("429")}}},
		{"Permanent", &MockReasoner{err: errors.New("boom")}},
		{"Malformed", &MockReasoner{text: "Sorry, I can't help with that."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBase(WithReasoner(tt.reasoner))
			var out map[string]interface{}
			assert.False(t, b.consult(context.Background(), "test", "instr", "content", &out, nil))
		})
	}

	b := newBase(WithReasoner(&MockReasoner{text: "```json\n{\"a\": 1}\n```"}))
	var out map[string]interface{}
	require.True(t, b.consult(context.Background(), "test", "instr", "content", &out, nil))
	assert.Equal(t, float64(1), out["a"])

	rejected := b.consult(context.Background(), "test", "instr", "content", &out, func() error {
		return unitRange("a", out["a"].(float64)*2)
	})
	assert.False(t, rejected)
}

func TestRanges(t *testing.T) {
	assert.NoError(t, unitRange("confidence", 0))
	assert.NoError(t, unitRange("confidence", 1))
	assert.ErrorIs(t, unitRange("confidence", 1.01), ErrOutOfRange)
	assert.ErrorIs(t, unitRange("confidence", -0.1), ErrOutOfRange)
	assert.ErrorIs(t, unitRange("confidence", math.NaN()), ErrOutOfRange)

	assert.NoError(t, qualityRange("overall_score", 1))
	assert.NoError(t, qualityRange("overall_score", 10))
	assert.ErrorIs(t, qualityRange("overall_score", 0), ErrOutOfRange)
	assert.ErrorIs(t, qualityRange("overall_score", 42), ErrOutOfRange)
}

func TestIntakeRejectsNegativeWordCount(t *testing.T) {
	reasoner := &MockReasoner{text: `{"cleaned_text":"Package late","language":"en","word_count":-4}`}
	result, err := NewIntake(WithReasoner(reasoner)).Execute(context.Background(), IntakeInput{RawText: "Package late ASAP", Channel: types.ChannelChat})
	require.NoError(t, err)

	assert.Equal(t, 1, reasoner.calls)
	assert.False(t, result.AIProcessed)
	assert.Equal(t, 3, result.WordCount)
	assert.Equal(t, 0.7, result.Confidence)
}

func TestIntakeFallback(t *testing.T) {
	stage := NewIntake(WithClock(fixedClock))
	in := IntakeInput{
		RawText: "  URGENT: my order #12345 has not arrived. See attached screenshot, email me at jane@example.com  ",
		Channel: types.ChannelEmail,
	}

	result, err := stage.Execute(context.Background(), in)
	require.NoError(t, err)

	assert.Regexp(t, `^C-[0-9A-F]{8}$`, result.ComplaintID)
	assert.Equal(t, "URGENT: my order #12345 has not arrived. See attached screenshot, email me at jane@example.com", result.NormalizedText)
	assert.Equal(t, in.RawText, result.RawText)
	assert.Equal(t, "en", result.Language)
	assert.Equal(t, 14, result.WordCount)
	assert.True(t, result.HasAttachments)
	assert.True(t, result.ContactInfoProvided)
	assert.Equal(t, []string{"urgent"}, result.UrgencySignals)
	assert.Equal(t, []string{"#12345"}, result.KeyEntities)
	assert.Equal(t, fixedNow, result.ReceivedAt)
	assert.Equal(t, 0.7, result.Confidence)
	assert.False(t, result.AIProcessed)
}

func TestIntakeFallbackNoSignals(t *testing.T) {
	result, err := NewIntake().Execute(context.Background(), IntakeInput{RawText: "The color is nice", Channel: types.ChannelChat})
	require.NoError(t, err)
	assert.Empty(t, result.UrgencySignals)
	assert.NotNil(t, result.UrgencySignals)
	assert.Empty(t, result.KeyEntities)
	assert.False(t, result.ContactInfoProvided)
	assert.False(t, result.HasAttachments)

	result, err = NewIntake().Execute(context.Background(), IntakeInput{RawText: "Call me on 555-123-4567 about order-991", Channel: types.ChannelPhone})
	require.NoError(t, err)
	assert.True(t, result.ContactInfoProvided)
	assert.Contains(t, result.KeyEntities, "order-991")
}

func TestIntakeWithReasoner(t *testing.T) {
	reasoner := &MockReasoner{text: `{"cleaned_text":"Package late","language":"en","word_count":2,"has_attachments":false,"contact_info_provided":false,"urgency_signals":["ASAP"],"key_entities":["ORD-1"]}`}
	stage := NewIntake(WithReasoner(reasoner))

	result, err := stage.Execute(context.Background(), IntakeInput{RawText: "<p>Package late</p>", Channel: types.ChannelSocial})
	require.NoError(t, err)
	assert.True(t, result.AIProcessed)
	assert.Equal(t, 0.95, result.Confidence)
	assert.Equal(t, "Package late", result.NormalizedText)
	assert.Equal(t, []string{"ASAP"}, result.UrgencySignals)
	assert.Contains(t, reasoner.lastContent(), "Channel: social")

	first := result.ComplaintID
	result, err = stage.Execute(context.Background(), IntakeInput{RawText: "again", Channel: types.ChannelSocial})
	require.NoError(t, err)
	assert.NotEqual(t, first, result.ComplaintID)
}
