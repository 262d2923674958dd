package stages

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/songzhibin97/complaint-engine/types"
)

const (
	intakeReasonerConfidence = 0.95
	intakeFallbackConfidence = 0.7
)

var (
	orderPattern = regexp.MustCompile(`#?\d{4,}|order[- ]?\d+`)
	emailPattern = regexp.MustCompile(`[\w.-]+@[\w.-]+`)
	phonePattern = regexp.MustCompile(`\d{10,}|\d{3}[-.\s]?\d{3}[-.\s]?\d{4}`)
)

const intakeInstructions = `You are an intake specialist for a customer complaint system.
Your job is to normalize and structure incoming complaints from various channels.

For each complaint, extract and return a JSON object with:
1. cleaned_text: The complaint text, cleaned of any channel-specific formatting
2. language: Detected language code (e.g., "en", "es", "fr")
3. word_count: Number of words in the complaint
4. has_attachments: Boolean indicating if attachments are mentioned
5. contact_info_provided: Boolean if customer provided contact details
6. urgency_signals: List of urgency indicators found (e.g., "URGENT", "ASAP", "immediately")
7. key_entities: List of key entities mentioned (order numbers, product names, dates)

Return ONLY valid JSON, no additional text.`

// IntakeInput is the raw complaint as received.
type IntakeInput struct {
	RawText string        `json:"raw_text"`
	Channel types.Channel `json:"channel"`
}

// Intake normalizes a complaint and allocates its correlation id.
type Intake struct {
	base
}

// NewIntake creates the intake stage.
func NewIntake(options ...Option) *Intake {
	return &Intake{base: newBase(options...)}
}

func (s *Intake) Name() string { return NameIntake }

type intakeAnalysis struct {
	CleanedText         string   `json:"cleaned_text"`
	Language            string   `json:"language"`
	WordCount           int      `json:"word_count"`
	HasAttachments      bool     `json:"has_attachments"`
	ContactInfoProvided bool     `json:"contact_info_provided"`
	UrgencySignals      []string `json:"urgency_signals"`
	KeyEntities         []string `json:"key_entities"`
}

// Execute produces the normalized record. The complaint id is generated here,
// once per call.
func (s *Intake) Execute(ctx context.Context, in IntakeInput) (types.IntakeResult, error) {
	analysis := intakeAnalysis{
		CleanedText: in.RawText,
		Language:    "en",
		WordCount:   len(strings.Fields(in.RawText)),
	}
	content := fmt.Sprintf("Channel: %s\n\nComplaint text:\n%s", in.Channel, in.RawText)

	aiUsed := s.consult(ctx, s.Name(), intakeInstructions, content, &analysis, func() error {
		if analysis.WordCount < 0 {
			return fmt.Errorf("%w: word_count=%d", ErrOutOfRange, analysis.WordCount)
		}
		return nil
	})
	confidence := intakeReasonerConfidence
	if !aiUsed {
		analysis = intakeFallback(in.RawText)
		confidence = intakeFallbackConfidence
	}
	if strings.TrimSpace(analysis.CleanedText) == "" {
		analysis.CleanedText = in.RawText
	}

	return types.IntakeResult{
		ComplaintID:         NewComplaintID(),
		NormalizedText:      analysis.CleanedText,
		RawText:             in.RawText,
		Channel:             in.Channel,
		Language:            analysis.Language,
		WordCount:           analysis.WordCount,
		HasAttachments:      analysis.HasAttachments,
		ContactInfoProvided: analysis.ContactInfoProvided,
		UrgencySignals:      nonNil(analysis.UrgencySignals),
		KeyEntities:         nonNil(analysis.KeyEntities),
		ReceivedAt:          s.now().UTC(),
		Assessment:          types.Assessment{Confidence: confidence, AIProcessed: aiUsed},
	}, nil
}

func intakeFallback(raw string) intakeAnalysis {
	lower := strings.ToLower(raw)
	return intakeAnalysis{
		CleanedText:         strings.TrimSpace(raw),
		Language:            "en",
		WordCount:           len(strings.Fields(raw)),
		HasAttachments:      containsAny(lower, attachmentKeywords),
		ContactInfoProvided: emailPattern.MatchString(raw) || phonePattern.MatchString(raw),
		UrgencySignals:      matching(lower, urgencyKeywords),
		KeyEntities:         orderPattern.FindAllString(lower, -1),
	}
}
