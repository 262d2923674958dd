// Package stages implements the seven decision units of the complaint workflow.
//
// Every stage accepts a typed input record and produces a typed result. Stages
// that can consult a reasoning service fall back to deterministic rules on any
// reasoning failure or unparseable response, so Execute only returns an error
// for faults outside that contract.
package stages

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/songzhibin97/complaint-engine/reasoning"
	"github.com/songzhibin97/complaint-engine/types"
)

// Stage names, used as the audit agent name and in metrics labels.
const (
	NameIntake         = string(types.NodeIntake)
	NameContext        = string(types.NodeContext)
	NameClassification = string(types.NodeClassification)
	NamePriority       = string(types.NodePriority)
	NameResponse       = string(types.NodeResponse)
	NameValidation     = string(types.NodeValidation)
	NameEscalation     = string(types.NodeEscalation)
)

// ComplaintIDPrefix prefixes every complaint correlation id.
const ComplaintIDPrefix = "C-"

// ErrOutOfRange rejects a reasoner reply whose numbers fall outside their scale.
var ErrOutOfRange = errors.New("reasoning reply out of range")

const (
	minQualityScore = 1
	maxQualityScore = 10
)

// Stage is the contract shared by all decision units.
type Stage[I any, O types.StageResult] interface {
	Name() string
	Execute(ctx context.Context, in I) (O, error)
}

// Option configures the shared dependencies of a stage.
type Option func(*base)

// WithReasoner sets the reasoning service consulted before the rule fallback.
// Stages without a reasoner run in pure rule mode.
func WithReasoner(r reasoning.Reasoner) Option {
	return func(b *base) {
		b.reasoner = r
	}
}

// WithLogger sets the logger used to report fallbacks.
func WithLogger(logger *zap.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides time.Now, for timestamps, recency windows and SLA deadlines.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

type base struct {
	reasoner reasoning.Reasoner
	logger   *zap.Logger
	now      func() time.Time
}

func newBase(options ...Option) base {
	b := base{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, option := range options {
		option(&b)
	}
	return b
}

// consult asks the reasoner and decodes its answer into out, then runs check
// on the decoded value when check is non-nil. It reports false when the caller
// must use its rule-based fallback.
func (b base) consult(ctx context.Context, stage, instructions, content string, out interface{}, check func() error) bool {
	if b.reasoner == nil {
		return false
	}

	text, err := b.reasoner.Evaluate(ctx, instructions, content)
	if err == nil {
		err = reasoning.DecodeJSON(text, out)
	}
	if err == nil && check != nil {
		err = check()
	}
	if err != nil {
		if !errors.Is(err, reasoning.ErrNoBackend) {
			b.logger.Warn("reasoning unavailable, using rule fallback",
				zap.String("stage", stage),
				zap.Bool("transient", errors.Is(err, reasoning.ErrTransient)),
				zap.Error(err))
		}
		return false
	}
	return true
}

// unitRange requires v in [0, 1].
func unitRange(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %s=%v", ErrOutOfRange, field, v)
	}
	return nil
}

// qualityRange requires v on the 1 to 10 quality scale.
func qualityRange(field string, v int) error {
	if v < minQualityScore || v > maxQualityScore {
		return fmt.Errorf("%w: %s=%d", ErrOutOfRange, field, v)
	}
	return nil
}

// NewComplaintID allocates a correlation id: the prefix followed by eight
// uppercase hex characters.
func NewComplaintID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return ComplaintIDPrefix + strings.ToUpper(hex[:8])
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
