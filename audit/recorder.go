// Package audit wraps stage invocations and turns each one into an AuditEntry.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/songzhibin97/gkit/generator"
	"go.uber.org/zap"

	"github.com/songzhibin97/complaint-engine/types"
)

// ErrStagePanic wraps a panic recovered from a stage.
var ErrStagePanic = errors.New("stage panicked")

// RuleModel is the model version recorded for rule-produced results.
const RuleModel = "rules"

// Recorder stamps audit entries with ids, timestamps and the model version.
// It is safe for concurrent use by independent runs.
type Recorder struct {
	mu        sync.Mutex
	generator generator.Generator
	model     string
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithGenerator sets the entry id generator. Without one, entries get UUIDs.
func WithGenerator(g generator.Generator) Option {
	return func(r *Recorder) {
		r.generator = g
	}
}

// WithModelVersion sets the model recorded for reasoner-produced results.
func WithModelVersion(model string) Option {
	return func(r *Recorder) {
		if model != "" {
			r.model = model
		}
	}
}

// WithLogger sets the logger used to report stage failures.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder creates a Recorder.
func NewRecorder(options ...Option) *Recorder {
	r := &Recorder{
		model:  RuleModel,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// nextID returns a snowflake id, or a UUID when no generator is set or it fails.
func (r *Recorder) nextID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generator != nil {
		if id, err := r.generator.NextID(); err == nil {
			return strconv.FormatUint(id, 10)
		}
	}
	return uuid.NewString()
}

// Record invokes fn and describes the call in one AuditEntry. It never
// returns an error or panics: a stage error or panic is captured in
// entry.Error, and the zero result is returned with it.
func Record[I any, O types.StageResult](ctx context.Context, r *Recorder, complaintID, stage, action string, in I, fn func(context.Context, I) (O, error)) (O, types.AuditEntry) {
	start := r.now()
	out, err := invoke(ctx, fn, in)
	elapsed := r.now().Sub(start)

	entry := types.AuditEntry{
		ID:           r.nextID(),
		ComplaintID:  complaintID,
		Stage:        stage,
		Action:       action,
		Input:        in,
		ModelVersion: RuleModel,
		DurationMS:   elapsed.Milliseconds(),
		CreatedAt:    start.UTC(),
	}

	if err != nil {
		var zero O
		entry.Output = map[string]interface{}{}
		entry.Error = err.Error()
		r.logger.Error("stage failed",
			zap.String("complaint_id", complaintID),
			zap.String("stage", stage),
			zap.String("action", action),
			zap.Error(err))
		return zero, entry
	}

	confidence := out.StageConfidence()
	entry.Output = out
	entry.Confidence = &confidence
	if out.FromReasoner() {
		entry.ModelVersion = r.model
	}
	return out, entry
}

func invoke[I any, O types.StageResult](ctx context.Context, fn func(context.Context, I) (O, error), in I) (out O, err error) {
	defer func() {
		if p := recover(); p != nil {
			var zero O
			out = zero
			err = fmt.Errorf("%w: %v", ErrStagePanic, p)
		}
	}()
	return fn(ctx, in)
}
