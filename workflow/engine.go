// Package workflow runs a complaint through the stage state machine.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/songzhibin97/complaint-engine/audit"
	"github.com/songzhibin97/complaint-engine/events"
	"github.com/songzhibin97/complaint-engine/reasoning"
	"github.com/songzhibin97/complaint-engine/rules"
	"github.com/songzhibin97/complaint-engine/stages"
	"github.com/songzhibin97/complaint-engine/types"
)

var (
	ErrNoTransition  = errors.New("no transition matched")
	ErrStepLimit     = errors.New("step limit exceeded")
	ErrRunPanicked   = errors.New("workflow run panicked")
	ErrUnknownNode   = errors.New("unknown workflow node")
	ErrBadTransition = errors.New("invalid transition")
)

// Audit actions, one per stage invocation.
const (
	ActionIntake         = "intake_processing"
	ActionContext        = "context_retrieval"
	ActionClassification = "classification"
	ActionPriority       = "prioritization"
	ActionResponse       = "response_generation_iter_%d"
	ActionValidation     = "validation_iter_%d"
	ActionEscalation     = "escalation_decision"
)

// RegenerateCondition sends a rejected draft back for another iteration.
const RegenerateCondition = "!validation_passed && iteration_count < max_iterations"

// DefaultTransitions is the complaint pipeline. Edges leaving a node are tried
// in order and the first one whose condition holds is taken.
var DefaultTransitions = []types.Transition{
	{From: types.NodeIntake, To: types.NodeContext, Condition: "true"},
	{From: types.NodeContext, To: types.NodeClassification, Condition: "true"},
	{From: types.NodeClassification, To: types.NodePriority, Condition: "true"},
	{From: types.NodePriority, To: types.NodeResponse, Condition: "true"},
	{From: types.NodeResponse, To: types.NodeValidation, Condition: "true"},
	{From: types.NodeValidation, To: types.NodeResponse, Condition: RegenerateCondition},
	{From: types.NodeValidation, To: types.NodeEscalation, Condition: "true"},
	{From: types.NodeEscalation, To: types.NodeFinalize, Condition: "true"},
	{From: types.NodeFinalize, To: types.NodeEnd, Condition: "true"},
}

// Observer receives measurements of stages and finished runs.
type Observer interface {
	ObserveStage(stage string, elapsed time.Duration, failed, fallback bool)
	ObserveRun(status types.Status, iterations int)
}

// Engine executes complaint runs. A single Engine serves any number of
// concurrent runs; each run owns its own state.
type Engine struct {
	intake         stages.Stage[stages.IntakeInput, types.IntakeResult]
	context        stages.Stage[stages.ContextInput, types.ContextResult]
	classification stages.Stage[stages.ClassificationInput, types.ClassificationResult]
	priority       stages.Stage[stages.PriorityInput, types.PriorityResult]
	response       stages.Stage[stages.ResponseInput, types.ResponseResult]
	validation     stages.Stage[stages.ValidationInput, types.ValidationResult]
	escalation     stages.Stage[stages.EscalationInput, types.EscalationResult]

	transitions   []types.Transition
	evaluator     *rules.ExprEvaluator
	recorder      *audit.Recorder
	reasoner      reasoning.Reasoner
	bus           *events.Bus
	observer      Observer
	logger        *zap.Logger
	now           func() time.Time
	maxIterations int
}

// Option configures an Engine.
type Option func(*Engine)

// WithReasoner sets the reasoning service handed to the default stages.
func WithReasoner(r reasoning.Reasoner) Option {
	return func(e *Engine) {
		e.reasoner = r
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxIterations bounds the drafting loop. Values below one keep the default.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithClock overrides time.Now for the engine, its default stages and recorder.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRecorder replaces the audit recorder.
func WithRecorder(r *audit.Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithEventBus publishes stage and run events on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithObserver reports stage and run measurements to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithTransitions replaces the transition table.
func WithTransitions(transitions []types.Transition) Option {
	return func(e *Engine) {
		e.transitions = transitions
	}
}

func WithIntakeStage(s stages.Stage[stages.IntakeInput, types.IntakeResult]) Option {
	return func(e *Engine) { e.intake = s }
}

func WithContextStage(s stages.Stage[stages.ContextInput, types.ContextResult]) Option {
	return func(e *Engine) { e.context = s }
}

func WithClassificationStage(s stages.Stage[stages.ClassificationInput, types.ClassificationResult]) Option {
	return func(e *Engine) { e.classification = s }
}

func WithPriorityStage(s stages.Stage[stages.PriorityInput, types.PriorityResult]) Option {
	return func(e *Engine) { e.priority = s }
}

func WithResponseStage(s stages.Stage[stages.ResponseInput, types.ResponseResult]) Option {
	return func(e *Engine) { e.response = s }
}

func WithValidationStage(s stages.Stage[stages.ValidationInput, types.ValidationResult]) Option {
	return func(e *Engine) { e.validation = s }
}

func WithEscalationStage(s stages.Stage[stages.EscalationInput, types.EscalationResult]) Option {
	return func(e *Engine) { e.escalation = s }
}

// NewEngine builds an Engine. Stages that were not replaced are created with
// the configured reasoner, logger and clock. Every transition condition is
// compiled up front.
func NewEngine(options ...Option) (*Engine, error) {
	e := &Engine{
		transitions:   DefaultTransitions,
		evaluator:     rules.NewExprEvaluator(),
		logger:        zap.NewNop(),
		now:           time.Now,
		maxIterations: types.DefaultMaxIterations,
	}
	for _, option := range options {
		option(e)
	}

	stageOptions := []stages.Option{
		stages.WithReasoner(e.reasoner),
		stages.WithLogger(e.logger),
		stages.WithClock(e.now),
	}
	if e.intake == nil {
		e.intake = stages.NewIntake(stageOptions...)
	}
	if e.context == nil {
		e.context = stages.NewContext(stageOptions...)
	}
	if e.classification == nil {
		e.classification = stages.NewClassification(stageOptions...)
	}
	if e.priority == nil {
		e.priority = stages.NewPriority(stageOptions...)
	}
	if e.response == nil {
		e.response = stages.NewResponse(stageOptions...)
	}
	if e.validation == nil {
		e.validation = stages.NewValidation(stageOptions...)
	}
	if e.escalation == nil {
		e.escalation = stages.NewEscalation(stageOptions...)
	}
	if e.recorder == nil {
		recorderOptions := []audit.Option{audit.WithLogger(e.logger), audit.WithClock(e.now)}
		if m, ok := e.reasoner.(interface{ Model() string }); ok {
			recorderOptions = append(recorderOptions, audit.WithModelVersion(m.Model()))
		}
		e.recorder = audit.NewRecorder(recorderOptions...)
	}

	env := types.NewWorkflowState(types.ComplaintInput{}, e.maxIterations).Env()
	for _, t := range e.transitions {
		if t.From == "" || t.To == "" || t.Condition == "" {
			return nil, fmt.Errorf("%w: %+v", ErrBadTransition, t)
		}
		if err := e.evaluator.Compile(t.Condition, env); err != nil {
			return nil, fmt.Errorf("%w %s -> %s: %v", ErrBadTransition, t.From, t.To, err)
		}
	}
	return e, nil
}

// MaxIterations returns the configured drafting bound.
func (e *Engine) MaxIterations() int {
	return e.maxIterations
}

// Process runs one complaint to a terminal status. It never returns an error:
// a run that cannot finish ends in StatusError with the audit trail gathered
// so far.
func (e *Engine) Process(ctx context.Context, in types.ComplaintInput) (bundle types.ResultBundle) {
	state := types.NewWorkflowState(in, e.maxIterations)
	start := e.now()

	defer func() {
		if p := recover(); p != nil {
			e.fail(state, fmt.Errorf("%w: %v", ErrRunPanicked, p))
		}
		bundle = state.Bundle()
		e.finish(ctx, state, e.now().Sub(start))
	}()

	if err := e.run(ctx, state); err != nil {
		e.fail(state, err)
	}
	return
}

func (e *Engine) run(ctx context.Context, state *types.WorkflowState) error {
	// Four fixed stages, a draft and a validation per iteration, escalation and finalize.
	limit := 4 + 2*state.MaxIterations + 2
	for steps := 0; state.CurrentNode != types.NodeEnd; steps++ {
		if steps >= limit {
			return fmt.Errorf("%w: %d steps at %s", ErrStepLimit, steps, state.CurrentNode)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.step(ctx, state); err != nil {
			return err
		}
		next, err := e.next(state)
		if err != nil {
			return err
		}
		state.CurrentNode = next
	}
	return nil
}

func (e *Engine) next(state *types.WorkflowState) (types.Node, error) {
	env := state.Env()
	for _, t := range e.transitions {
		if t.From != state.CurrentNode {
			continue
		}
		ok, err := e.evaluator.Evaluate(t.Condition, env)
		if err != nil {
			return "", err
		}
		if ok {
			return t.To, nil
		}
	}
	return "", fmt.Errorf("%w from %s", ErrNoTransition, state.CurrentNode)
}

func (e *Engine) step(ctx context.Context, state *types.WorkflowState) error {
	switch state.CurrentNode {
	case types.NodeIntake:
		in := stages.IntakeInput{RawText: state.Input.RawText, Channel: state.Input.Channel}
		out, entry := audit.Record(ctx, e.recorder, "", e.intake.Name(), ActionIntake, in, e.intake.Execute)
		if entry.Failed() {
			out = stages.DefaultIntake(in, stages.NewComplaintID(), e.now())
		}
		state.ComplaintID = out.ComplaintID
		state.NormalizedText = out.NormalizedText
		state.Intake = &out
		entry.ComplaintID = state.ComplaintID
		e.record(ctx, state, entry, out.FromReasoner(), true)

	case types.NodeContext:
		in := stages.ContextInput{
			CustomerID: state.Input.CustomerID,
			Profile:    state.Input.Profile,
			History:    state.Input.History,
		}
		out, entry := audit.Record(ctx, e.recorder, state.ComplaintID, e.context.Name(), ActionContext, in, e.context.Execute)
		if entry.Failed() {
			out = stages.DefaultContext(in)
		}
		state.Context = &out
		e.record(ctx, state, entry, false, false)

	case types.NodeClassification:
		in := stages.ClassificationInput{NormalizedText: state.NormalizedText, Context: *state.Context}
		out, entry := audit.Record(ctx, e.recorder, state.ComplaintID, e.classification.Name(), ActionClassification, in, e.classification.Execute)
		if entry.Failed() {
			out = stages.DefaultClassification()
		}
		state.Classification = &out
		e.record(ctx, state, entry, out.FromReasoner(), true)

	case types.NodePriority:
		in := stages.PriorityInput{
			Classification: *state.Classification,
			Context:        *state.Context,
			UrgencySignals: state.Intake.UrgencySignals,
		}
		out, entry := audit.Record(ctx, e.recorder, state.ComplaintID, e.priority.Name(), ActionPriority, in, e.priority.Execute)
		if entry.Failed() {
			out = stages.DefaultPriority()
		}
		state.Priority = &out
		state.RequiresHumanReview = out.RequiresHumanReview
		e.record(ctx, state, entry, false, false)

	case types.NodeResponse:
		iteration := state.IterationCount + 1
		in := stages.ResponseInput{
			NormalizedText: state.NormalizedText,
			Classification: *state.Classification,
			Priority:       *state.Priority,
			Context:        *state.Context,
			Iteration:      iteration,
		}
		if iteration > 1 && state.Validation != nil {
			in.PreviousFeedback = state.Validation.Feedback
		}
		action := fmt.Sprintf(ActionResponse, iteration)
		out, entry := audit.Record(ctx, e.recorder, state.ComplaintID, e.response.Name(), action, in, e.response.Execute)
		if entry.Failed() {
			out = stages.DefaultResponse(iteration)
		}
		state.Response = &out
		state.IterationCount = iteration
		e.record(ctx, state, entry, out.FromReasoner(), true)

	case types.NodeValidation:
		in := stages.ValidationInput{
			OriginalComplaint: state.Input.RawText,
			DraftResponse:     state.Response.DraftResponse,
			Classification:    *state.Classification,
			Priority:          *state.Priority,
		}
		action := fmt.Sprintf(ActionValidation, state.IterationCount)
		out, entry := audit.Record(ctx, e.recorder, state.ComplaintID, e.validation.Name(), action, in, e.validation.Execute)
		if entry.Failed() {
			out = stages.DefaultValidation()
		}
		state.Validation = &out
		state.ValidationPassed = out.Approved
		e.record(ctx, state, entry, out.FromReasoner(), true)

	case types.NodeEscalation:
		in := stages.EscalationInput{
			Priority:       *state.Priority,
			Classification: *state.Classification,
			Validation:     *state.Validation,
			Context:        *state.Context,
			IterationCount: state.IterationCount,
			MaxIterations:  state.MaxIterations,
		}
		out, entry := audit.Record(ctx, e.recorder, state.ComplaintID, e.escalation.Name(), ActionEscalation, in, e.escalation.Execute)
		if entry.Failed() {
			out = stages.DefaultEscalation(in, e.now())
		}
		state.Escalation = &out
		state.RequiresHumanReview = out.RequiresHumanReview
		e.record(ctx, state, entry, false, false)

	case types.NodeFinalize:
		finalize(state)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownNode, state.CurrentNode)
	}
	return nil
}

// finalize maps the run outcome to its terminal status.
func finalize(state *types.WorkflowState) {
	escalated := state.Escalation != nil && state.Escalation.ShouldEscalate
	autoSend := state.Escalation != nil && state.Escalation.AutoSendEligible
	switch {
	case escalated:
		state.Status = types.StatusEscalated
	case state.ValidationPassed && autoSend:
		state.Status = types.StatusAutoResolved
	default:
		state.Status = types.StatusPendingReview
	}
	if state.Response != nil {
		state.FinalResponse = state.Response.DraftResponse
	}
}

// record appends entry to the run's audit log and reports it. consults marks
// stages that try the reasoning service before their rules.
func (e *Engine) record(ctx context.Context, state *types.WorkflowState, entry types.AuditEntry, fromReasoner, consults bool) {
	state.Audit.Append(entry)

	failed := entry.Failed()
	fallback := consults && e.reasoner != nil && !failed && !fromReasoner
	if failed {
		e.logger.Warn("stage failed, using default result",
			zap.String("complaint_id", state.ComplaintID),
			zap.String("stage", entry.Stage),
			zap.String("error", entry.Error))
	} else if fallback {
		e.logger.Warn("stage fell back to rules",
			zap.String("complaint_id", state.ComplaintID),
			zap.String("stage", entry.Stage))
	}

	if e.observer != nil {
		e.observer.ObserveStage(entry.Stage, time.Duration(entry.DurationMS)*time.Millisecond, failed, fallback)
	}
	e.publish(ctx, events.Event{
		Type:        events.TypeStageCompleted,
		ComplaintID: state.ComplaintID,
		Data: map[string]interface{}{
			"stage":    entry.Stage,
			"action":   entry.Action,
			"failed":   failed,
			"fallback": fallback,
		},
	})
}

func (e *Engine) fail(state *types.WorkflowState, err error) {
	state.Status = types.StatusError
	state.Error = err.Error()
	e.logger.Error("complaint run failed",
		zap.String("complaint_id", state.ComplaintID),
		zap.String("node", string(state.CurrentNode)),
		zap.Error(err))
}

func (e *Engine) finish(ctx context.Context, state *types.WorkflowState, elapsed time.Duration) {
	e.logger.Info("complaint processed",
		zap.String("complaint_id", state.ComplaintID),
		zap.String("status", string(state.Status)),
		zap.Int("iterations", state.IterationCount),
		zap.Int("audit_entries", state.Audit.Len()),
		zap.Duration("elapsed", elapsed))

	if e.observer != nil {
		e.observer.ObserveRun(state.Status, state.IterationCount)
	}
	e.publish(ctx, events.Event{
		Type:        events.TypeComplaintProcessed,
		ComplaintID: state.ComplaintID,
		Data: map[string]interface{}{
			"status":     string(state.Status),
			"iterations": state.IterationCount,
		},
	})
}

// publish is fire-and-forget; a missing subscriber is not an error.
func (e *Engine) publish(ctx context.Context, event events.Event) {
	if e.bus == nil {
		return
	}
	err := e.bus.Publish(context.WithoutCancel(ctx), event)
	if err != nil && !errors.Is(err, events.ErrNoHandler) {
		e.logger.Warn("event not published",
			zap.String("type", event.Type),
			zap.String("complaint_id", event.ComplaintID),
			zap.Error(err))
	}
}
