// Package service connects the workflow engine to the record store: it loads
// the customer context a run needs and persists what the run decided.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/songzhibin97/complaint-engine/events"
	"github.com/songzhibin97/complaint-engine/stages"
	"github.com/songzhibin97/complaint-engine/storage"
	"github.com/songzhibin97/complaint-engine/types"
)

var (
	ErrEmptyText      = errors.New("complaint text is empty")
	ErrInvalidChannel = errors.New("invalid channel")
	ErrInvalidStatus  = errors.New("invalid complaint status")
	ErrInvalidScore   = errors.New("satisfaction score out of range")
)

const (
	// HistoryLimit is how many earlier complaints a run sees.
	HistoryLimit = 10
	// CustomerIDPrefix prefixes generated customer ids.
	CustomerIDPrefix = "CUST-"
	DefaultTier      = "Standard"
)

// Processor runs one complaint through the workflow.
type Processor interface {
	Process(ctx context.Context, in types.ComplaintInput) types.ResultBundle
}

// SubmitRequest is a new complaint as received from a channel.
type SubmitRequest struct {
	RawText       string        `json:"raw_text"`
	Channel       types.Channel `json:"channel"`
	CustomerID    string        `json:"customer_id,omitempty"`
	CustomerEmail string        `json:"customer_email,omitempty"`
	CustomerName  string        `json:"customer_name,omitempty"`
}

func (r SubmitRequest) validate() error {
	if strings.TrimSpace(r.RawText) == "" {
		return ErrEmptyText
	}
	if !r.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, r.Channel)
	}
	return nil
}

// Submission is the stored record together with the full run result.
type Submission struct {
	Complaint types.ComplaintRecord `json:"complaint"`
	Result    types.ResultBundle    `json:"result"`
}

// ComplaintPatch holds the fields an agent may change on a stored complaint.
// Nil fields are left untouched.
type ComplaintPatch struct {
	Status            *types.ComplaintStatus `json:"status,omitempty"`
	AssignedTo        *string                `json:"assigned_to,omitempty"`
	FinalResponse     *string                `json:"final_response,omitempty"`
	ResolutionSummary *string                `json:"resolution_summary,omitempty"`
	SatisfactionScore *float64               `json:"satisfaction_score,omitempty"`
}

// Resolver is the persistence boundary around the engine. It is safe for
// concurrent use.
type Resolver struct {
	engine Processor
	store  storage.Store
	bus    *events.Bus
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEventBus publishes complaint_processed and complaint_escalated events on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(r *Resolver) {
		r.bus = bus
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver creates a Resolver over engine and store.
func NewResolver(engine Processor, store storage.Store, options ...Option) *Resolver {
	r := &Resolver{
		engine: engine,
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Submit resolves the customer, runs the complaint and stores the outcome.
// A run that ends in StatusError is still stored, with status new.
func (r *Resolver) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	customer, created, err := r.resolveCustomer(ctx, req)
	if err != nil {
		return nil, err
	}

	in := types.ComplaintInput{
		RawText:    req.RawText,
		Channel:    req.Channel,
		CustomerID: customer.ID,
		Profile:    customer.Profile(),
	}
	if !created {
		if in.History, err = r.history(ctx, customer.ID); err != nil {
			return nil, err
		}
	}

	bundle := r.engine.Process(ctx, in)
	record := r.toRecord(req, customer.ID, bundle)

	if err := r.store.SaveComplaint(ctx, record); err != nil {
		return nil, fmt.Errorf("save complaint %s: %w", record.ID, err)
	}
	if err := r.store.AppendAudit(ctx, record.ID, bundle.AuditLog); err != nil {
		return nil, fmt.Errorf("save audit of %s: %w", record.ID, err)
	}
	if _, err := r.store.IncrementComplaintCount(ctx, customer.ID, r.now().UTC()); err != nil {
		return nil, fmt.Errorf("count complaint of %s: %w", customer.ID, err)
	}

	r.logger.Info("complaint stored",
		zap.String("complaint_id", record.ID),
		zap.String("customer_id", customer.ID),
		zap.String("status", string(record.Status)),
		zap.Int("priority_score", record.PriorityScore))

	r.publish(ctx, events.TypeComplaintProcessed, record)
	if record.Escalated {
		r.publish(ctx, events.TypeComplaintEscalated, record)
	}
	return &Submission{Complaint: record, Result: bundle}, nil
}

// ProcessBatch submits reqs with at most parallelism runs in flight. The
// result at index i belongs to reqs[i]; the first error cancels the rest.
func (r *Resolver) ProcessBatch(ctx context.Context, reqs []SubmitRequest, parallelism int) ([]*Submission, error) {
	out := make([]*Submission, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, req := range reqs {
		g.Go(func() error {
			sub, err := r.Submit(ctx, req)
			if err != nil {
				return fmt.Errorf("complaint %d: %w", i, err)
			}
			out[i] = sub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) Get(ctx context.Context, id string) (types.ComplaintRecord, error) {
	return r.store.GetComplaint(ctx, id)
}

// List returns a page of complaints, highest priority first.
func (r *Resolver) List(ctx context.Context, f storage.ComplaintFilter) ([]types.ComplaintRecord, error) {
	return r.store.ListComplaints(ctx, f.Normalize())
}

// Update applies patch. Moving to resolved stamps ResolvedAt and the first
// final response stamps FirstResponseAt.
func (r *Resolver) Update(ctx context.Context, id string, patch ComplaintPatch) (types.ComplaintRecord, error) {
	if patch.Status != nil && !validStatus(*patch.Status) {
		return types.ComplaintRecord{}, fmt.Errorf("%w: %q", ErrInvalidStatus, *patch.Status)
	}
	if s := patch.SatisfactionScore; s != nil && (*s < 1 || *s > 5) {
		return types.ComplaintRecord{}, fmt.Errorf("%w: %v", ErrInvalidScore, *s)
	}

	record, err := r.store.GetComplaint(ctx, id)
	if err != nil {
		return types.ComplaintRecord{}, err
	}

	now := r.now().UTC()
	if patch.Status != nil {
		record.Status = *patch.Status
		if record.Status == types.ComplaintResolved {
			record.ResolvedAt = &now
		}
	}
	if patch.AssignedTo != nil && *patch.AssignedTo != "" {
		record.AssignedTo = *patch.AssignedTo
	}
	if patch.FinalResponse != nil && *patch.FinalResponse != "" {
		record.FinalResponse = *patch.FinalResponse
		if record.FirstResponseAt == nil {
			record.FirstResponseAt = &now
		}
	}
	if patch.ResolutionSummary != nil && *patch.ResolutionSummary != "" {
		record.ResolutionSummary = *patch.ResolutionSummary
	}
	if patch.SatisfactionScore != nil {
		score := *patch.SatisfactionScore
		record.SatisfactionScore = &score
	}
	record.UpdatedAt = now

	if err := r.store.SaveComplaint(ctx, record); err != nil {
		return types.ComplaintRecord{}, fmt.Errorf("save complaint %s: %w", id, err)
	}
	return record, nil
}

// Audit returns the ordered audit trail of a stored complaint.
func (r *Resolver) Audit(ctx context.Context, id string) ([]types.AuditEntry, error) {
	if _, err := r.store.GetComplaint(ctx, id); err != nil {
		return nil, err
	}
	return r.store.GetAudit(ctx, id)
}

// CreateCustomer stores a new customer, generating an id when c has none. It
// returns storage.ErrCustomerExists when the id or email is already in use.
func (r *Resolver) CreateCustomer(ctx context.Context, c types.Customer) (types.Customer, error) {
	if c.ID == "" {
		c.ID = NewCustomerID()
	}
	if c.Tier == "" {
		c.Tier = DefaultTier
	}
	c.TotalComplaints = 0
	now := r.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	if err := r.store.CreateCustomer(ctx, c); err != nil {
		return types.Customer{}, fmt.Errorf("create customer %s: %w", c.ID, err)
	}
	return c, nil
}

func (r *Resolver) GetCustomer(ctx context.Context, id string) (types.Customer, error) {
	return r.store.GetCustomer(ctx, id)
}

// resolveCustomer looks the customer up by id, then by email, and creates
// one when neither matches. created reports a new customer. When a concurrent
// submission creates the same customer first, the lookup runs again.
func (r *Resolver) resolveCustomer(ctx context.Context, req SubmitRequest) (types.Customer, bool, error) {
	c, found, err := r.findCustomer(ctx, req)
	if err != nil || found {
		return c, false, err
	}

	now := r.now().UTC()
	c = types.Customer{
		ID:        req.CustomerID,
		Email:     req.CustomerEmail,
		Name:      req.CustomerName,
		Tier:      DefaultTier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c.ID == "" {
		c.ID = NewCustomerID()
	}
	err = r.store.CreateCustomer(ctx, c)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, storage.ErrCustomerExists) {
		return types.Customer{}, false, fmt.Errorf("create customer %s: %w", c.ID, err)
	}

	existing, found, err := r.findCustomer(ctx, req)
	if err != nil {
		return types.Customer{}, false, err
	}
	if !found {
		return types.Customer{}, false, fmt.Errorf("create customer %s: %w", c.ID, storage.ErrCustomerExists)
	}
	return existing, false, nil
}

// findCustomer looks the customer up by id, then by email.
func (r *Resolver) findCustomer(ctx context.Context, req SubmitRequest) (types.Customer, bool, error) {
	if req.CustomerID != "" {
		c, err := r.store.GetCustomer(ctx, req.CustomerID)
		if err == nil {
			return c, true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return types.Customer{}, false, fmt.Errorf("get customer %s: %w", req.CustomerID, err)
		}
	}
	if req.CustomerEmail != "" {
		c, err := r.store.FindCustomerByEmail(ctx, req.CustomerEmail)
		if err == nil {
			return c, true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return types.Customer{}, false, fmt.Errorf("find customer %s: %w", req.CustomerEmail, err)
		}
	}
	return types.Customer{}, false, nil
}

// history loads the customer's recent complaints, oldest first.
func (r *Resolver) history(ctx context.Context, customerID string) ([]types.PastComplaint, error) {
	recent, err := r.store.RecentComplaints(ctx, customerID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", customerID, err)
	}
	out := make([]types.PastComplaint, len(recent))
	for i, rec := range recent {
		out[len(recent)-1-i] = rec.Past()
	}
	return out, nil
}

func (r *Resolver) toRecord(req SubmitRequest, customerID string, b types.ResultBundle) types.ComplaintRecord {
	now := r.now().UTC()
	rec := types.ComplaintRecord{
		ID:                  b.ComplaintID,
		CustomerID:          customerID,
		RawText:             req.RawText,
		Channel:             req.Channel,
		Status:              StoredStatus(b.Status),
		Categories:          []string{},
		EscalationReasons:   []string{},
		PriorityScore:       3,
		PriorityLevel:       types.PriorityMedium,
		FinalResponse:       b.FinalResponse,
		RequiresHumanReview: b.RequiresHumanReview,
		IterationCount:      b.IterationCount,
		ProcessingStatus:    b.Status,
		ProcessingError:     b.Error,
		ReceivedAt:          now,
		UpdatedAt:           now,
	}
	if rec.ID == "" {
		rec.ID = stages.NewComplaintID()
	}
	if b.Intake != nil {
		rec.NormalizedText = b.Intake.NormalizedText
		if !b.Intake.ReceivedAt.IsZero() {
			rec.ReceivedAt = b.Intake.ReceivedAt.UTC()
		}
	}
	if c := b.Classification; c != nil {
		rec.Categories = c.CategoryNames()
		rec.PrimaryCategory = c.PrimaryCategory
		rec.Sentiment = c.Sentiment
		rec.SentimentScore = c.SentimentScore
		rec.Intent = c.Intent
	}
	if p := b.Priority; p != nil {
		rec.PriorityScore = p.Score
		rec.PriorityLevel = p.Level
	}
	if e := b.Escalation; e != nil {
		rec.Escalated = e.ShouldEscalate
		rec.EscalationLevel = e.Level
		rec.EscalationReasons = e.Reasons
		rec.AssignedTeam = e.AssignedTeam
		deadline := e.SLADeadline.UTC()
		rec.SLADeadline = &deadline
	}
	if rec.Status == types.ComplaintResolved {
		rec.FirstResponseAt = &now
		rec.ResolvedAt = &now
	}
	return rec
}

func (r *Resolver) publish(ctx context.Context, eventType string, rec types.ComplaintRecord) {
	if r.bus == nil {
		return
	}
	err := r.bus.Publish(context.WithoutCancel(ctx), events.Event{
		Type:        eventType,
		ComplaintID: rec.ID,
		Data: map[string]interface{}{
			"customer_id":      rec.CustomerID,
			"status":           string(rec.Status),
			"priority_score":   rec.PriorityScore,
			"priority_level":   string(rec.PriorityLevel),
			"primary_category": rec.PrimaryCategory,
			"assigned_team":    rec.AssignedTeam,
			"escalation_level": rec.EscalationLevel,
		},
	})
	if err != nil && !errors.Is(err, events.ErrNoHandler) {
		r.logger.Warn("event not published",
			zap.String("type", eventType),
			zap.String("complaint_id", rec.ID),
			zap.Error(err))
	}
}

// StoredStatus maps a run's terminal status to the stored complaint status.
func StoredStatus(s types.Status) types.ComplaintStatus {
	switch s {
	case types.StatusAutoResolved:
		return types.ComplaintResolved
	case types.StatusPendingReview:
		return types.ComplaintPendingReview
	case types.StatusEscalated:
		return types.ComplaintEscalated
	default:
		return types.ComplaintNew
	}
}

// NewCustomerID returns CUST- followed by eight uppercase hex characters.
func NewCustomerID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return CustomerIDPrefix + strings.ToUpper(hex[:8])
}

func validStatus(s types.ComplaintStatus) bool {
	switch s {
	case types.ComplaintNew, types.ComplaintInProgress, types.ComplaintPendingReview,
		types.ComplaintEscalated, types.ComplaintResolved, types.ComplaintClosed:
		return true
	}
	return false
}
