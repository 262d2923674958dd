// Package storage persists customers, complaint records and audit trails.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/songzhibin97/complaint-engine/types"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound          = errors.New("record not found")
	ErrComplaintNotFound = fmt.Errorf("complaint %w", ErrNotFound)
	ErrCustomerNotFound  = fmt.Errorf("customer %w", ErrNotFound)
	// ErrCustomerExists is returned by CreateCustomer when the id or email is taken.
	ErrCustomerExists = errors.New("customer already exists")
)

// Page bounds of ListComplaints.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Store is the record store used by the resolver.
type Store interface {
	// CreateCustomer inserts c unless its id or email is already stored.
	CreateCustomer(ctx context.Context, c types.Customer) error
	SaveCustomer(ctx context.Context, c types.Customer) error
	// IncrementComplaintCount atomically adds one to the customer's
	// TotalComplaints, stamps UpdatedAt with at and returns the result.
	IncrementComplaintCount(ctx context.Context, id string, at time.Time) (types.Customer, error)
	GetCustomer(ctx context.Context, id string) (types.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (types.Customer, error)

	SaveComplaint(ctx context.Context, r types.ComplaintRecord) error
	GetComplaint(ctx context.Context, id string) (types.ComplaintRecord, error)
	// ListComplaints orders by priority score, then by received time, both descending.
	ListComplaints(ctx context.Context, f ComplaintFilter) ([]types.ComplaintRecord, error)
	// RecentComplaints returns a customer's newest complaints first.
	RecentComplaints(ctx context.Context, customerID string, limit int) ([]types.ComplaintRecord, error)

	AppendAudit(ctx context.Context, complaintID string, entries []types.AuditEntry) error
	GetAudit(ctx context.Context, complaintID string) ([]types.AuditEntry, error)

	Close() error
}

// ComplaintFilter selects complaints. Empty fields match everything.
type ComplaintFilter struct {
	Status        types.ComplaintStatus `form:"status"`
	PriorityLevel types.PriorityLevel   `form:"priority"`
	Channel       types.Channel         `form:"channel"`
	CustomerID    string                `form:"customer_id"`
	Limit         int                   `form:"limit"`
	Offset        int                   `form:"offset"`
}

// Normalize clamps the page bounds.
func (f ComplaintFilter) Normalize() ComplaintFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Match reports whether r passes the filter.
func (f ComplaintFilter) Match(r types.ComplaintRecord) bool {
	return (f.Status == "" || r.Status == f.Status) &&
		(f.PriorityLevel == "" || r.PriorityLevel == f.PriorityLevel) &&
		(f.Channel == "" || r.Channel == f.Channel) &&
		(f.CustomerID == "" || r.CustomerID == f.CustomerID)
}

// selectPage filters, orders and pages records held outside a query engine.
func selectPage(records []types.ComplaintRecord, f ComplaintFilter) []types.ComplaintRecord {
	f = f.Normalize()
	out := make([]types.ComplaintRecord, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PriorityScore != out[j].PriorityScore {
			return out[i].PriorityScore > out[j].PriorityScore
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if f.Offset >= len(out) {
		return []types.ComplaintRecord{}
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// newestFirst orders records by received time, newest first, and keeps limit.
func newestFirst(records []types.ComplaintRecord, limit int) []types.ComplaintRecord {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ReceivedAt.After(records[j].ReceivedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

// withContext runs fn unless ctx is already done.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

func withContextError(ctx context.Context, fn func() error) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
