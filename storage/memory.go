package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/songzhibin97/complaint-engine/types"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	customers  map[string]types.Customer
	emails     map[string]string
	complaints map[string]types.ComplaintRecord
	audit      map[string][]types.AuditEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers:  make(map[string]types.Customer),
		emails:     make(map[string]string),
		complaints: make(map[string]types.ComplaintRecord),
		audit:      make(map[string][]types.AuditEntry),
	}
}

// getItem looks up id in m, reporting errNotFound when absent.
func getItem[T any](ctx context.Context, mu *sync.RWMutex, m map[string]T, id string, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		mu.RLock()
		defer mu.RUnlock()
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%s", errNotFound, id)
		}
		return item, nil
	})
}

func (s *MemoryStore) SaveCustomer(ctx context.Context, c types.Customer) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if old, ok := s.customers[c.ID]; ok && old.Email != "" {
			delete(s.emails, strings.ToLower(old.Email))
		}
		s.customers[c.ID] = c
		if c.Email != "" {
			s.emails[strings.ToLower(c.Email)] = c.ID
		}
		return nil
	})
}

func (s *MemoryStore) CreateCustomer(ctx context.Context, c types.Customer) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.customers[c.ID]; ok {
			return fmt.Errorf("%w: id=%s", ErrCustomerExists, c.ID)
		}
		email := strings.ToLower(c.Email)
		if _, ok := s.emails[email]; ok && email != "" {
			return fmt.Errorf("%w: email=%s", ErrCustomerExists, c.Email)
		}
		s.customers[c.ID] = c
		if email != "" {
			s.emails[email] = c.ID
		}
		return nil
	})
}

func (s *MemoryStore) IncrementComplaintCount(ctx context.Context, id string, at time.Time) (types.Customer, error) {
	return withContext(ctx, func() (types.Customer, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		c, ok := s.customers[id]
		if !ok {
			return types.Customer{}, fmt.Errorf("%w: id=%s", ErrCustomerNotFound, id)
		}
		c.TotalComplaints++
		c.UpdatedAt = at
		s.customers[id] = c
		return c, nil
	})
}

func (s *MemoryStore) GetCustomer(ctx context.Context, id string) (types.Customer, error) {
	return getItem(ctx, &s.mu, s.customers, id, ErrCustomerNotFound)
}

func (s *MemoryStore) FindCustomerByEmail(ctx context.Context, email string) (types.Customer, error) {
	s.mu.RLock()
	id, ok := s.emails[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return types.Customer{}, fmt.Errorf("%w: email=%s", ErrCustomerNotFound, email)
	}
	return s.GetCustomer(ctx, id)
}

func (s *MemoryStore) SaveComplaint(ctx context.Context, r types.ComplaintRecord) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.complaints[r.ID] = r
		return nil
	})
}

func (s *MemoryStore) GetComplaint(ctx context.Context, id string) (types.ComplaintRecord, error) {
	return getItem(ctx, &s.mu, s.complaints, id, ErrComplaintNotFound)
}

func (s *MemoryStore) ListComplaints(ctx context.Context, f ComplaintFilter) ([]types.ComplaintRecord, error) {
	return withContext(ctx, func() ([]types.ComplaintRecord, error) {
		return selectPage(s.snapshot(""), f), nil
	})
}

func (s *MemoryStore) RecentComplaints(ctx context.Context, customerID string, limit int) ([]types.ComplaintRecord, error) {
	return withContext(ctx, func() ([]types.ComplaintRecord, error) {
		return newestFirst(s.snapshot(customerID), limit), nil
	})
}

func (s *MemoryStore) snapshot(customerID string) []types.ComplaintRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ComplaintRecord, 0, len(s.complaints))
	for _, r := range s.complaints {
		if customerID == "" || r.CustomerID == customerID {
			out = append(out, r)
		}
	}
	return out
}

func (s *MemoryStore) AppendAudit(ctx context.Context, complaintID string, entries []types.AuditEntry) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.audit[complaintID] = append(s.audit[complaintID], entries...)
		return nil
	})
}

// GetAudit returns the entries in append order. An unknown complaint has an empty trail.
func (s *MemoryStore) GetAudit(ctx context.Context, complaintID string) ([]types.AuditEntry, error) {
	return withContext(ctx, func() ([]types.AuditEntry, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]types.AuditEntry, len(s.audit[complaintID]))
		copy(out, s.audit[complaintID])
		return out, nil
	})
}

func (s *MemoryStore) Close() error { return nil }
