package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/complaint-engine/types"
)

var baseTime = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func newCustomer(id, email string) types.Customer {
	return types.Customer{
		ID:              id,
		Email:           email,
		Name:            "Customer " + id,
		Tier:            "Gold",
		LifetimeValue:   1250.5,
		TotalComplaints: 2,
		CreatedAt:       baseTime,
		UpdatedAt:       baseTime,
	}
}

func newRecord(id, customerID string, score int, status types.ComplaintStatus, age time.Duration) types.ComplaintRecord {
	satisfaction := 4.0
	return types.ComplaintRecord{
		ID:                id,
		CustomerID:        customerID,
		RawText:           "complaint " + id,
		Channel:           types.ChannelEmail,
		Status:            status,
		Categories:        []string{"Billing"},
		PrimaryCategory:   "Billing",
		Sentiment:         types.SentimentFrustrated,
		PriorityScore:     score,
		PriorityLevel:     types.PriorityMedium,
		EscalationReasons: []string{},
		SatisfactionScore: &satisfaction,
		ReceivedAt:        baseTime.Add(-age),
		UpdatedAt:         baseTime,
	}
}

func ids(records []types.ComplaintRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

// runStoreSuite checks the Store contract against one implementation.
func runStoreSuite(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("Customers", func(t *testing.T) {
		c := newCustomer("CUST-0001", "Ada@Example.com")
		require.NoError(t, store.SaveCustomer(ctx, c))

		got, err := store.GetCustomer(ctx, "CUST-0001")
		require.NoError(t, err)
		assert.Equal(t, c, got)

		got, err = store.FindCustomerByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, "CUST-0001", got.ID)

		c.Email = "ada@new.example.com"
		c.TotalComplaints = 3
		require.NoError(t, store.SaveCustomer(ctx, c))
		_, err = store.FindCustomerByEmail(ctx, "ada@example.com")
		assert.ErrorIs(t, err, ErrCustomerNotFound)
		got, err = store.FindCustomerByEmail(ctx, "ADA@new.example.com")
		require.NoError(t, err)
		assert.Equal(t, 3, got.TotalComplaints)

		_, err = store.GetCustomer(ctx, "CUST-MISSING")
		assert.ErrorIs(t, err, ErrCustomerNotFound)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("CreateCustomer", func(t *testing.T) {
		c := newCustomer("CUST-0002", "Grace@Example.com")
		require.NoError(t, store.CreateCustomer(ctx, c))

		got, err := store.FindCustomerByEmail(ctx, "grace@example.com")
		require.NoError(t, err)
		assert.Equal(t, c, got)

		err = store.CreateCustomer(ctx, newCustomer("CUST-0002", "other@example.com"))
		assert.ErrorIs(t, err, ErrCustomerExists)
		err = store.CreateCustomer(ctx, newCustomer("CUST-0003", "GRACE@example.com"))
		assert.ErrorIs(t, err, ErrCustomerExists)
		_, err = store.GetCustomer(ctx, "CUST-0003")
		assert.ErrorIs(t, err, ErrCustomerNotFound)

		got, err = store.GetCustomer(ctx, "CUST-0002")
		require.NoError(t, err)
		assert.Equal(t, c, got)
	})

	t.Run("IncrementComplaintCount", func(t *testing.T) {
		c := newCustomer("CUST-0004", "")
		c.TotalComplaints = 0
		require.NoError(t, store.CreateCustomer(ctx, c))

		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.IncrementComplaintCount(ctx, c.ID, baseTime.Add(time.Hour))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		updated, err := store.IncrementComplaintCount(ctx, c.ID, baseTime.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 26, updated.TotalComplaints)
		assert.True(t, baseTime.Add(2*time.Hour).Equal(updated.UpdatedAt))
		assert.Equal(t, c.Tier, updated.Tier)

		got, err := store.GetCustomer(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 26, got.TotalComplaints)

		_, err = store.IncrementComplaintCount(ctx, "CUST-MISSING", baseTime)
		assert.ErrorIs(t, err, ErrCustomerNotFound)
	})

	t.Run("Complaints", func(t *testing.T) {
		r := newRecord("C-00000001", "CUST-0001", 3, types.ComplaintNew, time.Hour)
		require.NoError(t, store.SaveComplaint(ctx, r))

		got, err := store.GetComplaint(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r, got)

		r.Status = types.ComplaintResolved
		require.NoError(t, store.SaveComplaint(ctx, r))
		got, err = store.GetComplaint(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, types.ComplaintResolved, got.Status)

		_, err = store.GetComplaint(ctx, "C-MISSING")
		assert.ErrorIs(t, err, ErrComplaintNotFound)
	})

	t.Run("ListOrderAndFilter", func(t *testing.T) {
		records := []types.ComplaintRecord{
			newRecord("C-L1", "CUST-L", 2, types.ComplaintNew, 4*time.Hour),
			newRecord("C-L2", "CUST-L", 5, types.ComplaintEscalated, 3*time.Hour),
			newRecord("C-L3", "CUST-L", 5, types.ComplaintEscalated, 1*time.Hour),
			newRecord("C-L4", "CUST-M", 3, types.ComplaintPendingReview, 2*time.Hour),
		}
		records[3].Channel = types.ChannelChat
		for _, r := range records {
			require.NoError(t, store.SaveComplaint(ctx, r))
		}

		got, err := store.ListComplaints(ctx, ComplaintFilter{CustomerID: "CUST-L"})
		require.NoError(t, err)
		assert.Equal(t, []string{"C-L3", "C-L2", "C-L1"}, ids(got))

		got, err = store.ListComplaints(ctx, ComplaintFilter{Status: types.ComplaintEscalated, Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"C-L2"}, ids(got))

		got, err = store.ListComplaints(ctx, ComplaintFilter{Channel: types.ChannelChat})
		require.NoError(t, err)
		assert.Equal(t, []string{"C-L4"}, ids(got))

		got, err = store.ListComplaints(ctx, ComplaintFilter{CustomerID: "CUST-L", Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, got)

		recent, err := store.RecentComplaints(ctx, "CUST-L", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"C-L3", "C-L2"}, ids(recent))

		recent, err = store.RecentComplaints(ctx, "CUST-NOBODY", 10)
		require.NoError(t, err)
		assert.Empty(t, recent)
	})

	t.Run("Audit", func(t *testing.T) {
		confidence := 0.9
		entries := []types.AuditEntry{
			{ID: "1", ComplaintID: "C-A", Stage: "intake", Action: "intake_processing", Confidence: &confidence, CreatedAt: baseTime},
			{ID: "2", ComplaintID: "C-A", Stage: "context", Action: "context_retrieval", Error: "boom", CreatedAt: baseTime.Add(time.Millisecond)},
		}
		require.NoError(t, store.AppendAudit(ctx, "C-A", entries[:1]))
		require.NoError(t, store.AppendAudit(ctx, "C-A", entries[1:]))
		require.NoError(t, store.AppendAudit(ctx, "C-A", nil))

		got, err := store.GetAudit(ctx, "C-A")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "intake_processing", got[0].Action)
		require.NotNil(t, got[0].Confidence)
		assert.Equal(t, 0.9, *got[0].Confidence)
		assert.True(t, got[1].Failed())
		assert.Nil(t, got[1].Confidence)

		none, err := store.GetAudit(ctx, "C-NONE")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ConcurrentSaves", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r := newRecord(fmt.Sprintf("C-P%02d", i), "CUST-P", i%5+1, types.ComplaintNew, time.Duration(i)*time.Minute)
				assert.NoError(t, store.SaveComplaint(ctx, r))
			}(i)
		}
		wg.Wait()

		got, err := store.ListComplaints(ctx, ComplaintFilter{CustomerID: "CUST-P", Limit: 100})
		require.NoError(t, err)
		assert.Len(t, got, 20)
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	runStoreSuite(t, store)

	t.Run("CanceledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := store.GetComplaint(ctx, "C-00000001")
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, store.SaveComplaint(ctx, types.ComplaintRecord{ID: "C-X"}), context.Canceled)
	})
}

func TestComplaintFilterNormalize(t *testing.T) {
	assert.Equal(t, ComplaintFilter{Limit: DefaultLimit}, ComplaintFilter{}.Normalize())
	assert.Equal(t, ComplaintFilter{Limit: MaxLimit}, ComplaintFilter{Limit: 500, Offset: -3}.Normalize())
	assert.Equal(t, ComplaintFilter{Limit: 10, Offset: 20}, ComplaintFilter{Limit: 10, Offset: 20}.Normalize())
}
