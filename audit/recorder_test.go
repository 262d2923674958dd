package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/complaint-engine/types"
)

// MockGenerator is a simple ID generator for testing.
type MockGenerator struct {
	id  uint64
	err error
}

func (g *MockGenerator) NextID() (uint64, error) {
	if g.err != nil {
		return 0, g.err
	}
	g.id++
	return g.id, nil
}

type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type echoInput struct {
	Text string `json:"text"`
}

func TestRecordSuccess(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), step: 25 * time.Millisecond}
	r := NewRecorder(WithGenerator(&MockGenerator{}), WithClock(clock.Now), WithModelVersion("gemini-2.0-flash"))

	fn := func(ctx context.Context, in echoInput) (types.PriorityResult, error) {
		return types.PriorityResult{Score: 3, Assessment: types.Assessment{Confidence: 0.95}}, nil
	}

	out, entry := Record(context.Background(), r, "C-ABCDEF12", "priority", "prioritization", echoInput{Text: "hi"}, fn)
	assert.Equal(t, 3, out.Score)
	assert.Equal(t, "1", entry.ID)
	assert.Equal(t, "C-ABCDEF12", entry.ComplaintID)
	assert.Equal(t, "priority", entry.Stage)
	assert.Equal(t, "prioritization", entry.Action)
	assert.Equal(t, echoInput{Text: "hi"}, entry.Input)
	assert.Equal(t, out, entry.Output)
	require.NotNil(t, entry.Confidence)
	assert.Equal(t, 0.95, *entry.Confidence)
	assert.Equal(t, int64(25), entry.DurationMS)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), entry.CreatedAt)
	assert.Equal(t, RuleModel, entry.ModelVersion)
	assert.False(t, entry.Failed())
}

func TestRecordReasonerModel(t *testing.T) {
	r := NewRecorder(WithModelVersion("gpt-4o-mini"))
	fn := func(ctx context.Context, in echoInput) (types.ClassificationResult, error) {
		return types.ClassificationResult{Assessment: types.Assessment{Confidence: 0.8, AIProcessed: true}}, nil
	}

	_, entry := Record(context.Background(), r, "C-1", "classification", "classification", echoInput{}, fn)
	assert.Equal(t, "gpt-4o-mini", entry.ModelVersion)
	// Without a generator the id is a UUID.
	assert.Len(t, entry.ID, 36)
}

func TestRecordError(t *testing.T) {
	r := NewRecorder(WithGenerator(&MockGenerator{err: errors.New("clock moved backwards")}))
	fn := func(ctx context.Context, in echoInput) (types.ValidationResult, error) {
		return types.ValidationResult{Approved: true, Assessment: types.Assessment{Confidence: 0.6}}, errors.New("validator exploded")
	}

	out, entry := Record(context.Background(), r, "C-1", "validation", "validation_iter_1", echoInput{}, fn)
	assert.Equal(t, types.ValidationResult{}, out)
	assert.True(t, entry.Failed())
	assert.Equal(t, "validator exploded", entry.Error)
	assert.Nil(t, entry.Confidence)
	assert.Equal(t, map[string]interface{}{}, entry.Output)
	assert.Len(t, entry.ID, 36)
}

func TestRecordPanic(t *testing.T) {
	r := NewRecorder()
	fn := func(ctx context.Context, in echoInput) (types.ResponseResult, error) {
		var m map[string]int
		m["boom"]++
		return types.ResponseResult{}, nil
	}

	var (
		out   types.ResponseResult
		entry types.AuditEntry
	)
	assert.NotPanics(t, func() {
		out, entry = Record(context.Background(), r, "C-1", "response", "response_generation_iter_1", echoInput{}, fn)
	})
	assert.Equal(t, types.ResponseResult{}, out)
	assert.True(t, entry.Failed())
	assert.Contains(t, entry.Error, ErrStagePanic.Error())
	assert.Contains(t, entry.Error, "assignment to entry in nil map")
	assert.Nil(t, entry.Confidence)
}

func TestRecordConcurrentIDs(t *testing.T) {
	r := NewRecorder(WithGenerator(&MockGenerator{}))
	fn := func(ctx context.Context, in int) (types.PriorityResult, error) {
		return types.PriorityResult{Score: in}, nil
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]bool)
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, entry := Record(context.Background(), r, "C-1", "priority", "prioritization", i, fn)
			mu.Lock()
			ids[entry.ID] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	assert.Len(t, ids, 50)
}
