package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/insight_go_server/internal/model"
)

func TestRegistry_RegisterAndRemove(t *testing.T) {
	registry := NewRegistry()

	job, err := registry.Register(1, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), job.TaskID)
	assert.Equal(t, int64(100), job.UserID)
	assert.Equal(t, 1, registry.Running())

	got, ok := registry.Get(1)
	assert.True(t, ok)
	assert.Same(t, job, got)

	registry.Remove(1)
	assert.Equal(t, 0, registry.Running())
	_, ok = registry.Get(1)
	assert.False(t, ok)
}

func TestRegistry_RejectsDuplicate(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Register(1, 100)
	require.NoError(t, err)

	_, err = registry.Register(1, 100)
	assert.ErrorIs(t, err, ErrAnalysisRunning)

	// 不同任务互不影响
	_, err = registry.Register(2, 100)
	require.NoError(t, err)
}

func TestRegistry_CancelIdempotent(t *testing.T) {
	registry := NewRegistry()

	job, err := registry.Register(1, 100)
	require.NoError(t, err)
	assert.False(t, job.Cancelled())

	assert.True(t, registry.Cancel(1, 100))
	assert.True(t, job.Cancelled())

	// 重复取消返回 false
	assert.False(t, registry.Cancel(1, 100))
}

func TestRegistry_CancelChecksOwnership(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Register(1, 100)
	require.NoError(t, err)

	assert.False(t, registry.Cancel(1, 200))
	assert.False(t, registry.Cancel(99, 100))
	assert.True(t, registry.Cancel(1, 100))
}

func TestJob_DispatchDedup(t *testing.T) {
	job := newJob(1, 100)

	assert.True(t, job.markDispatched("c001"))
	assert.False(t, job.markDispatched("c001"))
	assert.True(t, job.isDispatched("c001"))
	assert.False(t, job.isDispatched("c002"))
}

func TestJob_DrainPendingBounded(t *testing.T) {
	job := newJob(1, 100)

	for i := 0; i < 7; i++ {
		job.appendResult(pendingResult{
			CommentID: "c",
			Result:    model.JSONMap{"意向客户": "是"},
			Outcome:   OutcomeSuccess,
		}, 100)
	}

	batch := job.drainPending(5)
	assert.Len(t, batch, 5)
	assert.Equal(t, 2, job.pendingCount())

	batch = job.drainPending(5)
	assert.Len(t, batch, 2)
	assert.Nil(t, job.drainPending(5))
}

func TestJob_AppendResultKicksAtBatchSize(t *testing.T) {
	job := newJob(1, 100)

	job.appendResult(pendingResult{CommentID: "c1"}, 3)
	job.appendResult(pendingResult{CommentID: "c2"}, 3)
	select {
	case <-job.flushKick:
		t.Fatal("flusher kicked before batch size reached")
	default:
	}

	job.appendResult(pendingResult{CommentID: "c3"}, 3)
	select {
	case <-job.flushKick:
	default:
		t.Fatal("flusher not kicked at batch size")
	}
}

func TestJob_StopCancelsInflightCalls(t *testing.T) {
	job := newJob(1, 100)

	cancelled := false
	job.trackCall("c001", func() { cancelled = true })

	assert.True(t, job.stop())
	assert.True(t, cancelled)
	assert.True(t, job.Cancelled())
	assert.False(t, job.stop())
}
