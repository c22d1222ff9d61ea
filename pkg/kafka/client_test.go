package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-chat-go/pkg/tasks"
)

type flakyProcessor struct {
	failures int
	calls    int
}

func (p *flakyProcessor) Process(context.Context, tasks.SnapshotTask) error {
	p.calls++
	if p.calls <= p.failures {
		return assert.AnError
	}
	return nil
}

func withBackoff(t *testing.T, d time.Duration) {
	t.Helper()
	prev := retryBackoff
	retryBackoff = d
	t.Cleanup(func() { retryBackoff = prev })
}

func TestProcessWithRetryRecoversFromTransientFailure(t *testing.T) {
	withBackoff(t, time.Millisecond)
	p := &flakyProcessor{failures: maxAttempts - 1}

	require.NoError(t, processWithRetry(context.Background(), p, tasks.SnapshotTask{Action: tasks.ActionBuild}))
	assert.Equal(t, maxAttempts, p.calls)
}

func TestProcessWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	withBackoff(t, time.Millisecond)
	p := &flakyProcessor{failures: 100}

	err := processWithRetry(context.Background(), p, tasks.SnapshotTask{Action: tasks.ActionBuild})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, maxAttempts, p.calls)
}

func TestProcessWithRetryStopsOnCancel(t *testing.T) {
	withBackoff(t, time.Hour)
	p := &flakyProcessor{failures: 100}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := processWithRetry(ctx, p, tasks.SnapshotTask{Action: tasks.ActionBuild})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.calls)
}

func TestProduceWithoutProducer(t *testing.T) {
	err := ProduceSnapshotTask(context.Background(), tasks.SnapshotTask{Action: tasks.ActionBuild})
	assert.ErrorIs(t, err, ErrProducerNotInitialized)
}
