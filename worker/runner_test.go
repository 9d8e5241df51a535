package worker

import (
	"context"
	"fmt"
	"testing"

	"naviai/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerInvokeRecordsRun(t *testing.T) {
	ms := newMemStore()
	runner := NewRunner(ms, testLogger())
	require.NoError(t, runner.Register("noop", "@every 1h", func(ctx context.Context) (Summary, error) {
		return Summary{Processed: 3, Succeeded: 2, Skipped: 1}, nil
	}))

	sum, err := runner.Invoke(context.Background(), "noop")
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 3, Succeeded: 2, Skipped: 1}, sum)

	ms.mu.Lock()
	defer ms.mu.Unlock()
	require.Len(t, ms.jobRuns, 1)
	for _, run := range ms.jobRuns {
		assert.Equal(t, "noop", run.JobName)
		assert.Equal(t, models.JobSucceeded, run.Status)
		assert.Equal(t, 3, run.Processed)
		assert.Equal(t, 2, run.Succeeded)
		assert.Equal(t, 1, run.Skipped)
		assert.NotNil(t, run.FinishedAt)
	}
}

func TestRunnerInvokeRecordsJobLevelFailure(t *testing.T) {
	ms := newMemStore()
	runner := NewRunner(ms, testLogger())
	require.NoError(t, runner.Register("boom", "@every 1h", func(ctx context.Context) (Summary, error) {
		return Summary{Processed: 1}, fmt.Errorf("database unreachable")
	}))

	_, err := runner.Invoke(context.Background(), "boom")
	require.Error(t, err)

	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, run := range ms.jobRuns {
		assert.Equal(t, models.JobFailed, run.Status)
		assert.Equal(t, "database unreachable", run.Error)
	}
}

func TestRunnerInvokeUnknownJob(t *testing.T) {
	runner := NewRunner(newMemStore(), testLogger())
	_, err := runner.Invoke(context.Background(), "missing")
	assert.Error(t, err)
}
