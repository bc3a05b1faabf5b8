package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTasksForJob(t *testing.T) {
	t.Parallel()

	job := newTestJob(t, QuestionTypeShortAnswer, 3)
	tasks := NewTasksForJob(job)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, i, task.Sequence)
		assert.Equal(t, job.ID, task.JobID)
		assert.Equal(t, job.PlanID, task.PlanID)
		assert.Equal(t, QuestionTypeShortAnswer, task.TargetType)
		assert.Equal(t, TaskStatusPending, task.Status)
	}
}

func TestTaskHappyPath(t *testing.T) {
	t.Parallel()

	task := NewTask(newTestJob(t, QuestionTypeMCQ, 1), 0)
	require.NoError(t, task.BeginRetrieval())
	require.NoError(t, task.BeginGeneration())
	require.NoError(t, task.BeginValidation())
	// validation rejected the draft; regenerate
	require.NoError(t, task.BeginGeneration())
	require.NoError(t, task.BeginValidation())
	require.NoError(t, task.MarkStored())

	assert.Equal(t, TaskStatusStored, task.Status)
	assert.Equal(t, 2, task.Attempts)
	assert.True(t, task.IsTerminal())
	assert.ErrorIs(t, task.Cancel(), ErrInvalidTransition)
}

func TestTaskInvalidTransitions(t *testing.T) {
	t.Parallel()

	task := NewTask(newTestJob(t, QuestionTypeMCQ, 1), 0)
	assert.ErrorIs(t, task.BeginGeneration(), ErrInvalidTransition)
	assert.ErrorIs(t, task.MarkStored(), ErrInvalidTransition)
	assert.Equal(t, TaskStatusPending, task.Status)
}

func TestTaskReset(t *testing.T) {
	t.Parallel()

	t.Run("failed task resets", func(t *testing.T) {
		t.Parallel()
		task := NewTask(newTestJob(t, QuestionTypeMCQ, 1), 0)
		require.NoError(t, task.BeginRetrieval())
		require.NoError(t, task.MarkFailed(FailureTransient, "timeout"))
		require.NoError(t, task.Reset())
		assert.Equal(t, TaskStatusPending, task.Status)
		assert.Empty(t, task.LastError)
	})

	t.Run("duplicate stays failed", func(t *testing.T) {
		t.Parallel()
		task := NewTask(newTestJob(t, QuestionTypeMCQ, 1), 0)
		require.NoError(t, task.MarkFailed(FailureDuplicate, "near duplicate"))
		assert.ErrorIs(t, task.Reset(), ErrInvalidTransition)
		assert.Equal(t, TaskStatusFailed, task.Status)
	})

	t.Run("stored task cannot reset", func(t *testing.T) {
		t.Parallel()
		task := NewTask(newTestJob(t, QuestionTypeMCQ, 1), 0)
		task.Status = TaskStatusStored
		assert.ErrorIs(t, task.Reset(), ErrInvalidTransition)
	})
}

func TestFailureKindRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, FailureTransient.Retryable())
	assert.True(t, FailureTimeout.Retryable())
	assert.True(t, FailureMalformed.Retryable())
	assert.True(t, FailureValidation.Retryable())
	assert.False(t, FailureDuplicate.Retryable())
	assert.False(t, FailureFatal.Retryable())
	assert.False(t, FailureCancelled.Retryable())
}
