package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(t *testing.T, qt QuestionType, batch int) *Job {
	t.Helper()
	payload, err := NewJobPayload(qt, DifficultyMedium, nil)
	require.NoError(t, err)
	job, err := NewJob(uuid.New(), payload, batch, 10, 1)
	require.NoError(t, err)
	return job
}

func TestNewJob(t *testing.T) {
	t.Parallel()

	job := newTestJob(t, QuestionTypeMCQ, 4)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, QuestionTypeMCQ, job.QuestionType)
	assert.Equal(t, 4, job.BatchSize)

	payload, err := NewJobPayload(QuestionTypeEssay, DifficultyHard, nil)
	require.NoError(t, err)

	_, err = NewJob(uuid.Nil, payload, 1, 1, 0)
	assert.ErrorIs(t, err, ErrEmptyPlanID)

	_, err = NewJob(uuid.New(), payload, 0, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	_, err = NewJob(uuid.New(), JobPayload{Type: QuestionTypeMCQ, Difficulty: DifficultyEasy, Spec: EssaySpec{MinWords: 1, RubricPoints: 1}}, 1, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("complete passes the gate", func(t *testing.T) {
		t.Parallel()
		job := newTestJob(t, QuestionTypeMCQ, 4)
		require.NoError(t, job.Activate())
		require.NoError(t, job.Complete(TaskTally{Successful: 3, Failed: 1}, DefaultMinSuccessRatio))
		assert.Equal(t, JobStatusCompleted, job.Status)
		assert.Equal(t, 3, job.SuccessfulTasks)
		assert.True(t, job.IsTerminal())
	})

	t.Run("complete below ratio is rejected", func(t *testing.T) {
		t.Parallel()
		job := newTestJob(t, QuestionTypeTrueFalse, 10)
		require.NoError(t, job.Activate())
		err := job.Complete(TaskTally{Successful: 4, Failed: 6}, DefaultMinSuccessRatio)
		assert.ErrorIs(t, err, ErrJobNotCompletable)
		assert.Equal(t, JobStatusActive, job.Status)
	})

	t.Run("zero successes never complete", func(t *testing.T) {
		t.Parallel()
		job := newTestJob(t, QuestionTypeEssay, 2)
		require.NoError(t, job.Activate())
		err := job.Complete(TaskTally{}, 0)
		assert.ErrorIs(t, err, ErrJobNotCompletable)
	})

	t.Run("fail requeue then dead letter", func(t *testing.T) {
		t.Parallel()
		job := newTestJob(t, QuestionTypeTrueFalse, 10)
		require.NoError(t, job.Activate())
		require.NoError(t, job.Fail(TaskTally{Successful: 4, Failed: 6}, "ratio 0.40"))
		assert.Equal(t, "ratio 0.40", job.LastError)

		require.NoError(t, job.Requeue())
		assert.Equal(t, 1, job.RetryCount)
		assert.Equal(t, JobStatusQueued, job.Status)

		require.NoError(t, job.Activate())
		require.NoError(t, job.Fail(TaskTally{Successful: 4, Failed: 6}, "ratio 0.40"))

		err := job.Requeue()
		assert.ErrorIs(t, err, ErrRetriesExhausted)

		require.NoError(t, job.DeadLetter("retries exhausted"))
		assert.Equal(t, JobStatusDeadLettered, job.Status)
		assert.True(t, job.IsTerminal())
	})

	t.Run("terminal jobs reject transitions", func(t *testing.T) {
		t.Parallel()
		job := newTestJob(t, QuestionTypeMCQ, 1)
		require.NoError(t, job.Cancel())
		assert.True(t, errors.Is(job.Activate(), ErrInvalidTransition))
		assert.True(t, errors.Is(job.Cancel(), ErrInvalidTransition))
	})
}

func TestEvaluateJob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		tally TaskTally
		want  JobStatus
	}{
		{"all stored", TaskTally{Successful: 4}, JobStatusCompleted},
		{"exactly half", TaskTally{Successful: 5, Failed: 5}, JobStatusCompleted},
		{"below half", TaskTally{Successful: 4, Failed: 6}, JobStatusFailed},
		{"nothing stored", TaskTally{Failed: 3}, JobStatusFailed},
		{"empty", TaskTally{}, JobStatusFailed},
		{"all cancelled", TaskTally{Cancelled: 3}, JobStatusCancelled},
		{"cancelled excluded from ratio", TaskTally{Successful: 1, Failed: 1, Cancelled: 8}, JobStatusCompleted},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EvaluateJob(tc.tally, DefaultMinSuccessRatio))
		})
	}
}

func TestTallyTasks(t *testing.T) {
	t.Parallel()

	job := newTestJob(t, QuestionTypeMCQ, 5)
	tasks := NewTasksForJob(job)
	tasks[0].Status = TaskStatusStored
	tasks[1].Status = TaskStatusStored
	tasks[2].Status = TaskStatusFailed
	tasks[3].Status = TaskStatusCancelled

	tally := TallyTasks(tasks)
	assert.Equal(t, TaskTally{Successful: 2, Failed: 1, Cancelled: 1}, tally)
	assert.InDelta(t, 2.0/3.0, tally.SuccessRatio(), 1e-9)
}

func TestResolvePlanStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PlanStatusExecuting,
		ResolvePlanStatus([]JobStatus{JobStatusCompleted, JobStatusActive}, 3))
	assert.Equal(t, PlanStatusCompleted,
		ResolvePlanStatus([]JobStatus{JobStatusCompleted, JobStatusDeadLettered}, 3))
	assert.Equal(t, PlanStatusFailed,
		ResolvePlanStatus([]JobStatus{JobStatusDeadLettered}, 0))
}

func TestRetryBackoff(t *testing.T) {
	t.Parallel()

	base, max := 5*time.Second, time.Minute
	assert.Equal(t, 5*time.Second, RetryBackoff(1, base, max))
	assert.Equal(t, 10*time.Second, RetryBackoff(2, base, max))
	assert.Equal(t, 20*time.Second, RetryBackoff(3, base, max))
	assert.Equal(t, max, RetryBackoff(10, base, max))
	assert.Equal(t, 5*time.Second, RetryBackoff(0, base, max))
}
