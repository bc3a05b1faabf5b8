package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQuestionItem(t *testing.T) {
	t.Parallel()

	task := NewTask(newTestJob(t, QuestionTypeMCQ, 1), 0)
	draft := Draft{
		Stem:          "  Which organelle produces ATP?  ",
		Options:       []string{"Nucleus", "Mitochondrion", "Ribosome", "Golgi body"},
		Answer:        "Mitochondrion",
		CitedChunkIDs: []uuid.UUID{uuid.New()},
	}

	q, err := NewQuestionItem(task, draft, 88)
	require.NoError(t, err)
	assert.Equal(t, "Which organelle produces ATP?", q.Stem)
	assert.Equal(t, task.ID, q.TaskID)
	assert.Equal(t, task.PlanID, q.PlanID)
	assert.Equal(t, 88, q.ValidationScore)

	draft.CitedChunkIDs = nil
	_, err = NewQuestionItem(task, draft, 88)
	assert.ErrorIs(t, err, ErrMissingCitation)

	draft.CitedChunkIDs = []uuid.UUID{uuid.New()}
	draft.Stem = " "
	_, err = NewQuestionItem(task, draft, 88)
	assert.ErrorIs(t, err, ErrEmptyQuestionStem)
}

func TestQuestionFilterMatches(t *testing.T) {
	t.Parallel()

	q := &QuestionItem{Type: QuestionTypeEssay, Difficulty: DifficultyHard, ValidationScore: 75}
	assert.True(t, QuestionFilter{}.Matches(q))
	assert.True(t, QuestionFilter{Type: QuestionTypeEssay, MinScore: 70}.Matches(q))
	assert.False(t, QuestionFilter{Type: QuestionTypeMCQ}.Matches(q))
	assert.False(t, QuestionFilter{Difficulty: DifficultyEasy}.Matches(q))
	assert.False(t, QuestionFilter{MinScore: 80}.Matches(q))
}
