package orchestrator

import (
	"fmt"

	"github.com/phrazzld/questgen/internal/config"
	"github.com/phrazzld/questgen/internal/domain"
)

// Options control how plans are split into jobs.
type Options struct {
	// BatchSizes is the largest job per question type.
	BatchSizes map[domain.QuestionType]int
	// MaxRetries is the number of whole-job retries after a failure.
	MaxRetries int
}

// DefaultOptions batches simple types large and complex types small.
func DefaultOptions() Options {
	return Options{
		BatchSizes: map[domain.QuestionType]int{
			domain.QuestionTypeTrueFalse:   15,
			domain.QuestionTypeMCQ:         10,
			domain.QuestionTypeShortAnswer: 8,
			domain.QuestionTypeEssay:       5,
		},
		MaxRetries: 3,
	}
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(oc config.OrchestratorConfig, qc config.QueueConfig) Options {
	return Options{
		BatchSizes: map[domain.QuestionType]int{
			domain.QuestionTypeTrueFalse:   oc.BatchSizeTrueFalse,
			domain.QuestionTypeMCQ:         oc.BatchSizeMCQ,
			domain.QuestionTypeShortAnswer: oc.BatchSizeShortAnswer,
			domain.QuestionTypeEssay:       oc.BatchSizeEssay,
		},
		MaxRetries: qc.MaxRetries,
	}
}

// typeCost weighs how long one question of a type takes to produce.
var typeCost = map[domain.QuestionType]int{
	domain.QuestionTypeTrueFalse:   1,
	domain.QuestionTypeMCQ:         2,
	domain.QuestionTypeShortAnswer: 3,
	domain.QuestionTypeEssay:       6,
}

// Priority is the queue priority class of a job: batch size times type
// cost. Lower values dequeue first, so small and fast batches surface
// their questions sooner.
func Priority(t domain.QuestionType, batchSize int) int {
	cost, ok := typeCost[t]
	if !ok {
		cost = 1
	}
	return batchSize * cost
}

// Batch is one job together with its tasks in sequence order.
type Batch struct {
	Job   *domain.Job
	Tasks []*domain.Task
}

// Decompose splits every distribution entry of plan into jobs of at most
// the configured batch size. Full batches come first, the remainder last.
// It does not touch storage.
func Decompose(plan *domain.Plan, opts Options) ([]Batch, error) {
	if err := plan.CheckConservation(); err != nil {
		return nil, err
	}
	topics := plan.Constraints.Topics
	if len(topics) == 0 {
		topics = plan.Topics
	}

	var batches []Batch
	for _, entry := range plan.Distribution {
		size := opts.BatchSizes[entry.Type]
		if size <= 0 {
			size = DefaultOptions().BatchSizes[entry.Type]
		}
		if size <= 0 {
			return nil, fmt.Errorf("%w: no batch size for %q", domain.ErrInvalidQuestionType, entry.Type)
		}

		for remaining := entry.Count; remaining > 0; remaining -= size {
			n := min(size, remaining)
			payload, err := domain.NewJobPayload(entry.Type, entry.Difficulty, topics)
			if err != nil {
				return nil, err
			}
			job, err := domain.NewJob(plan.ID, payload, n, Priority(entry.Type, n), opts.MaxRetries)
			if err != nil {
				return nil, err
			}
			batches = append(batches, Batch{Job: job, Tasks: domain.NewTasksForJob(job)})
		}
	}
	return batches, nil
}
