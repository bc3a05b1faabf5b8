package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
)

// DocumentStore persists ingested documents.
type DocumentStore interface {
	// Create saves a new document. Returns ErrDuplicate if the id exists.
	Create(ctx context.Context, doc *domain.Document) error

	// GetByID returns ErrDocumentNotFound if the document does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error)

	// Update saves status, chunk count and failure reason. The text is immutable.
	Update(ctx context.Context, doc *domain.Document) error
}

// ChunkStore persists document chunks together with their embeddings.
type ChunkStore interface {
	// CreateMultiple replaces the document's chunks with chunks.
	CreateMultiple(ctx context.Context, documentID uuid.UUID, chunks []*domain.Chunk) error

	// ListByDocument returns the document's chunks ordered by index.
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*domain.Chunk, error)

	// GetByIDs returns the chunks that exist among ids, in index order.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Chunk, error)
}

// PlanStore persists plans.
type PlanStore interface {
	Create(ctx context.Context, plan *domain.Plan) error

	// GetByID returns ErrPlanNotFound if the plan does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Plan, error)

	// Update saves plan only if its stored status still equals expected,
	// returning ErrConflict otherwise.
	Update(ctx context.Context, plan *domain.Plan, expected domain.PlanStatus) error
}

// JobStore persists jobs.
type JobStore interface {
	// CreateMultiple saves jobs. It should run inside a transaction.
	CreateMultiple(ctx context.Context, jobs []*domain.Job) error

	// GetByID returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// Update saves job only if its stored status still equals expected,
	// returning ErrConflict otherwise.
	Update(ctx context.Context, job *domain.Job, expected domain.JobStatus) error

	// ListByPlan returns the plan's jobs ordered by priority then creation.
	ListByPlan(ctx context.Context, planID uuid.UUID) ([]*domain.Job, error)

	// ListByStatus returns up to limit jobs in status, oldest update first.
	// A limit of zero or less means no limit.
	ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error)
}

// TaskStore persists tasks.
type TaskStore interface {
	// CreateMultiple saves tasks. It should run inside a transaction.
	CreateMultiple(ctx context.Context, tasks []*domain.Task) error

	// GetByID returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Update saves task only if its stored status still equals expected,
	// returning ErrConflict otherwise.
	Update(ctx context.Context, task *domain.Task, expected domain.TaskStatus) error

	// ListByJob returns the job's tasks in sequence order.
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Task, error)

	// ListByPlan returns every task of the plan.
	ListByPlan(ctx context.Context, planID uuid.UUID) ([]*domain.Task, error)
}

// QuestionStore persists accepted questions. At most one question exists
// per task.
type QuestionStore interface {
	// Create saves q. Returns ErrQuestionExists if the task already has one.
	Create(ctx context.Context, q *domain.QuestionItem) error

	// GetByTaskID returns ErrQuestionNotFound if the task has no question.
	GetByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.QuestionItem, error)

	// ListByPlan returns the plan's questions matching filter, oldest first.
	ListByPlan(ctx context.Context, planID uuid.UUID, filter domain.QuestionFilter) ([]*domain.QuestionItem, error)

	// CountByPlan returns the number of stored questions for the plan.
	CountByPlan(ctx context.Context, planID uuid.UUID) (int, error)

	// LockPlan serializes question writes for the plan across processes
	// until the surrounding transaction ends.
	LockPlan(ctx context.Context, planID uuid.UUID) error
}

// EventStore is the append-only progress log.
type EventStore interface {
	// Append stores e and assigns its Sequence, which increases
	// monotonically across the store.
	Append(ctx context.Context, e *domain.ProgressEvent) error

	// ListAfter returns the plan's events with a sequence greater than
	// afterSequence and a timestamp at or after since, in sequence order.
	ListAfter(ctx context.Context, planID uuid.UUID, afterSequence int64, since time.Time) ([]*domain.ProgressEvent, error)
}

// Stores bundles the stores bound to one connection or transaction.
type Stores struct {
	Documents DocumentStore
	Chunks    ChunkStore
	Plans     PlanStore
	Jobs      JobStore
	Tasks     TaskStore
	Questions QuestionStore
	Events    EventStore
}

// TxManager runs fn with stores bound to a single transaction. If fn
// returns an error nothing it wrote is kept.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Stores) error) error
}
