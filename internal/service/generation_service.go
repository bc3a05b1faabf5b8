package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/orchestrator"
	"github.com/phrazzld/questgen/internal/planner"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/phrazzld/questgen/internal/progress"
	"github.com/phrazzld/questgen/internal/store"
)

// Chunker splits a document into chunks.
type Chunker interface {
	Chunk(doc *domain.Document) []*domain.Chunk
}

// Indexer embeds chunks and makes them searchable.
type Indexer interface {
	Index(ctx context.Context, chunks []*domain.Chunk) error
	Forget(ctx context.Context, documentID uuid.UUID) error
}

// PlanCreator builds plans for ready documents.
type PlanCreator interface {
	CreatePlan(ctx context.Context, documentID uuid.UUID, req planner.Request) (*domain.Plan, error)
}

// Runner starts, cancels and measures generation runs.
type Runner interface {
	StartGeneration(ctx context.Context, planID uuid.UUID, opts orchestrator.StartOptions) ([]uuid.UUID, error)
	Cancel(ctx context.Context, planID uuid.UUID) error
	Progress(ctx context.Context, planID uuid.UUID) (float64, error)
}

// Subscriber streams progress events.
type Subscriber interface {
	Subscribe(ctx context.Context, planID uuid.UUID, opts progress.SubscribeOptions) (<-chan *domain.ProgressEvent, error)
}

// JobSummary is the status view of one job.
type JobSummary struct {
	ID              uuid.UUID           `json:"id"`
	QuestionType    domain.QuestionType `json:"question_type"`
	Difficulty      domain.Difficulty   `json:"difficulty"`
	Status          domain.JobStatus    `json:"status"`
	BatchSize       int                 `json:"batch_size"`
	RetryCount      int                 `json:"retry_count"`
	SuccessfulTasks int                 `json:"successful_tasks"`
	FailedTasks     int                 `json:"failed_tasks"`
	CancelledTasks  int                 `json:"cancelled_tasks"`
	LastError       string              `json:"last_error,omitempty"`
}

// PlanStatus is the answer to GetStatus.
type PlanStatus struct {
	PlanID             uuid.UUID         `json:"plan_id"`
	Status             domain.PlanStatus `json:"status"`
	ProgressPercentage float64           `json:"progress_percentage"`
	TotalRequested     int               `json:"total_requested"`
	QuestionsStored    int               `json:"questions_stored"`
	Diagnostics        []string          `json:"diagnostics,omitempty"`
	Jobs               []JobSummary      `json:"jobs"`
}

// GenerationService is the external interface of the pipeline.
type GenerationService interface {
	// IngestDocument chunks and indexes text. A document without content
	// is stored as failed and returned without an error.
	IngestDocument(ctx context.Context, documentID uuid.UUID, text string, metadata map[string]string) (*domain.Document, error)

	// CreatePlan plans questions for a ready document.
	CreatePlan(ctx context.Context, documentID uuid.UUID, req planner.Request) (*domain.Plan, error)

	// StartGeneration queues the plan's jobs and returns their ids.
	StartGeneration(ctx context.Context, planID uuid.UUID, opts orchestrator.StartOptions) ([]uuid.UUID, error)

	// GetStatus reports the plan status, completion percentage and jobs.
	GetStatus(ctx context.Context, planID uuid.UUID) (*PlanStatus, error)

	// GetQuestions lists the plan's stored questions.
	GetQuestions(ctx context.Context, planID uuid.UUID, filter domain.QuestionFilter) ([]*domain.QuestionItem, error)

	// SubscribeProgress streams the plan's progress events until ctx ends.
	SubscribeProgress(ctx context.Context, planID uuid.UUID, opts progress.SubscribeOptions) (<-chan *domain.ProgressEvent, error)

	// Cancel stops the plan and every unfinished job and task.
	Cancel(ctx context.Context, planID uuid.UUID) error
}

// Components are the collaborators of the generation service.
type Components struct {
	Stores     store.Stores
	Chunker    Chunker
	Indexer    Indexer
	Planner    PlanCreator
	Runner     Runner
	Subscriber Subscriber
}

type generationService struct {
	Components
	logger *slog.Logger
}

var _ GenerationService = (*generationService)(nil)

// NewGenerationService creates a GenerationService.
// It returns an error if any of the required components are nil.
func NewGenerationService(c Components, log *slog.Logger) (GenerationService, error) {
	missing := func(name string) error {
		return &ServiceError{Operation: "create_service", Message: name + " cannot be nil"}
	}
	switch {
	case c.Chunker == nil:
		return nil, missing("chunker")
	case c.Indexer == nil:
		return nil, missing("indexer")
	case c.Planner == nil:
		return nil, missing("planner")
	case c.Runner == nil:
		return nil, missing("runner")
	case c.Subscriber == nil:
		return nil, missing("subscriber")
	}
	if log == nil {
		log = slog.Default()
	}
	return &generationService{Components: c, logger: log.With("component", "generation_service")}, nil
}

// IngestDocument stores the document, splits it, embeds the chunks and
// marks the document ready. On an indexing failure the document is kept as
// failed with the reason.
func (s *generationService) IngestDocument(
	ctx context.Context,
	documentID uuid.UUID,
	text string,
	metadata map[string]string,
) (*domain.Document, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	doc, err := domain.NewDocument(documentID, text, metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	log = log.With("document_id", doc.ID)
	if err := s.Stores.Documents.Create(ctx, doc); err != nil {
		if store.IsDuplicateError(err) {
			return nil, ErrDocumentExists
		}
		return nil, NewServiceError("ingest_document", "failed to save document", err)
	}

	chunks := s.Chunker.Chunk(doc)
	if len(chunks) == 0 {
		doc.MarkFailed("no content")
		if err := s.Stores.Documents.Update(ctx, doc); err != nil {
			return nil, NewServiceError("ingest_document", "failed to update document", err)
		}
		log.WarnContext(ctx, "document has no content")
		return doc, nil
	}

	if err := s.Indexer.Index(ctx, chunks); err != nil {
		doc.MarkFailed(err.Error())
		if uerr := s.Stores.Documents.Update(ctx, doc); uerr != nil {
			log.ErrorContext(ctx, "failed to record indexing failure", "error", uerr)
		}
		return doc, NewServiceError("ingest_document", "failed to index chunks", err)
	}
	if err := s.Stores.Chunks.CreateMultiple(ctx, doc.ID, chunks); err != nil {
		if ferr := s.Indexer.Forget(ctx, doc.ID); ferr != nil {
			log.ErrorContext(ctx, "failed to drop vectors of unsaved chunks", "error", ferr)
		}
		return nil, NewServiceError("ingest_document", "failed to save chunks", err)
	}

	doc.MarkReady(len(chunks))
	if err := s.Stores.Documents.Update(ctx, doc); err != nil {
		return nil, NewServiceError("ingest_document", "failed to mark document ready", err)
	}
	log.InfoContext(ctx, "document ingested", "chunks", len(chunks))
	return doc, nil
}

// CreatePlan delegates to the planner.
func (s *generationService) CreatePlan(ctx context.Context, documentID uuid.UUID, req planner.Request) (*domain.Plan, error) {
	plan, err := s.Planner.CreatePlan(ctx, documentID, req)
	if err != nil {
		if errors.Is(err, planner.ErrInvalidRequest) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return nil, NewServiceError("create_plan", "failed to create plan", err)
	}
	return plan, nil
}

// StartGeneration delegates to the orchestrator.
func (s *generationService) StartGeneration(ctx context.Context, planID uuid.UUID, opts orchestrator.StartOptions) ([]uuid.UUID, error) {
	ids, err := s.Runner.StartGeneration(ctx, planID, opts)
	if err != nil {
		return nil, NewServiceError("start_generation", "failed to start generation", err)
	}
	return ids, nil
}

// GetStatus reads the plan, its jobs and the share of finished tasks.
func (s *generationService) GetStatus(ctx context.Context, planID uuid.UUID) (*PlanStatus, error) {
	plan, err := s.Stores.Plans.GetByID(ctx, planID)
	if err != nil {
		return nil, NewServiceError("get_status", "failed to load plan", err)
	}
	jobs, err := s.Stores.Jobs.ListByPlan(ctx, planID)
	if err != nil {
		return nil, NewServiceError("get_status", "failed to list jobs", err)
	}
	stored, err := s.Stores.Questions.CountByPlan(ctx, planID)
	if err != nil {
		return nil, NewServiceError("get_status", "failed to count questions", err)
	}

	pct := 0.0
	switch plan.Status {
	case domain.PlanStatusCompleted, domain.PlanStatusFailed:
		pct = 100
	case domain.PlanStatusExecuting, domain.PlanStatusCancelled:
		if pct, err = s.Runner.Progress(ctx, planID); err != nil {
			return nil, NewServiceError("get_status", "failed to compute progress", err)
		}
	}

	status := &PlanStatus{
		PlanID:             plan.ID,
		Status:             plan.Status,
		ProgressPercentage: pct,
		TotalRequested:     plan.TotalRequested,
		QuestionsStored:    stored,
		Diagnostics:        plan.Diagnostics,
		Jobs:               make([]JobSummary, 0, len(jobs)),
	}
	for _, j := range jobs {
		status.Jobs = append(status.Jobs, JobSummary{
			ID:              j.ID,
			QuestionType:    j.QuestionType,
			Difficulty:      j.Difficulty,
			Status:          j.Status,
			BatchSize:       j.BatchSize,
			RetryCount:      j.RetryCount,
			SuccessfulTasks: j.SuccessfulTasks,
			FailedTasks:     j.FailedTasks,
			CancelledTasks:  j.CancelledTasks,
			LastError:       j.LastError,
		})
	}
	return status, nil
}

// GetQuestions lists stored questions after checking the plan exists.
func (s *generationService) GetQuestions(ctx context.Context, planID uuid.UUID, filter domain.QuestionFilter) ([]*domain.QuestionItem, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: %w %q", ErrInvalidInput, domain.ErrInvalidQuestionType, filter.Type)
	}
	if filter.Difficulty != "" && !filter.Difficulty.Valid() {
		return nil, fmt.Errorf("%w: %w %q", ErrInvalidInput, domain.ErrInvalidDifficulty, filter.Difficulty)
	}
	if _, err := s.Stores.Plans.GetByID(ctx, planID); err != nil {
		return nil, NewServiceError("get_questions", "failed to load plan", err)
	}
	qs, err := s.Stores.Questions.ListByPlan(ctx, planID, filter)
	if err != nil {
		return nil, NewServiceError("get_questions", "failed to list questions", err)
	}
	return qs, nil
}

// SubscribeProgress checks the plan exists and opens a stream.
func (s *generationService) SubscribeProgress(ctx context.Context, planID uuid.UUID, opts progress.SubscribeOptions) (<-chan *domain.ProgressEvent, error) {
	if _, err := s.Stores.Plans.GetByID(ctx, planID); err != nil {
		return nil, NewServiceError("subscribe_progress", "failed to load plan", err)
	}
	ch, err := s.Subscriber.Subscribe(ctx, planID, opts)
	if err != nil {
		return nil, NewServiceError("subscribe_progress", "failed to subscribe", err)
	}
	return ch, nil
}

// Cancel delegates to the orchestrator.
func (s *generationService) Cancel(ctx context.Context, planID uuid.UUID) error {
	if err := s.Runner.Cancel(ctx, planID); err != nil {
		return NewServiceError("cancel", "failed to cancel plan", err)
	}
	logger.FromContextOrDefault(ctx, s.logger).InfoContext(ctx, "plan cancelled", "plan_id", planID)
	return nil
}
