package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/orchestrator"
	"github.com/phrazzld/questgen/internal/planner"
	"github.com/phrazzld/questgen/internal/progress"
	"github.com/phrazzld/questgen/internal/service"
)

// fakeService is a function-field GenerationService. Unset functions
// panic so tests notice unexpected calls.
type fakeService struct {
	ingestFn    func(ctx context.Context, id uuid.UUID, text string, meta map[string]string) (*domain.Document, error)
	createFn    func(ctx context.Context, docID uuid.UUID, req planner.Request) (*domain.Plan, error)
	startFn     func(ctx context.Context, planID uuid.UUID, opts orchestrator.StartOptions) ([]uuid.UUID, error)
	statusFn    func(ctx context.Context, planID uuid.UUID) (*service.PlanStatus, error)
	questionsFn func(ctx context.Context, planID uuid.UUID, f domain.QuestionFilter) ([]*domain.QuestionItem, error)
	subscribeFn func(ctx context.Context, planID uuid.UUID, opts progress.SubscribeOptions) (<-chan *domain.ProgressEvent, error)
	cancelFn    func(ctx context.Context, planID uuid.UUID) error
}

var _ service.GenerationService = (*fakeService)(nil)

func (f *fakeService) IngestDocument(ctx context.Context, id uuid.UUID, text string, meta map[string]string) (*domain.Document, error) {
	return f.ingestFn(ctx, id, text, meta)
}

func (f *fakeService) CreatePlan(ctx context.Context, docID uuid.UUID, req planner.Request) (*domain.Plan, error) {
	return f.createFn(ctx, docID, req)
}

func (f *fakeService) StartGeneration(ctx context.Context, planID uuid.UUID, opts orchestrator.StartOptions) ([]uuid.UUID, error) {
	return f.startFn(ctx, planID, opts)
}

func (f *fakeService) GetStatus(ctx context.Context, planID uuid.UUID) (*service.PlanStatus, error) {
	return f.statusFn(ctx, planID)
}

func (f *fakeService) GetQuestions(ctx context.Context, planID uuid.UUID, filter domain.QuestionFilter) ([]*domain.QuestionItem, error) {
	return f.questionsFn(ctx, planID, filter)
}

func (f *fakeService) SubscribeProgress(ctx context.Context, planID uuid.UUID, opts progress.SubscribeOptions) (<-chan *domain.ProgressEvent, error) {
	return f.subscribeFn(ctx, planID, opts)
}

func (f *fakeService) Cancel(ctx context.Context, planID uuid.UUID) error {
	return f.cancelFn(ctx, planID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(svc *fakeService) http.Handler {
	return NewRouter(RouterConfig{Service: svc, Logger: testLogger()})
}
