// Package planner turns a ready document and a question request into a
// persisted plan whose distribution always adds up to the requested total.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/generation"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/phrazzld/questgen/internal/progress"
	"github.com/phrazzld/questgen/internal/retrieval"
	"github.com/phrazzld/questgen/internal/store"
)

// Planner errors
var (
	ErrDocumentNotReady = errors.New("document is not ready for planning")
	ErrNoChunks         = errors.New("document has no chunks")
	ErrInvalidRequest   = errors.New("invalid plan request")
)

const (
	excerptLeadChunks = 3
	excerptMaxBytes   = 16000
)

// Request is what a caller asks the planner for.
type Request struct {
	Total       int                   `json:"total" validate:"gt=0"`
	Types       []domain.QuestionType `json:"types" validate:"required,min=1"`
	Constraints domain.PlanConstraints `json:"constraints"`
}

// Normalize validates the request and removes repeated types.
func (r Request) Normalize() (Request, error) {
	if r.Total <= 0 {
		return r, fmt.Errorf("%w: total must be positive, got %d", ErrInvalidRequest, r.Total)
	}
	if len(r.Types) == 0 {
		return r, fmt.Errorf("%w: at least one question type is required", ErrInvalidRequest)
	}
	seen := make(map[domain.QuestionType]bool, len(r.Types))
	types := make([]domain.QuestionType, 0, len(r.Types))
	for _, t := range r.Types {
		if !t.Valid() {
			return r, fmt.Errorf("%w: %w %q", ErrInvalidRequest, domain.ErrInvalidQuestionType, t)
		}
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	r.Types = types
	return r, nil
}

// Searcher finds chunks relevant to a query.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, filter retrieval.Filter) ([]domain.RankedChunk, error)
}

// Planner creates plans.
type Planner struct {
	documents store.DocumentStore
	chunks    store.ChunkStore
	plans     store.PlanStore
	advisor   generation.PlanAdvisor
	search    Searcher
	events    progress.Emitter
	logger    *slog.Logger
}

// New creates a Planner.
func New(
	documents store.DocumentStore,
	chunks store.ChunkStore,
	plans store.PlanStore,
	advisor generation.PlanAdvisor,
	search Searcher,
	events progress.Emitter,
	log *slog.Logger,
) (*Planner, error) {
	if documents == nil || chunks == nil || plans == nil {
		return nil, errors.New("planner stores cannot be nil")
	}
	if advisor == nil {
		return nil, errors.New("plan advisor cannot be nil")
	}
	if events == nil {
		return nil, errors.New("event emitter cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Planner{
		documents: documents,
		chunks:    chunks,
		plans:     plans,
		advisor:   advisor,
		search:    search,
		events:    events,
		logger:    log.With("component", "planner"),
	}, nil
}

// CreatePlan analyses the document, asks the advisor for a distribution,
// repairs it and stores the plan as ready. A malformed or failed model
// response never fails the plan; the repairs are kept as diagnostics.
func (p *Planner) CreatePlan(ctx context.Context, documentID uuid.UUID, req Request) (*domain.Plan, error) {
	log := logger.FromContextOrDefault(ctx, p.logger).With("document_id", documentID)

	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	doc, err := p.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != domain.DocumentStatusReady {
		return nil, fmt.Errorf("%w: status is %s", ErrDocumentNotReady, doc.Status)
	}
	chunks, err := p.chunks.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	var diagnostics []string
	analysis, err := p.advisor.AnalyzeDocument(ctx, p.excerpt(ctx, documentID, chunks, req.Constraints.Topics))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WarnContext(ctx, "document analysis failed, planning without it", "error", err)
		diagnostics = append(diagnostics, "document analysis unavailable")
		analysis = generation.DocumentAnalysis{}
	}
	difficulty := analysis.Difficulty
	if !difficulty.Valid() {
		difficulty = domain.DifficultyMedium
	}

	raw, err := p.advisor.ProposeDistribution(ctx, generation.DistributionRequest{
		Total:       req.Total,
		Types:       req.Types,
		Analysis:    analysis,
		Constraints: req.Constraints,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WarnContext(ctx, "distribution proposal failed", "error", err)
		raw = nil
	}
	dist, notes := RepairDistribution(raw, req.Types, req.Total, difficulty)
	diagnostics = append(diagnostics, notes...)

	plan, err := domain.NewPlan(documentID, req.Total, dist, req.Constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	plan.Topics = analysis.Topics
	plan.Diagnostics = diagnostics
	if err := plan.Transition(domain.PlanStatusReady); err != nil {
		return nil, err
	}
	if err := p.plans.Create(ctx, plan); err != nil {
		return nil, err
	}

	if err := p.events.Emit(ctx, domain.NewPlanEvent(plan.ID, domain.EventPlanCreated, plan.Status).
		WithPayload(map[string]any{"distribution": plan.Distribution, "total": plan.TotalRequested})); err != nil {
		log.ErrorContext(ctx, "failed to record plan creation", "plan_id", plan.ID, "error", err)
	}

	log.InfoContext(ctx, "plan created",
		"plan_id", plan.ID,
		"total", plan.TotalRequested,
		"entries", len(plan.Distribution),
		"repairs", len(notes))
	return plan, nil
}

// excerpt is the document's opening chunks plus the best hit for every
// requested topic.
func (p *Planner) excerpt(ctx context.Context, documentID uuid.UUID, chunks []*domain.Chunk, topics []string) string {
	picked := make(map[uuid.UUID]bool)
	var parts []string
	add := func(c *domain.Chunk) {
		if c == nil || picked[c.ID] {
			return
		}
		picked[c.ID] = true
		parts = append(parts, c.Core())
	}

	for i := 0; i < len(chunks) && i < excerptLeadChunks; i++ {
		add(chunks[i])
	}
	if p.search != nil {
		for _, topic := range topics {
			hits, err := p.search.Search(ctx, topic, 1, retrieval.Filter{DocumentID: documentID})
			if err != nil {
				p.logger.WarnContext(ctx, "topic search failed", "topic", topic, "error", err)
				continue
			}
			if len(hits) > 0 {
				add(hits[0].Chunk)
			}
		}
	}

	text := strings.Join(parts, "\n\n")
	if len(text) > excerptMaxBytes {
		text = strings.ToValidUTF8(text[:excerptMaxBytes], "")
	}
	return text
}
