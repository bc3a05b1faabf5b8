package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/api/shared"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/orchestrator"
	"github.com/phrazzld/questgen/internal/planner"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/phrazzld/questgen/internal/redact"
	"github.com/phrazzld/questgen/internal/service"
)

// PlanHandler serves document, plan and question endpoints.
type PlanHandler struct {
	service service.GenerationService
	logger  *slog.Logger
}

// NewPlanHandler creates a new PlanHandler
func NewPlanHandler(svc service.GenerationService, logger *slog.Logger) *PlanHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for PlanHandler")
	}
	return &PlanHandler{
		service: svc,
		logger:  logger.With(slog.String("component", "plan_handler")),
	}
}

// IngestDocument handles POST /api/documents.
func (h *PlanHandler) IngestDocument(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req IngestDocumentRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}
	id := uuid.Nil
	if req.ID != "" {
		id = uuid.MustParse(req.ID)
	}

	doc, err := h.service.IngestDocument(r.Context(), id, req.Text, req.Metadata)
	if err != nil && doc == nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if err != nil {
		// indexing failed; the failed document is still returned
		log.Warn("document ingestion failed",
			slog.String("document_id", doc.ID.String()),
			slog.String("error", redact.Error(err)))
		shared.RespondWithJSON(w, r, http.StatusUnprocessableEntity, DocumentResponse{doc})
		return
	}

	status := http.StatusCreated
	if doc.Status == domain.DocumentStatusFailed {
		status = http.StatusUnprocessableEntity
	}
	shared.RespondWithJSON(w, r, status, DocumentResponse{doc})
}

// CreatePlan handles POST /api/documents/{id}/plans.
func (h *PlanHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	documentID, ok := handlePathUUID(w, r, log)
	if !ok {
		return
	}

	var req CreatePlanRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}
	types := make([]domain.QuestionType, 0, len(req.Types))
	for _, t := range req.Types {
		types = append(types, domain.QuestionType(t))
	}

	plan, err := h.service.CreatePlan(r.Context(), documentID, planner.Request{
		Total: req.Total,
		Types: types,
		Constraints: domain.PlanConstraints{
			Topics:        req.Constraints.Topics,
			Language:      req.Constraints.Language,
			MaxStemLength: req.Constraints.MaxStemLength,
		},
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	log.Debug("plan created", slog.String("plan_id", plan.ID.String()))
	shared.RespondWithJSON(w, r, http.StatusCreated, PlanResponse{plan})
}

// StartGeneration handles POST /api/plans/{id}/generation.
func (h *PlanHandler) StartGeneration(w http.ResponseWriter, r *http.Request) {
	planID, ok := handlePathUUID(w, r, h.logger)
	if !ok {
		return
	}

	var req StartGenerationRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}

	ids, err := h.service.StartGeneration(r.Context(), planID, orchestrator.StartOptions{MaxRetries: req.MaxRetries})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, StartGenerationResponse{PlanID: planID, JobIDs: ids})
}

// GetStatus handles GET /api/plans/{id}.
func (h *PlanHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	planID, ok := handlePathUUID(w, r, h.logger)
	if !ok {
		return
	}
	status, err := h.service.GetStatus(r.Context(), planID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, status)
}

// GetQuestions handles GET /api/plans/{id}/questions.
func (h *PlanHandler) GetQuestions(w http.ResponseWriter, r *http.Request) {
	planID, ok := handlePathUUID(w, r, h.logger)
	if !ok {
		return
	}
	filter, err := parseQuestionFilter(r)
	if err != nil {
		HandleAPIError(w, r, err, err.Error())
		return
	}

	qs, err := h.service.GetQuestions(r.Context(), planID, filter)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if qs == nil {
		qs = []*domain.QuestionItem{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, QuestionsResponse{PlanID: planID, Count: len(qs), Questions: qs})
}

// Cancel handles POST /api/plans/{id}/cancel.
func (h *PlanHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	planID, ok := handlePathUUID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), planID); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
