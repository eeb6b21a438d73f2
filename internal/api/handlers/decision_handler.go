package handlers

import (
	"context"
	"net/http"

	"dexarb/internal/models"
)

// DecisionReader - журнал решений (реализуется repository.DecisionRepository)
type DecisionReader interface {
	GetRecent(ctx context.Context, symbol string, limit int) ([]*models.Decision, error)
}

// DecisionHandler отдаёт журнал решений guard'ов
//
// Endpoints:
// - GET /api/v1/decisions?pair=WETH/USDC&limit=50
type DecisionHandler struct {
	decisions DecisionReader
}

// NewDecisionHandler создает DecisionHandler
func NewDecisionHandler(decisions DecisionReader) *DecisionHandler {
	return &DecisionHandler{decisions: decisions}
}

// GetDecisions возвращает последние решения, новые первыми
//
// GET /api/v1/decisions
//
// Query: pair (опционально), limit (по умолчанию 50, максимум 500)
func (h *DecisionHandler) GetDecisions(w http.ResponseWriter, r *http.Request) {
	if h.decisions == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Decision journal disabled", "DATABASE_URL is not set")
		return
	}

	limit, err := queryLimit(r, 0)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
		return
	}

	decisions, err := h.decisions.GetRecent(r.Context(), r.URL.Query().Get("pair"), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load decisions", err.Error())
		return
	}
	if decisions == nil {
		decisions = []*models.Decision{}
	}

	respondWithJSON(w, http.StatusOK, decisions)
}
