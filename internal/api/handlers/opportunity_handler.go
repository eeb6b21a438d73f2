package handlers

import (
	"net/http"

	"dexarb/internal/models"
)

// OpportunitySource - ранжированные возможности (реализуется bot.OpportunityStore)
type OpportunitySource interface {
	Snapshot() []models.Opportunity
}

// OpportunityHandler отдаёт текущий рейтинг возможностей
//
// Endpoints:
// - GET /api/v1/opportunities[?limit=N] - записи по убыванию score
type OpportunityHandler struct {
	store OpportunitySource
}

// NewOpportunityHandler создает OpportunityHandler
func NewOpportunityHandler(store OpportunitySource) *OpportunityHandler {
	return &OpportunityHandler{store: store}
}

// GetOpportunities возвращает snapshot хранилища
//
// GET /api/v1/opportunities
//
// Response 200 OK:
//
//	{
//	  "size": 2,
//	  "entries": [
//	    {"pairSymbol": "WETH/USDC", "spreadBps": 49.8, "minLiquidityUSD": 4000000, "score": 199200000, "expiresAt": "..."}
//	  ]
//	}
//
// size - количество записей в хранилище, entries может быть обрезан limit'ом.
func (h *OpportunityHandler) GetOpportunities(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondWithError(w, http.StatusInternalServerError, "Opportunity store not configured", "")
		return
	}

	entries := h.store.Snapshot()
	size := len(entries)

	limit, err := queryLimit(r, size)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
		return
	}
	if limit < len(entries) {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []models.Opportunity{}
	}

	respondWithJSON(w, http.StatusOK, models.OpportunitiesSnapshot{Size: size, Entries: entries})
}
