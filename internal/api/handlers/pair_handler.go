package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"dexarb/internal/models"
)

// PairRegistry - отслеживаемые пары (реализуется bot.Engine)
type PairRegistry interface {
	Pairs() []models.PairConfig
	AddPair(p models.PairConfig)
	RemovePair(symbol string)
}

// PairHandler отвечает за список отслеживаемых пар
//
// Endpoints:
// - GET /api/v1/pairs                  - список пар по символу
// - POST /api/v1/pairs                 - добавить пару (поллер подхватит на следующем блоке)
// - GET /api/v1/pairs/{base}/{quote}    - получить пару
// - DELETE /api/v1/pairs/{base}/{quote} - перестать отслеживать пару
type PairHandler struct {
	pairs PairRegistry
}

// NewPairHandler создает новый PairHandler с внедрением зависимостей
func NewPairHandler(pairs PairRegistry) *PairHandler {
	return &PairHandler{pairs: pairs}
}

// CreatePairRequest структура запроса на добавление пары
type CreatePairRequest struct {
	Symbol      string  `json:"symbol"`      // WETH/USDC
	UniswapLP   string  `json:"uniswapLp"`   // адрес пула Uniswap V2
	SushiswapLP string  `json:"sushiswapLp"` // адрес пула SushiSwap
	Decimals0   int     `json:"decimals0"`
	Decimals1   int     `json:"decimals1"`
	QuoteUSD    float64 `json:"quoteUsd"` // по умолчанию 1
}

// GetPairs возвращает все пары
//
// GET /api/v1/pairs
func (h *PairHandler) GetPairs(w http.ResponseWriter, r *http.Request) {
	pairs := h.pairs.Pairs()
	if pairs == nil {
		pairs = []models.PairConfig{}
	}
	respondWithJSON(w, http.StatusOK, pairs)
}

// GetPair возвращает одну пару
//
// GET /api/v1/pairs/{base}/{quote}
func (h *PairHandler) GetPair(w http.ResponseWriter, r *http.Request) {
	symbol := symbolFromPath(r)
	p, ok := h.find(symbol)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Pair not found", symbol)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

// CreatePair добавляет пару
//
// POST /api/v1/pairs
//
// Request body:
//
//	{
//	  "symbol": "WETH/USDC",
//	  "uniswapLp": "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc",
//	  "sushiswapLp": "0x397FF1542f962076d0BFE58eA045FfA2d347ACa0",
//	  "decimals0": 18,
//	  "decimals1": 6
//	}
//
// Response 201 Created: PairConfig. 400 при невалидных полях, 409 если пара уже есть.
func (h *PairHandler) CreatePair(w http.ResponseWriter, r *http.Request) {
	var req CreatePairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	p := models.PairConfig{
		Symbol:      strings.ToUpper(strings.TrimSpace(req.Symbol)),
		UniswapLP:   strings.TrimSpace(req.UniswapLP),
		SushiswapLP: strings.TrimSpace(req.SushiswapLP),
		Decimals0:   req.Decimals0,
		Decimals1:   req.Decimals1,
		QuoteUSD:    req.QuoteUSD,
	}
	if p.QuoteUSD == 0 {
		p.QuoteUSD = 1
	}
	if err := p.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid pair", err.Error())
		return
	}
	if _, exists := h.find(p.Symbol); exists {
		respondWithError(w, http.StatusConflict, "Pair already exists", p.Symbol)
		return
	}

	h.pairs.AddPair(p)
	respondWithJSON(w, http.StatusCreated, p)
}

// DeletePair убирает пару
//
// DELETE /api/v1/pairs/{base}/{quote}
func (h *PairHandler) DeletePair(w http.ResponseWriter, r *http.Request) {
	symbol := symbolFromPath(r)
	if _, ok := h.find(symbol); !ok {
		respondWithError(w, http.StatusNotFound, "Pair not found", symbol)
		return
	}
	h.pairs.RemovePair(symbol)
	w.WriteHeader(http.StatusNoContent)
}

func (h *PairHandler) find(symbol string) (models.PairConfig, bool) {
	for _, p := range h.pairs.Pairs() {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return models.PairConfig{}, false
}

// symbolFromPath собирает BASE/QUOTE из {base}/{quote}
func symbolFromPath(r *http.Request) string {
	vars := mux.Vars(r)
	return strings.ToUpper(vars["base"] + "/" + vars["quote"])
}
