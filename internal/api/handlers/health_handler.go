package handlers

import (
	"net/http"
)

// BlockSource - последний обработанный блок (реализуется bot.Engine)
type BlockSource interface {
	LatestBlock() uint64
}

// BreakerSource - открыт ли breaker RPC
type BreakerSource interface {
	IsOpen() bool
}

// BuildInfo - версия сборки, задаётся через -ldflags
type BuildInfo struct {
	Commit  string `json:"commit"`
	BuiltAt string `json:"builtAt"`
}

// HealthResponse - ответ /healthz
type HealthResponse struct {
	Status string `json:"status"`
	Block  uint64 `json:"block"`
}

// HealthHandler отвечает на /healthz и /version
//
// Endpoints:
// - GET /healthz - {status, block}; status "degraded" при открытом breaker RPC
// - GET /version - {commit, builtAt}
type HealthHandler struct {
	blocks  BlockSource
	breaker BreakerSource
	build   BuildInfo
}

// NewHealthHandler создает HealthHandler; breaker может быть nil (поллер выключен)
func NewHealthHandler(blocks BlockSource, breaker BreakerSource, build BuildInfo) *HealthHandler {
	if build.Commit == "" {
		build.Commit = "unknown"
	}
	if build.BuiltAt == "" {
		build.BuiltAt = "unknown"
	}
	return &HealthHandler{blocks: blocks, breaker: breaker, build: build}
}

// Healthz возвращает состояние процесса
//
// GET /healthz
//
// Response 200 OK:
//
//	{"status": "ok", "block": 19000001}
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.blocks != nil {
		resp.Block = h.blocks.LatestBlock()
	}
	if h.breaker != nil && h.breaker.IsOpen() {
		resp.Status = "degraded"
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// Version возвращает информацию о сборке
//
// GET /version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.build)
}
