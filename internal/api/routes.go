package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dexarb/internal/api/handlers"
	"dexarb/internal/api/middleware"
	"dexarb/pkg/crypto"
	"dexarb/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
//
// nil поля отключают соответствующие маршруты (Decisions отвечает 503).
type Dependencies struct {
	Pairs         handlers.PairRegistry
	Opportunities handlers.OpportunitySource
	Decisions     handlers.DecisionReader
	Blocks        handlers.BlockSource
	RPCBreaker    handlers.BreakerSource
	Build         handlers.BuildInfo

	// WebSocket handler (Broadcaster.ServeWS), сам проверяет токен
	WebSocket     http.HandlerFunc
	WebSocketPath string

	APIVerifier    *crypto.TokenVerifier
	AllowedOrigins []string
	Logger         *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
//	/healthz              GET    - {status, block}
//	/version              GET    - {commit, builtAt}
//	/metrics              GET    - prometheus
//	/ws                   GET    - WebSocket поток tokenMeta.update / arb.decision
//	/api/v1/
//	├── /pairs                    GET, POST
//	├── /pairs/{base}/{quote}     GET, DELETE
//	├── /opportunities            GET
//	└── /decisions                GET
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. BearerAuth (только /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = utils.NewNop()
	}
	logger = logger.WithComponent("api")

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	health := handlers.NewHealthHandler(deps.Blocks, deps.RPCBreaker, deps.Build)
	router.HandleFunc("/healthz", health.Healthz).Methods(http.MethodGet)
	router.HandleFunc("/version", health.Version).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if deps.WebSocket != nil {
		path := deps.WebSocketPath
		if path == "" {
			path = "/ws"
		}
		router.HandleFunc(path, deps.WebSocket).Methods(http.MethodGet)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.BearerAuth(deps.APIVerifier, logger))

	if deps.Pairs != nil {
		pairHandler := handlers.NewPairHandler(deps.Pairs)
		api.HandleFunc("/pairs", pairHandler.GetPairs).Methods(http.MethodGet)
		api.HandleFunc("/pairs", pairHandler.CreatePair).Methods(http.MethodPost)
		api.HandleFunc("/pairs/{base}/{quote}", pairHandler.GetPair).Methods(http.MethodGet)
		api.HandleFunc("/pairs/{base}/{quote}", pairHandler.DeletePair).Methods(http.MethodDelete)
	}

	if deps.Opportunities != nil {
		opportunityHandler := handlers.NewOpportunityHandler(deps.Opportunities)
		api.HandleFunc("/opportunities", opportunityHandler.GetOpportunities).Methods(http.MethodGet)
	}

	decisionHandler := handlers.NewDecisionHandler(deps.Decisions)
	api.HandleFunc("/decisions", decisionHandler.GetDecisions).Methods(http.MethodGet)

	// preflight: маршрут нужен, чтобы middleware CORS отработал на OPTIONS
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return router
}
