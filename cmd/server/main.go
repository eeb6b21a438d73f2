package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"dexarb/internal/api"
	"dexarb/internal/api/handlers"
	"dexarb/internal/bot"
	"dexarb/internal/chain"
	"dexarb/internal/config"
	"dexarb/internal/repository"
	"dexarb/internal/websocket"
	"dexarb/pkg/breaker"
	"dexarb/pkg/crypto"
	"dexarb/pkg/utils"
)

// Задаются при сборке: -ldflags "-X main.commit=$(git rev-parse HEAD) -X main.builtAt=..."
var (
	commit  = ""
	builtAt = ""
)

// retentionInterval - период очистки журнала решений
const retentionInterval = time.Hour

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", utils.Err(err))
	}

	if err := a.run(ctx); err != nil {
		logger.Error("server stopped with error", utils.Err(err))
	}
	logger.Info("server exited")
}

// app - контекст приложения: все компоненты создаются здесь и передаются явно
type app struct {
	cfg    *config.Config
	logger *utils.Logger

	store  *bot.OpportunityStore
	hub    *websocket.Broadcaster
	engine *bot.Engine

	// журнал решений (nil, если DATABASE_URL не задан)
	db        *sql.DB
	decisions *repository.DecisionRepository

	// источник резервов (nil, если RPC_URL не задан)
	rpc    *ethclient.Client
	reader *chain.ReserveReader
	poller *chain.Poller

	server *http.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	a.store = bot.NewOpportunityStore(bot.StoreConfig{
		TTL:      cfg.Store.TTL,
		Capacity: cfg.Store.Capacity,
		OnEvict:  bot.RecordEviction,
	})

	a.hub = websocket.NewBroadcaster(
		websocket.NewConfig(cfg.WebSocket),
		crypto.NewTokenVerifier(cfg.Security.WSAuthToken),
		logger,
	)

	a.engine = bot.NewEngine(bot.NewEngineConfig(cfg), a.store, a.hub, logger)
	for _, p := range cfg.Chain.Pairs {
		a.engine.AddPair(p)
	}

	if cfg.Database.Enabled() {
		if err := a.initDatabase(ctx); err != nil {
			return nil, err
		}
	} else {
		logger.Info("decision journal disabled, DATABASE_URL not set")
	}

	if cfg.Chain.RPCURL != "" {
		if err := a.initChain(ctx); err != nil {
			a.close()
			return nil, err
		}
	} else {
		logger.Info("reserve poller disabled, RPC_URL not set")
	}

	deps := &api.Dependencies{
		Pairs:          a.engine,
		Opportunities:  a.store,
		Blocks:         a.engine,
		Build:          handlers.BuildInfo{Commit: commit, BuiltAt: builtAt},
		WebSocket:      a.hub.ServeWS,
		WebSocketPath:  cfg.WebSocket.Path,
		APIVerifier:    crypto.NewTokenVerifier(cfg.Security.APIAuthToken),
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		Logger:         logger,
	}
	// интерфейсы заполняются только реальными значениями, не nil-указателями
	if a.decisions != nil {
		deps.Decisions = a.decisions
	}
	if a.reader != nil {
		deps.RPCBreaker = a.reader.Breaker()
	}

	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return a, nil
}

// initDatabase подключает журнал решений и применяет миграцию
func (a *app) initDatabase(ctx context.Context) error {
	db, err := repository.Open(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	repo := repository.NewDecisionRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return err
	}

	a.db = db
	a.decisions = repo
	a.engine.SetDecisionSink(repo)
	a.logger.Info("connected to database", utils.String("url", a.cfg.Database.URLWithoutPassword()))
	return nil
}

// initChain подключается к ноде и собирает поллер резервов
func (a *app) initChain(ctx context.Context) error {
	client, err := chain.Dial(ctx, a.cfg.Chain.RPCURL, a.logger)
	if err != nil {
		return err
	}

	br := breaker.New(breaker.Config{
		Name:               "rpc",
		WindowSize:         a.cfg.Breaker.WindowSize,
		ErrorRateThreshold: a.cfg.Breaker.ErrorRateThreshold,
		LatencyThreshold:   a.cfg.Breaker.LatencyThreshold,
		Cooldown:           a.cfg.Breaker.Cooldown,
		OnStateChange:      bot.RecordBreakerTransition,
	})

	a.rpc = client
	a.reader = chain.NewReserveReader(client, br, a.cfg.Chain.CallTimeout, a.logger)
	a.poller = chain.NewPoller(a.reader, a.engine, a.engine, a.cfg.Chain.PollInterval, a.logger)
	return nil
}

// run запускает компоненты и блокируется до отмены ctx или падения HTTP сервера
func (a *app) run(ctx context.Context) error {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	goFn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(workCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("component stopped", utils.Component(name), utils.Err(err))
			}
		}()
	}

	a.store.Start(workCtx)
	a.hub.StartHeartbeat()
	goFn("engine", a.engine.Run)
	if a.poller != nil {
		goFn("poller", a.poller.Run)
	}
	if a.decisions != nil && a.cfg.Database.Retention > 0 {
		goFn("retention", a.runRetention)
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("starting server",
			utils.String("addr", a.server.Addr),
			utils.String("ws_path", a.cfg.WebSocket.Path),
			utils.Int("pairs", len(a.engine.Pairs())),
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down server")
	case err, ok := <-serverErr:
		if ok {
			runErr = err
		}
	}

	// Graceful shutdown: сначала HTTP, затем клиенты WS и фоновые компоненты
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("server forced to shutdown", utils.Err(err))
	}

	a.hub.Stop()
	cancel()
	wg.Wait()
	a.store.Stop()
	a.close()

	return runErr
}

// runRetention периодически удаляет решения старше DB_RETENTION
func (a *app) runRetention(ctx context.Context) error {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().Add(-a.cfg.Database.Retention)
		n, err := a.decisions.DeleteOlderThan(ctx, cutoff)
		if err != nil && ctx.Err() == nil {
			a.logger.Warn("failed to prune decisions", utils.Err(err))
		} else if n > 0 {
			a.logger.Info("pruned old decisions", utils.Int64("deleted", n))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// close освобождает внешние соединения
func (a *app) close() {
	if a.rpc != nil {
		a.rpc.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", utils.Err(err))
		}
	}
}
