package bot

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"dexarb/internal/config"
	"dexarb/internal/models"
	"dexarb/pkg/utils"
)

var (
	// ErrInvalidEvent - событие без пары или без резервов
	ErrInvalidEvent = errors.New("invalid sync event")
	// ErrShardQueueFull - очередь шарда переполнена, событие отброшено
	ErrShardQueueFull = errors.New("shard queue full")
)

// PoolReserves - резервы пула в base units
type PoolReserves struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// SyncEvent - состояние обоих пулов пары на блоке
//
// Источник (поллер или внешний слушатель) читает резервы обеих площадок
// при любом изменении одной из них.
type SyncEvent struct {
	Pair      models.PairConfig
	Block     uint64
	Uniswap   PoolReserves
	Sushiswap PoolReserves
}

func (ev SyncEvent) quote(dex models.Dex) VenueQuote {
	r := ev.Uniswap
	if dex == models.DexSushiswap {
		r = ev.Sushiswap
	}
	return VenueQuote{
		Dex:       dex,
		Reserve0:  r.Reserve0,
		Reserve1:  r.Reserve1,
		Decimals0: ev.Pair.Decimals0,
		Decimals1: ev.Pair.Decimals1,
	}
}

func (ev SyncEvent) valid() bool {
	return ev.Pair.Symbol != "" &&
		ev.Uniswap.Reserve0 != nil && ev.Uniswap.Reserve1 != nil &&
		ev.Sushiswap.Reserve0 != nil && ev.Sushiswap.Reserve1 != nil
}

// Publisher - интерфейс отправки данных клиентам
//
// Реализуется internal/websocket.Broadcaster.
type Publisher interface {
	// UpsertSnapshot сохраняет последнее состояние пары для новых клиентов
	UpsertSnapshot(payload models.TokenMetaPayload)
	// BroadcastUpdate рассылает tokenMeta.update подключённым клиентам
	BroadcastUpdate(payload models.TokenMetaPayload)
	// BroadcastDecision рассылает arb.decision
	BroadcastDecision(decision models.Decision)
}

// DecisionSink - журнал решений (internal/repository.DecisionRepository)
type DecisionSink interface {
	Create(ctx context.Context, d *models.Decision) error
}

// EngineConfig - параметры конвейера
type EngineConfig struct {
	Shards           int
	ShardQueueSize   int
	ThresholdBps     float64
	MaxSlippageBps   int64
	FlashLoanEnabled bool
	FlashFeeBps      int64
	MevBufferBps     int64
	GasCostUSD       float64
	Guardrails       GuardrailConfig
}

// NewEngineConfig собирает EngineConfig из конфигурации приложения
func NewEngineConfig(cfg *config.Config) EngineConfig {
	return EngineConfig{
		Shards:           cfg.Engine.Shards,
		ShardQueueSize:   cfg.Engine.ShardQueueSize,
		ThresholdBps:     cfg.Engine.ThresholdBps,
		MaxSlippageBps:   cfg.Engine.MaxSlippageBps,
		FlashLoanEnabled: cfg.Engine.FlashLoanEnabled,
		FlashFeeBps:      cfg.Engine.FlashFeeBps,
		MevBufferBps:     cfg.Engine.MevBufferBps,
		GasCostUSD:       cfg.Engine.GasCostUSD,
		Guardrails:       GuardrailConfig(cfg.Guardrails),
	}
}

// Engine - конвейер решений по sync-событиям
//
// Архитектура:
// - N шардов, пара всегда попадает в один шард (fnvHash % N)
// - ОДИН воркер на шард: события пары обрабатываются строго по порядку
// - Process можно вызывать напрямую, порядок по паре держит pairLock
//
// Поток данных:
// Source → OnSync (hash by pair) → Worker[N] → Process →
// Store.Upsert → Publisher → Guardrails → DecisionSink → Publisher
type Engine struct {
	cfg    EngineConfig
	store  *OpportunityStore
	hub    Publisher
	vol    *VolatilityTracker
	logger *utils.Logger
	now    func() time.Time

	// устанавливаются до Run
	sink     DecisionSink
	executor Executor

	// зарегистрированные пары
	pairs   map[string]models.PairConfig
	pairsMu sync.RWMutex

	// map[string]*sync.Mutex
	pairLocks sync.Map

	shards      []chan SyncEvent
	latestBlock atomic.Uint64
	running     atomic.Bool
	wg          sync.WaitGroup
}

// NewEngine создаёт Engine; hub обязателен, logger nil = nop
func NewEngine(cfg EngineConfig, store *OpportunityStore, hub Publisher, logger *utils.Logger) *Engine {
	if cfg.Shards < 1 {
		cfg.Shards = 4
	}
	if cfg.ShardQueueSize < 1 {
		cfg.ShardQueueSize = 256
	}
	if logger == nil {
		logger = utils.NewNop()
	}

	e := &Engine{
		cfg:    cfg,
		store:  store,
		hub:    hub,
		vol:    NewVolatilityTracker(),
		logger: logger.WithComponent("engine"),
		now:    time.Now,
		pairs:  make(map[string]models.PairConfig),
		shards: make([]chan SyncEvent, cfg.Shards),
	}
	for i := range e.shards {
		e.shards[i] = make(chan SyncEvent, cfg.ShardQueueSize)
	}
	return e
}

// SetDecisionSink подключает журнал решений (вызывать до Run)
func (e *Engine) SetDecisionSink(sink DecisionSink) {
	e.sink = sink
}

// SetExecutor подключает исполнитель для DryRun (вызывать до Run)
func (e *Engine) SetExecutor(ex Executor) {
	e.executor = ex
}

// AddPair регистрирует пару
func (e *Engine) AddPair(p models.PairConfig) {
	e.pairsMu.Lock()
	e.pairs[p.Symbol] = p
	e.pairsMu.Unlock()
}

// RemovePair убирает пару и её историю волатильности
func (e *Engine) RemovePair(symbol string) {
	e.pairsMu.Lock()
	delete(e.pairs, symbol)
	e.pairsMu.Unlock()
	e.vol.Forget(symbol)
}

// Pairs возвращает зарегистрированные пары, отсортированные по символу
func (e *Engine) Pairs() []models.PairConfig {
	e.pairsMu.RLock()
	out := make([]models.PairConfig, 0, len(e.pairs))
	for _, p := range e.pairs {
		out = append(out, p)
	}
	e.pairsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// LatestBlock - последний обработанный блок (0 до первого события)
func (e *Engine) LatestBlock() uint64 {
	return e.latestBlock.Load()
}

// GetNumShards возвращает количество шардов
func (e *Engine) GetNumShards() int {
	return len(e.shards)
}

// Run запускает воркеры шардов и блокируется до отмены ctx
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer e.running.Store(false)

	for i := range e.shards {
		e.wg.Add(1)
		go e.shardWorker(ctx, i)
	}
	e.logger.Info("engine started", utils.Int("shards", len(e.shards)))

	<-ctx.Done()
	e.wg.Wait()
	e.logger.Info("engine stopped")
	return ctx.Err()
}

// shardWorker - единственный воркер шарда
func (e *Engine) shardWorker(ctx context.Context, idx int) {
	defer e.wg.Done()
	shard := e.shards[idx]
	label := strconv.Itoa(idx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-shard:
			ShardQueueSize.WithLabelValues(label).Set(float64(len(shard)))
			if _, err := e.Process(ctx, ev); err != nil {
				e.logger.Warn("sync event rejected", utils.Pair(ev.Pair.Symbol), utils.Block(ev.Block), utils.Err(err))
			}
		}
	}
}

// shardFor - детерминированный роутинг: одна пара всегда в одном шарде
func (e *Engine) shardFor(pair string) int {
	return int(fnvHash(pair) % uint32(len(e.shards)))
}

// OnSync ставит событие в очередь шарда пары
//
// Не блокируется: при полной очереди событие отбрасывается с ErrShardQueueFull.
func (e *Engine) OnSync(ctx context.Context, ev SyncEvent) error {
	if !ev.valid() {
		return ErrInvalidEvent
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	idx := e.shardFor(ev.Pair.Symbol)
	select {
	case e.shards[idx] <- ev:
		ShardQueueSize.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(e.shards[idx])))
		return nil
	default:
		RecordSync(ev.Pair.Symbol, "dropped", 0)
		return ErrShardQueueFull
	}
}

func (e *Engine) pairLock(symbol string) *sync.Mutex {
	if mu, ok := e.pairLocks.Load(symbol); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := e.pairLocks.LoadOrStore(symbol, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Process обрабатывает событие синхронно
//
// Возвращает решение, если спред достиг порога, иначе nil.
// Отказ guard'ов - не ошибка, он отражён в Decision.Reason.
func (e *Engine) Process(ctx context.Context, ev SyncEvent) (*models.Decision, error) {
	if !ev.valid() {
		return nil, ErrInvalidEvent
	}
	start := time.Now()
	symbol := ev.Pair.Symbol

	mu := e.pairLock(symbol)
	mu.Lock()
	defer mu.Unlock()

	e.observeBlock(ev.Block)

	vs, ok := EvaluateVenues(ev.quote(models.DexUniswap), ev.quote(models.DexSushiswap))
	if !ok {
		e.logger.Debug("price undefined, skipping", utils.Pair(symbol), utils.Block(ev.Block))
		RecordSync(symbol, "skipped", msSince(start))
		return nil, nil
	}

	mid, _ := vs.Mid.Float64()
	rv := e.vol.Observe(symbol, ev.Block, mid)

	quoteUSD := decimal.NewFromFloat(ev.Pair.QuoteUSD)
	liqA := liquidityUSD(vs.A, quoteUSD)
	liqB := liquidityUSD(vs.B, quoteUSD)
	minLiq, _ := decimal.Min(liqA, liqB).Float64()

	if vs.HasSpread {
		RecordSpread(symbol, vs.Spread.SpreadBps)
		if evicted, ok := e.store.Upsert(symbol, vs.Spread.SpreadBps, minLiq); ok {
			e.logger.Debug("opportunity evicted", utils.Pair(evicted))
		}
	}

	// оба payload'а в snapshot: ключ snapshot'а - пара, последний побеждает
	for _, v := range []VenuePrice{vs.A, vs.B} {
		payload := e.venuePayload(ev, v, vs, liquidityUSD(v, quoteUSD))
		e.hub.UpsertSnapshot(payload)
		e.hub.BroadcastUpdate(payload)
	}

	if !vs.HasSpread || vs.Spread.SpreadBps < e.cfg.ThresholdBps {
		RecordSync(symbol, "skipped", msSince(start))
		return nil, nil
	}

	decision := e.decide(ctx, ev, vs, rv)
	RecordDecision(symbol, decision.Reason)
	RecordSync(symbol, "evaluated", msSince(start))
	return decision, nil
}

// decide оценивает сделку и прогоняет guard'ы
//
// Сделка: занимаем dx token1, покупаем token0 на дешёвой площадке,
// продаём на дорогой, возвращаем dx.
func (e *Engine) decide(ctx context.Context, ev SyncEvent, vs VenueSpread, rv float64) *models.Decision {
	symbol := ev.Pair.Symbol
	buy := ev.quote(vs.Spread.BuyDex)
	sell := ev.quote(vs.Spread.SellDex)

	buyPool := ConstantProductPool{ReserveIn: buy.Reserve1, ReserveOut: buy.Reserve0}
	sellPool := ConstantProductPool{ReserveIn: sell.Reserve0, ReserveOut: sell.Reserve1}

	dx := ComputeSafeFlashLoanSize(buyPool, sellPool, e.cfg.MaxSlippageBps)
	dy := buyPool.AmountOut(dx)
	back := sellPool.AmountOut(dy)
	proceeds := new(big.Int).Sub(back, dx)

	flashFee := utils.BpsOf(dx, e.cfg.FlashFeeBps)
	gasCost := e.gasInQuoteUnits(ev.Pair)

	guardPassed := ProfitGuard(ProfitGuardParams{
		ExpectedProceeds: proceeds,
		GasCost:          gasCost,
		FlashFee:         flashFee,
		MevBufferBps:     e.cfg.MevBufferBps,
	})

	net := new(big.Int).Sub(proceeds, flashFee)
	net.Sub(net, gasCost)
	netDec, _ := utils.NormalizeUnits(net, ev.Pair.Decimals1)
	profitUSD, _ := netDec.Mul(decimal.NewFromFloat(ev.Pair.QuoteUSD)).Float64()

	slippage := PriceImpactBps(buyPool.ReserveIn, dx)
	if s := PriceImpactBps(sellPool.ReserveIn, dy); s > slippage {
		slippage = s
	}

	candidate := SpreadCandidate{EstimatedProfit: profitUSD, SlippageBps: slippage}
	if e.cfg.FlashLoanEnabled {
		candidate.SafeLoanSize = dx
	}
	strategy := BuildStrategy(
		SyncTrace{GasCostUSD: e.cfg.GasCostUSD, Rv3Block: rv},
		candidate,
		e.cfg.Guardrails,
	)
	// profit guard проверяется после упорядоченных guard'ов и не скрывает их отказ
	if strategy.ShouldExecute && !guardPassed {
		strategy = rejected(ReasonProfitGuard)
	}

	d := &models.Decision{
		PairSymbol:         symbol,
		Block:              ev.Block,
		BuyDex:             vs.Spread.BuyDex,
		SellDex:            vs.Spread.SellDex,
		SpreadBps:          vs.Spread.SpreadBps,
		EstimatedProfitUSD: profitUSD,
		SlippageBps:        slippage,
		GasCostUSD:         e.cfg.GasCostUSD,
		Rv3Block:           rv,
		ProfitGuardPassed:  guardPassed,
		ShouldExecute:      strategy.ShouldExecute,
		Reason:             strategy.Reason,
		CreatedAt:          e.now().UTC(),
	}
	if strategy.SafeLoanSize != nil {
		d.SafeLoanSize = strategy.SafeLoanSize.String()
	}

	log := e.logger.With(utils.Pair(symbol), utils.Block(ev.Block), utils.SpreadBps(d.SpreadBps))
	if d.ShouldExecute {
		log.Info("opportunity passed guardrails", utils.ProfitUSD(profitUSD), utils.LoanSize(dx.String()))
	} else {
		log.Debug("opportunity rejected", utils.Reason(d.Reason), utils.ProfitUSD(profitUSD))
	}

	if e.sink != nil {
		if err := e.sink.Create(ctx, d); err != nil {
			log.Warn("failed to record decision", utils.Err(err))
		}
	}
	e.hub.BroadcastDecision(*d)

	if d.ShouldExecute && e.executor != nil {
		res, err := strategy.WithExecutor(e.executor).DryRun(ctx)
		if err != nil {
			log.Warn("dry run failed", utils.Err(err))
		} else {
			log.Info("dry run finished", utils.String("status", string(res.Status)), utils.Uint64("gas_used", res.GasUsed))
		}
	}
	return d
}

// gasInQuoteUnits - GasCostUSD в base units token1
func (e *Engine) gasInQuoteUnits(p models.PairConfig) *big.Int {
	if e.cfg.GasCostUSD <= 0 || p.QuoteUSD <= 0 {
		return new(big.Int)
	}
	inQuote := decimal.NewFromFloat(e.cfg.GasCostUSD).Div(decimal.NewFromFloat(p.QuoteUSD))
	units, err := utils.ParseUnits(inQuote.String(), p.Decimals1)
	if err != nil {
		return new(big.Int)
	}
	return units
}

func (e *Engine) venuePayload(ev SyncEvent, v VenuePrice, vs VenueSpread, liq decimal.Decimal) models.TokenMetaPayload {
	return models.TokenMetaPayload{
		PairSymbol: ev.Pair.Symbol,
		Dex:        v.Dex,
		LPAddress:  ev.Pair.LP(v.Dex),
		Reserves: models.Reserves{
			R0:    v.Reserve0.String(),
			R1:    v.Reserve1.String(),
			Block: ev.Block,
		},
		Price:        v.Price.String(),
		LiquidityUSD: liq.StringFixed(2),
		Spread:       vs.MidSpreadBps.StringFixed(4),
	}
}

func (e *Engine) observeBlock(block uint64) {
	for {
		cur := e.latestBlock.Load()
		if block <= cur || e.latestBlock.CompareAndSwap(cur, block) {
			return
		}
	}
}

// liquidityUSD - глубина пула в USD: обе стороны, оценённые по token1
func liquidityUSD(v VenuePrice, quoteUSD decimal.Decimal) decimal.Decimal {
	return v.Reserve1.Mul(quoteUSD).Mul(decimal.NewFromInt(2))
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
