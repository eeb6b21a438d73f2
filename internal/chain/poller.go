package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"dexarb/internal/bot"
	"dexarb/internal/models"
	"dexarb/pkg/breaker"
	"dexarb/pkg/utils"
)

// SyncHandler принимает события синхронизации (реализуется bot.Engine)
type SyncHandler interface {
	OnSync(ctx context.Context, ev bot.SyncEvent) error
}

// PairSource - источник списка пар (реализуется bot.Engine)
type PairSource interface {
	Pairs() []models.PairConfig
}

// StaticPairs - фиксированный список пар
type StaticPairs []models.PairConfig

func (s StaticPairs) Pairs() []models.PairConfig { return s }

// pairState - последние прочитанные резервы пары
type pairState struct {
	block     uint64
	uniswap   bot.PoolReserves
	sushiswap bot.PoolReserves
}

func (s pairState) sameReserves(uni, sushi bot.PoolReserves) bool {
	return equalReserves(s.uniswap, uni) && equalReserves(s.sushiswap, sushi)
}

func equalReserves(a, b bot.PoolReserves) bool {
	if a.Reserve0 == nil || a.Reserve1 == nil || b.Reserve0 == nil || b.Reserve1 == nil {
		return false
	}
	return a.Reserve0.Cmp(b.Reserve0) == 0 && a.Reserve1.Cmp(b.Reserve1) == 0
}

// Poller опрашивает пулы всех пар раз в interval
//
// На каждом новом блоке резервы обеих площадок читаются на этом блоке.
// SyncEvent отправляется, только если резервы пары изменились. Список пар
// перечитывается у source на каждом проходе.
type Poller struct {
	reader   *ReserveReader
	handler  SyncHandler
	source   PairSource
	interval time.Duration
	logger   *utils.Logger

	mu        sync.Mutex
	last      map[string]pairState
	lastBlock uint64
}

// NewPoller создаёт поллер
func NewPoller(reader *ReserveReader, handler SyncHandler, source PairSource, interval time.Duration, logger *utils.Logger) *Poller {
	if logger == nil {
		logger = utils.NewNop()
	}
	if interval <= 0 {
		interval = 12 * time.Second
	}
	return &Poller{
		reader:   reader,
		handler:  handler,
		interval: interval,
		source:   source,
		logger:   logger.WithComponent("poller"),
		last:     make(map[string]pairState),
	}
}

// Run опрашивает сразу и затем по тикеру до отмены ctx
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		utils.Int("pairs", len(p.source.Pairs())),
		utils.Dur("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			if errors.Is(err, breaker.ErrOpen) {
				p.logger.Debug("poll skipped, rpc breaker open")
			} else {
				p.logger.Warn("poll failed", utils.Err(err))
			}
		}

		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll выполняет один проход и возвращает количество отправленных событий
//
// Ошибка чтения одной пары логируется и не прерывает проход.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	block, err := p.reader.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if block <= p.lastBlock {
		return 0, nil
	}
	p.lastBlock = block
	at := new(big.Int).SetUint64(block)

	pairs := p.source.Pairs()
	p.forgetRemoved(pairs)

	emitted := 0
	for _, pair := range pairs {
		if ctx.Err() != nil {
			return emitted, ctx.Err()
		}

		uni, err := p.reader.GetReserves(ctx, pair.UniswapLP, at)
		if err != nil {
			p.logger.Warn("failed to read reserves", utils.Pair(pair.Symbol), utils.Dex(string(models.DexUniswap)), utils.Err(err))
			continue
		}
		sushi, err := p.reader.GetReserves(ctx, pair.SushiswapLP, at)
		if err != nil {
			p.logger.Warn("failed to read reserves", utils.Pair(pair.Symbol), utils.Dex(string(models.DexSushiswap)), utils.Err(err))
			continue
		}

		if prev, ok := p.last[pair.Symbol]; ok && prev.sameReserves(uni, sushi) {
			continue
		}
		p.last[pair.Symbol] = pairState{block: block, uniswap: uni, sushiswap: sushi}

		ev := bot.SyncEvent{Pair: pair, Block: block, Uniswap: uni, Sushiswap: sushi}
		if err := p.handler.OnSync(ctx, ev); err != nil {
			p.logger.Warn("sync event rejected", utils.Pair(pair.Symbol), utils.Block(block), utils.Err(err))
			// следующий проход повторит пару
			delete(p.last, pair.Symbol)
			continue
		}
		emitted++
	}
	return emitted, nil
}

// forgetRemoved удаляет состояние пар, которых больше нет в source
func (p *Poller) forgetRemoved(pairs []models.PairConfig) {
	if len(p.last) == 0 {
		return
	}
	current := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		current[pair.Symbol] = struct{}{}
	}
	for symbol := range p.last {
		if _, ok := current[symbol]; !ok {
			delete(p.last, symbol)
		}
	}
}

// LastBlock возвращает последний опрошенный блок
func (p *Poller) LastBlock() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastBlock
}
