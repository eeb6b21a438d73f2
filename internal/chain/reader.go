package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"dexarb/internal/bot"
	"dexarb/internal/models"
	"dexarb/pkg/breaker"
	"dexarb/pkg/retry"
	"dexarb/pkg/utils"
)

var (
	// ErrInvalidLP - адрес пула не "0x" + 40 hex
	ErrInvalidLP = errors.New("invalid lp address")
	// ErrShortResponse - ответ getReserves() короче трёх слов ABI
	ErrShortResponse = errors.New("short getReserves response")
)

// getReservesSelector - первые 4 байта keccak256("getReserves()") = 0x0902f1ac
var getReservesSelector = crypto.Keccak256([]byte("getReserves()"))[:4]

// ContractCaller - подмножество ethclient.Client, нужное для чтения пулов
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ReserveReader читает резервы пулов Uniswap V2 совместимых DEX
//
// Каждый вызов: breaker → retry → eth_call с таймаутом CallTimeout.
// Пока breaker открыт, вызовы отклоняются breaker.ErrOpen без обращения к ноде.
type ReserveReader struct {
	caller      ContractCaller
	breaker     *breaker.Breaker
	retryCfg    retry.Config
	callTimeout time.Duration
	logger      *utils.Logger
}

// NewReserveReader создаёт reader; nil breaker заменяется breaker'ом по умолчанию
func NewReserveReader(caller ContractCaller, br *breaker.Breaker, callTimeout time.Duration, logger *utils.Logger) *ReserveReader {
	if logger == nil {
		logger = utils.NewNop()
	}
	if br == nil {
		cfg := breaker.DefaultConfig()
		cfg.Name = "rpc"
		cfg.OnStateChange = bot.RecordBreakerTransition
		br = breaker.New(cfg)
	}
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}

	r := &ReserveReader{
		caller:      caller,
		breaker:     br,
		retryCfg:    retry.RPCConfig(),
		callTimeout: callTimeout,
		logger:      logger.WithComponent("reserve_reader"),
	}
	r.retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.logger.Debug("retrying rpc call",
			utils.Int("attempt", attempt),
			utils.Dur("delay", delay),
			utils.Err(err),
		)
	}
	return r
}

// Breaker возвращает breaker RPC (для /healthz и метрик)
func (r *ReserveReader) Breaker() *breaker.Breaker {
	return r.breaker
}

// BlockNumber возвращает номер последнего блока
func (r *ReserveReader) BlockNumber(ctx context.Context) (uint64, error) {
	return breaker.Call(ctx, r.breaker, func(ctx context.Context) (uint64, error) {
		return retry.DoWithResult(ctx, func(ctx context.Context) (uint64, error) {
			callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
			defer cancel()
			return r.caller.BlockNumber(callCtx)
		}, r.retryCfg)
	})
}

// GetReserves читает getReserves() пула lp на блоке block (nil = latest)
func (r *ReserveReader) GetReserves(ctx context.Context, lp string, block *big.Int) (bot.PoolReserves, error) {
	if !models.IsLPAddress(lp) {
		return bot.PoolReserves{}, fmt.Errorf("%w: %q", ErrInvalidLP, lp)
	}
	to := common.HexToAddress(lp)
	msg := ethereum.CallMsg{To: &to, Data: getReservesSelector}

	start := time.Now()
	reserves, err := breaker.Call(ctx, r.breaker, func(ctx context.Context) (bot.PoolReserves, error) {
		return retry.DoWithResult(ctx, func(ctx context.Context) (bot.PoolReserves, error) {
			callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
			defer cancel()

			out, err := r.caller.CallContract(callCtx, msg, block)
			if err != nil {
				return bot.PoolReserves{}, err
			}
			res, err := DecodeReserves(out)
			if err != nil {
				// повтор не исправит неверный ответ контракта
				return bot.PoolReserves{}, retry.Permanent(err)
			}
			return res, nil
		}, r.retryCfg)
	})
	if err != nil {
		return bot.PoolReserves{}, fmt.Errorf("getReserves %s: %w", lp, err)
	}

	r.logger.Debug("reserves fetched", utils.LPAddress(lp), utils.Latency(time.Since(start)))
	return reserves, nil
}

// DecodeReserves разбирает ABI ответ (uint112 reserve0, uint112 reserve1, uint32 ts)
func DecodeReserves(data []byte) (bot.PoolReserves, error) {
	if len(data) < 96 {
		return bot.PoolReserves{}, fmt.Errorf("%w: %d bytes", ErrShortResponse, len(data))
	}
	return bot.PoolReserves{
		Reserve0: new(big.Int).SetBytes(data[0:32]),
		Reserve1: new(big.Int).SetBytes(data[32:64]),
	}, nil
}

// Dial подключается к ноде с повторами и проверяет её ответом eth_blockNumber
func Dial(ctx context.Context, url string, logger *utils.Logger) (*ethclient.Client, error) {
	if logger == nil {
		logger = utils.NewNop()
	}
	cfg := retry.DialConfig()
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("rpc dial failed, retrying",
			utils.Int("attempt", attempt),
			utils.Dur("delay", delay),
			utils.Err(err),
		)
	}

	return retry.DoWithResult(ctx, func(ctx context.Context) (*ethclient.Client, error) {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, err
		}
		block, err := client.BlockNumber(ctx)
		if err != nil {
			client.Close()
			return nil, err
		}
		logger.Info("connected to rpc", utils.Block(block))
		return client, nil
	}, cfg)
}
