package bot

import (
	"context"
	"errors"
	"math"
	"math/big"
)

// Причины отказа guard'ов. Порядок проверок фиксирован:
// minProfitUSD → slippageTolerance → gasSensitivity → rvClamp
const (
	ReasonMinProfit   = "minProfitUSD"
	ReasonSlippage    = "slippageTolerance"
	ReasonGas         = "gasSensitivity"
	ReasonVolatility  = "rvClamp"
	ReasonProfitGuard = "profitGuard" // выставляет Engine, не BuildStrategy
)

// GuardrailConfig - пороги guard'ов, неизменны в пределах одного вызова
type GuardrailConfig struct {
	MinProfitUSD         float64
	SlippageToleranceBps float64
	MaxGasUSD            float64
	MaxRv                float64
}

// DefaultGuardrails - 0 / 0 / +Inf / +Inf
func DefaultGuardrails() GuardrailConfig {
	return GuardrailConfig{
		MinProfitUSD:         0,
		SlippageToleranceBps: 0,
		MaxGasUSD:            math.Inf(1),
		MaxRv:                math.Inf(1),
	}
}

// SyncTrace - контекст блока, на котором принимается решение
type SyncTrace struct {
	GasCostUSD float64
	Rv3Block   float64
}

// SpreadCandidate - оценка сделки по спреду
type SpreadCandidate struct {
	EstimatedProfit float64 // USD
	SlippageBps     float64
	SafeLoanSize    *big.Int // nil, если flash loan не используется
}

// ExecutionStatus - итог симуляции
type ExecutionStatus string

const (
	ExecutionSuccess  ExecutionStatus = "success"
	ExecutionReverted ExecutionStatus = "reverted"
)

// ExecutionResult - результат DryRun
type ExecutionResult struct {
	Status  ExecutionStatus
	GasUsed uint64
}

// ErrNoExecutor - исполнитель не подключён
var ErrNoExecutor = errors.New("no executor configured")

// Executor - внешний исполнитель: собирает calldata и симулирует сделку
type Executor interface {
	BuildCalldata(ctx context.Context, s Strategy) (string, error)
	DryRun(ctx context.Context, s Strategy) (ExecutionResult, error)
}

// Strategy - решение GuardrailEngine
type Strategy struct {
	ShouldExecute bool
	Reason        string   // пусто при успехе
	SafeLoanSize  *big.Int // из SpreadCandidate, если задан

	executor Executor
}

// WithExecutor возвращает копию стратегии с исполнителем
func (s Strategy) WithExecutor(e Executor) Strategy {
	s.executor = e
	return s
}

// BuildCalldata - calldata сделки; отклонённая стратегия или отсутствие
// исполнителя дают "0x"
func (s Strategy) BuildCalldata(ctx context.Context) (string, error) {
	if !s.ShouldExecute || s.executor == nil {
		return "0x", nil
	}
	return s.executor.BuildCalldata(ctx, s)
}

// DryRun - симуляция сделки; отклонённая стратегия даёт reverted
func (s Strategy) DryRun(ctx context.Context) (ExecutionResult, error) {
	if !s.ShouldExecute {
		return ExecutionResult{Status: ExecutionReverted}, nil
	}
	if s.executor == nil {
		return ExecutionResult{Status: ExecutionReverted}, ErrNoExecutor
	}
	return s.executor.DryRun(ctx, s)
}

func rejected(reason string) Strategy {
	return Strategy{ShouldExecute: false, Reason: reason}
}

// BuildStrategy прогоняет guard'ы по порядку, первый отказ возвращается сразу
//
// Guard'ы не бросают ошибок: отказ - это значение Strategy с Reason.
func BuildStrategy(trace SyncTrace, spread SpreadCandidate, cfg GuardrailConfig) Strategy {
	if spread.EstimatedProfit < cfg.MinProfitUSD {
		return rejected(ReasonMinProfit)
	}
	if spread.SlippageBps > cfg.SlippageToleranceBps {
		return rejected(ReasonSlippage)
	}
	if trace.GasCostUSD > cfg.MaxGasUSD {
		return rejected(ReasonGas)
	}
	if trace.Rv3Block > cfg.MaxRv {
		return rejected(ReasonVolatility)
	}

	s := Strategy{ShouldExecute: true}
	if spread.SafeLoanSize != nil {
		s.SafeLoanSize = new(big.Int).Set(spread.SafeLoanSize)
	}
	return s
}
