package bot

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"
)

// passingInputs - вход, проходящий все guard'ы при strictGuardrails
func passingInputs() (SyncTrace, SpreadCandidate) {
	return SyncTrace{GasCostUSD: 5, Rv3Block: 0.01},
		SpreadCandidate{EstimatedProfit: 20, SlippageBps: 10, SafeLoanSize: big.NewInt(1234)}
}

func strictGuardrails() GuardrailConfig {
	return GuardrailConfig{
		MinProfitUSD:         10,
		SlippageToleranceBps: 30,
		MaxGasUSD:            8,
		MaxRv:                0.05,
	}
}

func TestBuildStrategy_Pass(t *testing.T) {
	trace, spread := passingInputs()
	s := BuildStrategy(trace, spread, strictGuardrails())

	if !s.ShouldExecute || s.Reason != "" {
		t.Fatalf("BuildStrategy() = %+v, want execute", s)
	}
	if s.SafeLoanSize == nil || s.SafeLoanSize.Cmp(big.NewInt(1234)) != 0 {
		t.Errorf("SafeLoanSize = %v, want 1234", s.SafeLoanSize)
	}

	// копия, а не ссылка на вход
	spread.SafeLoanSize.SetInt64(1)
	if s.SafeLoanSize.Cmp(big.NewInt(1234)) != 0 {
		t.Error("SafeLoanSize aliases the candidate value")
	}
}

func TestBuildStrategy_SingleFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SyncTrace, *SpreadCandidate)
		reason string
	}{
		{"low profit", func(_ *SyncTrace, s *SpreadCandidate) { s.EstimatedProfit = 9.99 }, ReasonMinProfit},
		{"high slippage", func(_ *SyncTrace, s *SpreadCandidate) { s.SlippageBps = 30.01 }, ReasonSlippage},
		{"expensive gas", func(tr *SyncTrace, _ *SpreadCandidate) { tr.GasCostUSD = 8.5 }, ReasonGas},
		{"volatile", func(tr *SyncTrace, _ *SpreadCandidate) { tr.Rv3Block = 0.06 }, ReasonVolatility},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trace, spread := passingInputs()
			tt.mutate(&trace, &spread)

			s := BuildStrategy(trace, spread, strictGuardrails())
			if s.ShouldExecute || s.Reason != tt.reason {
				t.Errorf("BuildStrategy() = {%v %q}, want {false %q}", s.ShouldExecute, s.Reason, tt.reason)
			}
			if s.SafeLoanSize != nil {
				t.Error("rejected strategy must not carry SafeLoanSize")
			}
		})
	}
}

func TestBuildStrategy_OrderIsFixed(t *testing.T) {
	allBad := func() (SyncTrace, SpreadCandidate) {
		return SyncTrace{GasCostUSD: 100, Rv3Block: 1}, SpreadCandidate{EstimatedProfit: 0, SlippageBps: 100}
	}

	trace, spread := allBad()
	if got := BuildStrategy(trace, spread, strictGuardrails()).Reason; got != ReasonMinProfit {
		t.Errorf("all failing: Reason = %q, want %q", got, ReasonMinProfit)
	}

	spread.EstimatedProfit = 100
	if got := BuildStrategy(trace, spread, strictGuardrails()).Reason; got != ReasonSlippage {
		t.Errorf("profit fixed: Reason = %q, want %q", got, ReasonSlippage)
	}

	spread.SlippageBps = 0
	if got := BuildStrategy(trace, spread, strictGuardrails()).Reason; got != ReasonGas {
		t.Errorf("slippage fixed: Reason = %q, want %q", got, ReasonGas)
	}

	trace.GasCostUSD = 0
	if got := BuildStrategy(trace, spread, strictGuardrails()).Reason; got != ReasonVolatility {
		t.Errorf("gas fixed: Reason = %q, want %q", got, ReasonVolatility)
	}
}

func TestBuildStrategy_Boundaries(t *testing.T) {
	cfg := strictGuardrails()
	trace := SyncTrace{GasCostUSD: cfg.MaxGasUSD, Rv3Block: cfg.MaxRv}
	spread := SpreadCandidate{EstimatedProfit: cfg.MinProfitUSD, SlippageBps: cfg.SlippageToleranceBps}

	if s := BuildStrategy(trace, spread, cfg); !s.ShouldExecute {
		t.Errorf("values equal to thresholds should pass, got reason %q", s.Reason)
	}
}

func TestDefaultGuardrails(t *testing.T) {
	cfg := DefaultGuardrails()
	if cfg.MinProfitUSD != 0 || cfg.SlippageToleranceBps != 0 {
		t.Errorf("defaults = %+v", cfg)
	}
	if !math.IsInf(cfg.MaxGasUSD, 1) || !math.IsInf(cfg.MaxRv, 1) {
		t.Errorf("MaxGasUSD/MaxRv should be +Inf, got %v/%v", cfg.MaxGasUSD, cfg.MaxRv)
	}

	s := BuildStrategy(SyncTrace{GasCostUSD: 1e9, Rv3Block: 1e9}, SpreadCandidate{}, cfg)
	if !s.ShouldExecute {
		t.Errorf("default guardrails rejected zero-slippage candidate: %q", s.Reason)
	}
}

// fakeExecutor - исполнитель для тестов
type fakeExecutor struct {
	calldata string
	result   ExecutionResult
	err      error
	dryRuns  int
}

func (f *fakeExecutor) BuildCalldata(context.Context, Strategy) (string, error) {
	return f.calldata, f.err
}

func (f *fakeExecutor) DryRun(context.Context, Strategy) (ExecutionResult, error) {
	f.dryRuns++
	return f.result, f.err
}

func TestStrategy_RejectedDoesNotReachExecutor(t *testing.T) {
	exec := &fakeExecutor{calldata: "0xdeadbeef", result: ExecutionResult{Status: ExecutionSuccess}}
	s := rejected(ReasonGas).WithExecutor(exec)
	ctx := context.Background()

	calldata, err := s.BuildCalldata(ctx)
	if err != nil || calldata != "0x" {
		t.Errorf("BuildCalldata() = %q, %v; want \"0x\"", calldata, err)
	}
	res, err := s.DryRun(ctx)
	if err != nil || res.Status != ExecutionReverted {
		t.Errorf("DryRun() = %+v, %v; want reverted", res, err)
	}
	if exec.dryRuns != 0 {
		t.Errorf("executor called %d times for rejected strategy", exec.dryRuns)
	}
}

func TestStrategy_DelegatesToExecutor(t *testing.T) {
	exec := &fakeExecutor{calldata: "0xdeadbeef", result: ExecutionResult{Status: ExecutionSuccess, GasUsed: 210000}}
	trace, spread := passingInputs()
	s := BuildStrategy(trace, spread, strictGuardrails()).WithExecutor(exec)
	ctx := context.Background()

	calldata, err := s.BuildCalldata(ctx)
	if err != nil || calldata != "0xdeadbeef" {
		t.Errorf("BuildCalldata() = %q, %v", calldata, err)
	}
	res, err := s.DryRun(ctx)
	if err != nil || res.Status != ExecutionSuccess || res.GasUsed != 210000 {
		t.Errorf("DryRun() = %+v, %v", res, err)
	}
}

func TestStrategy_NoExecutor(t *testing.T) {
	trace, spread := passingInputs()
	s := BuildStrategy(trace, spread, strictGuardrails())
	ctx := context.Background()

	if calldata, _ := s.BuildCalldata(ctx); calldata != "0x" {
		t.Errorf("BuildCalldata() without executor = %q, want \"0x\"", calldata)
	}
	res, err := s.DryRun(ctx)
	if !errors.Is(err, ErrNoExecutor) || res.Status != ExecutionReverted {
		t.Errorf("DryRun() without executor = %+v, %v", res, err)
	}
}
