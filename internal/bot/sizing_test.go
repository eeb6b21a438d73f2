package bot

import (
	"math/big"
	"testing"
)

func pool(in, out int64) ConstantProductPool {
	return ConstantProductPool{ReserveIn: big.NewInt(in), ReserveOut: big.NewInt(out)}
}

func TestComputeSafeFlashLoanSize_Example(t *testing.T) {
	got := ComputeSafeFlashLoanSize(pool(1000, 1000), pool(1000, 1000), 100)
	if got.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("ComputeSafeFlashLoanSize() = %s, want 5", got)
	}
}

func TestComputeSafeFlashLoanSize_ZeroLiquidity(t *testing.T) {
	tests := []struct {
		name      string
		buy, sell ConstantProductPool
		maxBps    int64
	}{
		{"empty pools", pool(0, 0), pool(0, 0), 100},
		{"nil reserves", ConstantProductPool{}, ConstantProductPool{}, 100},
		{"zero tolerance", pool(1000, 1000), pool(1000, 1000), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeSafeFlashLoanSize(tt.buy, tt.sell, tt.maxBps); got.Sign() != 0 {
				t.Errorf("ComputeSafeFlashLoanSize() = %s, want 0", got)
			}
		})
	}
}

func TestComputeSafeFlashLoanSize_MaximalAndFeasible(t *testing.T) {
	buy := pool(1_000_000, 500_000)
	sell := pool(400_000, 900_000)
	maxBps := big.NewInt(50)

	dx := ComputeSafeFlashLoanSize(buy, sell, 50)
	if dx.Sign() <= 0 {
		t.Fatalf("ComputeSafeFlashLoanSize() = %s, want > 0", dx)
	}

	feasible := func(x *big.Int) bool {
		return withinSlippage(buy.ReserveIn, x, maxBps) &&
			withinSlippage(sell.ReserveIn, buy.AmountOut(x), maxBps)
	}
	if !feasible(dx) {
		t.Errorf("dx=%s violates slippage bound", dx)
	}
	if next := new(big.Int).Add(dx, bigOne); feasible(next) {
		t.Errorf("dx=%s is not maximal, %s is also feasible", dx, next)
	}
}

func TestComputeSafeFlashLoanSize_BoundedByReserve(t *testing.T) {
	got := ComputeSafeFlashLoanSize(pool(10, 10), pool(10, 10), 10_000)
	if got.Cmp(big.NewInt(10)) > 0 {
		t.Errorf("ComputeSafeFlashLoanSize() = %s, exceeds buy reserve", got)
	}
}

func TestConstantProductPool_AmountOut(t *testing.T) {
	tests := []struct {
		name string
		pool ConstantProductPool
		dx   *big.Int
		want int64
	}{
		{"basic", pool(1000, 1000), big.NewInt(5), 4},
		{"large", pool(1000, 2000), big.NewInt(1000), 1000},
		{"zero input", pool(1000, 1000), big.NewInt(0), 0},
		{"nil input", pool(1000, 1000), nil, 0},
		{"empty pool", ConstantProductPool{}, big.NewInt(5), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pool.AmountOut(tt.dx); got.Cmp(big.NewInt(tt.want)) != 0 {
				t.Errorf("AmountOut() = %s, want %d", got, tt.want)
			}
		})
	}
}

func TestProfitGuard(t *testing.T) {
	tests := []struct {
		name     string
		proceeds int64
		gas      int64
		fee      int64
		buffer   int64
		want     bool
	}{
		{"profitable", 101, 50, 50, 0, true},
		{"equal is rejected", 100, 50, 50, 0, false},
		{"loss", 50, 50, 50, 0, false},
		{"buffer exact", 10000, 9900, 0, 100, false},
		{"buffer passes", 10000, 9899, 0, 100, true},
		{"buffer rounds down", 199, 197, 0, 100, true},
		{"negative proceeds", -10, 0, 0, 0, false},
		{"zero everything", 0, 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProfitGuard(ProfitGuardParams{
				ExpectedProceeds: big.NewInt(tt.proceeds),
				GasCost:          big.NewInt(tt.gas),
				FlashFee:         big.NewInt(tt.fee),
				MevBufferBps:     tt.buffer,
			})
			if got != tt.want {
				t.Errorf("ProfitGuard() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProfitGuard_NilInputs(t *testing.T) {
	if ProfitGuard(ProfitGuardParams{}) {
		t.Error("ProfitGuard() with nil inputs should be false")
	}
	if !ProfitGuard(ProfitGuardParams{ExpectedProceeds: big.NewInt(1)}) {
		t.Error("ProfitGuard() with proceeds 1 and no costs should be true")
	}
}

func TestPriceImpactBps(t *testing.T) {
	got := PriceImpactBps(big.NewInt(1000), big.NewInt(5))
	// (1005² - 1000²) / 1005² * 10000
	want := 10025.0 / 1010025.0 * 10000
	if !approx(got, want, 1e-9) {
		t.Errorf("PriceImpactBps() = %v, want %v", got, want)
	}
	if PriceImpactBps(big.NewInt(1000), big.NewInt(0)) != 0 {
		t.Error("PriceImpactBps() with zero input should be 0")
	}
}

func BenchmarkComputeSafeFlashLoanSize(b *testing.B) {
	buy := ConstantProductPool{ReserveIn: units(2_000_000, 6), ReserveOut: units(1000, 18)}
	sell := ConstantProductPool{ReserveIn: units(1000, 18), ReserveOut: units(2_010_000, 6)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ComputeSafeFlashLoanSize(buy, sell, 30)
	}
}
