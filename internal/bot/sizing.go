package bot

import (
	"math/big"

	"dexarb/pkg/utils"
)

var (
	bigZero = big.NewInt(0)
	bigOne  = big.NewInt(1)
	bigTenK = big.NewInt(utils.BpsDenominator)
)

// ============================================================
// Profit guard
// ============================================================

// ProfitGuardParams - входные данные ProfitGuard в base units одного токена
type ProfitGuardParams struct {
	ExpectedProceeds *big.Int
	GasCost          *big.Int
	FlashFee         *big.Int
	// MevBufferBps - запас на MEV от выручки, 50 = 0.5%
	MevBufferBps int64
}

// ProfitGuard - true только если proceeds > gas + flashFee + proceeds*buffer/10000
//
// Целочисленная арифметика, округление буфера вниз. Равенство = false.
func ProfitGuard(p ProfitGuardParams) bool {
	proceeds := orZero(p.ExpectedProceeds)
	costs := new(big.Int).Add(orZero(p.GasCost), orZero(p.FlashFee))
	buffer := new(big.Int).Mul(proceeds, big.NewInt(p.MevBufferBps))
	buffer.Quo(buffer, bigTenK)
	return proceeds.Cmp(costs.Add(costs, buffer)) > 0
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return bigZero
	}
	return v
}

// ============================================================
// Flash loan sizing
// ============================================================

// ConstantProductPool - резервы пула x*y=k в base units, по направлению сделки
type ConstantProductPool struct {
	ReserveIn  *big.Int
	ReserveOut *big.Int
}

// AmountOut - выход свопа dx через пул без комиссии: dx*Rout / (Rin+dx)
//
// При нулевом знаменателе возвращает 0.
func (p ConstantProductPool) AmountOut(dx *big.Int) *big.Int {
	if dx == nil || dx.Sign() <= 0 {
		return new(big.Int)
	}
	den := new(big.Int).Add(orZero(p.ReserveIn), dx)
	if den.Sign() == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(dx, orZero(p.ReserveOut))
	return num.Quo(num, den)
}

// withinSlippage - ((Rin+dx)² - Rin²) * 10000 <= maxBps * (Rin+dx)²
func withinSlippage(reserveIn, dx, maxBps *big.Int) bool {
	if dx.Sign() <= 0 {
		return true
	}
	term := new(big.Int).Add(reserveIn, dx)
	termSq := new(big.Int).Mul(term, term)
	inSq := new(big.Int).Mul(reserveIn, reserveIn)

	lhs := new(big.Int).Sub(termSq, inSq)
	lhs.Mul(lhs, bigTenK)
	rhs := new(big.Int).Mul(maxBps, termSq)
	return lhs.Cmp(rhs) <= 0
}

// ComputeSafeFlashLoanSize - максимальный dx в [0, buyPool.ReserveIn], при котором
// price impact на обоих пулах не превышает maxSlippageBps
//
// dx проходит через buyPool, полученный dy - через sellPool. Бинарный поиск
// по монотонному условию withinSlippage, всё в big.Int.
//
//	ComputeSafeFlashLoanSize({1000,1000}, {1000,1000}, 100) == 5
func ComputeSafeFlashLoanSize(buyPool, sellPool ConstantProductPool, maxSlippageBps int64) *big.Int {
	buyIn := orZero(buyPool.ReserveIn)
	sellIn := orZero(sellPool.ReserveIn)
	maxBps := big.NewInt(maxSlippageBps)

	feasible := func(dx *big.Int) bool {
		if !withinSlippage(buyIn, dx, maxBps) {
			return false
		}
		dy := buyPool.AmountOut(dx)
		return withinSlippage(sellIn, dy, maxBps)
	}

	low := new(big.Int)
	high := new(big.Int).Set(buyIn)
	ans := new(big.Int)
	mid := new(big.Int)

	for low.Cmp(high) <= 0 {
		mid.Add(low, high).Rsh(mid, 1)
		if feasible(mid) {
			ans.Set(mid)
			low.Add(mid, bigOne)
		} else {
			high.Sub(mid, bigOne)
		}
	}
	return ans
}

// PriceImpactBps - ((Rin+dx)² - Rin²) / (Rin+dx)² * 10000 для логов и решений
func PriceImpactBps(reserveIn, dx *big.Int) float64 {
	if dx == nil || dx.Sign() <= 0 {
		return 0
	}
	term := new(big.Int).Add(orZero(reserveIn), dx)
	termSq := new(big.Int).Mul(term, term)
	inSq := new(big.Int).Mul(orZero(reserveIn), orZero(reserveIn))
	num := new(big.Int).Sub(termSq, inSq)
	num.Mul(num, bigTenK)

	ratio, _ := new(big.Rat).SetFrac(num, termSq).Float64()
	return ratio
}
