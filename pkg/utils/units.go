package utils

// units.go - перевод on-chain величин (base units) в десятичные значения
//
// Все вычисления точные: big.Int для base units, shopspring/decimal
// для десятичного представления. float64 используется только там,
// где значение идёт в метрики или логи.

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// BpsDenominator - 100% в базисных пунктах
const BpsDenominator = 10_000

var (
	ErrNegativeDecimals = errors.New("decimals must be >= 0")
	ErrNegativeBps      = errors.New("slippage bps must be >= 0")
)

var bpsDenominator = big.NewInt(BpsDenominator)

// NormalizeUnits переводит base units в десятичное значение: amount / 10^decimals
func NormalizeUnits(amount *big.Int, decimals int) (decimal.Decimal, error) {
	if decimals < 0 {
		return decimal.Zero, ErrNegativeDecimals
	}
	if amount == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromBigInt(amount, int32(-decimals)), nil
}

// FormatUnits - NormalizeUnits в виде десятичной строки без экспоненты
//
//	FormatUnits(big.NewInt(1500000), 6) == "1.5"
func FormatUnits(amount *big.Int, decimals int) string {
	d, err := NormalizeUnits(amount, decimals)
	if err != nil {
		return "0"
	}
	return d.String()
}

// ParseUnits переводит десятичную строку в base units (дробная часть сверх decimals отбрасывается)
func ParseUnits(value string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, ErrNegativeDecimals
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, err
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// ApplySlippage уменьшает котировку на slippageBps: quote * (10000 - bps) / 10000
//
// Деление целочисленное (округление вниз).
func ApplySlippage(quote *big.Int, slippageBps int64) (*big.Int, error) {
	if slippageBps < 0 {
		return nil, ErrNegativeBps
	}
	if quote == nil {
		return new(big.Int), nil
	}
	out := new(big.Int).Mul(quote, big.NewInt(BpsDenominator-slippageBps))
	return out.Quo(out, bpsDenominator), nil
}

// CompoundedMinOut - минимальный выход маршрута из len(quotes) свопов
//
// Проскальзывание применяется к последней котировке по одному разу на каждый хоп.
func CompoundedMinOut(quotes []*big.Int, slippageBps int64) (*big.Int, error) {
	if slippageBps < 0 {
		return nil, ErrNegativeBps
	}
	if len(quotes) == 0 {
		return new(big.Int), nil
	}

	amount := new(big.Int).Set(quotes[len(quotes)-1])
	for range quotes {
		next, err := ApplySlippage(amount, slippageBps)
		if err != nil {
			return nil, err
		}
		amount = next
	}
	return amount, nil
}

// BpsOf возвращает value * bps / 10000 (округление вниз)
func BpsOf(value *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(value, big.NewInt(bps))
	return out.Quo(out, bpsDenominator)
}
