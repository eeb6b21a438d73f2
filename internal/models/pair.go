package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPair - конфигурация пары не прошла проверку
var ErrInvalidPair = errors.New("invalid pair config")

// MaxDecimals - верхняя граница decimals токена
const MaxDecimals = 36

// PairConfig - отслеживаемая пара: один и тот же рынок на двух DEX
type PairConfig struct {
	Symbol      string  `json:"symbol"`      // WETH/USDC
	UniswapLP   string  `json:"uniswapLp"`   // адрес пула Uniswap V2
	SushiswapLP string  `json:"sushiswapLp"` // адрес пула SushiSwap
	Decimals0   int     `json:"decimals0"`   // decimals token0
	Decimals1   int     `json:"decimals1"`   // decimals token1
	QuoteUSD    float64 `json:"quoteUsd"`    // цена token1 в USD (1 для стейблов)
}

// Validate проверяет символ, адреса пулов, decimals и QuoteUSD
func (p PairConfig) Validate() error {
	switch {
	case p.Symbol == "" || !strings.Contains(p.Symbol, "/"):
		return fmt.Errorf("%w: symbol %q must look like BASE/QUOTE", ErrInvalidPair, p.Symbol)
	case !IsLPAddress(p.UniswapLP):
		return fmt.Errorf("%w: uniswap lp %q", ErrInvalidPair, p.UniswapLP)
	case !IsLPAddress(p.SushiswapLP):
		return fmt.Errorf("%w: sushiswap lp %q", ErrInvalidPair, p.SushiswapLP)
	case p.Decimals0 < 0 || p.Decimals0 > MaxDecimals:
		return fmt.Errorf("%w: decimals0 %d out of range", ErrInvalidPair, p.Decimals0)
	case p.Decimals1 < 0 || p.Decimals1 > MaxDecimals:
		return fmt.Errorf("%w: decimals1 %d out of range", ErrInvalidPair, p.Decimals1)
	case p.QuoteUSD <= 0:
		return fmt.Errorf("%w: quoteUsd must be positive", ErrInvalidPair)
	}
	return nil
}

// LP возвращает адрес пула пары на площадке
func (p PairConfig) LP(dex Dex) string {
	switch dex {
	case DexUniswap:
		return p.UniswapLP
	case DexSushiswap:
		return p.SushiswapLP
	default:
		return ""
	}
}

// Площадки
type Dex string

const (
	DexUniswap   Dex = "uniswap"
	DexSushiswap Dex = "sushiswap"
)

// Valid - поддерживается ли площадка
func (d Dex) Valid() bool {
	return d == DexUniswap || d == DexSushiswap
}

// Dexes - все поддерживаемые площадки в фиксированном порядке
var Dexes = []Dex{DexUniswap, DexSushiswap}
