package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Типы сообщений WebSocket
const (
	TypeTokenMetaUpdate = "tokenMeta.update"
	TypeArbDecision     = "arb.decision"
)

// ErrInvalidUpdate - payload не соответствует схеме tokenMeta.update
var ErrInvalidUpdate = errors.New("invalid tokenMeta.update")

// Reserves - резервы пула на блоке; суммы с учётом decimals токена десятичными строками
type Reserves struct {
	R0    string `json:"r0"`
	R1    string `json:"r1"`
	Block uint64 `json:"block"`
}

// TokenMetaPayload - состояние пула на одной площадке
type TokenMetaPayload struct {
	PairSymbol   string   `json:"pairSymbol"`
	Dex          Dex      `json:"dex"`
	LPAddress    string   `json:"lpAddress"`
	Reserves     Reserves `json:"reserves"`
	Price        string   `json:"price"`
	LiquidityUSD string   `json:"liquidityUSD,omitempty"`
	Spread       string   `json:"spread,omitempty"`
}

// TokenMetaUpdate - кадр tokenMeta.update
type TokenMetaUpdate struct {
	Type    string           `json:"type"`
	At      string           `json:"at"`
	Payload TokenMetaPayload `json:"payload"`
}

// NewTokenMetaUpdate оборачивает payload в кадр с меткой времени RFC3339
func NewTokenMetaUpdate(p TokenMetaPayload, at time.Time) TokenMetaUpdate {
	return TokenMetaUpdate{
		Type:    TypeTokenMetaUpdate,
		At:      at.UTC().Format(time.RFC3339Nano),
		Payload: p,
	}
}

// Validate проверяет кадр целиком
func (u TokenMetaUpdate) Validate() error {
	if u.Type != TypeTokenMetaUpdate {
		return fmt.Errorf("%w: type %q", ErrInvalidUpdate, u.Type)
	}
	if _, err := time.Parse(time.RFC3339Nano, u.At); err != nil {
		return fmt.Errorf("%w: at %q is not an ISO-8601 timestamp", ErrInvalidUpdate, u.At)
	}
	return u.Payload.Validate()
}

// Validate проверяет payload
//
// Все ошибки собираются в одну, чтобы лог показывал payload целиком.
func (p TokenMetaPayload) Validate() error {
	var problems []string

	if strings.TrimSpace(p.PairSymbol) == "" {
		problems = append(problems, "pairSymbol is empty")
	}
	if !p.Dex.Valid() {
		problems = append(problems, fmt.Sprintf("dex %q is not supported", p.Dex))
	}
	if !IsLPAddress(p.LPAddress) {
		problems = append(problems, fmt.Sprintf("lpAddress %q is not a 0x-prefixed 40-hex address", p.LPAddress))
	}
	if !isUnsignedDecimal(p.Reserves.R0) {
		problems = append(problems, fmt.Sprintf("reserves.r0 %q is not a decimal", p.Reserves.R0))
	}
	if !isUnsignedDecimal(p.Reserves.R1) {
		problems = append(problems, fmt.Sprintf("reserves.r1 %q is not a decimal", p.Reserves.R1))
	}
	if !isUnsignedDecimal(p.Price) {
		problems = append(problems, fmt.Sprintf("price %q is not a decimal", p.Price))
	}
	if p.LiquidityUSD != "" && !isUnsignedDecimal(p.LiquidityUSD) {
		problems = append(problems, fmt.Sprintf("liquidityUSD %q is not a decimal", p.LiquidityUSD))
	}
	if p.Spread != "" && !isDecimal(p.Spread) {
		problems = append(problems, fmt.Sprintf("spread %q is not a decimal", p.Spread))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidUpdate, strings.Join(problems, "; "))
	}
	return nil
}

// IsLPAddress - "0x" + ровно 40 hex символов
func IsLPAddress(s string) bool {
	return len(s) == 42 && strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// isDecimal - десятичная запись без экспоненты
func isDecimal(s string) bool {
	if s == "" || strings.ContainsAny(s, "eE") {
		return false
	}
	_, err := decimal.NewFromString(s)
	return err == nil
}

func isUnsignedDecimal(s string) bool {
	return isDecimal(s) && !strings.HasPrefix(s, "-")
}
