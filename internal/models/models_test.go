package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func validPayload() TokenMetaPayload {
	return TokenMetaPayload{
		PairSymbol: "WETH/USDC",
		Dex:        DexUniswap,
		LPAddress:  "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc",
		Reserves: Reserves{
			R0:    "1000000000000000000000",
			R1:    "2500000000000",
			Block: 19000000,
		},
		Price:        "2500",
		LiquidityUSD: "5000000",
		Spread:       "12.5",
	}
}

// ============ TokenMetaUpdate Tests ============

func TestTokenMetaUpdate_Valid(t *testing.T) {
	u := NewTokenMetaUpdate(validPayload(), time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate() = %v, ожидали nil", err)
	}
	if u.Type != TypeTokenMetaUpdate {
		t.Errorf("Type: ожидали %q, получили %q", TypeTokenMetaUpdate, u.Type)
	}
}

func TestTokenMetaUpdate_JSONShape(t *testing.T) {
	p := validPayload()
	p.LiquidityUSD = ""
	p.Spread = ""
	u := NewTokenMetaUpdate(p, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))

	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}
	s := string(data)

	for _, want := range []string{
		`"type":"tokenMeta.update"`,
		`"at":"2024-01-15T10:30:00Z"`,
		`"pairSymbol":"WETH/USDC"`,
		`"dex":"uniswap"`,
		`"reserves":{"r0":"1000000000000000000000","r1":"2500000000000","block":19000000}`,
		`"price":"2500"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON не содержит %s: %s", want, s)
		}
	}
	for _, absent := range []string{"liquidityUSD", "spread"} {
		if strings.Contains(s, absent) {
			t.Errorf("опциональное поле %q не должно попадать в JSON: %s", absent, s)
		}
	}
}

func TestTokenMetaPayload_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *TokenMetaPayload)
		field  string
	}{
		{"empty symbol", func(p *TokenMetaPayload) { p.PairSymbol = " " }, "pairSymbol"},
		{"unknown dex", func(p *TokenMetaPayload) { p.Dex = "curve" }, "dex"},
		{"address without prefix", func(p *TokenMetaPayload) { p.LPAddress = "B4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc" }, "lpAddress"},
		{"short address", func(p *TokenMetaPayload) { p.LPAddress = "0x1234" }, "lpAddress"},
		{"non-hex address", func(p *TokenMetaPayload) { p.LPAddress = "0xZZe16d0168e52d35CaCD2c6185b44281Ec28C9Dc" }, "lpAddress"},
		{"r0 not decimal", func(p *TokenMetaPayload) { p.Reserves.R0 = "abc" }, "reserves.r0"},
		{"r1 negative", func(p *TokenMetaPayload) { p.Reserves.R1 = "-1" }, "reserves.r1"},
		{"price empty", func(p *TokenMetaPayload) { p.Price = "" }, "price"},
		{"price exponent", func(p *TokenMetaPayload) { p.Price = "1e3" }, "price"},
		{"liquidity garbage", func(p *TokenMetaPayload) { p.LiquidityUSD = "lots" }, "liquidityUSD"},
		{"spread garbage", func(p *TokenMetaPayload) { p.Spread = "wide" }, "spread"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(&p)
			err := p.Validate()
			if !errors.Is(err, ErrInvalidUpdate) {
				t.Fatalf("Validate() = %v, ожидали ErrInvalidUpdate", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("ошибка должна упоминать %q: %v", tt.field, err)
			}
		})
	}
}

func TestTokenMetaPayload_NegativeSpreadAllowed(t *testing.T) {
	p := validPayload()
	p.Spread = "-3.25"
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() = %v, знаковый spread допустим", err)
	}
}

func TestTokenMetaUpdate_InvalidEnvelope(t *testing.T) {
	u := NewTokenMetaUpdate(validPayload(), time.Now())

	bad := u
	bad.Type = "other"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("неверный type: ожидали ErrInvalidUpdate, получили %v", err)
	}

	bad = u
	bad.At = "yesterday"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("неверный at: ожидали ErrInvalidUpdate, получили %v", err)
	}
}

func TestIsLPAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"0x397FF1542f962076d0BFE58eA045FfA2d347ACa0", true},
		{"0x397ff1542f962076d0bfe58ea045ffa2d347aca0", true},
		{"0X397ff1542f962076d0bfe58ea045ffa2d347aca0", false},
		{"0x397ff1542f962076d0bfe58ea045ffa2d347aca", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsLPAddress(tt.addr); got != tt.want {
			t.Errorf("IsLPAddress(%q) = %v, ожидали %v", tt.addr, got, tt.want)
		}
	}
}

// ============ PairConfig Tests ============

func TestPairConfig_LP(t *testing.T) {
	p := PairConfig{Symbol: "WETH/USDC", UniswapLP: "0xaaa", SushiswapLP: "0xbbb"}

	if p.LP(DexUniswap) != "0xaaa" || p.LP(DexSushiswap) != "0xbbb" {
		t.Error("LP вернул неверный адрес")
	}
	if p.LP("curve") != "" {
		t.Error("LP для неизвестной площадки должен быть пустым")
	}
}

func TestDex_Valid(t *testing.T) {
	for _, d := range Dexes {
		if !d.Valid() {
			t.Errorf("%q должна быть валидной", d)
		}
	}
	if Dex("UNISWAP").Valid() {
		t.Error("регистр имеет значение")
	}
}

// ============ Decision Tests ============

func TestDecisionMessage_JSON(t *testing.T) {
	d := Decision{
		PairSymbol:    "WETH/USDC",
		Block:         19000001,
		BuyDex:        DexSushiswap,
		SellDex:       DexUniswap,
		ShouldExecute: false,
		Reason:        "rvClamp",
	}
	msg := NewDecisionMessage(d, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"type":"arb.decision"`, `"buyDex":"sushiswap"`, `"reason":"rvClamp"`, `"shouldExecute":false`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON не содержит %s: %s", want, s)
		}
	}
	if strings.Contains(s, `"id"`) {
		t.Errorf("нулевой id не должен сериализоваться: %s", s)
	}
}

// ============ PairConfig Tests ============

func TestPairConfig_Validate(t *testing.T) {
	valid := PairConfig{
		Symbol:      "WETH/USDC",
		UniswapLP:   "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc",
		SushiswapLP: "0x397FF1542f962076d0BFE58eA045FfA2d347ACa0",
		Decimals0:   18,
		Decimals1:   6,
		QuoteUSD:    1,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() = %v, ожидали nil", err)
	}
	if valid.LP(DexSushiswap) != valid.SushiswapLP || valid.LP(Dex("curve")) != "" {
		t.Error("LP() вернул неверный адрес")
	}

	tests := []struct {
		name   string
		mutate func(p *PairConfig)
	}{
		{"symbol without slash", func(p *PairConfig) { p.Symbol = "WETHUSDC" }},
		{"bad uniswap lp", func(p *PairConfig) { p.UniswapLP = "0x1234" }},
		{"bad sushiswap lp", func(p *PairConfig) { p.SushiswapLP = "" }},
		{"negative decimals", func(p *PairConfig) { p.Decimals0 = -1 }},
		{"decimals too large", func(p *PairConfig) { p.Decimals1 = MaxDecimals + 1 }},
		{"zero quote", func(p *PairConfig) { p.QuoteUSD = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidPair) {
				t.Errorf("Validate() = %v, ожидали ErrInvalidPair", err)
			}
		})
	}
}
