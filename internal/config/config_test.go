package config

import (
	"math"
	"strings"
	"testing"
	"time"
)

const (
	testToken = "0123456789abcdef0123"
	lpA       = "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"
	lpB       = "0x397FF1542f962076d0BFE58eA045FfA2d347ACa0"
)

// setRequired выставляет минимально необходимое окружение
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("WS_AUTH_TOKEN", testToken)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Server.Addr() = %q", cfg.Server.Addr())
	}
	if cfg.WebSocket.Path != "/ws" {
		t.Errorf("WebSocket.Path = %q, want /ws", cfg.WebSocket.Path)
	}
	if cfg.WebSocket.BucketCapacity != 50 || cfg.WebSocket.RefillPerSec != 50 || cfg.WebSocket.QueueCap != 100 {
		t.Errorf("WebSocket bucket = %d/%d/%d, want 50/50/100",
			cfg.WebSocket.BucketCapacity, cfg.WebSocket.RefillPerSec, cfg.WebSocket.QueueCap)
	}
	if cfg.WebSocket.PingInterval != 30*time.Second {
		t.Errorf("WebSocket.PingInterval = %v, want 30s", cfg.WebSocket.PingInterval)
	}
	if cfg.Store.TTL != 60*time.Second || cfg.Store.Capacity != 100 {
		t.Errorf("Store = %v/%d, want 60s/100", cfg.Store.TTL, cfg.Store.Capacity)
	}
	if cfg.Breaker.WindowSize != 20 || cfg.Breaker.ErrorRateThreshold != 0.5 {
		t.Errorf("Breaker = %d/%v, want 20/0.5", cfg.Breaker.WindowSize, cfg.Breaker.ErrorRateThreshold)
	}
	if cfg.Breaker.LatencyThreshold != time.Second || cfg.Breaker.Cooldown != 5*time.Second {
		t.Errorf("Breaker timings = %v/%v, want 1s/5s", cfg.Breaker.LatencyThreshold, cfg.Breaker.Cooldown)
	}
	if cfg.Engine.FlashLoanEnabled {
		t.Error("FlashLoanEnabled should default to false")
	}
	if !math.IsInf(cfg.Guardrails.MaxGasUSD, 1) || !math.IsInf(cfg.Guardrails.MaxRv, 1) {
		t.Errorf("Guardrails max = %v/%v, want +Inf", cfg.Guardrails.MaxGasUSD, cfg.Guardrails.MaxRv)
	}
	if cfg.Guardrails.MinProfitUSD != 0 || cfg.Guardrails.SlippageToleranceBps != 0 {
		t.Errorf("Guardrails min = %v/%v, want 0/0", cfg.Guardrails.MinProfitUSD, cfg.Guardrails.SlippageToleranceBps)
	}
	if cfg.Database.Enabled() {
		t.Error("Database should be disabled without DATABASE_URL")
	}
	if len(cfg.Chain.Pairs) != 0 {
		t.Errorf("Chain.Pairs = %v, want empty", cfg.Chain.Pairs)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("WS_BUCKET_CAPACITY", "1")
	t.Setenv("WS_REFILL_PER_SEC", "0")
	t.Setenv("WS_QUEUE_CAP", "2")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("OPPORTUNITY_TTL", "1s")
	t.Setenv("FEATURE_FLASHLOAN", "true")
	t.Setenv("GUARD_MAX_RV", "0.02")
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("PAIRS", "WETH/USDC,"+lpA+","+lpB+",18,6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.WebSocket.BucketCapacity != 1 || cfg.WebSocket.RefillPerSec != 0 || cfg.WebSocket.QueueCap != 2 {
		t.Errorf("WebSocket bucket = %d/%d/%d, want 1/0/2",
			cfg.WebSocket.BucketCapacity, cfg.WebSocket.RefillPerSec, cfg.WebSocket.QueueCap)
	}
	if got := cfg.WebSocket.AllowedOrigins; len(got) != 2 || got[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", got)
	}
	if cfg.Store.TTL != time.Second {
		t.Errorf("Store.TTL = %v, want 1s", cfg.Store.TTL)
	}
	if !cfg.Engine.FlashLoanEnabled {
		t.Error("FlashLoanEnabled should be true")
	}
	if cfg.Guardrails.MaxRv != 0.02 {
		t.Errorf("MaxRv = %v, want 0.02", cfg.Guardrails.MaxRv)
	}
	if len(cfg.Chain.Pairs) != 1 || cfg.Chain.Pairs[0].Decimals1 != 6 {
		t.Errorf("Chain.Pairs = %+v", cfg.Chain.Pairs)
	}
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("OPPORTUNITY_TTL", "soon")
	t.Setenv("FEATURE_FLASHLOAN", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Store.TTL != 60*time.Second {
		t.Errorf("Store.TTL = %v, want default 60s", cfg.Store.TTL)
	}
	if cfg.Engine.FlashLoanEnabled {
		t.Error("FlashLoanEnabled should fall back to false")
	}
}

func TestLoad_SecurityValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing ws token", map[string]string{}, "WS_AUTH_TOKEN is required"},
		{"short ws token", map[string]string{"WS_AUTH_TOKEN": "short"}, "at least 16"},
		{"short api token", map[string]string{"WS_AUTH_TOKEN": testToken, "API_AUTH_TOKEN": "short"}, "API_AUTH_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WS_AUTH_TOKEN", "")
			t.Setenv("API_AUTH_TOKEN", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RangeValidation(t *testing.T) {
	tests := []struct {
		key, value, wantErr string
	}{
		{"SERVER_PORT", "70000", "SERVER_PORT"},
		{"WS_PATH", "ws", "WS_PATH"},
		{"WS_BUCKET_CAPACITY", "0", "WS_BUCKET_CAPACITY"},
		{"WS_REFILL_PER_SEC", "-1", "WS_REFILL_PER_SEC"},
		{"WS_QUEUE_CAP", "0", "WS_QUEUE_CAP"},
		{"OPPORTUNITY_CAPACITY", "0", "OPPORTUNITY_CAPACITY"},
		{"BREAKER_ERROR_RATE", "1.5", "BREAKER_ERROR_RATE"},
		{"ENGINE_SHARDS", "0", "ENGINE_SHARDS"},
		{"MAX_SLIPPAGE_BPS", "20000", "MAX_SLIPPAGE_BPS"},
		{"GAS_COST_USD", "-1", "GAS_COST_USD"},
		{"DB_RETENTION", "-1h", "DB_RETENTION"},
		{"RPC_URL", "http://localhost:8545", "PAIRS is required"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() with %s=%s error = %v, want containing %q", tt.key, tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestParsePairs(t *testing.T) {
	pairs, err := ParsePairs(" WETH/USDC," + lpA + "," + lpB + ",18,6 ; WBTC/WETH," + lpB + "," + lpA + ",8,18,2500.5;")
	if err != nil {
		t.Fatalf("ParsePairs() error = %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("len(pairs) = %d, want 2", len(pairs))
	}

	if pairs[0].Symbol != "WETH/USDC" || pairs[0].UniswapLP != lpA || pairs[0].SushiswapLP != lpB {
		t.Errorf("pairs[0] = %+v", pairs[0])
	}
	if pairs[0].Decimals0 != 18 || pairs[0].Decimals1 != 6 || pairs[0].QuoteUSD != 1 {
		t.Errorf("pairs[0] decimals/quote = %d/%d/%v", pairs[0].Decimals0, pairs[0].Decimals1, pairs[0].QuoteUSD)
	}
	if pairs[1].QuoteUSD != 2500.5 {
		t.Errorf("pairs[1].QuoteUSD = %v, want 2500.5", pairs[1].QuoteUSD)
	}

	empty, err := ParsePairs("  ")
	if err != nil || empty != nil {
		t.Errorf("ParsePairs(blank) = %v, %v", empty, err)
	}
}

func TestParsePairs_Invalid(t *testing.T) {
	tests := map[string]string{
		"too few fields": "WETH/USDC," + lpA + "," + lpB + ",18",
		"bad symbol":     "WETHUSDC," + lpA + "," + lpB + ",18,6",
		"bad address":    "WETH/USDC,0x123," + lpB + ",18,6",
		"bad decimals":   "WETH/USDC," + lpA + "," + lpB + ",x,6",
		"decimals range": "WETH/USDC," + lpA + "," + lpB + ",18,99",
		"negative quote": "WETH/USDC," + lpA + "," + lpB + ",18,6,-1",
		"duplicate":      "WETH/USDC," + lpA + "," + lpB + ",18,6;WETH/USDC," + lpA + "," + lpB + ",18,6",
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePairs(raw); err == nil {
				t.Errorf("ParsePairs(%q) expected error", raw)
			}
		})
	}
}

func TestDatabaseConfig_URLWithoutPassword(t *testing.T) {
	d := DatabaseConfig{URL: "postgres://arb:secret@db:5432/arb?sslmode=disable"}
	got := d.URLWithoutPassword()
	if strings.Contains(got, "secret") {
		t.Errorf("URLWithoutPassword() leaked password: %s", got)
	}
	if !strings.Contains(got, "arb:xxxxx@db:5432") {
		t.Errorf("URLWithoutPassword() = %s", got)
	}
	if !d.Enabled() {
		t.Error("Enabled() = false with URL set")
	}

	noPass := DatabaseConfig{URL: "postgres://db:5432/arb"}
	if noPass.URLWithoutPassword() != noPass.URL {
		t.Errorf("URLWithoutPassword() changed URL without credentials: %s", noPass.URLWithoutPassword())
	}
}
