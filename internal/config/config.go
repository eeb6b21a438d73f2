package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"dexarb/internal/models"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server     ServerConfig
	WebSocket  WebSocketConfig
	Store      StoreConfig
	Breaker    BreakerConfig
	Engine     EngineConfig
	Guardrails GuardrailsConfig
	Chain      ChainConfig
	Database   DatabaseConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig - настройки HTTP сервера (API + /ws + /metrics)
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr возвращает host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WebSocketConfig - настройки Broadcaster
type WebSocketConfig struct {
	Path           string
	AllowedOrigins []string // пусто = любые
	BucketCapacity int      // токенов в ведре клиента
	RefillPerSec   int      // пополнение ведра в секунду
	QueueCap       int      // очередь исходящих сообщений клиента
	PingInterval   time.Duration
	WriteWait      time.Duration
}

// StoreConfig - настройки OpportunityStore
type StoreConfig struct {
	TTL      time.Duration
	Capacity int
}

// BreakerConfig - настройки circuit breaker для RPC
type BreakerConfig struct {
	WindowSize         int
	ErrorRateThreshold float64
	LatencyThreshold   time.Duration
	Cooldown           time.Duration
}

// EngineConfig - параметры конвейера решений
type EngineConfig struct {
	Shards           int     // воркеров (одна пара всегда в одном шарде)
	ShardQueueSize   int     // буфер событий на шард
	ThresholdBps     float64 // минимальный спред для оценки сделки
	MaxSlippageBps   int64   // ограничение price impact при подборе размера
	FlashLoanEnabled bool    // передавать SafeLoanSize в стратегию
	FlashFeeBps      int64   // комиссия flash loan
	MevBufferBps     int64   // запас на MEV в profit guard
	GasCostUSD       float64 // оценка газа сделки
}

// GuardrailsConfig - пороги guard'ов (поля совпадают с bot.GuardrailConfig)
type GuardrailsConfig struct {
	MinProfitUSD         float64
	SlippageToleranceBps float64
	MaxGasUSD            float64
	MaxRv                float64
}

// ChainConfig - источник резервов
type ChainConfig struct {
	RPCURL       string // пусто = поллер выключен
	PollInterval time.Duration
	CallTimeout  time.Duration
	Pairs        []models.PairConfig
}

// DatabaseConfig - журнал решений
type DatabaseConfig struct {
	URL             string // пусто = журнал выключен
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Retention       time.Duration // 0 = решения не удаляются
}

// SecurityConfig - bearer-токены (открытый текст или bcrypt-хеш)
type SecurityConfig struct {
	WSAuthToken  string
	APIAuthToken string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
//
// Если рядом лежит .env, он подгружается первым; уже заданные
// переменные окружения не перезаписываются.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	pairs, err := ParsePairs(getEnv("PAIRS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		WebSocket: WebSocketConfig{
			Path:           getEnv("WS_PATH", "/ws"),
			AllowedOrigins: getEnvAsList("WS_ALLOWED_ORIGINS"),
			BucketCapacity: getEnvAsInt("WS_BUCKET_CAPACITY", 50),
			RefillPerSec:   getEnvAsInt("WS_REFILL_PER_SEC", 50),
			QueueCap:       getEnvAsInt("WS_QUEUE_CAP", 100),
			PingInterval:   getEnvAsDuration("WS_PING_INTERVAL", 30*time.Second),
			WriteWait:      getEnvAsDuration("WS_WRITE_WAIT", 10*time.Second),
		},
		Store: StoreConfig{
			TTL:      getEnvAsDuration("OPPORTUNITY_TTL", 60*time.Second),
			Capacity: getEnvAsInt("OPPORTUNITY_CAPACITY", 100),
		},
		Breaker: BreakerConfig{
			WindowSize:         getEnvAsInt("BREAKER_WINDOW_SIZE", 20),
			ErrorRateThreshold: getEnvAsFloat("BREAKER_ERROR_RATE", 0.5),
			LatencyThreshold:   getEnvAsDuration("BREAKER_LATENCY_THRESHOLD", time.Second),
			Cooldown:           getEnvAsDuration("BREAKER_COOLDOWN", 5*time.Second),
		},
		Engine: EngineConfig{
			Shards:           getEnvAsInt("ENGINE_SHARDS", 4),
			ShardQueueSize:   getEnvAsInt("ENGINE_SHARD_QUEUE", 256),
			ThresholdBps:     getEnvAsFloat("SPREAD_THRESHOLD_BPS", 10),
			MaxSlippageBps:   int64(getEnvAsInt("MAX_SLIPPAGE_BPS", 100)),
			FlashLoanEnabled: getEnvAsBool("FEATURE_FLASHLOAN", false),
			FlashFeeBps:      int64(getEnvAsInt("FLASH_FEE_BPS", 9)),
			MevBufferBps:     int64(getEnvAsInt("MEV_BUFFER_BPS", 0)),
			GasCostUSD:       getEnvAsFloat("GAS_COST_USD", 5),
		},
		Guardrails: GuardrailsConfig{
			MinProfitUSD:         getEnvAsFloat("GUARD_MIN_PROFIT_USD", 0),
			SlippageToleranceBps: getEnvAsFloat("GUARD_SLIPPAGE_TOLERANCE_BPS", 0),
			MaxGasUSD:            getEnvAsFloat("GUARD_MAX_GAS_USD", math.Inf(1)),
			MaxRv:                getEnvAsFloat("GUARD_MAX_RV", math.Inf(1)),
		},
		Chain: ChainConfig{
			RPCURL:       getEnv("RPC_URL", ""),
			PollInterval: getEnvAsDuration("POLL_INTERVAL", 12*time.Second),
			CallTimeout:  getEnvAsDuration("RPC_CALL_TIMEOUT", 5*time.Second),
			Pairs:        pairs,
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			Retention:       getEnvAsDuration("DB_RETENTION", 0),
		},
		Security: SecurityConfig{
			WSAuthToken:  getEnv("WS_AUTH_TOKEN", ""),
			APIAuthToken: getEnv("API_AUTH_TOKEN", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// без токена любой клиент получает поток решений
	if c.Security.WSAuthToken == "" {
		return fmt.Errorf("WS_AUTH_TOKEN is required for websocket admission")
	}
	if len(c.Security.WSAuthToken) < 16 {
		return fmt.Errorf("WS_AUTH_TOKEN must be at least 16 characters, got %d", len(c.Security.WSAuthToken))
	}
	if c.Security.APIAuthToken != "" && len(c.Security.APIAuthToken) < 16 {
		return fmt.Errorf("API_AUTH_TOKEN must be at least 16 characters, got %d", len(c.Security.APIAuthToken))
	}
	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		return fmt.Errorf("WS_PATH must start with '/', got %q", c.WebSocket.Path)
	}

	// Broadcaster
	if c.WebSocket.BucketCapacity < 1 {
		return fmt.Errorf("WS_BUCKET_CAPACITY must be positive, got %d", c.WebSocket.BucketCapacity)
	}
	if c.WebSocket.RefillPerSec < 0 {
		return fmt.Errorf("WS_REFILL_PER_SEC cannot be negative, got %d", c.WebSocket.RefillPerSec)
	}
	if c.WebSocket.QueueCap < 1 {
		return fmt.Errorf("WS_QUEUE_CAP must be positive, got %d", c.WebSocket.QueueCap)
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WS_PING_INTERVAL must be positive, got %v", c.WebSocket.PingInterval)
	}

	// OpportunityStore
	if c.Store.TTL <= 0 {
		return fmt.Errorf("OPPORTUNITY_TTL must be positive, got %v", c.Store.TTL)
	}
	if c.Store.Capacity < 1 {
		return fmt.Errorf("OPPORTUNITY_CAPACITY must be positive, got %d", c.Store.Capacity)
	}

	// Breaker
	if c.Breaker.WindowSize < 1 {
		return fmt.Errorf("BREAKER_WINDOW_SIZE must be positive, got %d", c.Breaker.WindowSize)
	}
	if c.Breaker.ErrorRateThreshold <= 0 || c.Breaker.ErrorRateThreshold > 1 {
		return fmt.Errorf("BREAKER_ERROR_RATE must be in (0, 1], got %v", c.Breaker.ErrorRateThreshold)
	}
	if c.Breaker.LatencyThreshold <= 0 || c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("BREAKER_LATENCY_THRESHOLD and BREAKER_COOLDOWN must be positive")
	}

	// Engine
	if c.Engine.Shards < 1 || c.Engine.Shards > 64 {
		return fmt.Errorf("ENGINE_SHARDS must be between 1 and 64, got %d", c.Engine.Shards)
	}
	if c.Engine.ShardQueueSize < 1 {
		return fmt.Errorf("ENGINE_SHARD_QUEUE must be positive, got %d", c.Engine.ShardQueueSize)
	}
	if c.Engine.MaxSlippageBps < 0 || c.Engine.MaxSlippageBps > 10000 {
		return fmt.Errorf("MAX_SLIPPAGE_BPS must be between 0 and 10000, got %d", c.Engine.MaxSlippageBps)
	}
	if c.Engine.FlashFeeBps < 0 || c.Engine.MevBufferBps < 0 {
		return fmt.Errorf("FLASH_FEE_BPS and MEV_BUFFER_BPS cannot be negative")
	}
	if c.Engine.GasCostUSD < 0 {
		return fmt.Errorf("GAS_COST_USD cannot be negative, got %v", c.Engine.GasCostUSD)
	}

	// Database
	if c.Database.Retention < 0 {
		return fmt.Errorf("DB_RETENTION cannot be negative, got %v", c.Database.Retention)
	}

	// Chain
	if c.Chain.RPCURL != "" {
		if c.Chain.PollInterval <= 0 {
			return fmt.Errorf("POLL_INTERVAL must be positive, got %v", c.Chain.PollInterval)
		}
		if len(c.Chain.Pairs) == 0 {
			return fmt.Errorf("PAIRS is required when RPC_URL is set")
		}
	}

	return nil
}

// ParsePairs разбирает PAIRS: "SYMBOL,uniLP,sushiLP,dec0,dec1[,quoteUSD];..."
//
// quoteUSD по умолчанию 1 (token1 - стейблкоин).
func ParsePairs(raw string) ([]models.PairConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var pairs []models.PairConfig
	seen := make(map[string]bool)
	for i, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ",")
		if len(parts) != 5 && len(parts) != 6 {
			return nil, fmt.Errorf("PAIRS entry %d: expected 5 or 6 fields, got %d", i, len(parts))
		}
		for j := range parts {
			parts[j] = strings.TrimSpace(parts[j])
		}

		p := models.PairConfig{
			Symbol:      parts[0],
			UniswapLP:   parts[1],
			SushiswapLP: parts[2],
			QuoteUSD:    1,
		}
		if p.Symbol == "" || !strings.Contains(p.Symbol, "/") {
			return nil, fmt.Errorf("PAIRS entry %d: symbol %q must look like BASE/QUOTE", i, p.Symbol)
		}
		if seen[p.Symbol] {
			return nil, fmt.Errorf("PAIRS entry %d: duplicate symbol %q", i, p.Symbol)
		}
		seen[p.Symbol] = true
		if !models.IsLPAddress(p.UniswapLP) || !models.IsLPAddress(p.SushiswapLP) {
			return nil, fmt.Errorf("PAIRS entry %d: invalid LP address", i)
		}

		var err error
		if p.Decimals0, err = parseDecimals(parts[3]); err != nil {
			return nil, fmt.Errorf("PAIRS entry %d: decimals0: %w", i, err)
		}
		if p.Decimals1, err = parseDecimals(parts[4]); err != nil {
			return nil, fmt.Errorf("PAIRS entry %d: decimals1: %w", i, err)
		}
		if len(parts) == 6 {
			p.QuoteUSD, err = strconv.ParseFloat(parts[5], 64)
			if err != nil || p.QuoteUSD <= 0 {
				return nil, fmt.Errorf("PAIRS entry %d: quoteUSD must be a positive number", i)
			}
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("PAIRS entry %d: %w", i, err)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func parseDecimals(s string) (int, error) {
	d, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if d < 0 || d > models.MaxDecimals {
		return 0, fmt.Errorf("out of range: %d", d)
	}
	return d, nil
}

// Enabled - задан ли DATABASE_URL
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// URLWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) URLWithoutPassword() string {
	u, err := url.Parse(d.URL)
	if err != nil || u.User == nil {
		return d.URL
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList - список через запятую, пустые элементы отбрасываются
func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
