package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"dexarb/internal/config"
	"dexarb/internal/models"
	"dexarb/pkg/retry"
)

// Ошибки репозитория решений
var (
	ErrDecisionNotFound = errors.New("decision not found")
	ErrNilDecision      = errors.New("decision is nil")
)

// Лимиты выборки GetRecent
const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// decisionsSchema - журнал решений
const decisionsSchema = `
CREATE TABLE IF NOT EXISTS arb_decisions (
	id                   BIGSERIAL PRIMARY KEY,
	pair_symbol          TEXT             NOT NULL,
	block                BIGINT           NOT NULL,
	buy_dex              TEXT             NOT NULL,
	sell_dex             TEXT             NOT NULL,
	spread_bps           DOUBLE PRECISION NOT NULL,
	estimated_profit_usd DOUBLE PRECISION NOT NULL,
	slippage_bps         DOUBLE PRECISION NOT NULL,
	gas_cost_usd         DOUBLE PRECISION NOT NULL,
	rv3_block            DOUBLE PRECISION NOT NULL,
	safe_loan_size       TEXT             NOT NULL DEFAULT '',
	profit_guard_passed  BOOLEAN          NOT NULL,
	should_execute       BOOLEAN          NOT NULL,
	reason               TEXT             NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_arb_decisions_created_at ON arb_decisions (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_arb_decisions_pair ON arb_decisions (pair_symbol, created_at DESC);
`

const decisionColumns = `id, pair_symbol, block, buy_dex, sell_dex, spread_bps, estimated_profit_usd,
		slippage_bps, gas_cost_usd, rv3_block, safe_loan_size, profit_guard_passed,
		should_execute, reason, created_at`

// Open подключается к Postgres с повторами и настраивает пул соединений
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	err = retry.Do(ctx, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}, retry.DialConfig())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// DecisionRepository - работа с таблицей arb_decisions
type DecisionRepository struct {
	db *sql.DB
}

// NewDecisionRepository создает новый экземпляр репозитория
func NewDecisionRepository(db *sql.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Migrate создает таблицу и индексы, если их нет
func (r *DecisionRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, decisionsSchema); err != nil {
		return fmt.Errorf("migrate arb_decisions: %w", err)
	}
	return nil
}

// Create сохраняет решение и заполняет ID
//
// Пустой CreatedAt заменяется текущим временем.
func (r *DecisionRepository) Create(ctx context.Context, d *models.Decision) error {
	if d == nil {
		return ErrNilDecision
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO arb_decisions (
			pair_symbol, block, buy_dex, sell_dex, spread_bps, estimated_profit_usd,
			slippage_bps, gas_cost_usd, rv3_block, safe_loan_size, profit_guard_passed,
			should_execute, reason, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		d.PairSymbol,
		int64(d.Block),
		string(d.BuyDex),
		string(d.SellDex),
		d.SpreadBps,
		d.EstimatedProfitUSD,
		d.SlippageBps,
		d.GasCostUSD,
		d.Rv3Block,
		d.SafeLoanSize,
		d.ProfitGuardPassed,
		d.ShouldExecute,
		d.Reason,
		d.CreatedAt,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// GetRecent возвращает последние решения, новые первыми
//
// symbol != "" ограничивает выборку одной парой. limit <= 0 заменяется
// DefaultRecentLimit, больше MaxRecentLimit обрезается.
func (r *DecisionRepository) GetRecent(ctx context.Context, symbol string, limit int) ([]*models.Decision, error) {
	limit = clampLimit(limit)

	var (
		rows *sql.Rows
		err  error
	)
	if symbol == "" {
		rows, err = r.db.QueryContext(ctx, `
		SELECT `+decisionColumns+`
		FROM arb_decisions
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
		SELECT `+decisionColumns+`
		FROM arb_decisions
		WHERE pair_symbol = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, symbol, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	decisions := make([]*models.Decision, 0, limit)
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return decisions, nil
}

// GetByID возвращает решение по ID
func (r *DecisionRepository) GetByID(ctx context.Context, id int64) (*models.Decision, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+decisionColumns+`
		FROM arb_decisions
		WHERE id = $1`, id)

	d, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDecisionNotFound
		}
		return nil, err
	}
	return d, nil
}

// DeleteOlderThan удаляет решения старше cutoff и возвращает количество
func (r *DecisionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM arb_decisions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row rowScanner) (*models.Decision, error) {
	d := &models.Decision{}
	var (
		block   int64
		buyDex  string
		sellDex string
	)
	err := row.Scan(
		&d.ID,
		&d.PairSymbol,
		&block,
		&buyDex,
		&sellDex,
		&d.SpreadBps,
		&d.EstimatedProfitUSD,
		&d.SlippageBps,
		&d.GasCostUSD,
		&d.Rv3Block,
		&d.SafeLoanSize,
		&d.ProfitGuardPassed,
		&d.ShouldExecute,
		&d.Reason,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Block = uint64(block)
	d.BuyDex = models.Dex(buyDex)
	d.SellDex = models.Dex(sellDex)
	return d, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}
