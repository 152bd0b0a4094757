package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetActiveCompetition(ctx context.Context) (*model.CompetitionConfig, error) {
	var c model.CompetitionConfig
	var feePct, minTrade, maxPos, capital string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, start_date, end_date,
		        fee_pct::TEXT, min_trade_value::TEXT, max_position_pct::TEXT, initial_capital::TEXT,
		        is_active
		 FROM competitions WHERE is_active LIMIT 1`).
		Scan(&c.ID, &c.Name, &c.StartDate, &c.EndDate,
			&feePct, &minTrade, &maxPos, &capital,
			&c.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveCompetition
	}
	if err != nil {
		return nil, fmt.Errorf("get active competition: %w", err)
	}

	c.FeePct, _ = decimal.NewFromString(feePct)
	c.MinTradeValue, _ = decimal.NewFromString(minTrade)
	c.MaxPositionPct, _ = decimal.NewFromString(maxPos)
	c.InitialCapital, _ = decimal.NewFromString(capital)
	return &c, nil
}

func (s *PostgresStore) SaveCompetition(ctx context.Context, c *model.CompetitionConfig) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if c.IsActive {
			if _, err := tx.Exec(ctx, `UPDATE competitions SET is_active = FALSE WHERE id <> $1`, c.ID); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO competitions (id, name, start_date, end_date, fee_pct, min_trade_value, max_position_pct, initial_capital, is_active)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)
			 ON CONFLICT (id) DO UPDATE SET
			   name = EXCLUDED.name, start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			   fee_pct = EXCLUDED.fee_pct, min_trade_value = EXCLUDED.min_trade_value,
			   max_position_pct = EXCLUDED.max_position_pct, initial_capital = EXCLUDED.initial_capital,
			   is_active = EXCLUDED.is_active`,
			c.ID, c.Name, c.StartDate, c.EndDate,
			c.FeePct.String(), c.MinTradeValue.String(), c.MaxPositionPct.String(), c.InitialCapital.String(),
			c.IsActive,
		)
		return err
	})
}

func (s *PostgresStore) CreateParticipant(ctx context.Context, p *model.Participant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participants (id, model_id, display_name, mode, initial_capital, cash_balance,
		        portfolio_value, total_trades, winning_trades, realized_pnl, total_pnl, pnl_pct,
		        rank, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10::NUMERIC,
		         $11::NUMERIC, $12::NUMERIC, $13, $14, $15, $16)`,
		p.ID, p.ModelID, p.DisplayName, string(p.Mode),
		p.InitialCapital.String(), p.CashBalance.String(), p.PortfolioValue.String(),
		p.TotalTrades, p.WinningTrades, p.RealizedPnL.String(),
		p.TotalPnL.String(), p.PnLPct.String(),
		p.Rank, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	return err
}

const participantColumns = `id, model_id, display_name, mode,
	initial_capital::TEXT, cash_balance::TEXT, portfolio_value::TEXT,
	total_trades, winning_trades, realized_pnl::TEXT, total_pnl::TEXT, pnl_pct::TEXT,
	rank, status, created_at, updated_at`

func (s *PostgresStore) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = $1`, id)
	p, err := scanParticipant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("participant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, f ParticipantFilter) ([]model.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants
		 WHERE ($1 = '' OR status = $1)
		   AND ($2 = '' OR model_id = $2)
		   AND ($3 = '' OR mode = $3)
		 ORDER BY id`,
		string(f.Status), f.ModelID, string(f.Mode))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}

func (s *PostgresStore) UpdateParticipantLedger(ctx context.Context, p *model.Participant) error {
	return updateLedger(ctx, s.pool, p)
}

func updateLedger(ctx context.Context, db execer, p *model.Participant) error {
	tag, err := db.Exec(ctx,
		`UPDATE participants
		 SET cash_balance = $2::NUMERIC, total_trades = $3, winning_trades = $4,
		     realized_pnl = $5::NUMERIC, updated_at = $6
		 WHERE id = $1`,
		p.ID, p.CashBalance.String(), p.TotalTrades, p.WinningTrades,
		p.RealizedPnL.String(), time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SetParticipantStatus(ctx context.Context, id string, status model.ParticipantStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participants SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateValuations writes all valuations in one transaction so a ranking
// pass is never observed half-applied.
func (s *PostgresStore) UpdateValuations(ctx context.Context, vals []model.Valuation) error {
	now := time.Now().UTC()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, v := range vals {
			tag, err := tx.Exec(ctx,
				`UPDATE participants
				 SET portfolio_value = $2::NUMERIC, total_pnl = $3::NUMERIC, pnl_pct = $4::NUMERIC,
				     rank = $5, updated_at = $6
				 WHERE id = $1`,
				v.ParticipantID, v.PortfolioValue.String(), v.TotalPnL.String(), v.PnLPct.String(),
				v.Rank, now,
			)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("participant %s: %w", v.ParticipantID, ErrNotFound)
			}
		}
		return nil
	})
}

const holdingColumns = `id, participant_id, stock_code, stock_name,
	quantity::TEXT, avg_buy_price::TEXT, current_price::TEXT, leverage::TEXT, stop_loss::TEXT,
	updated_at`

func (s *PostgresStore) GetHolding(ctx context.Context, participantID, stockCode string) (*model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE participant_id = $1 AND stock_code = $2`,
		participantID, stockCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	holdings, err := scanHoldings(rows)
	if err != nil {
		return nil, err
	}
	if len(holdings) == 0 {
		return nil, fmt.Errorf("holding %s/%s: %w", participantID, stockCode, ErrNotFound)
	}
	return &holdings[0], nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, participantID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE participant_id = $1 ORDER BY stock_code`,
		participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHoldings(rows)
}

func (s *PostgresStore) UpsertHolding(ctx context.Context, h *model.Holding) error {
	return upsertHolding(ctx, s.pool, h)
}

func upsertHolding(ctx context.Context, db execer, h *model.Holding) error {
	if h.Quantity.LessThanOrEqual(model.QuantityEpsilon) {
		return fmt.Errorf("refusing to store empty holding %s/%s", h.ParticipantID, h.StockCode)
	}
	_, err := db.Exec(ctx,
		`INSERT INTO holdings (id, participant_id, stock_code, stock_name, quantity, avg_buy_price,
		        current_price, leverage, stop_loss, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)
		 ON CONFLICT (participant_id, stock_code) DO UPDATE SET
		   stock_name = EXCLUDED.stock_name, quantity = EXCLUDED.quantity,
		   avg_buy_price = EXCLUDED.avg_buy_price, current_price = EXCLUDED.current_price,
		   leverage = EXCLUDED.leverage, stop_loss = EXCLUDED.stop_loss,
		   updated_at = EXCLUDED.updated_at`,
		h.ID, h.ParticipantID, h.StockCode, h.StockName,
		h.Quantity.String(), h.AvgBuyPrice.String(), h.CurrentPrice.String(),
		h.Leverage.String(), h.StopLoss.String(), h.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) DeleteHolding(ctx context.Context, participantID, stockCode string) error {
	return deleteHolding(ctx, s.pool, participantID, stockCode)
}

func deleteHolding(ctx context.Context, db execer, participantID, stockCode string) error {
	_, err := db.Exec(ctx,
		`DELETE FROM holdings WHERE participant_id = $1 AND stock_code = $2`,
		participantID, stockCode)
	return err
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return insertTrade(ctx, s.pool, t)
}

func insertTrade(ctx context.Context, db execer, t *model.Trade) error {
	var realized *string
	if t.RealizedPnL != nil {
		v := t.RealizedPnL.String()
		realized = &v
	}
	_, err := db.Exec(ctx,
		`INSERT INTO trades (id, participant_id, session_id, stock_code, stock_name, action,
		        quantity, price, fees, realized_pnl, reasoning, mode, leverage, stop_loss, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11, $12, $13::NUMERIC, $14::NUMERIC, $15)`,
		t.ID, t.ParticipantID, t.SessionID, t.StockCode, t.StockName, string(t.Action),
		t.Quantity.String(), t.Price.String(), t.Fees.String(), realized,
		t.Reasoning, string(t.Mode), t.Leverage.String(), t.StopLoss.String(), t.ExecutedAt,
	)
	return err
}

// ApplyFill runs the holding change, the trade insert and the ledger update
// in one transaction.
func (s *PostgresStore) ApplyFill(ctx context.Context, f *model.Fill) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if f.Holding != nil {
			if err := upsertHolding(ctx, tx, f.Holding); err != nil {
				return fmt.Errorf("save holding: %w", err)
			}
		} else if err := deleteHolding(ctx, tx, f.Participant.ID, f.Trade.StockCode); err != nil {
			return fmt.Errorf("delete holding: %w", err)
		}
		if err := insertTrade(ctx, tx, &f.Trade); err != nil {
			return fmt.Errorf("record trade: %w", err)
		}
		if err := updateLedger(ctx, tx, &f.Participant); err != nil {
			return fmt.Errorf("update ledger: %w", err)
		}
		return nil
	})
}

const tradeColumns = `id, participant_id, session_id, stock_code, stock_name, action,
	quantity::TEXT, price::TEXT, fees::TEXT, realized_pnl::TEXT, reasoning, mode,
	leverage::TEXT, stop_loss::TEXT, executed_at`

func (s *PostgresStore) ListTrades(ctx context.Context, participantID string, limit int) ([]model.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE participant_id = $1 ORDER BY executed_at DESC, id DESC`
	args := []any{participantID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListTradesSince(ctx context.Context, participantID string, since time.Time) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE participant_id = $1 AND executed_at >= $2 ORDER BY executed_at`,
		participantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) InsertDecision(ctx context.Context, d *model.AIDecision) error {
	stocks := d.AnalyzedStocks
	if stocks == nil {
		stocks = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ai_decisions (id, participant_id, session_id, model_id, mode, raw_response,
		        parsed, sentiment, analyzed_stocks, tokens_used, latency_ms, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, d.ParticipantID, d.SessionID, d.ModelID, string(d.Mode), d.RawResponse,
		d.Parsed, d.Sentiment, stocks, d.TokensUsed, d.LatencyMs, d.Error, d.CreatedAt,
	)
	return err
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

// pgxRows reads multi-row results.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanParticipant(row pgxRow) (*model.Participant, error) {
	var p model.Participant
	var mode, status string
	var capital, cash, value, realized, total, pct string

	if err := row.Scan(&p.ID, &p.ModelID, &p.DisplayName, &mode,
		&capital, &cash, &value,
		&p.TotalTrades, &p.WinningTrades, &realized, &total, &pct,
		&p.Rank, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	p.Mode = model.Mode(mode)
	p.Status = model.ParticipantStatus(status)
	p.InitialCapital, _ = decimal.NewFromString(capital)
	p.CashBalance, _ = decimal.NewFromString(cash)
	p.PortfolioValue, _ = decimal.NewFromString(value)
	p.RealizedPnL, _ = decimal.NewFromString(realized)
	p.TotalPnL, _ = decimal.NewFromString(total)
	p.PnLPct, _ = decimal.NewFromString(pct)
	return &p, nil
}

func scanHoldings(rows pgxRows) ([]model.Holding, error) {
	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var qty, avg, cur, lev, stop string

		if err := rows.Scan(&h.ID, &h.ParticipantID, &h.StockCode, &h.StockName,
			&qty, &avg, &cur, &lev, &stop, &h.UpdatedAt); err != nil {
			return nil, err
		}

		h.Quantity, _ = decimal.NewFromString(qty)
		h.AvgBuyPrice, _ = decimal.NewFromString(avg)
		h.CurrentPrice, _ = decimal.NewFromString(cur)
		h.Leverage, _ = decimal.NewFromString(lev)
		h.StopLoss, _ = decimal.NewFromString(stop)

		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var action, mode string
		var qty, price, fees, lev, stop string
		var realized *string

		if err := rows.Scan(&t.ID, &t.ParticipantID, &t.SessionID, &t.StockCode, &t.StockName, &action,
			&qty, &price, &fees, &realized, &t.Reasoning, &mode,
			&lev, &stop, &t.ExecutedAt); err != nil {
			return nil, err
		}

		t.Action = model.Action(action)
		t.Mode = model.Mode(mode)
		t.Quantity, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		t.Fees, _ = decimal.NewFromString(fees)
		t.Leverage, _ = decimal.NewFromString(lev)
		t.StopLoss, _ = decimal.NewFromString(stop)
		if realized != nil {
			r, _ := decimal.NewFromString(*realized)
			t.RealizedPnL = &r
		}

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
