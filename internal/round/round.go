// Package round implements the Round Manager (C6): creating, activating,
// and completing rounds on the fixed 5-minute grid within the configured
// daily open hours.
//
// Grounded on NevzatMmc-updown's MarketService/ResolutionService pattern of
// status-predicate-guarded UPDATEs (GetExpiredUnresolved, bulk status
// transitions) generalized from one perpetual market to many discrete,
// independently scheduled rounds.
package round

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/cardround/rgs/internal/clock"
	"github.com/cardround/rgs/internal/domain"
	"github.com/cardround/rgs/internal/settings"
)

// Manager implements the Round Manager (C6).
type Manager struct {
	db   *sqlx.DB
	clk  clock.Clock
	sett *settings.Store
}

// New builds a Manager.
func New(db *sqlx.DB, clk clock.Clock, sett *settings.Store) *Manager {
	return &Manager{db: db, clk: clk, sett: sett}
}

// CreateNextRound computes the next 5-minute IST boundary and inserts a
// round for it, unless the boundary falls outside the daily open window or
// a round with that id already exists. If the boundary is within one
// minute of now, the round is inserted directly as active.
func (m *Manager) CreateNextRound(ctx context.Context) (*domain.Round, error) {
	now := m.clk.NowUTC()
	next := clock.NextBoundary(now)

	within, err := m.sett.WithinDailyWindow(next)
	if err != nil {
		return nil, fmt.Errorf("round.CreateNextRound: window check: %w", err)
	}
	if !within {
		return nil, nil
	}

	gameID := clock.GameID(next)
	endTime := next.Add(clock.RoundDuration)

	status := domain.RoundStatusPending
	if next.Sub(now) <= time.Minute {
		status = domain.RoundStatusActive
	}

	multiplier, err := m.sett.GameMultiplier()
	if err != nil {
		return nil, fmt.Errorf("round.CreateNextRound: multiplier: %w", err)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("round.CreateNextRound: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.GetContext(ctx, &id, `
		INSERT INTO rounds (game_id, start_time, end_time, status, payout_multiplier, settlement_status)
		VALUES ($1, $2, $3, $4, $5, 'not_settled')
		ON CONFLICT (game_id) DO NOTHING
		RETURNING id`,
		gameID, next, endTime, status, decimal.NewFromFloat(multiplier))
	if errors.Is(err, sql.ErrNoRows) {
		// Round already exists; no-op.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("round.CreateNextRound: insert round: %w", err)
	}

	for card := 1; card <= 12; card++ {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO round_card_totals (game_id, card_number, total_bet_amount)
			VALUES ($1, $2, 0)`, gameID, card); err != nil {
			return nil, fmt.Errorf("round.CreateNextRound: insert card totals: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("round.CreateNextRound: commit: %w", err)
	}

	return &domain.Round{
		ID:               id,
		GameID:           gameID,
		StartTime:        next,
		EndTime:          endTime,
		Status:           status,
		PayoutMultiplier: decimal.NewFromFloat(multiplier),
		SettlementStatus: domain.SettlementNotSettled,
	}, nil
}

// ActivatePending flips every pending round whose start_time has passed to
// active. The UPDATE predicate on the prior status prevents double
// transitions if two callers race.
func (m *Manager) ActivatePending(ctx context.Context) (int64, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE rounds SET status = 'active'
		WHERE status = 'pending' AND start_time <= now()`)
	if err != nil {
		return 0, fmt.Errorf("round.ActivatePending: %w", err)
	}
	return res.RowsAffected()
}

// CompleteActive flips every active round whose end_time has passed to
// completed.
func (m *Manager) CompleteActive(ctx context.Context) (int64, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE rounds SET status = 'completed'
		WHERE status = 'active' AND end_time <= now()`)
	if err != nil {
		return 0, fmt.Errorf("round.CompleteActive: %w", err)
	}
	return res.RowsAffected()
}

// GetByGameID loads a round by its game_id.
func (m *Manager) GetByGameID(ctx context.Context, gameID string) (*domain.Round, error) {
	var r domain.Round
	err := m.db.GetContext(ctx, &r, `
		SELECT id, game_id, start_time, end_time, status, winning_card, payout_multiplier,
		       settlement_status, settlement_started_at, settlement_completed_at, settlement_error, created_at
		FROM rounds WHERE game_id = $1`, gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("round.GetByGameID: %w", err)
	}
	return &r, nil
}

// GetActiveOrNewestPending returns the active round if one exists, else the
// newest pending round, for GET /games/current.
func (m *Manager) GetActiveOrNewestPending(ctx context.Context) (*domain.Round, error) {
	var r domain.Round
	err := m.db.GetContext(ctx, &r, `
		SELECT id, game_id, start_time, end_time, status, winning_card, payout_multiplier,
		       settlement_status, settlement_started_at, settlement_completed_at, settlement_error, created_at
		FROM rounds
		WHERE status IN ('active', 'pending')
		ORDER BY (status = 'active') DESC, start_time DESC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("round.GetActiveOrNewestPending: %w", err)
	}
	return &r, nil
}

// CardTotals returns the 12 per-card wagered totals for a round.
func (m *Manager) CardTotals(ctx context.Context, gameID string) ([12]decimal.Decimal, error) {
	var rows []domain.RoundCardTotal
	var out [12]decimal.Decimal
	err := m.db.SelectContext(ctx, &rows, `
		SELECT game_id, card_number, total_bet_amount FROM round_card_totals WHERE game_id = $1`, gameID)
	if err != nil {
		return out, fmt.Errorf("round.CardTotals: %w", err)
	}
	for _, r := range rows {
		out[r.CardNumber-1] = r.TotalBetAmount
	}
	return out, nil
}

// PendingSettlement returns up to limit rounds that are completed but not
// yet settled, oldest first, optionally restricted to those whose end_time
// is at least graceSeconds in the past (the manual-mode grace window).
func (m *Manager) PendingSettlement(ctx context.Context, limit int, graceSeconds int) ([]domain.Round, error) {
	var rounds []domain.Round
	err := m.db.SelectContext(ctx, &rounds, `
		SELECT id, game_id, start_time, end_time, status, winning_card, payout_multiplier,
		       settlement_status, settlement_started_at, settlement_completed_at, settlement_error, created_at
		FROM rounds
		WHERE status = 'completed' AND settlement_status = 'not_settled'
		  AND end_time <= now() - make_interval(secs => $1)
		ORDER BY start_time ASC
		LIMIT $2`, graceSeconds, limit)
	if err != nil {
		return nil, fmt.Errorf("round.PendingSettlement: %w", err)
	}
	return rounds, nil
}

// LatestGameID returns the game_id of the most recently created round, or
// empty string if none exists.
func (m *Manager) LatestGameID(ctx context.Context) (string, error) {
	var gameID string
	err := m.db.GetContext(ctx, &gameID, `SELECT game_id FROM rounds ORDER BY start_time DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("round.LatestGameID: %w", err)
	}
	return gameID, nil
}

// RecentWinners returns up to limit settled rounds with a recorded winning
// card, newest first, for GET /games/recent-winners.
func (m *Manager) RecentWinners(ctx context.Context, limit int) ([]domain.Round, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rounds []domain.Round
	err := m.db.SelectContext(ctx, &rounds, `
		SELECT id, game_id, start_time, end_time, status, winning_card, payout_multiplier,
		       settlement_status, settlement_started_at, settlement_completed_at, settlement_error, created_at
		FROM rounds
		WHERE settlement_status = 'settled' AND winning_card IS NOT NULL
		ORDER BY start_time DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("round.RecentWinners: %w", err)
	}
	return rounds, nil
}

// ByDate returns every round whose IST calendar day matches date
// ("YYYY-MM-DD"), oldest first, for GET /games/by-date.
func (m *Manager) ByDate(ctx context.Context, date string) ([]domain.Round, error) {
	dayStartIST, err := time.ParseInLocation("2006-01-02", date, clock.IST)
	if err != nil {
		return nil, fmt.Errorf("round.ByDate: invalid date %q: %w", date, err)
	}
	dayEndIST := dayStartIST.Add(24 * time.Hour)

	var rounds []domain.Round
	err = m.db.SelectContext(ctx, &rounds, `
		SELECT id, game_id, start_time, end_time, status, winning_card, payout_multiplier,
		       settlement_status, settlement_started_at, settlement_completed_at, settlement_error, created_at
		FROM rounds
		WHERE start_time >= $1 AND start_time < $2
		ORDER BY start_time ASC`, dayStartIST.UTC(), dayEndIST.UTC())
	if err != nil {
		return nil, fmt.Errorf("round.ByDate: %w", err)
	}
	return rounds, nil
}

// ErrRoundNotFound is returned when a lookup finds no matching round.
var ErrRoundNotFound = errors.New("round: not found")
