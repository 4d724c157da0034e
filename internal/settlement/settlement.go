// Package settlement implements the Settlement Engine (C9): resolving a
// round's winning card into per-slip outcomes in one bulk transaction, with
// no wallet movement — winnings are credited lazily on claim (C10).
//
// Grounded directly on NevzatMmc-updown's ResolutionService.resolveMarket:
// a single transaction that bulk-updates losing rows, loops winners to
// compute payouts, and wraps any failure into a typed, recorded settlement
// error rather than leaving the round stuck mid-transition.
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardround/rgs/internal/apperr"
	"github.com/cardround/rgs/internal/audit"
	"github.com/cardround/rgs/internal/domain"
)

// Engine is the Settlement Engine.
type Engine struct {
	db     *sqlx.DB
	audit  *audit.Service
	log    *zap.SugaredLogger
	manual func() bool
}

// New builds an Engine. manualMode reports whether the current
// game_result_type setting is "manual" (checked at settle time, since
// manual mode permits early resolution of an active round).
func New(db *sqlx.DB, auditSvc *audit.Service, log *zap.SugaredLogger, manualMode func() bool) *Engine {
	return &Engine{db: db, audit: auditSvc, log: log, manual: manualMode}
}

type lockedRound struct {
	GameID           string          `db:"game_id"`
	Status           string          `db:"status"`
	SettlementStatus string          `db:"settlement_status"`
	PayoutMultiplier decimal.Decimal `db:"payout_multiplier"`
}

// Settle resolves gameId's winning card. actorID is recorded on the audit
// trail; it is zero for scheduler-driven auto-settlement.
func (e *Engine) Settle(ctx context.Context, gameID string, winningCard int, actorID int64) error {
	if winningCard < 1 || winningCard > 12 {
		return apperr.Validation(apperr.CodeInvalidBet, "winning_card must be between 1 and 12")
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("settlement.Settle: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var r lockedRound
	err = tx.GetContext(ctx, &r, `
		SELECT game_id, status, settlement_status, payout_multiplier
		FROM rounds WHERE game_id = $1 FOR UPDATE`, gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(apperr.CodeRoundNotFound, "round not found")
	}
	if err != nil {
		return fmt.Errorf("settlement.Settle: lock round: %w", err)
	}

	if domain.SettlementStatus(r.SettlementStatus) != domain.SettlementNotSettled {
		return apperr.Conflict(apperr.CodeRoundSettled, "round already settled")
	}

	allowEarly := e.manual != nil && e.manual()
	status := domain.RoundStatus(r.Status)
	if status != domain.RoundStatusCompleted && !(allowEarly && status == domain.RoundStatusActive) {
		return apperr.Conflict(apperr.CodeRoundClosed, "round is not ready for settlement")
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE rounds SET settlement_status = 'settling', settlement_started_at = now() WHERE game_id = $1`, gameID); err != nil {
		return e.fail(ctx, tx, gameID, fmt.Errorf("settlement.Settle: mark settling: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bet_details SET is_winner = true, payout_amount = bet_amount * $1
		WHERE game_id = $2 AND card_number = $3`, r.PayoutMultiplier, gameID, winningCard); err != nil {
		return e.fail(ctx, tx, gameID, fmt.Errorf("settlement.Settle: pay winners: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bet_details SET is_winner = false, payout_amount = 0
		WHERE game_id = $1 AND card_number != $2`, gameID, winningCard); err != nil {
		return e.fail(ctx, tx, gameID, fmt.Errorf("settlement.Settle: zero losers: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bet_slips bs SET
			payout_amount = COALESCE((SELECT sum(bd.payout_amount) FROM bet_details bd WHERE bd.slip_id = bs.slip_id), 0),
			status = CASE WHEN COALESCE((SELECT sum(bd.payout_amount) FROM bet_details bd WHERE bd.slip_id = bs.slip_id), 0) > 0
			         THEN 'won' ELSE 'lost' END
		WHERE bs.game_id = $1 AND bs.status != 'cancelled'`, gameID); err != nil {
		return e.fail(ctx, tx, gameID, fmt.Errorf("settlement.Settle: settle slips: %w", err))
	}

	now := time.Now().UTC()
	if status == domain.RoundStatusActive {
		if _, err := tx.ExecContext(ctx, `UPDATE rounds SET status = 'completed' WHERE game_id = $1`, gameID); err != nil {
			return e.fail(ctx, tx, gameID, fmt.Errorf("settlement.Settle: complete round: %w", err))
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE rounds SET winning_card = $1, settlement_status = 'settled',
		       settlement_completed_at = $2, settlement_error = NULL WHERE game_id = $3`,
		winningCard, now, gameID); err != nil {
		return e.fail(ctx, tx, gameID, fmt.Errorf("settlement.Settle: finalize: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return e.fail(ctx, tx, gameID, fmt.Errorf("settlement.Settle: commit: %w", err))
	}

	var actor *int64
	if actorID != 0 {
		actor = &actorID
	}
	opts := []audit.EventOption{audit.WithComponent("settlement")}
	if actor != nil {
		opts = append(opts, audit.WithActor(*actor))
	}
	e.audit.Log(ctx, audit.EventRoundSettled, domain.SeverityInfo,
		fmt.Sprintf("round %s settled, winning card %d", gameID, winningCard), "", opts...)

	return nil
}

// fail rolls back tx, releasing its lock on the round row, then records the
// settlement failure on the round with a fresh statement outside it and
// returns the original error to the caller.
func (e *Engine) fail(ctx context.Context, tx *sqlx.Tx, gameID string, cause error) error {
	_ = tx.Rollback()
	if _, err := e.db.ExecContext(ctx, `
		UPDATE rounds SET settlement_status = 'failed', settlement_error = $1 WHERE game_id = $2`,
		cause.Error(), gameID); err != nil {
		e.log.Errorw("failed to record settlement failure", "game_id", gameID, "err", err)
	}
	e.audit.Log(ctx, audit.EventSettlementFailed, domain.SeverityCritical,
		fmt.Sprintf("settlement failed for round %s", gameID), cause.Error(), audit.WithComponent("settlement"))
	return cause
}
