// Package cancel implements the Cancellation Engine (C8): refunding and
// voiding a pending bet slip before it can be claimed or its round
// settled.
//
// Grounded on NevzatMmc-updown's ResolutionService.RefundAll atomic-
// credit-plus-ledger-row-plus-status-update transaction shape, adapted to
// the dedicated `cancelled` BetSlip status adopted in SPEC_FULL.md §9.
package cancel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/cardround/rgs/internal/apperr"
	"github.com/cardround/rgs/internal/audit"
	"github.com/cardround/rgs/internal/domain"
	"github.com/cardround/rgs/internal/wallet"
)

// Engine is the Cancellation Engine.
type Engine struct {
	db     *sqlx.DB
	wallet *wallet.Service
	audit  *audit.Service
}

// New builds an Engine.
func New(db *sqlx.DB, walletSvc *wallet.Service, auditSvc *audit.Service) *Engine {
	return &Engine{db: db, wallet: walletSvc, audit: auditSvc}
}

type lockedSlip struct {
	ID               int64           `db:"id"`
	SlipID           uuid.UUID       `db:"slip_id"`
	UserID           int64           `db:"user_id"`
	GameID           string          `db:"game_id"`
	TotalAmount      decimal.Decimal `db:"total_amount"`
	Status           string          `db:"status"`
	Claimed          bool            `db:"claimed"`
	SettlementStatus string          `db:"settlement_status"`
}

type betDetailTotal struct {
	CardNumber int             `db:"card_number"`
	BetAmount  decimal.Decimal `db:"bet_amount"`
}

// CancelSlip cancels the slip identified by slipID or barcode, refunding
// its owner. A non-admin requester must own the slip.
func (e *Engine) CancelSlip(ctx context.Context, identifier string, requesterID int64, isAdmin bool, reason string) error {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cancel.CancelSlip: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var s lockedSlip
	err = tx.GetContext(ctx, &s, `
		SELECT bs.id, bs.slip_id, bs.user_id, bs.game_id, bs.total_amount, bs.status, bs.claimed, r.settlement_status
		FROM bet_slips bs JOIN rounds r ON r.game_id = bs.game_id
		WHERE bs.slip_id::text = $1 OR upper(bs.barcode) = upper($1)
		FOR UPDATE OF bs`, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(apperr.CodeRoundNotFound, "slip not found")
	}
	if err != nil {
		return fmt.Errorf("cancel.CancelSlip: lookup: %w", err)
	}

	if !isAdmin && s.UserID != requesterID {
		return apperr.Conflict(apperr.CodeNotOwner, "slip does not belong to requester")
	}
	if s.Claimed {
		return apperr.Conflict(apperr.CodeAlreadyClaimed, "slip already claimed")
	}
	if domain.BetSlipStatus(s.Status) == domain.BetSlipCancelled {
		return apperr.Conflict(apperr.CodeDuplicateRequest, "slip already cancelled")
	}
	if domain.SettlementStatus(s.SettlementStatus) == domain.SettlementSettled {
		return apperr.Conflict(apperr.CodeRoundSettled, "round already settled")
	}

	comment := "cancelled"
	if reason != "" {
		comment = "cancelled: " + reason
	}

	err = e.wallet.CreditAtomic(ctx, tx, s.UserID, s.TotalAmount, wallet.Movement{
		Type:            domain.TxTypeGame,
		ReferenceType:   domain.RefTypeCancellation,
		ReferenceID:     s.SlipID.String(),
		ReferenceGameID: &s.GameID,
		Comment:         comment,
	})
	if errors.Is(err, wallet.ErrUserNotActive) {
		return apperr.Validation(apperr.CodeUserInactive, "account is not active")
	}
	if err != nil {
		return fmt.Errorf("cancel.CancelSlip: credit: %w", err)
	}

	var details []betDetailTotal
	if err := tx.SelectContext(ctx, &details, `
		SELECT card_number, bet_amount FROM bet_details WHERE slip_id = $1`, s.SlipID); err != nil {
		return fmt.Errorf("cancel.CancelSlip: load details: %w", err)
	}

	for _, d := range details {
		if _, err := tx.ExecContext(ctx, `
			UPDATE round_card_totals SET total_bet_amount = GREATEST(total_bet_amount - $1, 0)
			WHERE game_id = $2 AND card_number = $3`, d.BetAmount, s.GameID, d.CardNumber); err != nil {
			return fmt.Errorf("cancel.CancelSlip: decrement card total: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bet_slips SET status = 'cancelled', cancelled_at = now() WHERE slip_id = $1`, s.SlipID); err != nil {
		return fmt.Errorf("cancel.CancelSlip: update slip: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cancel.CancelSlip: commit: %w", err)
	}

	e.audit.Log(ctx, audit.EventSlipCancelled, domain.SeverityInfo,
		fmt.Sprintf("slip %s cancelled", s.SlipID), reason,
		audit.WithActor(requesterID), audit.WithComponent("cancel"))

	return nil
}
