// Package claim implements the Claim Engine (C10): the at-most-once
// crediting of a won, settled slip's payout.
//
// Grounded on the same NevzatMmc-updown FOR-UPDATE-then-credit-then-mark
// pattern as internal/wallet and internal/cancel, specialized to the
// claim-time preconditions SPEC_FULL.md §4.10 requires (owner match,
// unclaimed, won, settled).
package claim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/cardround/rgs/internal/apperr"
	"github.com/cardround/rgs/internal/audit"
	"github.com/cardround/rgs/internal/domain"
	"github.com/cardround/rgs/internal/wallet"
)

// Engine is the Claim Engine.
type Engine struct {
	db     *sqlx.DB
	wallet *wallet.Service
	audit  *audit.Service
}

// New builds an Engine.
func New(db *sqlx.DB, walletSvc *wallet.Service, auditSvc *audit.Service) *Engine {
	return &Engine{db: db, wallet: walletSvc, audit: auditSvc}
}

// Result describes the outcome of a claim attempt.
type Result struct {
	SlipID         uuid.UUID
	PayoutAmount   decimal.Decimal
	AlreadyClaimed bool
}

type claimableSlip struct {
	SlipID           uuid.UUID       `db:"slip_id"`
	UserID           int64           `db:"user_id"`
	GameID           string          `db:"game_id"`
	Status           string          `db:"status"`
	Claimed          bool            `db:"claimed"`
	PayoutAmount     decimal.Decimal `db:"payout_amount"`
	SettlementStatus string          `db:"settlement_status"`
}

// Claim credits identifier's (slip_id or barcode, case-insensitive)
// payout to its owner, exactly once. requesterID must match the slip's
// owner.
func (e *Engine) Claim(ctx context.Context, identifier string, requesterID int64) (*Result, error) {
	identifier = strings.TrimSpace(identifier)

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim.Claim: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var s claimableSlip
	err = tx.GetContext(ctx, &s, `
		SELECT bs.slip_id, bs.user_id, bs.game_id, bs.status, bs.claimed, bs.payout_amount, r.settlement_status
		FROM bet_slips bs JOIN rounds r ON r.game_id = bs.game_id
		WHERE bs.slip_id::text = $1 OR upper(bs.barcode) = upper($1)
		FOR UPDATE OF bs`, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(apperr.CodeRoundNotFound, "slip not found")
	}
	if err != nil {
		return nil, fmt.Errorf("claim.Claim: lookup: %w", err)
	}

	if s.UserID != requesterID {
		return nil, apperr.Conflict(apperr.CodeNotOwner, "slip does not belong to requester")
	}
	if s.Claimed {
		return &Result{SlipID: s.SlipID, PayoutAmount: s.PayoutAmount, AlreadyClaimed: true}, nil
	}
	if domain.SettlementStatus(s.SettlementStatus) != domain.SettlementSettled {
		return nil, apperr.Conflict(apperr.CodeNotSettled, "round not yet settled")
	}
	if domain.BetSlipStatus(s.Status) != domain.BetSlipWon {
		return nil, apperr.Conflict(apperr.CodeNotWon, "slip did not win")
	}
	if s.PayoutAmount.Sign() <= 0 {
		return nil, apperr.Conflict(apperr.CodeNotWon, "slip has no payout")
	}

	err = e.wallet.CreditAtomic(ctx, tx, s.UserID, s.PayoutAmount, wallet.Movement{
		Type:            domain.TxTypeGame,
		ReferenceType:   domain.RefTypeClaim,
		ReferenceID:     s.SlipID.String(),
		ReferenceGameID: &s.GameID,
	})
	if errors.Is(err, wallet.ErrUserNotActive) {
		return nil, apperr.Validation(apperr.CodeUserInactive, "account is not active")
	}
	if err != nil {
		return nil, fmt.Errorf("claim.Claim: credit: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bet_slips SET claimed = true, claimed_at = now() WHERE slip_id = $1`, s.SlipID); err != nil {
		return nil, fmt.Errorf("claim.Claim: update slip: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim.Claim: commit: %w", err)
	}

	e.audit.Log(ctx, audit.EventSlipClaimed, domain.SeverityInfo,
		fmt.Sprintf("slip %s claimed for %s", s.SlipID, s.PayoutAmount), "",
		audit.WithActor(requesterID), audit.WithComponent("claim"))

	return &Result{SlipID: s.SlipID, PayoutAmount: s.PayoutAmount}, nil
}
