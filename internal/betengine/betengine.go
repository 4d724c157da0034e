// Package betengine implements the Bet Engine (C7): validating and
// atomically placing a multi-card bet slip against an active round.
//
// Grounded on the teacher's game.Engine.Play atomic-debit-then-persist
// shape (lock balance, debit wager, persist the play, all inside one
// transaction), generalized from a single slot spin to a slip of 1..12
// per-card wagers, and on NevzatMmc-updown's FOR UPDATE locking for the
// balance check that Play itself omitted.
package betengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/cardround/rgs/internal/apperr"
	"github.com/cardround/rgs/internal/audit"
	"github.com/cardround/rgs/internal/barcode"
	"github.com/cardround/rgs/internal/domain"
	"github.com/cardround/rgs/internal/round"
	"github.com/cardround/rgs/internal/settings"
	"github.com/cardround/rgs/internal/wallet"
)

// Bet is one card wager within a placement request.
type Bet struct {
	CardNumber int
	Amount     decimal.Decimal
}

// PlaceResult is returned by PlaceBet.
type PlaceResult struct {
	SlipID    uuid.UUID
	Barcode   string
	Duplicate bool
}

// Engine is the Bet Engine.
type Engine struct {
	db     *sqlx.DB
	wallet *wallet.Service
	rounds *round.Manager
	sett   *settings.Store
	codec  *barcode.Codec
	audit  *audit.Service
}

// New builds an Engine.
func New(db *sqlx.DB, walletSvc *wallet.Service, rounds *round.Manager, sett *settings.Store, codec *barcode.Codec, auditSvc *audit.Service) *Engine {
	return &Engine{db: db, wallet: walletSvc, rounds: rounds, sett: sett, codec: codec, audit: auditSvc}
}

// PlaceBet validates and atomically places a bet slip. A present
// idempotencyKey that matches a prior slip short-circuits to a duplicate
// response without touching the round, wallet, or card totals again.
func (e *Engine) PlaceBet(ctx context.Context, userID int64, gameID string, bets []Bet, idempotencyKey, ip string) (*PlaceResult, error) {
	if idempotencyKey != "" {
		if existing, ok, err := e.findByIdempotencyKey(ctx, idempotencyKey); err != nil {
			return nil, err
		} else if ok {
			return &PlaceResult{SlipID: existing.SlipID, Barcode: existing.Barcode, Duplicate: true}, nil
		}
	}

	total, err := validateBets(bets)
	if err != nil {
		return nil, err
	}

	r, err := e.rounds.GetByGameID(ctx, gameID)
	if errors.Is(err, round.ErrRoundNotFound) {
		return nil, apperr.NotFound(apperr.CodeRoundNotFound, "round not found")
	}
	if err != nil {
		return nil, fmt.Errorf("betengine.PlaceBet: load round: %w", err)
	}
	if r.Status != domain.RoundStatusActive || !time.Now().UTC().Before(r.EndTime) {
		return nil, apperr.Conflict(apperr.CodeRoundClosed, "round is not open for bets")
	}

	maxLimit, err := e.sett.MaximumLimit()
	if err != nil {
		return nil, fmt.Errorf("betengine.PlaceBet: maximum limit: %w", err)
	}
	maxLimitDec := decimal.NewFromFloat(maxLimit)
	for _, b := range bets {
		if b.Amount.GreaterThan(maxLimitDec) {
			return nil, apperr.Validation(apperr.CodeOverLimit, fmt.Sprintf("bet on card %d exceeds maximum limit", b.CardNumber))
		}
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("betengine.PlaceBet: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	slipID := uuid.New()
	code := e.codec.Encode(gameID, slipID)

	var ikPtr *string
	if idempotencyKey != "" {
		ikPtr = &idempotencyKey
	}

	err = e.wallet.DebitAtomic(ctx, tx, userID, total, wallet.Movement{
		Type:            domain.TxTypeGame,
		ReferenceType:   domain.RefTypeBetPlacement,
		ReferenceID:     slipID.String(),
		ReferenceGameID: &gameID,
	})
	if errors.Is(err, wallet.ErrInsufficientBalance) {
		return nil, apperr.Validation(apperr.CodeInsufficientBalance, "insufficient balance")
	}
	if errors.Is(err, wallet.ErrUserNotActive) {
		return nil, apperr.Validation(apperr.CodeUserInactive, "account is not active")
	}
	if err != nil {
		return nil, fmt.Errorf("betengine.PlaceBet: debit: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bet_slips (slip_id, user_id, game_id, total_amount, payout_amount, status, claimed, barcode, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, 0, 'pending', false, $5, $6, now())`,
		slipID, userID, gameID, total, code, ikPtr); err != nil {
		return nil, fmt.Errorf("betengine.PlaceBet: insert slip: %w", err)
	}

	for _, b := range bets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bet_details (slip_id, game_id, user_id, card_number, bet_amount, is_winner, payout_amount)
			VALUES ($1, $2, $3, $4, $5, false, 0)`,
			slipID, gameID, userID, b.CardNumber, b.Amount); err != nil {
			return nil, fmt.Errorf("betengine.PlaceBet: insert detail: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE round_card_totals SET total_bet_amount = total_bet_amount + $1
			WHERE game_id = $2 AND card_number = $3`,
			b.Amount, gameID, b.CardNumber); err != nil {
			return nil, fmt.Errorf("betengine.PlaceBet: update card totals: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("betengine.PlaceBet: commit: %w", err)
	}

	e.audit.Log(ctx, audit.EventBetPlaced, domain.SeverityInfo,
		fmt.Sprintf("slip %s placed for %s", slipID, gameID), total.String(),
		audit.WithActor(userID), audit.WithIP(ip), audit.WithComponent("betengine"))

	return &PlaceResult{SlipID: slipID, Barcode: code}, nil
}

// BetResult is the public, read-only snapshot returned by GET
// /bets/result/:identifier — no auth, no row lock.
type BetResult struct {
	SlipID       uuid.UUID       `db:"slip_id" json:"slip_id"`
	GameID       string          `db:"game_id" json:"game_id"`
	TotalAmount  decimal.Decimal `db:"total_amount" json:"total_amount"`
	PayoutAmount decimal.Decimal `db:"payout_amount" json:"payout_amount"`
	Status       string          `db:"status" json:"status"`
	Claimed      bool            `db:"claimed" json:"claimed"`
	Cancelled    bool            `db:"-" json:"cancelled"`
	Barcode      string          `db:"barcode" json:"barcode"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Result looks up a slip by slip_id or barcode (case-insensitive).
func (e *Engine) Result(ctx context.Context, identifier string) (*BetResult, error) {
	var res BetResult
	err := e.db.GetContext(ctx, &res, `
		SELECT slip_id, game_id, total_amount, payout_amount, status, claimed, barcode, created_at
		FROM bet_slips WHERE slip_id::text = $1 OR upper(barcode) = upper($1)`, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(apperr.CodeRoundNotFound, "slip not found")
	}
	if err != nil {
		return nil, fmt.Errorf("betengine.Result: %w", err)
	}
	res.Cancelled = res.Status == string(domain.BetSlipCancelled)
	return &res, nil
}

type existingSlip struct {
	SlipID  uuid.UUID `db:"slip_id"`
	Barcode string    `db:"barcode"`
}

func (e *Engine) findByIdempotencyKey(ctx context.Context, key string) (*existingSlip, bool, error) {
	var s existingSlip
	err := e.db.GetContext(ctx, &s, `SELECT slip_id, barcode FROM bet_slips WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("betengine.findByIdempotencyKey: %w", err)
	}
	return &s, true, nil
}

func validateBets(bets []Bet) (decimal.Decimal, error) {
	if len(bets) == 0 || len(bets) > 12 {
		return decimal.Zero, apperr.Validation(apperr.CodeInvalidBet, "slip must contain between 1 and 12 card bets")
	}
	seen := make(map[int]bool, len(bets))
	total := decimal.Zero
	for _, b := range bets {
		if b.CardNumber < 1 || b.CardNumber > 12 {
			return decimal.Zero, apperr.Validation(apperr.CodeInvalidBet, "card_number must be between 1 and 12")
		}
		if seen[b.CardNumber] {
			return decimal.Zero, apperr.Validation(apperr.CodeInvalidBet, "duplicate card_number within slip")
		}
		seen[b.CardNumber] = true
		if b.Amount.Sign() <= 0 {
			return decimal.Zero, apperr.Validation(apperr.CodeInvalidBet, "bet_amount must be positive")
		}
		total = total.Add(b.Amount)
	}
	return total, nil
}
