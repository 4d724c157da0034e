// Package wallet is the append-only transaction ledger plus balance
// mutation described in SPEC_FULL.md §4.4 (C4): every balance change is
// paired with exactly one WalletLog row inside the caller's transaction,
// and balance reads for mutation are taken under a pessimistic row lock.
//
// Grounded on NevzatMmc-updown's internal/repository/wallet_repo.go
// (SELECT ... FOR UPDATE before debiting, decimal money, a *sqlx.Tx passed
// in by the caller so the debit/credit and its ledger row commit
// atomically with the caller's own writes — bet placement, cancellation,
// settlement, claim).
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/cardround/rgs/internal/apperr"
	"github.com/cardround/rgs/internal/domain"
)

var (
	// ErrInsufficientBalance is returned by DebitAtomic when the debit
	// would drop the user's balance below zero.
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
	// ErrUserNotActive is returned when a debit is attempted against a
	// non-active user (fail-fast per SPEC_FULL.md §4.4).
	ErrUserNotActive = errors.New("wallet: user not active")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("wallet: amount must be positive")
)

// Movement describes one ledger append, independent of credit/debit.
type Movement struct {
	Type            domain.TransactionType
	ReferenceType   domain.ReferenceType
	ReferenceID     string
	ReferenceGameID *string
	Comment         string
}

// Service is the wallet ledger.
type Service struct {
	db *sqlx.DB
}

// New builds a Service.
func New(db *sqlx.DB) *Service {
	return &Service{db: db}
}

type lockedUser struct {
	Balance decimal.Decimal `db:"balance"`
	Status  domain.UserStatus `db:"status"`
}

// lockUser reads and locks a user row for update inside tx. Callers must
// already be inside a transaction that also performs the business mutation
// this movement is paired with.
func lockUser(ctx context.Context, tx *sqlx.Tx, userID int64) (lockedUser, error) {
	var u lockedUser
	err := tx.GetContext(ctx, &u, `SELECT balance, status FROM users WHERE id = $1 FOR UPDATE`, userID)
	if err != nil {
		return lockedUser{}, fmt.Errorf("wallet: lock user %d: %w", userID, err)
	}
	return u, nil
}

func appendLedger(ctx context.Context, tx *sqlx.Tx, userID int64, direction domain.TransactionDirection, amount decimal.Decimal, m Movement) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_log (user_id, transaction_type, transaction_direction, amount, reference_type, reference_id, reference_game_id, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		userID, m.Type, direction, amount, m.ReferenceType, m.ReferenceID, m.ReferenceGameID, m.Comment)
	if err != nil {
		return fmt.Errorf("wallet: append ledger: %w", err)
	}
	return nil
}

// CreditAtomic increases userID's balance by amount and appends exactly one
// WalletLog row, inside the caller's transaction tx. Fails with
// ErrUserNotActive if the user's status is not active.
func (s *Service) CreditAtomic(ctx context.Context, tx *sqlx.Tx, userID int64, amount decimal.Decimal, m Movement) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	u, err := lockUser(ctx, tx, userID)
	if err != nil {
		return err
	}
	if u.Status != domain.UserStatusActive {
		return ErrUserNotActive
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET balance = balance + $1, updated_at = now() WHERE id = $2`, amount, userID); err != nil {
		return fmt.Errorf("wallet: credit user %d: %w", userID, err)
	}

	return appendLedger(ctx, tx, userID, domain.DirectionCredit, amount, m)
}

// DebitAtomic decreases userID's balance by amount and appends exactly one
// WalletLog row, inside the caller's transaction tx. Fails with
// ErrInsufficientBalance if the debit would drop balance below zero, and
// with ErrUserNotActive if the user's status is not active.
func (s *Service) DebitAtomic(ctx context.Context, tx *sqlx.Tx, userID int64, amount decimal.Decimal, m Movement) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	u, err := lockUser(ctx, tx, userID)
	if err != nil {
		return err
	}
	if u.Status != domain.UserStatusActive {
		return ErrUserNotActive
	}
	if u.Balance.LessThan(amount) {
		return ErrInsufficientBalance
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET balance = balance - $1, updated_at = now() WHERE id = $2`, amount, userID); err != nil {
		return fmt.Errorf("wallet: debit user %d: %w", userID, err)
	}

	return appendLedger(ctx, tx, userID, domain.DirectionDebit, amount, m)
}

// GetBalance returns the user's current balance without locking (read-only
// callers; mutating callers go through DebitAtomic/CreditAtomic which lock
// internally).
func (s *Service) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.GetContext(ctx, &balance, `SELECT balance FROM users WHERE id = $1`, userID)
	if err != nil {
		return decimal.Zero, apperr.NotFound(apperr.CodeUserNotFound, "user not found")
	}
	return balance, nil
}

// GetTransactions retrieves ledger history for a user, newest first.
func (s *Service) GetTransactions(ctx context.Context, userID int64, limit int) ([]domain.WalletLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []domain.WalletLog
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, user_id, transaction_type, transaction_direction, amount, reference_type, reference_id, reference_game_id, comment, created_at
		FROM wallet_log WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("wallet.GetTransactions: %w", err)
	}
	return logs, nil
}
