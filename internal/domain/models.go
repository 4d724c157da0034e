// Package domain holds the core entities of the wagering platform: users,
// rounds, slips, and the wallet ledger that ties them together.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UserStatus is the lifecycle state of a User.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusBanned   UserStatus = "banned"
	UserStatusPending  UserStatus = "pending"
)

// UserType distinguishes administrative callers from ordinary players.
type UserType string

const (
	UserTypeAdmin     UserType = "admin"
	UserTypeModerator UserType = "moderator"
	UserTypePlayer    UserType = "player"
)

// User is an account holder. Balance is mutated only by the wallet ledger,
// always paired with a WalletLog row in the same transaction.
//
// LastLogin doubles as the session-version timestamp: every access token
// embeds the epoch-millis value of LastLogin at issuance time, and
// verification compares it against the current row (§4.5).
type User struct {
	ID           int64           `db:"id" json:"id"`
	UserID       string          `db:"user_id" json:"user_id"`
	PasswordHash string          `db:"password_hash" json:"-"`
	Status       UserStatus      `db:"status" json:"status"`
	UserType     UserType        `db:"user_type" json:"user_type"`
	Balance      decimal.Decimal `db:"balance" json:"balance"`
	LastLogin    time.Time       `db:"last_login" json:"last_login"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// SessionVersion returns the value embedded in access tokens at the moment
// this row was read: LastLogin truncated to millisecond epoch.
func (u *User) SessionVersion() int64 {
	return u.LastLogin.UnixMilli()
}

// RoundStatus is the lifecycle state of a Round. Transitions are monotonic:
// pending -> active -> completed.
type RoundStatus string

const (
	RoundStatusPending   RoundStatus = "pending"
	RoundStatusActive    RoundStatus = "active"
	RoundStatusCompleted RoundStatus = "completed"
)

// SettlementStatus tracks settlement progress independently of RoundStatus.
// Transitions are monotonic: not_settled -> settling -> (settled|failed).
type SettlementStatus string

const (
	SettlementNotSettled SettlementStatus = "not_settled"
	SettlementSettling   SettlementStatus = "settling"
	SettlementSettled    SettlementStatus = "settled"
	SettlementFailed     SettlementStatus = "failed"
)

// Round (a "game") is a fixed 5-minute wagering window. GameID is the IST
// start time formatted YYYYMMDDHHMM.
type Round struct {
	ID                    int64            `db:"id" json:"id"`
	GameID                string           `db:"game_id" json:"game_id"`
	StartTime             time.Time        `db:"start_time" json:"start_time"`
	EndTime               time.Time        `db:"end_time" json:"end_time"`
	Status                RoundStatus      `db:"status" json:"status"`
	WinningCard           *int             `db:"winning_card" json:"winning_card,omitempty"`
	PayoutMultiplier      decimal.Decimal  `db:"payout_multiplier" json:"payout_multiplier"`
	SettlementStatus      SettlementStatus `db:"settlement_status" json:"settlement_status"`
	SettlementStartedAt   *time.Time       `db:"settlement_started_at" json:"settlement_started_at,omitempty"`
	SettlementCompletedAt *time.Time       `db:"settlement_completed_at" json:"settlement_completed_at,omitempty"`
	SettlementError       *string          `db:"settlement_error" json:"settlement_error,omitempty"`
	CreatedAt             time.Time        `db:"created_at" json:"created_at"`
}

// RoundCardTotal is the running wagered total for one card of one round.
// Twelve rows are created alongside the Round, all zero.
type RoundCardTotal struct {
	GameID         string          `db:"game_id" json:"game_id"`
	CardNumber     int             `db:"card_number" json:"card_number"`
	TotalBetAmount decimal.Decimal `db:"total_bet_amount" json:"total_bet_amount"`
}

// BetSlipStatus is the settlement outcome of a slip.
//
// Cancelled is its own terminal status per the redesign adopted in
// SPEC_FULL.md §9 (rather than overloading "lost" with a WalletLog-row
// marker), with CancelledAt recording when it happened.
type BetSlipStatus string

const (
	BetSlipPending   BetSlipStatus = "pending"
	BetSlipWon       BetSlipStatus = "won"
	BetSlipLost      BetSlipStatus = "lost"
	BetSlipCancelled BetSlipStatus = "cancelled"
)

// BetSlip groups 1..12 per-card BetDetails placed by one user in one round.
type BetSlip struct {
	ID             int64           `db:"id" json:"id"`
	SlipID         uuid.UUID       `db:"slip_id" json:"slip_id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	GameID         string          `db:"game_id" json:"game_id"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	PayoutAmount   decimal.Decimal `db:"payout_amount" json:"payout_amount"`
	Status         BetSlipStatus   `db:"status" json:"status"`
	Claimed        bool            `db:"claimed" json:"claimed"`
	ClaimedAt      *time.Time      `db:"claimed_at" json:"claimed_at,omitempty"`
	CancelledAt    *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	Barcode        string          `db:"barcode" json:"barcode"`
	IdempotencyKey *string         `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// IsCancelled reports whether the slip was refunded and excluded from
// settlement and claim.
func (s *BetSlip) IsCancelled() bool {
	return s.Status == BetSlipCancelled
}

// BetDetail is one card's wager within a BetSlip.
type BetDetail struct {
	ID           int64           `db:"id" json:"id"`
	SlipID       uuid.UUID       `db:"slip_id" json:"slip_id"`
	GameID       string          `db:"game_id" json:"game_id"`
	UserID       int64           `db:"user_id" json:"user_id"`
	CardNumber   int             `db:"card_number" json:"card_number"`
	BetAmount    decimal.Decimal `db:"bet_amount" json:"bet_amount"`
	IsWinner     bool            `db:"is_winner" json:"is_winner"`
	PayoutAmount decimal.Decimal `db:"payout_amount" json:"payout_amount"`
}

// TransactionType classifies the business reason for a wallet movement.
type TransactionType string

const (
	TxTypeRecharge   TransactionType = "recharge"
	TxTypeWithdrawal TransactionType = "withdrawal"
	TxTypeGame       TransactionType = "game"
)

// TransactionDirection is the sign of a WalletLog row.
type TransactionDirection string

const (
	DirectionCredit TransactionDirection = "credit"
	DirectionDebit  TransactionDirection = "debit"
)

// ReferenceType names what caused a wallet movement.
type ReferenceType string

const (
	RefTypeBetPlacement ReferenceType = "bet_placement"
	RefTypeClaim        ReferenceType = "claim"
	RefTypeCancellation ReferenceType = "cancellation"
	RefTypeAdmin        ReferenceType = "admin"
)

// WalletLog is one append-only ledger row. Every balance mutation writes
// exactly one of these in the same transaction (the ledger law, P2).
//
// ReferenceGameID is a dedicated string column rather than free-text in
// Comment, resolving the widening called for in SPEC_FULL.md §9.
type WalletLog struct {
	ID              int64                `db:"id" json:"id"`
	UserID          int64                `db:"user_id" json:"user_id"`
	TransactionType TransactionType      `db:"transaction_type" json:"transaction_type"`
	Direction       TransactionDirection `db:"transaction_direction" json:"transaction_direction"`
	Amount          decimal.Decimal      `db:"amount" json:"amount"`
	ReferenceType   ReferenceType        `db:"reference_type" json:"reference_type"`
	ReferenceID     string               `db:"reference_id" json:"reference_id"`
	ReferenceGameID *string              `db:"reference_game_id" json:"reference_game_id,omitempty"`
	Comment         string               `db:"comment" json:"comment"`
	CreatedAt       time.Time            `db:"created_at" json:"created_at"`
}

// EventSeverity classifies an AuditLog row for operator triage.
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// AuditLog is an informational record of an action. It is never consulted
// for correctness: every business invariant is enforced by the component
// that owns it, not by replaying audit rows.
type AuditLog struct {
	ID          int64         `db:"id" json:"id"`
	EventType   string        `db:"event_type" json:"event_type"`
	Severity    EventSeverity `db:"severity" json:"severity"`
	ActorID     *int64        `db:"actor_id" json:"actor_id,omitempty"`
	Description string        `db:"description" json:"description"`
	Data        string        `db:"data" json:"data,omitempty"`
	IPAddress   string        `db:"ip_address" json:"ip_address,omitempty"`
	Component   string        `db:"component" json:"component,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// RefreshToken backs single-session enforcement (C5): at most one
// non-revoked, non-expired row may exist per user at a time.
type RefreshToken struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	UserID    int64      `db:"user_id" json:"user_id"`
	TokenHash string     `db:"token_hash" json:"-"`
	Revoked   bool       `db:"revoked" json:"revoked"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// LoginHistory is an append-only record of login attempts, successful or not.
type LoginHistory struct {
	ID        int64     `db:"id" json:"id"`
	UserID    *int64    `db:"user_id" json:"user_id,omitempty"`
	UserIDStr string    `db:"user_id_str" json:"user_id_str"`
	Success   bool      `db:"success" json:"success"`
	IPAddress string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent string    `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SettingsValueType distinguishes how a Settings row's Value is parsed.
type SettingsValueType string

const (
	SettingsTypeString SettingsValueType = "string"
	SettingsTypeNumber SettingsValueType = "number"
)

// Settings is one typed key/value configuration row (C2).
type Settings struct {
	Key       string            `db:"key" json:"key"`
	Value     string            `db:"value" json:"value"`
	ValueType SettingsValueType `db:"value_type" json:"value_type"`
	Public    bool              `db:"public" json:"public"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
	UpdatedBy *int64            `db:"updated_by" json:"updated_by,omitempty"`
}

// SettingsLog records the before/after value of every settings write.
type SettingsLog struct {
	ID        int64     `db:"id" json:"id"`
	Key       string    `db:"key" json:"key"`
	OldValue  string    `db:"old_value" json:"old_value"`
	NewValue  string    `db:"new_value" json:"new_value"`
	ChangedBy *int64    `db:"changed_by" json:"changed_by,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
