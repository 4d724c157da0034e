// Package audit provides fire-and-forget audit logging: an informational
// trail of significant events that is never consulted for correctness
// (SPEC_FULL.md §3 AuditLog, §5 "audit logging is fire-and-forget after
// commit").
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/cardround/rgs/internal/domain"
)

// Event type constants for this domain.
const (
	EventUserRegistered    = "user_registered"
	EventLogin             = "login"
	EventLoginFailed       = "login_failed"
	EventLogout            = "logout"
	EventSessionsKilled    = "sessions_killed"
	EventBetPlaced         = "bet_placed"
	EventBetDuplicate      = "bet_duplicate_idempotency"
	EventSlipCancelled     = "slip_cancelled"
	EventRoundSettled      = "round_settled"
	EventSettlementFailed  = "settlement_failed"
	EventSlipClaimed       = "slip_claimed"
	EventSettingsChanged   = "settings_changed"
	EventRoundCreated      = "round_created"
	EventRNGHealthCheck    = "rng_health_check"
	EventSchedulerRecovery = "scheduler_recovery"
)

// Service logs events to the audit_log table. A logging failure is
// logged to the structured logger and swallowed — it never surfaces to the
// caller, per SPEC_FULL.md §7.
type Service struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// New creates a new audit service.
func New(db *sqlx.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

// EventOption configures an audit event before it is written.
type EventOption func(*domain.AuditLog)

// WithActor sets the acting user's ID.
func WithActor(userID int64) EventOption {
	return func(e *domain.AuditLog) { e.ActorID = &userID }
}

// WithIP sets the request IP address.
func WithIP(ip string) EventOption {
	return func(e *domain.AuditLog) { e.IPAddress = ip }
}

// WithComponent sets the originating component name.
func WithComponent(component string) EventOption {
	return func(e *domain.AuditLog) { e.Component = component }
}

// Log records an event. Call sites treat failures as non-fatal: Log itself
// swallows the error after logging it, matching the "audit never affects
// correctness" policy.
func (s *Service) Log(ctx context.Context, eventType string, severity domain.EventSeverity, description, data string, opts ...EventOption) {
	event := &domain.AuditLog{
		EventType:   eventType,
		Severity:    severity,
		Description: description,
		Data:        data,
		Component:   "core",
		CreatedAt:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(event)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (event_type, severity, actor_id, description, data, ip_address, component, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.EventType, event.Severity, event.ActorID, event.Description, event.Data,
		event.IPAddress, event.Component, event.CreatedAt)
	if err != nil {
		s.log.Warnw("audit log write failed", "event_type", eventType, "err", err)
	}
}

// EventFilter defines criteria for filtering audit events.
type EventFilter struct {
	ActorID int64
	Type    string
	From    time.Time
	To      time.Time
	Limit   int
}

// GetEvents retrieves audit events with optional filtering, newest first.
func (s *Service) GetEvents(ctx context.Context, filter *EventFilter) ([]domain.AuditLog, error) {
	query := `SELECT id, event_type, severity, actor_id, description, data, ip_address, component, created_at
			  FROM audit_log WHERE 1=1`
	var args []interface{}
	paramIdx := 1

	if filter != nil {
		if filter.ActorID != 0 {
			query += fmt.Sprintf(" AND actor_id = $%d", paramIdx)
			args = append(args, filter.ActorID)
			paramIdx++
		}
		if filter.Type != "" {
			query += fmt.Sprintf(" AND event_type = $%d", paramIdx)
			args = append(args, filter.Type)
			paramIdx++
		}
		if !filter.From.IsZero() {
			query += fmt.Sprintf(" AND created_at >= $%d", paramIdx)
			args = append(args, filter.From)
			paramIdx++
		}
		if !filter.To.IsZero() {
			query += fmt.Sprintf(" AND created_at <= $%d", paramIdx)
			args = append(args, filter.To)
			paramIdx++
		}
	}

	query += " ORDER BY created_at DESC"

	if filter != nil && filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", paramIdx)
		args = append(args, filter.Limit)
	} else {
		query += " LIMIT 100"
	}

	var events []domain.AuditLog
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("audit.GetEvents: %w", err)
	}
	return events, nil
}
