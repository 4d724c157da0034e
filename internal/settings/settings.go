// Package settings implements the typed, cached key/value configuration
// store described in SPEC_FULL.md §4.2 (C2): a process-local cache backed
// by a database table, invalidated on every write, with a change log
// recording before/after values.
//
// Grounded on the teacher's internal/control.Service, which held an
// in-memory RWMutex cache of boolean gaming-enabled flags over an
// upsert-to-table-plus-audit-log shape; this rewrites that shape around
// typed string/number settings instead of booleans.
package settings

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/cardround/rgs/internal/audit"
	"github.com/cardround/rgs/internal/clock"
	"github.com/cardround/rgs/internal/domain"
)

// Recognized settings keys.
const (
	KeyGameMultiplier = "game_multiplier"
	KeyMaximumLimit   = "maximum_limit"
	KeyGameStartTime  = "game_start_time"
	KeyGameEndTime    = "game_end_time"
	KeyGameResultType = "game_result_type"
)

// GameResultType values for KeyGameResultType.
const (
	ResultTypeAuto   = "auto"
	ResultTypeManual = "manual"
)

var defaults = map[string]struct {
	value     string
	valueType domain.SettingsValueType
	public    bool
}{
	KeyGameMultiplier: {"10", domain.SettingsTypeNumber, true},
	KeyMaximumLimit:   {"5000", domain.SettingsTypeNumber, true},
	KeyGameStartTime:  {"08:00", domain.SettingsTypeString, true},
	KeyGameEndTime:    {"22:00", domain.SettingsTypeString, true},
	KeyGameResultType: {"manual", domain.SettingsTypeString, false},
}

var hhmmPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Store is the settings service: a read-mostly cache over a database table.
type Store struct {
	db     *sqlx.DB
	audit  *audit.Service
	log    *zap.SugaredLogger
	mu     sync.RWMutex
	cache  map[string]domain.Settings
	loaded bool
}

// New builds a Store. Call Load once at startup before serving traffic.
func New(db *sqlx.DB, auditSvc *audit.Service, log *zap.SugaredLogger) *Store {
	return &Store{
		db:    db,
		audit: auditSvc,
		log:   log,
		cache: make(map[string]domain.Settings),
	}
}

// Load seeds any missing recognized keys with their defaults and populates
// the in-memory cache from the database.
func (s *Store) Load(ctx context.Context) error {
	for key, def := range defaults {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO settings (key, value, value_type, public, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (key) DO NOTHING`,
			key, def.value, def.valueType, def.public)
		if err != nil {
			return fmt.Errorf("settings.Load: seed %s: %w", key, err)
		}
	}
	return s.reload(ctx)
}

func (s *Store) reload(ctx context.Context) error {
	var rows []domain.Settings
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, value, value_type, public, updated_at, updated_by FROM settings`); err != nil {
		return fmt.Errorf("settings.reload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]domain.Settings, len(rows))
	for _, r := range rows {
		s.cache[r.Key] = r
	}
	s.loaded = true
	return nil
}

func (s *Store) get(key string) (domain.Settings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cache[key]
	return v, ok
}

// String returns a string setting, falling back to its documented default
// if the key is absent from the cache entirely.
func (s *Store) String(key string) string {
	if v, ok := s.get(key); ok {
		return v.Value
	}
	if def, ok := defaults[key]; ok {
		return def.value
	}
	return ""
}

// Number returns a numeric setting as a float64.
func (s *Store) Number(key string) (float64, error) {
	raw := s.String(key)
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("settings.Number: key %s: %w", key, err)
	}
	return n, nil
}

// GameMultiplier returns the current per-round payout multiplier.
func (s *Store) GameMultiplier() (float64, error) { return s.Number(KeyGameMultiplier) }

// MaximumLimit returns the current per-bet cap.
func (s *Store) MaximumLimit() (float64, error) { return s.Number(KeyMaximumLimit) }

// GameStartTime returns the daily HH:MM opening time.
func (s *Store) GameStartTime() string { return s.String(KeyGameStartTime) }

// GameEndTime returns the daily HH:MM closing time.
func (s *Store) GameEndTime() string { return s.String(KeyGameEndTime) }

// GameResultType returns "auto" or "manual".
func (s *Store) GameResultType() string { return s.String(KeyGameResultType) }

// Set writes a new value for key, records the change in SettingsLog, and
// invalidates the cache. Time-string keys are validated by regex.
func (s *Store) Set(ctx context.Context, key, value string, actorID int64) error {
	if key == KeyGameStartTime || key == KeyGameEndTime {
		if !hhmmPattern.MatchString(value) {
			return fmt.Errorf("settings.Set: %s must be HH:MM, got %q", key, value)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("settings.Set: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var oldValue string
	err = tx.GetContext(ctx, &oldValue, `SELECT value FROM settings WHERE key = $1 FOR UPDATE`, key)
	if err != nil {
		return fmt.Errorf("settings.Set: load %s: %w", key, err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE settings SET value = $1, updated_at = now(), updated_by = $2 WHERE key = $3`,
		value, actorID, key); err != nil {
		return fmt.Errorf("settings.Set: update %s: %w", key, err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO settings_log (key, old_value, new_value, changed_by, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		key, oldValue, value, actorID); err != nil {
		return fmt.Errorf("settings.Set: log %s: %w", key, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("settings.Set: commit: %w", err)
	}

	if err := s.reload(ctx); err != nil {
		s.log.Errorw("settings cache reload failed after write", "key", key, "err", err)
	}

	s.audit.Log(ctx, audit.EventSettingsChanged, domain.SeverityInfo,
		fmt.Sprintf("setting %s changed", key),
		fmt.Sprintf(`{"old":%q,"new":%q}`, oldValue, value),
		audit.WithComponent("settings"))

	return nil
}

// PublicSnapshot returns every key flagged public, for the
// GET /api/v1/settings/public endpoint (excludes game_result_type).
func (s *Store) PublicSnapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	for k, v := range s.cache {
		if v.Public {
			out[k] = v.Value
		}
	}
	return out
}

// WithinDailyWindow reports whether t falls within the configured daily
// open hours, delegating to the clock package for the IST comparison.
func (s *Store) WithinDailyWindow(t time.Time) (bool, error) {
	return clock.WithinDailyWindow(t, s.GameStartTime(), s.GameEndTime())
}
