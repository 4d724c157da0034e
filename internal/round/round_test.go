package round

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cardround/rgs/internal/audit"
	"github.com/cardround/rgs/internal/clock"
	"github.com/cardround/rgs/internal/database"
	"github.com/cardround/rgs/internal/settings"
)

func setupTestRound(t *testing.T, now time.Time) (*Manager, func()) {
	t.Helper()

	db, err := database.New("postgres", "host=localhost dbname=rgs_test sslmode=disable")
	if err != nil {
		t.Skipf("database unavailable, skipping integration test: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Logf("migration note: %v", err)
	}
	if err := db.CleanData(); err != nil {
		t.Fatalf("failed to clean data: %v", err)
	}

	auditSvc := audit.New(db.DB, zap.NewNop().Sugar())
	sett := settings.New(db.DB, auditSvc, zap.NewNop().Sugar())
	if err := sett.Load(context.Background()); err != nil {
		t.Fatalf("settings.Load: %v", err)
	}

	mgr := New(db.DB, clock.Fixed{At: now}, sett)
	return mgr, func() {
		_ = db.CleanData()
		_ = db.Close()
	}
}

func TestCreateNextRound_WithinOpenHours(t *testing.T) {
	// 2026-01-01T09:00:00Z is 14:30 IST, well inside the 08:00-22:00 default window.
	now, _ := time.Parse(time.RFC3339, "2026-01-01T09:00:00Z")
	mgr, cleanup := setupTestRound(t, now)
	defer cleanup()
	ctx := context.Background()

	r, err := mgr.CreateNextRound(ctx)
	if err != nil {
		t.Fatalf("CreateNextRound: %v", err)
	}
	if r == nil {
		t.Fatal("expected a round to be created within open hours")
	}

	totals, err := mgr.CardTotals(ctx, r.GameID)
	if err != nil {
		t.Fatalf("CardTotals: %v", err)
	}
	for i, total := range totals {
		if !total.IsZero() {
			t.Errorf("expected card %d total to start at zero, got %s", i+1, total)
		}
	}
}

func TestCreateNextRound_IsIdempotent(t *testing.T) {
	now, _ := time.Parse(time.RFC3339, "2026-01-01T09:00:00Z")
	mgr, cleanup := setupTestRound(t, now)
	defer cleanup()
	ctx := context.Background()

	first, err := mgr.CreateNextRound(ctx)
	if err != nil || first == nil {
		t.Fatalf("first CreateNextRound: round=%v err=%v", first, err)
	}

	second, err := mgr.CreateNextRound(ctx)
	if err != nil {
		t.Fatalf("second CreateNextRound: %v", err)
	}
	if second != nil {
		t.Error("expected the second call for the same boundary to no-op")
	}
}

func TestCreateNextRound_OutsideOpenHours(t *testing.T) {
	// 2026-01-01T20:00:00Z is 01:30 IST the next day, outside 08:00-22:00.
	now, _ := time.Parse(time.RFC3339, "2026-01-01T20:00:00Z")
	mgr, cleanup := setupTestRound(t, now)
	defer cleanup()
	ctx := context.Background()

	r, err := mgr.CreateNextRound(ctx)
	if err != nil {
		t.Fatalf("CreateNextRound: %v", err)
	}
	if r != nil {
		t.Error("expected no round to be created outside the daily window")
	}
}

func TestGetByGameID_NotFound(t *testing.T) {
	now, _ := time.Parse(time.RFC3339, "2026-01-01T09:00:00Z")
	mgr, cleanup := setupTestRound(t, now)
	defer cleanup()
	ctx := context.Background()

	if _, err := mgr.GetByGameID(ctx, "202601010000"); err != ErrRoundNotFound {
		t.Fatalf("expected ErrRoundNotFound, got %v", err)
	}
}

func TestActivatePending_TransitionsPastBoundary(t *testing.T) {
	now, _ := time.Parse(time.RFC3339, "2026-01-01T09:00:00Z")
	mgr, cleanup := setupTestRound(t, now)
	defer cleanup()
	ctx := context.Background()

	r, err := mgr.CreateNextRound(ctx)
	if err != nil || r == nil {
		t.Fatalf("CreateNextRound: round=%v err=%v", r, err)
	}

	if _, err := mgr.db.ExecContext(ctx, `UPDATE rounds SET start_time = now() - interval '1 second' WHERE game_id = $1`, r.GameID); err != nil {
		t.Fatalf("backdate start_time: %v", err)
	}

	n, err := mgr.ActivatePending(ctx)
	if err != nil {
		t.Fatalf("ActivatePending: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 round activated, got %d", n)
	}

	got, err := mgr.GetByGameID(ctx, r.GameID)
	if err != nil {
		t.Fatalf("GetByGameID: %v", err)
	}
	if got.Status != "active" {
		t.Errorf("expected status active, got %s", got.Status)
	}
}
