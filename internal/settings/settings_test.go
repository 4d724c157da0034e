package settings

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/cardround/rgs/internal/audit"
	"github.com/cardround/rgs/internal/database"
)

func setupTestSettings(t *testing.T) (*Store, func()) {
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
	store := New(db.DB, auditSvc, zap.NewNop().Sugar())
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	return store, func() {
		_ = db.CleanData()
		_ = db.Close()
	}
}

func TestLoad_SeedsDefaults(t *testing.T) {
	store, cleanup := setupTestSettings(t)
	defer cleanup()

	if store.GameStartTime() != "08:00" {
		t.Errorf("expected default game_start_time 08:00, got %s", store.GameStartTime())
	}
	limit, err := store.MaximumLimit()
	if err != nil {
		t.Fatalf("MaximumLimit: %v", err)
	}
	if limit != 5000 {
		t.Errorf("expected default maximum_limit 5000, got %v", limit)
	}
}

func TestSet_UpdatesCacheAndLog(t *testing.T) {
	store, cleanup := setupTestSettings(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Set(ctx, KeyMaximumLimit, "7500", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}

	limit, err := store.MaximumLimit()
	if err != nil {
		t.Fatalf("MaximumLimit: %v", err)
	}
	if limit != 7500 {
		t.Errorf("expected updated maximum_limit 7500, got %v", limit)
	}
}

func TestSet_RejectsMalformedTime(t *testing.T) {
	store, cleanup := setupTestSettings(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Set(ctx, KeyGameStartTime, "25:99", 1); err == nil {
		t.Fatal("expected a malformed HH:MM value to be rejected")
	}
}

func TestPublicSnapshot_ExcludesNonPublicKeys(t *testing.T) {
	store, cleanup := setupTestSettings(t)
	defer cleanup()

	snapshot := store.PublicSnapshot()
	if _, ok := snapshot[KeyGameResultType]; ok {
		t.Error("expected game_result_type to be excluded from the public snapshot")
	}
	if _, ok := snapshot[KeyGameMultiplier]; !ok {
		t.Error("expected game_multiplier to be included in the public snapshot")
	}
}
