package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardround/rgs/internal/audit"
	"github.com/cardround/rgs/internal/clock"
	"github.com/cardround/rgs/internal/database"
	"github.com/cardround/rgs/internal/domain"
	"github.com/cardround/rgs/internal/round"
	"github.com/cardround/rgs/internal/settings"
)

type testFixture struct {
	db      *database.DB
	engine  *Engine
	rounds  *round.Manager
	gameID  string
	userID  int64
	cleanup func()
}

func setupTestSettlement(t *testing.T, manual bool) *testFixture {
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

	now, _ := time.Parse(time.RFC3339, "2026-01-01T09:00:00Z")
	rounds := round.New(db.DB, clock.Fixed{At: now}, sett)
	r, err := rounds.CreateNextRound(context.Background())
	if err != nil || r == nil {
		t.Fatalf("CreateNextRound: round=%v err=%v", r, err)
	}
	if _, err := rounds.ActivatePending(context.Background()); err != nil {
		t.Fatalf("ActivatePending: %v", err)
	}

	var userID int64
	err = db.DB.Get(&userID, `
		INSERT INTO users (user_id, password_hash, status, user_type, balance, last_login)
		VALUES ('settletest', 'hash', 'active', 'player', 0, now())
		RETURNING id`)
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	slipID := "11111111-1111-1111-1111-111111111111"
	if _, err := db.DB.Exec(`
		INSERT INTO bet_slips (slip_id, user_id, game_id, total_amount, payout_amount, status, claimed, barcode, created_at)
		VALUES ($1, $2, $3, 100, 0, 'pending', false, 'BARCODE000001', now())`,
		slipID, userID, r.GameID); err != nil {
		t.Fatalf("insert slip: %v", err)
	}
	if _, err := db.DB.Exec(`
		INSERT INTO bet_details (slip_id, game_id, user_id, card_number, bet_amount, is_winner, payout_amount)
		VALUES ($1, $2, $3, 4, 100, false, 0)`,
		slipID, r.GameID, userID); err != nil {
		t.Fatalf("insert detail: %v", err)
	}

	engine := New(db.DB, auditSvc, zap.NewNop().Sugar(), func() bool { return manual })

	return &testFixture{
		db: db, engine: engine, rounds: rounds, gameID: r.GameID, userID: userID,
		cleanup: func() {
			_ = db.CleanData()
			_ = db.Close()
		},
	}
}

func TestSettle_PaysWinningCardAndZeroesLosers(t *testing.T) {
	f := setupTestSettlement(t, true)
	defer f.cleanup()
	ctx := context.Background()

	if err := f.engine.Settle(ctx, f.gameID, 4, 0); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	var status, settlementStatus string
	var winningCard int
	if err := f.db.DB.QueryRow(`SELECT status, settlement_status, winning_card FROM rounds WHERE game_id = $1`, f.gameID).
		Scan(&status, &settlementStatus, &winningCard); err != nil {
		t.Fatalf("query round: %v", err)
	}
	if domain.SettlementStatus(settlementStatus) != domain.SettlementSettled {
		t.Errorf("expected settlement_status settled, got %s", settlementStatus)
	}
	if winningCard != 4 {
		t.Errorf("expected winning_card 4, got %d", winningCard)
	}

	var payout decimal.Decimal
	var slipStatus string
	if err := f.db.DB.QueryRow(`SELECT payout_amount, status FROM bet_slips WHERE game_id = $1`, f.gameID).
		Scan(&payout, &slipStatus); err != nil {
		t.Fatalf("query slip: %v", err)
	}
	if slipStatus != "won" {
		t.Errorf("expected slip status won, got %s", slipStatus)
	}
	if payout.IsZero() {
		t.Error("expected a non-zero payout for the winning slip")
	}
}

func TestSettle_RejectsDoubleSettlement(t *testing.T) {
	f := setupTestSettlement(t, true)
	defer f.cleanup()
	ctx := context.Background()

	if err := f.engine.Settle(ctx, f.gameID, 4, 0); err != nil {
		t.Fatalf("first Settle: %v", err)
	}
	if err := f.engine.Settle(ctx, f.gameID, 4, 0); err == nil {
		t.Fatal("expected the second Settle call to fail")
	}
}

func TestSettle_RejectsInvalidWinningCard(t *testing.T) {
	f := setupTestSettlement(t, true)
	defer f.cleanup()
	ctx := context.Background()

	if err := f.engine.Settle(ctx, f.gameID, 13, 0); err == nil {
		t.Fatal("expected an out-of-range winning_card to be rejected")
	}
}

func TestSettle_RejectsActiveRoundWithoutManualMode(t *testing.T) {
	f := setupTestSettlement(t, false)
	defer f.cleanup()
	ctx := context.Background()

	if err := f.engine.Settle(ctx, f.gameID, 4, 0); err == nil {
		t.Fatal("expected settlement of a still-active round to be rejected outside manual mode")
	}
}
