package cancel

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardround/rgs/internal/audit"
	"github.com/cardround/rgs/internal/clock"
	"github.com/cardround/rgs/internal/database"
	"github.com/cardround/rgs/internal/round"
	"github.com/cardround/rgs/internal/settings"
	"github.com/cardround/rgs/internal/wallet"
)

type testFixture struct {
	db      *database.DB
	engine  *Engine
	wallet  *wallet.Service
	gameID  string
	userID  int64
	slipID  string
	cleanup func()
}

func setupTestCancel(t *testing.T) *testFixture {
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

	walletSvc := wallet.New(db.DB)

	var userID int64
	err = db.DB.Get(&userID, `
		INSERT INTO users (user_id, password_hash, status, user_type, balance, last_login)
		VALUES ('canceltest', 'hash', 'active', 'player', 900, now())
		RETURNING id`)
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	slipID := "22222222-2222-2222-2222-222222222222"
	if _, err := db.DB.Exec(`
		INSERT INTO bet_slips (slip_id, user_id, game_id, total_amount, payout_amount, status, claimed, barcode, created_at)
		VALUES ($1, $2, $3, 100, 0, 'pending', false, 'BARCODE000002', now())`,
		slipID, userID, r.GameID); err != nil {
		t.Fatalf("insert slip: %v", err)
	}
	if _, err := db.DB.Exec(`
		INSERT INTO bet_details (slip_id, game_id, user_id, card_number, bet_amount, is_winner, payout_amount)
		VALUES ($1, $2, $3, 4, 100, false, 0)`,
		slipID, r.GameID, userID); err != nil {
		t.Fatalf("insert detail: %v", err)
	}
	if _, err := db.DB.Exec(`
		UPDATE round_card_totals SET total_bet_amount = 100 WHERE game_id = $1 AND card_number = 4`, r.GameID); err != nil {
		t.Fatalf("seed card total: %v", err)
	}

	engine := New(db.DB, walletSvc, auditSvc)

	return &testFixture{
		db: db, engine: engine, wallet: walletSvc, gameID: r.GameID, userID: userID, slipID: slipID,
		cleanup: func() {
			_ = db.CleanData()
			_ = db.Close()
		},
	}
}

func TestCancelSlip_RefundsAndZeroesCardTotal(t *testing.T) {
	f := setupTestCancel(t)
	defer f.cleanup()
	ctx := context.Background()

	if err := f.engine.CancelSlip(ctx, f.slipID, f.userID, false, "changed my mind"); err != nil {
		t.Fatalf("CancelSlip: %v", err)
	}

	balance, err := f.wallet.GetBalance(ctx, f.userID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected balance 1000 after refund, got %s", balance)
	}

	var total decimal.Decimal
	if err := f.db.DB.QueryRow(`SELECT total_bet_amount FROM round_card_totals WHERE game_id = $1 AND card_number = 4`, f.gameID).Scan(&total); err != nil {
		t.Fatalf("query card total: %v", err)
	}
	if !total.IsZero() {
		t.Errorf("expected card total to be refunded to zero, got %s", total)
	}
}

func TestCancelSlip_RejectsNonOwner(t *testing.T) {
	f := setupTestCancel(t)
	defer f.cleanup()
	ctx := context.Background()

	if err := f.engine.CancelSlip(ctx, f.slipID, f.userID+999, false, ""); err == nil {
		t.Fatal("expected cancellation by a non-owner to be rejected")
	}
}

func TestCancelSlip_RejectsDoubleCancellation(t *testing.T) {
	f := setupTestCancel(t)
	defer f.cleanup()
	ctx := context.Background()

	if err := f.engine.CancelSlip(ctx, f.slipID, f.userID, false, ""); err != nil {
		t.Fatalf("first CancelSlip: %v", err)
	}
	if err := f.engine.CancelSlip(ctx, f.slipID, f.userID, false, ""); err == nil {
		t.Fatal("expected the second cancellation to be rejected")
	}
}

func TestCancelSlip_RejectsInactiveOwner(t *testing.T) {
	f := setupTestCancel(t)
	defer f.cleanup()
	ctx := context.Background()

	if _, err := f.db.DB.Exec(`UPDATE users SET status = 'banned' WHERE id = $1`, f.userID); err != nil {
		t.Fatalf("failed to ban user: %v", err)
	}

	if err := f.engine.CancelSlip(ctx, f.slipID, f.userID, false, ""); err == nil {
		t.Fatal("expected cancellation for a banned owner to be rejected")
	}
}

func TestCancelSlip_AdminCanCancelAnySlip(t *testing.T) {
	f := setupTestCancel(t)
	defer f.cleanup()
	ctx := context.Background()

	if err := f.engine.CancelSlip(ctx, f.slipID, f.userID+999, true, "admin override"); err != nil {
		t.Fatalf("expected an admin to be able to cancel another user's slip: %v", err)
	}
}
