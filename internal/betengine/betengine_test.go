package betengine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardround/rgs/internal/audit"
	"github.com/cardround/rgs/internal/barcode"
	"github.com/cardround/rgs/internal/clock"
	"github.com/cardround/rgs/internal/database"
	"github.com/cardround/rgs/internal/round"
	"github.com/cardround/rgs/internal/settings"
	"github.com/cardround/rgs/internal/wallet"
)

type testFixture struct {
	engine  *Engine
	rounds  *round.Manager
	wallet  *wallet.Service
	userID  int64
	gameID  string
	cleanup func()
}

func setupTestBetEngine(t *testing.T) *testFixture {
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

	// 09:00 UTC is 14:30 IST, inside the default 08:00-22:00 open window.
	now, _ := time.Parse(time.RFC3339, "2026-01-01T09:00:00Z")
	rounds := round.New(db.DB, clock.Fixed{At: now}, sett)
	r, err := rounds.CreateNextRound(context.Background())
	if err != nil || r == nil {
		t.Fatalf("CreateNextRound: round=%v err=%v", r, err)
	}
	if _, err := rounds.ActivatePending(context.Background()); err != nil {
		t.Fatalf("ActivatePending: %v", err)
	}
	// PlaceBet checks end_time against the wall clock, so keep the fixed
	// round open for the duration of the test.
	if _, err := db.DB.Exec(`UPDATE rounds SET end_time = now() + interval '5 minutes' WHERE game_id = $1`, r.GameID); err != nil {
		t.Fatalf("extend round: %v", err)
	}

	walletSvc := wallet.New(db.DB)
	codec := barcode.New("test-secret-at-least-32-bytes-long!!")
	engine := New(db.DB, walletSvc, rounds, sett, codec, auditSvc)

	var userID int64
	err = db.DB.Get(&userID, `
		INSERT INTO users (user_id, password_hash, status, user_type, balance, last_login)
		VALUES ('bettor', 'hash', 'active', 'player', 1000, now())
		RETURNING id`)
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	return &testFixture{
		engine: engine, rounds: rounds, wallet: walletSvc, userID: userID, gameID: r.GameID,
		cleanup: func() {
			_ = db.CleanData()
			_ = db.Close()
		},
	}
}

func TestPlaceBet_DebitsWalletAndUpdatesCardTotals(t *testing.T) {
	f := setupTestBetEngine(t)
	defer f.cleanup()
	ctx := context.Background()

	bets := []Bet{
		{CardNumber: 3, Amount: decimal.NewFromInt(100)},
		{CardNumber: 7, Amount: decimal.NewFromInt(50)},
	}

	result, err := f.engine.PlaceBet(ctx, f.userID, f.gameID, bets, "", "127.0.0.1")
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if result.Barcode == "" {
		t.Error("expected a non-empty barcode")
	}

	balance, err := f.wallet.GetBalance(ctx, f.userID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(850)) {
		t.Errorf("expected balance 850 after a 150 wager, got %s", balance)
	}

	totals, err := f.rounds.CardTotals(ctx, f.gameID)
	if err != nil {
		t.Fatalf("CardTotals: %v", err)
	}
	if !totals[2].Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected card 3 total 100, got %s", totals[2])
	}
	if !totals[6].Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected card 7 total 50, got %s", totals[6])
	}
}

func TestPlaceBet_IdempotencyKeyShortCircuitsReplay(t *testing.T) {
	f := setupTestBetEngine(t)
	defer f.cleanup()
	ctx := context.Background()

	bets := []Bet{{CardNumber: 1, Amount: decimal.NewFromInt(10)}}

	first, err := f.engine.PlaceBet(ctx, f.userID, f.gameID, bets, "idem-key-1", "127.0.0.1")
	if err != nil {
		t.Fatalf("first PlaceBet: %v", err)
	}

	second, err := f.engine.PlaceBet(ctx, f.userID, f.gameID, bets, "idem-key-1", "127.0.0.1")
	if err != nil {
		t.Fatalf("second PlaceBet: %v", err)
	}
	if !second.Duplicate {
		t.Error("expected the replayed request to be flagged Duplicate")
	}
	if second.SlipID != first.SlipID {
		t.Error("expected the replayed request to return the original slip id")
	}

	balance, err := f.wallet.GetBalance(ctx, f.userID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(990)) {
		t.Errorf("expected the wager to be debited only once, balance = %s", balance)
	}
}

func TestPlaceBet_RejectsOverLimit(t *testing.T) {
	f := setupTestBetEngine(t)
	defer f.cleanup()
	ctx := context.Background()

	// default maximum_limit is 5000
	bets := []Bet{{CardNumber: 1, Amount: decimal.NewFromInt(6000)}}
	if _, err := f.engine.PlaceBet(ctx, f.userID, f.gameID, bets, "", "127.0.0.1"); err == nil {
		t.Fatal("expected an over-limit bet to be rejected")
	}
}

func TestPlaceBet_RejectsDuplicateCardInSlip(t *testing.T) {
	f := setupTestBetEngine(t)
	defer f.cleanup()
	ctx := context.Background()

	bets := []Bet{
		{CardNumber: 5, Amount: decimal.NewFromInt(10)},
		{CardNumber: 5, Amount: decimal.NewFromInt(20)},
	}
	if _, err := f.engine.PlaceBet(ctx, f.userID, f.gameID, bets, "", "127.0.0.1"); err == nil {
		t.Fatal("expected a slip with a duplicate card_number to be rejected")
	}
}
