// RGS - Card Round Gaming Server
//
// This is the main entry point for the card-round wagering platform. It
// initializes all services and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cardround/rgs/internal/api"
	"github.com/cardround/rgs/internal/audit"
	"github.com/cardround/rgs/internal/auth"
	"github.com/cardround/rgs/internal/barcode"
	"github.com/cardround/rgs/internal/betengine"
	"github.com/cardround/rgs/internal/cancel"
	"github.com/cardround/rgs/internal/claim"
	"github.com/cardround/rgs/internal/clock"
	"github.com/cardround/rgs/internal/config"
	"github.com/cardround/rgs/internal/database"
	"github.com/cardround/rgs/internal/rng"
	"github.com/cardround/rgs/internal/round"
	"github.com/cardround/rgs/internal/scheduler"
	"github.com/cardround/rgs/internal/selector"
	"github.com/cardround/rgs/internal/settings"
	"github.com/cardround/rgs/internal/settlement"
	"github.com/cardround/rgs/internal/wallet"
)

func main() {
	printBanner()

	cfg := config.Load()
	log.Printf("Configuration loaded (port: %s, db: %s)", cfg.Server.Port, cfg.Database.DSN)

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()
	api.SetLogger(sugar)

	db, err := database.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("✓ Database connected")

	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("✓ Database migrations complete")

	auditSvc := audit.New(db.DB, sugar)
	log.Println("✓ Audit service initialized")

	rngSvc := rng.New()
	rngHealth, err := rngSvc.HealthCheck()
	if err != nil || !rngHealth.Healthy {
		log.Fatalf("RNG health check failed: %v", err)
	}
	log.Printf("✓ RNG service initialized (Chi-Square: %.2f, Passed: %v)", rngHealth.ChiSquare, rngHealth.ChiSquarePassed)

	clk := clock.Real{}

	sett := settings.New(db.DB, auditSvc, sugar)
	if err := sett.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	log.Println("✓ Settings store initialized")

	codec := barcode.New(cfg.Game.BarcodeSecret)
	log.Println("✓ Barcode codec initialized")

	walletSvc := wallet.New(db.DB)
	log.Println("✓ Wallet service initialized")

	rounds := round.New(db.DB, clk, sett)
	log.Println("✓ Round manager initialized")

	authSvc := auth.New(db.DB, &cfg.Auth, auditSvc)
	log.Println("✓ Auth service initialized")

	betEngine := betengine.New(db.DB, walletSvc, rounds, sett, codec, auditSvc)
	cancelEngine := cancel.New(db.DB, walletSvc, auditSvc)
	claimEngine := claim.New(db.DB, walletSvc, auditSvc)
	log.Println("✓ Bet, cancellation and claim engines initialized")

	manualMode := func() bool { return sett.GameResultType() == settings.ResultTypeManual }
	settlementEngine := settlement.New(db.DB, auditSvc, sugar, manualMode)
	log.Println("✓ Settlement engine initialized")

	sel := selector.New(rngSvc)
	feed := api.NewFeed()
	sched := scheduler.New(rounds, sett, sel, settlementEngine, auditSvc, sugar, clk, feed)

	log.Println("Running startup recovery...")
	if err := sched.Recover(context.Background()); err != nil {
		log.Fatalf("Startup recovery failed: %v", err)
	}
	log.Println("✓ Startup recovery complete")

	if !cfg.Game.SchedulerOff {
		sched.Start(context.Background())
		log.Println("✓ Scheduler started")
	} else {
		log.Println("✓ Scheduler disabled (SCHEDULER_DISABLED=true)")
	}

	handler := api.New(authSvc, walletSvc, rounds, betEngine, cancelEngine, settlementEngine, claimEngine, sett, rngSvc, sugar, feed)
	router := handler.SetupRouter()
	log.Println("✓ API routes configured")

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("🎰 RGS Server starting on http://localhost:%s", cfg.Server.Port)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		printEndpoints(cfg.Server.Port)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	auditSvc.Log(context.Background(), "system_startup", "info", "RGS server started",
		fmt.Sprintf(`{"port":%q}`, cfg.Server.Port), audit.WithComponent("main"))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("\nShutdown signal received...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	auditSvc.Log(context.Background(), "system_shutdown", "info", "RGS server stopped", "", audit.WithComponent("main"))

	log.Println("Server stopped gracefully")
}

func printBanner() {
	banner := `
╔═══════════════════════════════════════════════════════════════╗
║                                                               ║
║   ██████╗  ██████╗ ███████╗    Card Round Gaming Server       ║
║   ██╔══██╗██╔════╝ ██╔════╝                                   ║
║   ██████╔╝██║  ███╗███████╗                                   ║
║   ██╔══██╗██║   ██║╚════██║    12-Card Fixed-Odds Wagering    ║
║   ██║  ██║╚██████╔╝███████║                                   ║
║   ╚═╝  ╚═╝ ╚═════╝ ╚══════╝                                   ║
║                                                               ║
╚═══════════════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
}

func printEndpoints(port string) {
	log.Println("Available Endpoints:")
	log.Println("")
	log.Println("  Public:")
	log.Printf("    GET  http://localhost:%s/                          Server info", port)
	log.Printf("    GET  http://localhost:%s/health                    Health check", port)
	log.Printf("    GET  http://localhost:%s/api/v1/settings/public    Public settings", port)
	log.Println("")
	log.Println("  Authentication:")
	log.Printf("    POST http://localhost:%s/api/v1/auth/register        Register", port)
	log.Printf("    POST http://localhost:%s/api/v1/auth/login           Login", port)
	log.Printf("    POST http://localhost:%s/api/v1/auth/refresh-token   Refresh tokens", port)
	log.Printf("    POST http://localhost:%s/api/v1/auth/forgot-password Forgot password (stub)", port)
	log.Printf("    POST http://localhost:%s/api/v1/auth/reset-password  Reset password (stub)", port)
	log.Printf("    POST http://localhost:%s/api/v1/auth/logout          Logout", port)
	log.Printf("    GET  http://localhost:%s/api/v1/auth/session         Session info", port)
	log.Println("")
	log.Println("  Wallet:")
	log.Printf("    GET  http://localhost:%s/api/v1/wallet/balance      Get balance", port)
	log.Printf("    GET  http://localhost:%s/api/v1/wallet/transactions Transaction history", port)
	log.Println("")
	log.Println("  Rounds & Bets:")
	log.Printf("    GET  http://localhost:%s/api/v1/games/current         Current round", port)
	log.Printf("    GET  http://localhost:%s/api/v1/games/recent-winners  Recent winners", port)
	log.Printf("    GET  http://localhost:%s/api/v1/games/by-date         Rounds by IST date", port)
	log.Printf("    GET  http://localhost:%s/api/v1/games/{gameId}        Round details", port)
	log.Printf("    GET  http://localhost:%s/api/v1/bets/result/{id}      Bet slip snapshot", port)
	log.Printf("    POST http://localhost:%s/api/v1/bets/place            Place bet slip", port)
	log.Printf("    POST http://localhost:%s/api/v1/bets/cancel/{id}      Cancel slip", port)
	log.Printf("    POST http://localhost:%s/api/v1/bets/claim            Claim payout", port)
	log.Println("")
	log.Println("  Admin:")
	log.Printf("    GET  http://localhost:%s/api/v1/admin/games/live-settlement  Live settlement view", port)
	log.Printf("    POST http://localhost:%s/api/v1/admin/games/{gameId}/settle  Settle round", port)
	log.Printf("    PUT  http://localhost:%s/api/v1/admin/settings/{key}          Update setting", port)
	log.Printf("    POST http://localhost:%s/api/v1/admin/users/{id}/kill-sessions Kill sessions", port)
	log.Println("")
	log.Println("  WebSocket:")
	log.Printf("    WS   ws://localhost:%s/api/v1/ws/games              Round event feed", port)
}
