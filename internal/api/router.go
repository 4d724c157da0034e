// Package api - Router setup
package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRouter creates and configures the HTTP router.
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(RecoveryMiddleware)
	r.Use(CORSMiddleware)
	r.Use(LoggingMiddleware)

	// Public routes
	r.HandleFunc("/", h.ServerInfo).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Auth (public)
	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", h.Register).Methods("POST")
	auth.HandleFunc("/login", h.Login).Methods("POST")
	auth.HandleFunc("/refresh-token", h.Refresh).Methods("POST")
	auth.HandleFunc("/forgot-password", h.ForgotPassword).Methods("POST")
	auth.HandleFunc("/reset-password", h.ResetPassword).Methods("POST")

	// Settings (public)
	api.HandleFunc("/settings/public", h.PublicSettings).Methods("GET")

	// Rounds / game history (public)
	api.HandleFunc("/games/current", h.CurrentRound).Methods("GET")
	api.HandleFunc("/games/recent-winners", h.RecentWinners).Methods("GET")
	api.HandleFunc("/games/by-date", h.GamesByDate).Methods("GET")

	// Bet slip snapshot (public, read-only)
	api.HandleFunc("/bets/result/{identifier}", h.BetResult).Methods("GET")

	// Realtime round feed
	api.HandleFunc("/ws/games", h.HandleWebSocket).Methods("GET")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(h.AuthMiddleware)

	protected.HandleFunc("/auth/logout", h.Logout).Methods("POST")
	protected.HandleFunc("/auth/session", h.Session).Methods("GET")

	protected.HandleFunc("/wallet/balance", h.Balance).Methods("GET")
	protected.HandleFunc("/wallet/transactions", h.Transactions).Methods("GET")

	protected.HandleFunc("/games/{gameId}", h.RoundByGameID).Methods("GET")

	protected.HandleFunc("/bets/place", h.PlaceBet).Methods("POST")
	protected.HandleFunc("/bets/claim", h.ClaimSlip).Methods("POST")
	protected.HandleFunc("/bets/cancel/{identifier}", h.CancelSlip).Methods("POST")

	// Admin
	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(h.AdminOnlyMiddleware)
	admin.HandleFunc("/games/live-settlement", h.LiveSettlement).Methods("GET")
	admin.HandleFunc("/games/{gameId}/settle", h.SettleRound).Methods("POST")
	admin.HandleFunc("/settings/{key}", h.UpdateSetting).Methods("PUT")
	admin.HandleFunc("/users/{id}/kill-sessions", h.KillSessions).Methods("POST")

	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	return r
}

// NotFoundHandler handles 404 errors.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondErrorCode(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
}
