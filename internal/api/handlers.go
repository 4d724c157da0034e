// Package api provides the HTTP API for the wagering platform, per
// SPEC_FULL.md §6 (external interfaces).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardround/rgs/internal/apperr"
	"github.com/cardround/rgs/internal/auth"
	"github.com/cardround/rgs/internal/betengine"
	"github.com/cardround/rgs/internal/cancel"
	"github.com/cardround/rgs/internal/claim"
	"github.com/cardround/rgs/internal/domain"
	"github.com/cardround/rgs/internal/rng"
	"github.com/cardround/rgs/internal/round"
	"github.com/cardround/rgs/internal/settings"
	"github.com/cardround/rgs/internal/settlement"
	"github.com/cardround/rgs/internal/wallet"
)

// Handler contains all HTTP handlers.
type Handler struct {
	auth       *auth.Service
	wallet     *wallet.Service
	rounds     *round.Manager
	bets       *betengine.Engine
	cancels    *cancel.Engine
	settlement *settlement.Engine
	claims     *claim.Engine
	settings   *settings.Store
	rng        *rng.Service
	log        *zap.SugaredLogger
	feed       *Feed
}

// New creates a new API handler.
func New(authSvc *auth.Service, walletSvc *wallet.Service, rounds *round.Manager, bets *betengine.Engine,
	cancels *cancel.Engine, settlementSvc *settlement.Engine, claims *claim.Engine, sett *settings.Store,
	rngSvc *rng.Service, log *zap.SugaredLogger, feed *Feed) *Handler {
	return &Handler{
		auth:       authSvc,
		wallet:     walletSvc,
		rounds:     rounds,
		bets:       bets,
		cancels:    cancels,
		settlement: settlementSvc,
		claims:     claims,
		settings:   sett,
		rng:        rngSvc,
		log:        log,
		feed:       feed,
	}
}

// APIResponse is the response envelope for every endpoint.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError is the error envelope nested in APIResponse.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// respondErr maps a business error to its HTTP status, preferring
// apperr.Error's own mapping and falling back to 500 for anything
// unrecognized.
func respondErr(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*apperr.Error); ok {
		status := appErr.HTTPStatus()
		if appErr.Kind == apperr.KindConflict && appErr.Code == apperr.CodeActiveSessionExists {
			status = http.StatusForbidden
		}
		respondErrorCode(w, status, appErr.Code, appErr.Message)
		return
	}
	respondErrorCode(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
}

func respondErrorCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
	})
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

type ctxKey string

const ctxUserKey ctxKey = "user"

func userFromContext(ctx context.Context) *domain.User {
	u, _ := ctx.Value(ctxUserKey).(*domain.User)
	return u
}

// === Health & Info ===

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	rngHealth, _ := h.rng.HealthCheck()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"rng_status": rngHealth,
	})
}

// ServerInfo handles GET /.
func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name": "cardround-rgs",
	})
}

// PublicSettings handles GET /api/v1/settings/public.
func (h *Handler) PublicSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.settings.PublicSnapshot())
}

// === Auth ===

type registerRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

// Register handles POST /api/v1/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, http.StatusBadRequest, apperr.CodeInvalidBet, "invalid request body")
		return
	}
	u, err := h.auth.Register(r.Context(), req.UserID, req.Password)
	if errors.Is(err, auth.ErrUserExists) {
		respondErrorCode(w, http.StatusBadRequest, apperr.CodeDuplicateRequest, "user_id already registered")
		return
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, u)
}

type loginRequest struct {
	UserID      string `json:"user_id"`
	Password    string `json:"password"`
	ForceLogout bool   `json:"force_logout"`
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, http.StatusBadRequest, apperr.CodeInvalidBet, "invalid request body")
		return
	}

	result, err := h.auth.Login(r.Context(), req.UserID, req.Password, getClientIP(r), r.UserAgent(), req.ForceLogout, false)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          result.User,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /api/v1/auth/refresh-token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, http.StatusBadRequest, apperr.CodeInvalidBet, "invalid request body")
		return
	}
	result, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondErrorCode(w, http.StatusUnauthorized, apperr.CodeSessionExpired, "refresh token invalid or expired")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
	})
}

// Logout handles POST /api/v1/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	_ = h.auth.Logout(r.Context(), req.RefreshToken)
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Session handles GET /api/v1/auth/session.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	respondJSON(w, http.StatusOK, u)
}

// KillSessions handles POST /api/v1/admin/users/{id}/kill-sessions.
func (h *Handler) KillSessions(w http.ResponseWriter, r *http.Request) {
	actor := userFromContext(r.Context())
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondErrorCode(w, http.StatusBadRequest, apperr.CodeInvalidBet, "invalid user id")
		return
	}
	if err := h.auth.KillSessions(r.Context(), id, actor.ID); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "sessions_killed"})
}

// === Wallet ===

// Balance handles GET /api/v1/wallet/balance.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	balance, err := h.wallet.GetBalance(r.Context(), u.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"balance": balance})
}

// Transactions handles GET /api/v1/wallet/transactions.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := h.wallet.GetTransactions(r.Context(), u.ID, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, txs)
}

// === Rounds / games ===

// CurrentRound handles GET /api/v1/games/current.
func (h *Handler) CurrentRound(w http.ResponseWriter, r *http.Request) {
	rnd, err := h.rounds.GetActiveOrNewestPending(r.Context())
	if errors.Is(err, round.ErrRoundNotFound) {
		respondErrorCode(w, http.StatusNotFound, apperr.CodeRoundNotFound, "no open round")
		return
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rnd)
}

// RoundByGameID handles GET /api/v1/games/{gameId}.
func (h *Handler) RoundByGameID(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["gameId"]
	rnd, err := h.rounds.GetByGameID(r.Context(), gameID)
	if errors.Is(err, round.ErrRoundNotFound) {
		respondErrorCode(w, http.StatusNotFound, apperr.CodeRoundNotFound, "round not found")
		return
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	totals, err := h.rounds.CardTotals(r.Context(), gameID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"round": rnd, "card_totals": totals})
}

// === Bets ===

type betRequest struct {
	CardNumber int    `json:"card_number"`
	Amount     string `json:"bet_amount"`
}

type placeBetRequest struct {
	GameID string       `json:"game_id"`
	Bets   []betRequest `json:"bets"`
}

// PlaceBet handles POST /api/v1/bets/place. The idempotency key, if any,
// arrives via the X-Idempotency-Key header, never the body.
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())

	var req placeBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, http.StatusBadRequest, apperr.CodeInvalidBet, "invalid request body")
		return
	}

	bets, err := parseBets(req.Bets)
	if err != nil {
		respondErr(w, err)
		return
	}

	idempotencyKey := r.Header.Get("X-Idempotency-Key")
	result, err := h.bets.PlaceBet(r.Context(), u.ID, req.GameID, bets, idempotencyKey, getClientIP(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func parseBets(in []betRequest) ([]betengine.Bet, error) {
	out := make([]betengine.Bet, 0, len(in))
	for _, b := range in {
		amount, err := decimal.NewFromString(b.Amount)
		if err != nil {
			return nil, apperr.Validation(apperr.CodeInvalidBet, "bet_amount must be a valid decimal")
		}
		out = append(out, betengine.Bet{CardNumber: b.CardNumber, Amount: amount})
	}
	return out, nil
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelSlip handles POST /api/v1/bets/cancel/{identifier}.
func (h *Handler) CancelSlip(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	identifier := mux.Vars(r)["identifier"]

	var req cancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	isAdmin := u.UserType == domain.UserTypeAdmin
	if err := h.cancels.CancelSlip(r.Context(), identifier, u.ID, isAdmin, req.Reason); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type claimRequest struct {
	Identifier string `json:"identifier"`
}

// ClaimSlip handles POST /api/v1/bets/claim.
func (h *Handler) ClaimSlip(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, http.StatusBadRequest, apperr.CodeInvalidBet, "invalid request body")
		return
	}

	result, err := h.claims.Claim(r.Context(), req.Identifier, u.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// BetResult handles GET /api/v1/bets/result/{identifier}: a public,
// read-only slip snapshot including whether it was cancelled.
func (h *Handler) BetResult(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]
	result, err := h.bets.Result(r.Context(), identifier)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// === Admin: settlement & settings ===

type settleRequest struct {
	WinningCard int `json:"winning_card"`
}

// SettleRound handles POST /api/v1/admin/games/{gameId}/settle.
func (h *Handler) SettleRound(w http.ResponseWriter, r *http.Request) {
	actor := userFromContext(r.Context())
	gameID := mux.Vars(r)["gameId"]

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, http.StatusBadRequest, apperr.CodeInvalidBet, "invalid request body")
		return
	}
	if err := h.settlement.Settle(r.Context(), gameID, req.WinningCard, actor.ID); err != nil {
		respondErr(w, err)
		return
	}
	h.feed.Publish("round_settled", gameID, req.WinningCard)
	respondJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

type settingRequest struct {
	Value string `json:"value"`
}

// UpdateSetting handles PUT /api/v1/admin/settings/{key}.
func (h *Handler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	actor := userFromContext(r.Context())
	key := mux.Vars(r)["key"]

	var req settingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, http.StatusBadRequest, apperr.CodeInvalidBet, "invalid request body")
		return
	}
	if err := h.settings.Set(r.Context(), key, req.Value, actor.ID); err != nil {
		respondErrorCode(w, http.StatusBadRequest, apperr.CodeInvalidBet, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// LiveSettlement handles GET /api/v1/admin/games/live-settlement: the
// priority view an operator watches — any completed-but-not-settled round,
// else the newest pending or active round.
func (h *Handler) LiveSettlement(w http.ResponseWriter, r *http.Request) {
	pending, err := h.rounds.PendingSettlement(r.Context(), 1, 0)
	if err != nil {
		respondErr(w, err)
		return
	}
	if len(pending) > 0 {
		respondJSON(w, http.StatusOK, pending[0])
		return
	}

	rnd, err := h.rounds.GetActiveOrNewestPending(r.Context())
	if errors.Is(err, round.ErrRoundNotFound) {
		respondErrorCode(w, http.StatusNotFound, apperr.CodeRoundNotFound, "no round available")
		return
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rnd)
}

// === Game history ===

// RecentWinners handles GET /api/v1/games/recent-winners.
func (h *Handler) RecentWinners(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rounds, err := h.rounds.RecentWinners(r.Context(), limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rounds)
}

// GamesByDate handles GET /api/v1/games/by-date?date=YYYY-MM-DD (IST
// calendar day).
func (h *Handler) GamesByDate(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	rounds, err := h.rounds.ByDate(r.Context(), date)
	if err != nil {
		respondErrorCode(w, http.StatusBadRequest, apperr.CodeInvalidBet, "invalid date")
		return
	}
	respondJSON(w, http.StatusOK, rounds)
}

// === Ambient auth stubs ===

type forgotPasswordRequest struct {
	UserID string `json:"user_id"`
}

// ForgotPassword handles POST /api/v1/auth/forgot-password. A stub,
// external-collaborator route kept as a thin pass-through per SPEC_FULL.md
// §6: it never reveals whether the account exists.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	respondJSON(w, http.StatusOK, map[string]string{"status": "if_account_exists_reset_instructions_sent"})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ResetPassword handles POST /api/v1/auth/reset-password. Stub pass-through;
// the reset-token flow is not implemented.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, http.StatusBadRequest, apperr.CodeInvalidBet, "invalid request body")
		return
	}
	respondErrorCode(w, http.StatusBadRequest, "RESET_NOT_AVAILABLE", "password reset is not available")
}
