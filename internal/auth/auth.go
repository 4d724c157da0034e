// Package auth implements the Session Authority (C5): credential
// verification, access/refresh token issuance, and single-session
// enforcement.
//
// Grounded on the teacher's internal/auth.Service JWT issuance/validation
// shape (jwt.Parse with an explicit HMAC method check, a session row
// backing every token), stripped of its pateplay external-identity
// delegation and rebuilt around direct user_id/bcrypt-password login plus
// the refresh-token table SPEC_FULL.md §3 defines. sessionVersion embeds
// User.LastLogin so killing sessions never needs to touch individual
// tokens.
package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/cardround/rgs/internal/apperr"
	"github.com/cardround/rgs/internal/audit"
	"github.com/cardround/rgs/internal/config"
	"github.com/cardround/rgs/internal/domain"
)

var (
	// ErrInvalidCredentials covers both unknown user_id and wrong password;
	// the two are never distinguished to callers.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserExists         = errors.New("auth: user_id already registered")
	ErrTokenInvalid       = errors.New("auth: token invalid or expired")
)

// Service is the Session Authority.
type Service struct {
	db    *sqlx.DB
	cfg   *config.AuthConfig
	audit *audit.Service
}

// New builds a Service.
func New(db *sqlx.DB, cfg *config.AuthConfig, auditSvc *audit.Service) *Service {
	return &Service{db: db, cfg: cfg, audit: auditSvc}
}

// accessClaims is the payload of an access token. SessionVersion is the
// epoch-millis value of User.LastLogin at issuance; validation rejects any
// token whose SessionVersion no longer matches the user's current row.
type accessClaims struct {
	jwt.RegisteredClaims
	UserID         int64           `json:"uid"`
	UserType       domain.UserType `json:"utyp"`
	SessionVersion int64           `json:"sv"`
}

// Register creates a new player account with a bcrypt-hashed password and
// a zero balance.
func (s *Service) Register(ctx context.Context, userID, password string) (*domain.User, error) {
	if userID == "" || len(password) < 8 {
		return nil, apperr.Validation(apperr.CodeInvalidBet, "user_id required and password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth.Register: hash password: %w", err)
	}

	var u domain.User
	err = s.db.GetContext(ctx, &u, `
		INSERT INTO users (user_id, password_hash, status, user_type, balance, last_login)
		VALUES ($1, $2, 'active', 'player', 0, now())
		RETURNING id, user_id, password_hash, status, user_type, balance, last_login, created_at, updated_at`,
		userID, string(hash))
	if err != nil {
		return nil, ErrUserExists
	}

	s.audit.Log(ctx, audit.EventUserRegistered, domain.SeverityInfo,
		fmt.Sprintf("user %s registered", userID), "", audit.WithActor(u.ID))

	return &u, nil
}

// LoginResult is returned on a successful login.
type LoginResult struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
}

// Login verifies credentials and, subject to single-session enforcement,
// issues a fresh access/refresh token pair (SPEC_FULL.md §4.5).
func (s *Service) Login(ctx context.Context, userID, password, ip, userAgent string, forceLogout, requesterIsAdmin bool) (*LoginResult, error) {
	var u domain.User
	err := s.db.GetContext(ctx, &u, `
		SELECT id, user_id, password_hash, status, user_type, balance, last_login, created_at, updated_at
		FROM users WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		s.recordLogin(ctx, nil, userID, false, ip, userAgent)
		return nil, apperr.Auth(apperr.CodeInvalidCredentials, "invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("auth.Login: lookup user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		s.recordLogin(ctx, &u.ID, userID, false, ip, userAgent)
		s.audit.Log(ctx, audit.EventLoginFailed, domain.SeverityWarning,
			fmt.Sprintf("failed login for %s", userID), "", audit.WithActor(u.ID), audit.WithIP(ip))
		return nil, apperr.Auth(apperr.CodeInvalidCredentials, "invalid credentials")
	}

	if u.Status != domain.UserStatusActive {
		return nil, apperr.Auth(apperr.CodeInvalidCredentials, "account is not active")
	}

	if err := s.enforceSingleSession(ctx, u.ID, forceLogout && requesterIsAdmin); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("auth.Login: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE users SET last_login = $1, updated_at = $1 WHERE id = $2`, now, u.ID); err != nil {
		return nil, fmt.Errorf("auth.Login: update last_login: %w", err)
	}
	u.LastLogin = now

	refreshToken, refreshID, err := s.issueRefreshToken(ctx, tx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("auth.Login: issue refresh: %w", err)
	}

	accessToken, err := s.signAccessToken(&u)
	if err != nil {
		return nil, fmt.Errorf("auth.Login: sign access token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("auth.Login: commit: %w", err)
	}

	s.recordLogin(ctx, &u.ID, userID, true, ip, userAgent)
	s.audit.Log(ctx, audit.EventLogin, domain.SeverityInfo,
		fmt.Sprintf("user %s logged in", userID), refreshID.String(),
		audit.WithActor(u.ID), audit.WithIP(ip))

	return &LoginResult{User: &u, AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// enforceSingleSession implements the strict single-session rule: expired
// rows are swept first, then any remaining live session blocks login
// unless an admin is forcing the logout.
func (s *Service) enforceSingleSession(ctx context.Context, userID int64, forceLogout bool) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE user_id = $1 AND expires_at < now() - interval '7 days'`, userID); err != nil {
		return fmt.Errorf("auth: housekeeping: %w", err)
	}

	var live int
	if err := s.db.GetContext(ctx, &live, `
		SELECT count(*) FROM refresh_tokens WHERE user_id = $1 AND NOT revoked AND expires_at > now()`, userID); err != nil {
		return fmt.Errorf("auth: count live sessions: %w", err)
	}

	if live == 0 {
		return nil
	}
	if !forceLogout {
		return apperr.Conflict(apperr.CodeActiveSessionExists, "an active session already exists for this account")
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE user_id = $1 AND NOT revoked`, userID); err != nil {
		return apperr.Integrity(apperr.CodeActiveSessionExists, "failed to revoke existing sessions", err)
	}
	return nil
}

func (s *Service) issueRefreshToken(ctx context.Context, tx *sqlx.Tx, userID int64) (token string, id uuid.UUID, err error) {
	id = uuid.New()
	raw := uuid.New().String()
	hash := hashToken(raw)
	expiresAt := time.Now().UTC().Add(s.cfg.RefreshTokenExpiry)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, revoked, expires_at, created_at)
		VALUES ($1, $2, $3, false, $4, now())`, id, userID, hash, expiresAt)
	if err != nil {
		return "", uuid.Nil, err
	}
	return id.String() + "." + raw, id, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (s *Service) signAccessToken(u *domain.User) (string, error) {
	now := time.Now().UTC()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenExpiry)),
		},
		UserID:         u.ID,
		UserType:       u.UserType,
		SessionVersion: u.SessionVersion(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.AccessTokenSecret))
}

// ValidateAccessToken parses and verifies an access token, then confirms
// its embedded session version still matches the user's current
// last_login — the check that makes killSessions instantly invalidate
// every outstanding token.
func (s *Service) ValidateAccessToken(ctx context.Context, tokenString string) (*domain.User, error) {
	var claims accessClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.AccessTokenSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}

	var u domain.User
	err = s.db.GetContext(ctx, &u, `
		SELECT id, user_id, password_hash, status, user_type, balance, last_login, created_at, updated_at
		FROM users WHERE id = $1`, claims.UserID)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	if u.SessionVersion() != claims.SessionVersion {
		return nil, ErrTokenInvalid
	}
	if u.Status != domain.UserStatusActive {
		return nil, ErrTokenInvalid
	}

	return &u, nil
}

// Refresh rotates the refresh token: the presented token must be live and
// unrevoked; it is revoked and replaced atomically along with a fresh
// access token, so a stolen-and-replayed refresh token is usable exactly
// once.
func (s *Service) Refresh(ctx context.Context, presented string) (*LoginResult, error) {
	id, raw, ok := splitRefreshToken(presented)
	if !ok {
		return nil, ErrTokenInvalid
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("auth.Refresh: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rt domain.RefreshToken
	err = tx.GetContext(ctx, &rt, `
		SELECT id, user_id, token_hash, revoked, expires_at, created_at, revoked_at
		FROM refresh_tokens WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("auth.Refresh: lookup: %w", err)
	}
	if rt.Revoked || rt.ExpiresAt.Before(time.Now().UTC()) || rt.TokenHash != hashToken(raw) {
		return nil, ErrTokenInvalid
	}

	var u domain.User
	if err := tx.GetContext(ctx, &u, `
		SELECT id, user_id, password_hash, status, user_type, balance, last_login, created_at, updated_at
		FROM users WHERE id = $1`, rt.UserID); err != nil {
		return nil, fmt.Errorf("auth.Refresh: load user: %w", err)
	}
	if u.Status != domain.UserStatusActive {
		return nil, ErrTokenInvalid
	}

	if _, err := tx.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("auth.Refresh: revoke old: %w", err)
	}

	newToken, _, err := s.issueRefreshToken(ctx, tx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("auth.Refresh: issue new: %w", err)
	}

	accessToken, err := s.signAccessToken(&u)
	if err != nil {
		return nil, fmt.Errorf("auth.Refresh: sign access: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("auth.Refresh: commit: %w", err)
	}

	return &LoginResult{User: &u, AccessToken: accessToken, RefreshToken: newToken}, nil
}

func splitRefreshToken(presented string) (id uuid.UUID, raw string, ok bool) {
	for i := 0; i < len(presented); i++ {
		if presented[i] == '.' {
			parsed, err := uuid.Parse(presented[:i])
			if err != nil {
				return uuid.Nil, "", false
			}
			return parsed, presented[i+1:], true
		}
	}
	return uuid.Nil, "", false
}

// Logout revokes the presented refresh token.
func (s *Service) Logout(ctx context.Context, presented string) error {
	id, _, ok := splitRefreshToken(presented)
	if !ok {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE id = $1`, id)
	return err
}

// KillSessions is the administrative operation that instantly invalidates
// every session for a user: revoke all live refresh tokens and bump
// last_login so every outstanding access token's session version goes
// stale.
func (s *Service) KillSessions(ctx context.Context, userID, actorID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("auth.KillSessions: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE user_id = $1 AND NOT revoked`, userID); err != nil {
		return fmt.Errorf("auth.KillSessions: revoke: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET last_login = now(), updated_at = now() WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("auth.KillSessions: bump last_login: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("auth.KillSessions: commit: %w", err)
	}

	s.audit.Log(ctx, audit.EventSessionsKilled, domain.SeverityWarning,
		fmt.Sprintf("sessions killed for user %d", userID), "", audit.WithActor(actorID))
	return nil
}

func (s *Service) recordLogin(ctx context.Context, userID *int64, userIDStr string, success bool, ip, userAgent string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_history (user_id, user_id_str, success, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`, userID, userIDStr, success, ip, userAgent)
	if err != nil {
		s.audit.Log(ctx, audit.EventLoginFailed, domain.SeverityWarning, "failed to record login history", err.Error())
	}
}
