package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/skycast-app/skycast/internal/domain"
	"github.com/skycast-app/skycast/internal/observability"
	"github.com/skycast-app/skycast/internal/repository"
	"github.com/skycast-app/skycast/internal/security"
)

// AuthService is the single authority over the refresh-session lifecycle:
// it creates, validates, rotates and revokes sessions and mints access
// tokens. All cross-request state lives in the repositories; the service
// itself holds none, so it is safe to share across handlers and processes.
type AuthService struct {
	users      repository.UserRepository
	sessions   repository.SessionRepository
	jwtMgr     *security.JWTManager
	pepper     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// LoginResult carries the freshly minted token pair. RefreshToken is the
// plaintext secret destined for the cookie; it exists nowhere else.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Session      *domain.RefreshSession
}

func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	jwtMgr *security.JWTManager,
	pepper string,
	accessTTL, refreshTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:      users,
		sessions:   sessions,
		jwtMgr:     jwtMgr,
		pepper:     pepper,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *AuthService) Register(email, password string) (*domain.UserPublic, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, invalidField("email", "is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalidField("email", "is not a valid address")
	}
	if password == "" {
		return nil, invalidField("password", "is required")
	}
	if !security.PasswordMeetsPolicy(password) {
		return nil, invalidField("password", "must be at least 8 characters with upper, lower and digit")
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{Email: email, PasswordHash: hash}
	if err := s.users.Create(user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			observability.RecordAuthEvent(context.Background(), "register", "conflict")
			return nil, ErrEmailTaken
		}
		observability.RecordAuthEvent(context.Background(), "register", "error")
		return nil, fmt.Errorf("create user: %w", err)
	}
	observability.RecordAuthEvent(context.Background(), "register", "success")
	pub := user.Public()
	return &pub, nil
}

func (s *AuthService) Login(email, password, userAgent, ip string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthEvent(context.Background(), "login", "unauthorized")
			return nil, ErrInvalidCredentials
		}
		observability.RecordAuthEvent(context.Background(), "login", "error")
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !security.CheckPassword(user.PasswordHash, password) {
		observability.RecordAuthEvent(context.Background(), "login", "unauthorized")
		return nil, ErrInvalidCredentials
	}

	result, err := s.issueSession(user, userAgent, ip)
	if err != nil {
		observability.RecordAuthEvent(context.Background(), "login", "error")
		return nil, err
	}
	observability.RecordAuthEvent(context.Background(), "login", "success")
	return result, nil
}

// Refresh performs the atomic rotation transition. Exactly one of two
// concurrent calls presenting the same token can win: the repository only
// rotates a row it can still see as active under a row lock, so the loser
// observes revoked_at and fails. A token that was already consumed by a
// previous rotation is treated as stolen and its descendant chain is
// revoked before the caller gets the same generic failure.
func (s *AuthService) Refresh(presented, userAgent, ip string) (*LoginResult, error) {
	hash := security.HashRefreshToken(presented, s.pepper)
	session, err := s.sessions.FindByHash(hash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordAuthEvent(context.Background(), "refresh", "unauthorized")
			return nil, ErrInvalidRefreshToken
		}
		observability.RecordAuthEvent(context.Background(), "refresh", "error")
		return nil, fmt.Errorf("find session: %w", err)
	}

	now := time.Now()
	if session.ConsumedByRotation() {
		revoked, revokeErr := s.sessions.RevokeChainFromHash(hash)
		if revokeErr != nil {
			slog.Error("revoke descendant chain after token reuse", "user_id", session.UserID, "error", revokeErr)
		} else if revoked > 0 {
			slog.Warn("refresh token reuse detected, descendant chain revoked",
				"user_id", session.UserID, "sessions_revoked", revoked)
		}
		observability.RecordAuthEvent(context.Background(), "refresh", "reuse_detected")
		return nil, ErrInvalidRefreshToken
	}
	if !session.Active(now) {
		observability.RecordAuthEvent(context.Background(), "refresh", "unauthorized")
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.users.FindByID(session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthEvent(context.Background(), "refresh", "unauthorized")
			return nil, ErrInvalidRefreshToken
		}
		observability.RecordAuthEvent(context.Background(), "refresh", "error")
		return nil, fmt.Errorf("find user: %w", err)
	}

	newToken, err := security.NewRefreshToken()
	if err != nil {
		observability.RecordAuthEvent(context.Background(), "refresh", "error")
		return nil, err
	}
	access, err := s.jwtMgr.SignAccessToken(user.ID, user.Email, user.TokenVersion, s.accessTTL)
	if err != nil {
		observability.RecordAuthEvent(context.Background(), "refresh", "error")
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	successor := &domain.RefreshSession{
		UserID:           user.ID,
		RefreshTokenHash: security.HashRefreshToken(newToken, s.pepper),
		ExpiresAt:        now.Add(s.refreshTTL),
		UserAgent:        userAgent,
		IP:               ip,
	}
	if _, err := s.sessions.RotateSession(hash, successor); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			// Lost the race to a concurrent refresh of the same token.
			observability.RecordAuthEvent(context.Background(), "refresh", "unauthorized")
			return nil, ErrInvalidRefreshToken
		}
		observability.RecordAuthEvent(context.Background(), "refresh", "error")
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	observability.RecordAuthEvent(context.Background(), "refresh", "success")
	return &LoginResult{AccessToken: access, RefreshToken: newToken, Session: successor}, nil
}

// Logout revokes the session behind the presented token if it resolves to
// one. Unknown, expired and already-revoked tokens succeed silently so the
// response never reveals token validity.
func (s *AuthService) Logout(presented string) error {
	if presented == "" {
		return nil
	}
	hash := security.HashRefreshToken(presented, s.pepper)
	if err := s.sessions.RevokeByHash(hash); err != nil {
		observability.RecordAuthEvent(context.Background(), "logout", "error")
		return fmt.Errorf("revoke session: %w", err)
	}
	observability.RecordAuthEvent(context.Background(), "logout", "success")
	return nil
}

// InvalidateAllSessions is the mass-invalidation trigger for the user's
// token-version counter: the bump makes every re-minted access token carry a
// new version, and the revocation sweep kills all active refresh sessions.
// Already-issued access tokens ride out their short expiry.
func (s *AuthService) InvalidateAllSessions(userID uint) error {
	if err := s.users.IncrementTokenVersion(userID); err != nil {
		observability.RecordAuthEvent(context.Background(), "logout_all", "error")
		return fmt.Errorf("bump token version: %w", err)
	}
	revoked, err := s.sessions.RevokeByUserID(userID)
	if err != nil {
		observability.RecordAuthEvent(context.Background(), "logout_all", "error")
		return fmt.Errorf("revoke sessions: %w", err)
	}
	slog.Info("all sessions invalidated", "user_id", userID, "sessions_revoked", revoked)
	observability.RecordAuthEvent(context.Background(), "logout_all", "success")
	return nil
}

// ValidateAccessToken is a stateless signature and expiry check. It does not
// consult the store's token_version, so a version bump only takes effect as
// outstanding access tokens expire. Callers that need instant global
// revocation must re-check the version against the store per request and
// give up this statelessness.
func (s *AuthService) ValidateAccessToken(token string) (*security.Claims, error) {
	return s.jwtMgr.ParseAccessToken(token)
}

func (s *AuthService) issueSession(user *domain.User, userAgent, ip string) (*LoginResult, error) {
	refresh, err := security.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	access, err := s.jwtMgr.SignAccessToken(user.ID, user.Email, user.TokenVersion, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	session := &domain.RefreshSession{
		UserID:           user.ID,
		RefreshTokenHash: security.HashRefreshToken(refresh, s.pepper),
		ExpiresAt:        time.Now().Add(s.refreshTTL),
		UserAgent:        userAgent,
		IP:               ip,
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &LoginResult{AccessToken: access, RefreshToken: refresh, Session: session}, nil
}
