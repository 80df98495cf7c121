// Package session holds the visitor's authenticated user and keeps the
// issued tokens in durable client storage.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"bookstore/pkg/clientstore"
	"bookstore/pkg/domain"
	"bookstore/services/storefront/internal/gate"
)

// AuthClient is the subset of the backend auth API the store needs.
type AuthClient interface {
	Login(username, password string) (domain.User, error)
	Register(username, email, password string) (domain.User, error)
	Logout(token string) error
	Me(token string) (domain.User, error)
	Refresh(refreshToken string) (domain.User, error)
}

// Store owns one visitor's session. The user lives in memory; tokens live in
// storage so a later CheckSession can restore it.
type Store struct {
	auth    AuthClient
	storage clientstore.Storage
	now     func() time.Time

	mu       sync.RWMutex
	user     *domain.User
	state    gate.State
	restored chan struct{}
	once     sync.Once
}

// New returns a store in the Restoring state.
func New(auth AuthClient, storage clientstore.Storage) *Store {
	return &Store{
		auth:     auth,
		storage:  storage,
		now:      time.Now,
		state:    gate.Restoring,
		restored: make(chan struct{}),
	}
}

// User returns the current user, if any.
func (s *Store) User() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

// State reports the gate state of the session.
func (s *Store) State() gate.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Restored is closed once the session state is known.
func (s *Store) Restored() <-chan struct{} {
	return s.restored
}

// Login authenticates, persists both tokens and sets the current user. A
// response without a refresh token drops any stored one. On failure the
// previous state is left untouched.
func (s *Store) Login(ctx context.Context, creds domain.Credentials) (domain.User, error) {
	if err := validate(creds, false); err != nil {
		return domain.User{}, err
	}
	user, err := s.auth.Login(strings.TrimSpace(creds.Username), creds.Password)
	if err != nil {
		return domain.User{}, classify("login", err)
	}
	s.persistTokens(ctx, user)
	if user.RefreshToken == "" {
		if err := s.storage.Delete(ctx, clientstore.RefreshTokenKey); err != nil {
			slog.Warn("clear stale refresh token failed", "err", err)
		}
	}
	s.setUser(&user)
	return user, nil
}

// Register creates an account and signs the visitor in. Tokens are persisted
// only when the backend issued them.
func (s *Store) Register(ctx context.Context, creds domain.Credentials) (domain.User, error) {
	if err := validate(creds, true); err != nil {
		return domain.User{}, err
	}
	user, err := s.auth.Register(strings.TrimSpace(creds.Username), strings.TrimSpace(creds.Email), creds.Password)
	if err != nil {
		return domain.User{}, classify("register", err)
	}
	if user.AccessToken != "" {
		s.persistTokens(ctx, user)
	}
	s.setUser(&user)
	return user, nil
}

// Logout tells the backend and always clears the local session. A backend
// failure is returned after the local state is gone.
func (s *Store) Logout(ctx context.Context) error {
	token := s.accessToken(ctx)
	var remoteErr error
	if token != "" {
		if err := s.auth.Logout(token); err != nil {
			remoteErr = classify("logout", err)
		}
	}
	s.clearTokens(ctx)
	s.setUser(nil)
	return remoteErr
}

// CheckSession restores the user from stored tokens. An access token whose
// exp has passed is exchanged with the refresh token first. Rejected tokens
// are dropped; transport failures keep them for a later attempt. The session
// ends up Authenticated or Unauthenticated either way.
func (s *Store) CheckSession(ctx context.Context) error {
	token := s.read(ctx, clientstore.TokenKey)
	refresh := s.read(ctx, clientstore.RefreshTokenKey)
	if token == "" && refresh == "" {
		s.setUser(nil)
		return nil
	}

	var (
		user domain.User
		err  error
	)
	if (token == "" || tokenExpired(token, s.now())) && refresh != "" {
		user, err = s.auth.Refresh(refresh)
		if err == nil && user.ID == "" && user.AccessToken != "" {
			refreshed := user
			user, err = s.auth.Me(refreshed.AccessToken)
			user.RefreshToken = refreshed.RefreshToken
		}
		if err == nil {
			s.persistTokens(ctx, user)
		}
	} else {
		user, err = s.auth.Me(token)
		if err == nil && user.RefreshToken == "" {
			user.RefreshToken = refresh
		}
	}
	if err != nil {
		err = classify("check session", err)
		var authErr *AuthError
		if errors.As(err, &authErr) {
			s.clearTokens(ctx)
		}
		s.setUser(nil)
		return err
	}
	s.setUser(&user)
	return nil
}

func (s *Store) setUser(user *domain.User) {
	s.mu.Lock()
	s.user = user
	if user != nil {
		s.state = gate.Authenticated
	} else {
		s.state = gate.Unauthenticated
	}
	s.mu.Unlock()
	s.once.Do(func() { close(s.restored) })
}

func (s *Store) accessToken(ctx context.Context) string {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()
	if user != nil && user.AccessToken != "" {
		return user.AccessToken
	}
	return s.read(ctx, clientstore.TokenKey)
}

func (s *Store) persistTokens(ctx context.Context, user domain.User) {
	if err := s.storage.Set(ctx, clientstore.TokenKey, user.AccessToken); err != nil {
		slog.Warn("persist access token failed", "err", err)
	}
	if user.RefreshToken == "" {
		return
	}
	if err := s.storage.Set(ctx, clientstore.RefreshTokenKey, user.RefreshToken); err != nil {
		slog.Warn("persist refresh token failed", "err", err)
	}
}

func (s *Store) clearTokens(ctx context.Context) {
	for _, key := range []string{clientstore.TokenKey, clientstore.RefreshTokenKey} {
		if err := s.storage.Delete(ctx, key); err != nil {
			slog.Warn("clear stored token failed", "key", key, "err", err)
		}
	}
}

func (s *Store) read(ctx context.Context, key string) string {
	v, ok, err := s.storage.Get(ctx, key)
	if err != nil {
		slog.Warn("read client storage failed", "key", key, "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func validate(creds domain.Credentials, register bool) error {
	if strings.TrimSpace(creds.Username) == "" {
		return &ValidationError{Field: "username", Message: "username is required"}
	}
	if register && strings.TrimSpace(creds.Email) == "" {
		return &ValidationError{Field: "email", Message: "email is required"}
	}
	if creds.Password == "" {
		return &ValidationError{Field: "password", Message: "password is required"}
	}
	return nil
}

// tokenExpired reads exp without verifying the signature; only the backend
// can verify. Tokens that are not JWTs are never considered expired.
func tokenExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.After(now)
}
