package session

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"bookstore/pkg/clientstore"
	"bookstore/pkg/domain"
	"bookstore/services/storefront/internal/authclient"
	"bookstore/services/storefront/internal/gate"
)

type fakeAuth struct {
	loginUser   domain.User
	loginErr    error
	registerErr error
	logoutErr   error
	meUser      domain.User
	meErr       error
	refreshUser domain.User
	refreshErr  error

	loginCalls   int
	logoutCalls  int
	meTokens     []string
	refreshCalls int
}

func (f *fakeAuth) Login(username, password string) (domain.User, error) {
	f.loginCalls++
	return f.loginUser, f.loginErr
}

func (f *fakeAuth) Register(username, email, password string) (domain.User, error) {
	if f.registerErr != nil {
		return domain.User{}, f.registerErr
	}
	return domain.User{ID: "new", Username: username, Email: email}, nil
}

func (f *fakeAuth) Logout(token string) error {
	f.logoutCalls++
	return f.logoutErr
}

func (f *fakeAuth) Me(token string) (domain.User, error) {
	f.meTokens = append(f.meTokens, token)
	u := f.meUser
	u.AccessToken = token
	return u, f.meErr
}

func (f *fakeAuth) Refresh(refreshToken string) (domain.User, error) {
	f.refreshCalls++
	return f.refreshUser, f.refreshErr
}

func newStorage(t *testing.T) clientstore.Storage {
	t.Helper()
	s, err := clientstore.NewMemoryBackend().Namespace("visitor")
	if err != nil {
		t.Fatalf("namespace: %v", err)
	}
	return s
}

func stored(t *testing.T, s clientstore.Storage, key string) (string, bool) {
	t.Helper()
	v, ok, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	return v, ok
}

func TestLoginPersistsTokensAndAuthenticates(t *testing.T) {
	auth := &fakeAuth{loginUser: domain.User{ID: "1", Name: "Ann", AccessToken: "a-1", RefreshToken: "r-1"}}
	storage := newStorage(t)
	s := New(auth, storage)

	user, err := s.Login(context.Background(), domain.Credentials{Username: "ann", Password: "pw"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.Name != "Ann" || s.State() != gate.Authenticated {
		t.Fatalf("unexpected user %+v state %s", user, s.State())
	}
	if v, _ := stored(t, storage, clientstore.TokenKey); v != "a-1" {
		t.Fatalf("access token not persisted: %q", v)
	}
	if v, _ := stored(t, storage, clientstore.RefreshTokenKey); v != "r-1" {
		t.Fatalf("refresh token not persisted: %q", v)
	}
	select {
	case <-s.Restored():
	default:
		t.Fatalf("login should resolve the restoring state")
	}
}

func TestLoginWithoutRefreshTokenDropsStaleOne(t *testing.T) {
	auth := &fakeAuth{loginUser: domain.User{ID: "2", Name: "Bo", AccessToken: "a-2"}}
	storage := newStorage(t)
	ctx := context.Background()
	if err := storage.Set(ctx, clientstore.RefreshTokenKey, "r-old"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := New(auth, storage)

	if _, err := s.Login(ctx, domain.Credentials{Username: "bo", Password: "pw"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if v, _ := stored(t, storage, clientstore.TokenKey); v != "a-2" {
		t.Fatalf("access token not persisted: %q", v)
	}
	if v, ok := stored(t, storage, clientstore.RefreshTokenKey); ok {
		t.Fatalf("refresh token of the previous account survived: %q", v)
	}
}

func TestLoginFailureLeavesStateUntouched(t *testing.T) {
	auth := &fakeAuth{loginErr: &authclient.APIError{Status: http.StatusUnauthorized, Message: "bad credentials"}}
	storage := newStorage(t)
	_ = storage.Set(context.Background(), clientstore.TokenKey, "old")
	s := New(auth, storage)

	_, err := s.Login(context.Background(), domain.Credentials{Username: "ann", Password: "nope"})
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Message != "bad credentials" {
		t.Fatalf("expected AuthError with server message, got %v", err)
	}
	if _, ok := s.User(); ok {
		t.Fatalf("user must stay unset")
	}
	if s.State() != gate.Restoring {
		t.Fatalf("failed login must not change state, got %s", s.State())
	}
	if v, _ := stored(t, storage, clientstore.TokenKey); v != "old" {
		t.Fatalf("stored token must be untouched, got %q", v)
	}
}

func TestLoginServerFailureIsServerError(t *testing.T) {
	auth := &fakeAuth{loginErr: errors.New("connection refused")}
	s := New(auth, newStorage(t))
	_, err := s.Login(context.Background(), domain.Credentials{Username: "ann", Password: "pw"})
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
}

func TestLoginValidatesBeforeNetwork(t *testing.T) {
	auth := &fakeAuth{}
	s := New(auth, newStorage(t))
	_, err := s.Login(context.Background(), domain.Credentials{Username: " ", Password: "pw"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "username" {
		t.Fatalf("expected username validation error, got %v", err)
	}
	if auth.loginCalls != 0 {
		t.Fatalf("no request should be sent on validation failure")
	}
}

func TestRegisterWithoutTokensSetsUserOnly(t *testing.T) {
	storage := newStorage(t)
	s := New(&fakeAuth{}, storage)
	user, err := s.Register(context.Background(), domain.Credentials{Username: "bo", Email: "bo@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID != "new" || s.State() != gate.Authenticated {
		t.Fatalf("unexpected user %+v state %s", user, s.State())
	}
	if _, ok := stored(t, storage, clientstore.TokenKey); ok {
		t.Fatalf("no token should be stored when none was issued")
	}
}

func TestRegisterRequiresEmail(t *testing.T) {
	s := New(&fakeAuth{}, newStorage(t))
	_, err := s.Register(context.Background(), domain.Credentials{Username: "bo", Password: "pw"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "email" {
		t.Fatalf("expected email validation error, got %v", err)
	}
}

func TestLogoutClearsStateEvenWhenBackendFails(t *testing.T) {
	auth := &fakeAuth{
		loginUser: domain.User{ID: "1", AccessToken: "a-1", RefreshToken: "r-1"},
		logoutErr: errors.New("network down"),
	}
	storage := newStorage(t)
	s := New(auth, storage)
	if _, err := s.Login(context.Background(), domain.Credentials{Username: "ann", Password: "pw"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	err := s.Logout(context.Background())
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected backend failure to be reported, got %v", err)
	}
	if _, ok := s.User(); ok || s.State() != gate.Unauthenticated {
		t.Fatalf("logout must clear the user, state %s", s.State())
	}
	if _, ok := stored(t, storage, clientstore.TokenKey); ok {
		t.Fatalf("access token must be removed")
	}
	if _, ok := stored(t, storage, clientstore.RefreshTokenKey); ok {
		t.Fatalf("refresh token must be removed")
	}
	if auth.logoutCalls != 1 {
		t.Fatalf("expected one backend logout, got %d", auth.logoutCalls)
	}
}

func TestLogoutWithoutTokenSkipsBackend(t *testing.T) {
	auth := &fakeAuth{}
	s := New(auth, newStorage(t))
	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if auth.logoutCalls != 0 {
		t.Fatalf("no backend call expected without a token")
	}
}

func TestCheckSessionWithoutTokensIsUnauthenticated(t *testing.T) {
	auth := &fakeAuth{}
	s := New(auth, newStorage(t))
	if err := s.CheckSession(context.Background()); err != nil {
		t.Fatalf("check session: %v", err)
	}
	if s.State() != gate.Unauthenticated || len(auth.meTokens) != 0 {
		t.Fatalf("expected unauthenticated without network, state %s", s.State())
	}
	select {
	case <-s.Restored():
	default:
		t.Fatalf("restored channel must be closed")
	}
}

func TestCheckSessionRestoresWithMe(t *testing.T) {
	auth := &fakeAuth{meUser: domain.User{ID: "1", Name: "Ann"}}
	storage := newStorage(t)
	_ = storage.Set(context.Background(), clientstore.TokenKey, "opaque-token")
	_ = storage.Set(context.Background(), clientstore.RefreshTokenKey, "r-1")
	s := New(auth, storage)

	if err := s.CheckSession(context.Background()); err != nil {
		t.Fatalf("check session: %v", err)
	}
	user, ok := s.User()
	if !ok || user.Name != "Ann" || user.AccessToken != "opaque-token" || user.RefreshToken != "r-1" {
		t.Fatalf("unexpected restored user %+v", user)
	}
	if auth.refreshCalls != 0 {
		t.Fatalf("opaque token must not trigger a refresh")
	}
}

func TestCheckSessionRefreshesExpiredJWT(t *testing.T) {
	expired := signedToken(t, time.Now().Add(-time.Hour))
	auth := &fakeAuth{
		refreshUser: domain.User{AccessToken: "a-2", RefreshToken: "r-2"},
		meUser:      domain.User{ID: "1", Name: "Ann"},
	}
	storage := newStorage(t)
	_ = storage.Set(context.Background(), clientstore.TokenKey, expired)
	_ = storage.Set(context.Background(), clientstore.RefreshTokenKey, "r-1")
	s := New(auth, storage)

	if err := s.CheckSession(context.Background()); err != nil {
		t.Fatalf("check session: %v", err)
	}
	if auth.refreshCalls != 1 {
		t.Fatalf("expected one refresh, got %d", auth.refreshCalls)
	}
	if len(auth.meTokens) != 1 || auth.meTokens[0] != "a-2" {
		t.Fatalf("expected me with refreshed token, got %v", auth.meTokens)
	}
	if v, _ := stored(t, storage, clientstore.TokenKey); v != "a-2" {
		t.Fatalf("refreshed token not stored: %q", v)
	}
	if v, _ := stored(t, storage, clientstore.RefreshTokenKey); v != "r-2" {
		t.Fatalf("rotated refresh token not stored: %q", v)
	}
	if s.State() != gate.Authenticated {
		t.Fatalf("expected authenticated, got %s", s.State())
	}
}

func TestCheckSessionRejectedTokenIsCleared(t *testing.T) {
	auth := &fakeAuth{meErr: &authclient.APIError{Status: http.StatusUnauthorized, Message: "expired"}}
	storage := newStorage(t)
	_ = storage.Set(context.Background(), clientstore.TokenKey, signedToken(t, time.Now().Add(time.Hour)))
	s := New(auth, storage)

	err := s.CheckSession(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if _, ok := stored(t, storage, clientstore.TokenKey); ok {
		t.Fatalf("rejected token must be cleared")
	}
	if s.State() != gate.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %s", s.State())
	}
}

func TestCheckSessionKeepsTokensOnServerError(t *testing.T) {
	auth := &fakeAuth{meErr: errors.New("timeout")}
	storage := newStorage(t)
	_ = storage.Set(context.Background(), clientstore.TokenKey, "opaque")
	s := New(auth, storage)

	err := s.CheckSession(context.Background())
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if v, ok := stored(t, storage, clientstore.TokenKey); !ok || v != "opaque" {
		t.Fatalf("token should be kept for a later attempt")
	}
	if s.State() != gate.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %s", s.State())
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
