package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookstore/pkg/clientstore"
	"bookstore/pkg/domain"
	"bookstore/services/storefront/internal/cart"
	"bookstore/services/storefront/internal/catalog"
	"bookstore/services/storefront/internal/session"
)

type stubAuth struct{}

var errStub = errors.New("not wired")

func (stubAuth) Login(string, string) (domain.User, error)            { return domain.User{}, errStub }
func (stubAuth) Register(string, string, string) (domain.User, error) { return domain.User{}, errStub }
func (stubAuth) Logout(string) error                                  { return errStub }
func (stubAuth) Me(string) (domain.User, error)                       { return domain.User{}, errStub }
func (stubAuth) Refresh(string) (domain.User, error)                  { return domain.User{}, errStub }

// signInAuth accepts every login.
type signInAuth struct{ stubAuth }

func (signInAuth) Login(username, _ string) (domain.User, error) {
	return domain.User{ID: "1", Username: username, AccessToken: "a-1", RefreshToken: "r-1"}, nil
}

func newTestRegistry(t *testing.T, now *time.Time) *registry {
	t.Helper()
	return newTestRegistryWith(t, now, stubAuth{}, time.Minute)
}

func newTestRegistryWith(t *testing.T, now *time.Time, auth session.AuthClient, idle time.Duration) *registry {
	t.Helper()
	build := func(id string, storage clientstore.Storage) *visitor {
		return &visitor{
			id:      id,
			storage: storage,
			session: session.New(auth, storage),
			catalog: catalog.NewView(nil),
			cart:    cart.New(id, storage),
		}
	}
	r := newRegistry(clientstore.NewMemoryBackend(), build, idle, time.Second)
	r.now = func() time.Time { return *now }
	return r
}

func TestRegistryReusesMountedVisitor(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, &now)
	a, err := r.get("v1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := r.get("v1")
	if a != b {
		t.Fatalf("expected the same visitor")
	}
	<-a.session.Restored()
	if _, err := r.get(" "); err == nil {
		t.Fatalf("expected error for blank visitor id")
	}
}

func TestRegistrySweepsIdleVisitors(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, &now)
	r.get("old")
	now = now.Add(45 * time.Second)
	r.get("fresh")
	now = now.Add(30 * time.Second)

	if n := r.sweep(); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if r.size() != 1 {
		t.Fatalf("expected one remaining visitor, got %d", r.size())
	}
}

func mounted(r *registry, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.visitors[id]
	return ok
}

func TestRegistryGuestsExpireBeforeSignedInVisitors(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRegistryWith(t, &now, signInAuth{}, 30*time.Minute)
	if r.guestIdle != defaultGuestIdle {
		t.Fatalf("guest idle = %v, want %v", r.guestIdle, defaultGuestIdle)
	}

	member, _ := r.get("member")
	<-member.session.Restored()
	if _, err := member.session.Login(context.Background(), domain.Credentials{Username: "ann", Password: "pw"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	guest, _ := r.get("guest")
	<-guest.session.Restored()

	now = now.Add(5 * time.Minute)
	if n := r.sweep(); n != 1 {
		t.Fatalf("expected only the guest to be evicted, got %d", n)
	}
	if mounted(r, "guest") || !mounted(r, "member") {
		t.Fatalf("guest should be gone and the signed-in visitor kept")
	}

	now = now.Add(30 * time.Minute)
	if n := r.sweep(); n != 1 || r.size() != 0 {
		t.Fatalf("signed-in visitor should expire after the full idle window, evicted %d, left %d", n, r.size())
	}
}

func TestRegistryCapEvictsLeastRecentlySeen(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, &now)
	r.maxVisitors = 2

	a, _ := r.get("a")
	now = now.Add(time.Second)
	r.get("b")
	now = now.Add(time.Second)
	if again, _ := r.get("a"); again != a {
		t.Fatalf("expected the mounted visitor to be reused")
	}
	now = now.Add(time.Second)
	r.get("c")

	if r.size() != 2 {
		t.Fatalf("registry grew past its cap: %d", r.size())
	}
	if mounted(r, "b") {
		t.Fatalf("least recently seen visitor should have been evicted")
	}
	if !mounted(r, "a") || !mounted(r, "c") {
		t.Fatalf("recently seen visitors should stay mounted")
	}
}

func TestRegistryShortIdleBoundsGuestIdle(t *testing.T) {
	r := newRegistry(clientstore.NewMemoryBackend(), nil, 30*time.Second, time.Second)
	if r.guestIdle != 30*time.Second {
		t.Fatalf("guest idle should not exceed idle, got %v", r.guestIdle)
	}
}
