package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bookstore/internal/ratelimit"
	"bookstore/internal/util"
	"bookstore/pkg/clientstore"
	"bookstore/services/storefront/internal/cart"
	"bookstore/services/storefront/internal/catalog"
	"bookstore/services/storefront/internal/gate"
	"bookstore/services/storefront/internal/session"
)

const maxFormBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	Auth    session.AuthClient
	Books   catalog.BookClient
	Storage clientstore.Backend

	// Optional collaborators; nil disables them.
	Covers          catalog.CoverSigner
	CartObserver    func(cart.Change)
	LoginLimiter    *ratelimit.FixedWindowLimiter
	RegisterLimiter *ratelimit.FixedWindowLimiter
	TrustedProxies  *util.TrustedProxies

	VisitorCookieName   string
	VisitorCookieSecure bool
	RestoreWait         time.Duration
	SessionIdle         time.Duration
}

// Server renders the storefront pages for every visitor.
type Server struct {
	mux             *http.ServeMux
	visitors        *registry
	pages           map[string]*template.Template
	loginLimiter    *ratelimit.FixedWindowLimiter
	registerLimiter *ratelimit.FixedWindowLimiter
	trustedProxies  *util.TrustedProxies
	cookieName      string
	cookieSecure    bool
	restoreWait     time.Duration
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Auth == nil || cfg.Books == nil || cfg.Storage == nil {
		return nil, errors.New("server: auth, books and storage are required")
	}
	pages, err := parsePages()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	cookieName := strings.TrimSpace(cfg.VisitorCookieName)
	if cookieName == "" {
		cookieName = "bookstore_visitor"
	}
	restoreWait := cfg.RestoreWait
	if restoreWait <= 0 {
		restoreWait = 5 * time.Second
	}
	idle := cfg.SessionIdle
	if idle <= 0 {
		idle = 30 * time.Minute
	}

	var viewOpts []catalog.Option
	if cfg.Covers != nil {
		viewOpts = append(viewOpts, catalog.WithCoverSigner(cfg.Covers))
	}
	build := func(id string, storage clientstore.Storage) *visitor {
		c := cart.New(id, storage)
		if cfg.CartObserver != nil {
			c.Subscribe(cfg.CartObserver)
		}
		return &visitor{
			id:      id,
			storage: storage,
			session: session.New(cfg.Auth, storage),
			catalog: catalog.NewView(cfg.Books, viewOpts...),
			cart:    c,
		}
	}

	s := &Server{
		mux:             http.NewServeMux(),
		visitors:        newRegistry(cfg.Storage, build, idle, restoreWait*2),
		pages:           pages,
		loginLimiter:    cfg.LoginLimiter,
		registerLimiter: cfg.RegisterLimiter,
		trustedProxies:  cfg.TrustedProxies,
		cookieName:      cookieName,
		cookieSecure:    cfg.VisitorCookieSecure,
		restoreWait:     restoreWait,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("storefront", util.WithSecurityHeaders(s.mux)))
}

// Run evicts idle visitors until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.visitors.run(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// guest pages
	s.mux.Handle("GET /login", s.page(s.handleLoginPage))
	s.mux.Handle("POST /login", s.page(s.handleLogin))
	s.mux.Handle("GET /register", s.page(s.handleRegisterPage))
	s.mux.Handle("POST /register", s.page(s.handleRegister))

	// signed-in pages
	s.mux.Handle("GET /{$}", s.page(s.handleHome))
	s.mux.Handle("POST /logout", s.page(s.handleLogout))
	s.mux.Handle("POST /books", s.page(s.handleCreateBook))
	s.mux.Handle("POST /books/{id}/delete", s.page(s.handleDeleteBook))
	s.mux.Handle("POST /books/{id}/buy", s.page(s.handleBuyBook))
	s.mux.Handle("GET /cart", s.page(s.handleCart))
	s.mux.Handle("GET /search", s.page(s.handleSearch))
	s.mux.Handle("GET /api/cart", s.page(s.handleCartJSON))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type visitorHandler func(http.ResponseWriter, *http.Request, *visitor)

// page mounts the visitor and applies the session gate before next runs.
func (s *Server) page(next visitorHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, err := s.mountVisitor(w, r)
		if err != nil {
			util.LoggerFromContext(r.Context()).Error("mount visitor failed", "err", err)
			http.Error(w, "storefront unavailable", http.StatusInternalServerError)
			return
		}
		r = r.WithContext(util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("visitor_id", v.id)))

		decision := gate.Resolve(v.session.State(), r.URL.Path)
		if decision.Action == gate.Wait {
			decision = s.awaitRestore(r, v)
		}
		switch decision.Action {
		case gate.Redirect:
			if isAPI(r) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			http.Redirect(w, r, decision.To, http.StatusSeeOther)
		case gate.Wait:
			w.Header().Set("Retry-After", "1")
			if isAPI(r) {
				writeError(w, http.StatusServiceUnavailable, "session is being restored")
				return
			}
			s.render(w, r, http.StatusServiceUnavailable, "restoring", pageData{Title: "Loading"})
		default:
			next(w, r, v)
		}
	})
}

// awaitRestore blocks until the visitor's session is known, the restore wait
// elapses or the client goes away, then asks the gate again.
func (s *Server) awaitRestore(r *http.Request, v *visitor) gate.Decision {
	timer := time.NewTimer(s.restoreWait)
	defer timer.Stop()
	select {
	case <-v.session.Restored():
	case <-timer.C:
	case <-r.Context().Done():
	}
	return gate.Resolve(v.session.State(), r.URL.Path)
}

func (s *Server) mountVisitor(w http.ResponseWriter, r *http.Request) (*visitor, error) {
	id := ""
	if c, err := r.Cookie(s.cookieName); err == nil && util.ValidID(c.Value) {
		id = c.Value
	}
	if id == "" {
		id = util.NewID()
		http.SetCookie(w, &http.Cookie{
			Name:     s.cookieName,
			Value:    id,
			Path:     "/",
			MaxAge:   int((365 * 24 * time.Hour).Seconds()),
			HttpOnly: true,
			Secure:   s.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return s.visitors.get(id)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// allowRate reports whether the caller is within the limiter's quota. A nil
// limiter never blocks.
func (s *Server) allowRate(r *http.Request, limiter *ratelimit.FixedWindowLimiter) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	return limiter.Allow(r.Context(), key)
}

func isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("write json failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
