package handlers

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"time"

	"hospital/auth"
	"hospital/models"
	"hospital/ui"
	"hospital/utils"

	"go.uber.org/zap"
)

// Authenticator is the account logic the handlers drive.
type Authenticator interface {
	Login(ctx context.Context, in auth.LoginInput) (*models.User, error)
	Signup(ctx context.Context, in auth.SignupInput) (*auth.SignupResult, error)
	Verify(ctx context.Context, userID int64, token string) error
	ResendVerification(ctx context.Context, in auth.ResendInput) error
	CurrentUser(ctx context.Context, userID int64) (*models.User, error)
}

// SessionManager is implemented by *utils.SessionStore.
type SessionManager interface {
	Create(ctx context.Context, session models.Session) (*models.Session, error)
	Get(ctx context.Context, token string) (*models.Session, error)
	Rotate(ctx context.Context, old *models.Session, update models.Session) (*models.Session, error)
	Delete(ctx context.Context, token string) error
	TTL() time.Duration
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	SecureCookies     bool
	TrustProxy        bool
	UsernameCookieTTL time.Duration
	HSTS              bool
}

type Handler struct {
	auth     Authenticator
	sessions SessionManager
	pages    map[string]*template.Template
	checks   map[string]HealthCheck
	opts     Options
	log      *zap.Logger
}

func New(a Authenticator, sessions SessionManager, checks map[string]HealthCheck, opts Options, log *zap.Logger) (*Handler, error) {
	pages, err := ui.ParsePages()
	if err != nil {
		return nil, err
	}
	if opts.UsernameCookieTTL == 0 {
		opts.UsernameCookieTTL = time.Hour
	}
	return &Handler{
		auth:     a,
		sessions: sessions,
		pages:    pages,
		checks:   checks,
		opts:     opts,
		log:      log,
	}, nil
}

// Routes returns the application's handler wrapped in its middleware chain.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.index)
	mux.HandleFunc("GET /login", h.loginPage)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("GET /signup", h.signupPage)
	mux.HandleFunc("POST /signup", h.signup)
	mux.HandleFunc("GET /verify", h.verifyPage)
	mux.HandleFunc("POST /verify", h.verify)
	mux.HandleFunc("POST /verify/resend", h.resendVerification)
	mux.HandleFunc("GET /home", h.home)
	mux.HandleFunc("POST /logout", h.logout)
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("/", h.notFound)

	return h.requestID(h.logRequests(h.recoverPanic(h.secureHeaders(mux))))
}

// lookupSession returns the session named by the request cookie, or nil when there is
// none. The store slides the session's expiry on every lookup.
func (h *Handler) lookupSession(r *http.Request) (*models.Session, error) {
	c, err := r.Cookie(utils.SessionCookie)
	if err != nil || c.Value == "" {
		return nil, nil
	}
	s, err := h.sessions.Get(r.Context(), c.Value)
	if errors.Is(err, utils.ErrSessionNotFound) {
		return nil, nil
	}
	return s, err
}

// session is lookupSession plus re-issuing the cookies, so the browser keeps the
// session for as long as the store does.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*models.Session, error) {
	s, err := h.lookupSession(r)
	if err != nil || s == nil {
		return s, err
	}
	utils.SetSessionCookie(w, s.SessionToken, h.sessions.TTL(), h.opts.SecureCookies)
	if s.LoggedIn && s.Username != "" {
		utils.SetUsernameCookie(w, s.Username, h.opts.UsernameCookieTTL, h.opts.SecureCookies)
	}
	return s, nil
}

// anonymousSession returns the current session or starts an anonymous one so a CSRF
// token can be embedded in the form being served.
func (h *Handler) anonymousSession(w http.ResponseWriter, r *http.Request) (*models.Session, error) {
	s, err := h.session(w, r)
	if err != nil || s != nil {
		return s, err
	}
	s, err = h.sessions.Create(r.Context(), models.Session{
		UserAgent: utils.GetUserAgent(r),
		IPAddress: utils.GetIP(r, h.opts.TrustProxy),
	})
	if err != nil {
		return nil, err
	}
	utils.SetSessionCookie(w, s.SessionToken, h.sessions.TTL(), h.opts.SecureCookies)
	return s, nil
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Error("health check failed", zap.String("check", name), zap.Error(err))
			status = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if status == http.StatusOK {
		w.Write([]byte("ok\n"))
		return
	}
	w.Write([]byte("unavailable\n"))
}
