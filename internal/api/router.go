package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/audiobooks/authd/internal/account"
	"github.com/audiobooks/authd/internal/inbox"
	"github.com/audiobooks/authd/internal/metrics"
	"github.com/audiobooks/authd/internal/notification"
	"github.com/audiobooks/authd/internal/recovery"
	"github.com/audiobooks/authd/internal/repositories"
	"github.com/audiobooks/authd/internal/session"
	"github.com/audiobooks/authd/internal/websocket"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It is
// populated in main.go once every component is constructed and passed to
// NewRouter as a single struct to keep the constructor signature manageable.
type RouterConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger

	Directory    *account.Directory
	Sessions     *session.Manager
	Notify       notification.Service
	Registration *recovery.RegistrationService
	Recovery     *recovery.Service
	Inbox        *inbox.Service
	BackupCodes  repositories.BackupCodeRepository
	Hub          *websocket.Hub

	// BaseURL is prefixed to a magic-link token to build the link emailed
	// to the user.
	BaseURL string

	// Secure controls whether the session cookie is set with the Secure
	// flag. True in production (HTTPS), false in local development.
	Secure bool

	// Dev relaxes the registration flow: the verification token is
	// returned inline in the response instead of delivered out-of-band.
	// It also turns off the session cookie's Secure flag.
	Dev bool

	// AuthEnabled gates the Gateway's "*IfEnabled" guards. The routes
	// registered by NewRouter use the base LoginRequired/AdminRequired
	// guards, which do not read it, so it does not lift their checks.
	AuthEnabled bool
}

// NewRouter builds and returns the fully configured Chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// RequestID generates a unique ID for each request, used in logs and
	// response headers for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or
	// X-Real-IP headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status, latency.
	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches panics in handlers, logs them, returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	gateway := NewGateway(cfg.Sessions, cfg.Directory, cfg.AuthEnabled)
	r.Use(gateway.ResolveSession)

	authHandler := NewAuthHandler(cfg.Directory, cfg.Sessions, cfg.Notify, cfg.Registration, cfg.Logger, cfg.Secure, cfg.Dev)
	recoveryHandler := NewRecoveryHandler(cfg.Recovery, cfg.Directory, cfg.BackupCodes, cfg.Notify, cfg.Logger, cfg.Secure && !cfg.Dev, cfg.BaseURL)
	notificationHandler := NewNotificationHandler(cfg.Notify, cfg.Logger)
	inboxHandler := NewInboxHandler(cfg.Inbox, cfg.Logger)
	healthHandler := NewHealthHandler(cfg.Database, cfg.Logger)
	wsHandler := NewWSHandler(cfg.Hub, cfg.Logger)

	// --- Public routes (no session required) ---
	r.Post("/login", authHandler.Login)
	r.Post("/logout", authHandler.Logout)
	r.Get("/check", authHandler.Check)
	r.Post("/register/start", authHandler.RegisterStart)
	r.Post("/register/verify", authHandler.RegisterVerify)
	r.Post("/recover/backup-code", recoveryHandler.RecoverBackupCode)
	r.Post("/magic-link", recoveryHandler.MagicLinkStart)
	r.Post("/magic-link/verify", recoveryHandler.MagicLinkVerify)
	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", metrics.Handler())

	// --- Login-required routes ---
	r.Group(func(r chi.Router) {
		r.Use(gateway.LoginRequired)

		r.Get("/me", authHandler.Me)
		r.Post("/recover/remaining-codes", recoveryHandler.RemainingCodes)
		r.Post("/recover/regenerate-codes", recoveryHandler.RegenerateCodes)
		r.Post("/recover/update-contact", recoveryHandler.UpdateContact)
		r.Post("/notifications/dismiss/{id}", notificationHandler.Dismiss)
		r.Get("/notifications/stream", wsHandler.ServeWS)

		r.Post("/inbox", inboxHandler.Submit)
	})

	// --- Login-required, admin-only routes ---
	r.Group(func(r chi.Router) {
		r.Use(gateway.AdminRequired)

		r.Get("/inbox", inboxHandler.List)
		r.Post("/inbox/{id}/reply", inboxHandler.Reply)
		r.Post("/inbox/{id}/archive", inboxHandler.Archive)
	})

	return r
}
