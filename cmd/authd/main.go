package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/audiobooks/authd/internal/account"
	"github.com/audiobooks/authd/internal/api"
	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/inbox"
	"github.com/audiobooks/authd/internal/notification"
	"github.com/audiobooks/authd/internal/recovery"
	"github.com/audiobooks/authd/internal/repositories"
	"github.com/audiobooks/authd/internal/scheduler"
	"github.com/audiobooks/authd/internal/session"
	"github.com/audiobooks/authd/internal/websocket"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr       string
	dbDriver       string
	dbDSN          string
	keyFile        string
	webauthnRPID   string
	webauthnOrigin string
	authEnabled    bool
	dev            bool
	secureCookies  bool
	logLevel       string
	issuer         string
	baseURL        string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "authd",
		Short: "authd — multi-user authentication and account-recovery service",
		Long: `authd is a standalone authentication and account-recovery service.
It issues opaque server-side sessions from TOTP credentials, handles new
account registration, and implements backup-code and magic-link recovery.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("AUTHD_HTTP_ADDR", ":8080"), "HTTP listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("AUTHD_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("AUTHD_DB_DSN", "./data/auth.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.keyFile, "keyfile", envOrDefault("AUTHD_KEYFILE", "./data/auth.key"), "Path to the at-rest encryption key, created on first run")
	root.PersistentFlags().StringVar(&cfg.webauthnRPID, "webauthn-rp-id", envOrDefault("AUTHD_WEBAUTHN_RP_ID", "localhost"), "WebAuthn relying party ID")
	root.PersistentFlags().StringVar(&cfg.webauthnOrigin, "webauthn-origin", envOrDefault("AUTHD_WEBAUTHN_ORIGIN", "http://localhost:8080"), "WebAuthn relying party origin")
	root.PersistentFlags().BoolVar(&cfg.authEnabled, "auth-enabled", envOrDefault("AUTHD_AUTH_ENABLED", "true") == "true", "Enforce the gateway's *IfEnabled guards; the routes this server registers always use the base login/admin guards")
	root.PersistentFlags().BoolVar(&cfg.dev, "dev", envOrDefault("AUTHD_DEV", "false") == "true", "Development mode: inline registration verify_token in the response and drop the cookie Secure flag")
	root.PersistentFlags().BoolVar(&cfg.secureCookies, "secure-cookies", envOrDefault("AUTHD_SECURE_COOKIES", "true") == "true", "Set Secure flag on the session cookie (disable only over plain HTTP in dev)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("AUTHD_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.issuer, "issuer", envOrDefault("AUTHD_ISSUER", "authd"), "Issuer name embedded in TOTP provisioning URIs")
	root.PersistentFlags().StringVar(&cfg.baseURL, "base-url", envOrDefault("AUTHD_BASE_URL", "http://localhost:8080"), "Public base URL used to build magic-link recovery links")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("authd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting authd",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.Bool("auth_enabled", cfg.authEnabled),
		zap.Bool("dev", cfg.dev),
		// WebAuthn registration is reserved in the data model but has no
		// HTTP entry path yet (see recovery.ErrUnsupportedAuthType) — the
		// RP settings are accepted now so deployments can set them ahead
		// of that work landing.
		zap.String("webauthn_rp_id", cfg.webauthnRPID),
		zap.String("webauthn_origin", cfg.webauthnOrigin),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	// InitEncryption must be called before opening the database so that
	// EncryptedString fields can encrypt/decrypt transparently on read/write.
	keyBytes, err := db.LoadOrCreateKey(cfg.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load encryption key: %w", err)
	}
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 2. Database ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- 3. Repositories ---
	userRepo := repositories.NewUserRepository(gormDB)
	sessionRepo := repositories.NewSessionRepository(gormDB)
	backupCodeRepo := repositories.NewBackupCodeRepository(gormDB)
	pendingRegRepo := repositories.NewPendingRegistrationRepository(gormDB)
	pendingRecRepo := repositories.NewPendingRecoveryRepository(gormDB)
	notifRepo := repositories.NewNotificationRepository(gormDB)
	settingsRepo := repositories.NewSettingsRepository(gormDB)
	inboxRepo := repositories.NewInboxRepository(gormDB)

	// --- 4. WebSocket hub ---
	hub := websocket.NewHub()
	go hub.Run(ctx)

	// --- 5. Domain services ---
	directory := account.New(userRepo)
	sessions := session.New(sessionRepo)
	notify := notification.NewService(notification.Config{
		NotifRepo:    notifRepo,
		SettingsRepo: settingsRepo,
		Hub:          hub,
		Logger:       logger,
	})
	registration := recovery.NewRegistrationService(directory, pendingRegRepo, backupCodeRepo, cfg.issuer)
	recoverySvc := recovery.New(gormDB, directory, sessions, backupCodeRepo, pendingRecRepo, cfg.issuer)
	inboxSvc := inbox.New(inboxRepo, notify)

	// --- 6. Reaper ---
	reaper, err := scheduler.New(sessions, pendingRegRepo, pendingRecRepo, notifRepo, logger)
	if err != nil {
		return fmt.Errorf("failed to create reaper: %w", err)
	}
	if err := reaper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}
	defer func() {
		if err := reaper.Stop(); err != nil {
			logger.Warn("reaper shutdown error", zap.Error(err))
		}
	}()

	// --- 7. HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Database:     gormDB,
		Logger:       logger,
		Directory:    directory,
		Sessions:     sessions,
		Notify:       notify,
		Registration: registration,
		Recovery:     recoverySvc,
		Inbox:        inboxSvc,
		BackupCodes:  backupCodeRepo,
		Hub:          hub,
		BaseURL:      cfg.baseURL,
		Secure:       cfg.secureCookies,
		Dev:          cfg.dev,
		AuthEnabled:  cfg.authEnabled,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down authd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("authd stopped")
	return nil
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
