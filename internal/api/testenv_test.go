package api

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"

	"github.com/audiobooks/authd/internal/account"
	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/inbox"
	"github.com/audiobooks/authd/internal/notification"
	"github.com/audiobooks/authd/internal/recovery"
	"github.com/audiobooks/authd/internal/repositories"
	"github.com/audiobooks/authd/internal/session"
	"github.com/audiobooks/authd/internal/totp"
	"github.com/audiobooks/authd/internal/websocket"
)

func init() {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	if err := db.InitEncryption(key); err != nil {
		panic(err)
	}
}

// testEnv wires a full Router against an in-memory SQLite database, the same
// way main.go wires the production one.
type testEnv struct {
	directory *account.Directory
	sessions  *session.Manager
	notify    notification.Service
	codes     repositories.BackupCodeRepository
	router    http.Handler
}

func newTestEnv(t *testing.T, authEnabled bool) *testEnv {
	t.Helper()

	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      "file:" + t.Name() + "?mode=memory&cache=shared",
		Logger:   zap.NewNop(),
		LogLevel: logger.Silent,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	userRepo := repositories.NewUserRepository(database)
	sessionRepo := repositories.NewSessionRepository(database)
	backupCodeRepo := repositories.NewBackupCodeRepository(database)
	pendingRegRepo := repositories.NewPendingRegistrationRepository(database)
	pendingRecRepo := repositories.NewPendingRecoveryRepository(database)
	notifRepo := repositories.NewNotificationRepository(database)
	settingsRepo := repositories.NewSettingsRepository(database)
	inboxRepo := repositories.NewInboxRepository(database)

	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	directory := account.New(userRepo)
	sessions := session.New(sessionRepo)
	notify := notification.NewService(notification.Config{
		NotifRepo:    notifRepo,
		SettingsRepo: settingsRepo,
		Hub:          hub,
		Logger:       zap.NewNop(),
	})
	registration := recovery.NewRegistrationService(directory, pendingRegRepo, backupCodeRepo, "authd-test")
	recoverySvc := recovery.New(database, directory, sessions, backupCodeRepo, pendingRecRepo, "authd-test")
	inboxSvc := inbox.New(inboxRepo, notify)

	router := NewRouter(RouterConfig{
		Database:     database,
		Logger:       zap.NewNop(),
		Directory:    directory,
		Sessions:     sessions,
		Notify:       notify,
		Registration: registration,
		Recovery:     recoverySvc,
		Inbox:        inboxSvc,
		BackupCodes:  backupCodeRepo,
		Hub:          hub,
		BaseURL:      "http://localhost:8080",
		Secure:       false,
		Dev:          true,
		AuthEnabled:  authEnabled,
	})

	return &testEnv{
		directory: directory,
		sessions:  sessions,
		notify:    notify,
		codes:     backupCodeRepo,
		router:    router,
	}
}

// createUser creates a TOTP user directly, bypassing the registration flow,
// and returns the user alongside its raw TOTP secret.
func (e *testEnv) createUser(t *testing.T, username string, admin bool) (*db.User, []byte) {
	t.Helper()
	secret, err := totp.GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	user := &db.User{
		Username:       username,
		AuthType:       db.AuthTypeTOTP,
		AuthCredential: db.EncryptedString(secret),
		IsAdmin:        admin,
	}
	if err := e.directory.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user, secret
}

// login performs a real POST /login and returns the session cookie minted
// for the caller, ready to attach to subsequent requests.
func (e *testEnv) login(t *testing.T, username string, secret []byte) *http.Cookie {
	t.Helper()
	code, err := totp.CurrentCode(secret, time.Now())
	if err != nil {
		t.Fatalf("current code: %v", err)
	}

	rec := e.do(t, "POST", "/login", `{"username":"`+username+`","code":"`+code+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: got status %d, body %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("login response set no session cookie")
	return nil
}

// do issues a request against the router and returns the recorded response.
// When cookie is non-nil it is attached to the request.
func (e *testEnv) do(t *testing.T, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}
