package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/audiobooks/authd/internal/account"
	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/session"
)

// contextKey is an unexported type for context keys defined in this package.
// Using a custom type prevents collisions with keys defined in other packages.
type contextKey int

const (
	contextKeyUser contextKey = iota
	contextKeySession
)

// Gateway resolves the session cookie on every request and exposes the five
// guard predicates from SPEC_FULL's AuthGateway component. Guards compose by
// wrapping: LoginRequired must run after ResolveSession, AdminRequired after
// LoginRequired.
type Gateway struct {
	sessions    *session.Manager
	directory   *account.Directory
	authEnabled bool
}

// NewGateway returns a Gateway. authEnabled gates every "*IfEnabled" guard —
// when false the gateway is effectively bypassed, supporting a single-user
// deployment mode where the surrounding product owns access control.
func NewGateway(sessions *session.Manager, directory *account.Directory, authEnabled bool) *Gateway {
	return &Gateway{sessions: sessions, directory: directory, authEnabled: authEnabled}
}

// ResolveSession reads the session cookie if present and, when it resolves
// to a live session, attaches the session and its user to the request
// context. It never rejects a request by itself — that is the job of
// LoginRequired and the guards built on it. Unauthenticated requests (no
// cookie, or a stale/unknown one) simply proceed with an empty context.
func (g *Gateway) ResolveSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := g.sessions.GetByToken(r.Context(), cookie.Value)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		user, err := g.directory.GetByID(r.Context(), sess.UserID)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), contextKeySession, sess)
		ctx = context.WithValue(ctx, contextKeyUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoginRequired rejects the request with 401 unless ResolveSession attached
// a user.
func (g *Gateway) LoginRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userFromCtx(r.Context()) == nil {
			ErrUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoginRequiredIfEnabled behaves as LoginRequired iff auth is enabled,
// otherwise it always passes — the single-user bypass mode.
func (g *Gateway) LoginRequiredIfEnabled(next http.Handler) http.Handler {
	if !g.authEnabled {
		return next
	}
	return g.LoginRequired(next)
}

// AdminRequired rejects with 401 if there is no session, then 403 if the
// session's user is not an admin. Must run after ResolveSession.
func (g *Gateway) AdminRequired(next http.Handler) http.Handler {
	return g.LoginRequired(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromCtx(r.Context())
		if !user.IsAdmin {
			ErrForbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// AdminRequiredIfEnabled behaves as AdminRequired iff auth is enabled.
func (g *Gateway) AdminRequiredIfEnabled(next http.Handler) http.Handler {
	if !g.authEnabled {
		return next
	}
	return g.AdminRequired(next)
}

// DownloadPermissionRequired rejects with 401 if there is no session, then
// 403 if the user lacks can_download.
func (g *Gateway) DownloadPermissionRequired(next http.Handler) http.Handler {
	return g.LoginRequired(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromCtx(r.Context())
		if !user.CanDownload {
			ErrForbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// DownloadPermissionRequiredIfEnabled behaves as DownloadPermissionRequired
// iff auth is enabled.
func (g *Gateway) DownloadPermissionRequiredIfEnabled(next http.Handler) http.Handler {
	if !g.authEnabled {
		return next
	}
	return g.DownloadPermissionRequired(next)
}

// LocalhostOnly rejects any request whose client address is not
// 127.0.0.1/::1 with a 404, hiding the route's existence entirely rather
// than revealing it via a 403. X-Forwarded-For's first hop is honored when
// present, since a reverse proxy fronting the service replaces RemoteAddr.
func (g *Gateway) LocalhostOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLocalRequest(r) {
			ErrNotFound(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LocalhostOnlyIfEnabled behaves as LocalhostOnly iff auth is enabled.
func (g *Gateway) LocalhostOnlyIfEnabled(next http.Handler) http.Handler {
	if !g.authEnabled {
		return next
	}
	return g.LocalhostOnly(next)
}

func isLocalRequest(r *http.Request) bool {
	addr := r.RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		addr = strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	return host == "127.0.0.1" || host == "::1"
}

// userFromCtx retrieves the user attached by ResolveSession, or nil.
func userFromCtx(ctx context.Context) *db.User {
	user, _ := ctx.Value(contextKeyUser).(*db.User)
	return user
}

// sessionFromCtx retrieves the session attached by ResolveSession, or nil.
func sessionFromCtx(ctx context.Context) *db.Session {
	sess, _ := ctx.Value(contextKeySession).(*db.Session)
	return sess
}

// RequestLogger returns a Chi-compatible middleware that logs each request
// using the provided zap logger. It logs method, path, status, and latency.
// Chi's middleware.RequestID is expected to run before this middleware so
// that the request ID is available in the context.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
