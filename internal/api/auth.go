package api

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/png"
	"net/http"
	"time"

	"github.com/pquerna/otp"
	"go.uber.org/zap"

	"github.com/audiobooks/authd/internal/account"
	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/metrics"
	"github.com/audiobooks/authd/internal/notification"
	"github.com/audiobooks/authd/internal/recovery"
	"github.com/audiobooks/authd/internal/session"
	"github.com/audiobooks/authd/internal/totp"
)

// sessionCookieName is the single cookie this service ever sets. A login
// session is a browser-session cookie (no Expires); a magic-link session is
// persistent (1-year max-age).
const sessionCookieName = "audiobooks_session"

const magicLinkCookieTTL = 365 * 24 * time.Hour

// genericLoginError is the single message every login failure returns,
// regardless of cause, so a caller cannot distinguish an unknown username
// from a wrong code.
const genericLoginError = "Invalid credentials"

// AuthHandler groups the login/logout/registration HTTP handlers.
type AuthHandler struct {
	directory *account.Directory
	sessions  *session.Manager
	notify    notification.Service
	reg       *recovery.RegistrationService
	logger    *zap.Logger
	secure    bool
	dev       bool
}

// NewAuthHandler creates a new AuthHandler. secure controls the cookie's
// Secure flag; dev turns the Secure flag off and inlines the registration
// verification token in the response instead of delivering it out-of-band.
func NewAuthHandler(directory *account.Directory, sessions *session.Manager, notify notification.Service, reg *recovery.RegistrationService, logger *zap.Logger, secure, dev bool) *AuthHandler {
	return &AuthHandler{
		directory: directory,
		sessions:  sessions,
		notify:    notify,
		reg:       reg,
		logger:    logger.Named("auth_handler"),
		secure:    secure && !dev,
		dev:       dev,
	}
}

// userView is the public shape of a user returned from any handler.
type userView struct {
	ID              string  `json:"id"`
	Username        string  `json:"username"`
	AuthType        string  `json:"auth_type"`
	IsAdmin         bool    `json:"is_admin"`
	CanDownload     bool    `json:"can_download"`
	RecoveryEnabled bool    `json:"recovery_enabled"`
	LastLoginAt     *string `json:"last_login_at"`
}

func userToView(u *db.User) userView {
	v := userView{
		ID:              u.ID.String(),
		Username:        u.Username,
		AuthType:        string(u.AuthType),
		IsAdmin:         u.IsAdmin,
		CanDownload:     u.CanDownload,
		RecoveryEnabled: u.RecoveryEnabled(),
	}
	if u.LastLoginAt != nil {
		s := u.LastLoginAt.UTC().Format(time.RFC3339)
		v.LastLoginAt = &s
	}
	return v
}

// -----------------------------------------------------------------------------
// Login / logout / identity
// -----------------------------------------------------------------------------

type loginRequest struct {
	Username string `json:"username"`
	Code     string `json:"code"`
}

type loginResponse struct {
	Success bool     `json:"success"`
	User    userView `json:"user"`
}

// Login handles POST /login. Any failure — unknown username, wrong
// auth type, wrong code — returns the same 401 "Invalid credentials" so a
// caller cannot distinguish the reasons.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.directory.GetByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			// Run the same TOTP verification shape against a decoy secret
			// so an absent username costs the same wall-clock time as a
			// present one with a wrong code.
			totp.Verify(decoyTOTPSecret, req.Code, time.Now())
			metrics.LoginOutcomes.WithLabelValues("invalid").Inc()
			errJSON(w, http.StatusUnauthorized, genericLoginError, "unauthorized")
			return
		}
		h.logger.Error("login lookup failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	if user.AuthType != db.AuthTypeTOTP || !totp.Verify([]byte(user.AuthCredential), req.Code, time.Now()) {
		metrics.LoginOutcomes.WithLabelValues("invalid").Inc()
		errJSON(w, http.StatusUnauthorized, genericLoginError, "unauthorized")
		return
	}

	issued, err := h.sessions.CreateForUser(r.Context(), user.ID, r.UserAgent(), clientIP(r), false)
	if err != nil {
		h.logger.Error("session creation failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	if err := h.directory.UpdateLastLogin(r.Context(), user.ID, time.Now()); err != nil {
		h.logger.Warn("last login update failed", zap.Error(err))
	}

	h.setSessionCookie(w, issued.Token, false)
	metrics.LoginOutcomes.WithLabelValues("success").Inc()
	Ok(w, loginResponse{Success: true, User: userToView(user)})
}

// Logout handles POST /logout. Always returns 200, whether or not a
// session was present.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sess := sessionFromCtx(r.Context()); sess != nil {
		if err := h.sessions.Invalidate(r.Context(), sess.ID); err != nil {
			h.logger.Warn("logout invalidate failed", zap.Error(err))
		}
	}
	h.clearSessionCookie(w)
	Ok(w, envelope{"success": true})
}

// Me handles GET /me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		ErrUnauthorized(w)
		return
	}
	active, err := h.notify.ActiveForUser(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to load active notifications", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, meResponse{
		User:          userToView(user),
		Notifications: notificationsToView(active),
	})
}

type meResponse struct {
	User          userView               `json:"user"`
	Notifications []notificationResponse `json:"notifications"`
}

// checkResponse is returned by GET /auth/check.
type checkResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	IsAdmin       bool   `json:"is_admin,omitempty"`
}

// Check handles GET /check. It never requires a session — it reports
// whatever ResolveSession found.
func (h *AuthHandler) Check(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		Ok(w, checkResponse{Authenticated: false})
		return
	}
	Ok(w, checkResponse{Authenticated: true, Username: user.Username, IsAdmin: user.IsAdmin})
}

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

type registerStartRequest struct {
	Username string `json:"username"`
}

type registerStartResponse struct {
	VerifyToken string `json:"verify_token,omitempty"`
}

// RegisterStart handles POST /register/start.
func (h *AuthHandler) RegisterStart(w http.ResponseWriter, r *http.Request) {
	var req registerStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" {
		ErrBadRequest(w, "username is required")
		return
	}

	token, err := h.reg.Start(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, account.ErrInvalidUsername) {
			ErrBadRequest(w, err.Error())
			return
		}
		h.logger.Error("register start failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	resp := registerStartResponse{}
	if h.dev {
		resp.VerifyToken = token
	}
	// In production the token is delivered out-of-band (e.g. alongside the
	// surrounding product's own account-creation email); nothing to send
	// here since this subsystem owns no email template for registration.
	Ok(w, resp)
}

type registerVerifyRequest struct {
	Token         string `json:"token"`
	AuthType      string `json:"auth_type"`
	RecoveryEmail string `json:"recovery_email"`
	RecoveryPhone string `json:"recovery_phone"`
	IncludeQR     bool   `json:"include_qr"`
}

type registerVerifyResponse struct {
	User            userView `json:"user"`
	TOTPSecret      string   `json:"totp_secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
	QRCodePNGBase64 string   `json:"qr_code_png_base64,omitempty"`
}

// RegisterVerify handles POST /register/verify.
func (h *AuthHandler) RegisterVerify(w http.ResponseWriter, r *http.Request) {
	var req registerVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	verified, err := h.reg.Verify(r.Context(), req.Token, req.AuthType, req.RecoveryEmail, req.RecoveryPhone)
	if err != nil {
		switch {
		case errors.Is(err, recovery.ErrInvalidToken):
			ErrBadRequest(w, "invalid or expired token")
		case errors.Is(err, recovery.ErrUnsupportedAuthType):
			ErrBadRequest(w, "unsupported auth_type")
		case errors.Is(err, account.ErrInvalidUsername):
			ErrBadRequest(w, err.Error())
		case errors.Is(err, account.ErrUsernameTaken):
			ErrConflict(w, "username already taken")
		default:
			h.logger.Error("register verify failed", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	resp := registerVerifyResponse{
		User:            userToView(verified.User),
		TOTPSecret:      totp.SecretToBase32(verified.TOTPSecret),
		ProvisioningURI: verified.TOTPProvisioning,
		BackupCodes:     verified.BackupCodes,
	}
	if req.IncludeQR {
		if png, err := renderProvisioningQR(verified.TOTPProvisioning); err != nil {
			h.logger.Warn("qr render failed", zap.Error(err))
		} else {
			resp.QRCodePNGBase64 = png
		}
	}
	Created(w, resp)
}

// renderProvisioningQR renders the otpauth:// URI as a PNG QR code, base64
// encoded for inline embedding in a JSON response.
func renderProvisioningQR(provisioningURI string) (string, error) {
	key, err := otp.NewKeyFromURL(provisioningURI)
	if err != nil {
		return "", err
	}
	img, err := key.Image(256, 256)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// -----------------------------------------------------------------------------
// Cookie helpers
// -----------------------------------------------------------------------------

// setSessionCookie writes the session cookie. persistent gives it a 1-year
// max-age (magic-link sessions); otherwise it is a plain browser-session
// cookie with no Expires/MaxAge at all.
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string, persistent bool) {
	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	}
	if persistent {
		cookie.MaxAge = int(magicLinkCookieTTL.Seconds())
	}
	http.SetCookie(w, cookie)
}

// clearSessionCookie expires the session cookie immediately.
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
}

// clientIP returns the caller's address for storage on the session row,
// honoring a fronting proxy's X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}

// decoyTOTPSecret is compared against on every username miss so Login's
// wall-clock cost does not reveal whether the username exists.
var decoyTOTPSecret = make([]byte, totp.SecretLen)
