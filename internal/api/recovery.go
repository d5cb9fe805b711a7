package api

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/audiobooks/authd/internal/account"
	"github.com/audiobooks/authd/internal/backupcodes"
	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/metrics"
	"github.com/audiobooks/authd/internal/notification"
	"github.com/audiobooks/authd/internal/recovery"
	"github.com/audiobooks/authd/internal/repositories"
	"github.com/audiobooks/authd/internal/totp"
)

// genericRecoveryError is the single message every backup-code recovery
// failure returns, regardless of cause, per SPEC_FULL §4.7's
// enumeration-resistance requirement.
const genericRecoveryError = "Invalid username or backup code"

// genericMagicLinkMessage is always returned by /magic-link, whether or not
// a link was actually issued, per SPEC_FULL §4.8.
const genericMagicLinkMessage = "If an account exists with that username and has a registered email, a login link has been sent."

// RecoveryHandler groups the backup-code and magic-link recovery handlers
// plus the login-required account-recovery maintenance endpoints.
type RecoveryHandler struct {
	recovery  *recovery.Service
	directory *account.Directory
	codes     repositories.BackupCodeRepository
	notify    notification.Service
	logger    *zap.Logger
	secure    bool
	baseURL   string
}

// NewRecoveryHandler creates a RecoveryHandler. baseURL is prefixed to the
// token to build the link sent in the recovery email.
func NewRecoveryHandler(svc *recovery.Service, directory *account.Directory, codes repositories.BackupCodeRepository, notify notification.Service, logger *zap.Logger, secure bool, baseURL string) *RecoveryHandler {
	return &RecoveryHandler{
		recovery:  svc,
		directory: directory,
		codes:     codes,
		notify:    notify,
		logger:    logger.Named("recovery_handler"),
		secure:    secure,
		baseURL:   baseURL,
	}
}

// -----------------------------------------------------------------------------
// Backup-code recovery
// -----------------------------------------------------------------------------

type backupCodeRequest struct {
	Username   string `json:"username"`
	BackupCode string `json:"backup_code"`
}

type backupCodeResponse struct {
	TOTPSecret        string   `json:"totp_secret"`
	ProvisioningURI   string   `json:"provisioning_uri"`
	BackupCodes       []string `json:"backup_codes"`
	RemainingOldCodes int      `json:"remaining_old_codes"`
}

// RecoverBackupCode handles POST /recover/backup-code.
func (h *RecoveryHandler) RecoverBackupCode(w http.ResponseWriter, r *http.Request) {
	var req backupCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rotation, err := h.recovery.RecoverWithBackupCode(r.Context(), req.Username, req.BackupCode)
	if err != nil {
		metrics.RecoveryOutcomes.WithLabelValues("backup_code", "invalid").Inc()
		errJSON(w, http.StatusUnauthorized, genericRecoveryError, "unauthorized")
		return
	}

	metrics.RecoveryOutcomes.WithLabelValues("backup_code", "success").Inc()
	Ok(w, backupCodeResponse{
		TOTPSecret:        totp.SecretToBase32(rotation.TOTPSecret),
		ProvisioningURI:   rotation.TOTPProvisioning,
		BackupCodes:       rotation.BackupCodes,
		RemainingOldCodes: rotation.RemainingOldCodes,
	})
}

// -----------------------------------------------------------------------------
// Magic-link recovery
// -----------------------------------------------------------------------------

type magicLinkRequest struct {
	Username string `json:"username"`
}

type magicLinkStartResponse struct {
	Message string `json:"message"`
}

// MagicLinkStart handles POST /magic-link. The response is always the same
// generic message, whether or not a link was issued.
func (h *RecoveryHandler) MagicLinkStart(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if issue := h.recovery.StartMagicLink(r.Context(), req.Username); issue != nil {
		// The frontend verify page reads the token from the query string
		// and POSTs it to /magic-link/verify; the email must not link
		// directly at the POST-only API route.
		loginURL := fmt.Sprintf("%s/verify.html?token=%s", h.baseURL, issue.Token)
		h.notify.SendRecoveryEmail(r.Context(), string(issue.User.RecoveryEmail), loginURL)
	}

	Ok(w, magicLinkStartResponse{Message: genericMagicLinkMessage})
}

type magicLinkVerifyRequest struct {
	Token string `json:"token"`
}

// MagicLinkVerify handles POST /magic-link/verify. A verified magic link
// always gets the 1-year persistent cookie, per SPEC_FULL §4.8.
func (h *RecoveryHandler) MagicLinkVerify(w http.ResponseWriter, r *http.Request) {
	var req magicLinkVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	issued, err := h.recovery.VerifyMagicLink(r.Context(), req.Token, r.UserAgent(), clientIP(r))
	if err != nil {
		metrics.RecoveryOutcomes.WithLabelValues("magic_link", "invalid").Inc()
		ErrUnauthorized(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    issued.Token,
		MaxAge:   int(magicLinkCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	metrics.RecoveryOutcomes.WithLabelValues("magic_link", "success").Inc()
	Ok(w, envelope{"success": true})
}

// -----------------------------------------------------------------------------
// Login-required recovery maintenance
// -----------------------------------------------------------------------------

type remainingCodesResponse struct {
	Remaining int `json:"remaining"`
}

// RemainingCodes handles POST /recover/remaining-codes.
func (h *RecoveryHandler) RemainingCodes(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		ErrUnauthorized(w)
		return
	}
	n, err := h.codes.CountUnused(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("count unused backup codes failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, remainingCodesResponse{Remaining: int(n)})
}

type regenerateCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// RegenerateCodes handles POST /recover/regenerate-codes. It replaces every
// currently-unused code; already-consumed codes stay consumed.
func (h *RecoveryHandler) RegenerateCodes(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		ErrUnauthorized(w)
		return
	}

	codes, err := backupcodes.Generate()
	if err != nil {
		h.logger.Error("backup code generation failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hash, err := backupcodes.Hash(backupcodes.Normalize(c))
		if err != nil {
			h.logger.Error("backup code hashing failed", zap.Error(err))
			ErrInternal(w)
			return
		}
		hashes[i] = hash
	}

	if err := h.codes.ReplaceAll(r.Context(), user.ID, hashes); err != nil {
		h.logger.Error("backup code replacement failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, regenerateCodesResponse{BackupCodes: codes})
}

type updateContactRequest struct {
	RecoveryEmail *string `json:"recovery_email"`
	RecoveryPhone *string `json:"recovery_phone"`
}

// UpdateContact handles POST /recover/update-contact. Either field, when
// present, replaces the corresponding contact value (an empty string
// clears it); recovery_enabled is derived, so no explicit recompute step
// is needed beyond persisting the fields.
func (h *RecoveryHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		ErrUnauthorized(w)
		return
	}

	var req updateContactRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.RecoveryEmail != nil {
		user.RecoveryEmail = db.EncryptedString(*req.RecoveryEmail)
	}
	if req.RecoveryPhone != nil {
		user.RecoveryPhone = db.EncryptedString(*req.RecoveryPhone)
	}

	if err := h.directory.Save(r.Context(), user); err != nil {
		h.logger.Error("update contact failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, userToView(user))
}
