package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/audiobooks/authd/internal/backupcodes"
	"github.com/audiobooks/authd/internal/db"
)

func (e *testEnv) createUserWithBackupCodes(t *testing.T, username string, codes []string) *db.User {
	t.Helper()
	user, _ := e.createUser(t, username, false)
	hashes := make([]string, len(codes))
	for i, c := range codes {
		h, err := backupcodes.Hash(backupcodes.Normalize(c))
		if err != nil {
			t.Fatalf("hash code: %v", err)
		}
		hashes[i] = h
	}
	if err := e.codes.ReplaceAll(context.Background(), user.ID, hashes); err != nil {
		t.Fatalf("replace codes: %v", err)
	}
	return user
}

func TestRecoverBackupCode_Success(t *testing.T) {
	env := newTestEnv(t, true)
	env.createUserWithBackupCodes(t, "alice", []string{"AAAA-BBBB-CCCC-DDDD"})

	rec := env.do(t, "POST", "/recover/backup-code", `{"username":"alice","backup_code":"aaaa-bbbb-cccc-dddd"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Data backupCodeResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Data.BackupCodes) != backupcodes.Count {
		t.Fatalf("got %d new backup codes, want %d", len(body.Data.BackupCodes), backupcodes.Count)
	}
	if body.Data.RemainingOldCodes != 0 {
		t.Fatalf("got remaining_old_codes %d, want 0 (only one code existed)", body.Data.RemainingOldCodes)
	}
}

func TestRecoverBackupCode_ReportsRemainingOldCodes(t *testing.T) {
	env := newTestEnv(t, true)
	env.createUserWithBackupCodes(t, "ginaeight", []string{
		"AAAA-1111-1111-1111", "BBBB-2222-2222-2222", "CCCC-3333-3333-3333",
		"DDDD-4444-4444-4444", "EEEE-5555-5555-5555", "FFFF-6666-6666-6666",
		"GGGG-7777-7777-7777", "HHHH-8888-8888-8888",
	})

	rec := env.do(t, "POST", "/recover/backup-code", `{"username":"ginaeight","backup_code":"AAAA-1111-1111-1111"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Data backupCodeResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.RemainingOldCodes != 7 {
		t.Fatalf("got remaining_old_codes %d, want 7", body.Data.RemainingOldCodes)
	}
}

func TestRecoverBackupCode_WrongCodeGenericMessage(t *testing.T) {
	env := newTestEnv(t, true)
	env.createUserWithBackupCodes(t, "bobby", []string{"WXYZ-1234-5678-9ABC"})

	rec := env.do(t, "POST", "/recover/backup-code", `{"username":"bobby","backup_code":"0000-0000-0000-0000"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error.Message != genericRecoveryError {
		t.Fatalf("got message %q, want %q", body.Error.Message, genericRecoveryError)
	}
}

func TestRecoverBackupCode_UnknownUsernameSameGenericMessage(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, "POST", "/recover/backup-code", `{"username":"ghost","backup_code":"anything"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error.Message != genericRecoveryError {
		t.Fatalf("got message %q for unknown username, want %q", body.Error.Message, genericRecoveryError)
	}
}

func TestMagicLinkStart_AlwaysGenericMessage(t *testing.T) {
	env := newTestEnv(t, true)
	env.createUser(t, "carol", false)

	// Carol has no recovery email, so no link is actually issued — the
	// response must still look identical to a case where one was.
	rec := env.do(t, "POST", "/magic-link", `{"username":"carol"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	rec2 := env.do(t, "POST", "/magic-link", `{"username":"ghost"}`, nil)
	if rec2.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec2.Code, rec2.Body.String())
	}

	var a, b struct {
		Data magicLinkStartResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode response a: %v", err)
	}
	if err := json.Unmarshal(rec2.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode response b: %v", err)
	}
	if a.Data.Message != b.Data.Message {
		t.Fatal("expected the identical generic message regardless of whether a link was issued")
	}
}

func TestMagicLinkVerify_RejectsUnknownToken(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, "POST", "/magic-link/verify", `{"token":"not-a-real-token"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}
}

func TestRemainingCodes_RequiresSession(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, "POST", "/recover/remaining-codes", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}
}

func TestRemainingCodes_ReportsUnusedCount(t *testing.T) {
	env := newTestEnv(t, true)
	_, secret := env.createUser(t, "davey", false)
	cookie := env.login(t, "davey", secret)

	rec := env.do(t, "POST", "/recover/remaining-codes", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Data remainingCodesResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.Remaining != 0 {
		t.Fatalf("got %d remaining codes, want 0 (none ever generated)", body.Data.Remaining)
	}
}

func TestRegenerateCodes_ReturnsFreshSet(t *testing.T) {
	env := newTestEnv(t, true)
	_, secret := env.createUser(t, "erinn", false)
	cookie := env.login(t, "erinn", secret)

	rec := env.do(t, "POST", "/recover/regenerate-codes", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Data regenerateCodesResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Data.BackupCodes) != backupcodes.Count {
		t.Fatalf("got %d codes, want %d", len(body.Data.BackupCodes), backupcodes.Count)
	}

	rec = env.do(t, "POST", "/recover/remaining-codes", "", cookie)
	var remaining struct {
		Data remainingCodesResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &remaining); err != nil {
		t.Fatalf("decode remaining response: %v", err)
	}
	if remaining.Data.Remaining != backupcodes.Count {
		t.Fatalf("got %d remaining after regenerate, want %d", remaining.Data.Remaining, backupcodes.Count)
	}
}

func TestUpdateContact_SetsRecoveryEmail(t *testing.T) {
	env := newTestEnv(t, true)
	_, secret := env.createUser(t, "frank", false)
	cookie := env.login(t, "frank", secret)

	rec := env.do(t, "POST", "/recover/update-contact", `{"recovery_email":"frank@example.com"}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Data userView `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Data.RecoveryEnabled {
		t.Fatal("expected recovery_enabled=true once a recovery email is set")
	}
}
