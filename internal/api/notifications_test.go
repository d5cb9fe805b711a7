package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
)

func TestDismiss_RequiresSession(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, "POST", "/notifications/dismiss/00000000-0000-0000-0000-000000000000", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}
}

func TestDismiss_RemovesNotificationFromActiveList(t *testing.T) {
	env := newTestEnv(t, true)
	user, secret := env.createUser(t, "alice", false)
	cookie := env.login(t, "alice", secret)

	if err := env.notify.NotifyUser(context.Background(), user.ID, "hi", "info", 1, true); err != nil {
		t.Fatalf("notify user: %v", err)
	}

	active, err := env.notify.ActiveForUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("active for user: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d active notifications, want 1", len(active))
	}

	path := fmt.Sprintf("/notifications/dismiss/%s", active[0].ID.String())
	rec := env.do(t, "POST", path, "", cookie)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	active, err = env.notify.ActiveForUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("active for user after dismiss: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("got %d active notifications after dismiss, want 0", len(active))
	}
}

func TestDismiss_InvalidIDRejected(t *testing.T) {
	env := newTestEnv(t, true)
	_, secret := env.createUser(t, "bobby", false)
	cookie := env.login(t, "bobby", secret)

	rec := env.do(t, "POST", "/notifications/dismiss/not-a-uuid", "", cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
}

// notificationsToView is exercised directly too, since Me's response shape
// depends on it and an empty slice must render as [] rather than null.
func TestNotificationsToView_EmptyRendersAsEmptyArray(t *testing.T) {
	views := notificationsToView(nil)
	out, err := json.Marshal(views)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != "[]" {
		t.Fatalf("got %s, want []", out)
	}
}
