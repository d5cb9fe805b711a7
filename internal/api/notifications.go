package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/notification"
)

// NotificationHandler exposes the in-app notification endpoints.
type NotificationHandler struct {
	notify notification.Service
	logger *zap.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(notify notification.Service, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notify: notify, logger: logger.Named("notification_handler")}
}

// notificationResponse is the public shape of a notification row.
type notificationResponse struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	Type        string `json:"type"`
	Priority    int    `json:"priority"`
	Dismissable bool   `json:"dismissable"`
	CreatedAt   string `json:"created_at"`
}

func notificationsToView(notifications []db.Notification) []notificationResponse {
	views := make([]notificationResponse, len(notifications))
	for i, n := range notifications {
		views[i] = notificationResponse{
			ID:          n.ID.String(),
			Message:     n.Message,
			Type:        n.Type,
			Priority:    n.Priority,
			Dismissable: n.Dismissable,
			CreatedAt:   n.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return views
}

// Dismiss handles POST /notifications/dismiss/{id}. It marks the
// notification dismissed for the calling user only; a broadcast stays
// visible to everyone else.
func (h *NotificationHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		ErrUnauthorized(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		ErrBadRequest(w, "invalid notification id")
		return
	}

	if err := h.notify.Dismiss(r.Context(), id, user.ID); err != nil {
		h.logger.Error("dismiss failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}
