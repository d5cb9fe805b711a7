package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/inbox"
)

// InboxHandler exposes the contact-message endpoints: any user can submit a
// message, only an admin can list, reply to, or archive one.
type InboxHandler struct {
	inbox  *inbox.Service
	logger *zap.Logger
}

// NewInboxHandler creates an InboxHandler.
func NewInboxHandler(svc *inbox.Service, logger *zap.Logger) *InboxHandler {
	return &InboxHandler{inbox: svc, logger: logger.Named("inbox_handler")}
}

type inboxMessageResponse struct {
	ID        string  `json:"id"`
	Message   string  `json:"message"`
	ReplyVia  string  `json:"reply_via"`
	Status    string  `json:"status"`
	ReadAt    *string `json:"read_at"`
	RepliedAt *string `json:"replied_at"`
	CreatedAt string  `json:"created_at"`
}

func inboxMessageToView(m *db.InboxMessage) inboxMessageResponse {
	resp := inboxMessageResponse{
		ID:        m.ID.String(),
		Message:   m.Message,
		ReplyVia:  string(m.ReplyVia),
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	}
	if m.ReadAt != nil {
		s := m.ReadAt.UTC().Format(time.RFC3339)
		resp.ReadAt = &s
	}
	if m.RepliedAt != nil {
		s := m.RepliedAt.UTC().Format(time.RFC3339)
		resp.RepliedAt = &s
	}
	return resp
}

type submitInboxRequest struct {
	Message    string `json:"message"`
	ReplyVia   string `json:"reply_via"`
	ReplyEmail string `json:"reply_email"`
}

// Submit handles POST /inbox.
func (h *InboxHandler) Submit(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		ErrUnauthorized(w)
		return
	}

	var req submitInboxRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Message == "" {
		ErrBadRequest(w, "message is required")
		return
	}

	replyVia := db.ReplyViaInApp
	if req.ReplyVia == string(db.ReplyViaEmail) {
		replyVia = db.ReplyViaEmail
	}

	msg, err := h.inbox.Submit(r.Context(), user.ID, req.Message, replyVia, req.ReplyEmail)
	if err != nil {
		if errors.Is(err, inbox.ErrReplyEmailRequired) {
			ErrBadRequest(w, "reply_email is required when reply_via is email")
			return
		}
		h.logger.Error("inbox submit failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, inboxMessageToView(msg))
}

type listInboxResponse struct {
	Items []inboxMessageResponse `json:"items"`
	Total int64                  `json:"total"`
}

// List handles GET /inbox (admin only).
func (h *InboxHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)

	messages, total, err := h.inbox.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("inbox list failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]inboxMessageResponse, len(messages))
	for i := range messages {
		items[i] = inboxMessageToView(&messages[i])
	}

	Ok(w, listInboxResponse{Items: items, Total: total})
}

type replyInboxRequest struct {
	Body string `json:"body"`
}

// Reply handles POST /inbox/{id}/reply (admin only). It delivers the reply
// via the message's recorded channel, then marks it REPLIED and clears the
// stored reply address atomically.
func (h *InboxHandler) Reply(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		ErrBadRequest(w, "invalid inbox message id")
		return
	}

	var req replyInboxRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Body == "" {
		ErrBadRequest(w, "body is required")
		return
	}

	if err := h.inbox.MarkReplied(r.Context(), id, req.Body); err != nil {
		if errors.Is(err, inbox.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("inbox reply failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}

// Archive handles POST /inbox/{id}/archive (admin only).
func (h *InboxHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		ErrBadRequest(w, "invalid inbox message id")
		return
	}

	if err := h.inbox.Archive(r.Context(), id); err != nil {
		if errors.Is(err, inbox.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("inbox archive failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}
