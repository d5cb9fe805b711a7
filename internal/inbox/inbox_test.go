package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/repositories"
)

type fakeInboxRepository struct {
	byID map[uuid.UUID]*db.InboxMessage
}

func newFakeInboxRepository() *fakeInboxRepository {
	return &fakeInboxRepository{byID: make(map[uuid.UUID]*db.InboxMessage)}
}

func (f *fakeInboxRepository) Create(ctx context.Context, msg *db.InboxMessage) error {
	if msg.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		msg.ID = id
	}
	cp := *msg
	f.byID[msg.ID] = &cp
	return nil
}

func (f *fakeInboxRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.InboxMessage, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeInboxRepository) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error {
	m, ok := f.byID[id]
	if !ok || m.Status != db.InboxStatusUnread {
		return nil
	}
	m.Status = db.InboxStatusRead
	m.ReadAt = &at
	return nil
}

func (f *fakeInboxRepository) MarkReplied(ctx context.Context, id uuid.UUID, at time.Time) error {
	m, ok := f.byID[id]
	if !ok {
		return repositories.ErrNotFound
	}
	m.Status = db.InboxStatusReplied
	m.RepliedAt = &at
	m.ReplyEmail = ""
	return nil
}

func (f *fakeInboxRepository) Archive(ctx context.Context, id uuid.UUID) error {
	m, ok := f.byID[id]
	if !ok || m.Status == db.InboxStatusArchived {
		return nil
	}
	m.Status = db.InboxStatusArchived
	return nil
}

func (f *fakeInboxRepository) List(ctx context.Context, opts repositories.ListOptions) ([]db.InboxMessage, int64, error) {
	var out []db.InboxMessage
	for _, m := range f.byID {
		out = append(out, *m)
	}
	return out, int64(len(out)), nil
}

type fakeNotificationService struct {
	sent []string
	fail bool
}

func (f *fakeNotificationService) NotifyUser(ctx context.Context, userID uuid.UUID, message, notifType string, priority int, dismissable bool) error {
	return nil
}
func (f *fakeNotificationService) Broadcast(ctx context.Context, message, notifType string, priority int, dismissable bool) error {
	return nil
}
func (f *fakeNotificationService) Dismiss(ctx context.Context, notificationID, userID uuid.UUID) error {
	return nil
}
func (f *fakeNotificationService) ActiveForUser(ctx context.Context, userID uuid.UUID) ([]db.Notification, error) {
	return nil, nil
}
func (f *fakeNotificationService) SendRecoveryEmail(ctx context.Context, to, loginURL string) {}
func (f *fakeNotificationService) SendMail(ctx context.Context, to []string, subject, body string) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	f.sent = append(f.sent, to[0])
	return nil
}

func TestSubmit_RequiresReplyEmailForEmailChannel(t *testing.T) {
	repo := newFakeInboxRepository()
	svc := New(repo, &fakeNotificationService{})
	userID := uuid.Must(uuid.NewV7())

	if _, err := svc.Submit(context.Background(), userID, "hi", db.ReplyViaEmail, ""); err != ErrReplyEmailRequired {
		t.Fatalf("got err %v, want ErrReplyEmailRequired", err)
	}
}

func TestSubmit_InAppDoesNotRequireEmail(t *testing.T) {
	repo := newFakeInboxRepository()
	svc := New(repo, &fakeNotificationService{})
	userID := uuid.Must(uuid.NewV7())

	msg, err := svc.Submit(context.Background(), userID, "hi", db.ReplyViaInApp, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if msg.Status != db.InboxStatusUnread {
		t.Fatalf("got status %q, want unread", msg.Status)
	}
}

func TestMarkReplied_EmailChannelDeliversAndClearsPII(t *testing.T) {
	repo := newFakeInboxRepository()
	notify := &fakeNotificationService{}
	svc := New(repo, notify)
	userID := uuid.Must(uuid.NewV7())

	msg, err := svc.Submit(context.Background(), userID, "help", db.ReplyViaEmail, "user@example.com")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := svc.MarkReplied(context.Background(), msg.ID, "here's your answer"); err != nil {
		t.Fatalf("MarkReplied: %v", err)
	}

	stored := repo.byID[msg.ID]
	if stored.Status != db.InboxStatusReplied {
		t.Fatalf("got status %q, want replied", stored.Status)
	}
	if stored.ReplyEmail != "" {
		t.Fatal("expected reply_email to be cleared after reply")
	}
	if len(notify.sent) != 1 || notify.sent[0] != "user@example.com" {
		t.Fatalf("got sent %v, want one send to user@example.com", notify.sent)
	}
}

func TestMarkReplied_InAppChannelNeverSendsEmail(t *testing.T) {
	repo := newFakeInboxRepository()
	notify := &fakeNotificationService{}
	svc := New(repo, notify)
	userID := uuid.Must(uuid.NewV7())

	msg, err := svc.Submit(context.Background(), userID, "help", db.ReplyViaInApp, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := svc.MarkReplied(context.Background(), msg.ID, "answer"); err != nil {
		t.Fatalf("MarkReplied: %v", err)
	}
	if len(notify.sent) != 0 {
		t.Fatalf("expected no email sends for an in-app reply, got %v", notify.sent)
	}
}

func TestArchive_IdempotentFromAnyStatus(t *testing.T) {
	repo := newFakeInboxRepository()
	svc := New(repo, &fakeNotificationService{})
	userID := uuid.Must(uuid.NewV7())

	msg, err := svc.Submit(context.Background(), userID, "hi", db.ReplyViaInApp, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := svc.Archive(context.Background(), msg.ID); err != nil {
		t.Fatalf("first Archive: %v", err)
	}
	if err := svc.Archive(context.Background(), msg.ID); err != nil {
		t.Fatalf("second Archive: %v", err)
	}
	if repo.byID[msg.ID].Status != db.InboxStatusArchived {
		t.Fatalf("got status %q, want archived", repo.byID[msg.ID].Status)
	}
}

func TestMarkRead_IgnoresAlreadyRepliedMessage(t *testing.T) {
	repo := newFakeInboxRepository()
	svc := New(repo, &fakeNotificationService{})
	userID := uuid.Must(uuid.NewV7())

	msg, err := svc.Submit(context.Background(), userID, "hi", db.ReplyViaInApp, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := svc.MarkReplied(context.Background(), msg.ID, "answer"); err != nil {
		t.Fatalf("MarkReplied: %v", err)
	}
	if err := svc.MarkRead(context.Background(), msg.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if repo.byID[msg.ID].Status != db.InboxStatusReplied {
		t.Fatalf("got status %q, want replied (unchanged)", repo.byID[msg.ID].Status)
	}
}
