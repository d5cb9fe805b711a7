// Package session implements the server-side session lifecycle: opaque
// bearer token issuance, lookup, staleness-based expiry, and the
// single-session-per-user invariant enforced one layer down in
// repositories.SessionRepository.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/repositories"
	"github.com/audiobooks/authd/internal/tokens"
)

// StaleAfter is how long a session may go untouched before it is treated
// as absent on read and reaped. Independent of any absolute expiry — a
// session persists indefinitely while the user stays active.
const StaleAfter = 30 * time.Minute

// touchInterval rate-limits LastSeen updates so every request doesn't
// generate a write; a session is "fresh enough" if it was touched within
// the last minute.
const touchInterval = 60 * time.Second

var (
	// ErrExpired is returned by GetByToken when the session exists but is
	// stale enough that the caller should treat it as logged out.
	ErrExpired = errors.New("session: expired")
)

// Manager issues, resolves, and reaps sessions.
type Manager struct {
	sessions repositories.SessionRepository
}

// New returns a Manager backed by the given repository.
func New(sessions repositories.SessionRepository) *Manager {
	return &Manager{sessions: sessions}
}

// Issued is the result of creating a session: the raw token (to be set as
// a cookie) and the persisted row (whose TokenHash is the only copy of the
// token that reaches the database).
type Issued struct {
	Token   string
	Session *db.Session
}

// CreateForUser issues a new session for userID, invalidating any other
// session that user held (single-session-per-user invariant). persistent
// marks a session created via the magic-link recovery flow, which the
// HTTP layer gives a long-lived cookie instead of a browser-session one.
func (m *Manager) CreateForUser(ctx context.Context, userID uuid.UUID, userAgent, ipAddress string, persistent bool) (*Issued, error) {
	token, hash, err := tokens.Generate()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &db.Session{
		UserID:     userID,
		TokenHash:  hash,
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
		LastSeen:   now,
		Persistent: persistent,
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return &Issued{Token: token, Session: s}, nil
}

// GetByToken resolves a raw bearer token to its session, touching LastSeen
// (rate-limited) and rejecting sessions stale beyond StaleAfter. The
// reaper is responsible for actually deleting stale rows; this just
// refuses to honor one that predates the cutoff, closing the window
// between "should be reaped" and "next reaper tick".
func (m *Manager) GetByToken(ctx context.Context, token string) (*db.Session, error) {
	s, err := m.sessions.GetByTokenHash(ctx, tokens.Hash(token))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: get by token: %w", err)
	}

	now := time.Now()
	if now.Sub(s.LastSeen) > StaleAfter {
		return nil, ErrExpired
	}
	if now.Sub(s.LastSeen) >= touchInterval {
		if err := m.sessions.Touch(ctx, s.ID, now); err != nil {
			return nil, fmt.Errorf("session: touch: %w", err)
		}
		s.LastSeen = now
	}
	return s, nil
}

// ErrNotFound mirrors repositories.ErrNotFound under the session package's
// own name so callers don't need to import repositories just to check it.
var ErrNotFound = repositories.ErrNotFound

// Invalidate deletes a single session by ID (used for logout).
func (m *Manager) Invalidate(ctx context.Context, id uuid.UUID) error {
	if err := m.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("session: invalidate: %w", err)
	}
	return nil
}

// InvalidateUserSessions deletes every session belonging to a user. Used
// after a backup-code recovery or a WebAuthn clone-detection event, where
// any outstanding session must be considered compromised.
func (m *Manager) InvalidateUserSessions(ctx context.Context, userID uuid.UUID) error {
	if err := m.sessions.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("session: invalidate user sessions: %w", err)
	}
	return nil
}

// ReapStale deletes every session untouched since before the StaleAfter
// cutoff and reports how many were removed.
func (m *Manager) ReapStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-StaleAfter)
	n, err := m.sessions.DeleteStaleBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session: reap stale: %w", err)
	}
	return n, nil
}

// ActiveCount returns the number of sessions not yet past the staleness
// grace period, for the active-sessions gauge.
func (m *Manager) ActiveCount(ctx context.Context) (int64, error) {
	n, err := m.sessions.CountActive(ctx, time.Now().Add(-StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("session: active count: %w", err)
	}
	return n, nil
}
