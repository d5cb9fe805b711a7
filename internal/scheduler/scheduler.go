// Package scheduler runs the periodic reaper that enforces every
// expiry-based invariant in the data model: stale sessions, expired
// pending registrations and pending recoveries, and old dismissed
// notifications (SPEC_FULL §5). It wraps gocron, the same scheduling
// library the rest of this codebase's ancestry uses for periodic work.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/audiobooks/authd/internal/metrics"
	"github.com/audiobooks/authd/internal/notification"
	"github.com/audiobooks/authd/internal/repositories"
	"github.com/audiobooks/authd/internal/session"
)

// Interval is how often the reaper tick runs.
const Interval = 5 * time.Minute

// Reaper periodically deletes expired and stale rows across the store.
// Each step runs independently; a failure in one step is logged and never
// prevents the remaining steps from running.
type Reaper struct {
	cron     gocron.Scheduler
	sessions *session.Manager
	pendReg  repositories.PendingRegistrationRepository
	pendRec  repositories.PendingRecoveryRepository
	notifs   repositories.NotificationRepository
	logger   *zap.Logger
}

// New creates a Reaper. Call Start to begin ticking.
func New(
	sessions *session.Manager,
	pendReg repositories.PendingRegistrationRepository,
	pendRec repositories.PendingRecoveryRepository,
	notifs repositories.NotificationRepository,
	logger *zap.Logger,
) (*Reaper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: create gocron scheduler: %w", err)
	}
	return &Reaper{
		cron:     s,
		sessions: sessions,
		pendReg:  pendReg,
		pendRec:  pendRec,
		notifs:   notifs,
		logger:   logger.Named("scheduler"),
	}, nil
}

// Start schedules the reaper tick and starts the underlying gocron
// scheduler. Call once at startup.
func (r *Reaper) Start(ctx context.Context) error {
	_, err := r.cron.NewJob(
		gocron.DurationJob(Interval),
		gocron.NewTask(func() { r.tick(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: schedule reaper tick: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop shuts down the underlying gocron scheduler.
func (r *Reaper) Stop() error {
	if err := r.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	return nil
}

// tick runs every reap step once, logging each step's outcome independently.
func (r *Reaper) tick(ctx context.Context) {
	if n, err := r.sessions.ReapStale(ctx); err != nil {
		r.logger.Error("reap stale sessions failed", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("reaped stale sessions", zap.Int64("count", n))
	}

	now := time.Now()

	if n, err := r.pendReg.DeleteExpired(ctx, now); err != nil {
		r.logger.Error("reap expired pending registrations failed", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("reaped expired pending registrations", zap.Int64("count", n))
	}

	if n, err := r.pendRec.DeleteExpired(ctx, now); err != nil {
		r.logger.Error("reap expired pending recoveries failed", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("reaped expired pending recoveries", zap.Int64("count", n))
	}

	if n, err := r.notifs.DeleteDismissedOlderThan(ctx, now.Add(-notification.RetentionWindow)); err != nil {
		r.logger.Error("reap old dismissed notifications failed", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("reaped dismissed notifications", zap.Int64("count", n))
	}

	if n, err := r.sessions.ActiveCount(ctx); err != nil {
		r.logger.Error("active session count failed", zap.Error(err))
	} else {
		metrics.ActiveSessions.Set(float64(n))
	}
}
