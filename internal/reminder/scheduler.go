// Package reminder emails users about activities that start one lead time
// from now.
//
// Each tick owns one window of start times. Windows tile, so an activity
// is normally seen by exactly one tick. Before sending, a tick claims the
// activity's ledger row with a conditional upsert, so restarts and
// instances ticking the same window send at most once. A send that fails
// releases the claim and is retried only if a later window still covers
// the activity.
//
// Activity times are naive wall-clock values compared against the host's
// local clock. A change of host timezone or a DST shift moves reminders.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"campusdesk/internal/directory"
	"campusdesk/internal/mailer"
	"campusdesk/internal/metrics"
	"campusdesk/internal/model"
	"campusdesk/internal/retry"
	"campusdesk/internal/storage/repos"
)

const JobName = "reminder"

type Store interface {
	ListDueActivities(ctx context.Context, startDate, endDate string) ([]model.Activity, error)
	ReminderSent(ctx context.Context, activityID string) (bool, error)
	ClaimReminder(ctx context.Context, in repos.ReminderInput, lease time.Duration) (bool, error)
	ReleaseReminder(ctx context.Context, activityID string) error
	MarkReminderSent(ctx context.Context, in repos.ReminderInput) (model.Notification, error)
}

type Options struct {
	LeadTime    time.Duration
	Window      time.Duration
	SendTimeout time.Duration
	// Clock returns the current local time. Defaults to time.Now.
	Clock func() time.Time
}

// Result summarizes one tick.
type Result struct {
	Window     Window `json:"-"`
	Candidates int    `json:"candidates"`
	Sent       int    `json:"sent"`
	Duplicates int    `json:"duplicates"`
	NoContact  int    `json:"no_contact"`
	Failed     int    `json:"failed"`
}

type Scheduler struct {
	store     Store
	directory directory.Lookup
	mailer    mailer.Mailer
	policy    retry.Policy
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      Options
}

func New(store Store, dir directory.Lookup, m mailer.Mailer, policy retry.Policy, mt *metrics.Metrics, logger *zap.Logger, opts Options) *Scheduler {
	if opts.LeadTime <= 0 {
		opts.LeadTime = 24 * time.Hour
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:     store,
		directory: dir,
		mailer:    m,
		policy:    policy,
		metrics:   mt,
		logger:    logger.With(zap.String("component", "reminder")),
		opts:      opts,
	}
}

// Tick is the cron entry point. Errors are logged; the next tick runs
// regardless.
func (s *Scheduler) Tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx, s.opts.Clock()); err != nil {
		s.logger.Error("reminder tick failed", zap.Error(err))
	}
}

// RunOnce processes the window computed from now, truncated to the
// minute in now's location.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	started := time.Now()
	now = now.Truncate(time.Minute)
	w := NewWindow(now, s.opts.LeadTime, s.opts.Window)
	res := Result{Window: w}

	defer func() {
		if s.metrics != nil {
			s.metrics.ReminderTickDuration.Observe(time.Since(started).Seconds())
		}
	}()

	startDate, endDate := w.DateRange()
	due, err := retry.Value(ctx, s.policy, func(ctx context.Context) ([]model.Activity, error) {
		return s.store.ListDueActivities(ctx, startDate, endDate)
	})
	if err != nil {
		s.countTick("failed")
		return res, fmt.Errorf("list due activities: %w", err)
	}

	for _, a := range due {
		at, err := ActivityTime(a, now.Location())
		if err != nil {
			s.logger.Warn("skipping activity with unparseable time", zap.String("activity_id", a.ID), zap.Error(err))
			continue
		}
		if !w.Contains(at) {
			continue
		}
		res.Candidates++
		switch outcome := s.process(ctx, a); outcome {
		case "sent":
			res.Sent++
		case "duplicate":
			res.Duplicates++
		case "no_contact":
			res.NoContact++
		default:
			res.Failed++
		}
	}

	s.countTick("ok")
	s.logger.Info("reminder tick",
		zap.Time("window_start", w.Start),
		zap.Time("window_end", w.End),
		zap.Int("candidates", res.Candidates),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// process handles one activity and reports what happened. Panics and
// errors stay contained so the rest of the tick continues.
func (s *Scheduler) process(ctx context.Context, a model.Activity) (outcome string) {
	log := s.logger.With(zap.String("activity_id", a.ID), zap.String("user_id", a.UserID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("reminder panicked", zap.Any("panic", r))
			outcome = "failed"
		}
		s.countEmail(outcome)
	}()

	// Cheap read first so sent activities never reach the directory. The
	// claim below is what decides who sends.
	sent, err := retry.Value(ctx, s.policy, func(ctx context.Context) (bool, error) {
		return s.store.ReminderSent(ctx, a.ID)
	})
	if err != nil {
		log.Error("ledger check failed", zap.Error(err))
		return "failed"
	}
	if sent {
		return "duplicate"
	}

	contact, err := s.directory.ResolveUserContact(ctx, a.UserID)
	if errors.Is(err, directory.ErrNotFound) || (err == nil && contact.Email == "") {
		log.Warn("no email address for activity owner")
		return "no_contact"
	}
	if err != nil {
		log.Error("contact lookup failed", zap.Error(err))
		return "failed"
	}

	entry := repos.ReminderInput{
		Activity: a,
		Title:    "Recordatorio de Actividad",
		Message:  fmt.Sprintf("Tienes la actividad '%s' mañana", a.Title),
	}
	claimed, err := retry.Value(ctx, s.policy, func(ctx context.Context) (bool, error) {
		return s.store.ClaimReminder(ctx, entry, s.claimLease())
	})
	if err != nil {
		log.Error("ledger claim failed", zap.Error(err))
		return "failed"
	}
	if !claimed {
		return "duplicate"
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	err = s.mailer.SendReminder(sendCtx, contact.Email, contact.DisplayName, mailer.ActivitySummary{
		Title:    a.Title,
		Date:     a.Date,
		Time:     a.Time,
		Location: a.Location,
		Type:     string(a.Type),
	})
	cancel()
	if err != nil {
		log.Warn("reminder email failed", zap.String("to", contact.Email), zap.Error(err))
		if rerr := retry.Do(ctx, s.policy, func(ctx context.Context) error {
			return s.store.ReleaseReminder(ctx, a.ID)
		}); rerr != nil {
			log.Error("reminder claim not released", zap.Error(rerr))
		}
		return "failed"
	}

	_, err = retry.Value(ctx, s.policy, func(ctx context.Context) (model.Notification, error) {
		return s.store.MarkReminderSent(ctx, entry)
	})
	if err != nil {
		// The email went out; the claim keeps others off until it expires.
		log.Error("reminder sent but ledger not updated", zap.Error(err))
		return "failed"
	}
	log.Info("reminder sent", zap.String("to", contact.Email))
	return "sent"
}

// claimLease outlives the longest send, so a live claim is never taken
// over while its email may still go out.
func (s *Scheduler) claimLease() time.Duration {
	return s.opts.SendTimeout + time.Minute
}

func (s *Scheduler) countTick(result string) {
	if s.metrics != nil {
		s.metrics.ReminderTicks.WithLabelValues(result).Inc()
	}
}

func (s *Scheduler) countEmail(result string) {
	if s.metrics != nil {
		s.metrics.ReminderEmails.WithLabelValues(result).Inc()
	}
}
