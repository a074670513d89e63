// Package notify delivers outbox events after the transaction that
// queued them has committed.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"campusdesk/internal/broker"
	"campusdesk/internal/directory"
	"campusdesk/internal/mailer"
	"campusdesk/internal/metrics"
	"campusdesk/internal/model"
	"campusdesk/internal/storage/repos"
)

const JobName = "outbox"

// ErrPermanent marks a delivery failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent_delivery_failure")

type Store interface {
	ClaimOutbox(ctx context.Context, limit int, leaseFor time.Duration) ([]repos.ClaimedOutboxEvent, error)
	CompleteOutbox(ctx context.Context, id, leaseToken string) error
	FailOutbox(ctx context.Context, id, leaseToken, reason string, retryAt *time.Time) error
	GetAccountByID(ctx context.Context, id string) (model.Account, error)
	CreateNotification(ctx context.Context, in repos.CreateNotificationInput) (model.Notification, error)
}

// Handler delivers one event. Returning an error wrapping ErrPermanent
// fails the event without further attempts.
type Handler func(ctx context.Context, ev model.OutboxEvent) error

type Options struct {
	BatchSize   int
	Concurrency int
	MaxAttempts int
	RetryDelay  time.Duration
	LeaseFor    time.Duration
	Clock       func() time.Time
}

type Dispatcher struct {
	store     Store
	directory directory.Lookup
	mailer    mailer.Mailer
	broker    broker.Broker
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      Options
	handlers  map[string]Handler

	drainMu sync.Mutex
}

func New(store Store, dir directory.Lookup, m mailer.Mailer, b broker.Broker, mt *metrics.Metrics, logger *zap.Logger, opts Options) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 30 * time.Second
	}
	if opts.LeaseFor <= 0 {
		opts.LeaseFor = 2 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		store:     store,
		directory: dir,
		mailer:    m,
		broker:    b,
		metrics:   mt,
		logger:    logger.With(zap.String("component", "outbox")),
		opts:      opts,
		handlers:  map[string]Handler{},
	}
	d.Handle(model.OutboxKindAssignmentClaimed, d.deliverAssignment)
	return d
}

// Handle registers the handler for an event kind, replacing any previous one.
func (d *Dispatcher) Handle(kind string, h Handler) {
	d.handlers[kind] = h
}

// Run drains the outbox whenever a wake event arrives on the broker, until
// ctx is cancelled. The cron sweep covers wakes that were dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	const subscriber = "outbox-dispatcher"
	ch, err := d.broker.Subscribe(ctx, subscriber, broker.TopicOutbox)
	if err != nil {
		return fmt.Errorf("subscribe outbox: %w", err)
	}
	defer func() { _ = d.broker.Unsubscribe(context.Background(), subscriber, broker.TopicOutbox) }()

	d.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			d.Sweep(ctx)
		}
	}
}

// Sweep is the cron entry point.
func (d *Dispatcher) Sweep(ctx context.Context) {
	if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("outbox drain failed", zap.Error(err))
	}
}

// DrainResult counts what one drain did.
type DrainResult struct {
	Delivered int
	Retrying  int
	Failed    int
}

// Drain claims and delivers batches until nothing is due. Concurrent calls
// are serialized; leases keep separate processes apart.
func (d *Dispatcher) Drain(ctx context.Context) (DrainResult, error) {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()

	var total DrainResult
	for ctx.Err() == nil {
		batch, err := d.store.ClaimOutbox(ctx, d.opts.BatchSize, d.opts.LeaseFor)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.opts.Concurrency)
		for _, claimed := range batch {
			g.Go(func() error {
				outcome := d.deliver(gctx, claimed)
				mu.Lock()
				switch outcome {
				case "delivered":
					total.Delivered++
				case "retry":
					total.Retrying++
				default:
					total.Failed++
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}
	return total, ctx.Err()
}

func (d *Dispatcher) deliver(ctx context.Context, c repos.ClaimedOutboxEvent) (outcome string) {
	ev := c.Event
	log := d.logger.With(zap.String("event_id", ev.ID), zap.String("kind", ev.Kind), zap.Int("attempt", ev.Attempts))
	defer func() {
		if d.metrics != nil {
			d.metrics.OutboxDeliveries.WithLabelValues(ev.Kind, outcome).Inc()
		}
	}()

	h, ok := d.handlers[ev.Kind]
	var err error
	if !ok {
		err = fmt.Errorf("%w: no handler for %q", ErrPermanent, ev.Kind)
	} else {
		err = safeCall(ctx, h, ev)
	}

	if err == nil {
		if cerr := d.store.CompleteOutbox(ctx, ev.ID, c.LeaseToken); cerr != nil {
			log.Warn("delivered but could not complete event", zap.Error(cerr))
		}
		return "delivered"
	}

	var retryAt *time.Time
	if !errors.Is(err, ErrPermanent) && ev.Attempts < d.opts.MaxAttempts {
		at := d.opts.Clock().UTC().Add(time.Duration(ev.Attempts) * d.opts.RetryDelay)
		retryAt = &at
	}
	if ferr := d.store.FailOutbox(ctx, ev.ID, c.LeaseToken, err.Error(), retryAt); ferr != nil {
		log.Warn("could not release failed event", zap.Error(ferr))
	}
	if retryAt != nil {
		log.Warn("outbox delivery failed, will retry", zap.Time("retry_at", *retryAt), zap.Error(err))
		return "retry"
	}
	log.Error("outbox delivery failed permanently", zap.Error(err))
	return "failed"
}

func safeCall(ctx context.Context, h Handler, ev model.OutboxEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panic: %v", ErrPermanent, r)
		}
	}()
	return h(ctx, ev)
}

func (d *Dispatcher) deliverAssignment(ctx context.Context, ev model.OutboxEvent) error {
	userID, _ := ev.Payload["user_id"].(string)
	agentID, _ := ev.Payload["agent_id"].(string)
	convID, _ := ev.Payload["conversation_id"].(string)
	if userID == "" || convID == "" {
		return fmt.Errorf("%w: incomplete payload", ErrPermanent)
	}

	agentName := "un agente"
	if agentID != "" {
		if agent, err := d.store.GetAccountByID(ctx, agentID); err == nil {
			agentName = directory.DisplayName(agent.FullName, agent.DisplayName, agent.Email)
		}
	}

	// The in-app notice is keyed on the event, so a retried delivery
	// finds it already there and only the email is attempted again.
	if _, err := d.store.CreateNotification(ctx, repos.CreateNotificationInput{
		UserID:    userID,
		Type:      model.NotificationAssignment,
		Title:     mailer.AssignmentSubject,
		Message:   fmt.Sprintf("%s se unió a tu conversación", agentName),
		SourceKey: "outbox:" + ev.ID,
	}); err != nil {
		return fmt.Errorf("create assignment notification: %w", err)
	}

	contact, err := d.directory.ResolveUserContact(ctx, userID)
	switch {
	case errors.Is(err, directory.ErrNotFound), err == nil && contact.Email == "":
		d.logger.Warn("no contact for assignment notice", zap.String("user_id", userID))
		return nil
	case err != nil:
		return fmt.Errorf("resolve contact: %w", err)
	}
	if err := d.mailer.SendAssignmentNotice(ctx, contact.Email, contact.DisplayName, agentName, convID); err != nil {
		return fmt.Errorf("send assignment notice: %w", err)
	}
	return nil
}
