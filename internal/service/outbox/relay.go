// Package outbox relays notifications enqueued by review actions to the event bus.
package outbox

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nmxmxh/reviewqueue/internal/service/reviewable"
	"github.com/nmxmxh/reviewqueue/pkg/events"
	"github.com/nmxmxh/reviewqueue/pkg/json"
	"github.com/nmxmxh/reviewqueue/pkg/metrics"
)

// Relay outcomes recorded on each notification.
const (
	OutcomeDelivered    = "delivered"
	OutcomeDeadLettered = "dead_lettered"
)

// Store is the outbox table.
type Store interface {
	PendingNotifications(ctx context.Context, limit int) ([]reviewable.Notification, error)
	MarkNotification(ctx context.Context, id, outcome string) error
}

// DeadLetter receives an event the relay gave up on.
type DeadLetter func(ctx context.Context, eventType, eventID string, body []byte, err error) error

// Relay drains the outbox in enqueue order.
type Relay struct {
	store      Store
	emitter    events.EventEmitter
	log        *zap.Logger
	batchSize  int
	newBackOff func() backoff.BackOff
	deadLetter DeadLetter
	running    sync.Mutex
}

// Option configures a Relay.
type Option func(*Relay)

// WithBatchSize bounds the notifications drained per run.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithBackOff sets the retry policy for a single publish.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(r *Relay) { r.newBackOff = fn }
}

// WithDeadLetter routes undeliverable events to dl instead of leaving them queued.
func WithDeadLetter(dl DeadLetter) Option {
	return func(r *Relay) { r.deadLetter = dl }
}

func NewRelay(store Store, emitter events.EventEmitter, log *zap.Logger, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		emitter:   emitter,
		log:       log.With(zap.String("module", "outbox")),
		batchSize: 100,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return backoff.WithMaxRetries(b, 4)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Envelope converts a notification to its bus representation.
func Envelope(n reviewable.Notification) (*events.EventEnvelope, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	env := events.NewEnvelope(n.ID, "reviewable."+n.Type, body, n.CreatedAt)
	env.Metadata["reviewable_id"] = strconv.FormatInt(n.ItemID, 10)
	env.Metadata["recipient_id"] = strconv.FormatInt(n.RecipientID, 10)
	return env, nil
}

// RunOnce publishes one batch. Runs do not overlap; a call made while another
// is draining returns immediately.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	if !r.running.TryLock() {
		return 0, nil
	}
	defer r.running.Unlock()

	pending, err := r.store.PendingNotifications(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, n := range pending {
		env, err := Envelope(n)
		if err != nil {
			r.log.Error("Failed to encode notification", zap.String("id", n.ID), zap.Error(err))
			metrics.OutboxDelivered.WithLabelValues(metrics.OutcomeError).Inc()
			continue
		}
		err = backoff.Retry(func() error {
			return events.EmitEventWithLogging(ctx, r.emitter, r.log, env)
		}, backoff.WithContext(r.newBackOff(), ctx))
		if err != nil {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			r.giveUp(ctx, n, env, err)
			continue
		}
		if err := r.store.MarkNotification(ctx, n.ID, OutcomeDelivered); err != nil {
			r.log.Error("Failed to mark notification delivered", zap.String("id", n.ID), zap.Error(err))
			continue
		}
		metrics.OutboxDelivered.WithLabelValues(OutcomeDelivered).Inc()
		delivered++
	}
	return delivered, nil
}

func (r *Relay) giveUp(ctx context.Context, n reviewable.Notification, env *events.EventEnvelope, cause error) {
	r.log.Warn("Giving up on notification", zap.String("id", n.ID), zap.String("type", env.Type), zap.Error(cause))
	if r.deadLetter == nil {
		metrics.OutboxDelivered.WithLabelValues(metrics.OutcomeFailed).Inc()
		return
	}
	body, err := env.Marshal()
	if err == nil {
		err = r.deadLetter(ctx, env.Type, env.ID, body, cause)
	}
	if err != nil {
		r.log.Error("Failed to dead-letter notification", zap.String("id", n.ID), zap.Error(err))
		metrics.OutboxDelivered.WithLabelValues(metrics.OutcomeFailed).Inc()
		return
	}
	if err := r.store.MarkNotification(ctx, n.ID, OutcomeDeadLettered); err != nil {
		r.log.Error("Failed to mark notification dead-lettered", zap.String("id", n.ID), zap.Error(err))
		return
	}
	metrics.OutboxDelivered.WithLabelValues(OutcomeDeadLettered).Inc()
}

// Schedule registers the relay on c under spec. Each run is bounded by ctx.
func (r *Relay) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		if n, err := r.RunOnce(ctx); err != nil {
			r.log.Warn("Outbox run failed", zap.Error(err))
		} else if n > 0 {
			r.log.Debug("Outbox run delivered notifications", zap.Int("count", n))
		}
	})
}
