package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"amese/labsync/internal/delivery"
	"amese/labsync/internal/model"
	"amese/labsync/internal/transform"
	"amese/labsync/pkg/errorutil"
	"amese/labsync/pkg/infra/mysql"
	"amese/labsync/pkg/logger"
)

// Store is the watermark and fetch surface the monitor drives. Each cycle
// runs inside one transaction so the watermark only moves when the cycle
// commits.
type Store interface {
	Bootstrap(ctx context.Context) error
	InCycle(ctx context.Context, fn func(cur mysql.Cursor) error) error
}

// Transformer turns an order aggregate into an outbound payload.
type Transformer interface {
	Transform(ctx context.Context, ev *model.Event) (*transform.Payload, error)
}

// Deliverer pushes one payload downstream and reports the outcome.
type Deliverer interface {
	Deliver(ctx context.Context, payload *transform.Payload, orderID int64) delivery.Outcome
}

// FailureSink persists aggregates that will never be retried automatically.
type FailureSink interface {
	Record(ctx context.Context, ev *model.Event, reason string) (string, error)
}

// Notifier announces committed deliveries. Optional.
type Notifier interface {
	DeliveryCompleted(ctx context.Context, orderID int64, externalID, status string) error
}

// Options carries the polling knobs.
type Options struct {
	PollInterval   time.Duration
	DebounceWindow time.Duration
	PageSize       int
	Providers      []string
}

// Monitor owns the poll loop: fetch new items past the watermark, group them
// by order, hold fresh orders for the debounce window, then transform and
// deliver the ready ones. The watermark never moves past an undelivered
// order's items.
type Monitor struct {
	opts        Options
	store       Store
	transformer Transformer
	deliverer   Deliverer
	sink        FailureSink
	notifier    Notifier
	logger      logger.Logger

	pending    *PendingSet
	now        func() time.Time
	cycleSeq   *atomic.Int64
	delivered  *atomic.Int64
	failed     *atomic.Int64
	closing    *atomic.Bool
	shutdownCh chan struct{}
}

// Option tweaks monitor construction.
type Option func(*Monitor)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
		m.pending = NewPendingSet(now)
	}
}

// WithNotifier attaches a delivery notifier.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) {
		m.notifier = n
	}
}

// New assembles a monitor over the given collaborators.
func New(opts Options, store Store, tf Transformer, dl Deliverer, sink FailureSink, log logger.Logger, mopts ...Option) *Monitor {
	m := &Monitor{
		opts:        opts,
		store:       store,
		transformer: tf,
		deliverer:   dl,
		sink:        sink,
		logger:      log,
		now:         time.Now,
		pending:     NewPendingSet(time.Now),
		cycleSeq:    atomic.NewInt64(0),
		delivered:   atomic.NewInt64(0),
		failed:      atomic.NewInt64(0),
		closing:     atomic.NewBool(false),
		shutdownCh:  make(chan struct{}),
	}
	for _, opt := range mopts {
		opt(m)
	}
	return m
}

// Run bootstraps the watermark state and polls until Shutdown. A failed
// cycle is logged and retried on the next tick; only bootstrap failure is
// fatal.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.store.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap monitor state: %w", err)
	}
	m.logger.Infof(ctx, "[Monitor] started, poll=%s debounce=%s page=%d",
		m.opts.PollInterval, m.opts.DebounceWindow, m.opts.PageSize)

	for {
		if m.closing.Load() {
			m.logger.Infof(ctx, "[Monitor] stopped, delivered=%d failed=%d",
				m.delivered.Load(), m.failed.Load())
			return nil
		}

		cycleCtx := logger.WithCycle(ctx, m.cycleSeq.Inc())
		if err := m.Cycle(cycleCtx); err != nil {
			m.logger.Errorf(cycleCtx, "[Monitor] cycle failed: %v", err)
		}

		select {
		case <-m.shutdownCh:
		case <-ctx.Done():
			m.logger.Infof(ctx, "[Monitor] context canceled, delivered=%d failed=%d",
				m.delivered.Load(), m.failed.Load())
			return ctx.Err()
		case <-time.After(m.opts.PollInterval):
		}
	}
}

// Shutdown asks the poll loop to exit after the current cycle. Safe to call
// more than once.
func (m *Monitor) Shutdown() {
	if m.closing.CAS(false, true) {
		close(m.shutdownCh)
	}
}

// Delivered returns the number of orders committed downstream so far.
func (m *Monitor) Delivered() int64 {
	return m.delivered.Load()
}

// Failed returns the number of orders written to the failure sink so far.
func (m *Monitor) Failed() int64 {
	return m.failed.Load()
}

// Cycle runs one poll iteration inside a store transaction. Returning an
// error rolls the transaction back, leaving the watermark untouched so the
// same items are fetched again next tick; duplicate deliveries from a
// rolled-back cycle are absorbed downstream by the idempotency key.
// Failure-sink writes and the delivered/failed counters are not rolled back
// with it, so a retried cycle can leave duplicate failure records and count
// an order twice. At-least-once slack, same as the redelivery case.
func (m *Monitor) Cycle(ctx context.Context) error {
	return m.store.InCycle(ctx, func(cur mysql.Cursor) error {
		last, err := cur.LastItemID(ctx)
		if err != nil {
			return fmt.Errorf("read watermark: %w", err)
		}

		rows, err := cur.FetchRows(ctx, last, m.opts.Providers, m.opts.PageSize)
		if err != nil {
			return fmt.Errorf("fetch items after %d: %w", last, err)
		}
		if len(rows) == 0 {
			// Entries whose rows vanished from the source must still be
			// dropped, so a reappearing order starts a fresh window.
			m.pending.Advance(nil, m.opts.DebounceWindow)
			m.logger.Debugf(ctx, "[Monitor] no new items past %d", last)
			return nil
		}

		groups, ids := BuildGroups(rows)
		ready, waiting := m.pending.Advance(ids, m.opts.DebounceWindow)
		m.logger.Infof(ctx, "[Monitor] fetched %d items in %d orders, ready=%d waiting=%d",
			len(rows), len(ids), len(ready), len(waiting))
		if len(ready) == 0 && len(waiting) > 0 {
			m.logger.Infof(ctx, "[Monitor] debounce holding %d order(s)", len(waiting))
		}
		for _, id := range waiting {
			m.logger.Debugf(logger.WithOrderID(ctx, id), "[Monitor] order held, remaining=%s",
				m.pending.RemainingWait(id, m.opts.DebounceWindow))
		}

		maxObserved := last
		for _, g := range groups {
			if g.MaxItemID > maxObserved {
				maxObserved = g.MaxItemID
			}
		}

		processed := make(map[int64]bool, len(ready))
		for _, id := range ready {
			if err := m.processOrder(logger.WithOrderID(ctx, id), id, groups[id]); err != nil {
				return err
			}
			processed[id] = true
			m.pending.Remove(id)
		}

		// The watermark must not skip items of orders still pending, or
		// their already-fetched rows would never be seen again.
		newLast := maxObserved
		for id, g := range groups {
			if processed[id] {
				continue
			}
			if g.MinItemID-1 < newLast {
				newLast = g.MinItemID - 1
			}
		}
		if newLast > last {
			if err := cur.SetLastItemID(ctx, newLast); err != nil {
				return fmt.Errorf("advance watermark to %d: %w", newLast, err)
			}
			m.logger.Infof(ctx, "[Monitor] watermark %d -> %d", last, newLast)
		}
		return nil
	})
}

// processOrder transforms and delivers one ready aggregate. Retryable
// transform errors abort the cycle; everything else is terminal for the
// order and lands in the failure sink.
func (m *Monitor) processOrder(ctx context.Context, orderID int64, g *Group) error {
	payload, err := m.transformer.Transform(ctx, g.Event)
	if err != nil {
		if errorutil.IsRetryable(err) {
			return fmt.Errorf("transform order %d: %w", orderID, err)
		}
		return m.sinkOrder(ctx, g.Event, err.Error())
	}

	out := m.deliverer.Deliver(ctx, payload, orderID)
	if !out.Delivered() {
		m.logger.Warnf(ctx, "[Monitor] delivery rejected: %s", out.Reason())
		return m.sinkOrder(ctx, g.Event, out.Reason())
	}

	m.delivered.Inc()
	m.logger.Infof(ctx, "[Monitor] order delivered, status=%s items=%d", out.Status, len(g.Event.Items))
	if m.notifier != nil {
		if err := m.notifier.DeliveryCompleted(ctx, orderID, payload.Batch.ExternalID, out.Status.String()); err != nil {
			m.logger.Warnf(ctx, "[Monitor] delivery notification failed: %v", err)
		}
	}
	return nil
}

func (m *Monitor) sinkOrder(ctx context.Context, ev *model.Event, reason string) error {
	path, err := m.sink.Record(ctx, ev, reason)
	if err != nil {
		return fmt.Errorf("record failed order: %w", err)
	}
	m.failed.Inc()
	m.logger.Warnf(ctx, "[Monitor] order recorded to failure sink: %s (%s)", path, reason)
	return nil
}
