// Package bridge streams values out of the incremental engine to an external
// consumer. A subscription runs a root task that reads a cell, maps the value,
// hands it to a callback and waits for the cell to be invalidated.
//
// Deliveries never block the read loop: a slow callback only ever sees the
// latest value. Close cancels the loop cooperatively; once it returns no
// callback starts again.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/incremental"
	"github.com/conneroisu/pagepack/internal/logging"
	"github.com/conneroisu/pagepack/internal/metrics"
)

// DefaultMaxDeliveryFailures is how many consecutive failed deliveries tear a
// subscription down.
const DefaultMaxDeliveryFailures = 3

type config struct {
	maxFailures int
	logger      logging.Logger
	metrics     *metrics.Metrics
}

// Option configures a subscription.
type Option func(*config)

// WithMaxDeliveryFailures sets the consecutive failure limit. n < 1 means 1.
func WithMaxDeliveryFailures(n int) Option {
	return func(c *config) {
		if n < 1 {
			n = 1
		}
		c.maxFailures = n
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics records deliveries on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

type delivery struct {
	value any
	err   error
}

// producer computes the next delivery and returns a wait function that
// blocks until the next one is due. wait returning false ends the loop.
type producer func(ctx context.Context) (d delivery, ok bool, wait func(context.Context) bool)

// Subscription is a running subscription.
type Subscription struct {
	engine *incremental.Engine
	name   string
	id     incremental.TaskID
	cfg    config
	logger logging.Logger

	closed atomic.Bool
	done   chan struct{}
	signal chan struct{}

	mu      sync.Mutex
	pending *delivery
	err     error
}

// Subscribe streams cell through mapper to callback. The callback receives
// either the mapped value or the error that the read or the mapping
// produced. A callback returning an error counts as a failed delivery.
func Subscribe[T, R any](e *incremental.Engine, name string, cell *incremental.Cell[T], mapper func(T) (R, error), callback func(R, error) error, opts ...Option) (*Subscription, error) {
	produce := func(ctx context.Context) (delivery, bool, func(context.Context) bool) {
		snap, err := cell.Read(ctx)
		if ctx.Err() != nil {
			return delivery{}, false, nil
		}
		d := delivery{err: err}
		if err == nil {
			d.value, d.err = mapper(snap.Value)
		}
		return d, true, func(ctx context.Context) bool {
			select {
			case <-snap.Invalidated:
				return true
			case <-ctx.Done():
				return false
			}
		}
	}
	deliver := func(d delivery) error {
		var v R
		if d.value != nil {
			v = d.value.(R)
		}
		return callback(v, d.err)
	}
	return start(e, name, produce, deliver, opts)
}

// SubscribeSignal calls callback each time wait returns. A wait error other
// than cancellation is delivered and ends the subscription.
func SubscribeSignal(e *incremental.Engine, name string, wait func(ctx context.Context) error, callback func(error) error, opts ...Option) (*Subscription, error) {
	produce := func(ctx context.Context) (delivery, bool, func(context.Context) bool) {
		err := wait(ctx)
		if ctx.Err() != nil {
			return delivery{}, false, nil
		}
		return delivery{err: err}, true, func(context.Context) bool { return err == nil }
	}
	deliver := func(d delivery) error { return callback(d.err) }
	return start(e, name, produce, deliver, opts)
}

func start(e *incremental.Engine, name string, produce producer, deliver func(delivery) error, opts []Option) (*Subscription, error) {
	cfg := config{maxFailures: DefaultMaxDeliveryFailures}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NewNop()
	}

	s := &Subscription{
		engine: e,
		name:   name,
		cfg:    cfg,
		logger: cfg.logger.WithComponent("bridge").With("subscription", name),
		done:   make(chan struct{}),
		signal: make(chan struct{}, 1),
	}
	id, err := e.Spawn("subscription "+name, func(ctx context.Context) error {
		return s.run(ctx, produce, deliver)
	})
	if err != nil {
		close(s.done)
		return nil, err
	}
	s.id = id
	return s, nil
}

func (s *Subscription) run(ctx context.Context, produce producer, deliver func(delivery) error) error {
	defer close(s.done)
	s.cfg.metrics.SubscriptionStarted()
	defer s.cfg.metrics.SubscriptionStopped()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.deliverLoop(ctx, cancel, stop, deliver)
	}()

	for !s.closed.Load() {
		d, ok, wait := produce(ctx)
		if !ok {
			break
		}
		s.offer(d)
		if !wait(ctx) {
			break
		}
	}

	// Let the last value out unless the loop was cancelled.
	close(stop)
	wg.Wait()
	s.logger.Debug(ctx, "Subscription ended")
	return s.Err()
}

// offer replaces any undelivered value with d.
func (s *Subscription) offer(d delivery) {
	s.mu.Lock()
	s.pending = &d
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) deliverLoop(ctx context.Context, cancel context.CancelFunc, stop <-chan struct{}, deliver func(delivery) error) {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.signal:
			if !s.deliverPending(ctx, cancel, deliver, &failures) {
				return
			}
		case <-stop:
			s.deliverPending(ctx, cancel, deliver, &failures)
			return
		}
	}
}

// deliverPending runs the callback on the pending value. It returns false
// once the subscription is torn down.
func (s *Subscription) deliverPending(ctx context.Context, cancel context.CancelFunc, deliver func(delivery) error, failures *int) bool {
	s.mu.Lock()
	d := s.pending
	s.pending = nil
	s.mu.Unlock()
	if d == nil {
		return true
	}
	if s.closed.Load() || ctx.Err() != nil {
		return false
	}

	err := deliver(*d)
	s.cfg.metrics.Delivery(err == nil)
	if err == nil {
		*failures = 0
		return true
	}

	*failures++
	s.logger.Warn(ctx, err, "Delivery failed", "failures", *failures)
	if *failures < s.cfg.maxFailures {
		return true
	}
	s.mu.Lock()
	s.err = pperrors.NewBridgeError(pperrors.ErrCodeDeliveryFailed,
		fmt.Sprintf("subscription %s stopped after %d failed deliveries", s.name, *failures), err)
	s.mu.Unlock()
	s.logger.Error(ctx, s.err, "Subscription torn down")
	cancel()
	return false
}

// Name returns the subscription name.
func (s *Subscription) Name() string { return s.name }

// Done is closed when the subscription loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription tore itself down, or nil.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the subscription and waits for its loop to exit. It must not
// be called from the callback.
func (s *Subscription) Close() {
	if s.closed.Swap(true) {
		<-s.done
		return
	}
	s.engine.Cancel(s.id)
	_ = s.engine.Wait(s.id)
	<-s.done
}
