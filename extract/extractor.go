package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"conductor/internal/logging"
	"conductor/internal/telemetry"
)

type State string

const (
	StateCreated State = "CREATED"
	StateRunning State = "RUNNING"
	StateStopped State = "STOPPED"
	StateFailed  State = "FAILED"
)

// ErrStopTimeout is returned when a running poll loop fails to drain within
// the stop timeout. The extractor is FAILED afterwards; the loop goroutine is
// abandoned.
var ErrStopTimeout = errors.New("extractor stop timed out")

// ErrFailed is returned for operations on a FAILED extractor. Recovery is a
// fresh build by the owner, not a restart.
var ErrFailed = errors.New("extractor has failed")

const DefaultStopTimeout = 30 * time.Second

type Options struct {
	StopTimeout time.Duration
	// OnFatal is invoked (on a goroutine of its own, started by the loop
	// goroutine) when the poll loop dies on an unrecoverable client error.
	OnFatal func(error)
}

// Extractor owns one Kafka client, one poll goroutine and an ordered sink
// list. All state transitions happen under mu; the loop goroutine applies
// its terminal transition when the client's Run returns.
type Extractor struct {
	id     string
	driver string
	cfg    Config
	opts   Options

	mu          sync.Mutex
	state       State
	reason      error
	sinks       []Sink
	sinksClosed bool
	cancel      context.CancelFunc
	done        chan struct{}
}

func New(id, driver string, cfg Config, sinks []Sink, opts Options) *Extractor {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	return &Extractor{
		id:     id,
		driver: driver,
		cfg:    cfg,
		opts:   opts,
		state:  StateCreated,
		sinks:  sinks,
	}
}

// Start spawns the poll loop. Idempotent while RUNNING.
func (e *Extractor) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning:
		return nil
	case StateFailed:
		return fmt.Errorf("%w: %v", ErrFailed, e.reason)
	}

	client, err := NewClient(e.driver)
	if err != nil {
		return err
	}
	if err := client.Configure(e.cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.state = StateRunning
	telemetry.RunningExtractors.Inc()

	go e.run(ctx, client, done)
	return nil
}

func (e *Extractor) run(ctx context.Context, client Client, done chan struct{}) {
	defer close(done)

	err := client.Run(ctx, e.dispatch)
	_ = client.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	telemetry.RunningExtractors.Dec()
	e.closeSinksLocked()

	if e.state == StateFailed {
		// Stop already gave up on us; resources are released, nothing more
		// to report.
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		e.state = StateFailed
		e.reason = err
		logging.L().Error("extractor: poll loop died", "consumer_id", e.id, "err", err)
		if e.opts.OnFatal != nil {
			go e.opts.OnFatal(err)
		}
		return
	}
	e.state = StateStopped
}

// dispatch fans one record out to every sink in declared order. A sink
// failure is logged and counted, never propagated: the loop and the peer
// sinks keep going.
func (e *Extractor) dispatch(r *Record) error {
	ctx := WithConsumerID(context.Background(), e.id)
	for _, s := range e.sinks {
		if err := s.Processor.Process(ctx, r); err != nil {
			telemetry.ProcessorFailures.WithLabelValues(e.id, s.ID).Inc()
			logging.L().Error("extractor: processor failed",
				"consumer_id", e.id, "processor_id", s.ID,
				"topic", r.Topic, "partition", r.Partition, "offset", r.Offset,
				"err", err)
		}
	}
	telemetry.RecordsDispatched.WithLabelValues(e.id).Inc()
	return nil
}

// Stop cancels the loop and waits for it to drain, bounded by the stop
// timeout. Idempotent: stopping a non-running extractor is a no-op.
func (e *Extractor) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return nil
	}
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(e.opts.StopTimeout):
		e.mu.Lock()
		e.state = StateFailed
		e.reason = ErrStopTimeout
		e.mu.Unlock()
		logging.L().Error("extractor: stop timed out, abandoning poll loop",
			"consumer_id", e.id, "timeout", e.opts.StopTimeout)
		return ErrStopTimeout
	}
}

// ReplaceProcessors installs a new sink list, pausing the loop across the
// swap when running. Old sinks are closed before the new list takes over.
func (e *Extractor) ReplaceProcessors(sinks []Sink) error {
	e.mu.Lock()
	wasRunning := e.state == StateRunning
	e.mu.Unlock()

	if wasRunning {
		if err := e.Stop(); err != nil {
			return err
		}
	} else {
		// Loop never ran (or already drained and closed its list); close the
		// outgoing sinks ourselves.
		e.mu.Lock()
		e.closeSinksLocked()
		e.mu.Unlock()
	}

	e.mu.Lock()
	if e.state == StateFailed {
		reason := e.reason
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrFailed, reason)
	}
	e.sinks = sinks
	e.sinksClosed = false
	e.mu.Unlock()

	if wasRunning {
		return e.Start()
	}
	return nil
}

func (e *Extractor) Status() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.reason
}

// must be called with e.mu held; safe to call more than once.
func (e *Extractor) closeSinksLocked() {
	if e.sinksClosed {
		return
	}
	e.sinksClosed = true
	for _, s := range e.sinks {
		if s.Processor == nil {
			continue
		}
		if err := s.Processor.Close(); err != nil {
			logging.L().Warn("extractor: processor close failed",
				"consumer_id", e.id, "processor_id", s.ID, "err", err)
		}
	}
}
