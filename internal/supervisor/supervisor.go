package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"conductor/extract"
	"conductor/internal/logging"
	"conductor/internal/spec"
	"conductor/internal/store"
	"conductor/sink"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrStopTimedOut is surfaced when a stop could not drain the poll loop
// within the stop timeout. The spec ends up in ERROR.
var ErrStopTimedOut = extract.ErrStopTimeout

type Options struct {
	// Driver names the extract client driver ("sarama", "franz", …).
	Driver      string
	PollTimeout time.Duration
	StopTimeout time.Duration
}

// Supervisor owns the process-wide registry {consumer id → Extractor} and
// serializes every mutating operation per id. It is the only writer of both
// the registry and the store, which keeps the status/registry invariant:
// a spec is ACTIVE iff a live extractor is registered for its id.
type Supervisor struct {
	store store.Store
	opts  Options

	mu       sync.RWMutex
	registry map[string]*extract.Extractor
	locks    map[string]*sync.Mutex
}

func New(st store.Store, opts Options) (*Supervisor, error) {
	if opts.Driver == "" {
		opts.Driver = "sarama"
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = extract.DefaultStopTimeout
	}
	s := &Supervisor{
		store:    st,
		opts:     opts,
		registry: map[string]*extract.Extractor{},
		locks:    map[string]*sync.Mutex{},
	}
	// No extractor survives a restart; persisted ACTIVE statuses are stale.
	specs, err := st.List()
	if err != nil {
		return nil, err
	}
	for _, sp := range specs {
		if sp.Status == spec.StatusActive {
			if err := st.SetStatus(sp.ID, spec.StatusInactive, ""); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// Create assigns an id, validates the draft and its processors, persists the
// spec and, when auto_start is set, builds and starts the extractor. Nothing
// is persisted when any step fails.
func (s *Supervisor) Create(draft spec.ConsumerSpec) (*spec.ConsumerSpec, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	draft.ID = uuid.NewString()
	draft.Status = spec.StatusInactive
	now := time.Now().UTC()
	for i := range draft.Processors {
		draft.Processors[i].ID = uuid.NewString()
		draft.Processors[i].CreatedAt, draft.Processors[i].UpdatedAt = now, now
	}

	// Build once up front so an unknown type or bad config rejects the
	// create before anything is persisted.
	sinks, err := s.buildSinks(&draft)
	if err != nil {
		return nil, err
	}

	lock := s.lockFor(draft.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.Create(&draft); err != nil {
		closeSinks(sinks)
		return nil, err
	}

	if draft.AutoStart {
		if err := s.startLocked(&draft, sinks); err != nil {
			_ = s.store.Delete(draft.ID)
			return nil, err
		}
	} else {
		closeSinks(sinks)
	}

	logging.L().Info("supervisor: consumer created",
		"consumer_id", draft.ID, "topic", draft.Topic, "group", draft.GroupID,
		"auto_start", draft.AutoStart)
	return s.store.Get(draft.ID)
}

// Get returns the spec with its current status. Reads do not take the per-id
// lock and may be briefly stale during a transition.
func (s *Supervisor) Get(id string) (*spec.ConsumerSpec, error) {
	return s.store.Get(id)
}

func (s *Supervisor) List() ([]*spec.ConsumerSpec, error) {
	return s.store.List()
}

// GroupIDs returns the deduplicated consumer group ids of all known specs.
func (s *Supervisor) GroupIDs() ([]string, error) {
	specs, err := s.store.List()
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	out := []string{}
	for _, sp := range specs {
		if _, ok := seen[sp.GroupID]; ok {
			continue
		}
		seen[sp.GroupID] = struct{}{}
		out = append(out, sp.GroupID)
	}
	return out, nil
}

// Start brings an INACTIVE or ERROR consumer to ACTIVE. Starting an ACTIVE
// consumer is a no-op. A FAILED extractor left from a previous run is
// discarded and rebuilt, which is the operator's recovery path.
func (s *Supervisor) Start(id string) (*spec.ConsumerSpec, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sp, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	if ex := s.lookup(id); ex != nil {
		st, _ := ex.Status()
		if st == extract.StateRunning {
			return sp, nil
		}
		// stopped or failed leftovers are replaced wholesale
		s.unregister(id)
	}

	sinks, err := s.buildSinks(sp)
	if err != nil {
		return nil, err
	}
	if err := s.startLocked(sp, sinks); err != nil {
		return nil, err
	}
	return s.store.Get(id)
}

// startLocked builds and starts the extractor for sp, registers it and marks
// the spec ACTIVE. Caller holds the per-id lock. Ownership of sinks passes to
// the extractor; on failure they are closed here.
func (s *Supervisor) startLocked(sp *spec.ConsumerSpec, sinks []extract.Sink) error {
	clientID := sp.ClientID
	if clientID == "" {
		clientID = sp.ID
	}
	cfg := extract.Config{
		Brokers:     []string{sp.BrokerAddr()},
		Topic:       sp.Topic,
		GroupID:     sp.GroupID,
		ClientID:    clientID,
		PollTimeout: s.opts.PollTimeout,
	}
	id := sp.ID
	var ex *extract.Extractor
	ex = extract.New(id, s.opts.Driver, cfg, sinks, extract.Options{
		StopTimeout: s.opts.StopTimeout,
		OnFatal:     func(err error) { s.onFatal(id, ex, err) },
	})
	if err := ex.Start(); err != nil {
		closeSinks(sinks)
		return err
	}
	s.register(id, ex)
	return s.store.SetStatus(id, spec.StatusActive, "")
}

// Stop brings an ACTIVE consumer to INACTIVE. Stopping an INACTIVE consumer
// is a no-op. A drain that overruns the stop timeout marks the spec ERROR.
func (s *Supervisor) Stop(id string) (*spec.ConsumerSpec, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.store.Get(id); err != nil {
		return nil, err
	}

	ex := s.lookup(id)
	if ex == nil {
		if err := s.store.SetStatus(id, spec.StatusInactive, ""); err != nil {
			return nil, err
		}
		return s.store.Get(id)
	}

	if err := ex.Stop(); err != nil {
		if errors.Is(err, extract.ErrStopTimeout) {
			_ = s.store.SetStatus(id, spec.StatusError, "stop timed out; poll loop abandoned")
			return nil, err
		}
		return nil, err
	}
	s.unregister(id)
	if err := s.store.SetStatus(id, spec.StatusInactive, ""); err != nil {
		return nil, err
	}
	return s.store.Get(id)
}

// Update applies the patch. A changed processor list is swapped into a
// running extractor via replace; a changed broker/topic/group bounces the
// whole extractor. The patch is validated, and new processors built, before
// the store is touched.
func (s *Supervisor) Update(id string, p spec.Patch) (*spec.ConsumerSpec, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	prev, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	procsChanged := p.Processors != nil
	connChanged := (p.BrokerHost != nil && *p.BrokerHost != prev.BrokerHost) ||
		(p.BrokerPort != nil && *p.BrokerPort != prev.BrokerPort) ||
		(p.Topic != nil && *p.Topic != prev.Topic) ||
		(p.GroupID != nil && *p.GroupID != prev.GroupID)

	if procsChanged {
		now := time.Now().UTC()
		procs := *p.Processors
		for i := range procs {
			procs[i].ID = uuid.NewString()
			procs[i].CreatedAt, procs[i].UpdatedAt = now, now
		}
		// dry build: reject unknown types or bad configs atomically
		probe := &spec.ConsumerSpec{Processors: procs}
		sinks, err := s.buildSinks(probe)
		if err != nil {
			return nil, err
		}
		closeSinks(sinks)
	}

	updated, err := s.store.Update(id, p)
	if err != nil {
		return nil, err
	}

	ex := s.lookup(id)
	running := false
	if ex != nil {
		st, _ := ex.Status()
		running = st == extract.StateRunning
	}

	switch {
	case running && connChanged:
		// connection-level change: bounce the extractor against the new spec
		if err := ex.Stop(); err != nil {
			_ = s.store.SetStatus(id, spec.StatusError, "stop timed out; poll loop abandoned")
			return nil, err
		}
		s.unregister(id)
		sinks, err := s.buildSinks(updated)
		if err != nil {
			return nil, err
		}
		if err := s.startLocked(updated, sinks); err != nil {
			_ = s.store.SetStatus(id, spec.StatusInactive, err.Error())
			return nil, err
		}
	case running && procsChanged:
		sinks, err := s.buildSinks(updated)
		if err != nil {
			return nil, err
		}
		if err := ex.ReplaceProcessors(sinks); err != nil {
			closeSinks(sinks)
			s.unregister(id)
			_ = s.store.SetStatus(id, spec.StatusError, err.Error())
			return nil, err
		}
	}

	return s.store.Get(id)
}

// Delete removes the consumer. An ACTIVE consumer is stopped first; delete
// proceeds even when the drain overruns, leaving the abandoned loop to die
// with its cancelled context.
func (s *Supervisor) Delete(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.store.Get(id); err != nil {
		return err
	}

	if ex := s.lookup(id); ex != nil {
		if err := ex.Stop(); err != nil {
			logging.L().Warn("supervisor: stop during delete failed", "consumer_id", id, "err", err)
		}
		s.unregister(id)
	}
	return s.store.Delete(id)
}

// Shutdown stops every extractor concurrently, each bounded by the stop
// timeout, then closes the store.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	extractors := make(map[string]*extract.Extractor, len(s.registry))
	for id, ex := range s.registry {
		extractors[id] = ex
	}
	s.registry = map[string]*extract.Extractor{}
	s.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for id, ex := range extractors {
		g.Go(func() error {
			if err := ex.Stop(); err != nil {
				logging.L().Warn("supervisor: shutdown stop failed", "consumer_id", id, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return s.store.Close()
}

// onFatal runs on a goroutine the extractor's loop spawns after an
// unrecoverable client error. The extractor stays registered in its FAILED state so the
// operator sees ERROR and can recover through start or delete.
func (s *Supervisor) onFatal(id string, ex *extract.Extractor, cause error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if s.lookup(id) != ex {
		// raced with delete or a rebuild; the failed extractor is already
		// out of the registry and its verdict is stale
		return
	}
	if err := s.store.SetStatus(id, spec.StatusError, cause.Error()); err != nil {
		logging.L().Error("supervisor: failed to record extractor failure",
			"consumer_id", id, "err", err)
	}
}

func (s *Supervisor) buildSinks(sp *spec.ConsumerSpec) ([]extract.Sink, error) {
	sinks := make([]extract.Sink, 0, len(sp.Processors))
	for _, pc := range sp.Processors {
		adapter, err := sink.Build(pc.Type, pc.Config)
		if err != nil {
			closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, extract.Sink{ID: pc.ID, Processor: adapter})
	}
	return sinks, nil
}

func closeSinks(sinks []extract.Sink) {
	for _, sk := range sinks {
		_ = sk.Processor.Close()
	}
}

func (s *Supervisor) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Supervisor) lookup(id string) *extract.Extractor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry[id]
}

func (s *Supervisor) register(id string, ex *extract.Extractor) {
	s.mu.Lock()
	s.registry[id] = ex
	s.mu.Unlock()
}

func (s *Supervisor) unregister(id string) {
	s.mu.Lock()
	delete(s.registry, id)
	s.mu.Unlock()
}

// Registered reports whether an extractor is registered for id, including a
// FAILED one kept for recovery.
func (s *Supervisor) Registered(id string) bool {
	return s.lookup(id) != nil
}
