package store

import (
	"fmt"
	"sync"
	"time"

	"conductor/internal/spec"

	"github.com/google/uuid"
)

// Memory is the reference Store: a map guarded by a RWMutex. Specs are
// cloned on the way in and out so callers never share mutable state with
// the store.
type Memory struct {
	mu    sync.RWMutex
	specs map[string]*spec.ConsumerSpec
}

func NewMemory() *Memory {
	return &Memory{specs: map[string]*spec.ConsumerSpec{}}
}

func (m *Memory) Create(s *spec.ConsumerSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.specs[s.ID]; ok {
		return fmt.Errorf("%w: id %s", ErrConflict, s.ID)
	}
	now := time.Now().UTC()
	cp := s.Clone()
	cp.CreatedAt, cp.UpdatedAt = now, now
	for i := range cp.Processors {
		cp.Processors[i].CreatedAt, cp.Processors[i].UpdatedAt = now, now
	}
	m.specs[cp.ID] = cp

	s.CreatedAt, s.UpdatedAt = now, now
	return nil
}

func (m *Memory) Get(id string) (*spec.ConsumerSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.specs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Clone(), nil
}

func (m *Memory) List() ([]*spec.ConsumerSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*spec.ConsumerSpec, 0, len(m.specs))
	for _, s := range m.specs {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (m *Memory) Update(id string, p spec.Patch) (*spec.ConsumerSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.specs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	applyPatch(s, p)
	s.UpdatedAt = time.Now().UTC()
	return s.Clone(), nil
}

func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.specs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.specs, id)
	return nil
}

func (m *Memory) SetStatus(id string, st spec.Status, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.specs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Status = st
	s.LastError = lastError
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) Close() error { return nil }

// applyPatch mutates s in place. Replacement processors get fresh
// timestamps; those without an id get a fresh one, the others keep the id
// they carry (the supervisor assigns new ids before it patches).
func applyPatch(s *spec.ConsumerSpec, p spec.Patch) {
	if p.BrokerHost != nil {
		s.BrokerHost = *p.BrokerHost
	}
	if p.BrokerPort != nil {
		s.BrokerPort = *p.BrokerPort
	}
	if p.Topic != nil {
		s.Topic = *p.Topic
	}
	if p.GroupID != nil {
		s.GroupID = *p.GroupID
	}
	if p.Processors != nil {
		now := time.Now().UTC()
		procs := spec.CloneProcessors(*p.Processors)
		for i := range procs {
			if procs[i].ID == "" {
				procs[i].ID = uuid.NewString()
			}
			procs[i].CreatedAt, procs[i].UpdatedAt = now, now
		}
		s.Processors = procs
	}
}
