// Package optstore keeps the saved setoption values of each engine configuration.
package optstore

import (
	"context"
	"maps"
	"sync"
)

// Store reads and writes per-engine option sets. EngineOptions reports false
// when nothing is saved for engineID.
type Store interface {
	EngineOptions(ctx context.Context, engineID string) (map[string]string, bool, error)
	SaveEngineOptions(ctx context.Context, engineID string, opts map[string]string) error
}

// Memory is a process-local Store.
type Memory struct {
	mu   sync.RWMutex
	sets map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{sets: make(map[string]map[string]string)}
}

func (m *Memory) EngineOptions(_ context.Context, engineID string) (map[string]string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	opts, ok := m.sets[engineID]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(opts), true, nil
}

func (m *Memory) SaveEngineOptions(_ context.Context, engineID string, opts map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[engineID] = maps.Clone(opts)
	return nil
}

// Chain consults its stores in order and returns the first saved set. Saves
// go to the first store.
type Chain []Store

func (c Chain) EngineOptions(ctx context.Context, engineID string) (map[string]string, bool, error) {
	for _, s := range c {
		if s == nil {
			continue
		}
		opts, ok, err := s.EngineOptions(ctx, engineID)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return opts, true, nil
		}
	}
	return nil, false, nil
}

func (c Chain) SaveEngineOptions(ctx context.Context, engineID string, opts map[string]string) error {
	for _, s := range c {
		if s != nil {
			return s.SaveEngineOptions(ctx, engineID, opts)
		}
	}
	return nil
}
