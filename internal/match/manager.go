package match

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/park285/usi-supervisor/pkg/usidto"
	"go.uber.org/zap"
)

// DefaultRetention is how long a finished match stays queryable.
const DefaultRetention = time.Hour

// Manager runs matches in the background and keeps their latest state until
// the retention window after they finish has passed.
type Manager struct {
	base      context.Context
	cancel    context.CancelFunc
	opts      []Option
	tune      func(*Config)
	logger    *zap.Logger
	retention time.Duration

	mu      sync.RWMutex
	matches map[string]*Orchestrator
	wg      sync.WaitGroup
}

// NewManager applies opts to every match it starts. tune, when non-nil, may
// adjust each Config before the match is created.
func NewManager(logger *zap.Logger, tune func(*Config), opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		base:      ctx,
		cancel:    cancel,
		opts:      append(opts, WithLogger(logger)),
		tune:      tune,
		logger:    logger,
		retention: DefaultRetention,
		matches:   make(map[string]*Orchestrator),
	}
}

// SetRetention changes how long finished matches are kept. Non-positive
// values restore the default. It affects matches that finish afterwards.
func (m *Manager) SetRetention(d time.Duration) {
	if d <= 0 {
		d = DefaultRetention
	}
	m.mu.Lock()
	m.retention = d
	m.mu.Unlock()
}

// Start launches a match and returns its id immediately.
func (m *Manager) Start(req usidto.MatchRequest) (string, error) {
	cfg := ConfigFromRequest(req)
	if m.tune != nil {
		m.tune(&cfg)
	}
	if err := cfg.withDefaults().validate(); err != nil {
		return "", err
	}
	o := New(cfg, m.opts...)

	m.mu.Lock()
	m.matches[o.ID()] = o
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := o.Run(m.base); err != nil {
			m.logger.Error("match_failed", zap.String("match_id", o.ID()), zap.Error(err))
		}
		m.mu.RLock()
		keep := m.retention
		m.mu.RUnlock()
		time.AfterFunc(keep, func() { m.evict(o.ID()) })
	}()
	return o.ID(), nil
}

func (m *Manager) evict(id string) {
	m.mu.Lock()
	delete(m.matches, id)
	m.mu.Unlock()
	m.logger.Debug("match_evicted", zap.String("match_id", id))
}

// State returns the latest snapshot of a match.
func (m *Manager) State(id string) (usidto.MatchState, bool) {
	m.mu.RLock()
	o, ok := m.matches[id]
	m.mu.RUnlock()
	if !ok {
		return usidto.MatchState{}, false
	}
	return o.State(), true
}

// IDs lists known matches, oldest first.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.matches))
	for id := range m.matches {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Shutdown aborts running matches and waits for them to finish or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
