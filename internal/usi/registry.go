package usi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/park285/usi-supervisor/internal/events"
	"github.com/park285/usi-supervisor/internal/obslog"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const stopAllConcurrency = 8

// OptionsSource supplies the saved option set of an engine configuration.
type OptionsSource interface {
	EngineOptions(ctx context.Context, engineID string) (map[string]string, bool, error)
}

// NewRuntimeID derives a unique session id from a configuration id. The
// configuration id stays a prefix so registry lookups by it keep working.
func NewRuntimeID(configID string) string {
	return configID + "-" + uuid.NewString()
}

// ResolveOptions returns oneShot when it is non-nil and otherwise the stored
// set for engineID. Store failures are logged and yield no options.
func ResolveOptions(ctx context.Context, store OptionsSource, engineID string, oneShot map[string]string) map[string]string {
	if oneShot != nil {
		return oneShot
	}
	if store == nil {
		return nil
	}
	opts, ok, err := store.EngineOptions(ctx, engineID)
	if err != nil {
		obslog.L().Warn("engine_options_lookup_failed", zap.String("engine_id", engineID), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return opts
}

type RegistryConfig struct {
	Sink             events.Sink
	WatchdogInterval time.Duration
	SettleDelay      time.Duration
	GracePeriod      time.Duration
	Handshake        HandshakeConfig
}

// Registry maps ids to live sessions.
type Registry struct {
	cfg RegistryConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// EngineInfo summarizes one registered session.
type EngineInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Status Status `json:"status"`
	PID    int    `json:"pid,omitempty"`
}

// SpawnRequest names the engine to launch. ConfigID keys the saved options and
// defaults to ID.
type SpawnRequest struct {
	ID       string
	ConfigID string
	Name     string
	Path     string
	Options  map[string]string
}

// Spawn launches a session and registers it under id.
func (r *Registry) Spawn(ctx context.Context, id, name, path string) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("engine id required")
	}
	r.mu.RLock()
	_, exists := r.sessions[id]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%s: %w", id, ErrDuplicateID)
	}

	// Untracked only once registered and later replaced or removed.
	var registered atomic.Pointer[Session]
	sess, err := Spawn(ctx, SpawnConfig{
		ID:               id,
		Name:             name,
		Path:             path,
		Sink:             r.cfg.Sink,
		WatchdogInterval: r.cfg.WatchdogInterval,
		SettleDelay:      r.cfg.SettleDelay,
		GracePeriod:      r.cfg.GracePeriod,
		Tracked: func() bool {
			s := registered.Load()
			return s == nil || r.holds(id, s)
		},
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		_ = sess.Stop(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("%s: %w", id, ErrDuplicateID)
	}
	r.sessions[id] = sess
	registered.Store(sess)
	r.mu.Unlock()

	obslog.L().Info("engine_registered", zap.String("engine_id", id), zap.String("name", name))
	return sess, nil
}

func (r *Registry) holds(id string, sess *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.sessions[id]
	return ok && cur == sess
}

// Resolve finds a session by exact id, then by unique id prefix.
func (r *Registry) Resolve(id string) (string, *Session, error) {
	if id == "" {
		return "", nil, fmt.Errorf("empty id: %w", ErrNotFound)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sess, ok := r.sessions[id]; ok {
		return id, sess, nil
	}
	var matches []string
	for key := range r.sessions {
		if strings.HasPrefix(key, id) {
			matches = append(matches, key)
		}
	}
	switch len(matches) {
	case 0:
		return "", nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	case 1:
		return matches[0], r.sessions[matches[0]], nil
	default:
		sort.Strings(matches)
		return "", nil, fmt.Errorf("%s matches %s: %w", id, strings.Join(matches, ", "), ErrAmbiguousID)
	}
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, error) {
	_, sess, err := r.Resolve(id)
	return sess, err
}

// Send writes a command to the resolved session. A broken pipe stops the
// session and removes it from the registry.
func (r *Registry) Send(id, command string) error {
	key, sess, err := r.Resolve(id)
	if err != nil {
		return err
	}
	return r.dropIfBroken(key, sess, sess.Send(command))
}

func (r *Registry) SendWithTimeout(id, command string, d time.Duration) error {
	key, sess, err := r.Resolve(id)
	if err != nil {
		return err
	}
	return r.dropIfBroken(key, sess, sess.SendWithTimeout(command, d))
}

func (r *Registry) dropIfBroken(key string, sess *Session, err error) error {
	if err == nil || !isBrokenPipe(err) {
		return err
	}
	r.mu.Lock()
	if cur, ok := r.sessions[key]; ok && cur == sess {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if stopErr := sess.Stop(context.Background()); stopErr != nil {
		obslog.L().Warn("engine_stop_failed", zap.String("engine_id", key), zap.Error(stopErr))
	}
	obslog.L().Warn("engine_dropped", zap.String("engine_id", key), zap.Error(err))
	return err
}

// Stop stops the session and removes it. The entry is removed even if the
// stop reports an error.
func (r *Registry) Stop(ctx context.Context, id string) error {
	key, sess, err := r.Resolve(id)
	if err != nil {
		return err
	}
	stopErr := sess.Stop(ctx)

	r.mu.Lock()
	if cur, ok := r.sessions[key]; ok && cur == sess {
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	obslog.L().Info("engine_unregistered", zap.String("engine_id", key))
	return stopErr
}

// StopAll stops every session concurrently and leaves the registry empty.
// Individual failures are logged.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	snapshot := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(stopAllConcurrency)
	for id, sess := range snapshot {
		g.Go(func() error {
			if err := sess.Stop(ctx); err != nil {
				obslog.L().Error("engine_stop_failed", zap.String("engine_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	obslog.L().Info("engine_stop_all", zap.Int("count", len(snapshot)))
	return nil
}

func (r *Registry) Status(id string) (Status, error) {
	sess, err := r.Get(id)
	if err != nil {
		return StatusStopped, err
	}
	return sess.Status(), nil
}

// List returns the registered ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Info() []EngineInfo {
	r.mu.RLock()
	out := make([]EngineInfo, 0, len(r.sessions))
	for id, sess := range r.sessions {
		out = append(out, EngineInfo{
			ID:     id,
			Name:   sess.Name(),
			Path:   sess.Path(),
			Status: sess.Status(),
			PID:    sess.PID(),
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Initialize runs the handshake on a registered session using oneShot, or
// the stored options for configID when oneShot is nil.
func (r *Registry) Initialize(ctx context.Context, id string, store OptionsSource, configID string, oneShot map[string]string) error {
	key, sess, err := r.Resolve(id)
	if err != nil {
		return err
	}
	if configID == "" {
		configID = key
	}
	opts := ResolveOptions(ctx, store, configID, oneShot)
	if err := Handshake(ctx, sess, opts, r.cfg.Handshake); err != nil {
		return fmt.Errorf("initialize %s: %w", key, err)
	}
	return nil
}

// SpawnAndInitialize spawns and handshakes one engine. A session whose
// handshake fails is stopped and removed.
func (r *Registry) SpawnAndInitialize(ctx context.Context, req SpawnRequest, store OptionsSource) (*Session, error) {
	sess, err := r.Spawn(ctx, req.ID, req.Name, req.Path)
	if err != nil {
		return nil, err
	}
	configID := req.ConfigID
	if configID == "" {
		configID = req.ID
	}
	if err := r.Initialize(ctx, req.ID, store, configID, req.Options); err != nil {
		if stopErr := r.Stop(context.WithoutCancel(ctx), req.ID); stopErr != nil {
			obslog.L().Warn("engine_stop_after_init_failed", zap.String("engine_id", req.ID), zap.Error(stopErr))
		}
		return nil, err
	}
	return sess, nil
}
