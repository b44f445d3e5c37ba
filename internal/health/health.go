// Package health probes catalog engines.
package health

import (
	"context"
	"sync"

	"github.com/park285/usi-supervisor/internal/obslog"
	"github.com/park285/usi-supervisor/internal/optstore"
	"github.com/park285/usi-supervisor/internal/usi"
	"github.com/park285/usi-supervisor/pkg/usidto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxParallelProbes = 4

// ProbeFunc validates one executable.
type ProbeFunc func(ctx context.Context, path string) (usi.Metadata, error)

// Check probes every enabled engine, preserving input order. Disabled
// engines are reported without being launched.
func Check(ctx context.Context, engines []optstore.EngineConfig, probe ProbeFunc) []usidto.EngineHealth {
	if probe == nil {
		probe = usi.Probe
	}
	out := make([]usidto.EngineHealth, len(engines))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelProbes)
	for i, e := range engines {
		h := usidto.EngineHealth{ID: e.ID, Name: e.Label(), Path: e.Path}
		if !e.IsEnabled() {
			h.Status = usidto.HealthDisabled
			out[i] = h
			continue
		}
		g.Go(func() error {
			if _, err := probe(gctx, e.Path); err != nil {
				h.Status = usidto.HealthUnhealthy
				h.Error = err.Error()
				obslog.L().Warn("engine_unhealthy", zap.String("engine_id", e.ID), zap.Error(err))
			} else {
				h.Status = usidto.HealthHealthy
			}
			mu.Lock()
			out[i] = h
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
