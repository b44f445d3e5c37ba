package usi

import (
	"context"
	"time"

	"github.com/park285/usi-supervisor/internal/events"
	"github.com/park285/usi-supervisor/internal/obslog"
	"go.uber.org/zap"
)

// ProcessDiedMessage is emitted on the engine's error topic when the watchdog
// finds the process gone.
const ProcessDiedMessage = "Engine process died"

// watch checks once per interval that the process is still running. It exits
// when the session stops, the owner no longer tracks it, or a death is reported.
func (s *Session) watch(interval time.Duration, tracked func() bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopReaders:
			return
		case <-ticker.C:
		}

		if tracked != nil && !tracked() {
			return
		}
		if !s.hasProcess() {
			return
		}
		select {
		case <-s.exited:
		default:
			continue
		}

		if !s.status.set(StatusError) {
			return
		}
		obslog.L().Error("engine_process_died",
			zap.String("engine_id", s.id),
			zap.Error(s.exitErr),
		)
		events.Publish(context.Background(), s.sink, events.EngineErrorTopic(s.id), ProcessDiedMessage)
		return
	}
}
