package usi

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/park285/usi-supervisor/internal/events"
	"github.com/park285/usi-supervisor/internal/obslog"
	"go.uber.org/zap"
)

const maxLineBytes = 1 << 20

func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return sc
}

// readStdout forwards every stdout line to the sink and to subscribers and
// updates status on usiok, readyok and bestmove.
func (s *Session) readStdout(r io.ReadCloser) {
	defer close(s.done)
	defer s.closeSubscribers()
	defer r.Close()

	log := obslog.L().With(zap.String("engine_id", s.id))
	ctx := context.Background()
	lines := 0

	sc := newLineScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		lines++
		log.Debug("engine_stdout", zap.String("line", line))

		if tok, ok := observedToken(line); ok {
			// Status before counter: pollers that see the counter move also see Ready.
			s.status.set(StatusReady)
			s.seen[tok].Add(1)
		}
		if s.stopping() {
			continue
		}
		events.Publish(ctx, s.sink, events.EngineMessageTopic(s.id), line)
		s.broadcast(line)
	}
	if err := sc.Err(); err != nil {
		log.Warn("engine_stdout_error", zap.Error(err))
	}
	log.Info("engine_stdout_closed", zap.Int("lines", lines))
}

// readStderr logs diagnostic output and forwards it on the error topic.
func (s *Session) readStderr(r io.ReadCloser) {
	defer r.Close()

	log := obslog.L().With(zap.String("engine_id", s.id))
	ctx := context.Background()

	sc := newLineScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		log.Warn("engine_stderr", zap.String("line", line))
		if s.stopping() {
			continue
		}
		events.Publish(ctx, s.sink, events.EngineErrorTopic(s.id), line)
	}
	log.Debug("engine_stderr_closed")
}
