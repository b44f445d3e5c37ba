package usi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/park285/usi-supervisor/internal/obslog"
	"go.uber.org/zap"
)

const (
	probeTimeout     = 5 * time.Second
	probeGracePeriod = 100 * time.Millisecond

	// UnknownEngineName is reported when an engine never sends `id name`.
	UnknownEngineName = "Unknown Engine"
)

// ErrNoUSIOK is returned by Probe when the engine's output ends before usiok.
var ErrNoUSIOK = errors.New("engine did not respond with 'usiok'")

// Metadata is what an engine reports about itself in reply to `usi`.
type Metadata struct {
	Name    string   `json:"name"`
	Author  string   `json:"author,omitempty"`
	Options []Option `json:"options"`
}

// Probe launches the executable at path, sends usi and collects its identity
// and option declarations until usiok. The process is always terminated.
func Probe(ctx context.Context, path string) (Metadata, error) {
	if _, err := os.Stat(path); err != nil {
		return Metadata{}, &SpawnError{Path: path, Err: fmt.Errorf("engine executable not found: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	log := obslog.L().With(zap.String("path", path))
	log.Info("engine_probe")

	sess, err := Spawn(ctx, SpawnConfig{
		ID:               NewRuntimeID("probe"),
		Path:             path,
		WatchdogInterval: -1,
		SettleDelay:      -1,
		GracePeriod:      probeGracePeriod,
	})
	if err != nil {
		return Metadata{}, err
	}
	defer func() { _ = sess.Stop(context.WithoutCancel(ctx)) }()

	lines, cancel := sess.Subscribe()
	defer cancel()

	if err := sess.Send(CmdUSI); err != nil {
		return Metadata{}, err
	}

	probeCtx, stop := context.WithTimeout(ctx, probeTimeout)
	defer stop()

	md := Metadata{Name: UnknownEngineName, Options: []Option{}}
	for {
		select {
		case <-probeCtx.Done():
			if ctx.Err() != nil {
				return Metadata{}, ctx.Err()
			}
			return Metadata{}, &HandshakeTimeoutError{EngineID: sess.ID(), Stage: TokenUSIOK}
		case line, ok := <-lines:
			if !ok {
				return Metadata{}, ErrNoUSIOK
			}
			if done := md.consume(line); done {
				log.Info("engine_probe_ok", zap.String("name", md.Name), zap.Int("options", len(md.Options)))
				return md, nil
			}
		}
	}
}

// consume folds one line of the usi reply into md and reports whether the
// reply is complete.
func (md *Metadata) consume(line string) bool {
	switch {
	case strings.HasPrefix(line, "id name "):
		md.Name = strings.TrimSpace(strings.TrimPrefix(line, "id name "))
	case strings.HasPrefix(line, "id author "):
		md.Author = strings.TrimSpace(strings.TrimPrefix(line, "id author "))
	case strings.HasPrefix(line, optionPrefix):
		if opt, ok := ParseOption(line); ok {
			md.Options = append(md.Options, opt)
		}
	case strings.TrimSpace(line) == TokenUSIOK:
		return true
	}
	return false
}
