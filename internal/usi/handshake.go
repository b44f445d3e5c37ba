package usi

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/park285/usi-supervisor/internal/obslog"
	"go.uber.org/zap"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPollInterval     = 50 * time.Millisecond
	defaultCommandTimeout   = 5 * time.Second
	defaultOptionTimeout    = 2 * time.Second
)

// HandshakeStage is the position of an initialization in the usi/isready
// exchange.
type HandshakeStage int

const (
	StageIdle HandshakeStage = iota
	StageSentUSI
	StageAwaitingUSIOK
	StageSentOptions
	StageSentIsReady
	StageAwaitingReadyOK
	StageDone
)

func (s HandshakeStage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageSentUSI:
		return "sent_usi"
	case StageAwaitingUSIOK:
		return "awaiting_usiok"
	case StageSentOptions:
		return "sent_options"
	case StageSentIsReady:
		return "sent_isready"
	case StageAwaitingReadyOK:
		return "awaiting_readyok"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// HandshakeConfig bounds the handshake. Zero fields take defaults.
type HandshakeConfig struct {
	// Timeout bounds each wait for usiok and readyok.
	Timeout      time.Duration
	PollInterval time.Duration
	// CommandTimeout bounds sending usi and isready.
	CommandTimeout time.Duration
	// OptionTimeout bounds each setoption write.
	OptionTimeout time.Duration
}

func (c HandshakeConfig) withDefaults() HandshakeConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultHandshakeTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.OptionTimeout <= 0 {
		c.OptionTimeout = defaultOptionTimeout
	}
	return c
}

// Handshake runs usi, setoption for every entry of options, and isready
// against sess. It never stops the process; callers do that on failure.
func Handshake(ctx context.Context, sess *Session, options map[string]string, cfg HandshakeConfig) error {
	cfg = cfg.withDefaults()
	log := obslog.L().With(zap.String("engine_id", sess.ID()))
	stage := StageIdle

	advance := func(next HandshakeStage) {
		log.Debug("engine_handshake_stage", zap.Stringer("from", stage), zap.Stringer("to", next))
		stage = next
	}

	usiSeen := sess.observed(tokenUSIOK)
	if err := sess.SendWithTimeout(CmdUSI, cfg.CommandTimeout); err != nil {
		return fmt.Errorf("send usi: %w", err)
	}
	advance(StageSentUSI)
	advance(StageAwaitingUSIOK)
	if err := awaitToken(ctx, sess, tokenUSIOK, usiSeen, cfg); err != nil {
		return err
	}

	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := sess.SendWithTimeout(SetOptionCommand(name, options[name]), cfg.OptionTimeout); err != nil {
			log.Warn("engine_setoption_failed", zap.String("option", name), zap.Error(err))
			continue
		}
	}
	advance(StageSentOptions)

	readySeen := sess.observed(tokenReadyOK)
	if err := sess.SendWithTimeout(CmdIsReady, cfg.CommandTimeout); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	advance(StageSentIsReady)
	advance(StageAwaitingReadyOK)
	if err := awaitToken(ctx, sess, tokenReadyOK, readySeen, cfg); err != nil {
		return err
	}
	advance(StageDone)

	log.Info("engine_initialized", zap.Int("options", len(names)))
	return nil
}

// awaitToken polls until tok has been observed more than since times and the
// session reports Ready.
func awaitToken(ctx context.Context, sess *Session, tok token, since uint64, cfg HandshakeConfig) error {
	deadline := time.NewTimer(cfg.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		if sess.observed(tok) > since && sess.Status() == StatusReady {
			return nil
		}
		select {
		case <-sess.Done():
			if sess.observed(tok) > since {
				return nil
			}
			return &IOError{EngineID: sess.ID(), Op: "await " + tok.String(), Err: io.ErrUnexpectedEOF}
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &HandshakeTimeoutError{EngineID: sess.ID(), Stage: tok.String()}
		case <-ticker.C:
		}
	}
}
