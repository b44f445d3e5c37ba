package usi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/park285/usi-supervisor/internal/events"
	"github.com/park285/usi-supervisor/internal/obslog"
	"go.uber.org/zap"
)

const (
	defaultSettleDelay      = 100 * time.Millisecond
	defaultGracePeriod      = 500 * time.Millisecond
	defaultWatchdogInterval = 30 * time.Second
	reapTimeout             = 2 * time.Second
	subscriberBuffer        = 256
)

type token int

const (
	tokenUSIOK token = iota
	tokenReadyOK
	tokenBestMove
	tokenCount
)

func (t token) String() string {
	switch t {
	case tokenUSIOK:
		return TokenUSIOK
	case tokenReadyOK:
		return TokenReadyOK
	case tokenBestMove:
		return TokenBestMove
	default:
		return "unknown"
	}
}

// SpawnConfig describes one engine process to launch.
type SpawnConfig struct {
	ID   string
	Name string
	Path string

	// Sink receives stdout/stderr lines. Nil discards them.
	Sink events.Sink
	// WatchdogInterval defaults to 30s. A negative value disables the watchdog.
	WatchdogInterval time.Duration
	// Tracked reports whether the owner still holds the session. The watchdog
	// exits once it returns false. Nil means always tracked.
	Tracked func() bool
	// SettleDelay is waited after start before the session is returned.
	// Defaults to 100ms; negative disables it.
	SettleDelay time.Duration
	// GracePeriod bounds how long Stop waits for a voluntary exit after quit.
	GracePeriod time.Duration
}

// liveProcess holds the handles that exist only while the session runs.
type liveProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// Session supervises one engine process.
type Session struct {
	id   string
	name string
	path string
	sink events.Sink

	status statusCell
	seen   [tokenCount]atomic.Uint64

	// mu serializes writes. live is swapped out by Stop without it so a
	// blocked write cannot wedge shutdown.
	mu   sync.Mutex
	live atomic.Pointer[liveProcess]

	cancel      context.CancelFunc
	gracePeriod time.Duration

	done        chan struct{} // stdout reader finished
	exited      chan struct{} // process reaped
	exitErr     error
	stopReaders chan struct{}
	stopOnce    sync.Once
	stopStarted atomic.Bool
	stopErr     error

	subMu      sync.Mutex
	subs       map[int]chan string
	nextSub    int
	subsClosed bool
}

// Spawn launches the executable with its own directory as working directory
// and starts the stdout reader, stderr reader and watchdog.
func Spawn(ctx context.Context, cfg SpawnConfig) (*Session, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, &SpawnError{Path: cfg.Path, Err: errors.New("empty executable path")}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}
	if cfg.ID == "" {
		cfg.ID = NewRuntimeID(filepath.Base(abs))
	}

	obslog.L().Info("engine_spawn", zap.String("engine_id", cfg.ID), zap.String("name", cfg.Name), zap.String("path", abs))

	// The process outlives the caller's context but dies with the session.
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(procCtx, abs)
	cmd.Dir = filepath.Dir(abs)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, &SpawnError{Path: abs, Err: fmt.Errorf("create stdin pipe: %w", err)}
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		cancel()
		return nil, &SpawnError{Path: abs, Err: fmt.Errorf("create stdout pipe: %w", err)}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		cancel()
		return nil, &SpawnError{Path: abs, Err: fmt.Errorf("create stderr pipe: %w", err)}
	}
	// Files, not writers: Wait must not close the read ends under the readers.
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		cancel()
		return nil, &SpawnError{Path: abs, Err: err}
	}
	stdoutW.Close()
	stderrW.Close()

	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	s := &Session{
		id:          cfg.ID,
		name:        cfg.Name,
		path:        abs,
		sink:        cfg.Sink,
		cancel:      cancel,
		gracePeriod: grace,
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
		stopReaders: make(chan struct{}),
		subs:        make(map[int]chan string),
	}
	s.live.Store(&liveProcess{cmd: cmd, stdin: stdin})
	s.status.set(StatusStarting)

	obslog.L().Info("engine_process_started", zap.String("engine_id", s.id), zap.Int("pid", cmd.Process.Pid))

	go s.reap(cmd)
	go s.readStdout(stdoutR)
	go s.readStderr(stderrR)

	interval := cfg.WatchdogInterval
	if interval == 0 {
		interval = defaultWatchdogInterval
	}
	if interval > 0 {
		go s.watch(interval, cfg.Tracked)
	}

	settle := cfg.SettleDelay
	if settle == 0 {
		settle = defaultSettleDelay
	}
	if settle > 0 {
		select {
		case <-ctx.Done():
			_ = s.Stop(context.Background())
			return nil, ctx.Err()
		case <-time.After(settle):
		}
	}
	return s, nil
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Name() string { return s.name }
func (s *Session) Path() string { return s.path }

// Status returns the current status.
func (s *Session) Status() Status { return s.status.load() }

// Done is closed when the engine's stdout stream ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Exited is closed once the process has been reaped.
func (s *Session) Exited() <-chan struct{} { return s.exited }

// PID returns the process id, or 0 once stopped.
func (s *Session) PID() int {
	live := s.live.Load()
	if live == nil || live.cmd.Process == nil {
		return 0
	}
	return live.cmd.Process.Pid
}

func (s *Session) observed(t token) uint64 { return s.seen[t].Load() }

func (s *Session) hasProcess() bool { return s.live.Load() != nil }

// Send writes command plus a newline to the engine's stdin.
func (s *Session) Send(command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.live.Load()
	if live == nil {
		return fmt.Errorf("engine %s: %w", s.id, ErrStdinUnavailable)
	}
	if isGoCommand(command) {
		s.status.set(StatusThinking)
	}
	if _, err := io.WriteString(live.stdin, command+"\n"); err != nil {
		if isBrokenPipe(err) {
			s.status.set(StatusError)
			obslog.L().Error("engine_pipe_broken", zap.String("engine_id", s.id), zap.Error(err))
			// A broken pipe means the process is gone.
			if !s.stopStarted.Load() {
				go func() { _ = s.Stop(context.Background()) }()
			}
		}
		return &IOError{EngineID: s.id, Op: "write", Err: err}
	}
	obslog.L().Debug("engine_command", zap.String("engine_id", s.id), zap.String("command", command))
	return nil
}

// SendWithTimeout is Send bounded by d. A write still blocked after d is left
// to fail once the process is killed.
func (s *Session) SendWithTimeout(command string, d time.Duration) error {
	if d <= 0 {
		return s.Send(command)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Send(command) }()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case err := <-errCh:
		return err
	case <-t.C:
		return fmt.Errorf("engine %s %q: %w", s.id, command, ErrCommandTimeout)
	}
}

// Subscribe returns a channel that receives every later stdout line. The
// channel is closed when the stream ends or cancel is called. Lines are
// dropped for a subscriber whose buffer is full.
func (s *Session) Subscribe() (<-chan string, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ch := make(chan string, subscriberBuffer)
	if s.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) broadcast(line string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- line:
		default:
			obslog.L().Warn("engine_subscriber_lagging", zap.String("engine_id", s.id))
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subsClosed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// Stop sends quit, waits up to the grace period for the process to exit and
// then kills it. The session always ends Stopped. Safe to call repeatedly.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopStarted.Store(true)
		obslog.L().Info("engine_stop", zap.String("engine_id", s.id))

		if err := s.SendWithTimeout(CmdQuit, s.gracePeriod); err != nil {
			obslog.L().Warn("engine_quit_failed", zap.String("engine_id", s.id), zap.Error(err))
		}
		close(s.stopReaders)

		grace := time.NewTimer(s.gracePeriod)
		select {
		case <-s.exited:
		case <-grace.C:
		case <-ctx.Done():
		}
		grace.Stop()

		s.status.forceStopped()
		live := s.live.Swap(nil)

		if live != nil {
			_ = live.stdin.Close()
			if err := killProcess(live.cmd.Process); err != nil {
				s.stopErr = &IOError{EngineID: s.id, Op: "kill", Err: err}
			}
		}
		s.cancel()

		select {
		case <-s.exited:
		case <-time.After(reapTimeout):
			obslog.L().Warn("engine_reap_timeout", zap.String("engine_id", s.id))
		}
	})
	return s.stopErr
}

func (s *Session) reap(cmd *exec.Cmd) {
	err := cmd.Wait()
	s.exitErr = err
	close(s.exited)
	obslog.L().Info("engine_process_exited", zap.String("engine_id", s.id), zap.Error(err))
}

func (s *Session) stopping() bool {
	select {
	case <-s.stopReaders:
		return true
	default:
		return false
	}
}

func killProcess(p *os.Process) error {
	if p == nil {
		return nil
	}
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed)
}
