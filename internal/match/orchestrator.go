// Package match runs automated games between two engines.
package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/park285/usi-supervisor/internal/events"
	"github.com/park285/usi-supervisor/internal/usi"
	"github.com/park285/usi-supervisor/pkg/usidto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimePerMoveMS = 5000
	DefaultMaxMoves      = 200
	defaultResponseGrace = 10 * time.Second
	defaultPacing        = 500 * time.Millisecond

	ReasonMaxMoves = "maximum moves reached"
	ReasonAborted  = "match aborted"
)

// Phase is the lifecycle position of a match.
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseEnginesSpawned
	PhaseInitialized
	PhaseInProgress
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseEnginesSpawned:
		return "engines_spawned"
	case PhaseInitialized:
		return "initialized"
	case PhaseInProgress:
		return "in_progress"
	case PhaseFinished:
		return "finished"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Config describes one match. Black moves first.
type Config struct {
	Black         usidto.EngineRef
	White         usidto.EngineRef
	InitialSFEN   string
	TimePerMoveMS int64
	MaxMoves      int
	// ResponseGrace is added to the move budget when waiting for bestmove.
	ResponseGrace time.Duration
	// Pacing is slept after each move. Negative disables it.
	Pacing    time.Duration
	Handshake usi.HandshakeConfig
	// WatchdogInterval is passed to both sessions.
	WatchdogInterval time.Duration
}

// ConfigFromRequest maps an API or CLI request onto a Config.
func ConfigFromRequest(req usidto.MatchRequest) Config {
	return Config{
		Black:         req.Black,
		White:         req.White,
		InitialSFEN:   req.InitialSFEN,
		TimePerMoveMS: req.TimePerMove,
		MaxMoves:      req.MaxMoves,
	}
}

func (c Config) withDefaults() Config {
	c.InitialSFEN = usi.BaseSFEN(c.InitialSFEN)
	if c.TimePerMoveMS <= 0 {
		c.TimePerMoveMS = DefaultTimePerMoveMS
	}
	if c.MaxMoves <= 0 {
		c.MaxMoves = DefaultMaxMoves
	}
	if c.ResponseGrace <= 0 {
		c.ResponseGrace = defaultResponseGrace
	}
	if c.Pacing == 0 {
		c.Pacing = defaultPacing
	}
	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Black.Path) == "" || strings.TrimSpace(c.White.Path) == "" {
		return errors.New("both engines need an executable path")
	}
	return nil
}

// ResultSaver persists finished matches.
type ResultSaver interface {
	SaveResult(ctx context.Context, r usidto.MatchResult) error
}

type Option func(*Orchestrator)

func WithSink(s events.Sink) Option { return func(o *Orchestrator) { o.sink = s } }

func WithOptions(s usi.OptionsSource) Option { return func(o *Orchestrator) { o.options = s } }

func WithResults(r ResultSaver) Option { return func(o *Orchestrator) { o.results = r } }

func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithID(id string) Option { return func(o *Orchestrator) { o.id = id } }

type side struct {
	ref  usidto.EngineRef
	sess *usi.Session
}

// Orchestrator plays one match between two privately owned sessions.
type Orchestrator struct {
	id      string
	cfg     Config
	sink    events.Sink
	options usi.OptionsSource
	results ResultSaver
	logger  *zap.Logger

	mu        sync.Mutex
	phase     Phase
	state     usidto.MatchState
	startedAt time.Time
}

func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg.withDefaults()}
	for _, opt := range opts {
		opt(o)
	}
	if o.id == "" {
		o.id = NewID()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.With(zap.String("match_id", o.id))
	o.state = usidto.MatchState{
		MatchID:       o.id,
		MoveNumber:    1,
		CurrentPlayer: usidto.PlayerBlack,
		PositionSFEN:  o.cfg.InitialSFEN,
		MoveHistory:   []string{},
	}
	return o
}

// NewID returns a lexically sortable match id.
func NewID() string { return ulid.Make().String() }

func (o *Orchestrator) ID() string { return o.id }

func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// State returns a copy of the current snapshot.
func (o *Orchestrator) State() usidto.MatchState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() usidto.MatchState {
	s := o.state
	s.MoveHistory = append([]string{}, o.state.MoveHistory...)
	return s
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	prev := o.phase
	o.phase = p
	o.mu.Unlock()
	o.logger.Debug("match_phase", zap.Stringer("from", prev), zap.Stringer("to", p))
}

func (o *Orchestrator) running() bool { return o.Phase() != PhaseFinished }

// Run plays the match to a terminal state. It returns an error only when the
// engines cannot be started or initialized; in-game failures end the game.
func (o *Orchestrator) Run(ctx context.Context) (usidto.MatchState, error) {
	if err := o.cfg.validate(); err != nil {
		return o.State(), err
	}
	o.mu.Lock()
	if o.phase != PhaseCreated {
		o.mu.Unlock()
		return o.State(), errors.New("match already started")
	}
	o.startedAt = time.Now()
	o.mu.Unlock()

	o.logger.Info("match_start",
		zap.String("black", o.cfg.Black.Name),
		zap.String("white", o.cfg.White.Name),
		zap.Int64("time_per_move_ms", o.cfg.TimePerMoveMS),
		zap.Int("max_moves", o.cfg.MaxMoves),
	)

	black, white, err := o.setup(ctx)
	if err != nil {
		o.setPhase(PhaseFinished)
		o.logger.Error("match_setup_failed", zap.Error(err))
		return o.State(), err
	}
	o.setPhase(PhaseInProgress)
	o.emit(ctx, events.TopicMatchUpdate, o.State())

	o.play(ctx, black, white)
	o.teardown(ctx, black, white)

	final := o.State()
	o.setPhase(PhaseFinished)
	o.emit(ctx, events.TopicMatchResult, final)
	o.saveResult(ctx, final)
	o.logger.Info("match_finished", zap.String("winner", final.Winner), zap.String("reason", final.GameResult), zap.Int("moves", len(final.MoveHistory)))
	return final, nil
}

// setup spawns and initializes both engines concurrently. On failure every
// spawned session is stopped.
func (o *Orchestrator) setup(ctx context.Context) (*side, *side, error) {
	black := &side{ref: o.cfg.Black}
	white := &side{ref: o.cfg.White}
	sides := []*side{black, white}

	cleanup := func() {
		for _, s := range sides {
			if s.sess != nil {
				_ = s.sess.Stop(context.WithoutCancel(ctx))
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sides {
		g.Go(func() error {
			sess, err := usi.Spawn(gctx, usi.SpawnConfig{
				ID:               usi.NewRuntimeID(configID(s.ref)),
				Name:             s.ref.Name,
				Path:             s.ref.Path,
				Sink:             o.sink,
				WatchdogInterval: o.cfg.WatchdogInterval,
				Tracked:          o.running,
			})
			if err != nil {
				return fmt.Errorf("spawn %s: %w", s.ref.Name, err)
			}
			s.sess = sess
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cleanup()
		return nil, nil, err
	}
	o.setPhase(PhaseEnginesSpawned)

	g, gctx = errgroup.WithContext(ctx)
	for _, s := range sides {
		g.Go(func() error {
			opts := usi.ResolveOptions(gctx, o.options, configID(s.ref), nil)
			if err := usi.Handshake(gctx, s.sess, opts, o.cfg.Handshake); err != nil {
				return fmt.Errorf("initialize %s: %w", s.ref.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cleanup()
		return nil, nil, err
	}
	o.setPhase(PhaseInitialized)

	for _, s := range sides {
		if err := s.sess.Send(usi.CmdNewGame); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("new game %s: %w", s.ref.Name, err)
		}
	}
	return black, white, nil
}

func configID(ref usidto.EngineRef) string {
	if ref.ID != "" {
		return ref.ID
	}
	return ref.Name
}

func (o *Orchestrator) play(ctx context.Context, black, white *side) {
	for n := 1; n <= o.cfg.MaxMoves; n++ {
		if ctx.Err() != nil {
			o.finish(ctx, "", ReasonAborted)
			return
		}

		o.mu.Lock()
		blackToMove := o.state.CurrentPlayer == usidto.PlayerBlack
		history := append([]string{}, o.state.MoveHistory...)
		o.mu.Unlock()

		mover, player, opponent := black, usidto.PlayerBlack, usidto.PlayerWhite
		if !blackToMove {
			mover, player, opponent = white, usidto.PlayerWhite, usidto.PlayerBlack
		}
		name := mover.ref.Name

		o.logger.Debug("match_turn", zap.Int("move", n), zap.String("player", player), zap.String("engine", name))

		move, err := o.requestMove(ctx, mover.sess, history)
		switch {
		case err != nil && ctx.Err() != nil:
			o.finish(ctx, "", ReasonAborted)
			return
		case err != nil:
			o.logger.Warn("match_engine_failed", zap.String("engine", name), zap.Error(err))
			o.finish(ctx, opponent, name+" failed to respond")
			return
		case move == usi.MoveResign:
			o.finish(ctx, opponent, name+" resigned")
			return
		}

		o.mu.Lock()
		o.state.MoveHistory = append(o.state.MoveHistory, move)
		o.state.LastMove = move
		o.state.CurrentPlayer = opponent
		o.state.MoveNumber = n + 1
		o.state.PositionSFEN = usi.PositionString(o.cfg.InitialSFEN, o.state.MoveHistory)
		snap := o.snapshotLocked()
		o.mu.Unlock()

		o.emit(ctx, events.TopicMatchUpdate, snap)
		o.emit(ctx, events.TopicMatchMove, usidto.MoveEvent{
			MatchID:    o.id,
			MoveNumber: n,
			Player:     player,
			EngineID:   mover.sess.ID(),
			Engine:     name,
			Move:       move,
		})

		if o.cfg.Pacing > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(o.cfg.Pacing):
			}
		}
	}

	if !o.State().GameOver {
		o.finish(ctx, usidto.WinnerDraw, ReasonMaxMoves)
	}
}

// requestMove sends the position and a go command and waits for bestmove
// within the move budget plus the response grace.
func (o *Orchestrator) requestMove(ctx context.Context, sess *usi.Session, history []string) (string, error) {
	lines, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	if err := sess.Send(usi.PositionCommand(o.cfg.InitialSFEN, history)); err != nil {
		return "", fmt.Errorf("send position: %w", err)
	}
	if err := sess.Send(usi.GoCommand(o.cfg.TimePerMoveMS)); err != nil {
		return "", fmt.Errorf("send go: %w", err)
	}

	limit := time.Duration(o.cfg.TimePerMoveMS)*time.Millisecond + o.cfg.ResponseGrace
	timer := time.NewTimer(limit)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", fmt.Errorf("no bestmove within %s: %w", limit, usi.ErrCommandTimeout)
		case line, ok := <-lines:
			if !ok {
				return "", &usi.IOError{EngineID: sess.ID(), Op: "read bestmove", Err: errors.New("output closed")}
			}
			if mv, ok := usi.ParseBestMove(line); ok {
				return mv, nil
			}
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, winner, reason string) {
	o.mu.Lock()
	o.state.GameOver = true
	o.state.Winner = winner
	o.state.GameResult = reason
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.logger.Info("match_over", zap.String("winner", winner), zap.String("reason", reason))
	o.emit(ctx, events.TopicMatchUpdate, snap)
}

func (o *Orchestrator) emit(ctx context.Context, topic string, payload any) {
	events.Publish(context.WithoutCancel(ctx), o.sink, topic, payload)
}

func (o *Orchestrator) saveResult(ctx context.Context, final usidto.MatchState) {
	if o.results == nil {
		return
	}
	o.mu.Lock()
	started := o.startedAt
	o.mu.Unlock()

	r := usidto.MatchResult{
		MatchID:     o.id,
		BlackID:     o.cfg.Black.ID,
		BlackName:   o.cfg.Black.Name,
		WhiteID:     o.cfg.White.ID,
		WhiteName:   o.cfg.White.Name,
		InitialSFEN: o.cfg.InitialSFEN,
		Winner:      final.Winner,
		Reason:      final.GameResult,
		Moves:       final.MoveHistory,
		TimePerMove: o.cfg.TimePerMoveMS,
		MaxMoves:    o.cfg.MaxMoves,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	if err := o.results.SaveResult(context.WithoutCancel(ctx), r); err != nil {
		o.logger.Warn("match_result_save_failed", zap.Error(err))
	}
}

// teardown asks both engines to quit and terminates them.
func (o *Orchestrator) teardown(ctx context.Context, sides ...*side) {
	stopCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for _, s := range sides {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.sess.Stop(stopCtx); err != nil {
				o.logger.Warn("match_engine_stop_failed", zap.String("engine", s.ref.Name), zap.Error(err))
			}
		}()
	}
	wg.Wait()
}
