package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/park285/usi-supervisor/internal/events"
	"github.com/park285/usi-supervisor/internal/match"
	"github.com/park285/usi-supervisor/internal/obslog"
	"github.com/park285/usi-supervisor/pkg/usidto"
	"github.com/spf13/cobra"
)

type matchFlags struct {
	black, white         string
	blackName, whiteName string
	sfen                 string
	timeMS               int64
	maxMoves             int
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	f := &matchFlags{}
	cmd := &cobra.Command{
		Use:   "match --black <path> --white <path>",
		Short: "Play one engine-vs-engine game",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd, rootOpts, f)
		},
	}
	cmd.Flags().StringVar(&f.black, "black", "", "black engine executable")
	cmd.Flags().StringVar(&f.white, "white", "", "white engine executable")
	cmd.Flags().StringVar(&f.blackName, "black-name", "Black", "black engine display name")
	cmd.Flags().StringVar(&f.whiteName, "white-name", "White", "white engine display name")
	cmd.Flags().StringVar(&f.sfen, "sfen", "", "initial position (default startpos)")
	cmd.Flags().Int64Var(&f.timeMS, "time-ms", match.DefaultTimePerMoveMS, "time per move in milliseconds")
	cmd.Flags().IntVar(&f.maxMoves, "max-moves", match.DefaultMaxMoves, "draw after this many moves")
	_ = cmd.MarkFlagRequired("black")
	_ = cmd.MarkFlagRequired("white")
	return cmd
}

func runMatch(cmd *cobra.Command, rootOpts *RootOptions, f *matchFlags) error {
	out := newFormatter(rootOpts, cmd.OutOrStdout())
	cfg := match.ConfigFromRequest(usidto.MatchRequest{
		Black:       usidto.EngineRef{ID: "black", Name: f.blackName, Path: f.black},
		White:       usidto.EngineRef{ID: "white", Name: f.whiteName, Path: f.white},
		InitialSFEN: f.sfen,
		TimePerMove: f.timeMS,
		MaxMoves:    f.maxMoves,
	})

	var sink events.Sink = events.Nop{}
	if !out.json() {
		sink = &moveWriter{w: cmd.OutOrStdout()}
	}
	o := match.New(cfg, match.WithSink(sink), match.WithLogger(obslog.L()))
	final, err := o.Run(cmd.Context())
	if err != nil {
		return out.failure(ExitFailure, "match setup failed", err)
	}
	return out.success(final, func(w io.Writer) {
		fmt.Fprintf(w, "result: %s (winner: %s, %d moves)\n", final.GameResult, final.Winner, len(final.MoveHistory))
		fmt.Fprintf(w, "final:  %s\n", final.PositionSFEN)
	})
}

// moveWriter prints each move as the game is played.
type moveWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (m *moveWriter) Emit(_ context.Context, topic string, payload any) error {
	if topic != events.TopicMatchMove {
		return nil
	}
	mv, ok := payload.(usidto.MoveEvent)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := fmt.Fprintf(m.w, "%3d. %-5s %-10s %s\n", mv.MoveNumber, mv.Player, mv.Engine, mv.Move)
	return err
}
