package usi

import (
	"fmt"
	"strconv"
	"strings"
)

// Protocol commands and tokens.
const (
	CmdUSI        = "usi"
	CmdIsReady    = "isready"
	CmdNewGame    = "usinewgame"
	CmdQuit       = "quit"
	TokenUSIOK    = "usiok"
	TokenReadyOK  = "readyok"
	TokenBestMove = "bestmove"
	MoveResign    = "resign"

	// StartPositionSFEN is the standard opening position.
	StartPositionSFEN = "lnsgkgsnl/1r5b1/ppppppppp/9/9/9/PPPPPPPPP/1B5R1/LNSGKGSNL b - 1"
)

// SetOptionCommand builds `setoption name <name> value <value>`.
func SetOptionCommand(name, value string) string {
	return fmt.Sprintf("setoption name %s value %s", name, value)
}

// BaseSFEN strips any trailing ` moves ...` section from a position string.
func BaseSFEN(position string) string {
	base, _, _ := strings.Cut(position, " moves")
	base = strings.TrimSpace(base)
	if base == "" || base == "startpos" {
		return StartPositionSFEN
	}
	return base
}

// PositionString joins a base position and a move list the way the match
// state reports it.
func PositionString(base string, moves []string) string {
	base = BaseSFEN(base)
	if len(moves) == 0 {
		return base
	}
	return base + " moves " + strings.Join(moves, " ")
}

// PositionCommand builds `position sfen <base> [moves m1 m2 ...]`.
func PositionCommand(base string, moves []string) string {
	return "position sfen " + PositionString(base, moves)
}

// GoCommand builds a fixed-time move request with the same budget for both sides.
func GoCommand(timeMillis int64) string {
	t := strconv.FormatInt(timeMillis, 10)
	return "go btime " + t + " wtime " + t
}

// ParseBestMove extracts the move from a `bestmove <move> [ponder <m>]` line.
func ParseBestMove(line string) (string, bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 || parts[0] != TokenBestMove {
		return "", false
	}
	return parts[1], true
}

// observedToken maps an output line to the status-affecting token it carries.
func observedToken(line string) (token, bool) {
	switch {
	case strings.Contains(line, TokenUSIOK):
		return tokenUSIOK, true
	case strings.Contains(line, TokenReadyOK):
		return tokenReadyOK, true
	case strings.HasPrefix(line, TokenBestMove):
		return tokenBestMove, true
	default:
		return 0, false
	}
}

func isGoCommand(cmd string) bool {
	return cmd == "go" || strings.HasPrefix(cmd, "go ")
}
