package usi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionCommand(t *testing.T) {
	assert.Equal(t, "position sfen "+StartPositionSFEN, PositionCommand("", nil))
	assert.Equal(t, "position sfen "+StartPositionSFEN+" moves 7g7f 3c3d",
		PositionCommand(StartPositionSFEN, []string{"7g7f", "3c3d"}))
	assert.Equal(t, "position sfen "+StartPositionSFEN+" moves 2g2f",
		PositionCommand(StartPositionSFEN+" moves 7g7f", []string{"2g2f"}))
}

func TestBaseSFEN(t *testing.T) {
	assert.Equal(t, StartPositionSFEN, BaseSFEN("startpos"))
	assert.Equal(t, StartPositionSFEN, BaseSFEN("  "))
	assert.Equal(t, "9/9/9/9/4k4/9/9/9/4K4 b - 1", BaseSFEN("9/9/9/9/4k4/9/9/9/4K4 b - 1 moves 5i5h"))
}

func TestGoCommand(t *testing.T) {
	assert.Equal(t, "go btime 5000 wtime 5000", GoCommand(5000))
}

func TestSetOptionCommand(t *testing.T) {
	assert.Equal(t, "setoption name USI_Hash value 256", SetOptionCommand("USI_Hash", "256"))
}

func TestParseBestMove(t *testing.T) {
	mv, ok := ParseBestMove("bestmove 7g7f ponder 3c3d")
	assert.True(t, ok)
	assert.Equal(t, "7g7f", mv)

	mv, ok = ParseBestMove("bestmove resign")
	assert.True(t, ok)
	assert.Equal(t, MoveResign, mv)

	_, ok = ParseBestMove("bestmove")
	assert.False(t, ok)
	_, ok = ParseBestMove("info depth 3 pv 7g7f")
	assert.False(t, ok)
}

func TestObservedToken(t *testing.T) {
	tok, ok := observedToken("usiok")
	assert.True(t, ok)
	assert.Equal(t, tokenUSIOK, tok)

	tok, ok = observedToken("readyok")
	assert.True(t, ok)
	assert.Equal(t, tokenReadyOK, tok)

	tok, ok = observedToken("bestmove 7g7f")
	assert.True(t, ok)
	assert.Equal(t, tokenBestMove, tok)

	_, ok = observedToken("info string bestmove soon")
	assert.False(t, ok)
}

func TestIsGoCommand(t *testing.T) {
	assert.True(t, isGoCommand("go btime 1 wtime 1"))
	assert.True(t, isGoCommand("go"))
	assert.False(t, isGoCommand("gameover win"))
}

func TestStatusCellStoppedIsTerminal(t *testing.T) {
	var c statusCell
	assert.Equal(t, StatusStarting, c.load())
	assert.True(t, c.set(StatusReady))
	c.forceStopped()
	assert.False(t, c.set(StatusReady))
	assert.Equal(t, StatusStopped, c.load())
	assert.Equal(t, "stopped", c.load().String())
}
