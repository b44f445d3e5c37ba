package usi_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/park285/usi-supervisor/internal/usi"
	"github.com/park285/usi-supervisor/internal/usi/usitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastHandshake = usi.HandshakeConfig{
	Timeout:      300 * time.Millisecond,
	PollInterval: 10 * time.Millisecond,
}

func TestHandshakeSendsOptionsInOrder(t *testing.T) {
	record := filepath.Join(t.TempDir(), "commands.log")
	path := usitest.WriteEngine(t, usitest.Script{Name: "Fake", Record: record})
	sess := spawn(t, path, nil)

	err := usi.Handshake(context.Background(), sess, map[string]string{
		"USI_Hash":    "256",
		"Threads":     "2",
		"Skill Level": "10",
	}, usi.HandshakeConfig{PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, usi.StatusReady, sess.Status())

	b, err := os.ReadFile(record)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"usi",
		"setoption name Skill Level value 10",
		"setoption name Threads value 2",
		"setoption name USI_Hash value 256",
		"isready",
	}, strings.Split(strings.TrimSpace(string(b)), "\n"))
}

func TestHandshakeTimesOutWithoutUSIOK(t *testing.T) {
	path := usitest.WriteEngine(t, usitest.Script{Silent: true})
	sess := spawn(t, path, nil)

	start := time.Now()
	err := usi.Handshake(context.Background(), sess, nil, fastHandshake)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.ErrorIs(t, err, usi.ErrHandshakeTimeout)

	var hsErr *usi.HandshakeTimeoutError
	require.True(t, errors.As(err, &hsErr))
	assert.Equal(t, usi.TokenUSIOK, hsErr.Stage)

	require.NotPanics(t, func() {
		require.NoError(t, sess.Stop(context.Background()))
		require.NoError(t, sess.Stop(context.Background()))
	})
	assert.Equal(t, usi.StatusStopped, sess.Status())
}

func TestHandshakeReadyOKNotSatisfiedByUSIOK(t *testing.T) {
	path := usitest.WriteEngine(t, usitest.Script{NoReadyOK: true})
	sess := spawn(t, path, nil)

	err := usi.Handshake(context.Background(), sess, nil, fastHandshake)
	var hsErr *usi.HandshakeTimeoutError
	require.True(t, errors.As(err, &hsErr))
	assert.Equal(t, usi.TokenReadyOK, hsErr.Stage)
}

func TestHandshakeFailsWhenEngineExits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quitter")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nread line\nexit 1\n"), 0o755))
	sess := spawn(t, path, nil)

	err := usi.Handshake(context.Background(), sess, nil, usi.HandshakeConfig{PollInterval: 10 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, usi.ErrIO)
}

func TestHandshakeHonorsContext(t *testing.T) {
	path := usitest.WriteEngine(t, usitest.Script{Silent: true})
	sess := spawn(t, path, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := usi.Handshake(ctx, sess, nil, usi.HandshakeConfig{Timeout: time.Minute})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandshakeCanRunTwice(t *testing.T) {
	path := usitest.WriteEngine(t, usitest.Script{})
	sess := spawn(t, path, nil)

	require.NoError(t, usi.Handshake(context.Background(), sess, nil, fastHandshake))
	require.NoError(t, usi.Handshake(context.Background(), sess, map[string]string{"USI_Ponder": "false"}, fastHandshake))
}

func TestHandshakeStageString(t *testing.T) {
	assert.Equal(t, "awaiting_usiok", usi.StageAwaitingUSIOK.String())
	assert.Equal(t, "done", usi.StageDone.String())
}
