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

type mapSource map[string]map[string]string

func (m mapSource) EngineOptions(_ context.Context, id string) (map[string]string, bool, error) {
	opts, ok := m[id]
	return opts, ok, nil
}

type failingSource struct{}

func (failingSource) EngineOptions(context.Context, string) (map[string]string, bool, error) {
	return nil, false, errors.New("store down")
}

func newRegistry(t *testing.T) *usi.Registry {
	t.Helper()
	reg := usi.NewRegistry(usi.RegistryConfig{
		WatchdogInterval: -1,
		SettleDelay:      -1,
		Handshake:        fastHandshake,
	})
	t.Cleanup(func() { _ = reg.StopAll(context.Background()) })
	return reg
}

func TestRegistryResolveEmpty(t *testing.T) {
	reg := newRegistry(t)
	for _, id := range []string{"", "a", "engine"} {
		_, _, err := reg.Resolve(id)
		assert.ErrorIs(t, err, usi.ErrNotFound, id)
	}
}

func TestRegistryExactMatchWinsOverPrefix(t *testing.T) {
	reg := newRegistry(t)
	path := usitest.WriteEngine(t, usitest.Script{})
	ctx := context.Background()

	_, err := reg.Spawn(ctx, "engine", "A", path)
	require.NoError(t, err)
	_, err = reg.Spawn(ctx, "engine-2", "B", path)
	require.NoError(t, err)

	id, sess, err := reg.Resolve("engine")
	require.NoError(t, err)
	assert.Equal(t, "engine", id)
	assert.Equal(t, "A", sess.Name())

	id, _, err = reg.Resolve("engine-")
	require.NoError(t, err)
	assert.Equal(t, "engine-2", id)
}

func TestRegistryAmbiguousPrefix(t *testing.T) {
	reg := newRegistry(t)
	path := usitest.WriteEngine(t, usitest.Script{})
	ctx := context.Background()

	_, err := reg.Spawn(ctx, "alpha-1", "A", path)
	require.NoError(t, err)
	_, err = reg.Spawn(ctx, "alpha-2", "B", path)
	require.NoError(t, err)

	_, _, err = reg.Resolve("alpha")
	assert.ErrorIs(t, err, usi.ErrAmbiguousID)
	assert.Contains(t, err.Error(), "alpha-1, alpha-2")
}

func TestRegistryDuplicateID(t *testing.T) {
	reg := newRegistry(t)
	path := usitest.WriteEngine(t, usitest.Script{})

	_, err := reg.Spawn(context.Background(), "dup", "A", path)
	require.NoError(t, err)
	_, err = reg.Spawn(context.Background(), "dup", "B", path)
	assert.ErrorIs(t, err, usi.ErrDuplicateID)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryStopRemoves(t *testing.T) {
	reg := newRegistry(t)
	path := usitest.WriteEngine(t, usitest.Script{})

	sess, err := reg.Spawn(context.Background(), "solo-123", "A", path)
	require.NoError(t, err)
	require.NoError(t, reg.Stop(context.Background(), "solo"))

	assert.Equal(t, usi.StatusStopped, sess.Status())
	assert.Empty(t, reg.List())
	assert.ErrorIs(t, reg.Stop(context.Background(), "solo"), usi.ErrNotFound)
}

func TestRegistryStopAllEmpties(t *testing.T) {
	reg := newRegistry(t)
	good := usitest.WriteEngine(t, usitest.Script{})
	stubborn := usitest.WriteEngine(t, usitest.Script{IgnoreQuit: true})
	ctx := context.Background()

	var sessions []*usi.Session
	for i, path := range []string{good, stubborn, good, stubborn, good} {
		sess, err := reg.Spawn(ctx, "e"+string(rune('a'+i)), "E", path)
		require.NoError(t, err)
		sessions = append(sessions, sess)
	}
	require.Equal(t, 5, reg.Len())

	require.NoError(t, reg.StopAll(ctx))
	assert.Zero(t, reg.Len())
	for _, s := range sessions {
		assert.Equal(t, usi.StatusStopped, s.Status())
	}
}

func TestRegistryInfoAndStatus(t *testing.T) {
	reg := newRegistry(t)
	path := usitest.WriteEngine(t, usitest.Script{})

	_, err := reg.Spawn(context.Background(), "b", "Beta", path)
	require.NoError(t, err)
	_, err = reg.Spawn(context.Background(), "a", "Alpha", path)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, reg.List())
	info := reg.Info()
	require.Len(t, info, 2)
	assert.Equal(t, "Alpha", info[0].Name)
	assert.Equal(t, usi.StatusStarting, info[0].Status)

	st, err := reg.Status("b")
	require.NoError(t, err)
	assert.Equal(t, usi.StatusStarting, st)
	_, err = reg.Status("zzz")
	assert.ErrorIs(t, err, usi.ErrNotFound)
}

func TestRegistrySpawnAndInitializeUsesStoredOptions(t *testing.T) {
	reg := newRegistry(t)
	record := filepath.Join(t.TempDir(), "commands.log")
	path := usitest.WriteEngine(t, usitest.Script{Record: record})

	store := mapSource{"yane": {"USI_Hash": "64"}}
	sess, err := reg.SpawnAndInitialize(context.Background(), usi.SpawnRequest{
		ID:       usi.NewRuntimeID("yane"),
		ConfigID: "yane",
		Name:     "Yane",
		Path:     path,
	}, store)
	require.NoError(t, err)
	assert.Equal(t, usi.StatusReady, sess.Status())
	assert.True(t, strings.HasPrefix(sess.ID(), "yane-"))

	require.NoError(t, reg.Send("yane", usi.CmdIsReady))
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(record)
		return err == nil && strings.Contains(string(b), "setoption name USI_Hash value 64")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistrySpawnAndInitializeStopsOnFailure(t *testing.T) {
	reg := newRegistry(t)
	path := usitest.WriteEngine(t, usitest.Script{Silent: true})

	_, err := reg.SpawnAndInitialize(context.Background(), usi.SpawnRequest{ID: "mute", Path: path}, nil)
	assert.ErrorIs(t, err, usi.ErrHandshakeTimeout)
	assert.Zero(t, reg.Len())
}

func TestResolveOptions(t *testing.T) {
	ctx := context.Background()
	store := mapSource{"x": {"A": "1"}}

	assert.Equal(t, map[string]string{"B": "2"}, usi.ResolveOptions(ctx, store, "x", map[string]string{"B": "2"}))
	assert.Equal(t, map[string]string{}, usi.ResolveOptions(ctx, store, "x", map[string]string{}))
	assert.Equal(t, map[string]string{"A": "1"}, usi.ResolveOptions(ctx, store, "x", nil))
	assert.Nil(t, usi.ResolveOptions(ctx, store, "y", nil))
	assert.Nil(t, usi.ResolveOptions(ctx, failingSource{}, "x", nil))
	assert.Nil(t, usi.ResolveOptions(ctx, nil, "x", nil))
}

func TestRegistrySendBrokenPipeDropsSession(t *testing.T) {
	reg := newRegistry(t)
	sess, err := reg.Spawn(context.Background(), "eng", "Eng", usitest.WriteEngine(t, usitest.Script{}))
	require.NoError(t, err)

	require.NoError(t, reg.Send("eng", usi.CmdQuit))
	select {
	case <-sess.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not exit after quit")
	}

	err = reg.Send("eng", usi.CmdIsReady)
	require.Error(t, err)
	assert.ErrorIs(t, err, usi.ErrIO)

	assert.Zero(t, reg.Len())
	assert.Equal(t, usi.StatusStopped, sess.Status())
	assert.Zero(t, sess.PID())
	_, err = reg.Status("eng")
	assert.ErrorIs(t, err, usi.ErrNotFound)
}

func TestRegistrySendWithTimeoutBrokenPipeDropsSession(t *testing.T) {
	reg := newRegistry(t)
	sess, err := reg.Spawn(context.Background(), "eng", "Eng", usitest.WriteEngine(t, usitest.Script{}))
	require.NoError(t, err)

	require.NoError(t, sess.Send(usi.CmdQuit))
	<-sess.Exited()

	err = reg.SendWithTimeout("eng", usi.CmdIsReady, time.Second)
	assert.ErrorIs(t, err, usi.ErrIO)
	assert.Zero(t, reg.Len())
}
