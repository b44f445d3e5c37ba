package usi_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/park285/usi-supervisor/internal/usi"
	"github.com/park285/usi-supervisor/internal/usi/usitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeCollectsMetadata(t *testing.T) {
	path := usitest.WriteEngine(t, usitest.Script{
		Name:   "Fake Engine 1.0",
		Author: "Test Author",
		Options: []string{
			"option name USI_Hash type spin default 16 min 1 max 1024",
			"option name USI_Ponder type check default false",
			"option name garbage",
		},
	})

	md, err := usi.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Fake Engine 1.0", md.Name)
	assert.Equal(t, "Test Author", md.Author)
	require.Len(t, md.Options, 2)
	assert.Equal(t, "USI_Hash", md.Options[0].Name)
	assert.Equal(t, "check", md.Options[1].Type)
}

func TestProbeDefaultsName(t *testing.T) {
	path := usitest.WriteEngine(t, usitest.Script{})

	md, err := usi.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, usi.UnknownEngineName, md.Name)
	assert.Empty(t, md.Author)
	assert.Empty(t, md.Options)
}

func TestProbeMissingExecutable(t *testing.T) {
	_, err := usi.Probe(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, usi.ErrSpawn)
}

func TestProbeHonorsCanceledContext(t *testing.T) {
	path := usitest.WriteEngine(t, usitest.Script{Silent: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := usi.Probe(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbeEngineWithoutUSIOK(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "liar")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nread line\necho 'id name Liar'\nexit 0\n"), 0o755))

	_, err := usi.Probe(context.Background(), path)
	assert.ErrorIs(t, err, usi.ErrNoUSIOK)
}
