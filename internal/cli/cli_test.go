package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/park285/usi-supervisor/internal/usi/usitest"
	"github.com/park285/usi-supervisor/pkg/usidto"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"probe", "health", "match", "serve"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	path := usitest.WriteEngine(t, usitest.Script{})
	_, err := execute(t, "--format", "yaml", "probe", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestProbeJSONGolden(t *testing.T) {
	path := usitest.WriteEngine(t, usitest.Script{
		Name:   "Golden Engine",
		Author: "Test Author",
		Options: []string{
			"option name USI_Hash type spin default 256 min 1 max 4096",
			"option name Style type combo default Normal var Solid var Normal",
			"option name USI_Ponder type check default false",
		},
	})

	out, err := execute(t, "--format", "json", "probe", path)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "probe_json", []byte(out))
}

func TestProbeText(t *testing.T) {
	path := usitest.WriteEngine(t, usitest.Script{
		Name:    "Text Engine",
		Options: []string{"option name Threads type spin default 1 min 1 max 8"},
	})
	out, err := execute(t, "probe", path)
	require.NoError(t, err)
	assert.Contains(t, out, "name:    Text Engine")
	assert.Contains(t, out, "options: 1")
	assert.Contains(t, out, "option name Threads type spin default 1 min 1 max 8")
}

func TestProbeMissingExecutable(t *testing.T) {
	out, err := execute(t, "--format", "json", "probe", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "not found")
}

func TestHealth(t *testing.T) {
	dir := t.TempDir()
	good := usitest.WriteEngine(t, usitest.Script{Name: "Good"})
	doc := "engines:\n" +
		"  - id: good\n    name: Good\n    path: " + good + "\n" +
		"  - id: off\n    name: Off\n    enabled: false\n    path: /nonexistent\n"
	catalog := filepath.Join(dir, "engines.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(doc), 0o644))

	out, err := execute(t, "--format", "json", "health", "--catalog", catalog)
	require.NoError(t, err)

	var resp struct {
		Status string                `json:"status"`
		Data   []usidto.EngineHealth `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, usidto.HealthHealthy, resp.Data[0].Status)
	assert.Equal(t, usidto.HealthDisabled, resp.Data[1].Status)
}

func TestHealthUnhealthyExitCode(t *testing.T) {
	dir := t.TempDir()
	doc := "engines:\n  - id: gone\n    path: " + filepath.Join(dir, "gone") + "\n"
	catalog := filepath.Join(dir, "engines.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(doc), 0o644))

	out, err := execute(t, "health", "-c", catalog)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "unhealthy")
}

func TestHealthWithoutCatalog(t *testing.T) {
	t.Setenv("USI_CATALOG", "")
	_, err := execute(t, "health")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMatchText(t *testing.T) {
	black := usitest.WriteEngine(t, usitest.Script{Moves: []string{"7g7f", "resign"}})
	white := usitest.WriteEngine(t, usitest.Script{Move: "3c3d"})

	out, err := execute(t, "match", "--black", black, "--white", white, "--time-ms", "100", "--black-name", "Sente")
	require.NoError(t, err)
	assert.Contains(t, out, "7g7f")
	assert.Contains(t, out, "3c3d")
	assert.Contains(t, out, "Sente resigned")
	assert.Contains(t, out, "winner: white")
}

func TestMatchRequiresEngines(t *testing.T) {
	_, err := execute(t, "match", "--black", "/bin/true")
	require.Error(t, err)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapExitError(ExitCommandError, "x", assert.AnError)))
}
