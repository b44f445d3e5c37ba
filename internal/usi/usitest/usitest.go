// Package usitest writes scripted fake engines for tests.
package usitest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Script describes the behavior of a fake engine.
type Script struct {
	Name    string
	Author  string
	Options []string // raw `option name ...` lines sent before usiok

	// Silent engines never answer usi.
	Silent bool
	// NoReadyOK engines answer usi but never isready.
	NoReadyOK bool
	// Moves are answered to successive go commands. Once exhausted Move is
	// repeated. An empty Move with no Moves left means the go is ignored.
	Moves []string
	Move  string
	// ExitOnGo makes the engine exit with status 3 on its first go.
	ExitOnGo bool
	// IgnoreQuit keeps the engine running after quit.
	IgnoreQuit bool
	// Stderr is written to stderr once at startup.
	Stderr string
	// Record, when set, receives every command the engine reads.
	Record string
}

// WriteEngine writes s as an executable shell script under t.TempDir.
func WriteEngine(t testing.TB, s Script) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-engine")
	if err := os.WriteFile(path, []byte(s.render()), 0o600); err != nil {
		t.Fatalf("write engine: %v", err)
	}
	if err := os.Chmod(path, 0o755); err != nil {
		t.Fatalf("chmod engine: %v", err)
	}
	return path
}

func (s Script) render() string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	if s.Stderr != "" {
		fmt.Fprintf(&b, "echo %s >&2\n", quote(s.Stderr))
	}
	b.WriteString("set --")
	for _, m := range s.Moves {
		b.WriteString(" " + quote(m))
	}
	b.WriteString("\n")
	b.WriteString("while IFS= read -r line; do\n")
	if s.Record != "" {
		fmt.Fprintf(&b, "  printf '%%s\\n' \"$line\" >> %s\n", quote(s.Record))
	}
	b.WriteString("  case \"$line\" in\n")

	b.WriteString("    usi)\n")
	if !s.Silent {
		name := s.Name
		if name != "" {
			fmt.Fprintf(&b, "      echo %s\n", quote("id name "+name))
		}
		if s.Author != "" {
			fmt.Fprintf(&b, "      echo %s\n", quote("id author "+s.Author))
		}
		for _, o := range s.Options {
			fmt.Fprintf(&b, "      echo %s\n", quote(o))
		}
		b.WriteString("      echo usiok\n")
	}
	b.WriteString("      ;;\n")

	b.WriteString("    isready)\n")
	if !s.NoReadyOK && !s.Silent {
		b.WriteString("      echo readyok\n")
	}
	b.WriteString("      ;;\n")

	b.WriteString("    go*)\n")
	switch {
	case s.ExitOnGo:
		b.WriteString("      exit 3\n")
	default:
		b.WriteString("      if [ $# -gt 0 ]; then\n")
		b.WriteString("        echo \"bestmove $1\"\n")
		b.WriteString("        shift\n")
		if s.Move != "" {
			b.WriteString("      else\n")
			fmt.Fprintf(&b, "        echo %s\n", quote("bestmove "+s.Move))
		}
		b.WriteString("      fi\n")
	}
	b.WriteString("      ;;\n")

	b.WriteString("    quit)\n")
	if !s.IgnoreQuit {
		b.WriteString("      exit 0\n")
	}
	b.WriteString("      ;;\n")

	b.WriteString("  esac\n")
	b.WriteString("done\n")
	return b.String()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
