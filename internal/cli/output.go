package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // engine unhealthy, probe failed
	ExitCommandError = 2 // bad flags, unreadable config
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func wrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Anything that is not an
// ExitError maps to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string `json:"status"` // "ok" or "error"
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// outputFormatter renders results as JSON or text.
type outputFormatter struct {
	format string
	w      io.Writer
}

func newFormatter(opts *RootOptions, w io.Writer) *outputFormatter {
	return &outputFormatter{format: opts.Format, w: w}
}

func (f *outputFormatter) json() bool { return f.format == "json" }

// success writes data. text renders the human form and is skipped in JSON mode.
func (f *outputFormatter) success(data any, text func(io.Writer)) error {
	if f.json() {
		return f.encode(Response{Status: "ok", Data: data})
	}
	text(f.w)
	return nil
}

// failure reports err in the configured format and returns it with code.
func (f *outputFormatter) failure(code int, message string, err error) error {
	exitErr := wrapExitError(code, message, err)
	if f.json() {
		if encErr := f.encode(Response{Status: "error", Error: exitErr.Error()}); encErr != nil {
			return encErr
		}
	}
	return exitErr
}

func (f *outputFormatter) encode(v any) error {
	enc := json.NewEncoder(f.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
