package usi

import (
	"errors"
	"fmt"
)

var (
	ErrSpawn            = errors.New("engine spawn failed")
	ErrIO               = errors.New("engine io failure")
	ErrStdinUnavailable = fmt.Errorf("%w: engine stdin not available", ErrIO)
	ErrHandshakeTimeout = errors.New("engine handshake timeout")
	ErrCommandTimeout   = errors.New("engine command timeout")
	ErrNotFound         = errors.New("engine not found")
	ErrAmbiguousID      = errors.New("engine id prefix is ambiguous")
	ErrDuplicateID      = errors.New("engine id already registered")
)

// SpawnError reports a process that could not be launched.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn engine %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() []error { return []error{ErrSpawn, e.Err} }

// IOError reports a failed pipe operation on a live session.
type IOError struct {
	EngineID string
	Op       string
	Err      error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("engine %s %s: %v", e.EngineID, e.Op, e.Err)
}

func (e *IOError) Unwrap() []error { return []error{ErrIO, e.Err} }

// HandshakeTimeoutError names the token the handshake gave up waiting for.
type HandshakeTimeoutError struct {
	EngineID string
	Stage    string
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("engine %s: timeout waiting for %s", e.EngineID, e.Stage)
}

func (e *HandshakeTimeoutError) Unwrap() error { return ErrHandshakeTimeout }
