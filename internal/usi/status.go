package usi

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Status is the lifecycle state of an engine session.
type Status int32

const (
	StatusStarting Status = iota
	StatusReady
	StatusThinking
	StatusError
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusReady:
		return "ready"
	case StatusThinking:
		return "thinking"
	case StatusError:
		return "error"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// statusCell is the per-session status shared between the reader, the
// watchdog and callers. Stopped is terminal.
type statusCell struct {
	v atomic.Int32
}

func (c *statusCell) load() Status { return Status(c.v.Load()) }

// set stores s unless the session is already stopped. It reports whether the
// value was stored.
func (c *statusCell) set(s Status) bool {
	for {
		cur := c.v.Load()
		if Status(cur) == StatusStopped {
			return false
		}
		if c.v.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

func (c *statusCell) forceStopped() { c.v.Store(int32(StatusStopped)) }
