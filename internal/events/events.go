// Package events carries engine output and match progress to external observers.
// Emission is fire-and-forget: protocol code calls Publish, which logs sink
// failures instead of returning them.
package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/park285/usi-supervisor/internal/obslog"
	"go.uber.org/zap"
)

const (
	TopicMatchUpdate = "engine-vs-engine-update"
	TopicMatchMove   = "engine-vs-engine-move"
	TopicMatchResult = "engine-vs-engine-result"

	engineMessagePrefix = "usi-message::"
	engineErrorPrefix   = "usi-error::"
)

// EngineMessageTopic is the topic carrying raw stdout lines of one engine.
func EngineMessageTopic(engineID string) string { return engineMessagePrefix + engineID }

// EngineErrorTopic is the topic carrying stderr lines and death notices of one engine.
func EngineErrorTopic(engineID string) string { return engineErrorPrefix + engineID }

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, topic string, payload any) error
}

// Event is the envelope serialized by sinks that leave the process.
type Event struct {
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Publish emits on sink and logs failures. A nil sink is a no-op.
func Publish(ctx context.Context, sink Sink, topic string, payload any) {
	if sink == nil {
		return
	}
	if err := sink.Emit(ctx, topic, payload); err != nil {
		obslog.L().Warn("event_emit_failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, string, any) error { return nil }

// LogSink writes events to the global logger at debug level.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, topic string, payload any) error {
	obslog.L().Debug("event", zap.String("topic", topic), zap.Any("payload", payload))
	return nil
}

// Fanout delivers every event to all of its sinks and joins their errors.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, topic string, payload any) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every event in memory. Used by tests and the CLI transcript.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Emit(_ context.Context, topic string, payload any) error {
	r.mu.Lock()
	r.events = append(r.events, Event{Topic: topic, Payload: payload, At: time.Now()})
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ByTopic returns the recorded payloads for one topic, in emission order.
func (r *Recorder) ByTopic(topic string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, ev := range r.events {
		if ev.Topic == topic {
			out = append(out, ev.Payload)
		}
	}
	return out
}

// WaitFor blocks until an event on topic matching pred is recorded or ctx ends.
func (r *Recorder) WaitFor(ctx context.Context, topic string, pred func(any) bool) (any, error) {
	for {
		for _, p := range r.ByTopic(topic) {
			if pred == nil || pred(p) {
				return p, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.notify:
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// Filter forwards only topics starting with one of Prefixes.
type Filter struct {
	Sink     Sink
	Prefixes []string
}

func (f Filter) Emit(ctx context.Context, topic string, payload any) error {
	for _, p := range f.Prefixes {
		if strings.HasPrefix(topic, p) {
			return f.Sink.Emit(ctx, topic, payload)
		}
	}
	return nil
}
