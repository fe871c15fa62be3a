// Package event builds and writes the newline-delimited JSON events of the
// streaming output format.
package event

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/m4xw311/agentcli/errors"
	"github.com/m4xw311/agentcli/logging"
	"github.com/m4xw311/agentcli/session"
	"github.com/m4xw311/agentcli/tools"
)

const (
	TypeToolUse = "tool_use"
	TypeText    = "text"

	StatusCompleted = "completed"
	StatusError     = "error"
)

type Time struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type ToolState struct {
	Status string         `json:"status"`
	Title  string         `json:"title"`
	Input  map[string]any `json:"input"`
	Output string         `json:"output"`
	Time   Time           `json:"time"`
}

type ToolPart struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionID"`
	MessageID string    `json:"messageID"`
	Type      string    `json:"type"`
	CallID    string    `json:"callID"`
	Tool      string    `json:"tool"`
	State     ToolState `json:"state"`
}

// ToolEvent is one completed tool invocation.
type ToolEvent struct {
	Type      string   `json:"type"`
	Timestamp int64    `json:"timestamp"`
	SessionID string   `json:"sessionID"`
	Part      ToolPart `json:"part"`
}

type TextPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	Time      Time   `json:"time"`
}

// TextEvent carries the assistant's response text.
type TextEvent struct {
	Type      string   `json:"type"`
	Timestamp int64    `json:"timestamp"`
	SessionID string   `json:"sessionID"`
	Part      TextPart `json:"part"`
}

// Sink observes every tool event the Emitter writes.
type Sink interface {
	Record(ctx context.Context, ev ToolEvent) error
}

type flusher interface {
	Flush() error
}

// Emitter writes events for one request. Writes are serialized and flushed
// line by line.
type Emitter struct {
	mu        sync.Mutex
	w         io.Writer
	session   *session.Session
	messageID string
	sinks     []Sink
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Emitter)

func WithSink(s Sink) Option {
	return func(e *Emitter) {
		if s != nil {
			e.sinks = append(e.sinks, s)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEmitter returns an Emitter for the request identified by messageID.
// w may be nil when only sinks are interested in events.
func NewEmitter(w io.Writer, sess *session.Session, messageID string, opts ...Option) *Emitter {
	e := &Emitter{
		w:         w,
		session:   sess,
		messageID: messageID,
		logger:    logging.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emitter) SessionID() string { return e.session.ID }
func (e *Emitter) MessageID() string { return e.messageID }

// NewToolEvent builds the envelope for r with fresh part and call IDs.
func (e *Emitter) NewToolEvent(r tools.Result) ToolEvent {
	start, end := r.Start.UnixMilli(), r.End.UnixMilli()
	if end < start {
		end = start
	}
	status := StatusCompleted
	if !r.OK() {
		status = StatusError
	}
	input := map[string]any(r.Input)
	if input == nil {
		input = map[string]any{}
	}
	return ToolEvent{
		Type:      TypeToolUse,
		Timestamp: e.now().UnixMilli(),
		SessionID: e.session.ID,
		Part: ToolPart{
			ID:        e.session.NewID(session.PrefixPart),
			SessionID: e.session.ID,
			MessageID: e.messageID,
			Type:      "tool",
			CallID:    e.session.NewID(session.PrefixCall),
			Tool:      r.Tool,
			State: ToolState{
				Status: status,
				Title:  r.Title,
				Input:  input,
				Output: r.Output(),
				Time:   Time{Start: start, End: end},
			},
		},
	}
}

// EmitTool writes the event for r and hands it to every sink.
func (e *Emitter) EmitTool(ctx context.Context, r tools.Result) (ToolEvent, error) {
	ev := e.NewToolEvent(r)
	if err := e.write(ev); err != nil {
		return ev, err
	}
	for _, s := range e.sinks {
		if err := s.Record(ctx, ev); err != nil {
			e.logger.Warn("event sink failed", "callID", ev.Part.CallID, "error", err)
		}
	}
	return ev, nil
}

// EmitText writes the response text event.
func (e *Emitter) EmitText(text string, start, end time.Time) (TextEvent, error) {
	s, f := start.UnixMilli(), end.UnixMilli()
	if f < s {
		f = s
	}
	ev := TextEvent{
		Type:      TypeText,
		Timestamp: e.now().UnixMilli(),
		SessionID: e.session.ID,
		Part: TextPart{
			ID:        e.session.NewID(session.PrefixPart),
			SessionID: e.session.ID,
			MessageID: e.messageID,
			Type:      "text",
			Text:      text,
			Time:      Time{Start: s, End: f},
		},
	}
	return ev, e.write(ev)
}

func (e *Emitter) write(v any) error {
	if e.w == nil {
		return nil
	}
	data, err := Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode event")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return errors.WrapKind(errors.KindTopLevel, err, "failed to write event")
	}
	if f, ok := e.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return errors.WrapKind(errors.KindTopLevel, err, "failed to flush event")
		}
	}
	return nil
}

// Marshal encodes v as one JSON line without HTML escaping.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
