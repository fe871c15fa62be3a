package agent

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/m4xw311/agentcli/config"
	"github.com/m4xw311/agentcli/errors"
	"github.com/m4xw311/agentcli/event"
	"github.com/m4xw311/agentcli/llm"
	"github.com/m4xw311/agentcli/logging"
	"github.com/m4xw311/agentcli/plugin"
	"github.com/m4xw311/agentcli/session"
	"github.com/m4xw311/agentcli/share"
	"github.com/m4xw311/agentcli/tools"
)

// State is the dispatch loop's position.
type State int

const (
	StateAwaitingRequest State = iota
	StateDispatching
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingRequest:
		return "awaiting-request"
	case StateDispatching:
		return "dispatching"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// ToolOutcome is one entry of Response.ToolResults.
type ToolOutcome struct {
	Tool   string        `json:"tool"`
	Result tools.Payload `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Response is the simple-format output.
type Response struct {
	Response    string        `json:"response"`
	Model       string        `json:"model"`
	Timestamp   int64         `json:"timestamp"`
	ToolResults []ToolOutcome `json:"toolResults,omitempty"`
}

// Agent serves exactly one request.
type Agent struct {
	cfg       config.Config
	registry  *tools.ToolRegistry
	generator llm.Generator
	plugins   plugin.Provider
	sharer    share.Sharer
	session   *session.Session
	sinks     []event.Sink
	logger    *slog.Logger
	now       func() time.Time
	state     State
}

type Option func(*Agent)

func WithGenerator(g llm.Generator) Option {
	return func(a *Agent) {
		if g != nil {
			a.generator = g
		}
	}
}

func WithPlugins(p plugin.Provider) Option {
	return func(a *Agent) {
		if p != nil {
			a.plugins = p
		}
	}
}

func WithSharer(s share.Sharer) Option {
	return func(a *Agent) {
		if s != nil {
			a.sharer = s
		}
	}
}

// WithSink adds an observer of every tool event, in both output formats.
func WithSink(s event.Sink) Option {
	return func(a *Agent) {
		if s != nil {
			a.sinks = append(a.sinks, s)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithRegistry(r *tools.ToolRegistry) Option {
	return func(a *Agent) {
		if r != nil {
			a.registry = r
		}
	}
}

func WithSession(s *session.Session) Option {
	return func(a *Agent) {
		if s != nil {
			a.session = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// New builds an Agent. Collaborators default to the echo generator, no
// plugins and no sharing.
func New(cfg config.Config, opts ...Option) *Agent {
	a := &Agent{
		cfg:     cfg.Normalized(),
		plugins: plugin.Noop{},
		sharer:  share.Unsupported{},
		logger:  logging.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.generator == nil {
		a.generator = llm.New(a.cfg.Model)
	}
	if a.session == nil {
		a.session = session.New()
	}
	if a.registry == nil {
		a.registry = tools.NewToolRegistry(a.cfg, tools.WithLogger(a.logger))
	}
	return a
}

func (a *Agent) State() State                  { return a.state }
func (a *Agent) Session() *session.Session     { return a.session }
func (a *Agent) Registry() *tools.ToolRegistry { return a.registry }

// Run parses raw, dispatches it and writes the configured format to w.
func (a *Agent) Run(ctx context.Context, raw []byte, w io.Writer) error {
	req := ParseRequest(raw)
	if a.cfg.Format == config.FormatStream {
		return a.Stream(ctx, req, w)
	}
	resp, err := a.Process(ctx, req)
	if err != nil {
		return err
	}
	data, err := event.Marshal(resp)
	if err != nil {
		return errors.WrapKind(errors.KindTopLevel, err, "failed to encode response")
	}
	if _, err := w.Write(data); err != nil {
		return errors.WrapKind(errors.KindTopLevel, err, "failed to write response")
	}
	return nil
}

// Process handles req in the simple format.
func (a *Agent) Process(ctx context.Context, req Request) (Response, error) {
	msg := a.begin(req)
	em := a.emitter(nil, msg.ID)

	var outcomes []ToolOutcome
	results, err := a.dispatch(ctx, req, em)
	if err != nil {
		return Response{}, err
	}
	for _, r := range results {
		o := ToolOutcome{Tool: r.Tool}
		if r.OK() {
			o.Result = r.Payload
		} else {
			o.Error = r.Err.Error()
		}
		outcomes = append(outcomes, o)
	}

	text, err := a.respond(ctx, req, results)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Response:    text,
		Model:       a.cfg.Model,
		Timestamp:   a.now().UnixMilli(),
		ToolResults: outcomes,
	}, nil
}

// Stream handles req in the stream format: one tool_use event per call as
// it completes, then the response text event.
func (a *Agent) Stream(ctx context.Context, req Request, w io.Writer) error {
	msg := a.begin(req)
	em := a.emitter(w, msg.ID)

	results, err := a.dispatch(ctx, req, em)
	if err != nil {
		return err
	}
	start := a.now()
	text, err := a.respond(ctx, req, results)
	if err != nil {
		return err
	}
	_, err = em.EmitText(text, start, a.now())
	return err
}

func (a *Agent) begin(req Request) session.Message {
	a.state = StateDispatching
	a.logger.Info("processing request", "session", a.session.ID, "tools", len(req.Tools), "format", a.cfg.Format)
	return a.session.AddMessage(session.Message{Role: "user", Content: req.Message})
}

func (a *Agent) emitter(w io.Writer, messageID string) *event.Emitter {
	opts := []event.Option{event.WithLogger(a.logger), event.WithClock(a.now)}
	for _, s := range a.sinks {
		opts = append(opts, event.WithSink(s))
	}
	return event.NewEmitter(w, a.session, messageID, opts...)
}

// dispatch runs the requested tools in order. Tool failures are recorded in
// the results; only an output failure stops the loop.
func (a *Agent) dispatch(ctx context.Context, req Request, em *event.Emitter) ([]tools.Result, error) {
	results := make([]tools.Result, 0, len(req.Tools))
	for _, tr := range req.Tools {
		a.trigger(ctx, plugin.EventToolBefore, map[string]any{
			"tool":      tr.Name,
			"sessionID": a.session.ID,
			"args":      map[string]any(tr.Params),
		})

		res := a.registry.Run(ctx, tools.Call{Name: tr.Name, Params: tr.Params})
		ev, err := em.EmitTool(ctx, res)
		if err != nil {
			return nil, err
		}

		a.trigger(ctx, plugin.EventToolAfter, map[string]any{
			"tool":      tr.Name,
			"sessionID": a.session.ID,
			"callID":    ev.Part.CallID,
			"title":     ev.Part.State.Title,
			"status":    ev.Part.State.Status,
			"output":    ev.Part.State.Output,
		})
		results = append(results, res)
	}
	return results, nil
}

func (a *Agent) trigger(ctx context.Context, name string, payload map[string]any) {
	if err := a.plugins.Trigger(ctx, name, payload); err != nil {
		a.logger.Warn("plugin trigger failed", "event", name, "error", err)
	}
}

func (a *Agent) respond(ctx context.Context, req Request, results []tools.Result) (string, error) {
	gc := llm.Context{Model: a.cfg.Model, History: a.session.Messages}
	for _, r := range results {
		gc.ToolOutputs = append(gc.ToolOutputs, r.Tool+": "+r.Output())
	}
	text, err := a.generator.Generate(ctx, req.Message, gc)
	if err != nil {
		return "", errors.WrapKind(errors.KindTopLevel, err, "failed to generate response")
	}
	a.session.AddMessage(session.Message{Role: "assistant", Content: text})

	if err := a.sharer.Sync(ctx, a.session.ID); err != nil {
		a.logger.Debug("session sync failed", "session", a.session.ID, "error", err)
	}
	a.state = StateDone
	return text, nil
}
