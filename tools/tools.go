package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/agentcli/config"
	"github.com/m4xw311/agentcli/errors"
	"github.com/m4xw311/agentcli/logging"
)

// Kind is the closed set of tools the registry knows about.
type Kind int

const (
	KindUnknown Kind = iota
	KindBash
	KindRead
	KindEdit
	KindList
	KindGlob
	KindGrep
	KindWebFetch
	KindWebSearch
	KindBatch
	kindEnd
)

var kindNames = [kindEnd]string{
	KindUnknown:   "",
	KindBash:      "bash",
	KindRead:      "read",
	KindEdit:      "edit",
	KindList:      "list",
	KindGlob:      "glob",
	KindGrep:      "grep",
	KindWebFetch:  "webfetch",
	KindWebSearch: "websearch",
	KindBatch:     "batch",
}

func (k Kind) String() string {
	if k <= KindUnknown || k >= kindEnd {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind maps a wire name to its Kind, or KindUnknown.
func ParseKind(name string) Kind {
	for k := KindBash; k < kindEnd; k++ {
		if kindNames[k] == name {
			return k
		}
	}
	return KindUnknown
}

// Kinds lists every known tool kind in registry order.
func Kinds() []Kind {
	out := make([]Kind, 0, int(kindEnd)-1)
	for k := KindBash; k < kindEnd; k++ {
		out = append(out, k)
	}
	return out
}

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Kind() Kind
	Name() string
	Description() string
	// Title is a short human label derived from the primary argument.
	Title(params Params) string
	Execute(ctx context.Context, params Params) (Payload, error)
}

// Payload is the success value of a tool. Output renders it as the string
// carried in event envelopes.
type Payload interface {
	Output() string
}

// titled payloads know a better title than the one derived from params.
type titled interface {
	Title() string
}

// inputEchoer tools rewrite the input recorded for their invocation.
type inputEchoer interface {
	EchoInput(params Params) Params
}

// Call is a single named tool invocation.
type Call struct {
	Name   string
	Params Params
}

// Result is the outcome of one Call. Exactly one of Payload and Err is set.
type Result struct {
	Tool    string
	Title   string
	Input   Params
	Payload Payload
	Err     error
	Start   time.Time
	End     time.Time
}

func (r Result) OK() bool { return r.Err == nil }

// Output is the payload rendering on success and the error message on failure.
func (r Result) Output() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Payload.Output()
}

// ToolRegistry holds one tool per Kind.
type ToolRegistry struct {
	tools [kindEnd]Tool
	cfg   config.Config
	env   *env
}

type Option func(*env)

func WithLogger(l *slog.Logger) Option {
	return func(e *env) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(e *env) {
		if c != nil {
			e.http = c
		}
	}
}

// WithSearcher replaces the web search backend.
func WithSearcher(s Searcher) Option {
	return func(e *env) {
		if s != nil {
			e.searcher = s
		}
	}
}

// NewToolRegistry builds every tool from cfg. Zero values in cfg fall back to
// config defaults.
func NewToolRegistry(cfg config.Config, opts ...Option) *ToolRegistry {
	cfg = cfg.Normalized()
	e := &env{
		workingDir:       cfg.WorkingDir,
		access:           access{hidden: cfg.FilesystemAccess.Hidden, readOnly: cfg.FilesystemAccess.ReadOnly},
		flags:            cfg.Flags,
		logger:           logging.Discard(),
		http:             &http.Client{},
		bashTimeout:      cfg.Bash.Timeout,
		fetchTimeout:     cfg.WebFetch.Timeout,
		batchConcurrency: cfg.Batch.Concurrency,
		searchResults:    cfg.WebSearch.NumResults,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.searcher == nil {
		e.searcher = NewExaSearcher(cfg.WebSearch.Endpoint, cfg.WebSearch.Timeout)
	}
	e.access.root = e.workingDir

	r := &ToolRegistry{cfg: cfg, env: e}
	for _, k := range Kinds() {
		r.tools[k] = newTool(k, e, r)
	}
	return r
}

// newTool is the single place that maps a Kind to its implementation.
func newTool(k Kind, e *env, r *ToolRegistry) Tool {
	switch k {
	case KindBash:
		return &BashTool{env: e}
	case KindRead:
		return &ReadFileTool{env: e}
	case KindEdit:
		return &EditFileTool{env: e}
	case KindList:
		return &ListTool{env: e}
	case KindGlob:
		return &GlobTool{env: e}
	case KindGrep:
		return &GrepTool{env: e}
	case KindWebFetch:
		return &WebFetchTool{env: e}
	case KindWebSearch:
		return &WebSearchTool{env: e}
	case KindBatch:
		return &BatchTool{env: e, runner: r}
	}
	return nil
}

// Resolve returns the tool registered under name.
func (r *ToolRegistry) Resolve(name string) (Tool, error) {
	k := ParseKind(name)
	if k == KindUnknown {
		return nil, errors.E(errors.KindUnknownTool, "unknown tool: %s", name)
	}
	if !r.cfg.ToolAllowed(name) {
		return nil, errors.E(errors.KindUnknownTool, "tool '%s' is not enabled", name)
	}
	return r.tools[k], nil
}

// All returns every tool in registry order.
func (r *ToolRegistry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, k := range Kinds() {
		out = append(out, r.tools[k])
	}
	return out
}

// Run resolves and executes call. It never panics and never returns a
// Result with both or neither of Payload and Err set.
func (r *ToolRegistry) Run(ctx context.Context, call Call) Result {
	res := Result{Tool: call.Name, Title: call.Name, Input: call.Params, Start: time.Now()}
	if res.Input == nil {
		res.Input = Params{}
	}

	tool, err := r.Resolve(call.Name)
	if err != nil {
		res.Err = err
		res.End = time.Now()
		return res
	}

	res.Title = tool.Title(res.Input)
	if echo, ok := tool.(inputEchoer); ok {
		res.Input = echo.EchoInput(res.Input)
	}

	r.env.logger.Debug("executing tool", "tool", call.Name, "title", res.Title)
	res.Payload, res.Err = safeExecute(ctx, tool, call.Params)
	res.End = time.Now()

	if t, ok := res.Payload.(titled); ok && res.Err == nil {
		res.Title = t.Title()
	}
	if res.Err != nil {
		r.env.logger.Info("tool failed", "tool", call.Name, "error", res.Err.Error(), "duration", res.End.Sub(res.Start))
	} else {
		r.env.logger.Info("tool completed", "tool", call.Name, "duration", res.End.Sub(res.Start))
	}
	return res
}

func safeExecute(ctx context.Context, tool Tool, params Params) (p Payload, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p = nil
			err = errors.New("tool '%s' panicked: %v", tool.Name(), rec)
		}
	}()
	if params == nil {
		params = Params{}
	}
	p, err = tool.Execute(ctx, params)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("tool '%s' returned no result", tool.Name())
	}
	return p, nil
}

// Params are the decoded JSON parameters of a call.
type Params map[string]any

// String returns the value under key when it is a string.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Require returns a non-empty string parameter.
func (p Params) Require(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", errors.New("missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.New("parameter %q must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return "", errors.New("missing required parameter %q", key)
	}
	return s, nil
}

// StringOr returns the string under key, or def when absent or empty.
func (p Params) StringOr(key, def string) string {
	if s, ok := p.String(key); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return def
}

func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Int accepts JSON numbers (float64) as well as Go ints.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// env is the state shared by every tool built from one registry.
type env struct {
	workingDir       string
	access           access
	flags            config.Flags
	logger           *slog.Logger
	http             *http.Client
	searcher         Searcher
	bashTimeout      time.Duration
	fetchTimeout     time.Duration
	batchConcurrency int
	searchResults    int
}

// resolve makes p absolute relative to the working directory.
func (e *env) resolve(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(e.workingDir, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errors.Wrapf(err, "could not resolve path '%s'", p)
	}
	return abs, nil
}

// access applies the filesystem_access patterns.
type access struct {
	root     string
	hidden   []string
	readOnly []string
}

// rel returns abs relative to the working directory with forward slashes,
// or abs itself when it lies outside.
func (a access) rel(abs string) string {
	root, err := filepath.Abs(a.root)
	if err == nil {
		if r, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(r, "..") {
			return filepath.ToSlash(r)
		}
	}
	return filepath.ToSlash(abs)
}

func (a access) isHidden(abs string) (bool, error) {
	return isPathRestricted(a.rel(abs), a.hidden)
}

func (a access) checkRead(display, abs string) error {
	hidden, err := a.isHidden(abs)
	if err != nil {
		return err
	}
	if hidden {
		return errors.New("access denied: path '%s' is hidden", display)
	}
	return nil
}

func (a access) checkWrite(display, abs string) error {
	if err := a.checkRead(display, abs); err != nil {
		return err
	}
	readOnly, err := isPathRestricted(a.rel(abs), a.readOnly)
	if err != nil {
		return err
	}
	if readOnly {
		return errors.New("access denied: path '%s' is read-only", display)
	}
	return nil
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// jsonOutput renders payloads that have no natural text form.
func jsonOutput(v any) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSuffix(b.String(), "\n")
}
