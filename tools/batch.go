package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/m4xw311/agentcli/errors"
	"golang.org/x/sync/errgroup"
)

// runner executes one sub-call. The registry satisfies it.
type runner interface {
	Run(ctx context.Context, call Call) Result
}

// BatchTool runs a list of sub-calls and aggregates their outcomes. A failing
// sub-call is recorded in its entry and never stops the others.
type BatchTool struct {
	env    *env
	runner runner
}

type batchCall struct {
	Tool       string `json:"tool"`
	Parameters Params `json:"parameters"`
}

// BatchEntry is the outcome of one sub-call. Exactly one of Result and Error
// is set.
type BatchEntry struct {
	Tool       string  `json:"tool"`
	Parameters Params  `json:"parameters"`
	Result     Payload `json:"result,omitempty"`
	Error      string  `json:"error,omitempty"`
	Title      string  `json:"-"`
}

func (e BatchEntry) OK() bool { return e.Error == "" }

type BatchResult struct {
	Results []BatchEntry `json:"results"`
}

func (r *BatchResult) Succeeded() int {
	n := 0
	for _, e := range r.Results {
		if e.OK() {
			n++
		}
	}
	return n
}

func (r *BatchResult) Title() string {
	return fmt.Sprintf("Batch execution (%d/%d successful)", r.Succeeded(), len(r.Results))
}

// Output renders every entry in input order followed by a summary line.
func (r *BatchResult) Output() string {
	total := len(r.Results)
	blocks := make([]string, 0, total+1)
	for i, e := range r.Results {
		var b strings.Builder
		fmt.Fprintf(&b, "[%d/%d] %s: %s\n", i+1, total, e.Tool, e.Title)
		switch {
		case !e.OK():
			b.WriteString("error: " + e.Error)
		default:
			if bo, ok := e.Result.(interface{ BatchOutput() string }); ok {
				b.WriteString(bo.BatchOutput())
			} else {
				b.WriteString(e.Result.Output())
			}
		}
		blocks = append(blocks, strings.TrimRight(b.String(), "\n"))
	}
	blocks = append(blocks, fmt.Sprintf("Executed %d/%d tools successfully.", r.Succeeded(), total))
	return strings.Join(blocks, "\n\n")
}

func (t *BatchTool) Kind() Kind   { return KindBatch }
func (t *BatchTool) Name() string { return KindBatch.String() }
func (t *BatchTool) Description() string {
	return "Runs several tools in one call. Args: tool_calls (array of {tool, parameters}). Results are reported in input order; one failing call does not stop the others. Batches cannot be nested."
}

func (t *BatchTool) Title(params Params) string {
	calls, err := parseBatchCalls(params)
	if err != nil {
		return "Batch execution"
	}
	return fmt.Sprintf("Batch execution (%d tools)", len(calls))
}

// EchoInput records the sub-calls under "tools".
func (t *BatchTool) EchoInput(params Params) Params {
	calls, err := parseBatchCalls(params)
	if err != nil {
		return params
	}
	echo := make([]map[string]any, len(calls))
	for i, c := range calls {
		echo[i] = map[string]any{"tool": c.Tool, "parameters": c.Parameters}
	}
	return Params{"tools": echo}
}

func (t *BatchTool) Execute(ctx context.Context, params Params) (Payload, error) {
	calls, err := parseBatchCalls(params)
	if err != nil {
		return nil, err
	}

	results := make([]BatchEntry, len(calls))
	var g errgroup.Group
	g.SetLimit(t.env.batchConcurrency)
	for i, c := range calls {
		g.Go(func() error {
			results[i] = t.runOne(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	res := &BatchResult{Results: results}
	t.env.logger.Debug("batch finished", "total", len(results), "succeeded", res.Succeeded())
	return res, nil
}

func (t *BatchTool) runOne(ctx context.Context, c batchCall) BatchEntry {
	entry := BatchEntry{Tool: c.Tool, Parameters: c.Parameters, Title: c.Tool}
	if ParseKind(c.Tool) == KindBatch {
		entry.Error = "batch cannot be nested inside batch"
		return entry
	}
	r := t.runner.Run(ctx, Call{Name: c.Tool, Params: c.Parameters})
	entry.Title = r.Title
	if r.Err != nil {
		entry.Error = r.Err.Error()
	} else {
		entry.Result = r.Payload
	}
	return entry
}

// parseBatchCalls validates tool_calls. Any malformed shape fails the whole
// batch.
func parseBatchCalls(params Params) ([]batchCall, error) {
	raw, ok := params["tool_calls"]
	if !ok || raw == nil {
		return nil, errors.E(errors.KindBatch, "missing required parameter %q", "tool_calls")
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []map[string]any:
		for _, m := range v {
			items = append(items, m)
		}
	default:
		return nil, errors.E(errors.KindBatch, "parameter %q must be an array", "tool_calls")
	}
	if len(items) == 0 {
		return nil, errors.E(errors.KindBatch, "parameter %q must contain at least one call", "tool_calls")
	}

	calls := make([]batchCall, 0, len(items))
	for i, item := range items {
		m, ok := asMap(item)
		if !ok {
			return nil, errors.E(errors.KindBatch, "tool_calls[%d] must be an object", i)
		}
		name, _ := m["tool"].(string)
		if strings.TrimSpace(name) == "" {
			return nil, errors.E(errors.KindBatch, "tool_calls[%d] is missing 'tool'", i)
		}
		var p Params
		switch pv := m["parameters"].(type) {
		case nil:
			p = Params{}
		case map[string]any:
			p = Params(pv)
		case Params:
			p = pv
		default:
			return nil, errors.E(errors.KindBatch, "tool_calls[%d].parameters must be an object", i)
		}
		calls = append(calls, batchCall{Tool: name, Parameters: p})
	}
	return calls, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Params:
		return m, true
	}
	return nil, false
}
