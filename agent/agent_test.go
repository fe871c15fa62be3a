package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/agentcli/config"
	"github.com/m4xw311/agentcli/event"
	"github.com/m4xw311/agentcli/llm"
	"github.com/m4xw311/agentcli/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, format string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.WorkingDir = t.TempDir()
	cfg.Format = format
	return cfg
}

func runSimple(t *testing.T, a *Agent, input string) map[string]any {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, a.Run(context.Background(), []byte(input), &out))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	return resp
}

func runStream(t *testing.T, a *Agent, input string) []map[string]any {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, a.Run(context.Background(), []byte(input), &out))
	var events []map[string]any
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev), sc.Text())
		events = append(events, ev)
	}
	return events
}

func TestParseRequest(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  Request
	}{
		{"message only", `{"message":"hi"}`, Request{Message: "hi"}},
		{"plain text", "  not valid json \n", Request{Message: "not valid json"}},
		{"empty input", "", Request{Message: "hi"}},
		{"empty object", `{}`, Request{Message: "hi"}},
		{"json array", `[1,2]`, Request{Message: "[1,2]"}},
		{"json string", `"quoted"`, Request{Message: `"quoted"`}},
		{"non string message", `{"message":42}`, Request{Message: "42"}},
		{"tools", `{"message":"m","tools":[{"name":"read","params":{"filePath":"a"}},{"name":"bash"}]}`, Request{
			Message: "m",
			Tools: []ToolRequest{
				{Name: "read", Params: map[string]any{"filePath": "a"}},
				{Name: "bash", Params: map[string]any{}},
			},
		}},
		{"tools not array", `{"message":"m","tools":"bash"}`, Request{Message: "m"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseRequest([]byte(tc.input)))
		})
	}
}

func TestSimpleMessageOnly(t *testing.T) {
	a := New(testConfig(t, config.FormatSimple))
	assert.Equal(t, StateAwaitingRequest, a.State())

	resp := runSimple(t, a, `{"message":"hi"}`)
	assert.Equal(t, `Hello! You said: "hi"`, resp["response"])
	assert.Equal(t, config.DefaultModel, resp["model"])
	assert.IsType(t, float64(0), resp["timestamp"])
	_, has := resp["toolResults"]
	assert.False(t, has)
	assert.Equal(t, StateDone, a.State())
}

func TestSimpleReadTool(t *testing.T) {
	cfg := testConfig(t, config.FormatSimple)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkingDir, "test-file.txt"), []byte("Hello World\n"), 0o644))
	a := New(cfg)

	resp := runSimple(t, a, `{"message":"test","tools":[{"name":"read","params":{"filePath":"test-file.txt"}}]}`)
	results := resp["toolResults"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, map[string]any{
		"tool":   "read",
		"result": map[string]any{"content": "Hello World\n"},
	}, results[0])
}

func TestSimpleUnknownToolIsPerCallError(t *testing.T) {
	a := New(testConfig(t, config.FormatSimple))
	resp := runSimple(t, a, `{"message":"x","tools":[{"name":"teleport","params":{}},{"name":"bash","params":{"command":"echo ok"}}]}`)

	results := resp["toolResults"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "teleport", first["tool"])
	assert.Contains(t, first["error"], "unknown tool: teleport")
	_, hasResult := first["result"]
	assert.False(t, hasResult)

	second := results[1].(map[string]any)
	assert.Equal(t, map[string]any{"stdout": "ok\n", "stderr": "", "code": float64(0)}, second["result"])
}

func TestMalformedInputBecomesMessage(t *testing.T) {
	a := New(testConfig(t, config.FormatSimple))
	resp := runSimple(t, a, "not valid json")
	assert.Equal(t, `Hello! You said: "not valid json"`, resp["response"])
}

func TestStreamBatch(t *testing.T) {
	a := New(testConfig(t, config.FormatStream))
	input := `{"message":"run","tools":[{"name":"batch","params":{"tool_calls":[
		{"tool":"bash","parameters":{"command":"echo hello"}},
		{"tool":"bash","parameters":{"command":"echo world"}}]}}]}`
	events := runStream(t, a, input)
	require.Len(t, events, 2)

	ev := events[0]
	assert.Equal(t, "tool_use", ev["type"])
	assert.True(t, strings.HasPrefix(ev["sessionID"].(string), "ses_"))
	part := ev["part"].(map[string]any)
	assert.Equal(t, "batch", part["tool"])
	assert.True(t, strings.HasPrefix(part["messageID"].(string), "msg_"))
	state := part["state"].(map[string]any)
	assert.Equal(t, "completed", state["status"])
	assert.Equal(t, "Batch execution (2/2 successful)", state["title"])
	assert.Len(t, state["input"].(map[string]any)["tools"], 2)
	assert.Contains(t, state["output"], "hello")
	assert.Contains(t, state["output"], "world")
	tm := state["time"].(map[string]any)
	assert.GreaterOrEqual(t, tm["end"].(float64), tm["start"].(float64))

	text := events[1]
	assert.Equal(t, "text", text["type"])
	assert.Equal(t, ev["sessionID"], text["sessionID"])
	assert.Equal(t, `Hello! You said: "run"`, text["part"].(map[string]any)["text"])
}

func TestStreamMalformedBatchHasErrorStatus(t *testing.T) {
	a := New(testConfig(t, config.FormatStream))
	events := runStream(t, a, `{"message":"m","tools":[{"name":"batch","params":{"tool_calls":"nope"}}]}`)
	require.Len(t, events, 2)
	state := events[0]["part"].(map[string]any)["state"].(map[string]any)
	assert.Equal(t, "error", state["status"])
	assert.Contains(t, state["output"], "tool_calls")
}

func TestStreamSharesSessionAcrossEvents(t *testing.T) {
	a := New(testConfig(t, config.FormatStream))
	events := runStream(t, a, `{"message":"m","tools":[{"name":"list","params":{}},{"name":"glob","params":{"pattern":"*"}}]}`)
	require.Len(t, events, 3)
	p0 := events[0]["part"].(map[string]any)
	p1 := events[1]["part"].(map[string]any)
	assert.Equal(t, p0["sessionID"], p1["sessionID"])
	assert.Equal(t, p0["messageID"], p1["messageID"])
	assert.NotEqual(t, p0["callID"], p1["callID"])
	assert.Equal(t, "list", p0["tool"])
	assert.Equal(t, "glob", p1["tool"])
}

type hookRecorder struct {
	plugin.Noop
	events []string
}

func (h *hookRecorder) Trigger(_ context.Context, name string, payload map[string]any) error {
	h.events = append(h.events, fmt.Sprintf("%s:%v", name, payload["tool"]))
	return fmt.Errorf("hooks are best effort")
}

type sinkRecorder struct{ events []event.ToolEvent }

func (s *sinkRecorder) Record(_ context.Context, ev event.ToolEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func TestHooksAndSinks(t *testing.T) {
	hooks := &hookRecorder{}
	sink := &sinkRecorder{}
	a := New(testConfig(t, config.FormatSimple), WithPlugins(hooks), WithSink(sink))

	runSimple(t, a, `{"message":"m","tools":[{"name":"bash","params":{"command":"true"}},{"name":"nope"}]}`)
	assert.Equal(t, []string{
		plugin.EventToolBefore + ":bash",
		plugin.EventToolAfter + ":bash",
		plugin.EventToolBefore + ":nope",
		plugin.EventToolAfter + ":nope",
	}, hooks.events)
	require.Len(t, sink.events, 2)
	assert.Equal(t, event.StatusCompleted, sink.events[0].Part.State.Status)
	assert.Equal(t, event.StatusError, sink.events[1].Part.State.Status)
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, string, llm.Context) (string, error) {
	return "", fmt.Errorf("model unavailable")
}

func TestGeneratorFailureIsTopLevel(t *testing.T) {
	a := New(testConfig(t, config.FormatSimple), WithGenerator(failingGenerator{}))
	err := a.Run(context.Background(), []byte("hi"), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestSessionRecordsConversation(t *testing.T) {
	a := New(testConfig(t, config.FormatSimple), WithClock(func() time.Time { return time.UnixMilli(1234) }))
	resp := runSimple(t, a, `{"message":"hello"}`)
	assert.EqualValues(t, 1234, resp["timestamp"])

	msgs := a.Session().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
}
