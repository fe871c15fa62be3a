package agent

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/m4xw311/agentcli/tools"
)

// DefaultMessage is used when the request carries no message.
const DefaultMessage = "hi"

type ToolRequest struct {
	Name   string       `json:"name"`
	Params tools.Params `json:"params"`
}

// Request is one parsed stdin request.
type Request struct {
	Message string        `json:"message"`
	Tools   []ToolRequest `json:"tools,omitempty"`
}

// ParseRequest never fails: input that is not a JSON object becomes the
// message itself.
func ParseRequest(raw []byte) Request {
	trimmed := bytes.TrimSpace(raw)

	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil || obj == nil {
		return Request{Message: orDefault(string(trimmed))}
	}

	req := Request{Message: orDefault(messageOf(obj["message"]))}
	list, ok := obj["tools"].([]any)
	if !ok {
		return req
	}
	for _, item := range list {
		var tr ToolRequest
		if m, ok := item.(map[string]any); ok {
			tr.Name, _ = m["name"].(string)
			if p, ok := m["params"].(map[string]any); ok {
				tr.Params = tools.Params(p)
			}
		}
		if tr.Params == nil {
			tr.Params = tools.Params{}
		}
		req.Tools = append(req.Tools, tr)
	}
	return req
}

func messageOf(v any) string {
	switch m := v.(type) {
	case nil:
		return ""
	case string:
		return m
	case bool:
		if !m {
			return ""
		}
	case float64:
		if m == 0 {
			return ""
		}
	}
	return fmt.Sprint(v)
}

func orDefault(msg string) string {
	if msg == "" {
		return DefaultMessage
	}
	return msg
}
