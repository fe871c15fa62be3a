// Package llm isolates response generation from tool dispatch. Only the echo
// generator exists; a model-backed Generator plugs in behind the same
// interface.
package llm

import (
	"context"
	"fmt"

	"github.com/m4xw311/agentcli/session"
)

// Context is what a Generator may use besides the user's message.
type Context struct {
	Model   string
	History []session.Message
	// ToolOutputs holds "<tool>: <output>" lines of the calls made for this
	// request, in order.
	ToolOutputs []string
}

// Generator produces the assistant's response text.
type Generator interface {
	Generate(ctx context.Context, message string, gc Context) (string, error)
}

// EchoGenerator repeats the user's message back.
type EchoGenerator struct{}

func (EchoGenerator) Generate(ctx context.Context, message string, _ Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Hello! You said: \"%s\"", message), nil
}

// New returns the generator used for model. Every model currently maps to
// the echo generator.
func New(model string) Generator {
	return EchoGenerator{}
}
