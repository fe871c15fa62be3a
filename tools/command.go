package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/m4xw311/agentcli/errors"
)

const (
	bashMaxTimeout = 10 * time.Minute
	bashMinTimeout = time.Second
	bashWaitDelay  = 2 * time.Second

	// TimeoutExitCode is reported when the command was killed by its timeout.
	TimeoutExitCode = -1
)

// BashTool runs a command through the shell. A non-zero exit status is a
// successful invocation; only failing to run the command at all is an error.
type BashTool struct {
	env *env
}

type BashResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Code   int    `json:"code"`

	command string
}

// Output joins stdout and stderr.
func (r *BashResult) Output() string {
	out := r.Stdout
	if r.Stderr != "" {
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += r.Stderr
	}
	return out
}

// BatchOutput is the block used inside batch output, annotated with the
// command and its exit code.
func (r *BashResult) BatchOutput() string {
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\n", r.command)
	if r.Stdout != "" {
		b.WriteString(r.Stdout)
		if !strings.HasSuffix(r.Stdout, "\n") {
			b.WriteString("\n")
		}
	}
	if r.Stderr != "" {
		b.WriteString("stderr:\n")
		b.WriteString(r.Stderr)
		if !strings.HasSuffix(r.Stderr, "\n") {
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "exit code: %d", r.Code)
	return b.String()
}

func (t *BashTool) Kind() Kind   { return KindBash }
func (t *BashTool) Name() string { return KindBash.String() }
func (t *BashTool) Description() string {
	return "Executes a shell command. Args: command (string), description (string, optional), timeout (milliseconds, optional)."
}

func (t *BashTool) Title(params Params) string {
	if d := params.StringOr("description", ""); d != "" {
		return d
	}
	return params.StringOr("command", t.Name())
}

func (t *BashTool) Execute(ctx context.Context, params Params) (Payload, error) {
	command, err := params.Require("command")
	if err != nil {
		return nil, err
	}

	timeout := t.env.bashTimeout
	if ms := params.Int("timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	timeout = min(max(timeout, bashMinTimeout), bashMaxTimeout)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := "bash"
	if _, err := exec.LookPath(shell); err != nil {
		shell = "sh"
	}
	cmd := exec.CommandContext(runCtx, shell, "-c", command)
	cmd.Dir = t.env.workingDir
	cmd.WaitDelay = bashWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := &BashResult{Stdout: stdout.String(), Stderr: stderr.String(), command: command}
	if runErr == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		return nil, errors.Wrapf(ctx.Err(), "command '%s' was cancelled", command)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Code = TimeoutExitCode
		if res.Stderr != "" && !strings.HasSuffix(res.Stderr, "\n") {
			res.Stderr += "\n"
		}
		res.Stderr += fmt.Sprintf("command terminated after exceeding timeout %s", timeout)
		return res, nil
	case errors.As(runErr, &exitErr):
		res.Code = exitErr.ExitCode()
		return res, nil
	case errors.Is(runErr, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		// A background child kept the pipes open after the shell exited.
		res.Code = cmd.ProcessState.ExitCode()
		return res, nil
	default:
		return nil, errors.Wrapf(runErr, "failed to run command '%s'", command)
	}
}
