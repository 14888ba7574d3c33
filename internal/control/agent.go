// Package control dispatches PTZ and privacy commands to the external
// camera control agent
package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrAgentTimeout is returned when the agent does not finish in time
var ErrAgentTimeout = errors.New("control agent timed out")

// Agent runs one control command for a camera and returns its raw output
type Agent interface {
	Invoke(ctx context.Context, cameraID string, args ...string) ([]byte, error)
}

// AgentError is a control agent that ran but failed
type AgentError struct {
	CameraID string
	Args     []string
	Stderr   string
	Err      error
}

func (e *AgentError) Error() string {
	msg := fmt.Sprintf("control agent failed for %s %s: %v", e.CameraID, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// ExecAgent runs the agent as a child process. Arguments are passed as
// argv entries; no shell is involved.
type ExecAgent struct {
	command string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecAgent creates an agent for the given executable
func NewExecAgent(command string, timeout time.Duration) *ExecAgent {
	return &ExecAgent{
		command: command,
		timeout: timeout,
		logger:  slog.Default().With("component", "control-agent"),
	}
}

// Invoke runs `command cameraID args...` and returns stdout
func (a *ExecAgent) Invoke(ctx context.Context, cameraID string, args ...string) ([]byte, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	argv := append([]string{cameraID}, args...)
	cmd := exec.CommandContext(ctx, a.command, argv...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			a.logger.Warn("Control agent timed out", "camera", cameraID, "args", args, "timeout", a.timeout)
			return nil, fmt.Errorf("%w after %s", ErrAgentTimeout, a.timeout)
		}
		return nil, &AgentError{
			CameraID: cameraID,
			Args:     args,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}

	a.logger.Debug("Control agent finished", "camera", cameraID, "args", args, "duration", time.Since(start))
	return out, nil
}
