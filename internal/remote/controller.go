package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// State is the brick controller state as observed by this tool. It is
// tracked explicitly rather than inferred from timing.
type State int

const (
	// StateUnknown means no usable session exists yet
	StateUnknown State = iota
	// StateConnected means a fresh session is established
	StateConnected
	// StateDeploying means a file transfer batch is in progress
	StateDeploying
	// StateRunning means the entry script is executing
	StateRunning
	// StateHung means the entry script exceeded its execution bound
	StateHung
	// StateResetInProgress means a reset sequence is underway
	StateResetInProgress
	// StateIdle means the controller is idle and accepting commands
	StateIdle
)

// String returns the operator-facing state name
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDeploying:
		return "deploying"
	case StateRunning:
		return "running"
	case StateHung:
		return "hung"
	case StateResetInProgress:
		return "reset-in-progress"
	case StateIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// ControllerConfig carries the remote paths and bounds the controller
// operates under.
type ControllerConfig struct {
	// ProjectPath is the project directory on the brick
	ProjectPath string
	// Interpreter runs the entry script and the reset hook
	Interpreter string
	// ResetHook is an optional project-relative re-arm script
	ResetHook string
	// CommandTimeout bounds entry script execution; exceeding it marks
	// the controller hung
	CommandTimeout time.Duration
	// ResetGrace is how long graceful termination may take before the
	// reset escalates
	ResetGrace time.Duration
	// PollInterval is the liveness probe cadence during a reset
	PollInterval time.Duration
	// Stdout and Stderr receive the entry script's output
	Stdout io.Writer
	Stderr io.Writer
}

// Controller owns the remote-controller state machine and the two
// operations on it: running the entry script and resetting a hung brick.
type Controller struct {
	runner Runner
	cfg    ControllerConfig
	state  State
}

// NewController creates a controller over an established runner
func NewController(runner Runner, cfg ControllerConfig) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ResetGrace <= 0 {
		cfg.ResetGrace = 5 * time.Second
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Controller{runner: runner, cfg: cfg}
}

// State returns the current observed controller state
func (c *Controller) State() State {
	return c.state
}

// MarkConnected records a freshly established session
func (c *Controller) MarkConnected() {
	c.state = StateConnected
}

// MarkDisconnected records a network drop; a full reconnect is required
// before any further action
func (c *Controller) MarkDisconnected() {
	c.state = StateUnknown
}

// BeginDeploy guards and records the start of a transfer batch
func (c *Controller) BeginDeploy() error {
	switch c.state {
	case StateUnknown, StateConnected, StateIdle:
		c.state = StateDeploying
		return nil
	case StateHung:
		return fmt.Errorf("controller is hung; run 'brickctl reset' first")
	default:
		return fmt.Errorf("controller is %s; cannot start a deploy", c.state)
	}
}

// FinishDeploy records the end of a transfer batch
func (c *Controller) FinishDeploy() {
	if c.state == StateDeploying {
		c.state = StateIdle
	}
}

// Run starts the entry script on the brick and streams its output. The
// deployed program's own exit status is reported, not treated as a tool
// failure. Only an idle controller (or a fresh session) may start one.
func (c *Controller) Run(ctx context.Context, entry string) error {
	switch c.state {
	case StateUnknown, StateConnected, StateIdle:
	case StateHung:
		return fmt.Errorf("controller is hung; run 'brickctl reset' first")
	default:
		return fmt.Errorf("controller is %s; cannot start %s", c.state, entry)
	}

	cmd := fmt.Sprintf("cd %s && exec %s", shellQuote(c.cfg.ProjectPath), joinCommand(c.cfg.Interpreter, entry))
	log.Debug("starting entry script", "cmd", cmd)

	runCtx := ctx
	cancel := func() {}
	if c.cfg.CommandTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
	}
	defer cancel()

	c.state = StateRunning
	err := c.runner.Stream(runCtx, cmd, c.cfg.Stdout, c.cfg.Stderr)
	if err == nil {
		c.state = StateIdle
		return nil
	}

	if errors.Is(err, ErrCommandTimeout) {
		c.state = StateHung
		return fmt.Errorf("%s exceeded the command timeout; the controller is hung, run 'brickctl reset': %w", entry, err)
	}
	if status, ok := ExitStatus(err); ok {
		// the program ran and chose its own exit status
		c.state = StateIdle
		fmt.Fprintf(c.cfg.Stdout, "Program exited with status %d\n", status)
		return nil
	}

	c.state = StateUnknown
	return &ExecutionError{Entry: entry, Err: err}
}

// Reset recovers an unresponsive controller: graceful termination, a
// bounded wait, forced termination if still alive, then the re-arm hook.
// Resetting an already-idle controller succeeds as a no-op.
func (c *Controller) Reset(ctx context.Context) error {
	if c.state == StateResetInProgress {
		return fmt.Errorf("a reset is already in progress")
	}

	prior := c.state
	c.state = StateResetInProgress

	alive, err := c.terminate(ctx, "TERM")
	if err != nil {
		c.state = StateUnknown
		return &ResetError{Target: c.cfg.ProjectPath, Reason: "graceful termination failed", Err: err}
	}
	if !alive && prior != StateHung {
		// nothing was running; idempotent no-op
		c.state = StateIdle
		return nil
	}

	if alive {
		alive, err = c.waitForExit(ctx)
		if err != nil {
			c.state = StateUnknown
			return &ResetError{Target: c.cfg.ProjectPath, Reason: "liveness probe failed", Err: err}
		}
	}

	if alive {
		log.Debug("escalating to forced termination", "project", c.cfg.ProjectPath)
		if _, err := c.terminate(ctx, "KILL"); err != nil {
			c.state = StateUnknown
			return &ResetError{Target: c.cfg.ProjectPath, Reason: "forced termination failed", Err: err}
		}
		alive, err = c.waitForExit(ctx)
		if err != nil {
			c.state = StateUnknown
			return &ResetError{Target: c.cfg.ProjectPath, Reason: "liveness probe failed", Err: err}
		}
		if alive {
			c.state = StateHung
			return &ResetError{
				Target: c.cfg.ProjectPath,
				Reason: "processes survived forced termination; power-cycle the brick",
			}
		}
	}

	if err := c.rearm(ctx); err != nil {
		c.state = StateUnknown
		return err
	}

	c.state = StateIdle
	return nil
}

// terminate signals every process running under the project path and
// reports whether any were found
func (c *Controller) terminate(ctx context.Context, sig string) (bool, error) {
	cmd := fmt.Sprintf("pkill -%s -f -- %s", sig, shellQuote(c.cfg.ProjectPath))
	out, err := c.runner.Run(ctx, cmd)
	if err == nil {
		return true, nil
	}
	if status, ok := ExitStatus(err); ok && status == 1 {
		// pkill found nothing to signal
		return false, nil
	}
	return false, fmt.Errorf("pkill failed: %v: %s", err, out)
}

// processAlive probes for surviving project processes
func (c *Controller) processAlive(ctx context.Context) (bool, error) {
	cmd := fmt.Sprintf("pgrep -f -- %s", shellQuote(c.cfg.ProjectPath))
	out, err := c.runner.Run(ctx, cmd)
	if err == nil {
		return true, nil
	}
	if status, ok := ExitStatus(err); ok && status == 1 {
		return false, nil
	}
	return false, fmt.Errorf("pgrep failed: %v: %s", err, out)
}

// waitForExit polls liveness until the grace period lapses
func (c *Controller) waitForExit(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(c.cfg.ResetGrace)
	for {
		alive, err := c.processAlive(ctx)
		if err != nil {
			return false, err
		}
		if !alive {
			return false, nil
		}
		if !time.Now().Before(deadline) {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// rearm runs the descriptor's reset hook, if any, to return the hardware
// to an idle, command-accepting state
func (c *Controller) rearm(ctx context.Context) error {
	if c.cfg.ResetHook == "" {
		return nil
	}
	cmd := fmt.Sprintf("cd %s && %s", shellQuote(c.cfg.ProjectPath), joinCommand(c.cfg.Interpreter, c.cfg.ResetHook))
	log.Debug("running reset hook", "cmd", cmd)

	out, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return &ResetError{Target: c.cfg.ProjectPath, Reason: fmt.Sprintf("reset hook failed: %v: %s", err, out), Err: err}
	}
	return nil
}
