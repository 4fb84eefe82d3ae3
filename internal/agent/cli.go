package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/config"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/logging"
)

// CLIAgent dispatches work by executing an external command. The prompt
// context goes to the command's stdin; stdout is the raw response.
// Cancellation of ctx kills the process.
type CLIAgent struct {
	command []string
	logger  *logging.Logger
}

// NewCLIAgent creates an agent from dispatch.agent_command.
func NewCLIAgent(cfg *config.Config, logger *logging.Logger) (Agent, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	command := cfg.Dispatch.AgentCommand
	if len(command) == 0 {
		return nil, fmt.Errorf("dispatch.agent_command is empty")
	}
	return &CLIAgent{
		command: append([]string(nil), command...),
		logger:  logger.Named("cli-agent"),
	}, nil
}

func (a *CLIAgent) Invoke(ctx context.Context, promptContext string) (string, error) {
	cmd := exec.CommandContext(ctx, a.command[0], a.command[1:]...)
	cmd.Stdin = strings.NewReader(promptContext)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrAgentTimeout, elapsed.Round(time.Second))
		}
		return "", ctx.Err()
	}
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
		}
		a.logger.Warn(ctx, "agent command failed",
			zap.String("command", a.command[0]),
			zap.Duration("elapsed", elapsed),
			zap.String("stderr", truncateStderr(stderr.String())))
		return "", fmt.Errorf("agent command exited: %w", err)
	}

	a.logger.Debug(ctx, "agent command completed",
		zap.Duration("elapsed", elapsed),
		zap.Int("response_bytes", stdout.Len()))
	return stdout.String(), nil
}

// HealthCheck verifies the command binary is resolvable.
func (a *CLIAgent) HealthCheck(context.Context) error {
	if _, err := exec.LookPath(a.command[0]); err != nil {
		return fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}
	return nil
}

func truncateStderr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}

// DefaultRegistry returns the registry with the built-in backends.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterAgent("claude-code", NewCLIAgent)
	r.RegisterWorker("local", NewLocalWorker)
	return r
}
