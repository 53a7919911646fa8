package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/rincr/rincr/pkg/hints"
	"github.com/rincr/rincr/pkg/plog"
)

var ErrNothingToExecute = hints.New("nothing to execute")

// Plan describes the hook commands for a run.
type Plan struct {
	PreBackupCommands  []string
	PostBackupCommands []string

	// Global Flags
	DryRun   bool
	FailFast bool
}

type Executor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewExecutor creates a new Executor. Pass exec.CommandContext for real use.
func NewExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Executor {
	return &Executor{
		commandContext: commandContext,
	}
}

// RunPreBackup executes the pre-backup hook commands of a plan.
func (e *Executor) RunPreBackup(ctx context.Context, p *Plan) error {
	return e.runStage(ctx, "Pre-Backup", p.PreBackupCommands, p)
}

// RunPostBackup executes the post-backup hook commands of a plan.
func (e *Executor) RunPostBackup(ctx context.Context, p *Plan) error {
	return e.runStage(ctx, "Post-Backup", p.PostBackupCommands, p)
}

func (e *Executor) runStage(ctx context.Context, stageName string, commands []string, p *Plan) error {
	if len(commands) <= 0 {
		return ErrNothingToExecute
	}

	plog.Info(fmt.Sprintf("Running %s hook commands", stageName))

	for _, hookCommand := range commands {

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if p.DryRun {
			plog.Info("[DRY RUN] Executing command", "command", hookCommand)
			continue
		}
		plog.Info("Executing command", "command", hookCommand)

		cmd := e.createCommand(ctx, hookCommand)

		// Pipe output through for visibility
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			// Check if the context was canceled, which can cause cmd.Wait() to return an error.
			// If so, we should return the context's error to be more specific.
			if ctx.Err() == context.Canceled {
				return context.Canceled
			}
			if p.FailFast {
				return fmt.Errorf("command '%s' failed: %w", hookCommand, err)
			}
			plog.Warn("Hook command failed", "command", hookCommand, "error", err)
		}
	}
	return nil
}
