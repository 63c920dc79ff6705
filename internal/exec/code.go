package exec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rowanlabs/rowan/internal/model"
)

// CodeExecutor writes code cells into the run directory and executes them
// with the configured Julia interpreter.
type CodeExecutor struct {
	JuliaBin string
	Timeout  time.Duration

	run runnerFunc
}

// NewCodeExecutor constructs a code executor. juliaBin defaults to "julia".
func NewCodeExecutor(juliaBin string, timeout time.Duration) *CodeExecutor {
	if juliaBin == "" {
		juliaBin = "julia"
	}
	return &CodeExecutor{JuliaBin: juliaBin, Timeout: timeout, run: runProcess}
}

// Execute persists the cell as cell_NNN.jl, runs it, and captures the result.
// Execution failures land in the Outcome, never in the error return; the loop
// feeds them back to the model for recovery.
func (e *CodeExecutor) Execute(ctx context.Context, runDir string, turn int, code string) model.Outcome {
	name := cellName(turn)
	scriptPath := filepath.Join(runDir, name+".jl")
	if err := os.WriteFile(scriptPath, []byte(code), 0o644); err != nil {
		return model.Outcome{Ok: false, ExitCode: -1, Err: fmt.Sprintf("write cell: %v", err), Message: fmt.Sprintf("could not write code cell: %v", err)}
	}
	log.Debug().Str("script", scriptPath).Int("bytes", len(code)).Msg("wrote code cell")

	start := time.Now()
	res := e.run(ctx, runDir, e.Timeout, e.JuliaBin, scriptPath)
	outcome := model.Outcome{
		Ok:       res.SpawnErr == nil && !res.TimedOut && res.ExitCode == 0,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Elapsed:  time.Since(start),
	}

	switch {
	case res.SpawnErr != nil:
		outcome.Err = fmt.Sprintf("spawn failed: %v", res.SpawnErr)
		outcome.Message = fmt.Sprintf("Julia execution failed: %v", res.SpawnErr)
	case res.TimedOut:
		outcome.Err = "timed out"
		outcome.Message = fmt.Sprintf("Julia execution timed out after %s\n%s%s", e.Timeout, res.Stdout, res.Stderr)
	default:
		outcome.Message = composeMessage(res.Stdout, res.Stderr)
	}

	persistOutcome(runDir, name, outcome)
	log.Info().
		Int("turn", turn).
		Int("exit_code", outcome.ExitCode).
		Bool("ok", outcome.Ok).
		Dur("duration", outcome.Elapsed).
		Msg("code cell executed")
	return outcome
}

// composeMessage folds stdout/stderr into the model-visible message, with a
// hint when the failure is a missing Julia package.
func composeMessage(stdout, stderr string) string {
	if strings.Contains(stderr, "Package") && strings.Contains(stderr, "not found") {
		hint := stderr
		for _, line := range strings.Split(stderr, "\n") {
			if strings.Contains(line, "Package") && strings.Contains(line, "not found") {
				hint = line
				break
			}
		}
		return fmt.Sprintf("Julia package error: %s\nHint: install it with: using Pkg; Pkg.add(\"PackageName\")\n%s", hint, stdout)
	}
	if stderr == "" {
		return stdout
	}
	return stdout + "\n" + stderr
}
