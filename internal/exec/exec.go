// Package exec dispatches agent decisions to sandboxed executors: Julia code
// cells and allow-listed shell commands, both confined to a run-scoped
// directory with bounded timeouts.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// procResult is the raw capture from one subprocess invocation.
type procResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	SpawnErr error
}

// runnerFunc spawns a process in dir with the given timeout. Injectable so
// tests can assert that rejected commands never spawn anything.
type runnerFunc func(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) procResult

func runProcess(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) procResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Give the process a short grace period after cancellation before the
	// runtime sends SIGKILL.
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	res := procResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	switch {
	case err == nil:
		res.ExitCode = 0
	case cmd.ProcessState != nil:
		res.ExitCode = cmd.ProcessState.ExitCode()
	default:
		res.ExitCode = -1
		res.SpawnErr = err
	}
	return res
}

// persistOutcome writes the outcome record next to the cell it belongs to,
// for later inspection of the run directory.
func persistOutcome(runDir, name string, outcome any) {
	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		log.Warn().Err(err).Str("artifact", name).Msg("marshal outcome")
		return
	}
	path := filepath.Join(runDir, name+".outcome.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("persist outcome")
	}
}

func cellName(turn int) string {
	return fmt.Sprintf("cell_%03d", turn)
}

func shellName(turn int) string {
	return fmt.Sprintf("shell_%03d", turn)
}
