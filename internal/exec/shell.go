package exec

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rowanlabs/rowan/internal/model"
)

// notPermittedMsg marks allow-list rejections so callers can distinguish
// policy rejection from execution failure.
const notPermittedMsg = "not permitted"

// shellMetaChars are rejected outright: the command line runs under bash -c,
// so chaining, pipes, substitution, and redirection could smuggle programs
// that are not on the allow-list.
const shellMetaChars = ";&|`$>\n"

// ShellExecutor runs allow-listed commands inside the run directory. The
// allow-list is checked before any process is created.
type ShellExecutor struct {
	AllowList []string
	Timeout   time.Duration

	run runnerFunc
}

// NewShellExecutor constructs a shell executor with the configured allow-list.
func NewShellExecutor(allowList []string, timeout time.Duration) *ShellExecutor {
	return &ShellExecutor{AllowList: allowList, Timeout: timeout, run: runProcess}
}

// Allowed reports whether cmdline is a single plain command whose leading
// token is on the allow-list. Lines containing shell metacharacters fail
// regardless of the leading token. Absolute interpreter paths match on their
// base name so `/usr/bin/julia` passes when `julia` is listed.
func (e *ShellExecutor) Allowed(cmdline string) bool {
	if strings.ContainsAny(cmdline, shellMetaChars) {
		return false
	}
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return false
	}
	token := fields[0]
	base := filepath.Base(token)
	for _, allowed := range e.AllowList {
		if token == allowed || base == allowed {
			return true
		}
	}
	return false
}

// Execute validates and runs cmdline, capturing the result. Rejected commands
// never spawn a subprocess.
func (e *ShellExecutor) Execute(ctx context.Context, runDir string, turn int, cmdline string, timeoutSecs int) model.Outcome {
	name := shellName(turn)
	if !e.Allowed(cmdline) {
		reason := fmt.Sprintf("%q is not on the allow-list", leadingToken(cmdline))
		if strings.ContainsAny(cmdline, shellMetaChars) {
			reason = "shell metacharacters are rejected; run a single plain command"
		}
		outcome := model.Outcome{
			Ok:       false,
			ExitCode: -1,
			Err:      notPermittedMsg,
			Message:  fmt.Sprintf("command %s: %s", notPermittedMsg, reason),
		}
		persistOutcome(runDir, name, outcome)
		log.Warn().Str("cmd", cmdline).Msg("shell command rejected by allow-list")
		return outcome
	}

	timeout := e.Timeout
	if timeoutSecs > 0 {
		if requested := time.Duration(timeoutSecs) * time.Second; requested < timeout {
			timeout = requested
		}
	}

	start := time.Now()
	res := e.run(ctx, runDir, timeout, "bash", "-c", cmdline)
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
		outcome.Message = fmt.Sprintf("shell command failed: %v", res.SpawnErr)
	case res.TimedOut:
		outcome.Err = "timed out"
		outcome.Message = fmt.Sprintf("timed out after %s\n%s%s", timeout, res.Stdout, res.Stderr)
	case res.Stderr == "":
		outcome.Message = res.Stdout
	default:
		outcome.Message = res.Stdout + "\n" + res.Stderr
	}

	persistOutcome(runDir, name, outcome)
	log.Info().
		Int("turn", turn).
		Str("cmd", leadingToken(cmdline)).
		Int("exit_code", outcome.ExitCode).
		Bool("ok", outcome.Ok).
		Dur("duration", outcome.Elapsed).
		Msg("shell command executed")
	return outcome
}

func leadingToken(cmdline string) string {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
