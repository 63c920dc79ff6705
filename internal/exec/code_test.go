package exec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCodeExecute_WritesCellAndRuns(t *testing.T) {
	spy := &spyRunner{result: procResult{Stdout: "Result: 4\n", ExitCode: 0}}
	e := &CodeExecutor{JuliaBin: "julia", Timeout: time.Minute, run: spy.run}
	dir := t.TempDir()

	outcome := e.Execute(context.Background(), dir, 0, `println("Result: ", 2+2)`)
	if !outcome.Ok {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Message != "Result: 4\n" {
		t.Errorf("message = %q", outcome.Message)
	}

	cell := filepath.Join(dir, "cell_000.jl")
	code, err := os.ReadFile(cell)
	if err != nil {
		t.Fatalf("cell artifact missing: %v", err)
	}
	if !strings.Contains(string(code), "2+2") {
		t.Errorf("cell contents = %q", code)
	}
	if spy.name != "julia" || len(spy.args) != 1 || spy.args[0] != cell {
		t.Errorf("spawned %s %v", spy.name, spy.args)
	}
	assertOutcomeArtifact(t, dir, "cell_000", true)
}

func TestCodeExecute_SpawnFailure(t *testing.T) {
	spy := &spyRunner{result: procResult{ExitCode: -1, SpawnErr: errors.New("exec: \"julia\": executable file not found")}}
	e := &CodeExecutor{JuliaBin: "julia", Timeout: time.Minute, run: spy.run}

	outcome := e.Execute(context.Background(), t.TempDir(), 0, "println(1)")
	if outcome.Ok {
		t.Error("spawn failure reported ok")
	}
	if !strings.Contains(outcome.Message, "Julia execution failed") {
		t.Errorf("message = %q", outcome.Message)
	}
}

func TestCodeExecute_Timeout(t *testing.T) {
	spy := &spyRunner{result: procResult{TimedOut: true, Stdout: "partial"}}
	e := &CodeExecutor{JuliaBin: "julia", Timeout: 2 * time.Second, run: spy.run}

	outcome := e.Execute(context.Background(), t.TempDir(), 1, "while true end")
	if outcome.Ok {
		t.Error("timeout reported ok")
	}
	if outcome.Err != "timed out" {
		t.Errorf("err = %q", outcome.Err)
	}
	if !strings.Contains(outcome.Message, "partial") {
		t.Error("captured output missing from timeout message")
	}
}

func TestComposeMessage_MissingPackageHint(t *testing.T) {
	stderr := "ERROR: ArgumentError: Package DataFrames not found in current path.\nStacktrace: ..."
	msg := composeMessage("", stderr)
	if !strings.Contains(msg, "Pkg.add") {
		t.Errorf("missing-package hint absent: %q", msg)
	}
	if !strings.Contains(msg, "Package DataFrames not found") {
		t.Errorf("offending line absent: %q", msg)
	}
}

func TestComposeMessage_PlainOutput(t *testing.T) {
	if got := composeMessage("4\n", ""); got != "4\n" {
		t.Errorf("got %q", got)
	}
	if got := composeMessage("out", "warn"); got != "out\nwarn" {
		t.Errorf("got %q", got)
	}
}
