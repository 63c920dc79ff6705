package exec

import (
	"context"
	"testing"
	"time"

	"github.com/rowanlabs/rowan/internal/protocol"
)

func TestDispatch_RoutesByAction(t *testing.T) {
	codeSpy := &spyRunner{result: procResult{Stdout: "4\n"}}
	shellSpy := &spyRunner{result: procResult{Stdout: "files\n"}}
	d := NewDispatcher(
		&CodeExecutor{JuliaBin: "julia", Timeout: time.Minute, run: codeSpy.run},
		&ShellExecutor{AllowList: []string{"ls"}, Timeout: time.Minute, run: shellSpy.run},
	)
	dir := t.TempDir()

	d.Dispatch(context.Background(), dir, 0, protocol.Decision{Action: protocol.ActionRunJulia, Code: "println(2+2)"})
	if codeSpy.calls != 1 {
		t.Errorf("code executor called %d times", codeSpy.calls)
	}

	d.Dispatch(context.Background(), dir, 1, protocol.Decision{Action: protocol.ActionShell, Cmd: "ls"})
	if shellSpy.calls != 1 {
		t.Errorf("shell executor called %d times", shellSpy.calls)
	}
}

func TestDispatch_NonExecActionsEcho(t *testing.T) {
	d := NewDispatcher(
		&CodeExecutor{JuliaBin: "julia", Timeout: time.Minute, run: (&spyRunner{}).run},
		&ShellExecutor{AllowList: nil, Timeout: time.Minute, run: (&spyRunner{}).run},
	)

	q := d.Dispatch(context.Background(), t.TempDir(), 0, protocol.Decision{Action: protocol.ActionMoreFromUser, Question: "Which file?"})
	if !q.Ok || q.Message != "Which file?" {
		t.Errorf("question outcome = %+v", q)
	}

	f := d.Dispatch(context.Background(), t.TempDir(), 0, protocol.Decision{Action: protocol.ActionFinal, UserOutput: "done"})
	if !f.Ok || f.Message != "done" {
		t.Errorf("final outcome = %+v", f)
	}
}
