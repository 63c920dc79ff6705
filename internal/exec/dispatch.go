package exec

import (
	"context"
	"fmt"

	"github.com/rowanlabs/rowan/internal/model"
	"github.com/rowanlabs/rowan/internal/protocol"
)

// Dispatcher routes a decision to the matching executor and normalizes the
// result into an outcome record. It is retry-agnostic: the agent loop decides
// whether a failed outcome loops back as model feedback.
type Dispatcher struct {
	Code  *CodeExecutor
	Shell *ShellExecutor
}

// NewDispatcher wires both executors.
func NewDispatcher(code *CodeExecutor, shell *ShellExecutor) *Dispatcher {
	return &Dispatcher{Code: code, Shell: shell}
}

// Dispatch executes one decision. The switch is exhaustive over the closed
// action set; Parse has already rejected anything else.
func (d *Dispatcher) Dispatch(ctx context.Context, runDir string, turn int, decision protocol.Decision) model.Outcome {
	switch decision.Action {
	case protocol.ActionRunJulia:
		return d.Code.Execute(ctx, runDir, turn, decision.Code)
	case protocol.ActionShell:
		return d.Shell.Execute(ctx, runDir, turn, decision.Cmd, decision.TimeoutSecs)
	case protocol.ActionMoreFromUser:
		// No subprocess; echo the question for history.
		return model.Outcome{Ok: true, Message: decision.Question}
	case protocol.ActionFinal:
		return model.Outcome{Ok: true, Message: decision.UserOutput}
	default:
		return model.Outcome{Ok: false, ExitCode: -1, Err: fmt.Sprintf("unhandled action %q", decision.Action)}
	}
}
