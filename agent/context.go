package agent

import (
	"context"
	"time"

	"github.com/casualjim/rookery/messages"
)

// TaskContext is handed to the task body for one inbound task. It carries the
// task itself and the delegation primitive; the runtime it belongs to stays
// hidden so handlers cannot reach into lifecycle state.
type TaskContext struct {
	Task messages.Task

	runtime *Runtime
}

// Agent returns the identity of the agent executing this task.
func (tc *TaskContext) Agent() string { return tc.runtime.name }

// Delegate issues a nested task by capability and waits for the reply, one
// full round trip per call. Delegations within one task run sequentially.
//
// Whether a failure here fails the parent task is the handler's policy call:
// propagate the error for mandatory work, or catch it and omit the enrichment
// for optional work.
func (tc *TaskContext) Delegate(ctx context.Context, capability string, input map[string]any, timeout time.Duration) (map[string]any, error) {
	return tc.runtime.SendTask(ctx, capability, input, timeout)
}
