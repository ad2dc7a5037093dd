package rookery

import (
	"context"
	"fmt"
	"time"

	"github.com/fogfish/opts"

	"github.com/casualjim/rookery/bus"
	"github.com/casualjim/rookery/messages"
	"github.com/casualjim/rookery/pkg/uuidx"
	"github.com/casualjim/rookery/registry"
)

// Fabric is the composition root. It owns the one registry and the one bus
// that every agent in the process shares; there are no package-level
// singletons to reach for. All state is process-lifetime only — recreating a
// fabric and restarting each agent rebuilds everything.
type Fabric struct {
	name     string
	registry *registry.Registry
	bus      *bus.Bus
}

// GatewayName sets the sender identity stamped on tasks submitted through the
// fabric. Defaults to "gateway".
var GatewayName = opts.ForName[Fabric, string]("name")

func New(options ...opts.Option[Fabric]) *Fabric {
	f := &Fabric{
		name:     "gateway",
		registry: registry.New(),
		bus:      bus.New(),
	}
	if err := opts.Apply(f, options); err != nil {
		panic(err)
	}
	return f
}

// Registry returns the shared capability directory. Agents are constructed
// against it and it is safe for concurrent use.
func (f *Fabric) Registry() *registry.Registry { return f.registry }

// Bus returns the shared message bus.
func (f *Fabric) Bus() *bus.Bus { return f.bus }

// SubmitTask is the single entry point for callers outside the fabric. It
// resolves capability to the first matching active agent, sends a task request
// and blocks until the correlated response or the timeout. Turning free text
// into a capability hint is the caller's problem, not the fabric's.
//
// The result payload is returned on success. Failures surface as
// ErrNoCapableAgent, ErrRecipientNotSubscribed, ErrRequestTimeout or
// ErrTaskFailed wrapping the remote error text.
func (f *Fabric) SubmitTask(ctx context.Context, capability, description string, input map[string]any, timeout time.Duration) (map[string]any, error) {
	candidates := f.registry.FindByCapability(capability)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("capability %q: %w", capability, ErrNoCapableAgent)
	}

	task := messages.Task{
		ID:          uuidx.NewString(),
		Type:        capability,
		Description: description,
		Input:       input,
		Priority:    messages.PriorityNormal,
	}
	req := messages.NewTaskRequest(f.name, candidates[0], task)

	resp, err := f.bus.SendAndWait(ctx, req, timeout)
	if err != nil {
		return nil, err
	}

	tr, ok := resp.Payload.(messages.TaskResponse)
	if !ok {
		return nil, fmt.Errorf("agent %s answered request %s with a %s", candidates[0], req.ID, resp.Kind())
	}
	if !tr.Success {
		return nil, fmt.Errorf("agent %s: %s: %w", candidates[0], tr.Error, ErrTaskFailed)
	}
	return tr.Result, nil
}
