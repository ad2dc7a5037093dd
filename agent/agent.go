package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/fogfish/opts"
	"github.com/invopop/jsonschema"

	"github.com/casualjim/rookery/bus"
	"github.com/casualjim/rookery/messages"
	"github.com/casualjim/rookery/pkg/slogx"
	"github.com/casualjim/rookery/pkg/uuidx"
	"github.com/casualjim/rookery/registry"
)

// ErrTaskFailed reports that a remote agent answered a delegated task with a
// failed response. The remote error text is wrapped around it.
var ErrTaskFailed = errors.New("remote task failed")

// State is the runtime lifecycle phase.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ExecFunc is the task body a concrete agent plugs into the runtime. It
// receives the structured task through tc and returns the result payload.
// Returning an error (or panicking) produces a failed task response; it never
// takes the message loop down.
type ExecFunc func(ctx context.Context, tc *TaskContext) (map[string]any, error)

// Runtime is the generic lifecycle and message-loop behavior shared by every
// agent: it registers its descriptor, drains its queue in a single goroutine
// and dispatches by message kind. Concrete agents are just a name, a
// capability set and an ExecFunc composed into a Runtime; there is no
// inheritance hierarchy to subclass.
type Runtime struct {
	name         string
	capabilities []string
	exec         ExecFunc
	inputSchema  *jsonschema.Schema
	announceTo   string

	registry *registry.Registry
	bus      *bus.Bus

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	sub    *bus.Subscription
}

var (
	// Name sets the agent identity. Required and unique per fabric.
	Name = opts.ForName[Runtime, string]("name")

	// Handler sets the task body. Required.
	Handler = opts.ForName[Runtime, ExecFunc]("exec")

	// AnnounceTo names a directory identity that receives a capability
	// announcement when the agent starts. Optional; an unsubscribed directory
	// is tolerated.
	AnnounceTo = opts.ForName[Runtime, string]("announceTo")
)

// Capabilities declares the capabilities this agent answers for. At least one
// is required; declaration order carries no meaning.
func Capabilities(capability string, extra ...string) opts.Option[Runtime] {
	return opts.Type[Runtime](func(o *Runtime) error {
		o.capabilities = append(o.capabilities, capability)
		o.capabilities = append(o.capabilities, extra...)
		return nil
	})
}

// Structured-output subset of JSON schema, same flags the announcement
// consumers expect.
var reflector = jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
}

// InputSchema attaches a reflected JSON schema describing the structured input
// this agent expects. It rides along on capability announcements.
func InputSchema[T any]() opts.Option[Runtime] {
	return opts.Type[Runtime](func(o *Runtime) error {
		var v T
		o.inputSchema = reflector.Reflect(v)
		return nil
	})
}

// New builds a runtime bound to the given registry and bus. The registry and
// bus come from the fabric's composition root; runtimes never reach for
// ambient shared state.
func New(reg *registry.Registry, b *bus.Bus, options ...opts.Option[Runtime]) (*Runtime, error) {
	var err error
	if reg == nil {
		err = errors.Join(err, errors.New("registry is required"))
	}
	if b == nil {
		err = errors.Join(err, errors.New("bus is required"))
	}

	r := &Runtime{registry: reg, bus: b}
	if aerr := opts.Apply(r, options); aerr != nil {
		err = errors.Join(err, aerr)
	}
	if r.name == "" {
		err = errors.Join(err, errors.New("name is required"))
	}
	if len(r.capabilities) == 0 {
		err = errors.Join(err, errors.New("at least one capability is required"))
	}
	if r.exec == nil {
		err = errors.Join(err, errors.New("handler is required"))
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Name returns the agent identity.
func (r *Runtime) Name() string { return r.name }

// Capabilities returns a copy of the declared capability set.
func (r *Runtime) Capabilities() []string { return slices.Clone(r.capabilities) }

// State reports the current lifecycle phase.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start registers the descriptor, subscribes the inbound queue and spawns the
// message loop. Starting an agent that is not stopped is a no-op. All registry
// and bus state is rebuilt here, so a stopped agent restarts cleanly after a
// fabric is recreated.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateStopped {
		r.mu.Unlock()
		return nil
	}
	r.state = StateStarting

	r.registry.Register(registry.Descriptor{ID: r.name, Capabilities: r.capabilities})
	r.sub = r.bus.Subscribe(r.name)

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.state = StateRunning
	go r.loop(loopCtx)
	r.mu.Unlock()

	slog.Debug("agent started", slog.String("agent", r.name))
	r.announce(ctx)
	return nil
}

// Stop signals the loop, waits for it to drain out, then removes the agent
// from bus and registry. Stopping an agent that is not running is a no-op.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return nil
	}
	r.state = StateStopping
	cancel, done, sub := r.cancel, r.done, r.sub
	r.mu.Unlock()

	cancel()
	<-done

	sub.Unsubscribe()
	r.registry.Deregister(r.name)

	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()

	slog.Debug("agent stopped", slog.String("agent", r.name))
	return nil
}

func (r *Runtime) announce(ctx context.Context) {
	if r.announceTo == "" {
		return
	}
	env := messages.NewCapabilityAnnouncement(r.name, r.announceTo, r.capabilities, r.inputSchema)
	if err := r.bus.Publish(ctx, env); err != nil {
		// The directory is optional; its absence is not a startup failure.
		slog.Debug("agent announcement dropped", slog.String("agent", r.name), slogx.Error(err))
	}
}

// loop is the single goroutine draining this agent's queue. Dispatch runs
// inline, so no two handlers for the same agent ever overlap; a delegation
// inside a handler blocks only this loop while other agents keep running.
func (r *Runtime) loop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.sub.C():
			r.dispatch(ctx, env)
		}
	}
}

func (r *Runtime) dispatch(ctx context.Context, env messages.Envelope) {
	if env.Proto != messages.ProtocolVersion {
		slog.Warn("agent received message with mismatched protocol version",
			slog.String("agent", r.name),
			slog.String("proto", env.Proto),
		)
	}

	switch p := env.Payload.(type) {
	case messages.TaskRequest:
		r.handleTaskRequest(ctx, env, p.Task)
	case messages.TaskResponse, messages.StatusUpdate, messages.CapabilityAnnouncement:
		// Not part of an outstanding wait on this queue. Consume and drop so
		// the queue cannot grow with traffic the agent has no use for;
		// responses that matter resolve through the bus correlation table,
		// never through this loop.
		slog.Debug("agent dropped message", slog.String("agent", r.name), slogx.Kind(env.Kind()))
	default:
		slog.Debug("agent dropped message of unknown kind", slog.String("agent", r.name))
	}
}

func (r *Runtime) handleTaskRequest(ctx context.Context, req messages.Envelope, task messages.Task) {
	// Fire and forget. The requester may not consume status updates at all;
	// it is usually blocked in SendAndWait, not reading its queue.
	_ = r.bus.Publish(ctx, messages.NewStatusUpdate(r.name, req.Sender, task.ID, messages.StatusProcessing))

	result, err := r.execute(ctx, task)
	if err != nil {
		slog.Debug("agent task failed",
			slog.String("agent", r.name),
			slog.String("task_id", task.ID),
			slogx.Error(err),
		)
	}
	r.bus.CompleteRequest(req.ID, messages.NewTaskResponse(r.name, req.Sender, req.ID, result, err))
}

// execute invokes the task body, converting panics into errors so a
// misbehaving handler can never take the message loop down with it.
func (r *Runtime) execute(ctx context.Context, task messages.Task) (result map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, fmt.Errorf("task %s panicked: %v", task.ID, p)
		}
	}()
	return r.exec(ctx, &TaskContext{Task: task, runtime: r})
}

// SendTask delegates a task to the first active agent declaring capability and
// blocks until its response or the timeout. This is called from inside a task
// body, which is how delegation chains form: the same goroutine is the
// responder for its own inbound request and the requester of the nested one.
//
// There is no cycle detection, by design: an agent that transitively delegates
// back toward one of its own capabilities wedges its own loop until the
// timeout fires. Keep delegation graphs acyclic.
func (r *Runtime) SendTask(ctx context.Context, capability string, input map[string]any, timeout time.Duration) (map[string]any, error) {
	candidates := r.registry.FindByCapability(capability)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("capability %q: %w", capability, registry.ErrNoCapableAgent)
	}

	task := messages.Task{
		ID:       uuidx.NewString(),
		Type:     capability,
		Input:    input,
		Priority: messages.PriorityNormal,
	}
	req := messages.NewTaskRequest(r.name, candidates[0], task)

	resp, err := r.bus.SendAndWait(ctx, req, timeout)
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
