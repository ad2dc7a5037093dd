/*
Package rookery is a minimal in-process task-delegation fabric for cooperating
agents. Agents advertise capabilities in a shared registry, receive task
requests over per-agent FIFO queues, optionally sub-delegate work to other
agents by capability, and return correlated responses up the call chain.

The moving parts, leaves first:

  - registry: directory mapping agent identity to capabilities and liveness
  - bus: per-agent queues plus a correlation table that suspends a caller
    until its response arrives
  - agent: the generic runtime — lifecycle, message loop and the
    delegate-and-wait primitive every concrete agent shares
  - rookery (this package): the Fabric composition root and the SubmitTask
    gateway for callers outside the fabric

# Usage

Construct a fabric, compose agents from a name, a capability set and a task
body, then submit work by capability:

	f := rookery.New()

	research, err := agent.New(f.Registry(), f.Bus(),
		agent.Name("research-1"),
		agent.Capabilities("research"),
		agent.Handler(func(ctx context.Context, tc *agent.TaskContext) (map[string]any, error) {
			findings := lookup(tc.Task.Description)
			analysis, err := tc.Delegate(ctx, "data_analysis", map[string]any{"findings": findings}, 5*time.Second)
			if err != nil {
				// optional enrichment: degrade, don't fail
				return map[string]any{"findings": findings}, nil
			}
			return map[string]any{"findings": findings, "analysis": analysis}, nil
		}),
	)
	if err != nil {
		return err
	}
	if err := research.Start(ctx); err != nil {
		return err
	}
	defer research.Stop()

	result, err := f.SubmitTask(ctx, "research", "Research AI trends", nil, 10*time.Second)

# Delegation

A task body delegates through its TaskContext. Each delegation is a full
send-and-wait round trip, so the same goroutine is at once the responder to
its own request and the requester of the nested one; chains of arbitrary depth
fall out of that for free. When several agents match a capability, the first
registered wins — the registry does no load balancing.

Handlers choose per call site whether a delegation is mandatory (propagate the
error, failing the parent task) or optional (catch it and omit the
enrichment). Timeouts, missing capabilities and remote failures all surface as
ordinary errors at the delegation call site.

# Hazards

The protocol does not detect delegation cycles. An agent that transitively
delegates back toward one of its own capabilities blocks its own message loop
until the request times out; keeping the delegation graph acyclic is a design
obligation on the agents, not something the fabric enforces.

A timed-out request does not cancel the remote work. The remote agent may
still finish and answer; the late response finds no pending correlation and is
silently dropped.
*/
package rookery
