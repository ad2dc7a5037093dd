package rookery

import (
	"github.com/casualjim/rookery/agent"
	"github.com/casualjim/rookery/bus"
	"github.com/casualjim/rookery/registry"
)

// The full error taxonomy, re-exported so gateway callers only need this
// package for errors.Is checks. Nothing in the fabric retries on its own;
// retry policy, if wanted, is layered on top by callers.
var (
	// ErrRecipientNotSubscribed: the resolved agent has no active queue.
	ErrRecipientNotSubscribed = bus.ErrRecipientNotSubscribed

	// ErrRequestTimeout: no correlated response arrived within the deadline.
	// Work may still finish on the remote agent; its late response is dropped.
	ErrRequestTimeout = bus.ErrRequestTimeout

	// ErrNoCapableAgent: no active agent declares the requested capability.
	ErrNoCapableAgent = registry.ErrNoCapableAgent

	// ErrTaskFailed: the agent answered, reporting that its task body failed.
	ErrTaskFailed = agent.ErrTaskFailed
)
