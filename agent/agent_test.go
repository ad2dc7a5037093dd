package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casualjim/rookery/bus"
	"github.com/casualjim/rookery/messages"
	"github.com/casualjim/rookery/registry"
)

func echoHandler(_ context.Context, tc *TaskContext) (map[string]any, error) {
	return map[string]any{"echo": tc.Task.Input, "agent": tc.Agent()}, nil
}

func newFixture(t *testing.T) (*registry.Registry, *bus.Bus) {
	t.Helper()
	return registry.New(), bus.New()
}

func TestNewValidatesOptions(t *testing.T) {
	reg, b := newFixture(t)

	_, err := New(reg, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "at least one capability is required")
	assert.Contains(t, err.Error(), "handler is required")

	_, err = New(nil, nil, Name("a"), Capabilities("c"), Handler(echoHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry is required")
	assert.Contains(t, err.Error(), "bus is required")

	r, err := New(reg, b, Name("research-1"), Capabilities("research"), Handler(echoHandler))
	require.NoError(t, err)
	assert.Equal(t, "research-1", r.Name())
	assert.Equal(t, []string{"research"}, r.Capabilities())
	assert.Equal(t, StateStopped, r.State())
}

func TestStartStopLifecycle(t *testing.T) {
	reg, b := newFixture(t)
	r, err := New(reg, b, Name("research-1"), Capabilities("research"), Handler(echoHandler))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	assert.Equal(t, StateRunning, r.State())
	assert.Equal(t, []string{"research-1"}, reg.FindByCapability("research"))

	// Starting a running agent is a no-op.
	require.NoError(t, r.Start(ctx))
	assert.Equal(t, StateRunning, r.State())

	require.NoError(t, r.Stop())
	assert.Equal(t, StateStopped, r.State())
	assert.Empty(t, reg.FindByCapability("research"))

	// Stopping a stopped agent is a no-op and the registry stays clean.
	require.NoError(t, r.Stop())
	assert.Equal(t, 0, reg.Len())

	// A stopped agent restarts cleanly.
	require.NoError(t, r.Start(ctx))
	assert.Equal(t, []string{"research-1"}, reg.FindByCapability("research"))
	require.NoError(t, r.Stop())
}

func TestTaskRequestProducesStatusUpdateAndResponse(t *testing.T) {
	reg, b := newFixture(t)
	r, err := New(reg, b, Name("research-1"), Capabilities("research"), Handler(echoHandler))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer func() { _ = r.Stop() }()

	callerQueue := b.Subscribe("caller")
	task := messages.Task{ID: "t1", Type: "research", Input: map[string]any{"topic": "go"}}
	req := messages.NewTaskRequest("caller", "research-1", task)

	resp, err := b.SendAndWait(context.Background(), req, time.Second)
	require.NoError(t, err)

	payload, ok := resp.Payload.(messages.TaskResponse)
	require.True(t, ok)
	assert.True(t, payload.Success)
	assert.Equal(t, req.ID, payload.InReplyTo)
	assert.Equal(t, map[string]any{"topic": "go"}, payload.Result["echo"])
	assert.Equal(t, "research-1", payload.Result["agent"])

	// The processing note went out before the work, fire-and-forget.
	select {
	case note := <-callerQueue.C():
		status, ok := note.Payload.(messages.StatusUpdate)
		require.True(t, ok)
		assert.Equal(t, "t1", status.TaskID)
		assert.Equal(t, messages.StatusProcessing, status.Status)
	case <-time.After(time.Second):
		t.Fatal("status update never arrived")
	}
}

func TestHandlerErrorBecomesFailedResponse(t *testing.T) {
	reg, b := newFixture(t)
	r, err := New(reg, b, Name("research-1"), Capabilities("research"), Handler(
		func(context.Context, *TaskContext) (map[string]any, error) {
			return nil, errors.New("source unavailable")
		},
	))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer func() { _ = r.Stop() }()

	req := messages.NewTaskRequest("caller", "research-1", messages.Task{ID: "t1", Type: "research"})
	resp, err := b.SendAndWait(context.Background(), req, time.Second)
	require.NoError(t, err, "a failed task still answers; the failure is in the payload")

	payload := resp.Payload.(messages.TaskResponse)
	assert.False(t, payload.Success)
	assert.Equal(t, "source unavailable", payload.Error)
}

func TestHandlerPanicDoesNotKillTheLoop(t *testing.T) {
	reg, b := newFixture(t)
	calls := 0
	r, err := New(reg, b, Name("research-1"), Capabilities("research"), Handler(
		func(context.Context, *TaskContext) (map[string]any, error) {
			calls++
			if calls == 1 {
				panic("boom")
			}
			return map[string]any{"ok": true}, nil
		},
	))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer func() { _ = r.Stop() }()

	first := messages.NewTaskRequest("caller", "research-1", messages.Task{ID: "t1", Type: "research"})
	resp, err := b.SendAndWait(context.Background(), first, time.Second)
	require.NoError(t, err)
	payload := resp.Payload.(messages.TaskResponse)
	assert.False(t, payload.Success)
	assert.Contains(t, payload.Error, "panicked")

	// The loop survived and serves the next request.
	second := messages.NewTaskRequest("caller", "research-1", messages.Task{ID: "t2", Type: "research"})
	resp, err = b.SendAndWait(context.Background(), second, time.Second)
	require.NoError(t, err)
	assert.True(t, resp.Payload.(messages.TaskResponse).Success)
}

func TestSendTaskWithoutCapableAgent(t *testing.T) {
	reg, b := newFixture(t)
	r, err := New(reg, b, Name("research-1"), Capabilities("research"), Handler(echoHandler))
	require.NoError(t, err)

	_, err = r.SendTask(context.Background(), "translation", nil, time.Second)
	require.ErrorIs(t, err, registry.ErrNoCapableAgent)
	assert.Equal(t, 0, b.PendingRequests())
}

func TestDelegationBetweenAgents(t *testing.T) {
	reg, b := newFixture(t)

	worker, err := New(reg, b, Name("analysis-1"), Capabilities("data_analysis"), Handler(
		func(_ context.Context, tc *TaskContext) (map[string]any, error) {
			return map[string]any{"summary": "trend is up", "rows": tc.Task.Input["rows"]}, nil
		},
	))
	require.NoError(t, err)

	parent, err := New(reg, b, Name("research-1"), Capabilities("research"), Handler(
		func(ctx context.Context, tc *TaskContext) (map[string]any, error) {
			analysis, err := tc.Delegate(ctx, "data_analysis", map[string]any{"rows": 3}, time.Second)
			if err != nil {
				return nil, err
			}
			return map[string]any{"topic": "go", "analysis": analysis}, nil
		},
	))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, worker.Start(ctx))
	require.NoError(t, parent.Start(ctx))
	defer func() { _ = parent.Stop(); _ = worker.Stop() }()

	req := messages.NewTaskRequest("caller", "research-1", messages.Task{ID: "t1", Type: "research"})
	resp, err := b.SendAndWait(ctx, req, 2*time.Second)
	require.NoError(t, err)

	payload := resp.Payload.(messages.TaskResponse)
	require.True(t, payload.Success)
	analysis, ok := payload.Result["analysis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "trend is up", analysis["summary"])
	assert.Equal(t, 3, analysis["rows"])
}

func TestAnnouncementOnStart(t *testing.T) {
	type researchInput struct {
		Topic string `json:"topic"`
		Depth int    `json:"depth,omitempty"`
	}

	reg, b := newFixture(t)
	directory := b.Subscribe("directory")

	r, err := New(reg, b,
		Name("research-1"),
		Capabilities("research", "summaries"),
		Handler(echoHandler),
		AnnounceTo("directory"),
		InputSchema[researchInput](),
	)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer func() { _ = r.Stop() }()

	select {
	case env := <-directory.C():
		assert.Equal(t, messages.KindCapabilityAnnouncement, env.Kind())
		ann, ok := env.Payload.(messages.CapabilityAnnouncement)
		require.True(t, ok)
		assert.Equal(t, []string{"research", "summaries"}, ann.Capabilities)
		require.NotNil(t, ann.InputSchema)
		_, hasTopic := ann.InputSchema.Properties.Get("topic")
		assert.True(t, hasTopic, "announced schema should describe the topic field")
	case <-time.After(time.Second):
		t.Fatal("announcement never arrived")
	}

	// An unsubscribed directory must not break startup.
	quiet, err := New(reg, b, Name("analysis-1"), Capabilities("data_analysis"), Handler(echoHandler), AnnounceTo("nowhere"))
	require.NoError(t, err)
	require.NoError(t, quiet.Start(context.Background()))
	require.NoError(t, quiet.Stop())
}
