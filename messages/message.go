package messages

import (
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"

	"github.com/casualjim/rookery/pkg/uuidx"
)

// ProtocolVersion is stamped on every envelope. Agents dispatch messages from
// older or newer peers anyway, they just log the mismatch.
const ProtocolVersion = "1.0"

// Kind names a message category on the wire.
type Kind string

const (
	KindTaskRequest            Kind = "task_request"
	KindTaskResponse           Kind = "task_response"
	KindStatusUpdate           Kind = "status_update"
	KindCapabilityAnnouncement Kind = "capability_announcement"
)

// StatusProcessing is the status an agent reports back as soon as it picks a
// task request off its queue.
const StatusProcessing = "processing"

// Payload is the closed set of message bodies. The marker method seals the
// union so a type switch over it can be exhaustive; new kinds are added here,
// never via open-ended type checks.
type Payload interface {
	payload()
	Kind() Kind
}

// Priority orders tasks for agents that care. The fabric itself delivers FIFO
// regardless; priority is a hint for task bodies.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 9
)

// Task is the unit of work carried by a task request.
type Task struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Priority    Priority       `json:"priority"`
}

// TaskRequest asks the recipient to execute a task. The envelope id of the
// request doubles as the correlation id its response must carry.
type TaskRequest struct {
	Task Task `json:"task"`
}

func (TaskRequest) payload()   {}
func (TaskRequest) Kind() Kind { return KindTaskRequest }

// TaskResponse answers exactly one task request, identified by InReplyTo.
type TaskResponse struct {
	InReplyTo uuid.UUID      `json:"in_reply_to"`
	Result    map[string]any `json:"result,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
}

func (TaskResponse) payload()   {}
func (TaskResponse) Kind() Kind { return KindTaskResponse }

// StatusUpdate is a fire-and-forget progress note. It is never awaited and a
// requester is free to drop it unread.
type StatusUpdate struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (StatusUpdate) payload()   {}
func (StatusUpdate) Kind() Kind { return KindStatusUpdate }

// CapabilityAnnouncement advertises an agent's capabilities, optionally with a
// JSON schema describing the structured input it expects.
type CapabilityAnnouncement struct {
	Capabilities []string           `json:"capabilities"`
	InputSchema  *jsonschema.Schema `json:"input_schema,omitempty"`
}

func (CapabilityAnnouncement) payload()   {}
func (CapabilityAnnouncement) Kind() Kind { return KindCapabilityAnnouncement }

// Envelope is the routing wrapper around every payload. Recipient is an agent
// identity; capability resolution happens before an envelope is built.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Proto     string          `json:"proto"`
	Timestamp strfmt.DateTime `json:"timestamp"`
	Payload   Payload         `json:"payload"`
}

// Kind reports the payload's kind, or the empty kind for a zero envelope.
func (e Envelope) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

func newEnvelope(sender, recipient string, p Payload) Envelope {
	return Envelope{
		ID:        uuidx.New(),
		Sender:    sender,
		Recipient: recipient,
		Proto:     ProtocolVersion,
		Timestamp: strfmt.DateTime(time.Now()),
		Payload:   p,
	}
}

// NewTaskRequest builds a task request envelope addressed to an agent identity.
func NewTaskRequest(sender, recipient string, task Task) Envelope {
	return newEnvelope(sender, recipient, TaskRequest{Task: task})
}

// NewTaskResponse builds the response correlated to the request envelope id
// inReplyTo. A nil err marks success; otherwise the error message is carried
// and Success is false.
func NewTaskResponse(sender, recipient string, inReplyTo uuid.UUID, result map[string]any, err error) Envelope {
	resp := TaskResponse{InReplyTo: inReplyTo, Result: result, Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	return newEnvelope(sender, recipient, resp)
}

// NewStatusUpdate builds a progress note for taskID.
func NewStatusUpdate(sender, recipient, taskID, status string) Envelope {
	return newEnvelope(sender, recipient, StatusUpdate{TaskID: taskID, Status: status})
}

// NewCapabilityAnnouncement builds an announcement of the sender's
// capabilities. schema may be nil.
func NewCapabilityAnnouncement(sender, recipient string, capabilities []string, schema *jsonschema.Schema) Envelope {
	return newEnvelope(sender, recipient, CapabilityAnnouncement{Capabilities: capabilities, InputSchema: schema})
}
