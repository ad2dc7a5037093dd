package messages

import (
	"fmt"

	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MarshalJSON writes the envelope with an explicit kind marker so the payload
// union survives a round trip without reflection over open types.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("envelope %s has no payload", e.ID)
	}

	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}

	result := []byte(`{}`)
	for _, field := range []struct {
		path  string
		value any
	}{
		{"id", e.ID.String()},
		{"kind", string(e.Kind())},
		{"sender", e.Sender},
		{"recipient", e.Recipient},
		{"proto", e.Proto},
		{"timestamp", e.Timestamp.String()},
	} {
		result, err = sjson.SetBytes(result, field.path, field.value)
		if err != nil {
			return nil, err
		}
	}

	return sjson.SetRawBytes(result, "payload", body)
}

// UnmarshalJSON dispatches on the kind marker to pick the concrete payload
// type. Unknown kinds are an error here; dropping them is the message loop's
// call, not the codec's.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	parsed := gjson.ParseBytes(data)

	id, err := uuid.Parse(parsed.Get("id").String())
	if err != nil {
		return fmt.Errorf("envelope id: %w", err)
	}

	ts, err := strfmt.ParseDateTime(parsed.Get("timestamp").String())
	if err != nil {
		return fmt.Errorf("envelope timestamp: %w", err)
	}

	raw := []byte(parsed.Get("payload").Raw)
	var payload Payload
	switch kind := Kind(parsed.Get("kind").String()); kind {
	case KindTaskRequest:
		var p TaskRequest
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		payload = p
	case KindTaskResponse:
		var p TaskResponse
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		payload = p
	case KindStatusUpdate:
		var p StatusUpdate
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		payload = p
	case KindCapabilityAnnouncement:
		var p CapabilityAnnouncement
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		payload = p
	default:
		return fmt.Errorf("unknown message kind %q", kind)
	}

	*e = Envelope{
		ID:        id,
		Sender:    parsed.Get("sender").String(),
		Recipient: parsed.Get("recipient").String(),
		Proto:     parsed.Get("proto").String(),
		Timestamp: ts,
		Payload:   payload,
	}
	return nil
}
