package transport

import (
	"encoding/json"
	"fmt"

	"github.com/muster-io/muster/pkg/fleet"
)

// Event payload codec
//
// Encoding events to bytes is the transport layer's concern, not the
// bus's. Events cross the wire as JSON; the envelope carrying the origin
// is each implementation's private business.

// EncodeEvent serializes an event for the wire.
func EncodeEvent(ev *fleet.Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
	}
	return payload, nil
}

// DecodeEvent deserializes a wire payload back into an event and
// validates it. Malformed payloads are rejected rather than injected
// into the bus.
func DecodeEvent(payload []byte) (*fleet.Event, error) {
	var ev fleet.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event payload: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("decoded event is invalid: %w", err)
	}
	return &ev, nil
}
