package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is embedded in every event published by the services.
type Envelope struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	EventVersion  int       `json:"event_version"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func NewEnvelope(eventType string, version int, correlationID string) (Envelope, error) {
	return NewEnvelopeWithID(uuid.NewString(), eventType, version, correlationID)
}

func NewEnvelopeWithID(eventID, eventType string, version int, correlationID string) (Envelope, error) {
	env := Envelope{
		EventID:       eventID,
		EventType:     eventType,
		EventVersion:  version,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DeterministicEventID derives a stable id so redelivered events can be
// deduplicated by consumers.
func DeterministicEventID(parts ...string) string {
	joined := strings.Join(parts, "|")
	if joined == "" {
		return uuid.Nil.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(joined)).String()
}

func (e Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.EventVersion <= 0 {
		return fmt.Errorf("event_version must be positive")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Decode unmarshals raw into dst and validates the embedded envelope of the
// expected type. Failures are wrapped for the dead-letter topic.
func Decode(raw []byte, expectedType string, dst interface{ GetEnvelope() Envelope }) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return DLQ(fmt.Errorf("decode event: %w", err), "decode")
	}
	env := dst.GetEnvelope()
	if err := env.Validate(); err != nil {
		return DLQ(err, "invalid_envelope")
	}
	if expectedType != "" && env.EventType != expectedType {
		return DLQ(fmt.Errorf("unexpected event type %q", env.EventType), "unexpected_type")
	}
	return nil
}

func (e Envelope) GetEnvelope() Envelope { return e }
