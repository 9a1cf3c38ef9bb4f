package kafka

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// DLQError marks a failure that retrying cannot fix. The consumer sends the
// message straight to the dead-letter topic.
type DLQError struct {
	Err    error
	Reason string
}

func (e *DLQError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *DLQError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func DLQ(err error, reason string) error {
	if err == nil {
		return nil
	}
	return &DLQError{Err: err, Reason: reason}
}

const (
	StageConsume = "consume"
	StagePublish = "publish"
)

// DeadLetter is written to the dead-letter topic both for messages a
// consumer gave up on and for events a producer could not publish.
type DeadLetter struct {
	Stage         string    `json:"stage"`
	OriginalTopic string    `json:"original_topic"`
	Partition     *int32    `json:"partition,omitempty"`
	Offset        *int64    `json:"offset,omitempty"`
	Key           string    `json:"key,omitempty"`
	EventType     string    `json:"event_type,omitempty"`
	EventID       string    `json:"event_id,omitempty"`
	Reason        string    `json:"reason"`
	Error         string    `json:"error"`
	Attempts      int       `json:"attempts"`
	Payload       string    `json:"payload_base64,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func consumeDeadLetter(msg *sarama.ConsumerMessage, err *DLQError, attempts int) DeadLetter {
	dl := DeadLetter{
		Stage:         StageConsume,
		OriginalTopic: msg.Topic,
		Partition:     &msg.Partition,
		Offset:        &msg.Offset,
		Key:           string(msg.Key),
		EventType:     headerValue(msg.Headers, HeaderEventType),
		EventID:       headerValue(msg.Headers, HeaderEventID),
		Reason:        err.Reason,
		Error:         err.Error(),
		Attempts:      attempts,
		Timestamp:     time.Now().UTC(),
	}
	if err.Err != nil {
		dl.Error = err.Err.Error()
	}
	if len(msg.Value) > 0 {
		dl.Payload = base64.StdEncoding.EncodeToString(msg.Value)
	}
	return dl
}

func publishDeadLetter(topic, key string, value any, err error) DeadLetter {
	dl := DeadLetter{
		Stage:         StagePublish,
		OriginalTopic: topic,
		Key:           key,
		Reason:        "publish_failed",
		Attempts:      1,
		Timestamp:     time.Now().UTC(),
	}
	if err != nil {
		dl.Error = err.Error()
	}
	if env, ok := envelopeOf(value); ok {
		dl.EventType = env.EventType
		dl.EventID = env.EventID
	}
	if raw, marshalErr := json.Marshal(value); marshalErr == nil {
		dl.Payload = base64.StdEncoding.EncodeToString(raw)
	}
	return dl
}

func headerValue(headers []*sarama.RecordHeader, key string) string {
	for _, h := range headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}
