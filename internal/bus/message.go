package bus

import (
	"encoding/json"
	"time"
)

// Message is the wire envelope every queue carries: {command, payload,
// timestamp, correlation_id, retry_count}.
type Message struct {
	Command       string          `json:"command"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	RetryCount    int             `json:"retry_count"`
}

// Envelope is the delivered form of a Message: the decoded wire fields
// plus broker bookkeeping a Handler needs to Ack/Nack it.
type Envelope struct {
	Message
	deliveryID string
	queue      string
}

// NewEnvelope constructs an Envelope directly, used by tests in other
// packages that need to feed a Handler without a real broker.
func NewEnvelope(msg Message, deliveryID, queue string) *Envelope {
	return &Envelope{Message: msg, deliveryID: deliveryID, queue: queue}
}

// DeliveryID is the broker-assigned id used to Ack/Nack this delivery.
func (e *Envelope) DeliveryID() string { return e.deliveryID }

// Queue is the name of the stream/queue this envelope was read from.
func (e *Envelope) Queue() string { return e.queue }

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

func newMessage(command string, payload interface{}, correlationID string, retryCount int) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Command:       command,
		Payload:       raw,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		RetryCount:    retryCount,
	}, nil
}
