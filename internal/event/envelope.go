package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMalformed signals bytes that do not parse as an envelope.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownType signals an envelope whose type has no payload mapping.
	ErrUnknownType = errors.New("unknown event type")
)

// Envelope is the message exchanged between services.
type Envelope struct {
	ID         string          `json:"id,omitempty"`
	Topic      Topic           `json:"topic"`
	Type       Type            `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt,omitzero"`

	// TransactionID is only set by legacy producers that put the
	// correlation id beside the payload instead of inside it.
	TransactionID string `json:"transactionId,omitempty"`
}

// New builds an envelope addressed to topic carrying p.
func New(topic Topic, p Payload) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", p.EventType(), err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Topic:      topic,
		Type:       p.EventType(),
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// Parse decodes an envelope from its JSON wire form.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// Marshal encodes the envelope to its JSON wire form.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// WithTopic returns a copy of the envelope addressed to topic.
func (e Envelope) WithTopic(topic Topic) Envelope {
	e.Topic = topic
	if e.Payload != nil {
		e.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return e
}
