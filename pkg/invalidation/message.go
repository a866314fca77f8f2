package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyMessage is returned for messages naming neither patterns nor keys.
var ErrEmptyMessage = errors.New("invalidation message has no patterns or keys")

// Message tells every process sharing a cache which entries became stale.
type Message struct {
	ID string `json:"id"`

	// Source is the data source the change came from, e.g. "shopify".
	Source string `json:"source"`

	Patterns []string `json:"patterns,omitempty"`
	Keys     []string `json:"keys,omitempty"`

	// Origin is the instance that published the message.
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh ID.
func NewMessage(source string, patterns, keys []string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Source:    source,
		Patterns:  patterns,
		Keys:      keys,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks that the message can be applied.
func (m *Message) Validate() error {
	if m == nil || (len(m.Patterns) == 0 && len(m.Keys) == 0) {
		return ErrEmptyMessage
	}
	return nil
}

// encodeMessage validates, stamps and marshals a message for the wire.
func encodeMessage(msg *Message, origin string) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Origin == "" {
		msg.Origin = origin
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invalidation message: %w", err)
	}
	return data, nil
}

func decodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal invalidation message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
