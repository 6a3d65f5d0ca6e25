package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"

	"github.com/jcristau/busfutures/contracts"
)

// envelope is the JSON wire form of a contracts.Message on AMQP.
type envelope struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Serial      uint32            `json:"serial,omitempty"`
	ReplySerial uint32            `json:"replySerial,omitempty"`
	Destination string            `json:"destination,omitempty"`
	Path        string            `json:"path,omitempty"`
	Interface   string            `json:"interface,omitempty"`
	Member      string            `json:"member,omitempty"`
	ErrorName   string            `json:"errorName,omitempty"`
	Sender      string            `json:"sender,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        json.RawMessage   `json:"body,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// encodeEnvelope serializes msg into its wire form. The returned slice is
// owned by the caller.
func encodeEnvelope(msg *contracts.Message) ([]byte, error) {
	env := envelope{
		ID:          uuid.New().String(),
		Kind:        msg.Kind.String(),
		Serial:      msg.Serial,
		ReplySerial: msg.ReplySerial,
		Destination: msg.Destination,
		Path:        msg.Path,
		Interface:   msg.Interface,
		Member:      msg.Member,
		ErrorName:   msg.ErrorName,
		Sender:      msg.Sender,
		Headers:     msg.Headers,
		Body:        msg.Body,
		Timestamp:   time.Now().UTC(),
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(&env); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// decodeEnvelope parses a wire envelope back into a contracts.Message.
func decodeEnvelope(data []byte) (*contracts.Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	kind, err := contracts.ParseKind(env.Kind)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &contracts.Message{
		Kind:        kind,
		Serial:      env.Serial,
		ReplySerial: env.ReplySerial,
		Destination: env.Destination,
		Path:        env.Path,
		Interface:   env.Interface,
		Member:      env.Member,
		ErrorName:   env.ErrorName,
		Sender:      env.Sender,
		Headers:     env.Headers,
		Body:        env.Body,
	}, nil
}
