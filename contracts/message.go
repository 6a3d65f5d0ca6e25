package contracts

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the role of a message on the bus.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindMethodCall
	KindMethodReturn
	KindError
	KindSignal
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMethodCall:
		return "method_call"
	case KindMethodReturn:
		return "method_return"
	case KindError:
		return "error"
	case KindSignal:
		return "signal"
	default:
		return "invalid"
	}
}

// ParseKind maps a wire name back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "method_call":
		return KindMethodCall, nil
	case "method_return":
		return KindMethodReturn, nil
	case "error":
		return KindError, nil
	case "signal":
		return KindSignal, nil
	default:
		return KindInvalid, fmt.Errorf("unknown message kind %q", s)
	}
}

// Message is a single unit of traffic exchanged over a bus connection.
//
// Serial is assigned by the transport when the message is enqueued and is
// unique among outstanding requests on that connection. ReplySerial is only
// set on replies (method returns and errors) and names the call being
// answered.
type Message struct {
	Kind        Kind
	Serial      uint32
	ReplySerial uint32
	Destination string
	Path        string
	Interface   string
	Member      string
	ErrorName   string
	Sender      string
	Headers     map[string]string
	Body        json.RawMessage
}

// NewMethodCall creates a method call addressed to an object on a destination.
func NewMethodCall(destination, path, iface, member string) *Message {
	return &Message{
		Kind:        KindMethodCall,
		Destination: destination,
		Path:        path,
		Interface:   iface,
		Member:      member,
	}
}

// NewSignal creates a broadcast signal originating from an object path.
func NewSignal(path, iface, member string) *Message {
	return &Message{
		Kind:      KindSignal,
		Path:      path,
		Interface: iface,
		Member:    member,
	}
}

// NewMethodReturn creates the successful reply to a method call. The reply is
// addressed back to the call's sender and correlated by the call's serial.
func NewMethodReturn(call *Message) *Message {
	return &Message{
		Kind:        KindMethodReturn,
		ReplySerial: call.Serial,
		Destination: call.Sender,
	}
}

// NewError creates the failed reply to a method call. The error name is a
// stable machine-readable identifier; text is a human-readable description
// carried in the body.
func NewError(call *Message, name, text string) *Message {
	m := &Message{
		Kind:        KindError,
		ReplySerial: call.Serial,
		Destination: call.Sender,
		ErrorName:   name,
	}
	if text != "" {
		m.Body, _ = json.Marshal(text)
	}
	return m
}

// IsReply reports whether the message answers an earlier method call.
func (m *Message) IsReply() bool {
	return m.Kind == KindMethodReturn || m.Kind == KindError
}

// Err converts an error reply into a *BusError. It returns nil for every
// other message kind.
func (m *Message) Err() error {
	if m.Kind != KindError {
		return nil
	}
	e := &BusError{Name: m.ErrorName}
	if e.Name == "" {
		e.Name = ErrorNameFailed
	}
	if len(m.Body) > 0 {
		var text string
		if err := json.Unmarshal(m.Body, &text); err == nil {
			e.Text = text
		}
	}
	return e
}

// SetBody marshals v into the message body.
func (m *Message) SetBody(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message body: %w", err)
	}
	m.Body = data
	return nil
}

// UnmarshalBody unmarshals the message body into v.
func (m *Message) UnmarshalBody(v any) error {
	if len(m.Body) == 0 {
		return fmt.Errorf("message has no body")
	}
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("unmarshal message body: %w", err)
	}
	return nil
}

// SetHeader sets a header, allocating the map on first use.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}
