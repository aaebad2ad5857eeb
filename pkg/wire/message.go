package wire

import (
	"fmt"
)

// MessageType identifies a message.
type MessageType uint8

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeSubscribe
	MessageTypeUnsubscribe
	MessageTypeWrite
	MessageTypeUpdate
	MessageTypeConnection
	MessageTypeWriteResult
	MessageTypeError
	MessageTypePing
	MessageTypePong
	MessageTypeClose
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageTypeSubscribe:
		return "SUBSCRIBE"
	case MessageTypeUnsubscribe:
		return "UNSUBSCRIBE"
	case MessageTypeWrite:
		return "WRITE"
	case MessageTypeUpdate:
		return "UPDATE"
	case MessageTypeConnection:
		return "CONNECTION"
	case MessageTypeWriteResult:
		return "WRITE_RESULT"
	case MessageTypeError:
		return "ERROR"
	case MessageTypePing:
		return "PING"
	case MessageTypePong:
		return "PONG"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// IsControl reports whether t is a ping, pong or close.
func (t MessageType) IsControl() bool {
	return t == MessageTypePing || t == MessageTypePong || t == MessageTypeClose
}

// ErrorCode classifies an error reported by the server.
type ErrorCode uint8

const (
	ErrorCodeNone ErrorCode = iota
	ErrorCodeNotFound
	ErrorCodeReadOnly
	ErrorCodeNotWriteConnected
	ErrorCodeTypeMismatch
	ErrorCodeInvalidRequest
	ErrorCodeInternal
)

// String returns the error code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeNone:
		return "NONE"
	case ErrorCodeNotFound:
		return "NOT_FOUND"
	case ErrorCodeReadOnly:
		return "READ_ONLY"
	case ErrorCodeNotWriteConnected:
		return "NOT_WRITE_CONNECTED"
	case ErrorCodeTypeMismatch:
		return "TYPE_MISMATCH"
	case ErrorCodeInvalidRequest:
		return "INVALID_REQUEST"
	case ErrorCodeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Message is the single envelope for every message type. Which fields are
// set depends on Type.
//
// CBOR encoding:
//
//	{
//	  1: type,            // uint8
//	  2: messageId,       // uint32, WRITE and WRITE_RESULT, PING/PONG sequence
//	  3: subscriptionId,  // uint32
//	  4: channel,         // string, SUBSCRIBE
//	  5: value,           // UPDATE and WRITE
//	  6: connected,       // bool, CONNECTION
//	  7: writeConnected,  // bool, CONNECTION
//	  8: error,           // string, WRITE_RESULT and ERROR
//	  9: code             // uint8, WRITE_RESULT and ERROR
//	}
type Message struct {
	Type           MessageType `cbor:"1,keyasint"`
	MessageID      uint32      `cbor:"2,keyasint,omitempty"`
	SubscriptionID uint32      `cbor:"3,keyasint,omitempty"`
	Channel        string      `cbor:"4,keyasint,omitempty"`
	Value          any         `cbor:"5,keyasint,omitempty"`
	Connected      bool        `cbor:"6,keyasint,omitempty"`
	WriteConnected bool        `cbor:"7,keyasint,omitempty"`
	Error          string      `cbor:"8,keyasint,omitempty"`
	Code           ErrorCode   `cbor:"9,keyasint,omitempty"`
}

// Validate checks the fields each type requires.
func (m *Message) Validate() error {
	switch m.Type {
	case MessageTypeSubscribe:
		if m.SubscriptionID == 0 {
			return fmt.Errorf("%s: subscription id 0 is reserved", m.Type)
		}
		if m.Channel == "" {
			return fmt.Errorf("%s: empty channel", m.Type)
		}
	case MessageTypeUnsubscribe, MessageTypeUpdate, MessageTypeConnection:
		if m.SubscriptionID == 0 {
			return fmt.Errorf("%s: subscription id 0 is reserved", m.Type)
		}
	case MessageTypeWrite, MessageTypeWriteResult:
		if m.SubscriptionID == 0 || m.MessageID == 0 {
			return fmt.Errorf("%s: missing subscription or message id", m.Type)
		}
	case MessageTypeError, MessageTypePing, MessageTypePong, MessageTypeClose:
	default:
		return fmt.Errorf("invalid message type: %d", m.Type)
	}
	return nil
}

// Failed reports whether a WRITE_RESULT or ERROR carries an error.
func (m *Message) Failed() bool {
	return m.Error != "" || m.Code != ErrorCodeNone
}

// Subscribe returns a SUBSCRIBE message.
func Subscribe(sub uint32, channel string) *Message {
	return &Message{Type: MessageTypeSubscribe, SubscriptionID: sub, Channel: channel}
}

// Unsubscribe returns an UNSUBSCRIBE message.
func Unsubscribe(sub uint32) *Message {
	return &Message{Type: MessageTypeUnsubscribe, SubscriptionID: sub}
}

// Write returns a WRITE message.
func Write(id, sub uint32, value any) *Message {
	return &Message{Type: MessageTypeWrite, MessageID: id, SubscriptionID: sub, Value: value}
}

// Update returns an UPDATE message.
func Update(sub uint32, value any) *Message {
	return &Message{Type: MessageTypeUpdate, SubscriptionID: sub, Value: value}
}

// Connection returns a CONNECTION message.
func Connection(sub uint32, connected, writeConnected bool) *Message {
	return &Message{Type: MessageTypeConnection, SubscriptionID: sub, Connected: connected, WriteConnected: writeConnected}
}

// WriteResult returns a WRITE_RESULT message. A nil error is success.
func WriteResult(id, sub uint32, code ErrorCode, err error) *Message {
	m := &Message{Type: MessageTypeWriteResult, MessageID: id, SubscriptionID: sub, Code: code}
	if err != nil {
		m.Error = err.Error()
		if code == ErrorCodeNone {
			m.Code = ErrorCodeInternal
		}
	}
	return m
}

// Error returns an ERROR message for a subscription, or for the connection
// when sub is 0.
func Error(sub uint32, code ErrorCode, err error) *Message {
	return &Message{Type: MessageTypeError, SubscriptionID: sub, Code: code, Error: err.Error()}
}

// Ping returns a PING message with a sequence number.
func Ping(seq uint32) *Message {
	return &Message{Type: MessageTypePing, MessageID: seq}
}

// Pong returns the answer to a PING.
func Pong(seq uint32) *Message {
	return &Message{Type: MessageTypePong, MessageID: seq}
}

// Close returns a CLOSE message.
func Close() *Message {
	return &Message{Type: MessageTypeClose}
}
