package log

import (
	"time"
)

// Event represents a log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the remote connection, reader or writer (UUID).
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// DataSource is the name of the data source involved, if any.
	DataSource string `cbor:"6,keyasint,omitempty"`

	// Channel is the channel name involved, if any.
	Channel string `cbor:"7,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame        *FrameEvent        `cbor:"10,keyasint,omitempty"` // Transport layer
	Message      *MessageEvent      `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange  *StateChangeEvent  `cbor:"12,keyasint,omitempty"` // Connection/reader state
	ControlMsg   *ControlMsgEvent   `cbor:"13,keyasint,omitempty"` // Ping/pong/close
	Error        *ErrorEventData    `cbor:"14,keyasint,omitempty"` // Errors at any layer
	Subscription *SubscriptionEvent `cbor:"15,keyasint,omitempty"` // Reader/writer attach and detach
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the remote protocol message layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerChannel is the channel handler layer.
	LayerChannel Layer = 2
	// LayerDataSource is the data source worker layer.
	LayerDataSource Layer = 3
	// LayerPV is the reader/writer handle layer.
	LayerPV Layer = 4
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerChannel:
		return "CHANNEL"
	case LayerDataSource:
		return "DATASOURCE"
	case LayerPV:
		return "PV"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message or channel value.
	CategoryMessage Category = 0
	// CategoryControl indicates a control message (ping/pong/close).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
	// CategorySubscription indicates a reader or writer attach/detach.
	CategorySubscription Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategorySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded remote protocol message at the wire layer,
// or a value delivered by a channel handler.
type MessageEvent struct {
	// Type distinguishes the message kind.
	Type MessageType `cbor:"1,keyasint"`

	// MessageID correlates write requests and results (0 otherwise).
	MessageID uint32 `cbor:"2,keyasint"`

	// SubscriptionID identifies the remote subscription, if any.
	SubscriptionID *uint32 `cbor:"3,keyasint,omitempty"`

	// Payload is the decoded value (CBOR-compatible representation).
	Payload any `cbor:"4,keyasint,omitempty"`
}

// MessageType distinguishes message kinds.
type MessageType uint8

const (
	// MessageTypeSubscribe is a client subscribe request.
	MessageTypeSubscribe MessageType = 0
	// MessageTypeUnsubscribe is a client unsubscribe request.
	MessageTypeUnsubscribe MessageType = 1
	// MessageTypeWrite is a client write request.
	MessageTypeWrite MessageType = 2
	// MessageTypeUpdate is a value update.
	MessageTypeUpdate MessageType = 3
	// MessageTypeConnection is a channel connection state report.
	MessageTypeConnection MessageType = 4
	// MessageTypeWriteResult is the result of a write request.
	MessageTypeWriteResult MessageType = 5
	// MessageTypeError is a per-subscription error report.
	MessageTypeError MessageType = 6
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
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
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection and handle lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a remote connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityChannel indicates a channel connect/disconnect.
	StateEntityChannel StateEntity = 1
	// StateEntityReader indicates a reader handle state change.
	StateEntityReader StateEntity = 2
	// StateEntityWriter indicates a writer handle state change.
	StateEntityWriter StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityChannel:
		return "CHANNEL"
	case StateEntityReader:
		return "READER"
	case StateEntityWriter:
		return "WRITER"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures transport-level control messages.
type ControlMsgEvent struct {
	// Type of control message.
	Type ControlMsgType `cbor:"1,keyasint"`
}

// ControlMsgType indicates the type of control message.
type ControlMsgType uint8

const (
	// ControlMsgPing indicates a ping message.
	ControlMsgPing ControlMsgType = 0
	// ControlMsgPong indicates a pong message.
	ControlMsgPong ControlMsgType = 1
	// ControlMsgClose indicates a close message.
	ControlMsgClose ControlMsgType = 2
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}

// SubscriptionEvent captures a reader or writer being attached to, or
// detached from, a channel.
type SubscriptionEvent struct {
	// Action performed.
	Action SubscriptionAction `cbor:"1,keyasint"`

	// Usage is the channel's total usage count after the action.
	Usage int `cbor:"2,keyasint"`
}

// SubscriptionAction identifies an attach or detach.
type SubscriptionAction uint8

const (
	// ActionAddReader attaches a reader.
	ActionAddReader SubscriptionAction = 0
	// ActionRemoveReader detaches a reader.
	ActionRemoveReader SubscriptionAction = 1
	// ActionAddWriter attaches a writer.
	ActionAddWriter SubscriptionAction = 2
	// ActionRemoveWriter detaches a writer.
	ActionRemoveWriter SubscriptionAction = 3
)

// String returns the action name.
func (a SubscriptionAction) String() string {
	switch a {
	case ActionAddReader:
		return "ADD_READER"
	case ActionRemoveReader:
		return "REMOVE_READER"
	case ActionAddWriter:
		return "ADD_WRITER"
	case ActionRemoveWriter:
		return "REMOVE_WRITER"
	default:
		return "UNKNOWN"
	}
}
