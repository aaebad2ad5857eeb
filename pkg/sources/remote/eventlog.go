package remote

import (
	"time"

	"github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/transport"
	"github.com/chanmux/chanmux-go/pkg/wire"
)

var messageTypes = map[wire.MessageType]log.MessageType{
	wire.MessageTypeSubscribe:   log.MessageTypeSubscribe,
	wire.MessageTypeUnsubscribe: log.MessageTypeUnsubscribe,
	wire.MessageTypeWrite:       log.MessageTypeWrite,
	wire.MessageTypeUpdate:      log.MessageTypeUpdate,
	wire.MessageTypeConnection:  log.MessageTypeConnection,
	wire.MessageTypeWriteResult: log.MessageTypeWriteResult,
	wire.MessageTypeError:       log.MessageTypeError,
}

var controlTypes = map[wire.MessageType]log.ControlMsgType{
	wire.MessageTypePing:  log.ControlMsgPing,
	wire.MessageTypePong:  log.ControlMsgPong,
	wire.MessageTypeClose: log.ControlMsgClose,
}

// logMessage records m as a wire layer event.
func logMessage(events log.Logger, ds string, conn transport.Conn, dir log.Direction, m *wire.Message) {
	if _, noop := events.(log.NoopLogger); noop {
		return
	}
	ev := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: conn.ID(),
		Direction:    dir,
		Layer:        log.LayerWire,
		DataSource:   ds,
		Channel:      m.Channel,
		RemoteAddr:   conn.RemoteAddr(),
	}
	if ct, ok := controlTypes[m.Type]; ok {
		ev.Category = log.CategoryControl
		ev.ControlMsg = &log.ControlMsgEvent{Type: ct}
		events.Log(ev)
		return
	}
	mt, ok := messageTypes[m.Type]
	if !ok {
		return
	}
	ev.Category = log.CategoryMessage
	ev.Message = &log.MessageEvent{Type: mt, MessageID: m.MessageID, Payload: m.Value}
	if m.SubscriptionID != 0 {
		sub := m.SubscriptionID
		ev.Message.SubscriptionID = &sub
	}
	if m.Failed() {
		ev.Category = log.CategoryError
		ev.Error = &log.ErrorEventData{Layer: log.LayerWire, Message: m.Error, Context: m.Code.String()}
	}
	events.Log(ev)
}
