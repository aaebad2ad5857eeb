package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{"subscribe", Subscribe(1, "sim://ramp(0,10,1)")},
		{"unsubscribe", Unsubscribe(1)},
		{"write", Write(7, 1, 2.5)},
		{"update", Update(1, "text")},
		{"connection", Connection(1, true, false)},
		{"write result", WriteResult(7, 1, ErrorCodeNone, nil)},
		{"error", Error(1, ErrorCodeNotFound, errors.New("no such channel"))},
		{"ping", Ping(3)},
		{"close", Close()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)

			typ, err := PeekType(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg.Type, typ)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg.Type, got.Type)
			assert.Equal(t, tt.msg.SubscriptionID, got.SubscriptionID)
			assert.Equal(t, tt.msg.MessageID, got.MessageID)
			assert.Equal(t, tt.msg.Channel, got.Channel)
			assert.Equal(t, tt.msg.Connected, got.Connected)
			assert.Equal(t, tt.msg.Code, got.Code)
			assert.Equal(t, tt.msg.Error, got.Error)
		})
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{"unknown type", &Message{Type: 99}},
		{"subscribe without id", Subscribe(0, "x")},
		{"subscribe without channel", Subscribe(1, "")},
		{"write without message id", Write(0, 1, 1)},
		{"update without subscription", Update(0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.msg)
			assert.Error(t, err)
		})
	}
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x00})
	assert.Error(t, err)
}

func TestWriteResult(t *testing.T) {
	ok := WriteResult(1, 2, ErrorCodeNone, nil)
	assert.False(t, ok.Failed())

	failed := WriteResult(1, 2, ErrorCodeNone, errors.New("boom"))
	assert.True(t, failed.Failed())
	assert.Equal(t, ErrorCodeInternal, failed.Code)
	assert.Equal(t, "boom", failed.Error)
}

func TestValuesSurviveNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"float", 2.5, 2.5},
		{"integer", 3, 3.0},
		{"negative", -4, -4.0},
		{"string", "x", "x"},
		{"bool", true, true},
		{"numbers", []float64{1, 2}, []float64{1, 2}},
		{"strings", []string{"a", "b"}, []string{"a", "b"}},
		{"mixed", []any{"a", 1.0}, []any{"a", 1.0}},
		{"map", map[string]any{"a": 1.0}, map[string]any{"a": 1.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(Update(1, tt.in))
			require.NoError(t, err)
			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Normalize(got.Value))
		})
	}
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "WRITE_RESULT", MessageTypeWriteResult.String())
	assert.Equal(t, "UNKNOWN", MessageType(200).String())
	assert.True(t, MessageTypePong.IsControl())
	assert.False(t, MessageTypeUpdate.IsControl())
	assert.Equal(t, "READ_ONLY", ErrorCodeReadOnly.String())
}
