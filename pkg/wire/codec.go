package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode encodes deterministically with integer keys.
var encMode cbor.EncMode

// decMode is lenient so newer peers can add keys.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encode validates and encodes a message.
func Encode(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return Marshal(m)
}

// Decode decodes and validates a message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return &m, nil
}

// PeekType returns the type of an encoded message without decoding the
// value.
func PeekType(data []byte) (MessageType, error) {
	var peek struct {
		Type MessageType `cbor:"1,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return MessageTypeUnknown, fmt.Errorf("failed to peek message: %w", err)
	}
	return peek.Type, nil
}

// Normalize converts a decoded CBOR value to the plain Go values backends
// deliver: integers become float64, maps get string keys, and uniform
// arrays become []float64 or []string.
func Normalize(v any) any {
	switch x := v.(type) {
	case uint64:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case []any:
		return normalizeSlice(x)
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = Normalize(e)
		}
		return out
	default:
		return v
	}
}

func normalizeSlice(in []any) any {
	if len(in) == 0 {
		return in
	}
	out := make([]any, len(in))
	allNums, allStrs := true, true
	for i, e := range in {
		out[i] = Normalize(e)
		switch out[i].(type) {
		case float64:
			allStrs = false
		case string:
			allNums = false
		default:
			allNums, allStrs = false, false
		}
	}
	switch {
	case allNums:
		nums := make([]float64, len(out))
		for i, e := range out {
			nums[i] = e.(float64)
		}
		return nums
	case allStrs:
		strs := make([]string, len(out))
		for i, e := range out {
			strs[i] = e.(string)
		}
		return strs
	}
	return out
}
