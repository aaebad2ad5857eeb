package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/chanmux/chanmux-go/pkg/log"
)

type captureLogger struct {
	events []log.Event
}

func (c *captureLogger) Log(ev log.Event) { c.events = append(c.events, ev) }

func TestFramerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramer(&buf)

	msgs := [][]byte{{0x01}, []byte("hello"), bytes.Repeat([]byte{0xAB}, 70000)}
	for _, m := range msgs {
		if err := f.WriteFrame(m); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for i, want := range msgs {
		got, err := f.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d: got %d bytes, want %d", i, len(got), len(want))
		}
	}
	if _, err := f.ReadFrame(); err != io.EOF {
		t.Errorf("ReadFrame at end = %v, want io.EOF", err)
	}
}

func TestFramerLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFramer(&buf).WriteFrame([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 0, 0, 3, 1, 2, 3}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("wire bytes = %x, want %x", buf.Bytes(), want)
	}
	if FrameSize(3) != 7 {
		t.Errorf("FrameSize(3) = %d", FrameSize(3))
	}
}

func TestFramerErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"zero length", []byte{0, 0, 0, 0}, ErrMessageEmpty},
		{"too large", []byte{0, 0, 0, 9, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ErrMessageTooLarge},
		{"short prefix", []byte{0, 0}, ErrFrameTruncated},
		{"short payload", []byte{0, 0, 0, 5, 1, 2}, ErrFrameTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramerWithMaxSize(bytes.NewBuffer(tt.input), 8)
			_, err := f.ReadFrame()
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadFrame error = %v, want %v", err, tt.want)
			}
		})
	}

	f := NewFramerWithMaxSize(&bytes.Buffer{}, 4)
	if err := f.WriteFrame(nil); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("WriteFrame(nil) = %v", err)
	}
	if err := f.WriteFrame([]byte("12345")); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("WriteFrame(oversized) = %v", err)
	}
}

func TestFramerLogsFrames(t *testing.T) {
	var buf bytes.Buffer
	logger := &captureLogger{}
	f := NewFramer(&buf)
	f.SetLogger(logger, "conn-1", "127.0.0.1:1")

	big := bytes.Repeat([]byte{7}, MaxLogFrameDataSize+10)
	if err := f.WriteFrame(big); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ReadFrame(); err != nil {
		t.Fatal(err)
	}

	if len(logger.events) != 2 {
		t.Fatalf("logged %d events, want 2", len(logger.events))
	}
	out, in := logger.events[0], logger.events[1]
	if out.Direction != log.DirectionOut || in.Direction != log.DirectionIn {
		t.Errorf("directions = %v, %v", out.Direction, in.Direction)
	}
	if out.ConnectionID != "conn-1" || out.Layer != log.LayerTransport {
		t.Errorf("unexpected event %+v", out)
	}
	if !out.Frame.Truncated || len(out.Frame.Data) != MaxLogFrameDataSize {
		t.Errorf("frame data not truncated: %d bytes", len(out.Frame.Data))
	}
	if out.Frame.Size != FrameSize(len(big)) {
		t.Errorf("frame size = %d", out.Frame.Size)
	}
}
