// Package probe keeps the readers and writers opened by chanmux-probe.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chanmux/chanmux-go/pkg/datasource"
	"github.com/chanmux/chanmux-go/pkg/pv"
)

// ErrUnknownHandle is returned for a handle number that is not open.
var ErrUnknownHandle = errors.New("unknown handle")

// Config configures a Probe.
type Config struct {
	Read  pv.ReadConfig
	Write pv.WriteConfig

	// WriteTimeout bounds Write.
	WriteTimeout time.Duration
}

// Handle describes one open reader.
type Handle struct {
	ID        int
	Channel   string
	Connected bool
	Paused    bool
	Value     any
	HasValue  bool
}

// Probe opens readers and writers on a data source and prints what they
// report to an output.
type Probe struct {
	ds     datasource.DataSource
	config Config

	outMu sync.Mutex
	out   io.Writer

	mu      sync.Mutex
	readers map[int]*pv.Reader[any]
	writers map[string]*pv.Writer[any]
	nextID  int
}

// New creates a probe on ds that prints to out.
func New(ds datasource.DataSource, config Config, out io.Writer) *Probe {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	return &Probe{
		ds:      ds,
		config:  config,
		out:     out,
		readers: make(map[int]*pv.Reader[any]),
		writers: make(map[string]*pv.Writer[any]),
	}
}

// SetOutput replaces the output.
func (p *Probe) SetOutput(out io.Writer) {
	p.outMu.Lock()
	p.out = out
	p.outMu.Unlock()
}

func (p *Probe) printf(format string, args ...any) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// Read opens a reader on channel and returns its handle number.
func (p *Probe) Read(channel string) (int, error) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	r, err := pv.Read[any](p.ds, pv.Channel[any](channel), p.config.Read, func(ev pv.ReaderEvent, r *pv.Reader[any]) {
		p.report(id, channel, ev, r)
	})
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.readers[id] = r
	p.mu.Unlock()
	return id, nil
}

func (p *Probe) report(id int, channel string, ev pv.ReaderEvent, r *pv.Reader[any]) {
	if ev.Err != nil {
		p.printf("[%d] %s error: %v\n", id, channel, ev.Err)
	}
	if ev.Connection {
		state := "disconnected"
		if r.IsConnected() {
			state = "connected"
		}
		p.printf("[%d] %s %s\n", id, channel, state)
	}
	if ev.Value {
		if v, ok := r.Value(); ok {
			p.printf("[%d] %s = %s\n", id, channel, FormatValue(v))
		}
	}
}

// Write writes value to channel and waits for the outcome. The writer is
// kept open for later writes to the same channel.
func (p *Probe) Write(ctx context.Context, channel string, value any) error {
	p.mu.Lock()
	w, ok := p.writers[channel]
	if !ok {
		var err error
		w, err = pv.Write[any](p.ds, channel, p.config.Write, nil)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		p.writers[channel] = w
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.config.WriteTimeout)
	defer cancel()
	return w.WriteAndWait(ctx, value)
}

// Close closes the reader with handle id.
func (p *Probe) Close(id int) error {
	p.mu.Lock()
	r, ok := p.readers[id]
	delete(p.readers, id)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, id)
	}
	r.Close()
	return nil
}

// Pause stops the notifications of reader id.
func (p *Probe) Pause(id int) error {
	r, err := p.reader(id)
	if err != nil {
		return err
	}
	r.Pause()
	return nil
}

// Resume restarts the notifications of reader id.
func (p *Probe) Resume(id int) error {
	r, err := p.reader(id)
	if err != nil {
		return err
	}
	r.Resume()
	return nil
}

func (p *Probe) reader(id int) (*pv.Reader[any], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.readers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, id)
	}
	return r, nil
}

// Handles returns the open readers ordered by handle number.
func (p *Probe) Handles() []Handle {
	p.mu.Lock()
	readers := maps.Clone(p.readers)
	p.mu.Unlock()

	handles := make([]Handle, 0, len(readers))
	for _, id := range slices.Sorted(maps.Keys(readers)) {
		r := readers[id]
		v, ok := r.Value()
		handles = append(handles, Handle{
			ID:        id,
			Channel:   r.Name(),
			Connected: r.IsConnected(),
			Paused:    r.IsPaused(),
			Value:     v,
			HasValue:  ok,
		})
	}
	return handles
}

// Channels returns the properties of every channel of the data source,
// ordered by name.
func (p *Probe) Channels() []map[string]any {
	chans := p.ds.Channels()
	out := make([]map[string]any, 0, len(chans))
	for _, name := range slices.Sorted(maps.Keys(chans)) {
		props := chans[name].Properties()
		props["name"] = name
		out = append(out, props)
	}
	return out
}

// CloseAll closes every reader and writer.
func (p *Probe) CloseAll() {
	p.mu.Lock()
	readers := p.readers
	writers := p.writers
	p.readers = make(map[int]*pv.Reader[any])
	p.writers = make(map[string]*pv.Writer[any])
	p.mu.Unlock()

	for _, r := range readers {
		r.Close()
	}
	for _, w := range writers {
		w.Close()
	}
}

// ParseValue converts command line text to a value: numbers become
// float64, true and false become bool, JSON arrays become slices and
// anything else is a string. Surrounding quotes force a string.
func ParseValue(s string) any {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if strings.HasPrefix(s, "[") {
		var list []any
		if err := json.Unmarshal([]byte(s), &list); err == nil {
			return list
		}
	}
	return s
}

// FormatValue renders v for display.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []byte:
		return fmt.Sprintf("%x", x)
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}
