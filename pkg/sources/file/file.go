// Package file implements the "file" backend: each channel is a file whose
// trimmed content is the value. Content that parses as a number is
// delivered as float64, anything else as string.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/chanmux/chanmux-go/pkg/datasource"
)

// Name is the conventional backend name.
const Name = "file"

// Channel watches one file while in use. The connection payload reports
// whether the file exists.
type Channel struct {
	*datasource.MultiplexedChannelHandler[bool, any]

	path   string
	logger *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// Connect starts watching the directory of the file and publishes the
// current content.
func (c *Channel) Connect() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so atomic replaces are seen.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	c.mu.Lock()
	c.watcher = watcher
	c.mu.Unlock()

	c.wg.Add(1)
	go c.watchLoop(watcher)
	c.reload()
	return nil
}

func (c *Channel) watchLoop(w *fsnotify.Watcher) {
	defer c.wg.Done()
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != c.path {
				continue
			}
			c.logger.Debug("file changed", "path", c.path, "event", event.Op.String())
			c.reload()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.logger.Warn("file watcher error", "path", c.path, "error", err)
			c.ReportError(err)
		}
	}
}

// reload reads the file and publishes connection and value.
func (c *Channel) reload() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		c.ProcessConnection(false)
		if !errors.Is(err, fs.ErrNotExist) {
			c.ReportError(err)
		}
		return
	}
	c.ProcessConnection(true)
	c.ProcessMessage(parseContent(data))
}

// Disconnect stops the watcher.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	c.wg.Wait()
	return err
}

// CheckConnected implements datasource.ConnectionChecker.
func (c *Channel) CheckConnected(exists bool) bool { return exists }

// CheckWriteConnected implements datasource.WriteConnectionChecker. A
// missing file is created by the first write.
func (c *Channel) CheckWriteConnected(bool) bool { return true }

// WriteValue implements datasource.ChannelWriter. The file is replaced
// atomically.
func (c *Channel) WriteValue(value any, done func(error)) {
	done(writeAtomic(c.path, formatValue(value)))
}

func writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

func parseContent(data []byte) any {
	s := strings.TrimSpace(string(data))
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func formatValue(v any) []byte {
	switch x := v.(type) {
	case float64:
		return []byte(strconv.FormatFloat(x, 'g', -1, 64) + "\n")
	case float32:
		return []byte(strconv.FormatFloat(float64(x), 'g', -1, 32) + "\n")
	case string:
		return []byte(x + "\n")
	case []byte:
		return x
	default:
		return []byte(fmt.Sprint(v) + "\n")
	}
}

// Config configures a Source.
type Config struct {
	datasource.Config

	// Root resolves relative channel names. Empty means the working
	// directory.
	Root string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Config: datasource.DefaultConfig(Name)}
}

// Source is the file data source.
type Source struct {
	*datasource.Base
	opts datasource.HandlerOptions
	root string
}

// New creates a file data source.
func New(config Config) *Source {
	if config.Name == "" {
		config.Name = Name
	}
	s := &Source{
		opts: datasource.HandlerOptions{
			DataSource: config.Name,
			Logger:     config.Logger,
			EventLog:   config.EventLog,
			Metrics:    config.Metrics,
		},
		root: config.Root,
	}
	if s.opts.Logger == nil {
		s.opts.Logger = slog.Default()
	}
	s.Base = datasource.NewBase(s, config.Config)
	return s
}

// Provider returns a provider creating file data sources.
func Provider(config Config) datasource.Provider {
	name := config.Name
	if name == "" {
		name = Name
	}
	return datasource.ProviderFunc(name, func() (datasource.DataSource, error) {
		return New(config), nil
	})
}

// CreateChannel implements datasource.ChannelFactory.
func (s *Source) CreateChannel(name string) (datasource.ChannelHandler, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	c := &Channel{path: path, logger: s.opts.Logger}
	c.MultiplexedChannelHandler = datasource.NewMultiplexedChannelHandler[bool, any](path, c, s.opts)
	return c, nil
}

// ChannelHandlerLookupName implements datasource.LookupNamer so different
// spellings of one path share a channel.
func (s *Source) ChannelHandlerLookupName(name string) string {
	path, err := s.resolve(name)
	if err != nil {
		return name
	}
	return path
}

func (s *Source) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty file name", datasource.ErrMalformedChannelName)
	}
	if !filepath.IsAbs(name) && s.root != "" {
		name = filepath.Join(s.root, name)
	}
	return filepath.Abs(name)
}

var (
	_ datasource.ChannelWriter = (*Channel)(nil)
	_ datasource.LookupNamer   = (*Source)(nil)
)
