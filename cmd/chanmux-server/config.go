package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chanmux/chanmux-go/pkg/datasource"
	"github.com/chanmux/chanmux-go/pkg/sources/local"
	"github.com/chanmux/chanmux-go/pkg/transport"
)

// DefaultHTTPAddress serves the WebSocket, metrics and channel endpoints.
const DefaultHTTPAddress = ":8064"

// DefaultWebSocketPath is the HTTP path of the WebSocket endpoint.
const DefaultWebSocketPath = "/ws"

// Config holds the server configuration. It is read from a YAML file and
// command line flags override single fields.
type Config struct {
	// Listen is the TCP address of the chanmux transport.
	Listen string `yaml:"listen"`

	// HTTP is the address of the HTTP endpoints. Empty disables them.
	HTTP string `yaml:"http"`

	// WebSocketPath is the HTTP path of the WebSocket endpoint.
	WebSocketPath string `yaml:"websocketPath"`

	// Routing is the composite routing of the served data sources.
	Routing datasource.CompositeConfig `yaml:"routing"`

	// FileRoot resolves relative names of the file data source.
	FileRoot string `yaml:"fileRoot"`

	// SysPollInterval is the refresh interval of the sys data source.
	SysPollInterval time.Duration `yaml:"sysPollInterval"`

	// MDNS advertises the server when Name is set.
	MDNS MDNSConfig `yaml:"mdns"`

	LogLevel    string `yaml:"logLevel"`
	ProtocolLog string `yaml:"protocolLog"`
}

// MDNSConfig configures the mDNS advertisement.
type MDNSConfig struct {
	Name      string `yaml:"name"`
	Interface string `yaml:"interface"`
}

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() Config {
	routing := datasource.DefaultCompositeConfig()
	routing.DefaultDataSource = local.Name
	return Config{
		Listen:        fmt.Sprintf(":%d", transport.DefaultPort),
		HTTP:          DefaultHTTPAddress,
		WebSocketPath: DefaultWebSocketPath,
		Routing:       routing,
		LogLevel:      "info",
	}
}

// LoadConfig reads path over DefaultConfig. A missing file yields the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Routing.Delimiter == "" {
		cfg.Routing.Delimiter = datasource.DefaultDelimiter
	}
	if cfg.WebSocketPath == "" {
		cfg.WebSocketPath = DefaultWebSocketPath
	}
	return cfg, nil
}
