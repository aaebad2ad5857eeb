// Command chanmux-server serves the built-in data sources to remote
// clients.
//
// Channels are available over the chanmux TCP transport and over WebSocket.
// The HTTP listener also exposes Prometheus metrics and a channel listing.
//
// Usage:
//
//	chanmux-server [flags]
//
// Flags:
//
//	-config string        YAML configuration file
//	-listen string        TCP listen address (default ":5064")
//	-http string          HTTP listen address, empty disables (default ":8064")
//	-file-root string     Root directory of the file data source
//	-mdns-name string     Advertise the server via mDNS under this name
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  File for the CBOR event log
//
// Example configuration:
//
//	listen: ":5064"
//	http: ":8064"
//	routing:
//	  defaultDataSource: loc
//	fileRoot: /var/lib/chanmux
//	sysPollInterval: 2s
//	mdns:
//	  name: plant-a
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	chlog "github.com/chanmux/chanmux-go/pkg/log"
)

var (
	configFile  string
	listen      string
	httpAddr    string
	fileRoot    string
	mdnsName    string
	logLevel    string
	protocolLog string
)

func init() {
	flag.StringVar(&configFile, "config", "", "YAML configuration file")
	flag.StringVar(&listen, "listen", "", "TCP listen address (default \":5064\")")
	flag.StringVar(&httpAddr, "http", DefaultHTTPAddress, "HTTP listen address, empty disables")
	flag.StringVar(&fileRoot, "file-root", "", "Root directory of the file data source")
	flag.StringVar(&mdnsName, "mdns-name", "", "Advertise the server via mDNS under this name")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&protocolLog, "protocol-log", "", "File for the CBOR event log")
}

func main() {
	flag.Parse()

	cfg := DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = LoadConfig(configFile); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
	}
	applyFlags(&cfg)

	logger := setupLogging(cfg.LogLevel)

	log.Println("chanmux Server")
	log.Println("==============")
	log.Printf("TCP: %s", cfg.Listen)
	if cfg.HTTP != "" {
		log.Printf("HTTP: %s (WebSocket %s)", cfg.HTTP, cfg.WebSocketPath)
	}
	log.Printf("Default data source: %s", cfg.Routing.DefaultDataSource)

	var eventLog chlog.Logger
	if cfg.ProtocolLog != "" {
		fl, err := chlog.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			log.Fatalf("Failed to open protocol log: %v", err)
		}
		defer fl.Close()
		eventLog = fl
		log.Printf("Protocol log: %s", cfg.ProtocolLog)
	}

	srv, err := NewServer(cfg, logger, eventLog)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		srv.Close()
		log.Fatalf("Failed to start server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down...")

	if err := srv.Close(); err != nil {
		log.Printf("Error stopping server: %v", err)
	}

	log.Println("Goodbye!")
}

// applyFlags copies the flags set on the command line into cfg.
func applyFlags(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = listen
		case "http":
			cfg.HTTP = httpAddr
		case "file-root":
			cfg.FileRoot = fileRoot
		case "mdns-name":
			cfg.MDNS.Name = mdnsName
		case "log-level":
			cfg.LogLevel = logLevel
		case "protocol-log":
			cfg.ProtocolLog = protocolLog
		}
	})
}

func setupLogging(level string) *slog.Logger {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
