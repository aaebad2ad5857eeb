// Command chanmux-probe reads and writes channels from the command line.
//
// Usage:
//
//	chanmux-probe [flags] [channel...]
//
// Flags:
//
//	-config string        Composite routing file (.yaml, .yml or .xml)
//	-default string       Data source for names without a prefix (default "loc")
//	-rate duration        Minimum interval between notifications (default 100ms)
//	-scan                 Notify at a fixed rate instead of on change
//	-timeout duration     Report a timeout if a channel does not connect in time
//	-remote string        Address of a chanmux-server (tcp://, ws:// or mdns://)
//	-write string         Write this value to every channel and exit
//	-file-root string     Root directory of the file data source
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  File for the CBOR event log
//	-interactive          Start the interactive shell
//
// Examples:
//
//	# Follow a simulated channel
//	chanmux-probe sim://sine(0,10,20,0.5)
//
//	# Set a local variable through a server
//	chanmux-probe -remote tcp://localhost:5064 -write 42 remote://loc://setpoint
//
//	# Interactive session with a protocol log
//	chanmux-probe -interactive -protocol-log probe.clog
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chanmux/chanmux-go/cmd/chanmux-probe/interactive"
	"github.com/chanmux/chanmux-go/cmd/chanmux-probe/probe"
	"github.com/chanmux/chanmux-go/pkg/datasource"
	chlog "github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/pv"
	"github.com/chanmux/chanmux-go/pkg/scan"
	"github.com/chanmux/chanmux-go/pkg/sources"
	"github.com/chanmux/chanmux-go/pkg/sources/local"
)

// Config holds the probe configuration.
type Config struct {
	ConfigFile  string
	Default     string
	Rate        time.Duration
	Scan        bool
	Timeout     time.Duration
	Remote      string
	Write       string
	FileRoot    string
	LogLevel    string
	ProtocolLog string
	Interactive bool
}

var config Config

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "Composite routing file (.yaml, .yml or .xml)")
	flag.StringVar(&config.Default, "default", local.Name, "Data source for names without a prefix")
	flag.DurationVar(&config.Rate, "rate", scan.DefaultMaxRate, "Minimum interval between notifications")
	flag.BoolVar(&config.Scan, "scan", false, "Notify at a fixed rate instead of on change")
	flag.DurationVar(&config.Timeout, "timeout", 0, "Report a timeout if a channel does not connect in time")
	flag.StringVar(&config.Remote, "remote", "", "Address of a chanmux-server (tcp://, ws:// or mdns://)")
	flag.StringVar(&config.Write, "write", "", "Write this value to every channel and exit")
	flag.StringVar(&config.FileRoot, "file-root", "", "Root directory of the file data source")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "File for the CBOR event log")
	flag.BoolVar(&config.Interactive, "interactive", false, "Start the interactive shell")
}

func main() {
	flag.Parse()
	os.Exit(run(flag.Args()))
}

func run(channels []string) int {

	if len(channels) == 0 && !config.Interactive {
		fmt.Fprintln(os.Stderr, "Usage: chanmux-probe [flags] <channel>...")
		flag.PrintDefaults()
		return 2
	}
	if config.Write != "" && len(channels) == 0 {
		log.Fatal("-write needs at least one channel")
	}

	logger := setupLogging(config.LogLevel)

	routing, err := loadRouting()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var eventLog chlog.Logger
	if config.ProtocolLog != "" {
		fl, err := chlog.NewFileLogger(config.ProtocolLog)
		if err != nil {
			log.Fatalf("Failed to open protocol log: %v", err)
		}
		defer fl.Close()
		eventLog = fl
		log.Printf("Protocol log: %s", config.ProtocolLog)
	}

	ds := sources.New(sources.Config{
		Routing:  routing,
		Logger:   logger,
		EventLog: eventLog,
		FileRoot: config.FileRoot,
		Remote:   config.Remote,
	})
	defer ds.Close()

	readCfg := pv.DefaultReadConfig()
	readCfg.MaxRate = config.Rate
	if config.Scan {
		readCfg.Scan = scan.ModeActive
	}
	readCfg.Timeout = config.Timeout
	executor := pv.NewSerialExecutor()
	defer executor.Close()
	readCfg.Executor = executor
	readCfg.Logger = logger
	readCfg.EventLog = eventLog

	writeCfg := pv.DefaultWriteConfig()
	writeCfg.Logger = logger
	writeCfg.EventLog = eventLog

	p := probe.New(ds, probe.Config{Read: readCfg, Write: writeCfg}, os.Stdout)
	defer p.CloseAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.Write != "" {
		return writeAll(ctx, p, channels)
	}

	for _, ch := range channels {
		if _, err := p.Read(ch); err != nil {
			log.Printf("Failed to read %s: %v", ch, err)
			return 1
		}
	}

	if config.Interactive {
		shell, err := interactive.New(p)
		if err != nil {
			log.Printf("Failed to start interactive mode: %v", err)
			return 1
		}
		log.SetOutput(shell.Stdout())
		go shell.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
	}
	return 0
}

func writeAll(ctx context.Context, p *probe.Probe, channels []string) int {
	value := probe.ParseValue(config.Write)
	status := 0
	for _, ch := range channels {
		if err := p.Write(ctx, ch, value); err != nil {
			log.Printf("%s: write failed: %v", ch, err)
			status = 1
			continue
		}
		log.Printf("%s: wrote %s", ch, probe.FormatValue(value))
	}
	return status
}

func loadRouting() (datasource.CompositeConfig, error) {
	routing := datasource.DefaultCompositeConfig()
	if config.ConfigFile != "" {
		var err error
		if routing, err = datasource.LoadCompositeConfig(config.ConfigFile); err != nil {
			return routing, err
		}
	}
	if routing.DefaultDataSource == "" {
		routing.DefaultDataSource = config.Default
	}
	return routing, nil
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
