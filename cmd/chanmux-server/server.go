package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chanmux/chanmux-go/pkg/datasource"
	"github.com/chanmux/chanmux-go/pkg/discovery"
	chlog "github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/metrics"
	"github.com/chanmux/chanmux-go/pkg/sources"
	"github.com/chanmux/chanmux-go/pkg/sources/remote"
	"github.com/chanmux/chanmux-go/pkg/transport"
)

const shutdownTimeout = 5 * time.Second

// Server serves the built-in data sources over TCP and WebSocket.
type Server struct {
	config   Config
	logger   *slog.Logger
	registry *prometheus.Registry

	ds         *datasource.Composite
	gateway    *remote.Server
	transport  *transport.Server
	router     chi.Router
	http       *http.Server
	httpLn     net.Listener
	advertiser discovery.Advertiser

	newAdvertiser func(discovery.Config) discovery.Advertiser

	closeOnce sync.Once
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(cfg Config, logger *slog.Logger, eventLog chlog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	ds := sources.New(sources.Config{
		Routing:         cfg.Routing,
		Logger:          logger,
		EventLog:        eventLog,
		Metrics:         m,
		FileRoot:        cfg.FileRoot,
		SysPollInterval: cfg.SysPollInterval,
	})

	gateway := remote.NewServer(ds, remote.ServerConfig{Logger: logger, EventLog: eventLog})
	ts, err := transport.NewServer(transport.ServerConfig{
		Address:   cfg.Listen,
		EventLog:  eventLog,
		Logger:    logger,
		OnConnect: gateway.Serve,
	})
	if err != nil {
		ds.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	s := &Server{
		config:        cfg,
		logger:        logger,
		registry:      registry,
		ds:            ds,
		gateway:       gateway,
		transport:     ts,
		newAdvertiser: mdnsAdvertiser,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// The WebSocket handler blocks for the lifetime of the connection.
	r.Handle(s.config.WebSocketPath, s.transport.WebSocketHandler())

	r.Get("/healthz", s.handleHealth)
	r.Get("/channels", s.handleChannels)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// DataSource returns the composite served by s.
func (s *Server) DataSource() *datasource.Composite {
	return s.ds
}

// Start listens on the TCP and HTTP addresses and advertises the server if
// an mDNS name is configured.
func (s *Server) Start(ctx context.Context) error {
	if err := s.transport.Start(ctx); err != nil {
		return err
	}

	if s.config.HTTP != "" {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", s.config.HTTP)
		if err != nil {
			s.transport.Stop()
			return fmt.Errorf("listen http: %w", err)
		}
		s.httpLn = ln
		s.http = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("http server failed", "error", err)
			}
		}()
		s.logger.Info("http server listening", "address", ln.Addr().String())
	}

	if s.config.MDNS.Name != "" {
		if err := s.advertise(); err != nil {
			s.logger.Warn("mDNS advertisement failed", "error", err)
		}
	}
	return nil
}

func (s *Server) advertise() error {
	_, portStr, err := net.SplitHostPort(s.transport.Addr().String())
	if err != nil {
		return err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return err
	}

	info := &discovery.ServerInfo{
		Name:        s.config.MDNS.Name,
		Port:        uint16(port),
		DataSources: s.ds.Providers(),
	}
	if s.http != nil {
		info.WebSocketPath = s.config.WebSocketPath
	}

	adv := s.newAdvertiser(discovery.Config{Interface: s.config.MDNS.Interface})
	if err := adv.Advertise(info); err != nil {
		return err
	}
	s.advertiser = adv
	s.logger.Info("advertising via mDNS", "name", info.Name, "port", info.Port)
	return nil
}

func mdnsAdvertiser(c discovery.Config) discovery.Advertiser {
	return discovery.NewMDNSAdvertiser(c)
}

// TransportAddr returns the TCP address, or nil before Start.
func (s *Server) TransportAddr() net.Addr {
	return s.transport.Addr()
}

// HTTPAddr returns the HTTP address, or nil when HTTP is not listening.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// Close withdraws the advertisement, disconnects every client and closes
// the data sources.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.advertiser != nil {
			s.advertiser.Stop()
		}
		// Closes WebSocket connections too, which unblocks their handlers.
		s.transport.Stop()
		if s.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err = s.http.Shutdown(ctx)
		}
		if cerr := s.ds.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"clients":       s.gateway.ClientCount(),
		"subscriptions": s.gateway.SubscriptionCount(),
		"datasources":   s.ds.DataSourceNames(),
	})
}

// handleChannels lists the channels of every instantiated data source.
func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	chans := s.ds.Channels()
	out := make([]map[string]any, 0, len(chans))
	for _, name := range slices.Sorted(maps.Keys(chans)) {
		props := chans[name].Properties()
		props["name"] = name
		// Payloads are backend specific and not always JSON friendly.
		delete(props, "connection_payload")
		if v, ok := props["last_message"]; ok {
			if _, err := json.Marshal(v); err != nil {
				props["last_message"] = fmt.Sprint(v)
			}
		}
		out = append(out, props)
	}
	writeJSON(w, http.StatusOK, out)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
