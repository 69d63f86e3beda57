// Package runtime assembles and runs the development gateway server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/cometrpc/internal/config"
	"github.com/saker-ai/cometrpc/internal/gateway"
	apphttp "github.com/saker-ai/cometrpc/internal/http"
	applogger "github.com/saker-ai/cometrpc/internal/logger"
)

// Server represents a gateway server.
type Server struct {
	cfg     appconfig.Config
	logger  *zap.Logger
	gateway *gateway.Handler
	server  *http.Server
}

// New loads the config at configPath and builds a server from it.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load gateway config: %w", err)
	}

	logger, err := applogger.New(cfg.Log, applogger.ComponentGateway)
	if err != nil {
		return nil, err
	}
	logger.Info("gateway logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
		zap.String("file_name", cfg.Log.File.Name),
	)
	logger.Info("gateway config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("advertise_addr", cfg.AdvertiseAddr),
	)
	return NewWithConfig(cfg, logger), nil
}

// NewWithConfig builds a server from an already loaded config.
func NewWithConfig(cfg appconfig.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	var registry *prometheus.Registry
	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		gatherer = registry
	}

	opts := gateway.Options{
		AdvertiseAddr: cfg.AdvertiseAddr,
		TokenTTL:      cfg.TokenTTL,
		Subprotocol:   cfg.Client.Subprotocol,
	}
	if registry != nil {
		opts.Registerer = registry
	}
	handler := gateway.NewHandler(logger, opts)
	router := apphttp.NewRouter(handler, gatherer, logger)

	return &Server{
		cfg:     cfg,
		logger:  logger,
		gateway: handler,
		server: &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: router,
		},
	}
}

// Run listens on the configured address and serves until Shutdown.
func (s *Server) Run() error {
	if s == nil || s.server == nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting http server", zap.String("addr", ln.Addr().String()))
	return ignoreServerClosed(s.server.Serve(ln))
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Shutdown stops accepting requests and drops open websocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.gateway.CloseAll()
	return ignoreServerClosed(err)
}

// Logger returns the server logger.
func (s *Server) Logger() *zap.Logger {
	return s.logger
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
