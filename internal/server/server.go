// Package server assembles the bridge: configuration, logging, metrics, the
// function registry, and the HTTP/websocket surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	appconfig "github.com/Hrhcoolshegs/openai-realtime-agent/internal/config"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/functions"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/httpapi"
	applogger "github.com/Hrhcoolshegs/openai-realtime-agent/internal/logger"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/metrics"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/openai"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/registry"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/ws"
)

// Server represents a server.
type Server struct {
	cfg    appconfig.Config
	logger *zap.Logger
	server *http.Server
}

// New executes the new function.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load bridge config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("bridge logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
	)
	logger.Info("bridge config loaded",
		zap.String("config_path", configPath),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("public_url", cfg.PublicURL),
		zap.String("model", cfg.OpenAI.Model),
	)

	m := metrics.New("bridge")
	reg := registry.New(logger)
	functions.RegisterBuiltins(reg, logger)

	wsHandler := ws.NewHandler(ws.Options{
		Logger:   logger,
		Metrics:  m,
		Registry: reg,
		Model: openai.Config{
			BaseURL: cfg.OpenAI.RealtimeURL,
			Model:   cfg.OpenAI.Model,
			APIKey:  cfg.OpenAI.APIKey,
		},
		Voice:             cfg.OpenAI.Voice,
		AudioBufferFrames: cfg.AudioBufferFrames,
	})

	router := httpapi.NewRouter(cfg, wsHandler, reg, m, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		server: httpServer,
	}, nil
}

// Run executes the run method.
func (s *Server) Run() error {
	if s == nil || s.server == nil {
		return nil
	}
	err := s.listen()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr executes the addr method.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Logger returns the configured logger for callers that outlive Run.
func (s *Server) Logger() *zap.Logger {
	if s == nil {
		return zap.NewNop()
	}
	return s.logger
}

// Shutdown executes the shutdown method.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) listen() error {
	certPath := filepath.Clean(s.cfg.TLSCertPath)
	keyPath := filepath.Clean(s.cfg.TLSKeyPath)
	if s.cfg.TLSCertPath != "" && s.cfg.TLSKeyPath != "" && fileExists(certPath) && fileExists(keyPath) {
		s.logger.Info("starting https server", zap.String("addr", s.cfg.HTTPAddr))
		return s.server.ListenAndServeTLS(certPath, keyPath)
	}
	s.logger.Info("starting http server", zap.String("addr", s.cfg.HTTPAddr))
	return s.server.ListenAndServe()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
