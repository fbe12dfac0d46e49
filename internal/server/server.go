// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server runs dataset materializations as background jobs behind
// a REST API, with live job updates over WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mlplatform/dataset-sdk/pkg/credential"
	"github.com/mlplatform/dataset-sdk/pkg/datasets"
	"github.com/mlplatform/dataset-sdk/pkg/initializer"
	"github.com/mlplatform/dataset-sdk/pkg/openapi"
	"github.com/mlplatform/dataset-sdk/pkg/tos"
)

// Config holds server configuration.
type Config struct {
	Addr           string
	Port           int
	OutputDir      string // jobs write to OutputDir/<dataset id>; not settable via API
	Credential     credential.Credential
	APIEndpoint    string
	TOSEndpoint    string
	ChunkSize      int
	StrictDirs     bool
	AllowedOrigins []string // CORS and WebSocket origins; empty allows any
	Version        string

	// API and Objects replace the clients built from the endpoints.
	API     datasets.MetadataAPI
	Objects datasets.ObjectStore
	Logger  *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        "0.0.0.0",
		Port:        8080,
		OutputDir:   "./" + initializer.DefaultOutput,
		APIEndpoint: initializer.DefaultAPIEndpoint,
		TOSEndpoint: initializer.DefaultTOSEndpoint,
		ChunkSize:   datasets.DefaultChunkSize,
	}
}

// Server is the HTTP job server.
type Server struct {
	config     Config
	log        *zap.Logger
	httpServer *http.Server
	jobs       *JobManager
	wsHub      *WSHub
}

// New creates a new server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = datasets.DefaultChunkSize
	}
	if cfg.API == nil {
		cfg.API = openapi.New(cfg.Credential,
			openapi.WithEndpoint(cfg.APIEndpoint),
			openapi.WithHTTPClient(openapi.BuildHTTPClient()))
	}
	if cfg.Objects == nil {
		cfg.Objects = tos.New(cfg.Credential,
			tos.WithEndpoint(cfg.TOSEndpoint),
			tos.WithLogger(cfg.Logger))
	}

	log := cfg.Logger.Named("server")
	wsHub := NewWSHub(log)
	return &Server{
		config: cfg,
		log:    log,
		jobs:   NewJobManager(cfg, wsHub),
		wsHub:  wsHub,
	}
}

// Jobs exposes the job manager.
func (s *Server) Jobs() *JobManager { return s.jobs }

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)
	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// ListenAndServe starts the HTTP server and blocks until ctx is done.
// Running jobs are cancelled on shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Addr, s.config.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: WebSocket connections are long-lived.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.jobs.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("server starting",
		zap.String("addr", addr),
		zap.String("output_dir", s.config.OutputDir),
		zap.String("api", fmt.Sprintf("http://localhost:%d/api", s.config.Port)))

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// registerAPIRoutes sets up all API endpoints.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/download", s.handleStartDownload)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancelJob)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	mux.HandleFunc("POST /api/describe", s.handleDescribe)

	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start).Round(time.Millisecond)))
	})
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" || len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
