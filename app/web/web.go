// Package web implements the HTTP API for the joblist service
package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/drivehub/joblist/app/store"
)

// Store defines repository operations used by the server
type Store interface {
	Create(ctx context.Context, job store.Job) (store.Job, error)
	List(ctx context.Context) ([]store.Job, error)
	Recent(ctx context.Context, limit int) ([]store.Job, error)
	Get(ctx context.Context, id string) (store.Job, error)
	Update(ctx context.Context, id string, job store.Job) (store.Job, error)
	Delete(ctx context.Context, id string) error
}

// Producer enqueues job payloads for asynchronous creation. When set on the
// server it replaces the synchronous create path.
type Producer interface {
	Submit(ctx context.Context, job store.Job) error
}

// Server represents the web server
type Server struct {
	store            Store
	producer         Producer // nil for synchronous create
	version          string
	allowedOrigins   []string
	fallbackDisabled bool
	fallback         []store.Job
	recentLimit      int
	createLimiter    *limiter.Limiter
}

// Config holds server configuration
type Config struct {
	Store            Store
	Producer         Producer // optional, enables the async creation path
	Version          string
	AllowedOrigins   []string // CORS allow-list, empty disables CORS headers
	FallbackDisabled bool     // disable canned data on storage failure for reads
	FallbackFile     string   // optional YAML file overriding the built-in fallback dataset
	RecentLimit      int      // max records for /api/jobs/recent, defaults to 5
	CreateRateLimit  float64  // job submissions per second, defaults to 10
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("web server initialization failed: Store is required")
	}

	recentLimit := cfg.RecentLimit
	if recentLimit <= 0 {
		recentLimit = 5
	}

	createRate := cfg.CreateRateLimit
	if createRate <= 0 {
		createRate = 10
	}

	fallback := fallbackJobs()
	if cfg.FallbackFile != "" {
		loaded, err := loadFallbackFile(cfg.FallbackFile)
		if err != nil {
			return nil, fmt.Errorf("web server initialization failed: can't load fallback dataset from %q: %w", cfg.FallbackFile, err)
		}
		fallback = loaded
	}

	return &Server{
		store:            cfg.Store,
		producer:         cfg.Producer,
		version:          cfg.Version,
		allowedOrigins:   cfg.AllowedOrigins,
		fallbackDisabled: cfg.FallbackDisabled,
		fallback:         fallback,
		recentLimit:      recentLimit,
		createLimiter:    tollbooth.NewLimiter(createRate, nil),
	}, nil
}

// Run starts the web server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("joblist", "drivehub", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024), // 64KB max request size
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	if len(s.allowedOrigins) > 0 {
		router.Use(s.corsMiddleware)
	}

	// status route
	router.HandleFunc("GET /{$}", s.handleStatus)

	// job resource routes
	router.Mount("/api").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		api.HandleFunc("GET /jobs", s.handleListJobs)
		api.HandleFunc("GET /jobs/recent", s.handleRecentJobs)
		api.HandleFunc("GET /jobs/{id}", s.handleGetJob)
		api.With(tollbooth.HTTPMiddleware(s.createLimiter)).HandleFunc("POST /jobs", s.handleCreateJob)
		api.HandleFunc("PUT /jobs/{id}", s.handleUpdateJob)
		api.HandleFunc("DELETE /jobs/{id}", s.handleDeleteJob)
	})

	return router
}

// corsMiddleware sets cross-origin headers for origins on the allow-list and
// answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
