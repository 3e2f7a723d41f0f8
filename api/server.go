// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/poiesic/knowmesh"
)

// Server is the knowmesh HTTP API.
type Server struct {
	mesh    *knowmesh.Mesh
	router  chi.Router
	version string
	clock   clockwork.Clock
	started time.Time
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithVersion reports version from the health endpoint.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithClock sets the clock used for uptime.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "api")
	}
}

// New creates a server over mesh.
func New(mesh *knowmesh.Mesh, opts ...Option) *Server {
	s := &Server{
		mesh:    mesh,
		version: "dev",
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.clock.Now()
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Handle("/metrics", s.mesh.Metrics().Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Post("/search", s.handleSearch)
		r.Post("/search/feedback", s.handleSearchFeedback)

		r.Get("/context", s.handleGetContext)
		r.Put("/context", s.handleUpdateContext)

		r.Get("/insights", s.handleInsights)
		r.Post("/insights/{insightID}/feedback", s.handlePredictionFeedback)

		r.Post("/nodes", s.handleIndex)
		r.Get("/nodes/{nodeID}", s.handleGetNode)
		r.Delete("/nodes/{nodeID}", s.handleRemove)
		r.Get("/nodes/{nodeID}/predictions", s.handlePredictions)
		r.Get("/nodes/{nodeID}/preload", s.handlePreload)
	})

	s.router = r
}

// observe records request metrics by route pattern and logs each request.
func (s *Server) observe(next http.Handler) http.Handler {
	collector := s.mesh.Metrics()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		collector.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		collector.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		s.logger.Debug("request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
