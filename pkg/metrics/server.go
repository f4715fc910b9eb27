// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AMD-AGI/Backlot/pkg/log"
)

// shutdownGrace bounds how long Stop waits for in-flight scrapes.
const shutdownGrace = 3 * time.Second

// Server exposes the registered collectors over HTTP for scraping.
type Server struct {
	srv *http.Server
}

// NewServer builds a listener serving /metrics on addr. Nothing is bound
// until Start.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer},
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start serves in the background until Stop.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics listener failed")
		}
	}()
	log.Infof("metrics listening on %s", s.srv.Addr)
}

// Stop shuts the listener down.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("metrics listener shutdown")
	}
}
