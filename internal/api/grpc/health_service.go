// Package grpc exposes C7's health aggregate over the standard gRPC health
// checking protocol, so the engine can sit behind the same infrastructure
// (load balancers, k8s readiness probes) that speaks grpc_health_v1 against
// any other service — no bespoke proto needed for a single endpoint.
package grpc

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	internalhealth "github.com/banks1923/email-sync/internal/health"
	"github.com/banks1923/email-sync/internal/observability"
)

// ServiceName is the grpc_health_v1 service name this engine reports under.
const ServiceName = "engine.v1.ContentIntelligence"

// Watcher polls C7's Aggregator on an interval and republishes the result
// into grpc's standard health.Server, translating health.Report.Status
// into the SERVING/NOT_SERVING enum the protocol expects.
type Watcher struct {
	agg      *internalhealth.Aggregator
	server   *health.Server
	logger   *observability.Logger
	interval time.Duration

	mu   sync.Mutex
	last internalhealth.Report
}

// NewWatcher builds a Watcher wrapping a fresh grpc health.Server.
func NewWatcher(agg *internalhealth.Aggregator, logger *observability.Logger, interval time.Duration) *Watcher {
	return &Watcher{
		agg:      agg,
		server:   health.NewServer(),
		logger:   logger,
		interval: interval,
	}
}

// Server returns the grpc_health_v1.HealthServer to register on a grpc.Server.
func (w *Watcher) Server() healthpb.HealthServer {
	return w.server
}

// Run polls the aggregator until ctx is cancelled, publishing each report.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.publish(ctx)
		}
	}
}

func (w *Watcher) publish(ctx context.Context) {
	report := w.agg.Check(ctx, false)

	w.mu.Lock()
	w.last = report
	w.mu.Unlock()

	status := healthpb.HealthCheckResponse_SERVING
	if report.Status == internalhealth.StatusError {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	w.server.SetServingStatus(ServiceName, status)

	if report.Status == internalhealth.StatusError {
		w.logger.Error().Interface("details", report.Details).Msg("health watcher: reporting NOT_SERVING")
	}
}

// LastReport returns the most recently published aggregate report.
func (w *Watcher) LastReport() internalhealth.Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
