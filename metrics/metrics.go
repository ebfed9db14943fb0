// Package metrics exposes the guard's Prometheus collectors and the
// dedicated metrics listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miaadrajabi/integrity-guard/common"
)

const namespace = "integrity_guard"

var (
	serviceInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "service_info",
		Help:      "Service identity, always 1.",
	}, []string{"service", "version"})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "policy_decisions_total",
		Help:      "Policy decisions by signal and resulting action.",
	}, []string{"signal", "action"})

	configLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_loads_total",
		Help:      "Configuration loads by provenance and source.",
	}, []string{"provenance", "source"})

	verificationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_verification_failures_total",
		Help:      "Configuration signature verifications that did not pass.",
	})

	keyProvisioningTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "key_provisioning_total",
		Help:      "Device key provisioning operations by tier.",
	}, []string{"tier"})
)

// RecordDecision counts one policy decision.
func RecordDecision(signal, action string) {
	decisionsTotal.WithLabelValues(signal, action).Inc()
}

// RecordConfigLoad counts one configuration load outcome.
func RecordConfigLoad(provenance, source string) {
	configLoadsTotal.WithLabelValues(provenance, source).Inc()
}

// RecordVerificationFailure counts one failed signature verification.
func RecordVerificationFailure() {
	verificationFailuresTotal.Inc()
}

// RecordKeyProvisioned counts one key provisioning operation.
func RecordKeyProvisioned(tier string) {
	keyProvisioningTotal.WithLabelValues(tier).Inc()
}

// MetricsServer serves the Prometheus registry on its own listener, kept
// apart from the API server so scrapes survive API drain.
type MetricsServer struct {
	srv *http.Server
}

// New creates the metrics server. The listener is only started by
// ListenAndServe, so an empty addr is acceptable for deployments without
// metrics.
func New(name, addr string) (*MetricsServer, error) {
	serviceInfo.WithLabelValues(name, common.Version).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
