package metrics

import (
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "initd",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "initd",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of observed service exits (graceful or not).",
		}, []string{"name"},
	)
	serviceRespawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "initd",
			Subsystem: "service",
			Name:      "respawns_total",
			Help:      "Number of automatic respawns.",
		}, []string{"name"},
	)
	serviceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "initd",
			Subsystem: "service",
			Name:      "failures_total",
			Help:      "Number of transitions into the failed state.",
		}, []string{"name"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "initd",
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current state per service (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	watchdogKicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "initd",
			Subsystem: "watchdog",
			Name:      "kicks_total",
			Help:      "Number of hardware watchdog keepalive writes.",
		},
	)
)

// Register registers all collectors with r. Safe to call multiple times.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStops, serviceRespawns, serviceFailures, currentState, watchdogKicks}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

func IncStart(name string)   { serviceStarts.WithLabelValues(name).Inc() }
func IncStop(name string)    { serviceStops.WithLabelValues(name).Inc() }
func IncRespawn(name string) { serviceRespawns.WithLabelValues(name).Inc() }
func IncFailure(name string) { serviceFailures.WithLabelValues(name).Inc() }
func IncWatchdogKick()       { watchdogKicks.Inc() }

var serviceStates = []string{"stopped", "starting", "running", "stopping", "failed"}

// SetState marks state active for name and clears the others.
func SetState(name, state string) {
	for _, s := range serviceStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		currentState.WithLabelValues(name, s).Set(v)
	}
}

// Serve exposes /metrics on addr in the background. The listener is bound
// synchronously so configuration errors surface at boot; serving errors are
// ignored since metrics are best-effort on an init system.
func Serve(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}
