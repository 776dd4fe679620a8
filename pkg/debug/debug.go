// Package debug serves the operational endpoints of long-running commands:
// Prometheus metrics, liveness, readiness and pprof.
package debug

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ready atomic.Bool

	checksMu sync.RWMutex
	checks   = make(map[string]func() error)

	// Global registry for datapump metrics
	globalRegistry = prometheus.NewRegistry()
)

func SetReady() {
	ready.Store(true)
}

func SetNotReady() {
	ready.Store(false)
}

// RegisterReadyCheck adds a named readiness check. A non-nil error from check
// marks the process as not ready. Registering the same name replaces the
// previous check.
func RegisterReadyCheck(name string, check func() error) {
	checksMu.Lock()
	defer checksMu.Unlock()
	checks[name] = check
}

// Readiness runs every registered check and returns the failures by name.
// The second result is false when SetReady has not been called or any check
// failed.
func Readiness() (map[string]string, bool) {
	checksMu.RLock()
	defer checksMu.RUnlock()

	failures := make(map[string]string)
	for name, check := range checks {
		if err := check(); err != nil {
			failures[name] = err.Error()
		}
	}
	return failures, ready.Load() && len(failures) == 0
}

// Registry returns the Prometheus registry for registering custom metrics.
// Metrics registered here will be exported on /metrics alongside default metrics.
func Registry() prometheus.Registerer {
	return globalRegistry
}

// Gatherer returns the registry behind Registry.
func Gatherer() prometheus.Gatherer {
	return globalRegistry
}

func GetMux() *http.ServeMux {
	mux := http.NewServeMux()

	gatherers := prometheus.Gatherers{
		prometheus.DefaultGatherer,
		globalRegistry,
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", serveReady)

	return mux
}

type readyResponse struct {
	Ready    bool              `json:"ready"`
	Failing  []string          `json:"failing,omitempty"`
	Messages map[string]string `json:"messages,omitempty"`
}

func serveReady(w http.ResponseWriter, r *http.Request) {
	failures, ok := Readiness()

	resp := readyResponse{Ready: ok}
	if len(failures) > 0 {
		resp.Messages = failures
		for name := range failures {
			resp.Failing = append(resp.Failing, name)
		}
		sort.Strings(resp.Failing)
	}

	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}
