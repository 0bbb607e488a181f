package metrics

import (
	"os"
	"sync"
	"time"
)

// Package metrics provides a minimal instrumentation interface with a no-op
// default and optional Prometheus-backed implementation enabled via env.

// Recorder defines the metrics surface used across the codebase.
type Recorder interface {
	IncStoreOpTotal(op string, success bool)
	ObserveStoreOpSeconds(op string, success bool, seconds float64)
	IncEngineOpTotal(op string, success bool)
	ObserveEngineOpSeconds(op string, success bool, seconds float64)
	IncStmtCacheHit(kind string)
	IncStmtCacheMiss(kind string)
	ObservePoolStats(inUse, idle int)
}

// noopRecorder implements Recorder with no-ops.
type noopRecorder struct{}

func (n *noopRecorder) IncStoreOpTotal(string, bool)                 {}
func (n *noopRecorder) ObserveStoreOpSeconds(string, bool, float64)  {}
func (n *noopRecorder) IncEngineOpTotal(string, bool)                {}
func (n *noopRecorder) ObserveEngineOpSeconds(string, bool, float64) {}
func (n *noopRecorder) IncStmtCacheHit(string)                       {}
func (n *noopRecorder) IncStmtCacheMiss(string)                      {}
func (n *noopRecorder) ObservePoolStats(int, int)                    {}

var (
	recMu    sync.RWMutex
	recorder Recorder = &noopRecorder{}
)

// Default returns the current recorder.
func Default() Recorder {
	recMu.RLock()
	defer recMu.RUnlock()
	return recorder
}

// SetRecorder swaps the global recorder implementation.
func SetRecorder(r Recorder) {
	recMu.Lock()
	defer recMu.Unlock()
	recorder = r
}

// TimeOp is a helper to time storage operations.
func TimeOp(op string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		dur := time.Since(start).Seconds()
		Default().IncStoreOpTotal(op, success)
		Default().ObserveStoreOpSeconds(op, success, dur)
	}
}

// TimeEngine is a helper to time traversal, reasoning, and fusion operations.
func TimeEngine(op string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		dur := time.Since(start).Seconds()
		Default().IncEngineOpTotal(op, success)
		Default().ObserveEngineOpSeconds(op, success, dur)
	}
}

// InitFromEnv enables Prometheus exporter if METRICS_PROMETHEUS is set.
// It also starts a small HTTP server on METRICS_ADDR (default :9090)
// with endpoints: /metrics (prom) and /healthz (200 ok).
func InitFromEnv() {
	if os.Getenv("METRICS_PROMETHEUS") == "" {
		return
	}
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	// Try to install prometheus recorder; if it fails, keep noop.
	_ = enablePrometheus(addr)
}

// enablePrometheus is provided by build-tagged files.
