//go:build !noprom

package metrics

import (
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

type promRecorder struct {
	storeTotal    *prom.CounterVec
	storeSeconds  *prom.HistogramVec
	engineTotal   *prom.CounterVec
	engineSeconds *prom.HistogramVec
	stmtCache     *prom.CounterVec
	poolInUse     prom.Gauge
	poolIdle      prom.Gauge
}

func (p *promRecorder) IncStoreOpTotal(op string, success bool) {
	p.storeTotal.WithLabelValues(op, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveStoreOpSeconds(op string, success bool, seconds float64) {
	p.storeSeconds.WithLabelValues(op, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncEngineOpTotal(op string, success bool) {
	p.engineTotal.WithLabelValues(op, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveEngineOpSeconds(op string, success bool, seconds float64) {
	p.engineSeconds.WithLabelValues(op, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncStmtCacheHit(kind string) {
	p.stmtCache.WithLabelValues(kind, "hit").Inc()
}

func (p *promRecorder) IncStmtCacheMiss(kind string) {
	p.stmtCache.WithLabelValues(kind, "miss").Inc()
}

func (p *promRecorder) ObservePoolStats(inUse, idle int) {
	p.poolInUse.Set(float64(inUse))
	p.poolIdle.Set(float64(idle))
}

func enablePrometheus(addr string) error {
	registry := prom.NewRegistry()
	p := &promRecorder{
		storeTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "graphstore_ops_total",
			Help: "Total number of graph store operations",
		}, []string{"op", "success"}),
		storeSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "graphstore_op_seconds",
			Help:    "Graph store operation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op", "success"}),
		engineTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "graph_engine_ops_total",
			Help: "Total number of traversal, reasoning, and fusion runs",
		}, []string{"op", "success"}),
		engineSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "graph_engine_op_seconds",
			Help:    "Traversal, reasoning, and fusion duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op", "success"}),
		stmtCache: prom.NewCounterVec(prom.CounterOpts{
			Name: "stmt_cache_lookups_total",
			Help: "Prepared statement cache lookups",
		}, []string{"kind", "outcome"}),
		poolInUse: prom.NewGauge(prom.GaugeOpts{
			Name: "db_pool_in_use",
			Help: "Database connections currently in use",
		}),
		poolIdle: prom.NewGauge(prom.GaugeOpts{
			Name: "db_pool_idle",
			Help: "Idle database connections",
		}),
	}

	registry.MustRegister(p.storeTotal, p.storeSeconds, p.engineTotal, p.engineSeconds, p.stmtCache, p.poolInUse, p.poolIdle)
	SetRecorder(p)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() { _ = http.ListenAndServe(addr, mux) }()
	return nil
}
