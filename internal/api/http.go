package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/agentrium/runtime/internal/agentmgr"
	"github.com/agentrium/runtime/internal/bus"
	"github.com/agentrium/runtime/internal/economy"
	"github.com/agentrium/runtime/internal/governance"
	"github.com/agentrium/runtime/internal/obs"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the §6.3 /metrics Prometheus exposition: counters for bus
// traffic, cycles completed, and governance adjustments issued, gauges
// for active subscriptions, current cycle_health, and uptime. The
// counters are derived from the Shared Bus/Economy Loop/governance
// layer's own cumulative stats rather than instrumented at each call
// site, so Sample can be called from any scrape or poll without the
// core packages needing to know about Prometheus at all.
type Metrics struct {
	registry *prometheus.Registry

	messagesPublished   *prometheus.CounterVec
	cyclesCompleted     prometheus.Counter
	adjustmentsIssued   prometheus.Counter
	activeSubscriptions prometheus.Gauge
	cycleHealth         prometheus.Gauge
	uptimeSeconds       prometheus.Gauge

	mu              sync.Mutex
	lastTopicCounts map[string]int64
	lastCycleCount  int
	lastAdjustCount int
}

// NewMetrics registers the runtime's gauges and counters on a fresh
// registry (never the global default, so multiple servers in tests don't
// collide).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		messagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordination_bus_messages_published_total",
			Help: "Shared Bus messages published, by topic.",
		}, []string{"topic"}),
		cyclesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordination_economy_cycles_completed_total",
			Help: "Economy Loop cycles completed (including early-terminated ones).",
		}),
		adjustmentsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordination_governance_adjustments_total",
			Help: "Strategy adjustments issued by the governance layer.",
		}),
		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordination_bus_active_subscriptions",
			Help: "Current number of Shared Bus subscribers.",
		}),
		cycleHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordination_economy_cycle_health",
			Help: "cycle_health of the most recently completed economy cycle.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordination_uptime_seconds",
			Help: "Seconds since process start.",
		}),
		lastTopicCounts: make(map[string]int64),
	}
	reg.MustRegister(m.messagesPublished, m.cyclesCompleted, m.adjustmentsIssued,
		m.activeSubscriptions, m.cycleHealth, m.uptimeSeconds)
	return m
}

// Sample refreshes gauges and counters from the live components. Counters
// only move forward, so each call adds the delta since the previous
// sample rather than overwriting — safe to call repeatedly from a scrape
// handler or a background poller.
func (m *Metrics) Sample(b *bus.Bus, loop *economy.Loop, gov *governance.Layer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := b.GetStats()
	m.activeSubscriptions.Set(float64(stats.ActiveSubscriptions))
	m.uptimeSeconds.Set(float64(stats.UptimeSeconds))
	for topic, total := range stats.PerTopicCount {
		delta := total - m.lastTopicCounts[topic]
		if delta > 0 {
			m.messagesPublished.WithLabelValues(topic).Add(float64(delta))
		}
		m.lastTopicCounts[topic] = total
	}

	history := loop.History()
	if len(history) > 0 {
		last := history[len(history)-1]
		m.cycleHealth.Set(last.CycleHealth)
		// Cycle numbers start at 0 and advance once per recorded cycle, so
		// the newest record's number + 1 also counts cycles already trimmed
		// from the bounded history.
		if total := int(last.CycleNumber) + 1; total > m.lastCycleCount {
			m.cyclesCompleted.Add(float64(total - m.lastCycleCount))
			m.lastCycleCount = total
		}
	}

	if gov != nil {
		adjustments := gov.AdjustmentHistory()
		if delta := len(adjustments) - m.lastAdjustCount; delta > 0 {
			m.adjustmentsIssued.Add(float64(delta))
			m.lastAdjustCount = len(adjustments)
		}
	}
}

// Server is the §6.3–6.4 HTTP control surface: minimal JSON endpoints plus
// Prometheus exposition and the insight WebSocket stream.
type Server struct {
	mux *http.ServeMux
	srv *http.Server

	b          *bus.Bus
	loop       *economy.Loop
	gov        *governance.Layer
	agents     *agentmgr.Manager
	backend    *BackendSupervisor
	metrics    *Metrics
	log        *obs.Logger
	startedAt  time.Time
	insightHub *insightHub
}

// NewServer wires every §6.3/§6.4 handler against the runtime's live
// components. backend may be nil if no external process is supervised.
func NewServer(addr string, b *bus.Bus, loop *economy.Loop, gov *governance.Layer, agents *agentmgr.Manager, backend *BackendSupervisor, log *obs.Logger) *Server {
	s := &Server{
		mux: http.NewServeMux(), b: b, loop: loop, gov: gov, agents: agents,
		backend: backend, metrics: NewMetrics(), log: log, startedAt: time.Now(),
		insightHub: newInsightHub(b, log),
	}
	s.routes()
	s.srv = &http.Server{Addr: addr, Handler: s.mux}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/backend/start", s.handleBackendStart)
	s.mux.HandleFunc("/backend/stop", s.handleBackendStop)
	s.mux.HandleFunc("/backend/restart", s.handleBackendRestart)
	s.mux.HandleFunc("/backend/status", s.handleBackendStatus)

	promHandler := promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})
	s.mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Sample(s.b, s.loop, s.gov)
		promHandler.ServeHTTP(w, r)
	})
	s.mux.HandleFunc("/admin/metrics", s.handleAdminMetrics)
	s.mux.HandleFunc("/admin/metrics/intents", s.handleAdminMetricsIntents)
	s.mux.HandleFunc("/admin/metrics/stats", s.handleAdminMetricsStats)

	s.mux.HandleFunc("/insight", s.insightHub.handleUpgrade)
}

// Run starts the underlying HTTP server. Call Shutdown to stop it.
func (s *Server) Run() error {
	s.insightHub.start()
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(timeout time.Duration) error {
	s.insightHub.stop()
	return withTimeoutShutdown(s.srv, timeout)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleBackendStart(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil || !s.backend.Configured() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "not_configured"})
		return
	}
	if err := s.backend.Start(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "started"})
}

func (s *Server) handleBackendStop(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil || !s.backend.Configured() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "not_configured"})
		return
	}
	if err := s.backend.Stop(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "stopped"})
}

func (s *Server) handleBackendRestart(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil || !s.backend.Configured() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "not_configured"})
		return
	}
	if err := s.backend.Restart(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "restarted"})
}

func (s *Server) handleBackendStatus(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		writeJSON(w, http.StatusOK, BackendStatus{Status: "not_configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.backend.Status())
}

// handleAdminMetrics is the JSON projection of the Prometheus gauges/
// counters, per §6.3.
func (s *Server) handleAdminMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.Sample(s.b, s.loop, s.gov)
	stats := s.b.GetStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "ok",
		"uptime":               humanize.Time(s.startedAt),
		"uptime_seconds":       stats.UptimeSeconds,
		"active_subscriptions": stats.ActiveSubscriptions,
		"total_messages":       stats.TotalMessages,
	})
}

// handleAdminMetricsIntents reports per-topic publish counts — this
// runtime's analogue of the teacher's per-intent invocation counters.
func (s *Server) handleAdminMetricsIntents(w http.ResponseWriter, r *http.Request) {
	stats := s.b.GetStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"topics": stats.PerTopicCount,
	})
}

// handleAdminMetricsStats reports economy/governance health: cycle
// history tail and current strategy weights.
func (s *Server) handleAdminMetricsStats(w http.ResponseWriter, r *http.Request) {
	history := s.loop.History()
	var last interface{}
	if len(history) > 0 {
		last = history[len(history)-1]
	}
	resp := map[string]interface{}{
		"status":       "ok",
		"cycle_number": s.loop.State().CycleNumber,
		"last_cycle":   last,
	}
	if s.gov != nil {
		resp["strategy_weights"] = s.gov.Weights()
	}
	if s.agents != nil {
		resp["agent_statistics"] = s.agents.GetStatistics()
	}
	writeJSON(w, http.StatusOK, resp)
}
