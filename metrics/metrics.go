package metrics

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KanavDutta/creditfence/core"
	"github.com/KanavDutta/creditfence/pkg/creditfence"
)

const (
	// MaxTrackedClients bounds the per-client table behind the snapshot.
	// Clients beyond it still count toward the totals.
	MaxTrackedClients = 10000

	// TopClientsLimit is how many clients a snapshot lists.
	TopClientsLimit = 10
)

// Metrics tracks rate limiting statistics. It implements
// creditfence.Observer and exposes both a Prometheus registry and an
// in-process snapshot for the JSON stats endpoint.
type Metrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	decisionsTotal *prometheus.CounterVec
	deniedTotal    *prometheus.CounterVec
	buckets        *prometheus.GaugeVec
	sweepsTotal    *prometheus.CounterVec
	sweptTotal     *prometheus.CounterVec

	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	blockedRequests atomic.Int64
	creditRequests  atomic.Int64

	// Per-client stats
	mu          sync.RWMutex
	clientStats map[string]*ClientStats
	startTime   time.Time
	now         func() time.Time
}

// ClientStats tracks statistics for a specific client
type ClientStats struct {
	ClientID        string    `json:"client_id"`
	TotalRequests   int64     `json:"total_requests"`
	AllowedRequests int64     `json:"allowed_requests"`
	CreditRequests  int64     `json:"credit_requests"`
	BlockedRequests int64     `json:"blocked_requests"`
	LastRequestAt   time.Time `json:"last_request_at"`
	FirstRequestAt  time.Time `json:"first_request_at"`
}

// Snapshot represents a point-in-time view of metrics
type Snapshot struct {
	TotalRequests   int64          `json:"total_requests"`
	AllowedRequests int64          `json:"allowed_requests"`
	CreditRequests  int64          `json:"credit_requests"`
	BlockedRequests int64          `json:"blocked_requests"`
	UniqueClients   int64          `json:"unique_clients"`
	TopClients      []*ClientStats `json:"top_clients"`
	UptimeSeconds   int64          `json:"uptime_seconds"`
	StartTime       time.Time      `json:"start_time"`
}

// New returns metrics backed by a fresh registry with the Go and process
// collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditfence_decisions_total",
			Help: "Rate limit decisions by route and tier",
		}, []string{"route", "tier"}),
		deniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditfence_denied_total",
			Help: "Requests denied by the rate limiter by route",
		}, []string{"route"}),
		buckets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "creditfence_buckets",
			Help: "Buckets tracked after the most recent sweep by route",
		}, []string{"route"}),
		sweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditfence_sweeps_total",
			Help: "Completed sweeps by route",
		}, []string{"route"}),
		sweptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditfence_swept_buckets_total",
			Help: "Expired buckets removed by sweeps by route",
		}, []string{"route"}),
		clientStats: make(map[string]*ClientStats),
		now:         time.Now,
	}
	m.startTime = m.now()

	reg.MustRegister(
		m.decisionsTotal,
		m.deniedTotal,
		m.buckets,
		m.sweepsTotal,
		m.sweptTotal,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

// Handler serves the Prometheus exposition.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func routeLabel(route string) string {
	if route == "" {
		return creditfence.DefaultRoute
	}
	return route
}

// ObserveDecision records one rate limit check.
func (m *Metrics) ObserveDecision(d creditfence.Decision) {
	route := routeLabel(d.Route)
	m.decisionsTotal.WithLabelValues(route, d.Tier.String()).Inc()

	m.totalRequests.Add(1)
	switch {
	case !d.Allowed:
		m.blockedRequests.Add(1)
		m.deniedTotal.WithLabelValues(route).Inc()
	case d.Tier == core.TierCredit:
		m.allowedRequests.Add(1)
		m.creditRequests.Add(1)
	default:
		m.allowedRequests.Add(1)
	}

	m.recordClient(d)
}

func (m *Metrics) recordClient(d creditfence.Decision) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	stats, exists := m.clientStats[d.Key]
	if !exists {
		if len(m.clientStats) >= MaxTrackedClients {
			return
		}
		stats = &ClientStats{
			ClientID:       d.Key,
			FirstRequestAt: now,
		}
		m.clientStats[d.Key] = stats
	}

	stats.TotalRequests++
	switch {
	case !d.Allowed:
		stats.BlockedRequests++
	case d.Tier == core.TierCredit:
		stats.AllowedRequests++
		stats.CreditRequests++
	default:
		stats.AllowedRequests++
	}
	stats.LastRequestAt = now
}

// ObserveSweep records one sweep pass.
func (m *Metrics) ObserveSweep(route string, removed, remaining int) {
	route = routeLabel(route)
	m.sweepsTotal.WithLabelValues(route).Inc()
	m.sweptTotal.WithLabelValues(route).Add(float64(removed))
	m.buckets.WithLabelValues(route).Set(float64(remaining))
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	topClients := make([]*ClientStats, 0, len(m.clientStats))
	for _, stats := range m.clientStats {
		cp := *stats
		topClients = append(topClients, &cp)
	}
	unique := int64(len(m.clientStats))
	m.mu.RUnlock()

	sort.Slice(topClients, func(i, j int) bool {
		if topClients[i].TotalRequests != topClients[j].TotalRequests {
			return topClients[i].TotalRequests > topClients[j].TotalRequests
		}
		return topClients[i].ClientID < topClients[j].ClientID
	})
	if len(topClients) > TopClientsLimit {
		topClients = topClients[:TopClientsLimit]
	}

	return &Snapshot{
		TotalRequests:   m.totalRequests.Load(),
		AllowedRequests: m.allowedRequests.Load(),
		CreditRequests:  m.creditRequests.Load(),
		BlockedRequests: m.blockedRequests.Load(),
		UniqueClients:   unique,
		TopClients:      topClients,
		UptimeSeconds:   int64(m.now().Sub(m.startTime).Seconds()),
		StartTime:       m.startTime,
	}
}

var _ creditfence.Observer = (*Metrics)(nil)
