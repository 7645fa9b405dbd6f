// Package metrics 以 Prometheus 格式暴露仿真与控制 API 的运行指标。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"AgentSim/internal/export"
)

const namespace = "agentsim"

// Collector 汇总仿真指标，同时实现 export.Sink。
type Collector struct {
	registry *prometheus.Registry

	round        prometheus.Gauge
	agents       prometheus.Gauge
	totalWealth  prometheus.Gauge
	avgWealth    prometheus.Gauge
	gini         prometheus.Gauge
	actions      *prometheus.CounterVec
	transactions prometheus.Counter
	volume       prometheus.Counter
	discourse    *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// NewCollector 创建独立的 registry 并注册全部指标。
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		round: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "round",
			Help: "Most recent simulation round that captured a snapshot.",
		}),
		agents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "agents",
			Help: "Number of agents in the latest snapshot.",
		}),
		totalWealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "wealth_total",
			Help: "Total agent wealth in the latest snapshot.",
		}),
		avgWealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "wealth_average",
			Help: "Average agent wealth in the latest snapshot.",
		}),
		gini: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "wealth_gini",
			Help: "Gini coefficient of agent wealth in the latest snapshot.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "actions_total",
			Help: "Executed non-trivial actions by type and outcome.",
		}, []string{"type", "success"}),
		transactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "transactions_total",
			Help: "Completed purchases.",
		}),
		volume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "transaction_volume_total",
			Help: "Sum of purchase prices.",
		}),
		discourse: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "discourse_total",
			Help: "Discourse events by kind.",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_request_errors_total",
			Help: "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.round, c.agents, c.totalWealth, c.avgWealth, c.gini,
		c.actions, c.transactions, c.volume, c.discourse,
		c.httpRequests, c.httpErrors, c.httpLatency,
	)
	return c
}

// Registry 返回内部 registry。
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler 以 Prometheus 文本格式暴露 registry。
func (c *Collector) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(c.registry,
		promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: false}))
}

func (c *Collector) LogSnapshot(e export.SnapshotEvent) {
	c.round.Set(float64(e.Round))
	c.agents.Set(float64(e.TotalAgents))
	c.totalWealth.Set(e.TotalWealth)
	c.avgWealth.Set(e.AvgWealth)
	c.gini.Set(e.WealthGini)
}

func (c *Collector) LogAction(e export.ActionEvent) {
	c.actions.WithLabelValues(e.ActionType, strconv.FormatBool(e.Success)).Inc()
}

func (c *Collector) LogTransaction(e export.TransactionEvent) {
	c.transactions.Inc()
	if e.Price > 0 {
		c.volume.Add(e.Price)
	}
}

func (c *Collector) LogDiscourse(e export.DiscourseEvent) {
	c.discourse.WithLabelValues(e.Kind).Inc()
}

var _ export.Sink = (*Collector)(nil)
