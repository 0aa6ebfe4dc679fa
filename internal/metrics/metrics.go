package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classpulse/classpulse/internal/version"
)

type ServerMetrics struct {
	reg      *prometheus.Registry
	handler  http.Handler
	inflight prometheus.Gauge
	reqTotal *prometheus.CounterVec
	reqDur   *prometheus.HistogramVec

	httpPanicTotal prometheus.Counter
	errorsTotal    *prometheus.CounterVec
	buildInfo      *prometheus.GaugeVec

	// domain metrics for the question limiter
	questionsSubmittedTotal *prometheus.CounterVec
	questionsRejectedTotal  *prometheus.CounterVec
	studentsBlockedTotal    prometheus.Counter
	studentsTracked         prometheus.Gauge
	historySweepsTotal      prometheus.Counter

	// transport flood limiter
	floodDeniedTotal   prometheus.Counter
	floodCapacityTotal prometheus.Counter
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_date", "vcs_dirty", "go_version"}),
		questionsSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "questions_submitted_total",
			Help: "Total accepted questions by alert level",
		}, []string{"alert_level"}),
		questionsRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "questions_rejected_total",
			Help: "Total rejected submissions by reason (rate_limited or blocked)",
		}, []string{"reason"}),
		studentsBlockedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "students_blocked_total",
			Help: "Total number of cooldowns started",
		}),
		studentsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "students_tracked",
			Help: "Number of student records currently held in memory",
		}),
		historySweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "history_sweeps_total",
			Help: "Total background sweeps of stale question history",
		}),
		floodDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_flood_limited_total",
			Help: "Total requests rejected by the per-ip flood limiter",
		}),
		floodCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_flood_capacity_total",
			Help: "Total number of times the flood limiter visitor map hit capacity",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.httpPanicTotal,
		m.errorsTotal,
		m.buildInfo,
		m.questionsSubmittedTotal,
		m.questionsRejectedTotal,
		m.studentsBlockedTotal,
		m.studentsTracked,
		m.historySweepsTotal,
		m.floodDeniedTotal,
		m.floodCapacityTotal,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) IncQuestionSubmitted(alertLevel string) {
	m.questionsSubmittedTotal.WithLabelValues(alertLevel).Inc()
}

func (m *ServerMetrics) IncQuestionRejected(reason string) {
	m.questionsRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *ServerMetrics) IncStudentBlocked() {
	m.studentsBlockedTotal.Inc()
}

func (m *ServerMetrics) SetStudentsTracked(n int) {
	m.studentsTracked.Set(float64(n))
}

func (m *ServerMetrics) IncHistorySweep() {
	m.historySweepsTotal.Inc()
}

func (m *ServerMetrics) IncFloodDenied() {
	m.floodDeniedTotal.Inc()
}

func (m *ServerMetrics) IncFloodCapacity() {
	m.floodCapacityTotal.Inc()
}
