// Package metrics expõe os contadores de observabilidade do runtime em Prometheus.
//
// Nenhum comportamento do runtime depende destes valores: são apenas leitura
// para diagnóstico (chamadas de API, rejeições do gateway, erros reportados,
// módulos construídos/descartados).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nightmate"

// Metrics agrupa os coletores de um runtime. Um *Metrics nil é válido e não registra nada.
type Metrics struct {
	Registry *prometheus.Registry

	apiCalls    *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	inFlight    prometheus.Gauge
	errors      *prometheus.CounterVec
	recoveries  *prometheus.CounterVec
	constructed *prometheus.CounterVec
	evicted     prometheus.Counter
	authChanges *prometheus.CounterVec
	feedLoads   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "api_calls_total",
			Help:      "Total number of calls forwarded to the network.",
		}, []string{"method", "status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "rejections_total",
			Help:      "Calls rejected or suppressed at the gateway boundary.",
		}, []string{"reason"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "inflight_calls",
			Help:      "Current number of in-flight calls.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "errors_total",
			Help:      "Errors reported to the recovery coordinator.",
		}, []string{"category"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "attempts_total",
			Help:      "Automatic recovery attempts.",
		}, []string{"success"}),
		constructed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "modules_constructed_total",
			Help:      "Feature modules constructed, by tab and outcome.",
		}, []string{"tab", "success"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "modules_evicted_total",
			Help:      "Inactive modules dropped under memory pressure.",
		}),
		authChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "transitions_total",
			Help:      "Authentication state transitions.",
		}, []string{"to"}),
		feedLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "loads_total",
			Help:      "Feed loads by outcome.",
		}, []string{"outcome"}),
	}

	m.Registry.MustRegister(
		m.apiCalls,
		m.rejections,
		m.inFlight,
		m.errors,
		m.recoveries,
		m.constructed,
		m.evicted,
		m.authChanges,
		m.feedLoads,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler returns an HTTP handler exposing the registered collectors.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) APICall(method, status string) {
	if m == nil {
		return
	}
	m.apiCalls.WithLabelValues(method, status).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) InFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

func (m *Metrics) Error(category string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(category).Inc()
}

func (m *Metrics) Recovery(success bool) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(boolLabel(success)).Inc()
}

func (m *Metrics) ModuleConstructed(tab string, success bool) {
	if m == nil {
		return
	}
	m.constructed.WithLabelValues(tab, boolLabel(success)).Inc()
}

func (m *Metrics) ModulesEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evicted.Add(float64(n))
}

func (m *Metrics) AuthTransition(to string) {
	if m == nil {
		return
	}
	m.authChanges.WithLabelValues(to).Inc()
}

func (m *Metrics) FeedLoad(outcome string) {
	if m == nil {
		return
	}
	m.feedLoads.WithLabelValues(outcome).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
