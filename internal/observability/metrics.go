package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total API requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight",
		Help: "In-flight HTTP requests",
	})
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acquisition_runs_total",
			Help: "Acquisition runs by product and outcome (ok or error kind)",
		}, []string{"product", "outcome"},
	)
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "acquisition_run_duration_seconds",
		Help:    "End-to-end acquisition run latency",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acquisition_retries_total",
			Help: "Transient-fault retries by remote call",
		}, []string{"call"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, RunsTotal, RunDuration, RetriesTotal)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
