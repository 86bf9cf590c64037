package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MLenaBleile/sandy/internal/errs"
)

var (
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sandy",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Generation and embedding calls by component and status",
		},
		[]string{"component", "status"},
	)

	callSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sandy",
			Subsystem: "llm",
			Name:      "call_seconds",
			Help:      "Call latency including retries",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"component"},
	)
)

// Observe records one finished call. Embedding adapters use it too.
func Observe(component string, start time.Time, err error) {
	callsTotal.WithLabelValues(component, statusOf(err)).Inc()
	callSeconds.WithLabelValues(component).Observe(time.Since(start).Seconds())
}

func statusOf(err error) string {
	if err == nil {
		return "ok"
	}
	if _, ok := errs.AsParse(err); ok {
		return "parse"
	}
	if r := errs.ReasonOf(err); r != "" {
		return string(r)
	}
	return "error"
}
