package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's prometheus instruments. All Engine call
// sites tolerate a nil receiver so the engine can run uninstrumented.
type Metrics struct {
	TurnsStored        prometheus.Counter
	DuplicateTurns     prometheus.Counter
	Summaries          prometheus.Counter
	SummarizerFailures prometheus.Counter
	SummarizerDuration prometheus.Histogram
}

// NewMetrics registers the engine instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hiermem",
			Name:      "turns_stored_total",
			Help:      "Turns accepted into the store.",
		}),
		DuplicateTurns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hiermem",
			Name:      "duplicate_turns_total",
			Help:      "Store attempts rejected for a turn_id collision.",
		}),
		Summaries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hiermem",
			Name:      "summaries_total",
			Help:      "Compressed views successfully produced.",
		}),
		SummarizerFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hiermem",
			Name:      "summarizer_failures_total",
			Help:      "Summarizer calls that errored or returned nothing.",
		}),
		SummarizerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hiermem",
			Name:      "summarizer_duration_seconds",
			Help:      "Wall time of external summarizer calls.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
}

func (m *Metrics) turnStored() {
	if m != nil {
		m.TurnsStored.Inc()
	}
}

func (m *Metrics) duplicateTurn() {
	if m != nil {
		m.DuplicateTurns.Inc()
	}
}

func (m *Metrics) summaryProduced() {
	if m != nil {
		m.Summaries.Inc()
	}
}

func (m *Metrics) summarizerFailure() {
	if m != nil {
		m.SummarizerFailures.Inc()
	}
}

func (m *Metrics) observeSummarizer(d time.Duration) {
	if m != nil {
		m.SummarizerDuration.Observe(d.Seconds())
	}
}
