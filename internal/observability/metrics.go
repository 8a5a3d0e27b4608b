package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK         = "ok"
	ResultError      = "error"
	ResultValidation = "validation"
	ResultAuth       = "auth"
	ResultStore      = "store"
)

var (
	entriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "froom",
		Subsystem: "presence",
		Name:      "entries_total",
		Help:      "Practice entry attempts, labeled by outcome.",
	}, []string{"result"})

	heartbeatsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "froom",
		Subsystem: "presence",
		Name:      "heartbeats_total",
		Help:      "Liveness heartbeats written, labeled by outcome.",
	}, []string{"result"})

	statusSavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "froom",
		Subsystem: "presence",
		Name:      "status_saves_total",
		Help:      "Status saves, labeled by outcome.",
	}, []string{"result"})

	statusSaveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "froom",
		Subsystem: "presence",
		Name:      "status_save_duration_seconds",
		Help:      "Time spent writing the member record and activity entry for one save.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "froom",
		Subsystem: "presence",
		Name:      "active_sessions",
		Help:      "Presence sessions currently entered in this process.",
	})

	eventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "froom",
		Subsystem: "events",
		Name:      "activity_published_total",
		Help:      "Activity entries forwarded to the event topic, labeled by outcome.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(entriesTotal, heartbeatsTotal, statusSavesTotal, statusSaveDuration, activeSessions, eventsPublishedTotal)
}

func RecordEntry(result string) {
	entriesTotal.WithLabelValues(result).Inc()
}

func RecordHeartbeat(err error) {
	heartbeatsTotal.WithLabelValues(resultOf(err)).Inc()
}

// RecordStatusSave observes one save that started at start.
func RecordStatusSave(start time.Time, err error) {
	statusSavesTotal.WithLabelValues(resultOf(err)).Inc()
	statusSaveDuration.Observe(time.Since(start).Seconds())
}

func SessionStarted() {
	activeSessions.Inc()
}

func SessionEnded() {
	activeSessions.Dec()
}

func RecordEventPublished(err error) {
	eventsPublishedTotal.WithLabelValues(resultOf(err)).Inc()
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
