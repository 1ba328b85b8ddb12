package checkin

import (
	"errors"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// checkinResults counts verification outcomes by result label. Labels are
	// the fixed failure taxonomy plus "accepted", so cardinality is bounded.
	checkinResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_checkin_results_total",
			Help: "Check-in verification outcomes.",
		},
		[]string{"result"},
	)

	warmFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attendance_location_warm_failures_total",
			Help: "Failed best-effort location cache refreshes on generate.",
		},
	)
)

func init() {
	prometheus.MustRegister(checkinResults, warmFailures)
}

func observeResult(result string) {
	checkinResults.WithLabelValues(result).Inc()
}

func observeWarmFailure(courseID string, err error) {
	warmFailures.Inc()
	log.Printf("location cache warm failed for course %s: %v", courseID, err)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotActive):
		return "session_not_active"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrLocationNotConfigured):
		return "location_not_configured"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrAlreadyMarked):
		return "already_marked"
	default:
		return "error"
	}
}
