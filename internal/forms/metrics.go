package forms

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure reasons used as metric labels.
const (
	reasonSchema   = "schema"
	reasonRequest  = "request"
	reasonRender   = "render"
	reasonArtifact = "artifact"
	reasonCanceled = "canceled"

	reasonUserNotFound = "user_not_found"
	reasonPersist      = "persist"
	reasonOther        = "other"
)

var (
	documentsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forms_documents_generated_total",
			Help: "Documents generated and stored, by form",
		},
		[]string{"form"},
	)

	generationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forms_generation_failures_total",
			Help: "Generation calls that produced no document, by reason",
		},
		[]string{"reason"},
	)

	registrationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forms_registration_failures_total",
			Help: "Documents delivered but not attached to the user record, by reason",
		},
		[]string{"reason"},
	)

	composeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forms_compose_duration_seconds",
			Help:    "Time spent composing a document",
			Buckets: prometheus.DefBuckets,
		},
	)

	composeInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forms_compose_in_flight",
			Help: "Compositions currently running",
		},
	)
)
