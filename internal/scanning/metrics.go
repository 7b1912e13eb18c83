package scanning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	tierAI        = "ai"
	tierHeuristic = "heuristic"
)

var (
	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spend_tracker",
		Name:      "receipt_extractions_total",
		Help:      "Receipt extractions by the tier that produced the result and the reason for falling back.",
	}, []string{"tier", "reason"})

	ocrFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spend_tracker",
		Name:      "ocr_failures_total",
		Help:      "Text extraction failures by stage.",
	}, []string{"stage"})
)
