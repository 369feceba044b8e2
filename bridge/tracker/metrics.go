package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "polls_total",
		Help:      "Tracking polls by resulting status.",
	}, []string{"status"})

	collaboratorErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "collaborator_errors_total",
		Help:      "Collaborator queries that failed or timed out during a poll.",
	}, []string{"collaborator"})
)
