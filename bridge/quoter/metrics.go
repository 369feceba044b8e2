package quoter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	quotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "quotes_total",
		Help:      "Quote computations by route and outcome.",
	}, []string{"route", "outcome"})

	priceFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "price_fallbacks_total",
		Help:      "Quotes that had to use a cached price because the live lookup failed.",
	}, []string{"symbol"})
)
