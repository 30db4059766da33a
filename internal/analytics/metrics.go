package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pageemu",
	Name:      "deliveries_total",
	Help:      "Emulated analytics deliveries by kind and status.",
}, []string{"kind", "status"})
