package randao

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	revealsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "randao_reveals_ingested_total",
		Help: "Number of verified entropy contributions folded into a mix.",
	})
	revealsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "randao_reveals_rejected_total",
		Help: "Number of contributions rejected by the accumulator.",
	})
	thresholdIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "randao_threshold_signatures_total",
		Help: "Number of group signatures stored by the accumulator.",
	})
)
