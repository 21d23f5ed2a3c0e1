package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	epochsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duties_epochs_ingested_total",
		Help: "Number of epochs whose reveals were folded into the accumulator.",
	})
	lastIngestedEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duties_last_ingested_epoch",
		Help: "The most recent epoch ingested.",
	})
	dutiesComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duties_rosters_computed_total",
		Help: "Number of epoch duty rosters computed.",
	})
)
