package integration

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	busPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mathilda_bus_published_total",
		Help: "Total number of events accepted by Publish, by event type",
	}, []string{"event_type"})

	busDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mathilda_bus_delivered_total",
		Help: "Total number of events delivered to subscribers, by event type",
	}, []string{"event_type"})

	busDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mathilda_bus_queue_dropped_total",
		Help: "Total number of high-frequency events dropped on queue overflow",
	})

	busHandlerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mathilda_bus_handler_errors_total",
		Help: "Total number of subscriber panics recovered during delivery",
	})

	busQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mathilda_bus_queue_length",
		Help: "Current number of events waiting in the batch queue",
	})
)
