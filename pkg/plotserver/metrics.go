package plotserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "plotview"

type metrics struct {
	spawns       prometheus.Counter
	epochs       prometheus.Counter
	teardowns    prometheus.Counter
	browserOpens *prometheus.CounterVec
	pagesOpened  prometheus.Counter
	notFound     *prometheus.CounterVec
	framesSent   prometheus.Counter
	parseErrors  prometheus.Counter
	channels     prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		spawns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "spawns_total",
			Help:      "Number of spawn requests",
		}),
		epochs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "epochs_total",
			Help:      "Number of times the listener was bound",
		}),
		teardowns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "teardowns_total",
			Help:      "Number of times the listener was torn down",
		}),
		browserOpens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "browser_opens_total",
			Help:      "Browser open requests by result",
		}, []string{"result"}),
		pagesOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pages_opened_total",
			Help:      "Number of page data fetches",
		}),
		notFound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "not_found_total",
			Help:      "404 responses by kind",
		}, []string{"kind"}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "frames_sent_total",
			Help:      "Live frames written to channels",
		}),
		parseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "parse_errors_total",
			Help:      "Channel messages dropped because they could not be parsed",
		}),
		channels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "attached_channels",
			Help:      "Channels currently attached to a live page",
		}),
	}
}
