package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LoginResultSuccess     = "success"
	LoginResultWrongPass   = "wrong_password"
	LoginResultError       = "error"
	NotificationSent       = "sent"
	NotificationMailFailed = "mail_failed"
	NotificationPanicked   = "panicked"
	GeoIPResolved          = "resolved"
	GeoIPUnknown           = "unknown"
)

type Manager struct {
	// counters
	CounterRequests            *prometheus.CounterVec
	CounterHandleRequestPanic  prometheus.Counter
	CounterRateLimitedRequests prometheus.Counter
	CounterLogins              *prometheus.CounterVec
	CounterUnauthorized        prometheus.Counter
	CounterNotifications       *prometheus.CounterVec
	CounterGeoIPLookups        *prometheus.CounterVec

	// gauges
	GaugeRequests   prometheus.Gauge
	GaugeLifeSignal prometheus.Gauge

	// histograms
	HistogramRequestDuration *prometheus.HistogramVec
}

func NewTestManager() *Manager {
	return NewManager("backend", "test_server", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("backend", "test_server", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request",
		Help:      "The total number of incoming requests",
	}, []string{"method", "status"})
	counterHandleRequestPanic := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "handle_request_panic",
		Help:      "The total number of serve request panics",
	})
	counterRateLimitedRequests := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rate_limited_requests",
		Help:      "The total number of rate limited requests",
	})
	counterLogins := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "logins",
		Help:      "The total number of admin login attempts, by result",
	}, []string{"result"})
	counterUnauthorized := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "unauthorized_requests",
		Help:      "The total number of requests rejected by the auth guard",
	})
	counterNotifications := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "login_notifications",
		Help:      "The total number of login notifications, by outcome",
	}, []string{"outcome"})
	counterGeoIPLookups := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "geo_ip_lookups",
		Help:      "The total number of geo ip lookups made for login notifications, by outcome",
	}, []string{"outcome"})

	gaugeRequests := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "current_requests",
		Help:      "Current number of requests served",
	})
	gaugeLifeSignal := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "life_signal",
		Help:      "Shows whether the service is alive",
	})

	histogramRequestDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Histogram of response time for requests in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"route", "method", "status_code"})

	return &Manager{
		CounterRequests:            counterRequests,
		CounterHandleRequestPanic:  counterHandleRequestPanic,
		CounterRateLimitedRequests: counterRateLimitedRequests,
		CounterLogins:              counterLogins,
		CounterUnauthorized:        counterUnauthorized,
		CounterNotifications:       counterNotifications,
		CounterGeoIPLookups:        counterGeoIPLookups,
		GaugeRequests:              gaugeRequests,
		GaugeLifeSignal:            gaugeLifeSignal,
		HistogramRequestDuration:   histogramRequestDuration,
	}
}
