package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Transitions *prometheus.CounterVec // op label: start|arrive|advance|end|check_in|...
	Rejections  *prometheus.CounterVec // op, code labels
	OpDuration  *prometheus.HistogramVec

	EventsPublished    *prometheus.CounterVec // sink label
	EventPublishErrs   *prometheus.CounterVec // sink label
	EventsDropped      prometheus.Counter
	PublishDuration    prometheus.Histogram
	SinkUp             *prometheus.GaugeVec   // sink label
	HookFailures       *prometheus.CounterVec // hook label
	RoutesIngested     prometheus.Counter
	WeatherLookupErrs  prometheus.Counter
	StartWindowMinutes prometheus.Gauge
}

func NewCollector(startWindow time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walkingbus_transitions_total",
			Help: "Committed engine operations.",
		}, []string{"op"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walkingbus_rejections_total",
			Help: "Engine operations rejected by a guard, by error code.",
		}, []string{"op", "code"}),
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "walkingbus_operation_duration_seconds",
			Help:    "Duration of engine operations including the store transaction.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}, []string{"op"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walkingbus_events_published_total",
			Help: "Events delivered, by sink.",
		}, []string{"sink"}),
		EventPublishErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walkingbus_event_publish_errors_total",
			Help: "Event deliveries that failed, by sink.",
		}, []string{"sink"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walkingbus_events_dropped_total",
			Help: "Events dropped because the dispatcher queue was full or stopped.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "walkingbus_publish_duration_seconds",
			Help:    "Duration to marshal and publish one event to one sink.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SinkUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "walkingbus_sink_connected",
			Help: "1 if the sink's broker connection is established, 0 otherwise.",
		}, []string{"sink"}),
		HookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walkingbus_end_hook_failures_total",
			Help: "End-of-session background hooks that failed.",
		}, []string{"hook"}),
		RoutesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walkingbus_routes_ingested_total",
			Help: "Routes ingested through the API.",
		}),
		WeatherLookupErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walkingbus_weather_lookup_errors_total",
			Help: "Weather lookups that failed and were stored as null.",
		}),
		StartWindowMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "walkingbus_start_window_minutes",
			Help: "How early before scheduledAt a session may be started.",
		}),
	}

	reg.MustRegister(
		c.Transitions, c.Rejections, c.OpDuration,
		c.EventsPublished, c.EventPublishErrs, c.EventsDropped, c.PublishDuration, c.SinkUp,
		c.HookFailures, c.RoutesIngested, c.WeatherLookupErrs, c.StartWindowMinutes,
	)

	c.StartWindowMinutes.Set(startWindow.Minutes())

	return c
}

// Engine hooks.

func (c *Collector) ObserveOperation(op string, code string, d time.Duration) {
	c.OpDuration.WithLabelValues(op).Observe(d.Seconds())
	if code == "" {
		c.Transitions.WithLabelValues(op).Inc()
		return
	}
	c.Rejections.WithLabelValues(op, code).Inc()
}

func (c *Collector) HookFailed(hook string) { c.HookFailures.WithLabelValues(hook).Inc() }
func (c *Collector) WeatherFailed()         { c.WeatherLookupErrs.Inc() }
func (c *Collector) RouteIngested()         { c.RoutesIngested.Inc() }

// Dispatcher hooks.

func (c *Collector) EventPublished(sink string)     { c.EventsPublished.WithLabelValues(sink).Inc() }
func (c *Collector) EventPublishFailed(sink string) { c.EventPublishErrs.WithLabelValues(sink).Inc() }
func (c *Collector) EventDropped()                  { c.EventsDropped.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) SinkConnected(sink string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	c.SinkUp.WithLabelValues(sink).Set(v)
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}
