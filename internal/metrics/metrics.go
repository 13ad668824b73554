// Package metrics exposes engine lifecycle events as prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/termctl/internal/event"
	"github.com/Iron-Ham/termctl/internal/logging"
)

const namespace = "termctl"

// Collector maintains prometheus metrics fed from the event bus.
type Collector struct {
	registry *prometheus.Registry

	sessions        *prometheus.GaugeVec
	launches        *prometheus.CounterVec
	launchDuration  prometheus.Histogram
	inputs          *prometheus.CounterVec
	captures        prometheus.Counter
	captureDuration prometheus.Histogram
	captureBytes    prometheus.Counter
	slotsInUse      prometheus.Gauge
	slotsCapacity   prometheus.Gauge
	quarantined     prometheus.Counter
	reclaimFailures *prometheus.CounterVec

	subs   []string
	bus    *event.Bus
	logger *logging.Logger
}

// New creates a Collector with its own registry. Go runtime and process
// collectors are registered alongside the engine metrics.
func New(logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.NopLogger()
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		logger:   logger.WithComponent("metrics"),

		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Sessions known to the engine by current state.",
		}, []string{"state"}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launches_total",
			Help:      "Launch attempts by result and error kind.",
		}, []string{"result", "kind"}),
		launchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "launch_duration_seconds",
			Help:      "Time from launch request to ACTIVE or ERROR.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 3, 5, 10, 20, 30},
		}),
		inputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inputs_total",
			Help:      "Input operations delivered, by payload kind.",
		}, []string{"kind"}),
		captures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Successful display captures.",
		}),
		captureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Time spent running the capture tool and decoding its output.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5},
		}),
		captureBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_bytes_total",
			Help:      "Encoded bytes produced by the capture tool.",
		}),
		slotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "display_slots_in_use",
			Help:      "Display numbers currently leased.",
		}),
		slotsCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "display_slots_capacity",
			Help:      "Display numbers available to the allocator.",
		}),
		quarantined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "display_slots_quarantined_total",
			Help:      "Display numbers withdrawn because their server could not be reclaimed.",
		}),
		reclaimFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaim_failures_total",
			Help:      "Supervised processes that survived SIGKILL, by process role.",
		}, []string{"process"}),
	}

	c.registry.MustRegister(
		c.sessions,
		c.launches,
		c.launchDuration,
		c.inputs,
		c.captures,
		c.captureDuration,
		c.captureBytes,
		c.slotsInUse,
		c.slotsCapacity,
		c.quarantined,
		c.reclaimFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Attach subscribes the collector to bus. Calling Attach again moves the
// subscriptions to the new bus.
func (c *Collector) Attach(bus *event.Bus) {
	c.Detach()
	if bus == nil {
		return
	}
	c.bus = bus
	c.subs = []string{
		bus.Subscribe(event.TypeSessionStateChanged, c.onStateChanged),
		bus.Subscribe(event.TypeSessionForgotten, c.onForgotten),
		bus.Subscribe(event.TypeSessionLaunched, c.onLaunched),
		bus.Subscribe(event.TypeSessionInput, c.onInput),
		bus.Subscribe(event.TypeSessionCaptured, c.onCaptured),
		bus.Subscribe(event.TypeDisplayAcquired, c.onDisplayAcquired),
		bus.Subscribe(event.TypeDisplayReleased, c.onDisplayReleased),
		bus.Subscribe(event.TypeReclaimFailed, c.onReclaimFailed),
	}
}

// Detach removes the collector's bus subscriptions.
func (c *Collector) Detach() {
	if c.bus == nil {
		return
	}
	for _, id := range c.subs {
		c.bus.Unsubscribe(id)
	}
	c.bus = nil
	c.subs = nil
}

func (c *Collector) onStateChanged(e event.Event) {
	ev, ok := e.(event.SessionStateChangedEvent)
	if !ok {
		return
	}
	if ev.From != "" {
		c.sessions.WithLabelValues(ev.From).Dec()
	}
	c.sessions.WithLabelValues(ev.To).Inc()
}

func (c *Collector) onForgotten(e event.Event) {
	if ev, ok := e.(event.SessionForgottenEvent); ok {
		c.sessions.WithLabelValues(ev.State).Dec()
	}
}

func (c *Collector) onLaunched(e event.Event) {
	ev, ok := e.(event.SessionLaunchedEvent)
	if !ok {
		return
	}
	result, kind := "success", ""
	if !ev.Success {
		result, kind = "failure", ev.ErrorKind
	}
	c.launches.WithLabelValues(result, kind).Inc()
	c.launchDuration.Observe(ev.Duration.Seconds())
}

func (c *Collector) onInput(e event.Event) {
	if ev, ok := e.(event.SessionInputEvent); ok {
		c.inputs.WithLabelValues(ev.Kind).Inc()
	}
}

func (c *Collector) onCaptured(e event.Event) {
	ev, ok := e.(event.SessionCapturedEvent)
	if !ok {
		return
	}
	c.captures.Inc()
	c.captureDuration.Observe(ev.Duration.Seconds())
	c.captureBytes.Add(float64(ev.Bytes))
}

func (c *Collector) onDisplayAcquired(e event.Event) {
	if ev, ok := e.(event.DisplayAcquiredEvent); ok {
		c.slotsInUse.Set(float64(ev.InUse))
		c.slotsCapacity.Set(float64(ev.Capacity))
	}
}

func (c *Collector) onDisplayReleased(e event.Event) {
	ev, ok := e.(event.DisplayReleasedEvent)
	if !ok {
		return
	}
	c.slotsInUse.Set(float64(ev.InUse))
	c.slotsCapacity.Set(float64(ev.Capacity))
	if ev.Quarantined {
		c.quarantined.Inc()
	}
}

func (c *Collector) onReclaimFailed(e event.Event) {
	if ev, ok := e.(event.ReclaimFailedEvent); ok {
		c.reclaimFailures.WithLabelValues(ev.Process).Inc()
	}
}

// Handler returns an HTTP handler serving the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		Registry:      c.registry,
		ErrorLog:      promLogger{c.logger},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Serve listens on addr and serves /metrics until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return c.serve(ctx, ln)
}

func (c *Collector) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("serving metrics", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// promLogger adapts the engine logger to promhttp's Println interface.
type promLogger struct {
	logger *logging.Logger
}

func (l promLogger) Println(v ...any) {
	msg := "metrics handler error"
	if len(v) > 0 {
		if s, ok := v[0].(string); ok {
			msg = s
		}
	}
	l.logger.Error(msg, "detail", v)
}
