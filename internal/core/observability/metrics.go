package observability

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	ingestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_ingest_total",
			Help: "Archive ingestion attempts by outcome.",
		},
		[]string{"outcome"},
	)

	ingestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "layer_ingest_duration_seconds",
			Help:    "Time spent extracting, parsing and normalizing one archive.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	layersRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "layers_registered",
			Help: "Number of layers currently held by the registry.",
		},
	)

	orderStoreOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_store_ops_total",
			Help: "Order store operations by backend, op and result.",
		},
		[]string{"backend", "op", "result"},
	)

	bootstrapFetch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bootstrap_fetch_total",
			Help: "Bootstrap archive fetches by result (downloaded, cached, failed).",
		},
		[]string{"result"},
	)

	layerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_events_total",
			Help: "Layer change events handed to sinks by result.",
		},
		[]string{"sink", "result"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webgis_build_info",
			Help: "Build information for the layer server binary.",
		},
		[]string{"version"},
	)
)

var regMu sync.Mutex

// Register attaches all collectors to r. Registering twice on the same
// registry is a no-op.
func Register(r prometheus.Registerer) error {
	if r == nil {
		return nil
	}
	regMu.Lock()
	defer regMu.Unlock()
	for _, c := range []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		ingestTotal, ingestDurationSeconds, layersRegistered,
		orderStoreOps, bootstrapFetch, layerEvents, buildInfo,
	} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// outcome is "ok" or the failure class (no_shapefile, parse, projection, ...)
func ObserveIngest(outcome string, durationSeconds float64) {
	ingestTotal.WithLabelValues(outcome).Inc()
	ingestDurationSeconds.Observe(durationSeconds)
}

func SetLayersRegistered(n int) {
	layersRegistered.Set(float64(n))
}

func ObserveOrderOp(backend, op string, err error) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	orderStoreOps.WithLabelValues(backend, op, res).Inc()
}

func IncBootstrapFetch(result string) {
	bootstrapFetch.WithLabelValues(result).Inc()
}

func IncLayerEvent(sink, result string) {
	layerEvents.WithLabelValues(sink, result).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
