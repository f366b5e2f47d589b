package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikebuddy",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bikebuddy",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bikebuddy",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Region sync metrics
	RegionDiffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikebuddy",
		Subsystem: "region",
		Name:      "diffs_total",
		Help:      "Region diff queries served, by outcome",
	}, []string{"outcome"})

	RegionDiffRecords = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bikebuddy",
		Subsystem: "region",
		Name:      "diff_records",
		Help:      "Records per region diff, split into added and removed",
		Buckets:   []float64{0, 1, 5, 25, 100, 250, 500, 1000, 2000},
	}, []string{"kind"})

	RegionQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bikebuddy",
		Subsystem: "region",
		Name:      "query_duration_seconds",
		Help:      "Duration of a region diff query",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	SessionSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikebuddy",
		Subsystem: "session",
		Name:      "syncs_total",
		Help:      "Session region syncs, by outcome",
	}, []string{"outcome"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bikebuddy",
		Subsystem: "ws",
		Name:      "active_sessions",
		Help:      "Current number of WebSocket sessions",
	})

	// Ingestion metrics
	POIsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikebuddy",
		Subsystem: "ingest",
		Name:      "pois_total",
		Help:      "Records written by the ingester",
	}, []string{"category"})

	IngestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikebuddy",
		Subsystem: "ingest",
		Name:      "errors_total",
		Help:      "Failed ingest slice attempts",
	}, []string{"category"})

	SourceFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bikebuddy",
		Subsystem: "ingest",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of upstream source fetches",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"category"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikebuddy",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikebuddy",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bikebuddy",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bikebuddy",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bikebuddy",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		// Route pattern keeps /v1/pois/:id at one series.
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// PoolStat is the subset of pgxpool.Stat used for pool gauges.
type PoolStat interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
}

// UpdateDBPoolMetrics copies pgxpool stats into the pool gauges.
func UpdateDBPoolMetrics(stat PoolStat) {
	DBPoolConnsAcquired.Set(float64(stat.AcquiredConns()))
	DBPoolConnsIdle.Set(float64(stat.IdleConns()))
	DBPoolConnsOpen.Set(float64(stat.TotalConns()))
}
