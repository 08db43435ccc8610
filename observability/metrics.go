package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics registered against this registry when Setup enables Metrics.
// Every metric is per-track where the call site has a track name, using
// track as a label rather than a dedicated Collector per track so the
// registry stays a fixed, known set of descriptors.
var (
	metricsMu sync.Mutex
	registry  *prometheus.Registry

	groupsReceived  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	catchupFrames   *prometheus.CounterVec
	subscriberGauge *prometheus.GaugeVec
	broadcastLag    *prometheus.HistogramVec
	broadcastRatio  *prometheus.GaugeVec
	latencyHist     *prometheus.HistogramVec
	trackGauge      prometheus.Gauge
)

func setupMetrics() error {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	registry = prometheus.NewRegistry()

	groupsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moq",
		Name:      "groups_received_total",
		Help:      "Groups received per track.",
	}, []string{"track"})
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moq",
		Name:      "cache_hits_total",
		Help:      "Group cache hits per track.",
	}, []string{"track"})
	cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moq",
		Name:      "cache_misses_total",
		Help:      "Group cache misses per track.",
	}, []string{"track"})
	catchupFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moq",
		Name:      "catchup_frames_total",
		Help:      "Frames sent to fast-forward a new subscriber to the current group.",
	}, []string{"track"})
	subscriberGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "moq",
		Name:      "subscribers",
		Help:      "Current subscriber count per track.",
	}, []string{"track"})
	broadcastLag = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "moq",
		Name:      "broadcast_latency_seconds",
		Help:      "Time to fan a group out to its subscribers.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"track"})
	broadcastRatio = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "moq",
		Name:      "broadcast_delivery_ratio",
		Help:      "Subscribers successfully delivered a group vs. attempted.",
	}, []string{"track"})
	latencyHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "moq",
		Name:      "latency_seconds",
		Help:      "Named latency observations per track.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"track", "stage"})
	trackGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "moq",
		Name:      "tracks",
		Help:      "Currently active tracks across all sessions.",
	})

	registry.MustRegister(groupsReceived, cacheHits, cacheMisses, catchupFrames,
		subscriberGauge, broadcastLag, broadcastRatio, latencyHist, trackGauge)

	return nil
}

func shutdownMetrics(errs *[]error) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	registry = nil
	groupsReceived, cacheHits, cacheMisses, catchupFrames = nil, nil, nil, nil
	subscriberGauge, broadcastLag, broadcastRatio, latencyHist, trackGauge = nil, nil, nil, nil, nil
}

// Registry returns the live Prometheus registry, or nil when metrics are
// disabled. A caller wiring an HTTP /metrics endpoint checks this once at
// startup.
func Registry() *prometheus.Registry {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return registry
}

// Recorder batches the per-track metric updates one session or cache
// handler emits, so call sites write rec.GroupReceived() instead of
// threading a track-name label through every call.
type Recorder struct {
	track string
}

// NewRecorder returns a Recorder scoped to track. Safe to call whether or
// not metrics are enabled; every method becomes a no-op when they aren't.
func NewRecorder(track string) *Recorder {
	return &Recorder{track: track}
}

func (r *Recorder) GroupReceived() {
	metricsMu.Lock()
	c := groupsReceived
	metricsMu.Unlock()
	if c != nil {
		c.WithLabelValues(r.track).Inc()
	}
}

func (r *Recorder) CacheHit() {
	metricsMu.Lock()
	c := cacheHits
	metricsMu.Unlock()
	if c != nil {
		c.WithLabelValues(r.track).Inc()
	}
}

func (r *Recorder) CacheMiss() {
	metricsMu.Lock()
	c := cacheMisses
	metricsMu.Unlock()
	if c != nil {
		c.WithLabelValues(r.track).Inc()
	}
}

// Catchup records n frames sent to bring a new subscriber up to the
// current group.
func (r *Recorder) Catchup(n int) {
	metricsMu.Lock()
	c := catchupFrames
	metricsMu.Unlock()
	if c != nil {
		c.WithLabelValues(r.track).Add(float64(n))
	}
}

func (r *Recorder) IncSubscribers() {
	metricsMu.Lock()
	g := subscriberGauge
	metricsMu.Unlock()
	if g != nil {
		g.WithLabelValues(r.track).Inc()
	}
}

func (r *Recorder) DecSubscribers() {
	metricsMu.Lock()
	g := subscriberGauge
	metricsMu.Unlock()
	if g != nil {
		g.WithLabelValues(r.track).Dec()
	}
}

func (r *Recorder) SetSubscribers(n int) {
	metricsMu.Lock()
	g := subscriberGauge
	metricsMu.Unlock()
	if g != nil {
		g.WithLabelValues(r.track).Set(float64(n))
	}
}

// Broadcast records one fan-out pass: how long it took, how many
// subscribers were delivered to, and how many were attempted.
func (r *Recorder) Broadcast(latency time.Duration, delivered, attempted int) {
	metricsMu.Lock()
	lag, ratio := broadcastLag, broadcastRatio
	metricsMu.Unlock()
	if lag != nil {
		lag.WithLabelValues(r.track).Observe(latency.Seconds())
	}
	if ratio != nil && attempted > 0 {
		ratio.WithLabelValues(r.track).Set(float64(delivered) / float64(attempted))
	}
}

// LatencyObs returns an Observer for a named latency stage (e.g.
// "receive", "forward"), or nil when metrics are disabled.
func (r *Recorder) LatencyObs(stage string) prometheus.Observer {
	metricsMu.Lock()
	h := latencyHist
	metricsMu.Unlock()
	if h == nil {
		return nil
	}
	return h.WithLabelValues(r.track, stage)
}

// IncTracks and DecTracks track the global count of active tracks across
// every session served by this process.
func IncTracks() {
	metricsMu.Lock()
	g := trackGauge
	metricsMu.Unlock()
	if g != nil {
		g.Inc()
	}
}

func DecTracks() {
	metricsMu.Lock()
	g := trackGauge
	metricsMu.Unlock()
	if g != nil {
		g.Dec()
	}
}
