package ftl

import (
	"math"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// decimalExponentialBuckets builds histogram buckets spanning
// 10^minExponent .. 10^(minExponent+(numBuckets-1)/bucketsPerDecade), with
// bucketsPerDecade steps per decade of range. This is the bucket-math
// idiom the teacher repo factors out as util.DecimalExponentialBuckets;
// that helper lives in github.com/buildbarn/bb-storage, which this repo
// does not depend on (see DESIGN.md), so it is reimplemented directly
// against prometheus.ExponentialBuckets.
func decimalExponentialBuckets(minExponent, numBuckets, bucketsPerDecade int) []float64 {
	factor := math.Pow(10, 1/float64(bucketsPerDecade))
	return prometheus.ExponentialBuckets(math.Pow(10, float64(minExponent)), factor, numBuckets)
}

var metricsOnce sync.Once

var (
	submitLatencySeconds *prometheus.HistogramVec
	deviceWaitSeconds    *prometheus.HistogramVec
	deferredTotal        prometheus.Counter
	gcKicksTotal         prometheus.Counter
	invalidationsTotal   prometheus.Counter
	apAccessesTotal      *prometheus.CounterVec
	prioListLength       *prometheus.GaugeVec
	poolFreeBlocks       *prometheus.GaugeVec
)

func registerMetrics() {
	metricsOnce.Do(func() {
		submitLatencySeconds = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ftl",
				Subsystem: "pipeline",
				Name:      "submit_latency_seconds",
				Help:      "Time from submit to completion of a request, in seconds.",
				Buckets:   decimalExponentialBuckets(-6, 12, 2),
			},
			[]string{"direction"},
		)
		deviceWaitSeconds = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ftl",
				Subsystem: "pipeline",
				Name:      "device_wait_seconds",
				Help:      "Busy-pacing delay applied to emulate device latency, in seconds.",
				Buckets:   decimalExponentialBuckets(-6, 12, 2),
			},
			[]string{"direction"},
		)
		deferredTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ftl",
			Subsystem: "pipeline",
			Name:      "deferred_total",
			Help:      "Total number of requests deferred due to transient exhaustion.",
		})
		gcKicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ftl",
			Subsystem: "pipeline",
			Name:      "gc_kicks_total",
			Help:      "Total number of kick_gc signals raised.",
		})
		invalidationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ftl",
			Subsystem: "translation",
			Name:      "invalidations_total",
			Help:      "Total number of pages invalidated by overwrite.",
		})
		apAccessesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ftl",
			Subsystem: "appendpoint",
			Name:      "accesses_total",
			Help:      "Total number of accesses per append point.",
		}, []string{"ap"})
		prioListLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ftl",
			Subsystem: "pool",
			Name:      "prio_list_length",
			Help:      "Number of blocks currently queued as GC candidates, per pool.",
		}, []string{"pool"})
		poolFreeBlocks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ftl",
			Subsystem: "pool",
			Name:      "free_blocks",
			Help:      "Number of free blocks, per pool.",
		}, []string{"pool"})

		prometheus.MustRegister(
			submitLatencySeconds,
			deviceWaitSeconds,
			deferredTotal,
			gcKicksTotal,
			invalidationsTotal,
			apAccessesTotal,
			prioListLength,
			poolFreeBlocks,
		)
	})
}
