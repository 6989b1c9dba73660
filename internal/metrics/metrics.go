package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	TransferEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsync",
			Name:      "transfer_events_total",
			Help:      "Count of transfer events processed by the reconciler.",
		},
		[]string{"kind", "type"},
	)

	BytesDownloaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsync",
			Name:      "downloaded_bytes_total",
			Help:      "Bytes of files completed locally.",
		},
		[]string{"kind"},
	)

	TransferLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "devsync",
			Name:      "transfer_duration_seconds",
			Help:      "Wall time of completed file transfers.",
		},
		[]string{"kind"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "devsync",
			Name:      "queue_depth",
			Help:      "Media download jobs waiting in the queue.",
		},
	)

	ActiveTransfers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "devsync",
			Name:      "active_transfers",
			Help:      "Number of transfers currently streaming.",
		},
	)

	QuotaEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devsync",
			Name:      "quota_evictions_total",
			Help:      "Files deleted to keep the data directory under quota.",
		},
	)

	PollPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsync",
			Name:      "poll_passes_total",
			Help:      "Data poller passes by outcome.",
		},
		[]string{"outcome"},
	)
)

var once sync.Once

// Register registers the devsync metrics into the default registry. Later
// calls are no-ops.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(TransferEvents, BytesDownloaded, TransferLatency, QueueDepth, ActiveTransfers, QuotaEvictions, PollPasses)
	})
}
