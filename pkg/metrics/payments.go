package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pkgerrors "github.com/angelmondragon/ridepay-backend/pkg/errors"
)

const OutcomeOK = "ok"

// PaymentMetrics tracks lifecycle operations and capture worker progress.
type PaymentMetrics struct {
	operations    *prometheus.CounterVec
	captureEntry  *prometheus.CounterVec
	batchDuration prometheus.Histogram
	queueDepth    prometheus.Gauge
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_operations_total",
		Help: "Payment lifecycle operations by outcome.",
	}, []string{"operation", "outcome"})
	captureEntry := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_queue_entries_total",
		Help: "Capture queue entries handled by the reconciliation worker.",
	}, []string{"outcome"})
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "capture_batch_duration_seconds",
		Help:    "Duration of capture batch runs in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "capture_batch_size",
		Help: "Entries dequeued by the most recent capture batch.",
	})
	reg.MustRegister(operations, captureEntry, batchDuration, queueDepth)
	return &PaymentMetrics{
		operations:    operations,
		captureEntry:  captureEntry,
		batchDuration: batchDuration,
		queueDepth:    queueDepth,
	}
}

// ObserveOperation counts one lifecycle operation. A nil err is recorded as ok.
func (p *PaymentMetrics) ObserveOperation(operation string, err error) {
	if p == nil || p.operations == nil {
		return
	}
	p.operations.WithLabelValues(normalizeLabel(operation), OutcomeLabel(err)).Inc()
}

// IncCaptureEntry counts one worker entry outcome (succeeded, retried, failed, skipped).
func (p *PaymentMetrics) IncCaptureEntry(outcome string) {
	if p == nil || p.captureEntry == nil {
		return
	}
	p.captureEntry.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveBatch records the duration and size of one capture batch.
func (p *PaymentMetrics) ObserveBatch(duration time.Duration, dequeued int) {
	if p == nil || p.batchDuration == nil {
		return
	}
	p.batchDuration.Observe(duration.Seconds())
	p.queueDepth.Set(float64(dequeued))
}

// OutcomeLabel maps an error to a low-cardinality label.
func OutcomeLabel(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "internal_error"
}
