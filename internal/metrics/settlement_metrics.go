package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Purchase outcomes
const (
	OutcomeSuccess      = "success"
	OutcomeTest         = "test"
	OutcomeRejected     = "rejected"
	OutcomeInsufficient = "insufficient_balance"
	OutcomeAdapterError = "adapter_error"
	OutcomePartial      = "partial_commit"
	OutcomeError        = "error"
)

// Import row outcomes
const (
	RowSuccess = "success"
	RowDropped = "dropped"
	RowFailed  = "failed"
)

// SettlementMetrics captures purchase, import and reconciliation health.
type SettlementMetrics struct {
	purchases      *prometheus.CounterVec
	partialCommits prometheus.Counter
	carrierCalls   *prometheus.HistogramVec
	importRows     *prometheus.CounterVec
	reconcileItems *prometheus.CounterVec
	inboxFiles     *prometheus.CounterVec
}

var (
	settlementMetricsOnce sync.Once
	settlementMetrics     *SettlementMetrics
)

// Settlement returns the singleton metrics registered on the default registerer.
func Settlement() *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementMetrics = NewSettlementMetrics(prometheus.DefaultRegisterer)
	})
	return settlementMetrics
}

// ResetSettlementMetricsForTest resets the singleton for tests.
func ResetSettlementMetricsForTest() {
	settlementMetricsOnce = sync.Once{}
	settlementMetrics = nil
}

func NewSettlementMetrics(registerer prometheus.Registerer) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	purchases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_label_purchases_total",
		Help: "Label purchases by carrier and outcome.",
	}, []string{"carrier", "outcome"})
	partialCommits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_partial_commits_total",
		Help: "Labels issued by a carrier whose billing or persistence failed afterwards.",
	})
	carrierCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_carrier_call_duration_seconds",
		Help:    "Carrier adapter call latency.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45},
	}, []string{"carrier", "op"})
	importRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_import_rows_total",
		Help: "Batch import rows by outcome.",
	}, []string{"outcome"})
	reconcileItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_reconciliation_items_total",
		Help: "Settlement lines processed by status.",
	}, []string{"status"})
	inboxFiles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_inbox_files_total",
		Help: "Settlement files picked up by the inbox listener.",
	}, []string{"result"})

	purchases = registerCollector(registerer, purchases)
	partialCommits = registerCollector(registerer, partialCommits)
	carrierCalls = registerCollector(registerer, carrierCalls)
	importRows = registerCollector(registerer, importRows)
	reconcileItems = registerCollector(registerer, reconcileItems)
	inboxFiles = registerCollector(registerer, inboxFiles)

	return &SettlementMetrics{
		purchases:      purchases,
		partialCommits: partialCommits,
		carrierCalls:   carrierCalls,
		importRows:     importRows,
		reconcileItems: reconcileItems,
		inboxFiles:     inboxFiles,
	}
}

// registerCollector registers c, reusing an identical collector that is
// already registered.
func registerCollector[T prometheus.Collector](registerer prometheus.Registerer, c T) T {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *SettlementMetrics) Purchase(carrier, outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(carrier, outcome).Inc()
}

func (m *SettlementMetrics) PartialCommit() {
	if m == nil {
		return
	}
	m.partialCommits.Inc()
}

// ObserveCarrierCall records how long op took since start.
func (m *SettlementMetrics) ObserveCarrierCall(carrier, op string, start time.Time) {
	if m == nil {
		return
	}
	m.carrierCalls.WithLabelValues(carrier, op).Observe(time.Since(start).Seconds())
}

func (m *SettlementMetrics) ImportRow(outcome string) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues(outcome).Inc()
}

func (m *SettlementMetrics) ReconcileItem(status string) {
	if m == nil {
		return
	}
	m.reconcileItems.WithLabelValues(status).Inc()
}

func (m *SettlementMetrics) InboxFile(result string) {
	if m == nil {
		return
	}
	m.inboxFiles.WithLabelValues(result).Inc()
}
