package prometheus

import (
	"strconv"
	"time"

	"github.com/turtacn/molident/internal/domain/canon"
	"github.com/turtacn/molident/internal/domain/catalog"
	"github.com/turtacn/molident/internal/infrastructure/storage/binstore"
)

var (
	_ canon.Observer         = (*EngineMetrics)(nil)
	_ catalog.LookupObserver = (*EngineMetrics)(nil)
	_ binstore.Observer      = (*EngineMetrics)(nil)
)

// EngineMetrics records canonicalization, lookup and store activity.
type EngineMetrics struct {
	CanonicalizationsTotal   CounterVec
	CanonicalizationDuration HistogramVec
	SymmetryVariants         HistogramVec

	LookupsTotal CounterVec

	StoreDuration HistogramVec
	StoreRecords  GaugeVec
	StoreErrors   CounterVec

	MergeOutcomes CounterVec
	Records       GaugeVec
}

func NewEngineMetrics(c MetricsCollector) *EngineMetrics {
	return &EngineMetrics{
		CanonicalizationsTotal: c.RegisterCounter("canonicalizations_total",
			"Canonical hashes computed, by whether the refinement was exact", "exact"),
		CanonicalizationDuration: c.RegisterHistogram("canonicalization_duration_seconds",
			"Time spent computing one canonical hash",
			[]float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5}),
		SymmetryVariants: c.RegisterHistogram("symmetry_variants",
			"Symmetry variants per canonicalized graph",
			[]float64{1, 2, 4, 8, 16, 32, 64}),

		LookupsTotal: c.RegisterCounter("index_lookups_total",
			"Record index lookups", "kind", "result"),

		StoreDuration: c.RegisterHistogram("store_duration_seconds",
			"Binary store save and load duration", nil, "op"),
		StoreRecords: c.RegisterGauge("store_records",
			"Records in the last saved or loaded binary store", "op"),
		StoreErrors: c.RegisterCounter("store_errors_total",
			"Failed binary store operations", "op"),

		MergeOutcomes: c.RegisterCounter("merge_outcomes_total",
			"Imported records by merge outcome", "result"),
		Records: c.RegisterGauge("records",
			"Records held by the in-memory index"),
	}
}

func (m *EngineMetrics) ObserveCanonicalization(exact bool, elapsed time.Duration, variants int) {
	m.CanonicalizationsTotal.WithLabelValues(strconv.FormatBool(exact)).Inc()
	m.CanonicalizationDuration.WithLabelValues().Observe(elapsed.Seconds())
	m.SymmetryVariants.WithLabelValues().Observe(float64(variants))
}

func (m *EngineMetrics) ObserveLookup(kind string, found bool) {
	result := "miss"
	if found {
		result = "hit"
	}
	m.LookupsTotal.WithLabelValues(kind, result).Inc()
}

func (m *EngineMetrics) ObserveStore(op string, records int, elapsed time.Duration, err error) {
	m.StoreDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.StoreErrors.WithLabelValues(op).Inc()
		return
	}
	m.StoreRecords.WithLabelValues(op).Set(float64(records))
}

func (m *EngineMetrics) ObserveMerge(result string) {
	m.MergeOutcomes.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) SetRecords(n int) {
	m.Records.WithLabelValues().Set(float64(n))
}
