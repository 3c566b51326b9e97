package store

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

// PebbleCollector exposes the pebble database internals of a PebbleStore as
// prometheus metrics. Register it alongside pipe.Metrics to watch both the
// iteration layer and the storage layer of a training run.
type PebbleCollector struct {
	db *pebble.DB

	blockCacheSize   *prometheus.Desc
	blockCacheCount  *prometheus.Desc
	blockCacheHits   *prometheus.Desc
	blockCacheMisses *prometheus.Desc

	diskUsage   *prometheus.Desc
	levelsCount *prometheus.Desc

	compactionCount         *prometheus.Desc
	compactionEstimatedDebt *prometheus.Desc

	memtableSize  *prometheus.Desc
	memtableCount *prometheus.Desc
}

// NewPebbleCollector creates a collector over the store's database.
func NewPebbleCollector(ps *PebbleStore) *PebbleCollector {
	return &PebbleCollector{
		db: ps.DB(),

		blockCacheSize: prometheus.NewDesc(
			"axispipe_pebble_block_cache_size_bytes",
			"Size of the pebble block cache",
			nil, nil,
		),
		blockCacheCount: prometheus.NewDesc(
			"axispipe_pebble_block_cache_count_total",
			"Number of entries in the pebble block cache",
			nil, nil,
		),
		blockCacheHits: prometheus.NewDesc(
			"axispipe_pebble_block_cache_hits_total",
			"Total pebble block cache hits",
			nil, nil,
		),
		blockCacheMisses: prometheus.NewDesc(
			"axispipe_pebble_block_cache_misses_total",
			"Total pebble block cache misses",
			nil, nil,
		),
		diskUsage: prometheus.NewDesc(
			"axispipe_pebble_disk_usage_bytes",
			"Total disk space used by the store",
			nil, nil,
		),
		levelsCount: prometheus.NewDesc(
			"axispipe_pebble_sstables_total",
			"Number of live sstables across all levels",
			nil, nil,
		),
		compactionCount: prometheus.NewDesc(
			"axispipe_pebble_compaction_count_total",
			"Total number of compactions performed",
			nil, nil,
		),
		compactionEstimatedDebt: prometheus.NewDesc(
			"axispipe_pebble_compaction_estimated_debt_bytes",
			"Estimated bytes needing compaction to reach a stable state",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			"axispipe_pebble_memtable_size_bytes",
			"Current size of the memtable",
			nil, nil,
		),
		memtableCount: prometheus.NewDesc(
			"axispipe_pebble_memtable_count_total",
			"Current count of memtables",
			nil, nil,
		),
	}
}

func (pc *PebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.blockCacheSize
	ch <- pc.blockCacheCount
	ch <- pc.blockCacheHits
	ch <- pc.blockCacheMisses
	ch <- pc.diskUsage
	ch <- pc.levelsCount
	ch <- pc.compactionCount
	ch <- pc.compactionEstimatedDebt
	ch <- pc.memtableSize
	ch <- pc.memtableCount
}

func (pc *PebbleCollector) Collect(ch chan<- prometheus.Metric) {
	metrics := pc.db.Metrics()

	ch <- prometheus.MustNewConstMetric(
		pc.blockCacheSize, prometheus.GaugeValue, float64(metrics.BlockCache.Size))
	ch <- prometheus.MustNewConstMetric(
		pc.blockCacheCount, prometheus.GaugeValue, float64(metrics.BlockCache.Count))
	ch <- prometheus.MustNewConstMetric(
		pc.blockCacheHits, prometheus.CounterValue, float64(metrics.BlockCache.Hits))
	ch <- prometheus.MustNewConstMetric(
		pc.blockCacheMisses, prometheus.CounterValue, float64(metrics.BlockCache.Misses))
	ch <- prometheus.MustNewConstMetric(
		pc.diskUsage, prometheus.GaugeValue, float64(metrics.DiskSpaceUsage()))

	var sstables int64
	for _, level := range metrics.Levels {
		sstables += level.NumFiles
	}
	ch <- prometheus.MustNewConstMetric(
		pc.levelsCount, prometheus.GaugeValue, float64(sstables))

	ch <- prometheus.MustNewConstMetric(
		pc.compactionCount, prometheus.CounterValue, float64(metrics.Compact.Count))
	ch <- prometheus.MustNewConstMetric(
		pc.compactionEstimatedDebt, prometheus.GaugeValue, float64(metrics.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(
		pc.memtableSize, prometheus.GaugeValue, float64(metrics.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(
		pc.memtableCount, prometheus.GaugeValue, float64(metrics.MemTable.Count))
}
