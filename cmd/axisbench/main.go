// Command axisbench measures batch-iteration throughput over an axis-indexed
// store and plots the per-batch latency distribution.
//
// It either synthesizes a dataset in memory or loads one from CSV files, can
// round-trip the dataset through a compressed pebble store, streams it to
// exhaustion through a batch source for a number of epochs, and writes a
// timing CSV plus a latency histogram PNG. Iteration counters and pebble
// internals are exposed as prometheus metrics when -metrics-addr is set.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"image/color"
	"io"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/RemyLau/axispipe/filter"
	"github.com/RemyLau/axispipe/pipe"
	"github.com/RemyLau/axispipe/split"
	"github.com/RemyLau/axispipe/store"
)

func main() {
	// dataset source flags
	csvPattern := flag.String("csv", "", "glob pattern for CSV input files; when empty a dataset is synthesized")
	csvFeatures := flag.String("csv-features", "", "comma-separated feature column names for -csv")
	csvLabels := flag.String("csv-labels", "tissue", "comma-separated label column names for -csv")
	synthRows := flag.Int64("rows", 50000, "rows to synthesize when -csv is empty")
	synthDim := flag.Int("features", 128, "feature columns to synthesize when -csv is empty")

	// pebble round-trip flags
	pebblePath := flag.String("pebble", "", "path for a pebble store; ingested first if missing, then served from disk")
	compression := flag.String("compression", "s2", "pebble block codec: none, s2, zstd or lz4")
	chunkRows := flag.Int("chunk-rows", 1024, "rows per stored pebble block")
	blockCache := flag.Int("block-cache", 256, "decoded-block LRU cache capacity")

	// iteration flags
	batchSize := flag.Int("batch-size", 64, "rows per batch")
	shuffleBuffer := flag.Int("shuffle-buffer", 0, "shuffle buffer size (0 = sequential order)")
	seed := flag.Int64("seed", time.Now().UnixNano(), "shuffle and split seed")
	obsFilter := flag.String("obs-filter", "", "row predicate, e.g. \"tissue == 'lung' and quality > 0.5\"")
	varFilter := flag.String("var-filter", "", "feature predicate over the name column, e.g. \"name in ('gene_0', 'gene_1')\"")
	labelColumns := flag.String("label-columns", "tissue", "comma-separated obs label columns to encode into batches")
	splits := flag.String("splits", "", "comma-separated name:fraction pairs, e.g. 'train:0.8,val:0.1,test:0.1'; fractions must sum to 1")
	epochs := flag.Int("epochs", 3, "full passes over each source")

	// output flags
	outDir := flag.String("out", "plots", "output directory for the latency histogram")
	outCSV := flag.String("out-csv", "", "if set, write per-batch timings to this CSV path")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve prometheus metrics on this address, e.g. :9090")
	verbose := flag.Bool("v", false, "enable debug logging")

	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := pipe.NewDefaultLogger(level)

	// Build the backing store: CSV or synthesized, optionally round-tripped
	// through pebble.
	ms, err := buildMemoryStore(*csvPattern, *csvFeatures, *csvLabels, *synthRows, *synthDim, *seed)
	if err != nil {
		log.Fatalf("failed to build dataset: %v", err)
	}
	log.Printf("Dataset ready: rows=%d features=%d", ms.Rows(), len(ms.VarNames()))

	registry := prometheus.NewRegistry()
	metrics := pipe.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		log.Fatalf("failed to register iteration metrics: %v", err)
	}

	var backing pipe.Store = ms
	if *pebblePath != "" {
		ps, err := openOrIngestPebble(*pebblePath, ms, *compression, *chunkRows, *blockCache)
		if err != nil {
			log.Fatalf("failed to prepare pebble store at %s: %v", *pebblePath, err)
		}
		defer ps.Close()
		if err := registry.Register(store.NewPebbleCollector(ps)); err != nil {
			log.Printf("warning: failed to register pebble collector: %v", err)
		}
		backing = ps
		log.Printf("Serving from pebble store %s (codec=%s, chunk=%d rows)", *pebblePath, *compression, *chunkRows)
	}

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			log.Printf("Serving metrics on %s/metrics", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.Printf("warning: metrics server stopped: %v", err)
			}
		}()
	}

	opts := []pipe.SourceOption{
		pipe.WithBatchSize(*batchSize),
		pipe.WithShuffleBuffer(*shuffleBuffer),
		pipe.WithSeed(*seed),
		pipe.WithLogger(logger),
		pipe.WithMetrics(metrics),
	}
	if cols := splitList(*labelColumns); len(cols) > 0 {
		opts = append(opts, pipe.WithLabelColumns(cols...))
	}
	if *obsFilter != "" {
		f, err := filter.Parse(filter.AxisObs, *obsFilter)
		if err != nil {
			log.Fatalf("bad obs filter: %v", err)
		}
		opts = append(opts, pipe.WithObsFilter(f))
	}
	if *varFilter != "" {
		f, err := filter.Parse(filter.AxisVar, *varFilter)
		if err != nil {
			log.Fatalf("bad var filter: %v", err)
		}
		opts = append(opts, pipe.WithVarFilter(f))
	}

	src, err := pipe.New(backing, opts...)
	if err != nil {
		log.Fatalf("failed to create batch source: %v", err)
	}
	rows, features := src.Shape()
	log.Printf("Filtered extent: rows=%d features=%d batches/epoch=%d", rows, features, src.NumBatches())

	// Resolve the sources to benchmark: either the single source or its
	// splits, in a stable order.
	sources := map[string]*pipe.Source{"all": src}
	order := []string{"all"}
	if *splits != "" {
		weights, err := parseSplits(*splits)
		if err != nil {
			log.Fatalf("bad -splits: %v", err)
		}
		p, err := split.New(*seed, weights...)
		if err != nil {
			log.Fatalf("bad -splits: %v", err)
		}
		parts, err := src.RandomSplit(p)
		if err != nil {
			log.Fatalf("failed to split source: %v", err)
		}
		sources = parts
		order = p.Names()
		for _, name := range order {
			r, _ := parts[name].Shape()
			log.Printf("Split %s: %d rows", name, r)
		}
	}

	var timings []batchTiming
	start := time.Now()
	for epoch := 0; epoch < *epochs; epoch++ {
		for _, name := range order {
			t, err := runEpoch(sources[name], name, epoch)
			if err != nil {
				log.Fatalf("iteration failed (source=%s epoch=%d): %v", name, epoch, err)
			}
			timings = append(timings, t...)
			sources[name].Reset()
		}
	}
	elapsed := time.Since(start)

	var totalRows int64
	for _, t := range timings {
		totalRows += int64(t.rows)
	}
	log.Printf("Streamed %d batches (%d rows) in %v, %.0f rows/s",
		len(timings), totalRows, elapsed, float64(totalRows)/elapsed.Seconds())

	if *outCSV != "" {
		if err := writeTimingCSV(*outCSV, timings); err != nil {
			log.Fatalf("failed to write timing CSV: %v", err)
		}
		log.Printf("Timings written to %s", *outCSV)
	}
	if err := plotHistograms(*outDir, timings); err != nil {
		log.Fatalf("failed to plot histograms: %v", err)
	}
	log.Printf("Histograms written to %s", *outDir)
}

// batchTiming records one Next call.
type batchTiming struct {
	source  string
	epoch   int
	batch   int
	rows    int
	latency time.Duration
}

func runEpoch(src *pipe.Source, name string, epoch int) ([]batchTiming, error) {
	var out []batchTiming
	for i := 0; ; i++ {
		start := time.Now()
		batch, err := src.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, batchTiming{
			source:  name,
			epoch:   epoch,
			batch:   i,
			rows:    batch.Rows,
			latency: time.Since(start),
		})
	}
}

func buildMemoryStore(pattern, featureCols, labelCols string, rows int64, dim int, seed int64) (*store.MemoryStore, error) {
	if pattern != "" {
		features := splitList(featureCols)
		if len(features) == 0 {
			return nil, fmt.Errorf("-csv requires -csv-features")
		}
		return store.LoadCSV(pattern, features, splitList(labelCols))
	}
	return synthesize(rows, dim, seed)
}

// synthesize builds a dataset whose obs axis carries one label column
// (tissue), one numeric column (quality) and one int column (donor_id), the
// shape of the column kinds a real axis-indexed dataset exposes.
func synthesize(rows int64, dim int, seed int64) (*store.MemoryStore, error) {
	if rows < 1 || dim < 1 {
		return nil, fmt.Errorf("need -rows >= 1 and -features >= 1")
	}
	rng := rand.New(rand.NewSource(seed))
	tissues := []string{"lung", "liver", "heart", "kidney", "spleen"}

	labels := make([]string, rows)
	quality := make([]float64, rows)
	donors := make([]int64, rows)
	features := make([]float32, rows*int64(dim))
	for r := int64(0); r < rows; r++ {
		labels[r] = tissues[rng.Intn(len(tissues))]
		quality[r] = rng.Float64()
		donors[r] = int64(rng.Intn(40))
		for j := 0; j < dim; j++ {
			features[r*int64(dim)+int64(j)] = rng.Float32()
		}
	}
	varNames := make([]string, dim)
	for j := range varNames {
		varNames[j] = "gene_" + strconv.Itoa(j)
	}
	return store.NewMemoryStore(
		[]store.ObsColumn{
			{Name: "tissue", Labels: labels},
			{Name: "quality", Values: quality},
			{Name: "donor_id", Ints: donors},
		},
		varNames, features,
	)
}

func openOrIngestPebble(path string, ms *store.MemoryStore, compression string, chunkRows, blockCache int) (*store.PebbleStore, error) {
	comp, err := store.ParseCompression(compression)
	if err != nil {
		return nil, err
	}
	opts := []store.PebbleOption{
		store.WithCompression(comp),
		store.WithChunkRows(chunkRows),
		store.WithBlockCache(blockCache),
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("Ingesting %d rows into %s...", ms.Rows(), path)
		ingestStart := time.Now()
		if err := store.IngestMemory(path, ms, opts...); err != nil {
			return nil, err
		}
		log.Printf("Ingest completed in %v", time.Since(ingestStart))
	}
	return store.OpenPebble(path, opts...)
}

// parseSplits parses 'name:fraction' pairs, e.g. 'train:0.8,val:0.2'.
func parseSplits(s string) ([]split.Weight, error) {
	var out []split.Weight
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		kv := strings.SplitN(tok, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid split token %q, want name:fraction", tok)
		}
		frac, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid fraction for split %q: %w", kv[0], err)
		}
		out = append(out, split.Weight{Name: strings.TrimSpace(kv[0]), Frac: frac})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no splits given")
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func writeTimingCSV(path string, timings []batchTiming) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"source", "epoch", "batch", "rows", "latency_us"}); err != nil {
		return err
	}
	for _, t := range timings {
		row := []string{
			t.source,
			strconv.Itoa(t.epoch),
			strconv.Itoa(t.batch),
			strconv.Itoa(t.rows),
			strconv.FormatInt(t.latency.Microseconds(), 10),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// plotHistograms writes PNG histograms of per-batch Next latency and of
// batch fill (rows per batch).
func plotHistograms(outDir string, timings []batchTiming) error {
	if len(timings) == 0 {
		return fmt.Errorf("no batches were streamed")
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	latencies := make(plotter.Values, len(timings))
	fills := make(plotter.Values, len(timings))
	for i, t := range timings {
		latencies[i] = float64(t.latency.Microseconds())
		fills[i] = float64(t.rows)
	}

	if err := saveHist(latencies, "Batch latency distribution", "latency (us)",
		filepath.Join(outDir, "batch_latency.png")); err != nil {
		return err
	}
	return saveHist(fills, "Batch fill distribution", "rows per batch",
		filepath.Join(outDir, "batch_fill.png"))
}

func saveHist(values plotter.Values, title, xLabel, outPath string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "batches"

	h, err := plotter.NewHist(values, 40)
	if err != nil {
		return err
	}
	h.FillColor = color.RGBA{R: 20, G: 80, B: 200, A: 200}
	p.Add(h)

	return p.Save(8*vg.Inch, 6*vg.Inch, outPath)
}
