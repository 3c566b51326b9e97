// Package pipe provides lazy, windowed batch iteration over an axis-indexed
// columnar store.
//
// A Source is created per query session over a read-only Store handle. At
// construction it validates its obs/var filters against the store schemas and
// computes the filtered shape without reading any feature payload. Iteration
// is pull-based: each Next call resolves one window of row indices, issues a
// single windowed read scoped by the filters, encodes the requested label
// columns, and returns one paired (features, labels) Batch. Exhaustion is
// signaled with io.EOF.
//
// Sources are single-consumer: a Source's windowing state must not be
// advanced from multiple goroutines. The underlying Store handle may be
// shared freely between independently constructed sources.
package pipe

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/RemyLau/axispipe/encode"
	"github.com/RemyLau/axispipe/filter"
	"github.com/RemyLau/axispipe/split"
	"github.com/RemyLau/axispipe/window"
)

var (
	// ErrConfig reports an invalid source configuration.
	ErrConfig = errors.New("pipe: invalid configuration")

	// ErrSourceRead wraps a backing-store read failure. Reads are not
	// retried here; retry policy belongs to the store client.
	ErrSourceRead = errors.New("pipe: backing store read failed")

	// ErrExhausted reports an operation that requires an unconsumed
	// source, such as splitting after iteration began.
	ErrExhausted = errors.New("pipe: source already streaming or exhausted")
)

type sourceState int

const (
	statePlanning sourceState = iota
	stateStreaming
	stateExhausted
)

// Source lazily streams batches from a Store. Construct with New, iterate
// with Next until io.EOF, and discard; a Source holds no cross-session
// state.
type Source struct {
	store    Store
	obs      *filter.AxisFilter
	varf     *filter.AxisFilter
	labels   []string
	registry *encode.Registry

	batchSize     int
	shuffleBuffer int
	seed          int64
	seeded        bool

	// indices, when non-nil, restricts the source to a subset of the
	// obs-filtered extent (positions, not store row numbers).
	indices []int64

	rows       int64
	featureDim int64

	state   sourceState
	planner *window.Planner

	id      string
	log     Logger
	metrics *Metrics
}

// SourceOption configures a Source.
type SourceOption func(*Source) error

// WithObsFilter restricts the row axis.
func WithObsFilter(f *filter.AxisFilter) SourceOption {
	return func(s *Source) error {
		if f != nil && f.Axis() != filter.AxisObs {
			return fmt.Errorf("%w: obs filter is over the %s axis", ErrConfig, f.Axis())
		}
		s.obs = f
		return nil
	}
}

// WithVarFilter restricts the feature axis.
func WithVarFilter(f *filter.AxisFilter) SourceOption {
	return func(s *Source) error {
		if f != nil && f.Axis() != filter.AxisVar {
			return fmt.Errorf("%w: var filter is over the %s axis", ErrConfig, f.Axis())
		}
		s.varf = f
		return nil
	}
}

// WithBatchSize sets the number of rows per batch. Default 1.
func WithBatchSize(n int) SourceOption {
	return func(s *Source) error {
		if n < 1 {
			return fmt.Errorf("%w: batch size must be >= 1, got %d", ErrConfig, n)
		}
		s.batchSize = n
		return nil
	}
}

// WithShuffleBuffer enables the buffered shuffle over row windows. Zero
// keeps sequential order; a buffer at least the row extent approximates a
// full shuffle.
func WithShuffleBuffer(n int) SourceOption {
	return func(s *Source) error {
		if n < 0 {
			return fmt.Errorf("%w: shuffle buffer must be >= 0, got %d", ErrConfig, n)
		}
		s.shuffleBuffer = n
		return nil
	}
}

// WithSeed fixes the shuffle seed so reconstruction replays the same order.
func WithSeed(seed int64) SourceOption {
	return func(s *Source) error {
		s.seed = seed
		s.seeded = true
		return nil
	}
}

// WithLabelColumns requests obs columns to be returned, encoded, as batch
// labels.
func WithLabelColumns(columns ...string) SourceOption {
	return func(s *Source) error {
		s.labels = columns
		return nil
	}
}

// WithRegistry supplies the encoder registry the source consults for its
// label columns. By default each source owns a fresh registry.
func WithRegistry(r *encode.Registry) SourceOption {
	return func(s *Source) error {
		s.registry = r
		return nil
	}
}

// WithLogger replaces the default stderr logger.
func WithLogger(l Logger) SourceOption {
	return func(s *Source) error {
		s.log = l
		return nil
	}
}

// WithMetrics supplies a shared Metrics value, typically one already
// registered with prometheus.
func WithMetrics(m *Metrics) SourceOption {
	return func(s *Source) error {
		s.metrics = m
		return nil
	}
}

func withIndices(indices []int64) SourceOption {
	return func(s *Source) error {
		s.indices = indices
		return nil
	}
}

// New creates a Source over the store.
//
// Construction is the Unopened to Planning transition: it validates the
// configuration and filters eagerly and computes the filtered shape, but
// performs no payload reads, so misconfiguration surfaces here rather than
// mid-iteration.
func New(store Store, opts ...SourceOption) (*Source, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrConfig)
	}
	s := &Source{
		store:     store,
		batchSize: 1,
		id:        uuid.NewString(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.registry == nil {
		s.registry = encode.NewRegistry()
	}
	if s.log == nil {
		s.log = NewDefaultLogger(slog.LevelInfo)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}

	obsSchema, err := store.Schema(filter.AxisObs)
	if err != nil {
		return nil, fmt.Errorf("%w: schema(obs): %v", ErrSourceRead, err)
	}
	if s.obs != nil {
		if err := s.obs.Validate(obsSchema); err != nil {
			return nil, err
		}
	}
	for _, col := range s.labels {
		c, ok := obsSchema.Column(col)
		if !ok {
			return nil, fmt.Errorf("%w: label column %q is not a column of the obs axis", filter.ErrSchema, col)
		}
		if c.Kind != filter.KindLabel {
			return nil, fmt.Errorf("%w: label column %q has kind %s, want label", ErrConfig, col, c.Kind)
		}
	}
	if s.varf != nil {
		varSchema, err := store.Schema(filter.AxisVar)
		if err != nil {
			return nil, fmt.Errorf("%w: schema(var): %v", ErrSourceRead, err)
		}
		if err := s.varf.Validate(varSchema); err != nil {
			return nil, err
		}
	}

	// Shape is computed from counts only; no payload is read here.
	s.rows, err = store.RowCount(filter.AxisObs, s.obs)
	if err != nil {
		return nil, fmt.Errorf("%w: row count: %v", ErrSourceRead, err)
	}
	s.featureDim, err = store.RowCount(filter.AxisVar, s.varf)
	if err != nil {
		return nil, fmt.Errorf("%w: feature count: %v", ErrSourceRead, err)
	}
	if s.indices != nil {
		s.rows = int64(len(s.indices))
	}

	s.log.Debug("source planned", "source", s.id,
		"rows", s.rows, "features", s.featureDim, "batch_size", s.batchSize)
	return s, nil
}

// ID returns the source's session identifier.
func (s *Source) ID() string { return s.id }

// Shape returns the filtered extent as (rows, features) without reading any
// feature payload.
func (s *Source) Shape() (rows, features int64) {
	return s.rows, s.featureDim
}

// LabelColumns returns the label columns the source was configured with.
func (s *Source) LabelColumns() []string {
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}

// Registry returns the encoder registry the source consults, so callers can
// decode predictions with the same dictionaries.
func (s *Source) Registry() *encode.Registry { return s.registry }

// BatchSize returns the configured rows per batch.
func (s *Source) BatchSize() int { return s.batchSize }

// NumBatches returns how many batches a full pass yields.
func (s *Source) NumBatches() int64 {
	return (s.rows + int64(s.batchSize) - 1) / int64(s.batchSize)
}

// Next returns the next batch, or io.EOF once all windows are consumed.
// The first call transitions the source from Planning to Streaming: it
// builds the window planner and, if needed, fits the label encoders with one
// full scan of each label column.
func (s *Source) Next() (*Batch, error) {
	switch s.state {
	case stateExhausted:
		return nil, io.EOF
	case statePlanning:
		if err := s.open(); err != nil {
			return nil, err
		}
	}

	win, ok := s.planner.Next()
	if !ok {
		s.state = stateExhausted
		s.log.Debug("source exhausted", "source", s.id)
		return nil, io.EOF
	}

	res, err := s.store.Read(ReadRequest{
		Obs:          s.obs,
		Var:          s.varf,
		Rows:         win,
		LabelColumns: s.labels,
	})
	if err != nil {
		s.metrics.ReadErrors.Inc()
		return nil, fmt.Errorf("%w: window of %d rows: %v", ErrSourceRead, len(win), err)
	}

	batch := &Batch{
		Features:     res.Features,
		Rows:         len(win),
		FeatureDim:   res.FeatureDim,
		LabelColumns: s.labels,
		Labels:       make([][]int64, len(s.labels)),
	}
	for i, col := range s.labels {
		codes, err := s.registry.Get(col).Encode(res.Labels[col])
		if err != nil {
			return nil, err
		}
		batch.Labels[i] = codes
	}

	s.metrics.BatchesYielded.Inc()
	s.metrics.RowsRead.Add(float64(len(win)))
	return batch, nil
}

// open transitions Planning to Streaming.
func (s *Source) open() error {
	if err := s.fitEncoders(); err != nil {
		return err
	}
	opts := []window.Option{
		window.WithBatchSize(s.batchSize),
		window.WithShuffleBuffer(s.shuffleBuffer),
	}
	if s.seeded {
		opts = append(opts, window.WithSeed(s.seed))
	}
	if s.indices != nil {
		opts = append(opts, window.WithIndices(s.indices))
	}
	planner, err := window.New(s.rows, opts...)
	if err != nil {
		return err
	}
	s.planner = planner
	s.state = stateStreaming
	s.log.Debug("source streaming", "source", s.id, "windows", planner.NumWindows())
	return nil
}

// fitEncoders fits any unfitted label encoder with one labels-only scan.
//
// The scan covers the whole obs-filtered extent, not a split's subset, so
// every source sharing a registry agrees on the code assignment regardless
// of which source fits first.
func (s *Source) fitEncoders() error {
	var unfitted []string
	for _, col := range s.labels {
		if !s.registry.Get(col).Fitted() {
			unfitted = append(unfitted, col)
		}
	}
	if len(unfitted) == 0 {
		return nil
	}

	extent, err := s.store.RowCount(filter.AxisObs, s.obs)
	if err != nil {
		return fmt.Errorf("%w: row count: %v", ErrSourceRead, err)
	}
	rows := make([]int64, extent)
	for i := range rows {
		rows[i] = int64(i)
	}
	res, err := s.store.Read(ReadRequest{
		Obs:          s.obs,
		Rows:         rows,
		LabelColumns: unfitted,
		SkipFeatures: true,
	})
	if err != nil {
		s.metrics.ReadErrors.Inc()
		return fmt.Errorf("%w: label scan: %v", ErrSourceRead, err)
	}
	for _, col := range unfitted {
		if err := s.registry.Get(col).Fit(res.Labels[col]); err != nil {
			return err
		}
		s.log.Debug("encoder fitted", "source", s.id, "column", col,
			"classes", s.registry.Get(col).NumClasses())
	}
	return nil
}

// Reset rewinds the source to Planning for another pass. A seeded source
// replays the identical window sequence; an unseeded one draws a fresh
// shuffle. Fitted encoders are kept.
func (s *Source) Reset() {
	s.planner = nil
	s.state = statePlanning
}

// RandomSplit partitions the source's row extent with the partitioner and
// returns one new Source per split name, each scoped to its partition's
// indices. This is pure index subsetting: no data moves at split time.
//
// The children share the parent's store handle, filters, registry, logger
// and metrics. The parent must still be in Planning (never iterated);
// otherwise RandomSplit fails with ErrExhausted.
func (s *Source) RandomSplit(p *split.Partitioner) (map[string]*Source, error) {
	if s.state != statePlanning {
		return nil, ErrExhausted
	}
	if s.indices != nil {
		return nil, fmt.Errorf("%w: source is already a split", ErrConfig)
	}

	parts := p.Partition(s.rows)
	out := make(map[string]*Source, len(parts))
	for name, indices := range parts {
		opts := []SourceOption{
			WithObsFilter(s.obs),
			WithVarFilter(s.varf),
			WithBatchSize(s.batchSize),
			WithShuffleBuffer(s.shuffleBuffer),
			WithLabelColumns(s.labels...),
			WithRegistry(s.registry),
			WithLogger(s.log),
			WithMetrics(s.metrics),
			withIndices(indices),
		}
		if s.seeded {
			opts = append(opts, WithSeed(s.seed))
		}
		child, err := New(s.store, opts...)
		if err != nil {
			return nil, err
		}
		s.log.Debug("split created", "source", s.id, "split", name,
			"child", child.id, "rows", len(indices))
		out[name] = child
	}
	return out, nil
}
