package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/RemyLau/axispipe/filter"
	"github.com/RemyLau/axispipe/pipe"
)

// ErrCorrupt reports an unreadable or inconsistent on-disk store.
var ErrCorrupt = errors.New("store: corrupt pebble store")

const (
	defaultChunkRows = 1024
	defaultCacheSize = 256
)

// Key layout. Feature blocks hold chunkRows full rows (row-major float32) so
// one windowed read touches at most a handful of blocks; obs metadata is
// stored column-oriented, one block of chunkRows values per column chunk,
// keyed by the xxhash of the column name.
var metaKey = []byte{'m'}

func featureKey(chunk uint32) []byte {
	key := make([]byte, 5)
	key[0] = 'F'
	binary.BigEndian.PutUint32(key[1:], chunk)
	return key
}

func obsKey(colHash uint64, chunk uint32) []byte {
	key := make([]byte, 13)
	key[0] = 'O'
	binary.BigEndian.PutUint64(key[1:], colHash)
	binary.BigEndian.PutUint32(key[9:], chunk)
	return key
}

type pebbleMeta struct {
	Rows        int64    `json:"rows"`
	ChunkRows   int      `json:"chunk_rows"`
	Compression byte     `json:"compression"`
	VarNames    []string `json:"var_names"`
	ObsColumns  []struct {
		Name string `json:"name"`
		Kind int    `json:"kind"`
	} `json:"obs_columns"`
}

// PebbleOption configures ingestion and opening of a pebble store.
type PebbleOption func(*pebbleConfig) error

type pebbleConfig struct {
	chunkRows   int
	compression Compression
	cacheSize   int
}

// WithChunkRows sets how many rows each stored block covers. Default 1024.
func WithChunkRows(n int) PebbleOption {
	return func(c *pebbleConfig) error {
		if n < 1 {
			return fmt.Errorf("%w: chunk rows must be >= 1, got %d", ErrInvalid, n)
		}
		c.chunkRows = n
		return nil
	}
}

// WithCompression selects the block codec. Default s2.
func WithCompression(comp Compression) PebbleOption {
	return func(c *pebbleConfig) error {
		c.compression = comp
		return nil
	}
}

// WithBlockCache sets the decoded-block LRU cache capacity (in blocks).
// Default 256.
func WithBlockCache(n int) PebbleOption {
	return func(c *pebbleConfig) error {
		if n < 1 {
			return fmt.Errorf("%w: block cache size must be >= 1, got %d", ErrInvalid, n)
		}
		c.cacheSize = n
		return nil
	}
}

func applyPebbleOptions(opts []PebbleOption) (*pebbleConfig, error) {
	c := &pebbleConfig{
		chunkRows:   defaultChunkRows,
		compression: CompressionS2,
		cacheSize:   defaultCacheSize,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// IngestMemory writes a MemoryStore to a pebble store at path, chunking and
// compressing its columns. The destination must not already exist.
func IngestMemory(path string, ms *MemoryStore, opts ...PebbleOption) error {
	cfg, err := applyPebbleOptions(opts)
	if err != nil {
		return err
	}
	codec, err := newCodec(cfg.compression)
	if err != nil {
		return err
	}

	db, err := pebble.Open(path, &pebble.Options{ErrorIfExists: true})
	if err != nil {
		return fmt.Errorf("failed to create pebble store at %s: %w", path, err)
	}
	defer db.Close()

	meta := pebbleMeta{
		Rows:        ms.rows,
		ChunkRows:   cfg.chunkRows,
		Compression: byte(cfg.compression),
		VarNames:    ms.varNames,
	}
	for _, col := range ms.obsSchema.Columns {
		meta.ObsColumns = append(meta.ObsColumns, struct {
			Name string `json:"name"`
			Kind int    `json:"kind"`
		}{col.Name, int(col.Kind)})
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	wo := &pebble.WriteOptions{Sync: false}
	if err := db.Set(metaKey, metaBytes, wo); err != nil {
		return err
	}

	dim := len(ms.varNames)
	numChunks := int((ms.rows + int64(cfg.chunkRows) - 1) / int64(cfg.chunkRows))
	for chunk := 0; chunk < numChunks; chunk++ {
		start := int64(chunk) * int64(cfg.chunkRows)
		end := min(start+int64(cfg.chunkRows), ms.rows)

		block := encodeFloat32Block(ms.features[start*int64(dim) : end*int64(dim)])
		framed, err := frameBlock(block, codec)
		if err != nil {
			return err
		}
		if err := db.Set(featureKey(uint32(chunk)), framed, wo); err != nil {
			return err
		}

		for _, col := range ms.obsSchema.Columns {
			var block []byte
			switch col.Kind {
			case filter.KindLabel:
				block = encodeStringBlock(ms.labels[col.Name][start:end])
			case filter.KindNumeric:
				block = encodeFloat64Block(ms.numeric[col.Name][start:end])
			case filter.KindInt:
				block = encodeInt64Block(ms.ints[col.Name][start:end])
			}
			framed, err := frameBlock(block, codec)
			if err != nil {
				return err
			}
			key := obsKey(xxhash.Sum64String(col.Name), uint32(chunk))
			if err := db.Set(key, framed, wo); err != nil {
				return err
			}
		}
	}
	return db.Flush()
}

// PebbleStore serves reads from a pebble store written by IngestMemory. It
// implements pipe.Store and is safe for concurrent use; decoded blocks are
// kept in an LRU cache shared by all readers.
type PebbleStore struct {
	db        *pebble.DB
	meta      pebbleMeta
	codec     Codec
	obsSchema filter.Schema
	varSchema filter.Schema
	colHash   map[string]uint64

	blocks   *lru.Cache[string, any]
	obsCache *xsync.MapOf[string, []int64]
	varCache *xsync.MapOf[string, []int]
}

var _ pipe.Store = (*PebbleStore)(nil)

// OpenPebble opens an existing pebble store for reading.
func OpenPebble(path string, opts ...PebbleOption) (*PebbleStore, error) {
	cfg, err := applyPebbleOptions(opts)
	if err != nil {
		return nil, err
	}
	db, err := pebble.Open(path, &pebble.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store at %s: %w", path, err)
	}

	metaBytes, closer, err := db.Get(metaKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: missing metadata: %v", ErrCorrupt, err)
	}
	var meta pebbleMeta
	err = json.Unmarshal(metaBytes, &meta)
	closer.Close()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: bad metadata: %v", ErrCorrupt, err)
	}

	codec, err := newCodec(Compression(meta.Compression))
	if err != nil {
		db.Close()
		return nil, err
	}
	blocks, err := lru.New[string, any](cfg.cacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	ps := &PebbleStore{
		db:       db,
		meta:     meta,
		codec:    codec,
		colHash:  make(map[string]uint64, len(meta.ObsColumns)),
		blocks:   blocks,
		obsCache: xsync.NewMapOf[string, []int64](),
		varCache: xsync.NewMapOf[string, []int](),
	}
	ps.obsSchema = filter.Schema{Axis: filter.AxisObs}
	for _, col := range meta.ObsColumns {
		ps.obsSchema.Columns = append(ps.obsSchema.Columns,
			filter.Column{Name: col.Name, Kind: filter.ColumnKind(col.Kind)})
		ps.colHash[col.Name] = xxhash.Sum64String(col.Name)
	}
	ps.varSchema = filter.Schema{
		Axis:    filter.AxisVar,
		Columns: []filter.Column{{Name: VarNameColumn, Kind: filter.KindLabel}},
	}
	return ps, nil
}

// Close releases the underlying pebble database.
func (ps *PebbleStore) Close() error { return ps.db.Close() }

// DB exposes the underlying pebble database, e.g. for metric collection.
func (ps *PebbleStore) DB() *pebble.DB { return ps.db }

// Rows returns the total row count.
func (ps *PebbleStore) Rows() int64 { return ps.meta.Rows }

// VarNames returns the feature names in column order.
func (ps *PebbleStore) VarNames() []string { return ps.meta.VarNames }

// Schema implements pipe.Store.
func (ps *PebbleStore) Schema(axis filter.Axis) (filter.Schema, error) {
	switch axis {
	case filter.AxisObs:
		return ps.obsSchema, nil
	case filter.AxisVar:
		return ps.varSchema, nil
	default:
		return filter.Schema{}, fmt.Errorf("%w: unknown axis %v", ErrInvalid, axis)
	}
}

// RowCount implements pipe.Store.
func (ps *PebbleStore) RowCount(axis filter.Axis, f *filter.AxisFilter) (int64, error) {
	switch axis {
	case filter.AxisObs:
		if f == nil {
			return ps.meta.Rows, nil
		}
		rows, err := ps.matchObs(f)
		if err != nil {
			return 0, err
		}
		return int64(len(rows)), nil
	case filter.AxisVar:
		if f == nil {
			return int64(len(ps.meta.VarNames)), nil
		}
		cols, err := ps.matchVar(f)
		if err != nil {
			return 0, err
		}
		return int64(len(cols)), nil
	default:
		return 0, fmt.Errorf("%w: unknown axis %v", ErrInvalid, axis)
	}
}

// Read implements pipe.Store.
func (ps *PebbleStore) Read(req pipe.ReadRequest) (*pipe.ReadResult, error) {
	var extent []int64
	if req.Obs != nil {
		var err error
		extent, err = ps.matchObs(req.Obs)
		if err != nil {
			return nil, err
		}
	}
	extentLen := ps.meta.Rows
	if extent != nil {
		extentLen = int64(len(extent))
	}

	res := &pipe.ReadResult{Labels: make(map[string][]string, len(req.LabelColumns))}

	var varCols []int
	dim := len(ps.meta.VarNames)
	if !req.SkipFeatures {
		if req.Var != nil {
			var err error
			varCols, err = ps.matchVar(req.Var)
			if err != nil {
				return nil, err
			}
		}
		res.FeatureDim = dim
		if varCols != nil {
			res.FeatureDim = len(varCols)
		}
		res.Features = make([]float32, 0, len(req.Rows)*res.FeatureDim)
	}

	for _, col := range req.LabelColumns {
		c, ok := ps.obsSchema.Column(col)
		if !ok || c.Kind != filter.KindLabel {
			return nil, fmt.Errorf("%w: %q is not a label column", ErrInvalid, col)
		}
		res.Labels[col] = make([]string, 0, len(req.Rows))
	}

	for _, pos := range req.Rows {
		if pos < 0 || pos >= extentLen {
			return nil, fmt.Errorf("%w: row position %d out of extent [0, %d)", ErrInvalid, pos, extentLen)
		}
		rowNum := pos
		if extent != nil {
			rowNum = extent[pos]
		}
		if !req.SkipFeatures {
			row, err := ps.featureRow(rowNum)
			if err != nil {
				return nil, err
			}
			if varCols == nil {
				res.Features = append(res.Features, row...)
			} else {
				for _, j := range varCols {
					res.Features = append(res.Features, row[j])
				}
			}
		}
		for _, col := range req.LabelColumns {
			v, err := ps.obsValue(col, rowNum)
			if err != nil {
				return nil, err
			}
			res.Labels[col] = append(res.Labels[col], v.(string))
		}
	}
	return res, nil
}

// featureRow returns one full row of the feature matrix from its chunk.
func (ps *PebbleStore) featureRow(rowNum int64) ([]float32, error) {
	chunkRows := int64(ps.meta.ChunkRows)
	chunk := uint32(rowNum / chunkRows)
	block, err := ps.featureBlock(chunk)
	if err != nil {
		return nil, err
	}
	dim := int64(len(ps.meta.VarNames))
	local := rowNum % chunkRows
	if (local+1)*dim > int64(len(block)) {
		return nil, fmt.Errorf("%w: feature chunk %d too short for row %d", ErrCorrupt, chunk, rowNum)
	}
	return block[local*dim : (local+1)*dim], nil
}

func (ps *PebbleStore) featureBlock(chunk uint32) ([]float32, error) {
	cacheKey := fmt.Sprintf("F:%d", chunk)
	if v, ok := ps.blocks.Get(cacheKey); ok {
		return v.([]float32), nil
	}
	raw, err := ps.loadBlock(featureKey(chunk))
	if err != nil {
		return nil, err
	}
	block := decodeFloat32Block(raw)
	ps.blocks.Add(cacheKey, block)
	return block, nil
}

func (ps *PebbleStore) obsValue(col string, rowNum int64) (any, error) {
	c, ok := ps.obsSchema.Column(col)
	if !ok {
		return nil, fmt.Errorf("%w: unknown obs column %q", ErrInvalid, col)
	}
	chunkRows := int64(ps.meta.ChunkRows)
	chunk := uint32(rowNum / chunkRows)
	local := rowNum % chunkRows

	cacheKey := fmt.Sprintf("O:%d:%d", ps.colHash[col], chunk)
	v, ok := ps.blocks.Get(cacheKey)
	if !ok {
		raw, err := ps.loadBlock(obsKey(ps.colHash[col], chunk))
		if err != nil {
			return nil, err
		}
		switch c.Kind {
		case filter.KindLabel:
			vals, err := decodeStringBlock(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: obs column %q chunk %d: %v", ErrCorrupt, col, chunk, err)
			}
			v = vals
		case filter.KindNumeric:
			v = decodeFloat64Block(raw)
		case filter.KindInt:
			v = decodeInt64Block(raw)
		}
		ps.blocks.Add(cacheKey, v)
	}

	switch vals := v.(type) {
	case []string:
		if local >= int64(len(vals)) {
			return nil, fmt.Errorf("%w: obs column %q chunk %d too short", ErrCorrupt, col, chunk)
		}
		return vals[local], nil
	case []float64:
		if local >= int64(len(vals)) {
			return nil, fmt.Errorf("%w: obs column %q chunk %d too short", ErrCorrupt, col, chunk)
		}
		return vals[local], nil
	case []int64:
		if local >= int64(len(vals)) {
			return nil, fmt.Errorf("%w: obs column %q chunk %d too short", ErrCorrupt, col, chunk)
		}
		return vals[local], nil
	default:
		return nil, fmt.Errorf("%w: obs column %q has unexpected block type %T", ErrCorrupt, col, v)
	}
}

func (ps *PebbleStore) loadBlock(key []byte) ([]byte, error) {
	framed, closer, err := ps.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("%w: key %x: %v", ErrCorrupt, key, err)
	}
	defer closer.Close()
	return unframeBlock(framed, ps.codec)
}

func (ps *PebbleStore) matchObs(f *filter.AxisFilter) ([]int64, error) {
	if cached, ok := ps.obsCache.Load(f.Expr()); ok {
		return cached, nil
	}
	if err := f.Validate(ps.obsSchema); err != nil {
		return nil, err
	}
	cols := f.Columns()
	matching := make([]int64, 0, ps.meta.Rows)
	row := make(filter.Row, len(cols))
	for i := int64(0); i < ps.meta.Rows; i++ {
		for _, col := range cols {
			v, err := ps.obsValue(col, i)
			if err != nil {
				return nil, err
			}
			row[col] = v
		}
		ok, err := f.Eval(row)
		if err != nil {
			return nil, err
		}
		if ok {
			matching = append(matching, i)
		}
	}
	ps.obsCache.Store(f.Expr(), matching)
	return matching, nil
}

func (ps *PebbleStore) matchVar(f *filter.AxisFilter) ([]int, error) {
	if cached, ok := ps.varCache.Load(f.Expr()); ok {
		return cached, nil
	}
	if err := f.Validate(ps.varSchema); err != nil {
		return nil, err
	}
	matching := make([]int, 0, len(ps.meta.VarNames))
	for j, name := range ps.meta.VarNames {
		ok, err := f.Eval(filter.Row{VarNameColumn: name})
		if err != nil {
			return nil, err
		}
		if ok {
			matching = append(matching, j)
		}
	}
	ps.varCache.Store(f.Expr(), matching)
	return matching, nil
}

// Block framing: one marker byte (0 raw, 1 compressed) then the payload.
// Raw fallback covers incompressible blocks and codecs that refuse them.

func frameBlock(block []byte, codec Codec) ([]byte, error) {
	compressed, err := codec.Compress(block)
	if err != nil || len(compressed) == 0 || len(compressed) >= len(block) {
		out := make([]byte, 1+len(block))
		copy(out[1:], block)
		return out, nil
	}
	out := make([]byte, 1+len(compressed))
	out[0] = 1
	copy(out[1:], compressed)
	return out, nil
}

func unframeBlock(framed []byte, codec Codec) ([]byte, error) {
	if len(framed) == 0 {
		return nil, fmt.Errorf("%w: empty block", ErrCorrupt)
	}
	payload := framed[1:]
	if framed[0] == 0 {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
	return codec.Decompress(payload)
}

// Column block encodings: fixed-width little-endian values for numeric
// columns, uvarint length-prefixed bytes for label columns.

func encodeFloat32Block(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeFloat32Block(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

func encodeFloat64Block(values []float64) []byte {
	out := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func decodeFloat64Block(data []byte) []float64 {
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out
}

func encodeInt64Block(values []int64) []byte {
	out := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

func decodeInt64Block(data []byte) []int64 {
	out := make([]int64, len(data)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out
}

func encodeStringBlock(values []string) []byte {
	var out []byte
	out = binary.AppendUvarint(out, uint64(len(values)))
	for _, v := range values {
		out = binary.AppendUvarint(out, uint64(len(v)))
		out = append(out, v...)
	}
	return out
}

func decodeStringBlock(data []byte) ([]string, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("bad string block header")
	}
	data = data[n:]
	out := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		length, n := binary.Uvarint(data)
		if n <= 0 || uint64(len(data)-n) < length {
			return nil, fmt.Errorf("truncated string block")
		}
		out = append(out, string(data[n:n+int(length)]))
		data = data[n+int(length):]
	}
	return out, nil
}
