// Package window plans the sequence of row-index windows a batch source
// reads.
//
// A Planner turns a row extent (or an explicit index subset) into a lazy,
// finite sequence of windows of at most the batch size; the final window
// covers the remainder. With a shuffle buffer the planner performs a buffered
// shuffle: indices are drawn at random from a rolling buffer that is refilled
// from the sequential order. A buffer at least as large as the extent yields
// a uniform permutation; a smaller buffer trades memory for entropy, keeping
// each index within roughly buffer-size positions of its sequential place.
package window

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrConfig reports an invalid planner configuration.
var ErrConfig = errors.New("window: invalid configuration")

// Planner produces the window sequence for one iteration pass. It is a
// single-consumer object: Next must not be called concurrently. A fresh
// planner (or Reset) with the same seed reproduces the same sequence; an
// unseeded planner randomizes independently each pass.
type Planner struct {
	indices []int64
	batch   int
	buffer  int
	seed    int64
	seeded  bool

	rng *rand.Rand
	buf []int64
	// next position in indices still to enter the buffer
	feed int
	done bool
}

// Option configures a Planner.
type Option func(*Planner) error

// WithBatchSize sets the window length. Default 1.
func WithBatchSize(n int) Option {
	return func(p *Planner) error {
		if n < 1 {
			return fmt.Errorf("%w: batch size must be >= 1, got %d", ErrConfig, n)
		}
		p.batch = n
		return nil
	}
}

// WithShuffleBuffer enables the buffered shuffle with the given buffer size.
// Zero (the default) keeps the strictly sequential order.
func WithShuffleBuffer(n int) Option {
	return func(p *Planner) error {
		if n < 0 {
			return fmt.Errorf("%w: shuffle buffer must be >= 0, got %d", ErrConfig, n)
		}
		p.buffer = n
		return nil
	}
}

// WithSeed fixes the shuffle seed so the window sequence reproduces exactly.
func WithSeed(seed int64) Option {
	return func(p *Planner) error {
		p.seed = seed
		p.seeded = true
		return nil
	}
}

// WithIndices plans over an explicit index subset instead of 0..totalRows-1.
// The slice is not copied and must not be mutated while the planner is live.
func WithIndices(indices []int64) Option {
	return func(p *Planner) error {
		p.indices = indices
		return nil
	}
}

// New creates a planner over the extent 0..totalRows-1, unless WithIndices
// overrides it.
func New(totalRows int64, opts ...Option) (*Planner, error) {
	if totalRows < 0 {
		return nil, fmt.Errorf("%w: total rows must be >= 0, got %d", ErrConfig, totalRows)
	}
	p := &Planner{batch: 1}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.indices == nil {
		p.indices = make([]int64, totalRows)
		for i := range p.indices {
			p.indices[i] = int64(i)
		}
	}
	p.Reset()
	return p, nil
}

// Len returns the number of indices the planner covers.
func (p *Planner) Len() int { return len(p.indices) }

// NumWindows returns the total number of windows one pass produces.
func (p *Planner) NumWindows() int {
	if p.batch == 0 {
		return 0
	}
	return (len(p.indices) + p.batch - 1) / p.batch
}

// Reset rewinds the planner for another pass. A seeded planner replays the
// identical sequence; an unseeded one draws a fresh ordering.
func (p *Planner) Reset() {
	seed := p.seed
	if !p.seeded {
		seed = time.Now().UnixNano()
	}
	p.rng = rand.New(rand.NewSource(seed))
	p.feed = 0
	p.done = false
	if p.buffer > 0 {
		n := min(p.buffer, len(p.indices))
		p.buf = make([]int64, n)
		copy(p.buf, p.indices[:n])
		p.feed = n
	}
}

// Next returns the next window of row indices, or ok=false once the pass is
// exhausted. Every index appears in exactly one window per pass.
func (p *Planner) Next() ([]int64, bool) {
	if p.done {
		return nil, false
	}
	win := make([]int64, 0, p.batch)
	for len(win) < p.batch {
		idx, ok := p.draw()
		if !ok {
			break
		}
		win = append(win, idx)
	}
	if len(win) == 0 {
		p.done = true
		return nil, false
	}
	if len(win) < p.batch {
		p.done = true
	}
	return win, true
}

// draw emits one index, either sequentially or from the shuffle buffer.
func (p *Planner) draw() (int64, bool) {
	if p.buffer == 0 {
		if p.feed >= len(p.indices) {
			return 0, false
		}
		idx := p.indices[p.feed]
		p.feed++
		return idx, true
	}
	if len(p.buf) == 0 {
		return 0, false
	}
	j := p.rng.Intn(len(p.buf))
	idx := p.buf[j]
	if p.feed < len(p.indices) {
		p.buf[j] = p.indices[p.feed]
		p.feed++
	} else {
		last := len(p.buf) - 1
		p.buf[j] = p.buf[last]
		p.buf = p.buf[:last]
	}
	return idx, true
}
