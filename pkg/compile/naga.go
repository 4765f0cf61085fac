package compile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LiberalArtist/tangerine/pkg/logging"
	"github.com/LiberalArtist/tangerine/pkg/metrics"
	"github.com/gogpu/naga"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Compile-time interface checks.
var (
	_ Backend = (*Naga)(nil)
	_ Backend = Func(nil)
)

// DefaultWorkers bounds concurrent compiles when no worker count is given.
const DefaultWorkers = 4

// Naga compiles WGSL to SPIR-V with the pure-Go naga compiler on a bounded
// set of background goroutines. Identical sources in flight at the same
// time are compiled once.
type Naga struct {
	sem     chan struct{}
	group   errgroup.Group
	flight  singleflight.Group
	compile func(string) ([]byte, error)
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight map[*Future]struct{}
}

// Option configures a Naga backend.
type Option func(*Naga)

// WithWorkers sets the number of concurrent compiles.
func WithWorkers(n int) Option {
	return func(b *Naga) {
		if n > 0 {
			b.sem = make(chan struct{}, n)
		}
	}
}

// WithMetrics records compile counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Naga) { b.metrics = m }
}

// WithLogger overrides the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Naga) { b.logger = l }
}

// withCompiler replaces naga.Compile in tests.
func withCompiler(f func(string) ([]byte, error)) Option {
	return func(b *Naga) { b.compile = f }
}

// NewNaga returns a running backend.
func NewNaga(opts ...Option) *Naga {
	b := &Naga{
		sem:      make(chan struct{}, DefaultWorkers),
		compile:  naga.Compile,
		inflight: make(map[*Future]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.Logger()
	}
	return b
}

// StartCompile queues source and returns immediately.
func (b *Naga) StartCompile(source string) *Future {
	f := NewFuture()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		f.Complete(nil, ErrClosed)
		return f
	}
	b.metrics.CompileStarted()
	b.inflight[f] = struct{}{}
	b.group.Go(func() error {
		b.sem <- struct{}{}
		defer func() { <-b.sem }()
		defer b.settle(f)

		hash := Hash(source)
		v, err, shared := b.flight.Do(hash, func() (any, error) {
			return b.run(hash, source)
		})
		if err != nil {
			f.Complete(nil, err)
			return nil
		}
		if shared {
			b.logger.Debug("compile shared", "hash", hash[:12])
		}
		f.Complete(v.(*Program), nil)
		return nil
	})
	b.mu.Unlock()
	return f
}

func (b *Naga) run(hash, source string) (*Program, error) {
	start := time.Now()
	bytes, err := b.compile(source)
	elapsed := time.Since(start)
	b.metrics.CompileFinished(elapsed, err)
	if err != nil {
		b.logger.Warn("shader compile failed", "hash", hash[:12], "error", err)
		return nil, fmt.Errorf("compile: %s: %w", hash[:12], err)
	}
	if len(bytes)%4 != 0 {
		err := fmt.Errorf("compile: %s: SPIR-V length %d is not a multiple of 4", hash[:12], len(bytes))
		b.logger.Warn("shader compile failed", "hash", hash[:12], "error", err)
		return nil, err
	}
	b.logger.Debug("shader compiled", "hash", hash[:12], "bytes", len(bytes), "elapsed", elapsed)
	return &Program{Hash: hash, SPIRV: words(bytes)}, nil
}

// words converts little-endian SPIR-V bytes to 32-bit words.
func words(b []byte) []uint32 {
	w := make([]uint32, len(b)/4)
	for i := range w {
		w[i] = uint32(b[i*4]) |
			uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 |
			uint32(b[i*4+3])<<24
	}
	return w
}

func (b *Naga) settle(f *Future) {
	b.mu.Lock()
	delete(b.inflight, f)
	b.mu.Unlock()
}

// Wait blocks until every compile started before the call has finished or
// ctx is done. Compile failures are reported through the futures, not here.
func (b *Naga) Wait(ctx context.Context) error {
	b.mu.Lock()
	pending := make([]*Future, 0, len(b.inflight))
	for f := range b.inflight {
		pending = append(pending, f)
	}
	b.mu.Unlock()
	for _, f := range pending {
		select {
		case <-f.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops accepting work and waits for in-flight compiles.
func (b *Naga) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return b.group.Wait()
}
