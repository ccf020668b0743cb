// Package pyramid resolves tile addresses to tiles through a bounded cache,
// building missing tiles with a layer's factory.
package pyramid

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tilepyramid/internal/cache"
	"tilepyramid/internal/metrics"
	"tilepyramid/internal/tile"
)

type Options struct {
	// Capacity bounds the summed Size of cached tiles.
	Capacity int64
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	// Listener additionally observes tiles leaving the resolver: evicted,
	// invalidated or cleared entries, and tiles built but never cached.
	// Cache removals run while the resolver holds its lock, so it must not
	// call back into the resolver.
	Listener cache.Listener[string, tile.Tile]
}

// Resolver serves one data layer. It is safe for concurrent use: cache
// access is serialized by a mutex while tile construction runs outside it,
// and concurrent requests for one address share a single construction.
type Resolver struct {
	layer   string
	levels  *tile.LevelSet
	factory tile.Factory
	logger  *zap.Logger
	metrics *metrics.Metrics

	// listener is the cache's listener, also used for uncached tiles.
	listener cache.Listener[string, tile.Tile]

	mu      sync.Mutex
	cache   *cache.Cache[string, tile.Tile]
	pending map[string]*call
	closed  bool
}

// call is one in-flight construction shared by its waiters.
type call struct {
	done    chan struct{}
	tile    tile.Tile
	err     error
	waiters int
	cancel  context.CancelFunc
	// stale calls still answer their waiters but do not store the tile.
	stale bool
	// orphaned is set when the built tile was not cached; the last waiter
	// to receive it releases it.
	orphaned bool
}

func New(layer string, levels *tile.LevelSet, factory tile.Factory, opts Options) (*Resolver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("layer", layer))

	release := releaseListener{layer: layer, logger: logger}
	listener := cache.MultiListener[string, tile.Tile]{metrics.Instrument[tile.Tile](opts.Metrics, layer, release)}
	if opts.Listener != nil {
		listener = append(listener, opts.Listener)
	}
	c, err := cache.New[string, tile.Tile](opts.Capacity, listener)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache for layer %s: %w", layer, err)
	}

	return &Resolver{
		layer:    layer,
		levels:   levels,
		factory:  factory,
		logger:   logger,
		metrics:  opts.Metrics,
		listener: listener,
		cache:    c,
		pending:  make(map[string]*call),
	}, nil
}

func (r *Resolver) Layer() string            { return r.layer }
func (r *Resolver) LevelSet() *tile.LevelSet { return r.levels }

// ResolveAt validates (level, row, column) and resolves it.
func (r *Resolver) ResolveAt(ctx context.Context, level, row, column int) (tile.Tile, error) {
	addr, err := r.levels.Address(level, row, column)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, addr)
}

// Resolve returns the cached tile for addr or builds and caches it.
// If ctx ends first Resolve returns ctx.Err(); the construction is
// cancelled only when no other caller is waiting for it.
func (r *Resolver) Resolve(ctx context.Context, addr tile.Address) (tile.Tile, error) {
	if addr.IsZero() {
		return nil, fmt.Errorf("%w: zero address", tile.ErrArgument)
	}
	if addr.LevelSet() != r.levels {
		return nil, ErrForeignAddress
	}
	key := addr.Key()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if t, ok := r.cache.Get(key); ok {
		r.mu.Unlock()
		r.metrics.Hit(r.layer)
		return t, nil
	}
	r.metrics.Miss(r.layer)

	c, ok := r.pending[key]
	if ok {
		c.waiters++
	} else {
		buildCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c = &call{done: make(chan struct{}), waiters: 1, cancel: cancel}
		r.pending[key] = c
		go r.build(buildCtx, c, addr)
	}
	r.mu.Unlock()

	return r.wait(ctx, c, key)
}

func (r *Resolver) wait(ctx context.Context, c *call, key string) (tile.Tile, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
	}

	r.mu.Lock()
	c.waiters--
	select {
	case <-c.done:
		release := c.orphaned && c.waiters == 0
		r.mu.Unlock()
		if release {
			r.release(key, c.tile)
		}
		return c.tile, c.err
	default:
	}
	if c.waiters == 0 {
		c.cancel()
		c.stale = true
		if r.pending[key] == c {
			delete(r.pending, key)
		}
	}
	r.mu.Unlock()
	return nil, ctx.Err()
}

func (r *Resolver) build(ctx context.Context, c *call, addr tile.Address) {
	defer c.cancel()
	key := addr.Key()
	logger := r.logger.With(zap.String("key", key), zap.String("build_id", uuid.NewString()))
	logger.Debug("Building tile")

	finished := r.metrics.BuildStarted(r.layer)
	t, err := r.create(ctx, addr)
	finished(err)

	if err != nil {
		logger.Warn("Tile build failed", zap.Error(err))
	}

	r.mu.Lock()
	if r.pending[key] == c {
		delete(r.pending, key)
	}
	stored := false
	if err == nil && !c.stale {
		if putErr := r.cache.Put(key, t, t.Size()); putErr != nil {
			logger.Warn("Tile not cached", zap.Error(putErr))
		} else {
			stored = true
		}
		r.metrics.Occupancy(r.layer, r.cache.UsedCapacity(), r.cache.Len())
	}
	c.tile, c.err = t, err
	c.orphaned = err == nil && !stored
	release := c.orphaned && c.waiters == 0
	// done closes under the lock so a waiter that gives up concurrently
	// either sees the result or is counted out before release is decided.
	close(c.done)
	r.mu.Unlock()

	if release {
		r.release(key, t)
	}
}

// release hands a tile that never entered the cache to the listener.
func (r *Resolver) release(key string, t tile.Tile) {
	cache.Notify(r.listener, key, t)
}

func (r *Resolver) create(ctx context.Context, addr tile.Address) (t tile.Tile, err error) {
	defer func() {
		if p := recover(); p != nil {
			t, err = nil, fmt.Errorf("%w: %v", ErrBuildPanic, p)
		}
	}()
	sector := addr.Sector()
	t, err = r.factory.CreateTile(ctx, &sector, addr.Level(), addr.Row(), addr.Column())
	if err == nil && t == nil {
		err = fmt.Errorf("factory returned no tile for %s", addr)
	}
	return t, err
}

// Cached returns the cached tile for addr without building or promoting it.
func (r *Resolver) Cached(addr tile.Address) (tile.Tile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Peek(addr.Key())
}

// Invalidate drops addr from the cache. A construction already running
// for addr still answers its waiters but its tile is not stored.
func (r *Resolver) Invalidate(addr tile.Address) bool {
	key := addr.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.pending[key]; ok {
		c.stale = true
		delete(r.pending, key)
	}
	removed := r.cache.Remove(key)
	r.metrics.Occupancy(r.layer, r.cache.UsedCapacity(), r.cache.Len())
	return removed
}

// Clear drops every cached tile and detaches running constructions.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachPending()
	r.cache.Clear()
	r.metrics.Occupancy(r.layer, 0, 0)
}

// SetCapacity resizes the cache, evicting immediately when shrinking.
func (r *Resolver) SetCapacity(capacity int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.cache.SetCapacity(capacity); err != nil {
		return err
	}
	r.metrics.Occupancy(r.layer, r.cache.UsedCapacity(), r.cache.Len())
	return nil
}

// Stats describes cache occupancy at one instant.
type Stats struct {
	cache.Stats
	Capacity     int64
	UsedCapacity int64
	Entries      int
	InFlight     int
}

func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Stats:        r.cache.Stats(),
		Capacity:     r.cache.Capacity(),
		UsedCapacity: r.cache.UsedCapacity(),
		Entries:      r.cache.Len(),
		InFlight:     len(r.pending),
	}
}

// Prefetch resolves addrs with at most workers concurrent resolves and
// returns every failure combined.
func (r *Resolver) Prefetch(ctx context.Context, addrs []tile.Address, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	g.SetLimit(workers)
	for _, addr := range addrs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, err := r.Resolve(ctx, addr); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", addr, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return multierr.Append(errs, ctx.Err())
}

// Close cancels running constructions and releases every cached tile.
// Resolve fails with ErrClosed afterwards.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, c := range r.pending {
		c.cancel()
	}
	r.detachPending()
	r.cache.Clear()
	r.metrics.Occupancy(r.layer, 0, 0)
	return nil
}

func (r *Resolver) detachPending() {
	for key, c := range r.pending {
		c.stale = true
		delete(r.pending, key)
	}
}
