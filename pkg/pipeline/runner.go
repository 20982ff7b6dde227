package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/fuseg/pkg/cache"
	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/observability"
	"github.com/matzehuels/fuseg/pkg/sched"
	"github.com/matzehuels/fuseg/pkg/segment"
)

// Runner encapsulates segmentation with caching.
// Both CLI and API use this to avoid duplicating caching logic.
//
// The Runner does not store results. Multiple goroutines can safely use the
// same Runner with different options; the built-in oracle's answers are
// memoized across all of them.
type Runner struct {
	Cache  cache.Cache
	Keyer  cache.Keyer
	Logger *log.Logger

	oracleOnce sync.Once
	oracle     *sched.Cached
}

// NewRunner creates a runner with the given cache and keyer.
// If keyer is nil, a DefaultKeyer is used.
// If cache is nil, a NullCache is used (caching disabled).
func NewRunner(c cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Cache:  c,
		Keyer:  keyer,
		Logger: logger,
	}
}

// Oracle returns the memoized reference oracle shared by this runner's runs.
func (r *Runner) Oracle() *sched.Cached {
	r.oracleOnce.Do(func() {
		r.oracle = sched.NewCached(sched.NewReference())
	})
	return r.oracle
}

// Segment segments f, consulting the cache first. f is modified by the
// segmentation and must not be shared with concurrent runs.
func (r *Runner) Segment(ctx context.Context, f *ir.Fusion, opts Options) (*Result, error) {
	if f == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "nil fusion")
	}
	r.applyLogger(&opts)
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	hooks := observability.Pipeline()
	hooks.OnRunStart(ctx, runID, 1)
	start := time.Now()

	res, err := r.segment(ctx, f, opts)
	if res != nil {
		res.RunID = runID
		res.Stats.Duration = time.Since(start)
	}
	hooks.OnRunComplete(ctx, runID, 1, time.Since(start), err)
	return res, err
}

func (r *Runner) segment(ctx context.Context, f *ir.Fusion, opts Options) (*Result, error) {
	graphHash, err := GraphHash(f)
	if err != nil {
		return nil, err
	}
	key := r.Keyer.SegmentKey(graphHash, opts.SegmentKeyOpts())
	logger := opts.Logger.With("graph", graphHash[:12])

	if !opts.Refresh {
		if res, ok := r.lookup(ctx, key, f); ok {
			res.GraphHash = graphHash
			logger.Debug("segmentation cache hit", "groups", res.Stats.Groups)
			return res, nil
		}
	}

	oracle := opts.Scheduler
	if oracle == nil {
		oracle = r.Oracle()
	}
	sf, err := segment.Segment(ctx, f, oracle, opts.RuntimeInfo(), opts.SegmentOptions())
	if err != nil {
		return nil, err
	}

	res := newResult(sf)
	res.GraphHash = graphHash
	if p := sf.Serialize(); p.Valid {
		res.Persisted = p
		r.store(ctx, key, p, logger)
	} else {
		logger.Debug("segmentation not cacheable", "welford_translated", sf.Stats().WelfordTranslated)
	}
	return res, nil
}

// lookup returns a cached segmentation of f. Entries that no longer match
// the graph are treated as misses.
func (r *Runner) lookup(ctx context.Context, key string, f *ir.Fusion) (*Result, bool) {
	data, hit, err := r.Cache.Get(ctx, key)
	if err != nil || !hit {
		observability.Cache().OnCacheMiss(ctx, "segment")
		return nil, false
	}
	p, err := segment.Unmarshal(data)
	if err != nil {
		observability.Cache().OnCacheMiss(ctx, "segment")
		return nil, false
	}
	sf, err := segment.Deserialize(f, p)
	if err != nil {
		observability.Cache().OnCacheMiss(ctx, "segment")
		return nil, false
	}
	observability.Cache().OnCacheHit(ctx, "segment")
	res := newResult(sf)
	res.Persisted = p
	res.CacheHit = true
	return res, true
}

func (r *Runner) store(ctx context.Context, key string, p *segment.Persisted, logger *log.Logger) {
	data, err := p.Marshal()
	if err != nil {
		logger.Warn("encode segmentation for cache", "error", err)
		return
	}
	if err := r.Cache.Set(ctx, key, data, cache.TTLSegment); err != nil {
		logger.Warn("cache segmentation", "error", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, "segment", len(data))
}

func newResult(sf *segment.SegmentedFusion) *Result {
	return &Result{
		Segmented: sf,
		Stats: Stats{
			Stats:  sf.Stats(),
			Groups: len(sf.Groups()),
			Edges:  len(sf.Edges()),
		},
	}
}

// SegmentFile loads the graph at path and segments it.
func (r *Runner) SegmentFile(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := LoadGraph(path)
	if err != nil {
		return nil, err
	}
	return r.Segment(ctx, f, opts)
}

// SegmentAll segments the graphs at paths concurrently, at most
// opts.Parallelism at a time. Results are returned in path order. The first
// failure cancels the remaining runs.
func (r *Runner) SegmentAll(ctx context.Context, paths []string, opts Options) ([]*Result, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}

	results := make([]*Result, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for i, path := range paths {
		g.Go(func() error {
			res, err := r.SegmentFile(ctx, path, opts)
			if err != nil {
				return fmt.Errorf("segment %s: %w", path, err)
			}
			results[i] = res
			opts.Logger.Info("segmented graph",
				"path", path,
				"groups", res.Stats.Groups,
				"cached", res.CacheHit,
				"duration", res.Stats.Duration)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Close releases resources held by the runner (primarily the cache).
func (r *Runner) Close() error {
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}

// applyLogger sets the runner's logger on options if not already set.
func (r *Runner) applyLogger(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
}
