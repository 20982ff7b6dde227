// Package pipeline runs segmentation with caching for the CLI and the HTTP
// API.
//
// A [Runner] loads a graph, computes its content hash, looks the
// segmentation up in a [cache.Cache] and otherwise segments the graph with
// the configured scheduling oracle. Both entry points share [Options], so a
// configuration file, CLI flags and an API request body all describe a run
// the same way.
//
// # Usage
//
//	runner := pipeline.NewRunner(cache, nil, logger)
//	opts := pipeline.Options{ReduceBoundaryPrecision: true}
//	result, err := runner.SegmentFile(ctx, "model.json", opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(len(result.Segmented.Groups()), "kernels")
//
// Segment many graphs concurrently:
//
//	results, err := runner.SegmentAll(ctx, paths, opts)
package pipeline

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/matzehuels/fuseg/pkg/cache"
	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/sched"
	"github.com/matzehuels/fuseg/pkg/segment"
)

// =============================================================================
// Default Values - Single Source of Truth for CLI and API
// =============================================================================

const (
	// DefaultOracle is the scheduling oracle used when none is named.
	DefaultOracle = "reference"

	// DefaultHalfType is the reduced boundary precision.
	DefaultHalfType = "float16"

	// DefaultParallelism bounds concurrent segmentations in SegmentAll.
	DefaultParallelism = 4

	// DefaultMaxPersistentBufferBytes is the persistent kernel budget.
	DefaultMaxPersistentBufferBytes = sched.DefaultMaxPersistentBufferBytes
)

// Render formats.
const (
	FormatDOT  = "dot"
	FormatSVG  = "svg"
	FormatJSON = "json"
)

// ValidFormats is the set of supported render formats.
var ValidFormats = map[string]bool{
	FormatDOT:  true,
	FormatSVG:  true,
	FormatJSON: true,
}

// ValidHalfTypes is the set of types a boundary may be reduced to.
var ValidHalfTypes = map[string]bool{
	"float16":  true,
	"bfloat16": true,
}

// =============================================================================
// Options - Pipeline Configuration
// =============================================================================

// Options contains all configuration for a segmentation run.
// This struct supports JSON, TOML and YAML serialization.
type Options struct {
	// Scheduling
	Oracle                   string `json:"oracle,omitempty" toml:"oracle" yaml:"oracle"`
	MaxPersistentBufferBytes int64  `json:"max_persistent_buffer_bytes,omitempty" toml:"max_persistent_buffer_bytes" yaml:"max_persistent_buffer_bytes"`

	// Passes
	DisableWelford           bool `json:"disable_welford,omitempty" toml:"disable_welford" yaml:"disable_welford"`
	DisableForwarding        bool `json:"disable_forwarding,omitempty" toml:"disable_forwarding" yaml:"disable_forwarding"`
	DisablePadCat            bool `json:"disable_pad_cat,omitempty" toml:"disable_pad_cat" yaml:"disable_pad_cat"`
	DisableCastChain         bool `json:"disable_cast_chain,omitempty" toml:"disable_cast_chain" yaml:"disable_cast_chain"`
	DisableCombineReductions bool `json:"disable_combine_reductions,omitempty" toml:"disable_combine_reductions" yaml:"disable_combine_reductions"`
	DisableFinalMerge        bool `json:"disable_final_merge,omitempty" toml:"disable_final_merge" yaml:"disable_final_merge"`

	// Boundary precision
	ReduceBoundaryPrecision bool   `json:"reduce_boundary_precision,omitempty" toml:"reduce_boundary_precision" yaml:"reduce_boundary_precision"`
	HalfType                string `json:"half_type,omitempty" toml:"half_type" yaml:"half_type"`

	// Execution
	Parallelism int  `json:"parallelism,omitempty" toml:"parallelism" yaml:"parallelism"`
	Refresh     bool `json:"refresh,omitempty" toml:"refresh" yaml:"refresh"`

	// Runtime options (not serialized)
	Logger    *log.Logger  `json:"-" toml:"-" yaml:"-"`
	Scheduler sched.Oracle `json:"-" toml:"-" yaml:"-"` // overrides the named oracle

	// validated tracks whether ValidateAndSetDefaults has been called.
	validated bool
}

// Result contains the outputs of one segmentation.
type Result struct {
	// RunID identifies this run in logs and archived records.
	RunID string `json:"run_id"`

	// GraphHash is the content hash of the graph before segmentation.
	GraphHash string `json:"graph_hash"`

	// Segmented is the segmentation. It refers to the fusion that was
	// segmented, which may carry rewrites applied during segmentation.
	Segmented *segment.SegmentedFusion `json:"-"`

	// Persisted is the storable form, nil when the segmentation cannot be
	// rebuilt from the original graph.
	Persisted *segment.Persisted `json:"persisted,omitempty"`

	// Stats contains counters and timing.
	Stats Stats `json:"stats"`

	// CacheHit reports whether the segmentation came from the cache.
	CacheHit bool `json:"cache_hit"`
}

// Stats contains pipeline execution statistics.
type Stats struct {
	segment.Stats
	Groups   int           `json:"groups"`
	Edges    int           `json:"edges"`
	Duration time.Duration `json:"duration"`
}

// =============================================================================
// Validation Functions
// =============================================================================

// ValidateFormat checks that a render format is valid.
func ValidateFormat(format string) error {
	if !ValidFormats[format] {
		return errors.New(errors.ErrCodeInvalidConfig, "invalid format: %q (must be one of: dot, svg, json)", format)
	}
	return nil
}

// ValidateHalfType checks that a reduced precision type is valid.
func ValidateHalfType(name string) error {
	if !ValidHalfTypes[name] {
		return errors.New(errors.ErrCodeInvalidConfig, "invalid half_type: %q (must be one of: float16, bfloat16)", name)
	}
	return nil
}

// =============================================================================
// Options Methods
// =============================================================================

// ValidateAndSetDefaults checks option values and applies defaults.
// This method is idempotent - calling it multiple times has the same effect as calling it once.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if o.Oracle == "" {
		o.Oracle = DefaultOracle
		if o.Scheduler != nil {
			o.Oracle = "custom"
		}
	}
	if o.Scheduler == nil && o.Oracle != DefaultOracle {
		return errors.New(errors.ErrCodeInvalidConfig, "unknown oracle %q (only %q is built in)", o.Oracle, DefaultOracle)
	}
	if o.MaxPersistentBufferBytes < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "max_persistent_buffer_bytes must not be negative")
	}
	if o.MaxPersistentBufferBytes == 0 {
		o.MaxPersistentBufferBytes = DefaultMaxPersistentBufferBytes
	}
	if o.HalfType == "" {
		o.HalfType = DefaultHalfType
	}
	if err := ValidateHalfType(o.HalfType); err != nil {
		return err
	}
	if o.Parallelism < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "parallelism must not be negative")
	}
	if o.Parallelism == 0 {
		o.Parallelism = DefaultParallelism
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	o.validated = true
	return nil
}

// SegmentOptions returns the segmentation engine options.
// ValidateAndSetDefaults must have succeeded.
func (o *Options) SegmentOptions() segment.Options {
	ht, _ := ir.ParseDataType(o.HalfType)
	return segment.Options{
		DisableWelford:           o.DisableWelford,
		DisableForwarding:        o.DisableForwarding,
		DisablePadCat:            o.DisablePadCat,
		DisableCastChain:         o.DisableCastChain,
		DisableCombineReductions: o.DisableCombineReductions,
		DisableFinalMerge:        o.DisableFinalMerge,
		ReduceBoundaryPrecision:  o.ReduceBoundaryPrecision,
		HalfType:                 ht,
		Logger:                   o.Logger,
	}
}

// RuntimeInfo returns fresh runtime info for one segmentation.
func (o *Options) RuntimeInfo() *sched.RuntimeInfo {
	info := sched.NewRuntimeInfo()
	info.MaxPersistentBufferBytes = o.MaxPersistentBufferBytes
	return info
}

// SegmentKeyOpts returns cache key options for a segmentation.
func (o *Options) SegmentKeyOpts() cache.SegmentKeyOpts {
	k := cache.SegmentKeyOpts{
		Oracle:                   o.Oracle,
		MaxPersistentBufferBytes: o.MaxPersistentBufferBytes,
		DisableWelford:           o.DisableWelford,
		DisableForwarding:        o.DisableForwarding,
		DisablePadCat:            o.DisablePadCat,
		DisableCastChain:         o.DisableCastChain,
		DisableCombineReductions: o.DisableCombineReductions,
		DisableFinalMerge:        o.DisableFinalMerge,
		ReduceBoundaryPrecision:  o.ReduceBoundaryPrecision,
	}
	// The half type only matters when boundaries are reduced.
	if o.ReduceBoundaryPrecision {
		k.HalfType = o.HalfType
	}
	return k
}

// =============================================================================
// Options Files
// =============================================================================

// LoadOptionsFile reads options from a .toml, .yaml, .yml or .json file.
// Unknown keys are rejected so that typos do not silently change a run.
func LoadOptionsFile(path string) (Options, error) {
	var opts Options
	if err := errors.ValidatePath(path); err != nil {
		return opts, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read %s", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), &opts)
		if err != nil {
			return opts, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse %s", path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return opts, errors.New(errors.ErrCodeInvalidConfig, "%s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&opts); err != nil && err != io.EOF {
			return opts, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse %s", path)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return opts, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse %s", path)
		}
	default:
		return opts, errors.New(errors.ErrCodeInvalidConfig, "unsupported options file %q (use .toml, .yaml or .json)", ext)
	}
	return opts, nil
}
