package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/fuseg/pkg/pipeline"
)

// segmentFlags holds the command-line flags shared by commands that
// segment graphs. Flags override values from --config.
type segmentFlags struct {
	config        string
	noCache       bool
	redis         string
	refresh       bool
	noWelford     bool
	noForwarding  bool
	noCombine     bool
	noFinalMerge  bool
	half          bool
	halfType      string
	maxPersistent int64
	parallel      int
}

func (f *segmentFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.config, "config", "c", "", "options file (.toml, .yaml or .json)")
	fs.BoolVar(&f.noCache, "no-cache", false, "disable the segmentation cache")
	fs.StringVar(&f.redis, "redis", "", "use the Redis cache at this address instead of the local cache")
	fs.BoolVar(&f.refresh, "refresh", false, "ignore cached segmentations")
	fs.BoolVar(&f.noWelford, "no-welford", false, "keep Welford reductions as single expressions")
	fs.BoolVar(&f.noForwarding, "no-forwarding", false, "do not forward unary chains on fusion inputs")
	fs.BoolVar(&f.noCombine, "no-combine", false, "skip combining groups with matching reductions")
	fs.BoolVar(&f.noFinalMerge, "no-final-merge", false, "skip the final producer/consumer merge sweep")
	fs.BoolVar(&f.half, "half", false, "cast float32 tensors crossing segment boundaries to reduced precision")
	fs.StringVar(&f.halfType, "half-type", pipeline.DefaultHalfType, "reduced precision type: float16, bfloat16")
	fs.Int64Var(&f.maxPersistent, "max-persistent", pipeline.DefaultMaxPersistentBufferBytes, "persistent kernel buffer budget in bytes")
	fs.IntVarP(&f.parallel, "jobs", "j", pipeline.DefaultParallelism, "graphs segmented in parallel")
}

// options builds pipeline options from --config and the explicitly set flags.
func (f *segmentFlags) options(cmd *cobra.Command) (pipeline.Options, error) {
	var opts pipeline.Options
	if f.config != "" {
		loaded, err := pipeline.LoadOptionsFile(f.config)
		if err != nil {
			return opts, err
		}
		opts = loaded
	}

	changed := cmd.Flags().Changed
	if changed("refresh") {
		opts.Refresh = f.refresh
	}
	if changed("no-welford") {
		opts.DisableWelford = f.noWelford
	}
	if changed("no-forwarding") {
		opts.DisableForwarding = f.noForwarding
	}
	if changed("no-combine") {
		opts.DisableCombineReductions = f.noCombine
	}
	if changed("no-final-merge") {
		opts.DisableFinalMerge = f.noFinalMerge
	}
	if changed("half") {
		opts.ReduceBoundaryPrecision = f.half
	}
	if changed("half-type") {
		opts.HalfType = f.halfType
	}
	if changed("max-persistent") {
		opts.MaxPersistentBufferBytes = f.maxPersistent
	}
	if changed("jobs") {
		opts.Parallelism = f.parallel
	}

	opts.Logger = loggerFromContext(cmd.Context())
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return opts, err
	}
	return opts, nil
}
