package segment

import (
	"io"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/fuseg/pkg/ir"
)

// Options configures a segmentation run. The zero value enables every pass
// and disables boundary precision reduction.
type Options struct {
	// DisableWelford skips the Welford-to-two-pass rewrite.
	DisableWelford bool

	// DisableForwarding keeps unary chains on fusion inputs in their
	// consumers' groups from the start.
	DisableForwarding bool

	// DisablePadCat skips merging concatenations with their padded inputs.
	DisablePadCat bool

	// DisableCastChain skips merging up-cast/down-cast chains.
	DisableCastChain bool

	// DisableCombineReductions skips merging groups with matching reductions.
	DisableCombineReductions bool

	// DisableFinalMerge skips the unconstrained producer/consumer sweep.
	DisableFinalMerge bool

	// ReduceBoundaryPrecision casts float32 tensors crossing segment
	// boundaries to HalfType.
	ReduceBoundaryPrecision bool

	// HalfType is the reduced precision type; defaults to ir.Half.
	HalfType ir.DataType

	// Logger receives merge decisions at debug level. Nil discards.
	Logger *log.Logger
}

func (o Options) withDefaults() Options {
	if o.HalfType == ir.Invalid {
		o.HalfType = ir.Half
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	return o
}

// Stats counts the work done by one segmentation run.
type Stats struct {
	Exprs             int  `json:"exprs"`
	InitialGroups     int  `json:"initial_groups"`
	FinalGroups       int  `json:"final_groups"`
	Rounds            int  `json:"rounds"`
	Probes            int  `json:"probes"`
	MergesAccepted    int  `json:"merges_accepted"`
	MergesRejected    int  `json:"merges_rejected"`
	ForwardedChains   int  `json:"forwarded_chains"`
	WelfordTranslated int  `json:"welford_translated"`
	Trivial           bool `json:"trivial"`
}
