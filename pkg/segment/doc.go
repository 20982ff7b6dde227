// Package segment partitions a fusion into schedulable kernels.
//
// # Overview
//
// [Segment] takes a complete [ir.Fusion] that a scheduling oracle cannot
// compile as one kernel and splits it into the smallest set of connected
// segments it can find. Every non-scalar expression ends up in exactly one
// segment, the segment graph stays acyclic, and each segment carries the
// [sched.Heuristic] the oracle assigned to it.
//
//	sf, err := segment.Segment(ctx, fusion, sched.NewReference(), sched.NewRuntimeInfo(), segment.Options{})
//	if err != nil {
//	    return err
//	}
//	for _, g := range sf.Groups() {
//	    fmt.Println(g.ID(), g.Heuristic(), len(g.Exprs()))
//	}
//
// # Algorithm
//
// Segmentation starts from one [Group] per non-scalar expression, joined by
// [Edge] values, and contracts groups until no accepted merge remains:
//
//  1. If the oracle accepts the whole fusion, the result is a single group.
//  2. Single-use unary chains reading fusion inputs are set aside ("forwarded")
//     so they do not pin their consumers together.
//  3. Welford statistics may be rewritten into two-pass sums when that makes
//     a group schedulable as a persistent kernel.
//  4. Scalar edges are dropped; scalars are recomputed inside each segment.
//  5. Pattern passes merge concatenations with their pads, up-cast/down-cast
//     chains, and reductions sharing a signature.
//  6. A level-bounded greedy loop merges neighbouring groups, probing each
//     candidate through the oracle.
//  7. A final sweep merges any remaining producer/consumer pair the oracle
//     accepts.
//  8. Forwarded chains are folded back, scalars are resolved per segment, ids
//     and heuristics are assigned and the result is checked for consistency.
//
// A transitive producer index kept in roaring bitmaps answers "is A upstream
// of B" in constant time and is updated incrementally on every merge.
//
// # Probing
//
// Candidates are never materialized. The complete fusion's boundary is
// narrowed to the candidate's inputs and outputs, the oracle is called on
// that view, and the boundary is restored on every exit path.
//
// # Errors
//
// Oracle rejections are ordinary outcomes. Cycles, edge bookkeeping
// inconsistencies, merges of auxiliary input groups and segments without a
// heuristic are returned as fatal [errors.Error] values.
//
// # Results
//
// A finalized [SegmentedFusion] can extract each segment as an independent
// fusion ([SegmentedFusion.MakeFusion]) and serialize itself into a compact
// index-based form ([SegmentedFusion.Serialize]).
//
// [errors.Error]: github.com/matzehuels/fuseg/pkg/errors.Error
package segment
