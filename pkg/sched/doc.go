// Package sched defines the scheduling oracle consulted by the segmenter.
//
// An [Oracle] answers two questions about a view of a fusion (an [ir.Fusion]
// whose boundary has been narrowed to a candidate segment): which
// [Heuristic] would compile the view as one kernel, and whether a given
// heuristic can. The segmenter never inspects kernels itself.
//
// [Reference] is a deterministic rule-based oracle. It is not a model of a
// real code generator; it exists so that segmentation can be exercised end to
// end. Its rules:
//
//   - Views without tensor work are NoOp.
//   - Operators listed in ExprEvalOps must be alone in their view (ExprEval).
//   - Views without reductions are PointWise.
//   - All reductions in a view must share one [ir.ReductionSignature].
//   - A reduction whose result is recombined with its own input forms a
//     normalization; it needs a persistent heuristic, and the persistent
//     buffer must fit in [RuntimeInfo.MaxPersistentBufferBytes]. Welford
//     normalizations are rejected.
//   - Other reductions are Reduction.
//
// [Cached] memoizes any oracle by view [Fingerprint], so repeated probes of
// structurally identical views are answered without re-running the inner
// oracle.
package sched
