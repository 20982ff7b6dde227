// Package ir provides the minimal tensor data-flow graph consumed by the
// segmenter.
//
// # Overview
//
// The segmentation engine treats operations and values as opaque graph nodes.
// This package supplies exactly what it needs and nothing more: values with
// identity, operations with ordered inputs and outputs, a closed set of
// operation kinds with the predicates the merge passes query, a mutable
// input/output boundary, deterministic traversal and cloning.
//
// A [Fusion] owns every [Val] and [Expr] created through it. Values are
// produced by at most one expression and consumed by any number:
//
//	f := ir.New()
//	x := f.NewTensor("x", ir.Float, 128, 64)
//	f.AddInput(x)
//	y := f.Unary("neg", x)
//	s := f.Sum(y, 1)
//	f.AddOutput(s)
//
// # Boundary
//
// [Fusion.Exprs] returns the live expressions between the current inputs and
// outputs in topological order. Traversal stops at inputs, so narrowing the
// boundary with [Fusion.AddInput], [Fusion.RemoveInput], [Fusion.AddOutput]
// and [Fusion.RemoveOutput] turns the fusion into a view of a sub-graph. The
// segmenter relies on this to probe scheduling feasibility without cloning.
//
// # Operation Kinds
//
// [OpKind] is a closed enumeration. Merge passes never inspect operator names;
// they use [Expr.IsUpCast], [Expr.IsDownCast], [Expr.IsPad],
// [Expr.IsIndexedRead], [Expr.IsReductionLike] and [Expr.ReductionSignature].
//
// # Serialization
//
// [MarshalFusion] and [ReadFusion] convert a fusion to and from a JSON
// document whose value and expression IDs follow creation order.
//
// # Concurrency
//
// Fusion instances are not safe for concurrent use.
package ir
