// Package pkg provides the core libraries of fuseg, a segmenter for fused
// tensor programs.
//
// # Overview
//
// A fusion is a graph of tensor expressions that a compiler would like to run
// as one kernel. When no scheduler can compile the whole graph, fuseg splits
// it into segments, each of which a scheduler accepts, while merging as much
// work as possible into every segment. The pkg directory is organized into
// four areas:
//
//  1. [ir] and [sched] - The expression graph and the scheduler oracle
//  2. [segment] - The segmentation engine
//  3. [pipeline] - Orchestration (load → segment → cache → render)
//  4. [cache], [store], [observability] - Infrastructure shared by CLI and API
//
// # Architecture
//
// The typical data flow through fuseg:
//
//	graph.json
//	     ↓
//	[ir] package (parse and validate the fusion)
//	     ↓
//	[segment] package (initial groups, rewrites, merge passes)
//	     ↓      ↑
//	     ↓   [sched] oracle (can this set of expressions be one kernel?)
//	     ↓
//	[render/nodelink] package (DOT and SVG diagrams)
//
// # Quick Start
//
// Segment a graph file with caching:
//
//	import (
//	    "context"
//	    "github.com/matzehuels/fuseg/pkg/cache"
//	    "github.com/matzehuels/fuseg/pkg/pipeline"
//	)
//
//	runner := pipeline.NewRunner(cache.NewMemoryCache(), nil, nil)
//	res, err := runner.SegmentFile(context.Background(), "model.json", pipeline.Options{})
//	for _, g := range res.Segmented.Groups() {
//	    fmt.Println(g.ID(), g.Heuristic(), len(g.Exprs()))
//	}
//
// # Main Packages
//
// [ir] - Tensor values, expressions and the fusion that owns them, with a JSON
// graph format.
//
// [sched] - The [sched.Oracle] interface that decides whether a fusion can be
// compiled as one kernel and with which heuristic, a reference oracle, and a
// memoizing wrapper.
//
// [segment] - The segmenter. Exposes [segment.Segment], the resulting
// [segment.SegmentedFusion], and its compact persisted form.
//
// [pipeline] - Options, config files, graph loading, cached runs and
// rendering. Used by both the CLI and the HTTP API.
//
// [cache] - Key-value caches (memory, file, Redis) for persisted
// segmentations.
//
// [store] - Archive of segmentation runs (memory, file, MongoDB) served by
// the HTTP API.
//
// [observability] - Hook interfaces with a Prometheus implementation.
//
// [errors] - Error codes shared by every package.
//
// # Testing
//
//	go test ./pkg/...                    # All tests
//	go test ./pkg/segment/...            # Specific package
//	go test -run Example ./pkg/...       # Examples only
//
// Redis and MongoDB tests run only when FUSEG_REDIS_ADDR and FUSEG_MONGO_URI
// are set.
//
// [ir]: https://pkg.go.dev/github.com/matzehuels/fuseg/pkg/ir
// [sched]: https://pkg.go.dev/github.com/matzehuels/fuseg/pkg/sched
// [segment]: https://pkg.go.dev/github.com/matzehuels/fuseg/pkg/segment
// [pipeline]: https://pkg.go.dev/github.com/matzehuels/fuseg/pkg/pipeline
// [cache]: https://pkg.go.dev/github.com/matzehuels/fuseg/pkg/cache
// [store]: https://pkg.go.dev/github.com/matzehuels/fuseg/pkg/store
// [observability]: https://pkg.go.dev/github.com/matzehuels/fuseg/pkg/observability
// [errors]: https://pkg.go.dev/github.com/matzehuels/fuseg/pkg/errors
// [render/nodelink]: https://pkg.go.dev/github.com/matzehuels/fuseg/pkg/render/nodelink
package pkg
