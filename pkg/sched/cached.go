package sched

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/matzehuels/fuseg/pkg/cache"
	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/observability"
)

// Cached memoizes the answers of an inner oracle by view fingerprint. It is
// safe for concurrent use when the inner oracle is.
type Cached struct {
	inner Oracle

	mu       sync.Mutex
	proposed map[string]proposal
	checked  map[string]bool
	hits     int
	misses   int
}

type proposal struct {
	h  Heuristic
	ok bool
}

// NewCached wraps inner with a memo table.
func NewCached(inner Oracle) *Cached {
	return &Cached{
		inner:    inner,
		proposed: make(map[string]proposal),
		checked:  make(map[string]bool),
	}
}

// Propose implements [Oracle].
func (c *Cached) Propose(view *ir.Fusion, info *RuntimeInfo) (Heuristic, bool) {
	key := memoKey(view, info)
	c.mu.Lock()
	if p, ok := c.proposed[key]; ok {
		c.hits++
		c.mu.Unlock()
		observability.Cache().OnCacheHit(context.Background(), "oracle")
		return p.h, p.ok
	}
	c.misses++
	c.mu.Unlock()
	observability.Cache().OnCacheMiss(context.Background(), "oracle")

	h, ok := c.inner.Propose(view, info)

	c.mu.Lock()
	c.proposed[key] = proposal{h: h, ok: ok}
	c.mu.Unlock()
	return h, ok
}

// CanSchedule implements [Oracle].
func (c *Cached) CanSchedule(h Heuristic, view *ir.Fusion, info *RuntimeInfo) bool {
	key := h.String() + ":" + memoKey(view, info)
	c.mu.Lock()
	if ok, found := c.checked[key]; found {
		c.hits++
		c.mu.Unlock()
		return ok
	}
	c.misses++
	c.mu.Unlock()

	ok := c.inner.CanSchedule(h, view, info)

	c.mu.Lock()
	c.checked[key] = ok
	c.mu.Unlock()
	return ok
}

// Stats returns the number of memo hits and misses so far.
func (c *Cached) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func memoKey(view *ir.Fusion, info *RuntimeInfo) string {
	limit := int64(DefaultMaxPersistentBufferBytes)
	if info != nil {
		limit = info.MaxPersistentBufferBytes
	}
	return fmt.Sprintf("%d:%s", limit, Fingerprint(view))
}

// Fingerprint returns a content hash of the view that ignores value identity:
// two views with the same operations, types, shapes and wiring share a
// fingerprint.
func Fingerprint(view *ir.Fusion) string {
	var b strings.Builder
	local := make(map[*ir.Val]int)
	num := func(v *ir.Val) int {
		if id, ok := local[v]; ok {
			return id
		}
		id := len(local)
		local[v] = id
		fmt.Fprintf(&b, "[v%d %s %v %t]", id, v.DType(), v.Shape(), v.IsScalar())
		return id
	}
	for _, in := range view.Inputs() {
		fmt.Fprintf(&b, "in %d;", num(in))
	}
	for _, e := range view.Exprs() {
		fmt.Fprintf(&b, "%s/%s%v(", e.Kind(), e.Op(), e.Axes())
		for _, in := range e.Inputs() {
			fmt.Fprintf(&b, "%d,", num(in))
		}
		b.WriteString(")->(")
		for _, o := range e.Outputs() {
			fmt.Fprintf(&b, "%d,", num(o))
		}
		b.WriteString(");")
	}
	for _, o := range view.Outputs() {
		fmt.Fprintf(&b, "out %d;", num(o))
	}
	return cache.Hash([]byte(b.String()))
}
