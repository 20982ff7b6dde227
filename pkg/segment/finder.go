package segment

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/observability"
	"github.com/matzehuels/fuseg/pkg/sched"
)

// Segment partitions f into segments the oracle can schedule.
//
// The fusion's boundary is narrowed and restored while probing and kept
// Welford rewrites are left applied; callers must not use f concurrently.
// ctx is checked between merge rounds.
func Segment(ctx context.Context, f *ir.Fusion, oracle sched.Oracle, info *sched.RuntimeInfo, opts Options) (*SegmentedFusion, error) {
	if f == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "nil fusion")
	}
	if oracle == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "nil scheduling oracle")
	}
	if len(f.Outputs()) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidGraph, "fusion has no outputs")
	}
	if info == nil {
		info = sched.NewRuntimeInfo()
	}

	fd := newFinder(ctx, f, oracle, info, opts)
	hooks := observability.Segment()
	hooks.OnSegmentStart(ctx, fd.sf.stats.Exprs)
	start := time.Now()

	err := fd.run()

	groups := len(fd.sf.groups)
	hooks.OnSegmentComplete(ctx, groups, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	fd.log.Info("segmented fusion",
		"exprs", fd.sf.stats.Exprs,
		"groups", groups,
		"rounds", fd.sf.stats.Rounds,
		"probes", fd.sf.stats.Probes,
		"duration", time.Since(start))
	return fd.sf, nil
}

// finder drives one segmentation run.
type finder struct {
	ctx    context.Context
	sf     *SegmentedFusion
	oracle sched.Oracle
	info   *sched.RuntimeInfo
	opts   Options
	log    *log.Logger

	deps     *dependencyAnalysis
	owner    map[*ir.Expr]*Group
	chains   []*forwardChain
	rejected map[string]bool
}

func newFinder(ctx context.Context, f *ir.Fusion, oracle sched.Oracle, info *sched.RuntimeInfo, opts Options) *finder {
	opts = opts.withDefaults()
	sf := newSegmentedFusion(f)
	sf.halfType = opts.HalfType
	for _, e := range f.Exprs() {
		if !e.IsScalarOnly() {
			sf.stats.Exprs++
		}
	}
	return &finder{
		ctx:      ctx,
		sf:       sf,
		oracle:   oracle,
		info:     info,
		opts:     opts,
		log:      opts.Logger,
		owner:    make(map[*ir.Expr]*Group),
		rejected: make(map[string]bool),
	}
}

func (fd *finder) run() error {
	single, err := fd.trySingleGroup()
	if err != nil || single {
		return err
	}

	if err := fd.buildInitialGroups(); err != nil {
		return err
	}
	if !fd.opts.DisableWelford {
		fd.translateWelfordGroups()
	}
	if err := fd.removeScalarEdges(); err != nil {
		return err
	}
	if fd.deps, err = newDependencyAnalysis(fd.sf); err != nil {
		return err
	}

	passes := []struct {
		name string
		skip bool
		run  func() error
	}{
		{"pad_cat", fd.opts.DisablePadCat, fd.mergePadCat},
		{"cast_chain", fd.opts.DisableCastChain, fd.mergeCastChains},
		{"combine_reductions", fd.opts.DisableCombineReductions, fd.combineReductions},
		{"greedy", false, fd.mergeLoop},
		{"final", fd.opts.DisableFinalMerge, fd.finalMerge},
	}
	for _, p := range passes {
		if p.skip {
			continue
		}
		if err := fd.ctx.Err(); err != nil {
			return err
		}
		before := fd.sf.stats.MergesAccepted
		start := time.Now()
		err := p.run()
		observability.Segment().OnPassComplete(fd.ctx, p.name, fd.sf.stats.MergesAccepted-before, time.Since(start))
		if err != nil {
			return err
		}
		fd.log.Debug("pass complete", "pass", p.name, "merges", fd.sf.stats.MergesAccepted-before, "groups", len(fd.sf.exprGroups()))
	}

	return fd.finalize()
}

// =============================================================================
// Trivial case
// =============================================================================

// trySingleGroup asks the oracle for the whole fusion, first as is and then,
// if that fails and the fusion holds Welford expressions, after rewriting
// them. On success the segmentation is a single finalized group.
func (fd *finder) trySingleGroup() (bool, error) {
	f := fd.sf.complete
	fd.sf.stats.Probes++
	h, ok := fd.oracle.Propose(f, fd.info)

	if !ok && !fd.opts.DisableWelford && f.HasWelford() {
		var rewrites []*welfordRewrite
		for _, e := range f.Exprs() {
			if canTranslateWelford(f, e) {
				rewrites = append(rewrites, translateWelford(f, e))
			}
		}
		if len(rewrites) > 0 {
			fd.sf.stats.Probes++
			h, ok = fd.oracle.Propose(f, fd.info)
			if ok && h.IsPersistent() {
				fd.sf.stats.WelfordTranslated += len(rewrites)
				fd.log.Debug("translated welford for whole fusion", "count", len(rewrites), "heuristic", h)
			} else {
				ok = false
				for i := len(rewrites) - 1; i >= 0; i-- {
					rewrites[i].revert(f)
				}
			}
		}
	}
	if !ok {
		return false, nil
	}

	g := fd.sf.newGroup()
	for _, e := range f.Exprs() {
		if !e.IsScalarOnly() {
			g.exprs = append(g.exprs, e)
		}
	}
	g.heuristic = h
	fd.sf.stats.Trivial = true
	fd.sf.stats.InitialGroups = 1
	return true, fd.finalize()
}

// =============================================================================
// Initial partition
// =============================================================================

// buildInitialGroups creates one group per non-scalar expression, one
// auxiliary group per fusion input (or forwarded chain end) and an edge for
// every value crossing between them. Scalars computed from tensors add an
// edge from the tensor's group.
func (fd *finder) buildInitialGroups() error {
	sf := fd.sf
	f := sf.complete
	live := f.Exprs()
	liveSet := make(map[*ir.Expr]bool, len(live))
	for _, e := range live {
		liveSet[e] = true
	}

	if !fd.opts.DisableForwarding {
		fd.chains = findForwardChains(f, liveSet)
	}
	forwarded := make(map[*ir.Expr]bool)
	chainInput := make(map[*ir.Val]bool)
	for _, ch := range fd.chains {
		chainInput[ch.input] = true
		for _, e := range ch.exprs {
			forwarded[e] = true
		}
	}

	aux := make(map[*ir.Val]*Group)
	for _, in := range f.Inputs() {
		if !chainInput[in] {
			aux[in] = sf.newAuxGroup(in)
		}
	}
	for _, ch := range fd.chains {
		ch.aux = sf.newAuxGroup(ch.end)
		aux[ch.end] = ch.aux
	}

	var groups []*Group
	for _, e := range live {
		if e.IsScalarOnly() || forwarded[e] {
			continue
		}
		g := sf.newGroupFor(e)
		fd.owner[e] = g
		groups = append(groups, g)
	}

	link := func(v *ir.Val, g *Group) {
		if a, ok := aux[v]; ok {
			if !connected(a, g, v) {
				sf.connectGroups(a, g, v)
			}
			return
		}
		def := v.Definition()
		if def == nil {
			return
		}
		if pg := fd.owner[def]; pg != nil && pg != g && !connected(pg, g, v) {
			sf.connectGroups(pg, g, v)
		}
	}
	for _, g := range groups {
		for _, in := range g.exprs[0].Inputs() {
			if isDerivedScalar(f, in) {
				walkScalar(f, in, nil, func(leaf *ir.Val) { link(leaf, g) })
				continue
			}
			link(in, g)
		}
	}

	sf.stats.InitialGroups = len(groups)
	sf.stats.ForwardedChains = len(fd.chains)
	fd.log.Debug("initial partition", "groups", len(groups), "forwarded", len(fd.chains))
	return nil
}

// translateWelfordGroups rewrites the Welford expressions of each group and
// keeps the rewrite only when the oracle then proposes a persistent
// heuristic for the group.
func (fd *finder) translateWelfordGroups() {
	f := fd.sf.complete
	for _, g := range fd.sf.exprGroups() {
		var rewrites []*welfordRewrite
		for _, e := range g.exprs {
			if canTranslateWelford(f, e) {
				rewrites = append(rewrites, translateWelford(f, e))
			}
		}
		if len(rewrites) == 0 {
			continue
		}

		oldExprs := g.exprs
		replaced := make(map[*ir.Expr][]*ir.Expr, len(rewrites))
		vals := make(map[*ir.Val]*ir.Val)
		for _, r := range rewrites {
			replaced[r.orig] = r.tensorExprs()
			for k, v := range r.valueMap() {
				vals[k] = v
			}
		}
		var exprs []*ir.Expr
		for _, e := range oldExprs {
			if repl, ok := replaced[e]; ok {
				exprs = append(exprs, repl...)
				continue
			}
			exprs = append(exprs, e)
		}
		type swap struct {
			edge *Edge
			old  *ir.Val
		}
		var swaps []swap
		for _, e := range g.consumers {
			if nv, ok := vals[e.val]; ok {
				swaps = append(swaps, swap{e, e.val})
				e.val = nv
			}
		}
		g.exprs = exprs

		h, ok := fd.propose([]*Group{g})
		if ok && h.IsPersistent() {
			g.heuristic = h
			for _, e := range exprs {
				fd.owner[e] = g
			}
			for _, r := range rewrites {
				delete(fd.owner, r.orig)
			}
			fd.sf.stats.WelfordTranslated += len(rewrites)
			fd.log.Debug("translated welford", "group", g.uid, "count", len(rewrites), "heuristic", h)
			continue
		}

		for _, s := range swaps {
			s.edge.val = s.old
		}
		g.exprs = oldExprs
		for i := len(rewrites) - 1; i >= 0; i-- {
			rewrites[i].revert(f)
		}
	}
}

func (fd *finder) removeScalarEdges() error {
	for _, e := range slices.Clone(fd.sf.edges) {
		if e.val.IsScalar() {
			if err := fd.sf.removeEdge(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// Probing and committing
// =============================================================================

func probeKey(groups []*Group) string {
	uids := make([]int, len(groups))
	for i, g := range groups {
		uids[i] = g.uid
	}
	slices.Sort(uids)
	parts := make([]string, len(uids))
	for i, u := range uids {
		parts[i] = strconv.Itoa(u)
	}
	return strings.Join(parts, ",")
}

// propose asks the oracle for a heuristic for the segment formed by groups.
func (fd *finder) propose(groups []*Group) (h sched.Heuristic, ok bool) {
	fd.sf.stats.Probes++
	_ = fd.sf.withBoundary(groups, func(view *ir.Fusion) error {
		h, ok = fd.oracle.Propose(view, fd.info)
		return nil
	})
	return h, ok
}

// probe is propose with a memo of rejected group sets. UIDs are never
// reused, so a rejected set stays rejected.
func (fd *finder) probe(pass string, groups ...*Group) (sched.Heuristic, bool) {
	key := probeKey(groups)
	if fd.rejected[key] {
		return sched.None, false
	}
	h, ok := fd.propose(groups)
	if !ok {
		fd.rejected[key] = true
		fd.sf.stats.MergesRejected++
		observability.Segment().OnMergeRejected(fd.ctx, pass)
		fd.log.Debug("merge rejected", "pass", pass, "groups", key)
	}
	return h, ok
}

// commit merges set into one group with heuristic h and updates the
// dependency index.
func (fd *finder) commit(pass string, set []*Group, h sched.Heuristic) (*Group, error) {
	merged, err := fd.sf.mergeAllGroups(set)
	if err != nil {
		return nil, err
	}
	fd.deps.mergeGroupSet(set, merged)
	merged.heuristic = h
	for _, e := range merged.exprs {
		fd.owner[e] = merged
	}
	fd.sf.stats.MergesAccepted++
	observability.Segment().OnMergeAccepted(fd.ctx, pass, len(set))
	fd.log.Debug("merged groups", "pass", pass, "groups", probeKey(set), "into", merged.uid, "heuristic", h)
	return merged, nil
}

// =============================================================================
// Merge loops
// =============================================================================

// mergeLoop runs level-bounded merge rounds until a round proposes nothing.
// Preferred pairs are proposed first. Every pair is re-checked against the
// dependency index before it is committed; a pair with groups between its
// members would close a cycle and is skipped.
func (fd *finder) mergeLoop() error {
	sf := fd.sf
	for {
		if err := fd.ctx.Err(); err != nil {
			return err
		}
		if err := sf.resetLevels(); err != nil {
			return err
		}
		sf.stats.Rounds++
		round := newMergeRound()

		for _, p := range fd.preferredCandidates() {
			if round.merged(p.a) || round.merged(p.b) {
				continue
			}
			if !slices.Contains(sf.getMergeCandidates(p.a, round), p.b) {
				continue
			}
			if h, ok := fd.probe("preferred", p.a, p.b); ok {
				round.propose(p.a, p.b, h)
			}
		}
		for _, g := range sf.exprGroups() {
			if round.merged(g) {
				continue
			}
			for _, n := range sf.getMergeCandidates(g, round) {
				if h, ok := fd.probe("greedy", g, n); ok {
					round.propose(g, n, h)
					break
				}
			}
		}
		if len(round.pairs) == 0 {
			return nil
		}

		committed := 0
		for _, p := range round.pairs {
			if len(fd.deps.groupsBetween(p.a, p.b)) > 0 || len(fd.deps.groupsBetween(p.b, p.a)) > 0 {
				fd.log.Debug("skipping merge across intermediate groups", "a", p.a.uid, "b", p.b.uid)
				continue
			}
			if _, err := fd.commit("greedy", []*Group{p.a, p.b}, p.h); err != nil {
				return err
			}
			committed++
		}
		if err := fd.deps.checkCycles(); err != nil {
			return err
		}
		if committed == 0 {
			return nil
		}
	}
}

// finalMerge merges any producer with one of its consumers, provided the
// consumer does not depend on another consumer of the same producer, until
// no pair is accepted. One merge is committed per sweep.
func (fd *finder) finalMerge() error {
	for {
		if err := fd.ctx.Err(); err != nil {
			return err
		}
		merged := false
		for _, p := range fd.sf.exprGroups() {
			consumers := p.consumerGroups()
			for _, c := range consumers {
				others := slices.DeleteFunc(slices.Clone(consumers), func(x *Group) bool { return x == c })
				if fd.deps.isConsumerOfAny(c, others) || len(fd.deps.groupsBetween(p, c)) > 0 {
					continue
				}
				h, ok := fd.probe("final", p, c)
				if !ok {
					continue
				}
				if _, err := fd.commit("final", []*Group{p, c}, h); err != nil {
					return err
				}
				merged = true
				break
			}
			if merged {
				break
			}
		}
		if !merged {
			return fd.deps.checkCycles()
		}
	}
}
