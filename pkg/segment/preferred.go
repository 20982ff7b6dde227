package segment

// preferredCandidates returns merges proposed ahead of the ordinary greedy
// search. Indexed reads are pulled toward the producer of their lookup
// tensor and pads toward their single consuming group.
func (fd *finder) preferredCandidates() []proposedMerge {
	var out []proposedMerge
	for _, g := range fd.sf.exprGroups() {
		for _, e := range g.exprs {
			if e.IsIndexedRead() {
				def := e.Input(0).Definition()
				if def == nil {
					continue
				}
				if pg := fd.owner[def]; pg != nil && pg != g {
					out = append(out, proposedMerge{a: g, b: pg})
					break
				}
			}
			if e.IsPad() {
				if cs := g.consumerGroups(); len(cs) == 1 {
					out = append(out, proposedMerge{a: g, b: cs[0]})
					break
				}
			}
		}
	}
	return out
}
