package cache

// ScopedKeyer prefixes every key of an inner Keyer. Builds of fuseg scope
// their keys by version so a changed reference oracle never reads results
// cached by an older one:
//
//	keyer := NewScopedKeyer(nil, "v0.3.1:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix. A nil inner keyer means the
// [DefaultKeyer].
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// SegmentKey generates a prefixed key for segmentation results.
func (k *ScopedKeyer) SegmentKey(graphHash string, opts SegmentKeyOpts) string {
	return k.prefix + k.inner.SegmentKey(graphHash, opts)
}
