package pager

// Limits holds the four memory thresholds from §6's MemoryLimits struct.
//
// The pager computes its effective soft/hard thresholds as the max across
// the self and global scopes. §9 flags min as the more conservative
// reading, but documents max as matching source intent; this implementation
// preserves max per that guidance.
type Limits struct {
	GlobalHard uint64
	GlobalSoft uint64
	SelfHard   uint64
	SelfSoft   uint64
}

// Simple returns a Limits with all four thresholds set to n, the
// convenience constructor §6 names.
func Simple(n uint64) Limits {
	return Limits{GlobalHard: n, GlobalSoft: n, SelfHard: n, SelfSoft: n}
}

// effectiveSoft returns max(SelfSoft, GlobalSoft).
func (l Limits) effectiveSoft() uint64 {
	return max(l.SelfSoft, l.GlobalSoft)
}

// effectiveHard returns max(SelfHard, GlobalHard).
func (l Limits) effectiveHard() uint64 {
	return max(l.SelfHard, l.GlobalHard)
}
