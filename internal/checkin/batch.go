package checkin

// Default batch cadence for restores.
const (
	DefaultBatchSize    = 50
	DefaultRefreshEvery = 5
)

// BatchPolicy decides when the importer crosses a batch boundary. Rows between
// boundaries are staged in the repository session only; a boundary flushes
// them. Failures feed a separate counter that triggers cache refreshes.
type BatchPolicy struct {
	Size         int
	RefreshEvery int
}

// DefaultBatchPolicy returns the 50-row / every-5th-failure policy.
func DefaultBatchPolicy() BatchPolicy {
	return BatchPolicy{Size: DefaultBatchSize, RefreshEvery: DefaultRefreshEvery}
}

// normalized replaces non-positive values with defaults.
func (p BatchPolicy) normalized() BatchPolicy {
	if p.Size <= 0 {
		p.Size = DefaultBatchSize
	}
	if p.RefreshEvery <= 0 {
		p.RefreshEvery = DefaultRefreshEvery
	}
	return p
}

// ShouldFlush reports whether row index (0-based) of total closes a batch:
// either it is the last row of a full batch or the last row overall.
func (p BatchPolicy) ShouldFlush(index, total int) bool {
	p = p.normalized()
	if index == total-1 {
		return true
	}
	return (index+1)%p.Size == 0
}

// ShouldRefresh reports whether the cumulative failure count warrants a
// refresh of the repository's cached state.
func (p BatchPolicy) ShouldRefresh(failures int) bool {
	p = p.normalized()
	return failures > 0 && failures%p.RefreshEvery == 0
}

// FlushPoints lists the cumulative row counts at which a run of total rows
// flushes. Handy for logging the plan up front.
func (p BatchPolicy) FlushPoints(total int) []int {
	var points []int
	for i := 0; i < total; i++ {
		if p.ShouldFlush(i, total) {
			points = append(points, i+1)
		}
	}
	return points
}
