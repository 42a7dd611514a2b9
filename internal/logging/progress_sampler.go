package logging

// ProgressSampler thins "n of total done" log lines to roughly one per
// slice of the run, so a large batch does not log a line per item.
type ProgressSampler struct {
	total int
	steps int
	last  int
}

// NewProgressSampler samples completions of total items into steps slices.
// steps below 1 means 10.
func NewProgressSampler(total, steps int) *ProgressSampler {
	if steps < 1 {
		steps = 10
	}
	return &ProgressSampler{total: total, steps: steps, last: -1}
}

// ShouldLog reports whether reaching done completed items enters a new
// slice. The first completion and the last one always do. A nil sampler logs
// everything.
func (s *ProgressSampler) ShouldLog(done int) bool {
	if s == nil {
		return true
	}
	if s.total <= 0 || done <= 0 {
		return false
	}
	done = min(done, s.total)
	slice := done * s.steps / s.total
	if slice <= s.last {
		return false
	}
	s.last = slice
	return true
}
