package util

// Scale maps done out of total onto the [lo, hi] range, rounding down.
// A non-positive total yields hi.
func Scale(done, total, lo, hi int) int {
	if total <= 0 || done >= total {
		return hi
	}

	if done <= 0 {
		return lo
	}

	return lo + done*(hi-lo)/total
}
