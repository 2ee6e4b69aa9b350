package util

// DeltaF64 returns now-prev for a monotonic counter in seconds; a counter
// that went backwards gives 0.
func DeltaF64(now, prev float64) float64 {
	if now >= prev {
		return now - prev
	}
	return 0
}

func SafeDiv(n, d float64) float64 {
	const eps = 1e-12
	if d > eps || d < -eps {
		return n / d
	}
	return 0
}
