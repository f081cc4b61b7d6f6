// Package quantize maps exact nearby-device counts onto coarse buckets.
// Every count that leaves the device goes through Approximate first.
package quantize

type bucket struct {
	upper int // inclusive upper bound of the raw range
	step  int
}

var buckets = []bucket{
	{upper: 50, step: 10},
	{upper: 200, step: 25},
	{upper: 500, step: 50},
}

const largeStep = 100

// Approximate returns the bucketed value for a raw count.
//
//	0        -> 0
//	1..10    -> 10
//	11..50   -> nearest 10
//	51..200  -> nearest 25
//	201..500 -> nearest 50
//	>500     -> nearest 100
//
// Halves round up. Negative counts are not valid input and map to 0.
func Approximate(raw int) int {
	if raw <= 0 {
		return 0
	}
	if raw <= 10 {
		return 10
	}
	for _, b := range buckets {
		if raw <= b.upper {
			return roundHalfUp(raw, b.step)
		}
	}
	return roundHalfUp(raw, largeStep)
}

// Granularity returns the step of the bucket raw falls into.
func Granularity(raw int) int {
	switch {
	case raw <= 0:
		return 1
	case raw <= 10:
		return 10
	}
	for _, b := range buckets {
		if raw <= b.upper {
			return b.step
		}
	}
	return largeStep
}

func roundHalfUp(n, step int) int {
	return (2*n + step) / (2 * step) * step
}
