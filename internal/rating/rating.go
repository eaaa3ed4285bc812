package rating

import "github.com/vcmarket/apiserver/types"

// Min and Max bound a single rating value.
const (
	Min = 1
	Max = 5
)

// Average returns the unweighted mean of all rating values, or 0 when there
// are none. It is recomputed on every call.
func Average(ratings map[string]types.Rating) float64 {
	if len(ratings) == 0 {
		return 0
	}
	total := 0
	for _, r := range ratings {
		total += r.Rating
	}
	return float64(total) / float64(len(ratings))
}

// Valid reports whether v is an accepted rating value.
func Valid(v int) bool {
	return v >= Min && v <= Max
}
