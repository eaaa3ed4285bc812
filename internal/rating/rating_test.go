package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vcmarket/apiserver/types"
)

func TestAverage(t *testing.T) {
	assert.Equal(t, 0.0, Average(nil))
	assert.Equal(t, 0.0, Average(map[string]types.Rating{}))

	ratings := map[string]types.Rating{
		"a": {UserID: "a", Rating: 5},
		"b": {UserID: "b", Rating: 3},
	}
	assert.InDelta(t, 4.0, Average(ratings), 1e-9)

	ratings["c"] = types.Rating{UserID: "c", Rating: 1}
	assert.InDelta(t, 3.0, Average(ratings), 1e-9)

	// Re-rating replaces the entry rather than adding one.
	ratings["c"] = types.Rating{UserID: "c", Rating: 4}
	assert.Len(t, ratings, 3)
	assert.InDelta(t, 4.0, Average(ratings), 1e-9)
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(0))
	assert.True(t, Valid(1))
	assert.True(t, Valid(5))
	assert.False(t, Valid(6))
}
