package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderIdempotencyKey(t *testing.T) {
	a := OrderIdempotencyKey("u1", "pha_analysis", "", "save10", 0)
	b := OrderIdempotencyKey("u1", "pha_analysis", "", "SAVE10", 0)
	c := OrderIdempotencyKey("u2", "pha_analysis", "", "SAVE10", 0)
	d := OrderIdempotencyKey("u1", "pha_analysis", "", "save10", 1)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, len("order_")+32)
}

func TestGenerateRandomString(t *testing.T) {
	s, err := GenerateRandomString(16)
	require.NoError(t, err)
	assert.Len(t, s, 16)
}
