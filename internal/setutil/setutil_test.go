package setutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrdered(t *testing.T) {
	var set Ordered[string]
	assert.True(t, set.Add("b"))
	assert.True(t, set.Add("a"))
	assert.False(t, set.Add("b"))
	assert.Equal(t, []string{"b", "a"}, set.Values())

	values := set.Values()
	values[0] = "z"
	assert.Equal(t, []string{"b", "a"}, set.Values(), "Values returns a copy")
}

func TestOrdered_ZeroValues(t *testing.T) {
	var set Ordered[int]
	assert.NotNil(t, set.Values())
	assert.Empty(t, set.Values())
}

func TestDedupeFold(t *testing.T) {
	assert.Equal(t,
		[]string{"https://a.example", "https://b.example"},
		DedupeFold([]string{" https://a.example", "HTTPS://A.EXAMPLE", "", "https://b.example"}),
	)
}
