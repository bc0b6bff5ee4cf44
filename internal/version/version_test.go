package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "0.9.9", 1},
		{"0.9.9", "1.0.0", -1},
		{"1.2.3", "1.2.4", -1},
		{"1.10.0", "1.9.0", 1},
		{"v1.0.0", "1.0.0", 0},
		{"1.0", "1.0.0", 0},
		{"1.0.0-rc.1", "1.0.0", 0},
		{"garbage", "0.0.0", 0},
		{"1.x.3", "1.0.3", 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Compare(c.a, c.b), "%s vs %s", c.a, c.b)
	}
}

func TestAtLeast(t *testing.T) {
	assert.True(t, AtLeast("0.1.0"))
	assert.True(t, AtLeast(Version))
	assert.False(t, AtLeast("99.0.0"))
}
