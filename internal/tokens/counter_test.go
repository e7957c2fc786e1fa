package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Singleton(t *testing.T) {
	c1, err := Default()
	require.NoError(t, err)
	c2, err := Default()
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestCounter_Count(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Zero(t, c.Count(""))

	short := c.Count("Paris is 18 degrees and cloudy.")
	assert.Greater(t, short, 3)
	assert.Less(t, short, 20)

	long := c.Count("Paris is 18 degrees and cloudy. Tomorrow brings light rain in the afternoon.")
	assert.Greater(t, long, short)
}

func TestCounter_NilIsZero(t *testing.T) {
	var c *Counter
	assert.Zero(t, c.Count("anything"))
}
