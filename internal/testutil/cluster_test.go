package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsonsync/internal/value"
)

func TestCluster_HelloWorld(t *testing.T) {
	c := NewCluster(t, 2, value.Object{})

	_, applied, err := c.R(0).Add("/hello", value.String("world"))
	require.NoError(t, err)
	require.True(t, applied)

	assert.Equal(t, 1, c.Flush(0, 1))
	got := c.RequireConverged(t)
	assert.Equal(t, value.Object{"hello": value.String("world")}, got)
}
