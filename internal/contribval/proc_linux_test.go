//go:build linux

package contribval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessRSSBytes(t *testing.T) {
	rss, ok := processRSSBytes()
	require.True(t, ok)
	assert.Greater(t, rss, uint64(0))
}
