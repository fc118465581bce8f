package idx_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/pkg/idx"
)

func TestNew(t *testing.T) {
	id := idx.New()

	require.False(t, id.IsZero())
	require.Len(t, id.String(), 26)
}

func TestNewIsMonotonic(t *testing.T) {
	prev := idx.New()
	for i := 0; i < 100; i++ {
		next := idx.New()
		require.Greater(t, next.String(), prev.String())
		prev = next
	}
}
