package ratex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllow_ExhaustsBurst(t *testing.T) {
	l := New(Config{Attempts: 3, Window: time.Hour, Burst: 3})

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("alice@example.com"), "attempt %d should be allowed", i+1)
	}
	require.False(t, l.Allow("alice@example.com"), "burst exhausted")
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := New(Config{Attempts: 1, Window: time.Hour, Burst: 1})

	require.True(t, l.Allow("alice@example.com"))
	require.False(t, l.Allow("alice@example.com"))

	require.True(t, l.Allow("bob@example.com"), "other keys keep their own bucket")
}

func TestAllow_EmptyKeyAlwaysAllowed(t *testing.T) {
	l := New(Config{Attempts: 1, Window: time.Hour, Burst: 1})

	for i := 0; i < 10; i++ {
		require.True(t, l.Allow(""))
	}
}

func TestNew_DefaultsOnZeroConfig(t *testing.T) {
	l := New(Config{})

	for i := 0; i < DefaultLoginLimit.Burst; i++ {
		require.True(t, l.Allow("key"), "attempt %d within default burst", i+1)
	}
	require.False(t, l.Allow("key"))
}
