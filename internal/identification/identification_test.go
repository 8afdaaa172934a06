package identification

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackSessionIDStableWithinWindow(t *testing.T) {
	g := New("secret", 5)

	a := g.FallbackSessionID("203.0.113.1", "agent")
	b := g.FallbackSessionID("203.0.113.1", "agent")
	assert.Equal(t, a, b, "same client in the same window maps to one session")

	other := g.FallbackSessionID("203.0.113.2", "agent")
	assert.NotEqual(t, a, other)
}

func TestFallbackSessionIDDependsOnSecret(t *testing.T) {
	a := New("secret-a", 5).FallbackSessionID("203.0.113.1", "agent")
	b := New("secret-b", 5).FallbackSessionID("203.0.113.1", "agent")
	assert.NotEqual(t, a, b)
}

func TestFallbackUserIDMasksSubnet(t *testing.T) {
	g := New("secret", 5)

	a := g.FallbackUserID("203.0.113.1", "agent")
	b := g.FallbackUserID("203.0.113.200", "agent")
	assert.Equal(t, a, b, "hosts in the same /24 share a fallback user id")

	c := g.FallbackUserID("203.0.114.1", "agent")
	assert.NotEqual(t, a, c)
}

func TestValidateClientID(t *testing.T) {
	assert.True(t, ValidateClientID("3b9f8a6c-0a1e-4d2f-9b7c-1f2e3d4c5b6a"))
	assert.True(t, ValidateClientID("abcdef1234567890"))
	// Identifiers are opaque, so short ones pass too
	assert.True(t, ValidateClientID("s1"))
	assert.True(t, ValidateClientID("u1"))

	assert.False(t, ValidateClientID(""))
	assert.False(t, ValidateClientID("has spaces in it"))
	assert.False(t, ValidateClientID("contains\ttabs\tid"))
	assert.False(t, ValidateClientID(strings.Repeat("a", 65)))
}
