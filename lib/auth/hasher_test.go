package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	digest, err := h.Hash("secret")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", digest)

	assert.True(t, h.Verify(digest, "secret"))
	assert.False(t, h.Verify(digest, "Secret"))
	assert.False(t, h.Verify("not-a-digest", "secret"))

	// salted: same password, different digest
	other, err := h.Hash("secret")
	require.NoError(t, err)
	assert.NotEqual(t, digest, other)
}

func TestBcryptHasherCost(t *testing.T) {
	tests := []struct {
		name string
		cost int
		want int
	}{
		{"zero uses default", 0, bcrypt.DefaultCost},
		{"too high uses default", bcrypt.MaxCost + 1, bcrypt.DefaultCost},
		{"min cost kept", bcrypt.MinCost, bcrypt.MinCost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewBcryptHasher(tt.cost).Cost())
		})
	}
}
