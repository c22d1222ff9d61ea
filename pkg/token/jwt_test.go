package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken("alice", RoleAdmin)
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	tok, err := NewJWTManager("other", 1).GenerateToken("alice", "USER")
	require.NoError(t, err)

	_, err = NewJWTManager("secret", 1).VerifyToken(tok)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	tok, err := NewJWTManager("secret", -1).GenerateToken("alice", "USER")
	require.NoError(t, err)

	_, err = NewJWTManager("secret", 1).VerifyToken(tok)
	assert.Error(t, err)
}
