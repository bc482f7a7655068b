package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgon2HashService_HashAndVerify(t *testing.T) {
	svc := NewArgon2HashService()

	hash, err := svc.Hash("operator-P@ss")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=1,p=4$"))

	match, err := svc.Verify("operator-P@ss", hash)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = svc.Verify("wrong-password", hash)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestArgon2HashService_UniqueSalts(t *testing.T) {
	svc := NewArgon2HashService()

	h1, err := svc.Hash("same-password")
	require.NoError(t, err)
	h2, err := svc.Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestArgon2HashService_VerifyUsesStoredParams(t *testing.T) {
	cheap := &Argon2HashService{params: argon2Params{memory: 8 * 1024, time: 2, threads: 1, keyLen: 16, saltLen: 8}}
	hash, err := cheap.Hash("pw")
	require.NoError(t, err)
	assert.Contains(t, hash, "m=8192,t=2,p=1")

	match, err := NewArgon2HashService().Verify("pw", hash)
	require.NoError(t, err)
	assert.True(t, match)
}

func TestArgon2HashService_VerifyInvalidFormat(t *testing.T) {
	svc := NewArgon2HashService()

	tests := map[string]string{
		"garbage":       "not-a-valid-hash",
		"bcrypt":        "$2a$10$abcdefghijklmnopqrstuv",
		"wrong version": "$argon2id$v=16$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"bad params":    "$argon2id$v=19$m=x,t=1,p=4$c2FsdA$aGFzaA",
		"bad salt":      "$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA",
		"empty hash":    "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$",
	}
	for name, encoded := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Verify("password", encoded)
			assert.Error(t, err)
		})
	}
}
