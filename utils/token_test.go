package utils

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToken(t *testing.T) {
	t.Run("test MakeLockToken", testMakeLockToken)
}

func testMakeLockToken(t *testing.T) {
	seen := map[string]bool{}

	for i := 0; i < 1000; i++ {
		token, err := MakeLockToken()
		assert.NoError(t, err)

		// 128 bits as hex
		assert.Len(t, token, 32)
		_, err = hex.DecodeString(token)
		assert.NoError(t, err)

		assert.False(t, seen[token])
		seen[token] = true
	}
}
