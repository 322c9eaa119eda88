package peers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		h := NewHasher("peers_bot")
		for _, id := range []int64{0, 1, 42, -1001234567890, 9_007_199_254_740_993} {
			assert.Equal(t, h.Hash(id), h.Hash(id))
			assert.Equal(t, h.Hash(id), NewHasher("peers_bot").Hash(id))
		}
	})

	t.Run("fixed length hex", func(t *testing.T) {
		h := NewHasher("peers_bot")
		for _, id := range []int64{1, 100, -100} {
			hash := h.Hash(id)
			assert.Len(t, hash, HashLen)
			assert.True(t, HashRx.MatchString(hash))
			assert.Equal(t, strings.ToLower(hash), hash)
		}
	})

	t.Run("known value", func(t *testing.T) {
		// md5("42bot")
		assert.Equal(t, "3a9c8282ad3b60633583134ce8fa73ab", NewHasher("bot").Hash(42))
	})

	t.Run("depends on username", func(t *testing.T) {
		assert.NotEqual(t, NewHasher("first_bot").Hash(42), NewHasher("second_bot").Hash(42))
	})

	t.Run("different ids", func(t *testing.T) {
		h := NewHasher("peers_bot")
		assert.NotEqual(t, h.Hash(42), h.Hash(43))
		assert.NotEqual(t, h.Hash(100), h.Hash(-100))
	})
}

func TestFindHash(t *testing.T) {
	hash := NewHasher("peers_bot").Hash(42)

	tests := []struct {
		name  string
		input string
		want  string
		found bool
	}{
		{"exact", hash, hash, true},
		{"with text around", "who is " + hash + " ?", hash, true},
		{"upper case", strings.ToUpper(hash), strings.ToUpper(hash), true},
		{"too short", hash[:31], "", false},
		{"username", "@durov", "", false},
		{"numeric id", "123456789", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindHash(tt.input)
			require.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
