package base62_test

import (
	"math"
	"testing"

	"github.com/koopa0/system-design/short-link/pkg/base62"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name    string
		num     uint64
		encoded string
	}{
		{"zero", 0, "0"},
		{"last single char", 61, "z"},
		{"first two chars", 62, "10"},
		{"max uint64", math.MaxUint64, "LygHa16AHYF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.encoded, base62.Encode(tt.num))

			decoded, err := base62.Decode(tt.encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.num, decoded)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	_, err := base62.Decode("abc-123")
	assert.ErrorIs(t, err, base62.ErrInvalidCharacter)

	_, err = base62.Decode("zzzzzzzzzzzz")
	assert.ErrorIs(t, err, base62.ErrOverflow)
}

func TestIsValid(t *testing.T) {
	assert.True(t, base62.IsValid("aZ09"))
	assert.False(t, base62.IsValid(""))
	assert.False(t, base62.IsValid("ab/c"))
	assert.False(t, base62.IsValid("短碼"))
}

func TestFromHash(t *testing.T) {
	t.Run("fixed length", func(t *testing.T) {
		for _, h := range []uint64{0, 1, 61, 62, 1 << 40, math.MaxUint64} {
			code := base62.FromHash(h, 6)
			assert.Len(t, code, 6)
			assert.True(t, base62.IsValid(code))
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, base62.FromHash(987654321, 6), base62.FromHash(987654321, 6))
	})

	t.Run("non-positive length keeps full hash", func(t *testing.T) {
		assert.Equal(t, base62.Encode(123456789), base62.FromHash(123456789, 0))
	})
}
