package cryptoengine

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rserr "alexhalogen/rsraid/internal/errors"
)

func randBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestRoundTrip(t *testing.T) {
	e, err := New("correct horse", 64)
	require.NoError(t, err)

	for _, n := range []int{0, 1, 15, 16, 17, 31, 32, 33, 63, 64} {
		t.Run(fmt.Sprintf("len=%d", n), func(t *testing.T) {
			plain := randBytes(n, int64(n))
			sealed, err := e.Encrypt(3, plain)
			require.NoError(t, err)
			assert.Len(t, sealed, e.StoredLen(n))

			got, err := e.Decrypt(3, sealed)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(plain, got))
		})
	}
}

func TestFullBlockOverhead(t *testing.T) {
	e, err := New("pw", 96)
	require.NoError(t, err)
	sealed, err := e.Encrypt(0, make([]byte, 96))
	require.NoError(t, err)
	assert.Len(t, sealed, 96+Overhead)
}

func TestEncryptedLen(t *testing.T) {
	e, err := New("pw", 64)
	require.NoError(t, err)
	tests := []struct{ in, want int64 }{
		{0, 0},
		{1, 32},
		{16, 48},
		{64, 96},
		{65, 96 + 32},
		{64*3 + 40, 3*96 + 32 + 32},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.EncryptedLen(tt.in), "len %d", tt.in)
	}
}

func TestDecryptRejects(t *testing.T) {
	e, err := New("pw", 64)
	require.NoError(t, err)
	plain := randBytes(50, 1)
	sealed, err := e.Encrypt(7, plain)
	require.NoError(t, err)

	other, err := New("wrong", 64)
	require.NoError(t, err)

	flipped := bytes.Clone(sealed)
	flipped[5] ^= 0x40

	tests := []struct {
		name   string
		engine *Engine
		index  uint64
		data   []byte
	}{
		{"corrupted block", e, 7, flipped},
		{"wrong password", other, 7, sealed},
		{"wrong index", e, 8, sealed},
		{"truncated", e, 7, sealed[:len(sealed)-1]},
		{"too short", e, 7, sealed[:16]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.engine.Decrypt(tt.index, tt.data)
			assert.ErrorIs(t, err, rserr.ErrDecrypt)
		})
	}
}

func TestChunksDiffer(t *testing.T) {
	e, err := New("pw", 32)
	require.NoError(t, err)
	plain := make([]byte, 32)
	a, err := e.Encrypt(0, plain)
	require.NoError(t, err)
	b, err := e.Encrypt(1, plain)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNewRejects(t *testing.T) {
	for _, bs := range []int{0, 16, 48, -32} {
		_, err := New("pw", bs)
		assert.True(t, rserr.IsConfig(err), "block size %d", bs)
	}
	_, err := New("", 32)
	assert.True(t, rserr.IsConfig(err))

	e, err := New("pw", 32)
	require.NoError(t, err)
	_, err = e.Encrypt(0, make([]byte, 33))
	var ce *rserr.CryptoError
	assert.ErrorAs(t, err, &ce)
}
