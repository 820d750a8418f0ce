package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsUnwrap(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"file", NewFileError("read", "/tmp/x", io.ErrUnexpectedEOF), io.ErrUnexpectedEOF},
		{"crypto", NewCryptoError("decrypt", ErrDecrypt), ErrDecrypt},
		{"matrix", NewMatrixError("invert", 3, ErrSingular), ErrSingular},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("stage: %w", tt.err)
			assert.True(t, Is(wrapped, tt.want))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestConfigError(t *testing.T) {
	err := fmt.Errorf("start: %w", NewConfigError("eccCount", "must be positive, got %d", 0))
	require.True(t, IsConfig(err))
	var ce *ConfigError
	require.True(t, As(err, &ce))
	assert.Equal(t, "eccCount", ce.Field)
	assert.Contains(t, err.Error(), "must be positive, got 0")
	assert.False(t, IsConfig(errors.New("plain")))
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(fmt.Errorf("encode: %w", ErrCancelled)))
	assert.False(t, IsCancelled(ErrBusy))
	assert.False(t, IsCancelled(nil))
}
