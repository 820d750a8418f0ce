// Package errors provides the typed errors shared by every stage.
// Callers use errors.Is / errors.As to tell configuration, matrix, file and
// crypto failures apart. A cancelled stage reports ErrCancelled.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrCancelled     = errors.New("operation cancelled")
	ErrBusy          = errors.New("another operation is in progress")
	ErrNotConfigured = errors.New("coder is not configured")

	ErrSingular      = errors.New("coding matrix is not invertible")
	ErrTooFewVolumes = errors.New("not enough intact volumes to reconstruct data")
	ErrSizeMismatch  = errors.New("volume sizes differ")
	ErrBadTrailer    = errors.New("volume trailer is invalid")

	ErrDecrypt = errors.New("block decryption failed")
)

// ConfigError is returned synchronously for invalid coding parameters,
// volume-count ceilings and over-long file names.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Message)
}

func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// MatrixError reports a failed matrix construction or inversion.
type MatrixError struct {
	Op  string // "dispersal", "invert", ...
	Row int
	Err error
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix %s at row %d: %v", e.Op, e.Row, e.Err)
}

func (e *MatrixError) Unwrap() error {
	return e.Err
}

func NewMatrixError(op string, row int, err error) *MatrixError {
	return &MatrixError{Op: op, Row: row, Err: err}
}

// FileError represents an error during volume or source file I/O.
type FileError struct {
	Op   string // "open", "read", "write", "stat", "create", "truncate"
	Path string
	Err  error
}

func (e *FileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s failed", e.Op, e.Path)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

func NewFileError(op, path string, err error) *FileError {
	return &FileError{Op: op, Path: path, Err: err}
}

// CryptoError wraps a failure of the block cipher layer.
type CryptoError struct {
	Op  string // "encrypt", "decrypt", "key"
	Err error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("crypto %s failed", e.Op)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsCancelled checks if the error indicates a cancelled operation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsConfig checks if the error was raised by parameter validation.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
