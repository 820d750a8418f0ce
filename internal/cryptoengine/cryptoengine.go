// Package cryptoengine encrypts volume payloads chunk by chunk with a key
// derived from a password.
//
// Every chunk of at most BlockSize bytes is stored as
//
//	AES-256-CBC(PKCS#7(plain)) || tag
//
// where tag is a 16 byte keyed BLAKE2b over the chunk index and the
// ciphertext. A full chunk therefore grows by exactly Overhead bytes.
//
// The volume format sizes chunks for a 256-bit cipher block and a 256-bit
// IV, but AES has a 128-bit block and no vetted 256-bit block cipher ships
// with Go or x/crypto. The format keeps its 32 byte growth per chunk: 16
// bytes of PKCS#7 padding plus the 16 byte tag. The IV is the first half of
// SHA-256(key) with the chunk index folded into its last 8 bytes, so no two
// chunks share an IV. The tag turns a wrong password or a flipped bit into
// ErrDecrypt instead of silently wrong plaintext.
package cryptoengine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	rserr "alexhalogen/rsraid/internal/errors"
)

const (
	// Overhead is the on-disk growth of a full chunk.
	Overhead = 32
	tagSize  = 16
	// BlockAlign is the granularity a chunk size must respect.
	BlockAlign = 32
)

var hkdfInfo = []byte("rsraid volume tag")

type Engine struct {
	blockSize int
	block     cipher.Block
	iv        [aes.BlockSize]byte
	macKey    [32]byte
}

// New derives the cipher key as SHA-256(password) and the IV as the first
// half of SHA-256(key).
func New(password string, blockSize int) (*Engine, error) {
	if blockSize <= 0 || blockSize%BlockAlign != 0 {
		return nil, rserr.NewConfigError("cbcBlockSize", "must be a positive multiple of %d, got %d", BlockAlign, blockSize)
	}
	if password == "" {
		return nil, rserr.NewConfigError("password", "empty password")
	}
	key := sha256.Sum256([]byte(password))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, rserr.NewCryptoError("key", err)
	}
	e := &Engine{blockSize: blockSize, block: block}
	ivSrc := sha256.Sum256(key[:])
	copy(e.iv[:], ivSrc[:aes.BlockSize])

	kdf := hkdf.New(sha3.New256, key[:], ivSrc[:], hkdfInfo)
	if _, err := io.ReadFull(kdf, e.macKey[:]); err != nil {
		return nil, rserr.NewCryptoError("key", err)
	}
	return e, nil
}

func (e *Engine) BlockSize() int { return e.blockSize }

// EncryptedLen is the stored size of r plain bytes cut into chunks.
func (e *Engine) EncryptedLen(r int64) int64 {
	bs := int64(e.blockSize)
	n := (r / bs) * (bs + Overhead)
	if rem := r % bs; rem > 0 {
		n += rem - rem%aes.BlockSize + Overhead
	}
	return n
}

// chunkLen is the stored size of a chunk of r plain bytes.
func chunkLen(r int) int {
	return r - r%aes.BlockSize + Overhead
}

// StoredLen is the stored size of a chunk holding plainLen bytes.
func (e *Engine) StoredLen(plainLen int) int {
	return chunkLen(plainLen)
}

func (e *Engine) chunkIV(index uint64) []byte {
	iv := e.iv
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], index)
	subtle.XORBytes(iv[aes.BlockSize-8:], iv[aes.BlockSize-8:], ctr[:])
	return iv[:]
}

func (e *Engine) tag(index uint64, ct []byte) []byte {
	mac, err := blake2b.New(tagSize, e.macKey[:])
	if err != nil {
		panic(err) // key and size are constant and valid
	}
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)
	mac.Write(idx[:])
	mac.Write(ct)
	return mac.Sum(nil)
}

// Encrypt seals chunk index. plain must not exceed BlockSize bytes.
func (e *Engine) Encrypt(index uint64, plain []byte) ([]byte, error) {
	if len(plain) > e.blockSize {
		return nil, rserr.NewCryptoError("encrypt", errors.New("chunk larger than block size"))
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	out := make([]byte, len(plain)+pad, len(plain)+pad+tagSize)
	copy(out, plain)
	for i := len(plain); i < len(out); i++ {
		out[i] = byte(pad)
	}
	cipher.NewCBCEncrypter(e.block, e.chunkIV(index)).CryptBlocks(out, out)
	return append(out, e.tag(index, out)...), nil
}

// Decrypt verifies and opens chunk index. Any tampering, a wrong password or
// a wrong index yields ErrDecrypt.
func (e *Engine) Decrypt(index uint64, sealed []byte) ([]byte, error) {
	fail := rserr.NewCryptoError("decrypt", rserr.ErrDecrypt)
	if len(sealed) < Overhead || (len(sealed)-tagSize)%aes.BlockSize != 0 || len(sealed) > e.blockSize+Overhead {
		return nil, fail
	}
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	if subtle.ConstantTimeCompare(tag, e.tag(index, ct)) != 1 {
		return nil, fail
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(e.block, e.chunkIV(index)).CryptBlocks(plain, ct)

	pad := int(plain[len(plain)-1])
	if pad == 0 || pad > aes.BlockSize {
		return nil, fail
	}
	for _, b := range plain[len(plain)-pad:] {
		if int(b) != pad {
			return nil, fail
		}
	}
	return plain[:len(plain)-pad], nil
}
