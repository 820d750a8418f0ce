package filehelper

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"

	rserr "alexhalogen/rsraid/internal/errors"
)

// ChunkedReader fills fixed-size chunks from a stream. The unread tail of the
// last chunk is zeroed.
type ChunkedReader struct {
	r io.Reader
}

func NewChunkedReader(r io.Reader) ChunkedReader {
	return ChunkedReader{r: r}
}

// ReadNext fills buffer chunk by chunk. chunksRead counts chunks holding at
// least one byte and lastSize is the number of bytes in the last of them.
// eof is set once the stream is exhausted.
func (cr ChunkedReader) ReadNext(buffer [][]byte) (chunksRead, lastSize int, eof bool, err error) {
	for i := range buffer {
		n, rerr := io.ReadFull(cr.r, buffer[i])
		if n > 0 {
			chunksRead = i + 1
			lastSize = n
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
				if n > 0 {
					Memset(buffer[i], 0, len(buffer[i])-n, n)
				}
				return chunksRead, lastSize, true, nil
			}
			return chunksRead, lastSize, false, rerr
		}
	}
	return chunksRead, lastSize, false, nil
}

// WordReader reads little-endian 16-bit words through a buffered stream.
type WordReader struct {
	path string
	file *os.File
	r    *bufio.Reader
	raw  []byte
}

func OpenWordReader(path string, bufSize int) (*WordReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rserr.NewFileError("open", path, err)
	}
	return &WordReader{path: path, file: f, r: bufio.NewReaderSize(f, bufSize)}, nil
}

func (wr *WordReader) Path() string { return wr.path }

// ReadWords fills dst completely; a short volume is an error.
func (wr *WordReader) ReadWords(dst []uint16) error {
	need := len(dst) * 2
	if cap(wr.raw) < need {
		wr.raw = make([]byte, need)
	}
	raw := wr.raw[:need]
	if _, err := io.ReadFull(wr.r, raw); err != nil {
		return rserr.NewFileError("read", wr.path, err)
	}
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return nil
}

func (wr *WordReader) Close() error {
	if err := wr.file.Close(); err != nil {
		return rserr.NewFileError("close", wr.path, err)
	}
	return nil
}

// ReadTrailer reads the 64-bit little-endian field stored at off.
func ReadTrailer(f io.ReaderAt, off int64) (uint64, error) {
	var b [8]byte
	if _, err := f.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
