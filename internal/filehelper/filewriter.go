package filehelper

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	rserr "alexhalogen/rsraid/internal/errors"
)

// FileWriter is a buffered, truncating writer for a volume or output file.
type FileWriter struct {
	path string
	file *os.File
	w    *bufio.Writer
	raw  []byte
}

func CreateFileWriter(path string, bufSize int) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, rserr.NewFileError("create", path, err)
	}
	return &FileWriter{path: path, file: f, w: bufio.NewWriterSize(f, bufSize)}, nil
}

func (fw *FileWriter) Path() string { return fw.path }

func (fw *FileWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		return n, rserr.NewFileError("write", fw.path, err)
	}
	return n, nil
}

// WriteWords writes words as little-endian 16-bit values.
func (fw *FileWriter) WriteWords(words []uint16) error {
	need := len(words) * 2
	if cap(fw.raw) < need {
		fw.raw = make([]byte, need)
	}
	raw := fw.raw[:need]
	for i, w := range words {
		binary.LittleEndian.PutUint16(raw[2*i:], w)
	}
	_, err := fw.Write(raw)
	return err
}

// WriteZeros appends n zero bytes.
func (fw *FileWriter) WriteZeros(n int64) error {
	var zero [4096]byte
	for n > 0 {
		k := min(n, int64(len(zero)))
		if _, err := fw.Write(zero[:k]); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

func (fw *FileWriter) WriteTrailer(v uint64) error {
	return WriteTrailer(fw, v)
}

// Close flushes and syncs the file.
func (fw *FileWriter) Close() error {
	ferr := fw.w.Flush()
	if ferr == nil {
		ferr = fw.file.Sync()
	}
	cerr := fw.file.Close()
	if ferr != nil {
		return rserr.NewFileError("flush", fw.path, ferr)
	}
	if cerr != nil {
		return rserr.NewFileError("close", fw.path, cerr)
	}
	return nil
}

// Abort closes the file without flushing and removes it.
func (fw *FileWriter) Abort() {
	fw.file.Close()
	os.Remove(fw.path)
}

// WriteTrailer writes a 64-bit little-endian field.
func WriteTrailer(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}
