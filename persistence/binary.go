// Package persistence provides the little-endian binary primitives and the
// plain-text config codec behind the on-disk database layout.
package persistence

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Writer writes little-endian binary streams.
type Writer struct {
	w *bufio.Writer
}

// NewWriter wraps w in a buffered little-endian writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteUint64 writes a single uint64.
func (w *Writer) WriteUint64(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.w.Write(buf[:])
	return err
}

// WriteUint32 writes a single uint32.
func (w *Writer) WriteUint32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.w.Write(buf[:])
	return err
}

// WriteFloat32Slice writes the raw float32 payload of vec.
func (w *Writer) WriteFloat32Slice(vec []float32) error {
	var buf [4]byte
	for _, f := range vec {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		if _, err := w.w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// WriteString writes a length-prefixed (uint64) string.
func (w *Writer) WriteString(s string) error {
	if err := w.WriteUint64(uint64(len(s))); err != nil {
		return err
	}
	_, err := w.w.WriteString(s)
	return err
}

// Write writes raw bytes.
func (w *Writer) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

// Flush flushes buffered output.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Reader reads little-endian binary streams.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r in a buffered little-endian reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadUint64 reads a single uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReadUint32 reads a single uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadFloat32Slice reads n float32 values.
func (r *Reader) ReadFloat32Slice(n int) ([]float32, error) {
	out := make([]float32, n)
	var buf [4]byte
	for i := range out {
		if _, err := io.ReadFull(r.r, buf[:]); err != nil {
			return nil, err
		}
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
	}
	return out, nil
}

// ReadString reads a length-prefixed (uint64) string.
// maxLen bounds the allocation; a larger prefix is treated as corruption.
func (r *Reader) ReadString(maxLen uint64) (string, error) {
	n, err := r.ReadUint64()
	if err != nil {
		return "", err
	}
	if n > maxLen {
		return "", fmt.Errorf("string length %d exceeds limit %d", n, maxLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadFull fills p from the stream.
func (r *Reader) ReadFull(p []byte) error {
	_, err := io.ReadFull(r.r, p)
	return err
}

// WriteFileAtomic writes data through fn to a temporary file and renames it
// into place, so readers never observe a half-written file.
func WriteFileAtomic(path string, fn func(w *Writer) error) error {
	tmp, err := os.CreateTemp(fileDir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	w := NewWriter(tmp)
	if err := fn(w); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadFile opens path and decodes it through fn.
func ReadFile(path string, fn func(r *Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(NewReader(f))
}

func fileDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if os.IsPathSeparator(path[i]) {
			return path[:i]
		}
	}
	return "."
}
