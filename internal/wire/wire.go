package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrTruncated is returned when a stream ends before a declared field,
// length prefix, or payload has been fully read. A truncated stream never
// yields a partial object.
var ErrTruncated = errors.New("wire: truncated stream")

// maxLen bounds any single length prefix. Guards against a corrupt prefix
// causing a huge allocation before the read fails anyway.
const maxLen = 1 << 30

// Writer encodes values into the compact binary stream form.
// Fields are order-dependent: readers must consume them in the exact
// order they were written. Integers use unsigned varint encoding,
// byte sequences and strings are length-prefixed.
type Writer struct {
	buf bytes.Buffer
	tmp [binary.MaxVarintLen64]byte
}

// NewWriter creates an empty stream writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the encoded stream so far.
// The returned slice is owned by the writer until the writer is discarded.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// WriteUvarint appends an unsigned varint.
func (w *Writer) WriteUvarint(v uint64) {
	n := binary.PutUvarint(w.tmp[:], v)
	w.buf.Write(w.tmp[:n])
}

// WriteInt appends a non-negative int as an unsigned varint.
func (w *Writer) WriteInt(v int) {
	w.WriteUvarint(uint64(v))
}

// WriteBool appends a single presence/flag byte.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

// WriteBytes appends a length-prefixed byte sequence. A nil slice is
// encoded identically to an empty one.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteUvarint(uint64(len(b)))
	w.buf.Write(b)
}

// WriteString appends a length-prefixed string.
func (w *Writer) WriteString(s string) {
	w.WriteUvarint(uint64(len(s)))
	w.buf.WriteString(s)
}

// WriteOptionalString appends a presence flag followed by the string when
// present. Absence is a flag, never a sentinel value.
func (w *Writer) WriteOptionalString(s string, present bool) {
	w.WriteBool(present)
	if present {
		w.WriteString(s)
	}
}

// WriteStringSlice appends a count followed by each string in order.
func (w *Writer) WriteStringSlice(ss []string) {
	w.WriteUvarint(uint64(len(ss)))
	for _, s := range ss {
		w.WriteString(s)
	}
}

// Reader decodes the binary stream form produced by Writer.
// Reads must occur in exactly the order the fields were written; any
// shortfall surfaces as an error wrapping ErrTruncated.
type Reader struct {
	buf *bytes.Reader
}

// NewReader creates a reader over an encoded stream.
func NewReader(data []byte) *Reader {
	return &Reader{buf: bytes.NewReader(data)}
}

// Remaining reports how many undecoded bytes are left.
func (r *Reader) Remaining() int {
	return r.buf.Len()
}

// ReadUvarint consumes an unsigned varint.
func (r *Reader) ReadUvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r.buf)
	if err != nil {
		return 0, fmt.Errorf("%w: reading varint: %v", ErrTruncated, err)
	}
	return v, nil
}

// ReadInt consumes a varint and returns it as an int.
func (r *Reader) ReadInt() (int, error) {
	v, err := r.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("wire: varint %d overflows int field", v)
	}
	return int(v), nil
}

// ReadBool consumes a single flag byte.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.buf.ReadByte()
	if err != nil {
		return false, fmt.Errorf("%w: reading flag byte", ErrTruncated)
	}
	return b != 0, nil
}

// ReadBytes consumes a length-prefixed byte sequence and returns a copy
// owned by the caller.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, fmt.Errorf("wire: length prefix %d exceeds limit", n)
	}
	if uint64(r.buf.Len()) < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, r.buf.Len())
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r.buf, out); err != nil {
		return nil, fmt.Errorf("%w: reading %d bytes", ErrTruncated, n)
	}
	return out, nil
}

// ReadString consumes a length-prefixed string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadOptionalString consumes a presence flag and, when set, the string.
func (r *Reader) ReadOptionalString() (s string, present bool, err error) {
	present, err = r.ReadBool()
	if err != nil || !present {
		return "", present, err
	}
	s, err = r.ReadString()
	return s, true, err
}

// ReadStringSlice consumes a count followed by that many strings.
// A zero count yields a nil slice.
func (r *Reader) ReadStringSlice() ([]string, error) {
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n > maxLen {
		return nil, fmt.Errorf("wire: slice count %d exceeds limit", n)
	}
	// Every encoded string costs at least its one-byte length prefix, so a
	// count beyond the remaining bytes is a corrupt prefix. Checked before
	// the allocation below so a tiny malformed stream cannot demand one.
	if n > r.buf.Len() {
		return nil, fmt.Errorf("%w: slice count %d exceeds %d remaining bytes", ErrTruncated, n, r.buf.Len())
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
