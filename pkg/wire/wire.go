// Package wire implements the big-endian primitive encoding used by the
// replication protocol and by the per-type payload codecs.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrTruncated is returned when a read would run past the end of the buffer
// or a declared length does not fit in the remaining bytes.
var ErrTruncated = errors.New("truncated buffer")

// ErrTooLong is recorded by a Writer when a length or count does not fit the
// 4-byte signed prefix.
var ErrTooLong = errors.New("length exceeds int32 prefix")

// maxLen is the largest length a 4-byte signed prefix can carry.
var maxLen = math.MaxInt32

// Writer appends encoded primitives to a growable buffer. The first
// length overflow is recorded and every later Put is a no-op; check Err
// after encoding.
type Writer struct {
	buf []byte
	err error
}

// NewWriter creates a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded buffer. The slice aliases the writer's storage.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Err returns the first encoding error, if any.
func (w *Writer) Err() error {
	return w.err
}

// putLen writes n as a 4-byte prefix, or records ErrTooLong.
func (w *Writer) putLen(n int) bool {
	if w.err != nil {
		return false
	}
	if n > maxLen {
		w.err = fmt.Errorf("length %d at offset %d: %w", n, len(w.buf), ErrTooLong)
		return false
	}
	w.PutInt32(int32(n))
	return true
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// PutInt32 writes a 4-byte big-endian integer.
func (w *Writer) PutInt32(v int32) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

// PutUint16 writes a 2-byte big-endian integer.
func (w *Writer) PutUint16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

// PutInt64 writes an 8-byte big-endian integer.
func (w *Writer) PutInt64(v int64) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

// PutBool writes a single byte, 1 for true and 0 for false.
func (w *Writer) PutBool(v bool) {
	if w.err != nil {
		return
	}
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

// PutBytes writes a 4-byte length followed by the raw bytes.
func (w *Writer) PutBytes(p []byte) {
	if w.putLen(len(p)) {
		w.buf = append(w.buf, p...)
	}
}

// PutString writes s as length-prefixed UTF-8 bytes.
func (w *Writer) PutString(s string) {
	if w.putLen(len(s)) {
		w.buf = append(w.buf, s...)
	}
}

// PutStringSlice writes a 4-byte count followed by each string.
func (w *Writer) PutStringSlice(ss []string) {
	if !w.putLen(len(ss)) {
		return
	}
	for _, s := range ss {
		w.PutString(s)
	}
}

// PutTime writes t as Unix nanoseconds. The zero time is written as 0.
func (w *Writer) PutTime(t time.Time) {
	if t.IsZero() {
		w.PutInt64(0)
		return
	}
	w.PutInt64(t.UnixNano())
}

// Reader decodes primitives from an immutable byte slice. The cursor is owned
// by the Reader; the underlying slice is never modified.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the current cursor offset.
func (r *Reader) Pos() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// SetPos moves the cursor to an absolute offset.
func (r *Reader) SetPos(offset int) error {
	if offset < 0 || offset > len(r.buf) {
		return fmt.Errorf("set position %d of %d: %w", offset, len(r.buf), ErrTruncated)
	}
	r.pos = offset
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, fmt.Errorf("need %d bytes at offset %d, have %d: %w", n, r.pos, r.Remaining(), ErrTruncated)
	}
	p := r.buf[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

// ReadInt32 reads a 4-byte big-endian integer.
func (r *Reader) ReadInt32() (int32, error) {
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(p)), nil
}

// ReadUint16 reads a 2-byte big-endian integer.
func (r *Reader) ReadUint16() (uint16, error) {
	p, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

// ReadInt64 reads an 8-byte big-endian integer.
func (r *Reader) ReadInt64() (int64, error) {
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

// ReadBool reads a single byte. Any non-zero value is true.
func (r *Reader) ReadBool() (bool, error) {
	p, err := r.take(1)
	if err != nil {
		return false, err
	}
	return p[0] != 0, nil
}

// ReadBytes reads a 4-byte length followed by that many bytes. The result is a
// copy and does not alias the reader's buffer.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	p, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

// ReadString reads a length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return "", err
	}
	p, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// ReadStringSlice reads a 4-byte count followed by that many strings. A zero count
// decodes to nil.
func (r *Reader) ReadStringSlice() ([]string, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	// Each string needs at least its 4-byte length.
	if n < 0 || int(n) > r.Remaining()/4 {
		return nil, fmt.Errorf("string slice count %d at offset %d: %w", n, r.pos, ErrTruncated)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ReadTime reads Unix nanoseconds written by Writer.PutTime. 0 decodes to the zero time.
func (r *Reader) ReadTime() (time.Time, error) {
	ns, err := r.ReadInt64()
	if err != nil {
		return time.Time{}, err
	}
	if ns == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, ns).UTC(), nil
}
