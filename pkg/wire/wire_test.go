package wire

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_BigEndianLayout(t *testing.T) {
	w := NewWriter(0)
	w.PutInt32(1)
	w.PutInt64(-2)
	w.PutBool(true)
	w.PutBool(false)

	assert.Equal(t, []byte{
		0x00, 0x00, 0x00, 0x01,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe,
		0x01,
		0x00,
	}, w.Bytes())
}

func TestWriter_StringIsLengthPrefixed(t *testing.T) {
	w := NewWriter(0)
	w.PutString("sdn")
	assert.Equal(t, []byte{0, 0, 0, 3, 's', 'd', 'n'}, w.Bytes())
}

func TestRoundTrip(t *testing.T) {
	when := time.Date(2025, 3, 14, 15, 9, 26, 535897932, time.UTC)

	w := NewWriter(64)
	w.PutInt32(math.MinInt32)
	w.PutInt32(math.MaxInt32)
	w.PutInt64(math.MinInt64)
	w.PutUint16(8080)
	w.PutBool(true)
	w.PutBytes([]byte{0xde, 0xad})
	w.PutBytes(nil)
	w.PutString("héllo")
	w.PutStringSlice([]string{"a", "", "c"})
	w.PutStringSlice(nil)
	w.PutTime(when)
	w.PutTime(time.Time{})

	r := NewReader(w.Bytes())

	i32, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(math.MinInt32), i32)

	i32, err = r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32), i32)

	i64, err := r.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), i64)

	u16, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), u16)

	b, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)

	raw, err := r.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, raw)

	raw, err = r.ReadBytes()
	require.NoError(t, err)
	assert.Empty(t, raw)

	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)

	ss, err := r.ReadStringSlice()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "", "c"}, ss)

	ss, err = r.ReadStringSlice()
	require.NoError(t, err)
	assert.Nil(t, ss)

	ts, err := r.ReadTime()
	require.NoError(t, err)
	assert.True(t, when.Equal(ts))

	ts, err = r.ReadTime()
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	assert.Equal(t, 0, r.Remaining())
}

func TestReader_NonZeroByteIsTrue(t *testing.T) {
	r := NewReader([]byte{0x7f})
	b, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)
}

func TestReader_Truncated(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		read func(r *Reader) error
	}{
		{"int32 short", []byte{0, 0, 1}, func(r *Reader) error { _, err := r.ReadInt32(); return err }},
		{"int64 short", []byte{0, 0, 0, 0, 0, 0, 1}, func(r *Reader) error { _, err := r.ReadInt64(); return err }},
		{"uint16 short", []byte{1}, func(r *Reader) error { _, err := r.ReadUint16(); return err }},
		{"bool empty", nil, func(r *Reader) error { _, err := r.ReadBool(); return err }},
		{"bytes declared too long", []byte{0, 0, 0, 9, 1, 2}, func(r *Reader) error { _, err := r.ReadBytes(); return err }},
		{"bytes negative length", []byte{0xff, 0xff, 0xff, 0xff}, func(r *Reader) error { _, err := r.ReadBytes(); return err }},
		{"string declared too long", []byte{0x7f, 0xff, 0xff, 0xff, 'x'}, func(r *Reader) error { _, err := r.ReadString(); return err }},
		{"slice count too large", []byte{0, 0, 0, 200, 0, 0, 0, 0}, func(r *Reader) error { _, err := r.ReadStringSlice(); return err }},
		{"slice element cut", []byte{0, 0, 0, 1, 0, 0, 0, 5, 'a'}, func(r *Reader) error { _, err := r.ReadStringSlice(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.buf)
			err := tt.read(r)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTruncated), "expected ErrTruncated, got %v", err)
		})
	}
}

func TestReader_FailedReadDoesNotAdvance(t *testing.T) {
	r := NewReader([]byte{0, 0, 0, 10, 'a'})
	_, err := r.ReadInt32()
	require.NoError(t, err)
	pos := r.Pos()

	_, err = r.ReadInt64()
	require.ErrorIs(t, err, ErrTruncated)
	assert.Equal(t, pos, r.Pos())
}

func TestReader_SetPos(t *testing.T) {
	buf := []byte{0, 0, 0, 1, 0, 0, 0, 2}
	r := NewReader(buf)

	require.NoError(t, r.SetPos(4))
	v, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)

	require.NoError(t, r.SetPos(0))
	v, err = r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	assert.ErrorIs(t, r.SetPos(9), ErrTruncated)
	assert.ErrorIs(t, r.SetPos(-1), ErrTruncated)
}

func TestReader_BytesDoNotAlias(t *testing.T) {
	w := NewWriter(0)
	w.PutBytes([]byte{1, 2, 3})
	buf := w.Bytes()

	out, err := NewReader(buf).ReadBytes()
	require.NoError(t, err)
	out[0] = 9

	assert.Equal(t, byte(1), buf[4])
}

func TestWriter_LengthOverflowIsRecorded(t *testing.T) {
	prev := maxLen
	maxLen = 4
	defer func() { maxLen = prev }()

	w := NewWriter(0)
	w.PutString("abcd")
	require.NoError(t, w.Err())
	written := w.Len()

	w.PutString("abcde")
	require.ErrorIs(t, w.Err(), ErrTooLong)
	assert.Equal(t, written, w.Len(), "no prefix or body is written for the oversized value")

	// Later writes are ignored and the first error is kept.
	w.PutInt32(7)
	w.PutBytes([]byte{1})
	assert.Equal(t, written, w.Len())
	assert.ErrorIs(t, w.Err(), ErrTooLong)

	w = NewWriter(0)
	w.PutStringSlice([]string{"a", "b", "c", "d", "e"})
	assert.ErrorIs(t, w.Err(), ErrTooLong)
	assert.Zero(t, w.Len())
}
