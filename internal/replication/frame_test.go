package replication

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	var stream bytes.Buffer

	require.NoError(t, WriteFrame(&stream, []byte("first"), 0))
	require.NoError(t, WriteFrame(&stream, nil, 0))
	require.NoError(t, WriteFrame(&stream, bytes.Repeat([]byte{0xab}, 300), 0))

	assert.Equal(t, []byte{0, 0, 0, 5}, stream.Bytes()[:4])

	f, err := ReadFrame(&stream, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), f)

	f, err = ReadFrame(&stream, 0)
	require.NoError(t, err)
	assert.Empty(t, f)

	// Larger than a single length byte could describe.
	f, err = ReadFrame(&stream, 0)
	require.NoError(t, err)
	assert.Len(t, f, 300)

	_, err = ReadFrame(&stream, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_PartialBody(t *testing.T) {
	stream := bytes.NewReader([]byte{0, 0, 0, 10, 1, 2, 3})
	_, err := ReadFrame(stream, 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrame_PartialHeader(t *testing.T) {
	stream := bytes.NewReader([]byte{0, 0})
	_, err := ReadFrame(stream, 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrame_TooLarge(t *testing.T) {
	stream := bytes.NewReader([]byte{0, 0, 1, 0})
	_, err := ReadFrame(stream, 128)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteFrame_TooLarge(t *testing.T) {
	err := WriteFrame(io.Discard, make([]byte, MaxFrameSize+1), 0)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteFrame_ConfiguredLimit(t *testing.T) {
	var stream bytes.Buffer

	err := WriteFrame(&stream, make([]byte, 2048), 1024)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, stream.Len(), "nothing may reach the stream")

	require.NoError(t, WriteFrame(&stream, make([]byte, 1024), 1024))
	f, err := ReadFrame(&stream, 1024)
	require.NoError(t, err)
	assert.Len(t, f, 1024)
}

func TestCheckFrameSize(t *testing.T) {
	assert.NoError(t, CheckFrameSize(make([]byte, 10), 10))
	assert.ErrorIs(t, CheckFrameSize(make([]byte, 11), 10), ErrFrameTooLarge)
	assert.NoError(t, CheckFrameSize(make([]byte, 1<<20), 0))
	assert.ErrorIs(t, CheckFrameSize(make([]byte, MaxFrameSize+1), 0), ErrFrameTooLarge)
}
