package replication

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// FrameHeaderSize is the size of the length prefix in front of every envelope.
	FrameHeaderSize = 4

	// MaxFrameSize bounds a single envelope on the stream.
	MaxFrameSize = 16 << 20
)

// CheckFrameSize returns ErrFrameTooLarge if payload does not fit in a frame
// of at most maxSize bytes. A non-positive maxSize means MaxFrameSize.
func CheckFrameSize(payload []byte, maxSize int) error {
	if maxSize <= 0 || maxSize > MaxFrameSize {
		maxSize = MaxFrameSize
	}
	if len(payload) > maxSize {
		return fmt.Errorf("frame of %d bytes exceeds %d: %w", len(payload), maxSize, ErrFrameTooLarge)
	}
	return nil
}

// WriteFrame writes a length-prefixed frame in a single Write call. Nothing
// is written when the payload exceeds maxSize.
func WriteFrame(w io.Writer, payload []byte, maxSize int) error {
	if err := CheckFrameSize(payload, maxSize); err != nil {
		return err
	}

	buf := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:FrameHeaderSize], uint32(len(payload)))
	copy(buf[FrameHeaderSize:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame. A partial frame returns
// io.ErrUnexpectedEOF; the stream cannot be resynchronized after that.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxFrameSize
	}

	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	frameLen := binary.BigEndian.Uint32(header[:])
	if int64(frameLen) > int64(maxSize) {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d: %w", frameLen, maxSize, ErrFrameTooLarge)
	}

	buf := make([]byte, frameLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return buf, nil
}
