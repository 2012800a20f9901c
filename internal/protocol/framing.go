package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"distdetect/internal/model"
)

const (
	// LengthPrefixSize is the size of the big-endian frame length header.
	LengthPrefixSize = 8
	// ClassIDSize is the size of the big-endian class id sent by static workers.
	ClassIDSize = 4
	// MaxFrameSize caps the declared length of a single frame or raw reply.
	MaxFrameSize = 256 << 20
	// maxRawMessage bounds the single read used for probes and availability replies.
	maxRawMessage = 1024
	// initialPayloadBuffer is the most ReadFramed reserves before payload bytes arrive.
	initialPayloadBuffer = 64 << 10
)

// WriteFramed writes the length prefix and payload with a single Write call so
// that concurrent writers can never interleave a header with another payload.
func WriteFramed(w io.Writer, payload []byte) error {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint64(buf, uint64(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFramed reads one length-prefixed frame. A stream that closes before the
// full header or payload arrives yields ErrTruncatedStream; one that closes
// before any header byte also matches ErrNoFrame. Memory grows with the bytes
// received, not with the declared length.
func ReadFramed(r io.Reader) ([]byte, error) {
	var header [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", ErrTruncatedStream, ErrNoFrame)
		}
		return nil, classify(err, "frame length")
	}
	n := binary.BigEndian.Uint64(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame length %d exceeds %d", ErrProtocol, n, MaxFrameSize)
	}

	var payload bytes.Buffer
	payload.Grow(int(min(n, initialPayloadBuffer)))
	if _, err := io.CopyN(&payload, r, int64(n)); err != nil {
		return nil, classify(err, "frame payload")
	}
	return payload.Bytes(), nil
}

// ReadUntilClose drains r until the peer closes its write side.
// An empty stream means the peer went away without replying.
func ReadUntilClose(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFrameSize+1))
	if err != nil {
		return nil, classify(err, "reply")
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: peer closed without a reply", ErrTruncatedStream)
	}
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("%w: reply exceeds %d bytes", ErrProtocol, MaxFrameSize)
	}
	return data, nil
}

// WriteRaw writes an unframed message.
func WriteRaw(w io.Writer, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing raw message: %w", err)
	}
	return nil
}

// ReadRaw performs one small read for short unframed messages such as the
// availability probe and reply.
func ReadRaw(r io.Reader) ([]byte, error) {
	buf := make([]byte, maxRawMessage)
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return nil, classify(err, "raw message")
}

// WriteReply sends a worker's final detection reply, framed or terminated by close.
func WriteReply(w io.Writer, payload []byte, framed bool) error {
	if framed {
		return WriteFramed(w, payload)
	}
	return WriteRaw(w, payload)
}

// ReadReply reads a worker's final detection reply written by WriteReply.
func ReadReply(r io.Reader, framed bool) ([]byte, error) {
	if framed {
		return ReadFramed(r)
	}
	return ReadUntilClose(r)
}

// WriteClassID sends a static worker's class as a 4-byte big-endian integer.
func WriteClassID(w io.Writer, class model.ClassID) error {
	var buf [ClassIDSize]byte
	binary.BigEndian.PutUint32(buf[:], uint32(class))
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("writing class id: %w", err)
	}
	return nil
}

// ReadClassID reads a 4-byte class id and rejects values outside the known set.
func ReadClassID(r io.Reader) (model.ClassID, error) {
	var buf [ClassIDSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, classify(err, "class id")
	}
	class, err := model.ParseClassID(binary.BigEndian.Uint32(buf[:]))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return class, nil
}
