// Package wire defines the envelope exchanged between the broker and
// backend nodes. The query payload itself is opaque to the broker:
// it is handed to the backend exactly as received from the client.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"gopkg.in/vmihailenco/msgpack.v2"
)

// Format tags the encoding of a response payload. The broker selects
// the reduce algorithm by this tag.
type Format string

const (
	FormatJSON   Format = "json"
	FormatNative Format = "native"
)

const (
	// maxFrameSize guards against corrupted length prefixes.
	maxFrameSize = 64 << 20
)

var (
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
)

type Request struct {
	ID       uint64   `msgpack:"id"`
	Table    string   `msgpack:"table"`
	Segments []string `msgpack:"segments"`
	Format   Format   `msgpack:"format"`
	Payload  []byte   `msgpack:"payload"`
}

type Response struct {
	ID      uint64 `msgpack:"id"`
	Format  Format `msgpack:"format"`
	Payload []byte `msgpack:"payload"`
	Error   string `msgpack:"error"`
}

// WriteFrame encodes v with msgpack and writes it prefixed with a
// big-endian uint32 length.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal frame: %w", err)
	}
	if len(body) > maxFrameSize {
		return ErrFrameTooLarge
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err = w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(body)

	return err
}

// ReadFrame reads one length-prefixed frame and decodes it into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxFrameSize {
		return ErrFrameTooLarge
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}

	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("wire: unmarshal frame: %w", err)
	}

	return nil
}
