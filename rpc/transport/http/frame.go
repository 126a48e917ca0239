package http

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Stream responses are a sequence of chunks: 1 byte kind | 4 byte length | payload
const (
	chunkData byte = 1
	chunkEnd  byte = 2

	chunkHeaderSize = 5
	maxChunkSize    = 64 << 20
)

func writeChunk(w io.Writer, kind byte, data []byte) error {
	if len(data) > maxChunkSize {
		return fmt.Errorf("chunk of %d bytes exceeds the limit", len(data))
	}
	header := make([]byte, chunkHeaderSize)
	header[0] = kind
	binary.BigEndian.PutUint32(header[1:], uint32(len(data)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readChunk(r io.Reader) (byte, []byte, error) {
	header := make([]byte, chunkHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(header[1:])
	if n > maxChunkSize {
		return 0, nil, fmt.Errorf("chunk of %d bytes exceeds the limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, err
	}
	return header[0], data, nil
}
