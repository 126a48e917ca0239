package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// frameKind identifies the purpose of a frame on the wire
type frameKind uint8

const (
	frameRequest      frameKind = iota + 1 // unary request (client -> server)
	frameResponse                          // unary response (server -> client)
	frameStreamOpen                        // opens a stream (client -> server)
	frameStreamData                        // one stream element (server -> client)
	frameStreamEnd                         // end of a stream, payload is the error text (server -> client)
	frameStreamCancel                      // client is no longer interested (client -> server)
)

const (
	headerSize = 13
	// maxFrameSize bounds the payload of a single frame. Larger requests, responses and
	// stream elements are refused by both ends.
	maxFrameSize = 64 << 20
)

func (k frameKind) String() string {
	switch k {
	case frameRequest:
		return "request"
	case frameResponse:
		return "response"
	case frameStreamOpen:
		return "stream-open"
	case frameStreamData:
		return "stream-data"
	case frameStreamEnd:
		return "stream-end"
	case frameStreamCancel:
		return "stream-cancel"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// writeFrame writes a frame to the connection with the format:
// - 1 byte: frame kind
// - 8 bytes: requestID (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(conn net.Conn, kind frameKind, requestID uint64, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("%s frame of %d bytes exceeds the limit of %d bytes", kind, len(data), maxFrameSize)
	}

	header := make([]byte, headerSize)
	header[0] = byte(kind)
	binary.BigEndian.PutUint64(header[1:9], requestID)
	binary.BigEndian.PutUint32(header[9:13], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer
// If the buffer is too small, it will allocate a new temporary buffer for the data
func readFrame(conn net.Conn, buf []byte) (frameKind, uint64, []byte, error) {
	// Check if buffer is large enough for header
	if len(buf) < headerSize {
		buf = make([]byte, headerSize)
	}

	// Read header
	if _, err := io.ReadFull(conn, buf[:headerSize]); err != nil {
		return 0, 0, nil, err
	}

	// Parse header
	kind := frameKind(buf[0])
	requestID := binary.BigEndian.Uint64(buf[1:9])
	contentLength := binary.BigEndian.Uint32(buf[9:13])

	if contentLength > maxFrameSize {
		return 0, 0, nil, fmt.Errorf("frame of %d bytes exceeds the limit of %d bytes", contentLength, maxFrameSize)
	}

	// If no data, return empty slice
	if contentLength == 0 {
		return kind, requestID, []byte{}, nil
	}

	// Check if buffer is large enough for data
	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}

	// Read data
	if _, err := io.ReadFull(conn, buf[:contentLength]); err != nil {
		return 0, 0, nil, err
	}

	return kind, requestID, buf[:contentLength], nil
}
