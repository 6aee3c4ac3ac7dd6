package classifier

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageSize bounds a single framed message (a 4K RGB frame is ~25MB)
const maxMessageSize = 64 << 20

// request is sent to the worker for every sampled frame
type request struct {
	ID        uint64      `msgpack:"id"`
	FrameData []byte      `msgpack:"frame_data"`
	Width     int         `msgpack:"width"`
	Height    int         `msgpack:"height"`
	Format    string      `msgpack:"format"`
	Meta      requestMeta `msgpack:"meta"`
}

type requestMeta struct {
	SourceID  string `msgpack:"source_id"`
	Seq       uint64 `msgpack:"seq"`
	Timestamp string `msgpack:"timestamp"`
	TraceID   string `msgpack:"trace_id,omitempty"`
}

// response is the worker's answer for request ID
type response struct {
	ID     uint64             `msgpack:"id"`
	Faces  []face             `msgpack:"faces"`
	Error  string             `msgpack:"error,omitempty"`
	Timing map[string]float64 `msgpack:"timing,omitempty"`
}

type face struct {
	PersonID   string  `msgpack:"person_id"`
	Confidence float64 `msgpack:"confidence"`
	X          int     `msgpack:"x"`
	Y          int     `msgpack:"y"`
	Width      int     `msgpack:"width"`
	Height     int     `msgpack:"height"`
}

// writeMessage writes v as msgpack with a 4 byte big-endian length prefix
func writeMessage(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
// io.EOF is returned unwrapped when the stream ends between messages.
func readMessage(r io.Reader, v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit of %d", n, maxMessageSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("failed to read message body (%d bytes): %w", n, err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}
