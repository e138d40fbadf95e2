package rpc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
)

const (
	headerLength = "Content-Length"
	headerType   = "Content-Type"
	frameType    = "application/msgpack"

	// a frame above this size means the stream is out of sync
	maxFrame = 256 << 20
)

var (
	errNoLength  = errors.New("rpc: frame without Content-Length")
	errFrameSize = errors.New("rpc: frame size out of range")
	errFrameType = errors.New("rpc: unexpected frame content type")
)

// readFrame reads one header block and its body. Headers other than
// Content-Length and Content-Type are ignored.
func readFrame(r *bufio.Reader) ([]byte, error) {
	hdr, err := textproto.NewReader(r).ReadMIMEHeader()
	if err != nil {
		if errors.Is(err, io.EOF) && len(hdr) == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("rpc: read header: %w", err)
	}
	raw := hdr.Get(headerLength)
	if raw == "" {
		return nil, errNoLength
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("rpc: bad %s %q: %w", headerLength, raw, err)
	}
	if size < 0 || size > maxFrame {
		return nil, fmt.Errorf("%w: %d", errFrameSize, size)
	}
	if ct := hdr.Get(headerType); ct != "" && ct != frameType {
		return nil, fmt.Errorf("%w: %s", errFrameType, ct)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("rpc: read body: %w", err)
	}
	return body, nil
}

// writeFrame emits header and body in a single Write.
func writeFrame(w io.Writer, body []byte) error {
	if len(body) > maxFrame {
		return fmt.Errorf("%w: %d", errFrameSize, len(body))
	}
	head := fmt.Sprintf("%s: %d\r\n%s: %s\r\n\r\n", headerLength, len(body), headerType, frameType)
	buf := make([]byte, 0, len(head)+len(body))
	buf = append(append(buf, head...), body...)
	_, err := w.Write(buf)
	return err
}
