package relay

import (
	"bytes"
	"errors"
)

// DefaultMaxLine is the longest partial line a zero LineFramer holds.
const DefaultMaxLine = 1 << 20

// ErrLineTooLong means more than MaxLine bytes arrived without a newline.
var ErrLineTooLong = errors.New("stream line exceeds maximum length")

// LineFramer buffers arbitrarily chunked bytes and hands out complete lines.
// Bytes after the last newline stay buffered until a later chunk ends the
// line. A LineFramer belongs to a single response.
type LineFramer struct {
	// MaxLine caps the unterminated tail. Zero means DefaultMaxLine.
	MaxLine int

	buf []byte
}

// Write appends a chunk. It returns ErrLineTooLong once the bytes after the
// last newline exceed MaxLine; complete lines before them stay readable.
func (f *LineFramer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	limit := f.MaxLine
	if limit <= 0 {
		limit = DefaultMaxLine
	}
	if len(f.buf)-(bytes.LastIndexByte(f.buf, '\n')+1) > limit {
		return len(p), ErrLineTooLong
	}
	return len(p), nil
}

// Next returns the next complete line without its "\n" or "\r\n". ok is
// false when no full line is buffered. The returned slice is only valid
// until the next call to Write.
func (f *LineFramer) Next() (line []byte, ok bool) {
	i := bytes.IndexByte(f.buf, '\n')
	if i < 0 {
		return nil, false
	}
	line = bytes.TrimSuffix(f.buf[:i], []byte("\r"))
	f.buf = f.buf[i+1:]
	return line, true
}

// Rest returns whatever partial line is left and empties the buffer.
func (f *LineFramer) Rest() []byte {
	rest := bytes.TrimSuffix(f.buf, []byte("\r"))
	f.buf = nil
	return rest
}

// Buffered reports how many bytes wait for a newline.
func (f *LineFramer) Buffered() int {
	return len(f.buf)
}

// Reset drops the buffer.
func (f *LineFramer) Reset() {
	f.buf = nil
}
