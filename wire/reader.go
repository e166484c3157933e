package wire

import (
	"bufio"
	"io"
)

// Reader splits an incoming byte stream into EOT-terminated frames
// and parses each one in turn, the way bc/ur.Decoder accumulates UR
// fragments one Add at a time.
type Reader struct {
	br *bufio.Reader
}

// NewReader returns a Reader pulling frames out of r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 512)}
}

// ReadFrame reads and parses the next frame. It returns ErrMalformed
// (without consuming more than the one malformed frame) for frames
// that fail to parse, so the caller can log and continue; it returns
// the underlying error, typically io.EOF, when the stream ends.
func (r *Reader) ReadFrame() (Frame, error) {
	raw, err := r.br.ReadBytes(EOT)
	if err != nil {
		return Frame{}, err
	}
	raw = raw[:len(raw)-1] // drop the EOT
	return Parse(raw)
}
