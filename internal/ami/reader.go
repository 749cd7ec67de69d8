package ami

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// maxLineLength bounds a single protocol line.
const maxLineLength = 64 * 1024

// Reader frames a byte stream into Messages. Partial lines and partial
// blocks survive read errors such as deadline timeouts, so Next can simply
// be called again once more data may have arrived.
type Reader struct {
	br      *bufio.Reader
	line    []byte
	fields  []Field
	raw     strings.Builder
	bad     *FramingError
	skipped bool
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4096)}
}

// ReadLine returns one line without its terminator, for the banner.
func (r *Reader) ReadLine() (string, error) {
	line, err := r.readLine()
	if err != nil {
		return "", err
	}
	return string(line), nil
}

// readLine accumulates bytes up to '\n'. On error the partial line is kept.
func (r *Reader) readLine() ([]byte, error) {
	for {
		chunk, err := r.br.ReadSlice('\n')
		if len(r.line)+len(chunk) > maxLineLength {
			r.line = r.line[:0]
			r.skipped = true
			if err == nil {
				r.line = nil
				r.skipped = false
				return nil, &FramingError{Reason: "line too long"}
			}
		} else {
			r.line = append(r.line, chunk...)
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return nil, err
	}
	line := r.line
	r.line = nil
	if r.skipped {
		r.skipped = false
		return nil, &FramingError{Reason: "line too long"}
	}
	return trimEOL(line), nil
}

// Next returns the next complete block. Runs of blank lines between blocks
// never produce empty messages. A malformed line discards its block and
// returns a *FramingError once the block's terminating blank line is seen.
func (r *Reader) Next() (Message, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			var fe *FramingError
			if errors.As(err, &fe) {
				if r.bad == nil {
					r.bad = fe
				}
				continue
			}
			return Message{}, err
		}

		if len(bytes.TrimSpace(line)) == 0 {
			if r.bad != nil {
				bad := r.bad
				r.reset()
				return Message{}, bad
			}
			if len(r.fields) == 0 {
				continue
			}
			msg := Message{Fields: r.fields, Raw: r.raw.String()}
			r.reset()
			return msg, nil
		}

		s := string(line)
		r.raw.WriteString(s)
		r.raw.WriteString("\r\n")
		if r.bad != nil {
			continue
		}
		idx := strings.IndexByte(s, ':')
		if idx <= 0 {
			r.bad = &FramingError{Line: s, Reason: "missing key separator"}
			continue
		}
		r.fields = append(r.fields, Field{
			Key:   strings.TrimSpace(s[:idx]),
			Value: strings.TrimSpace(s[idx+1:]),
		})
	}
}

func (r *Reader) reset() {
	r.fields = nil
	r.raw.Reset()
	r.bad = nil
}

func trimEOL(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
