package stream

import (
	"bytes"
	"errors"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultMaxLineBytes bounds the unterminated text a LineFramer keeps.
const DefaultMaxLineBytes = 64 << 10

// ---------------------------------------------------------------------------
// LineFramer reassembles newline-delimited text lines from arbitrary byte
// chunks. UTF-8 decoding is incremental: a character split across two
// chunks is carried over rather than corrupted, and invalid bytes become
// U+FFFD.
// ---------------------------------------------------------------------------

type LineFramer struct {
	decoder transform.Transformer
	scratch []byte
	carry   []byte // undecoded tail of the previous chunk
	text    []byte // decoded, not yet newline-terminated
	lines   []string

	maxLine    int
	overflows  int
	discarding bool // skipping the rest of an overlong line
}

// NewLineFramer creates a framer. maxLineBytes <= 0 selects
// DefaultMaxLineBytes.
func NewLineFramer(maxLineBytes int) *LineFramer {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	return &LineFramer{
		decoder: unicode.UTF8.NewDecoder(),
		scratch: make([]byte, 4096),
		maxLine: maxLineBytes,
	}
}

// Feed appends one chunk. Completed lines become available through Next.
func (f *LineFramer) Feed(chunk []byte) {
	src := chunk
	if len(f.carry) > 0 {
		src = append(f.carry, chunk...)
		f.carry = nil
	}

	for len(src) > 0 {
		nDst, nSrc, err := f.decoder.Transform(f.scratch, src, false)
		f.text = append(f.text, f.scratch[:nDst]...)
		src = src[nSrc:]

		if err == nil || errors.Is(err, transform.ErrShortDst) {
			// ErrShortDst only means scratch filled up.
			continue
		}
		if errors.Is(err, transform.ErrShortSrc) {
			f.carry = append([]byte(nil), src...)
		}
		break
	}

	f.split()
}

// split moves every newline-terminated line from text into lines.
func (f *LineFramer) split() {
	for {
		i := bytes.IndexByte(f.text, '\n')
		if i < 0 {
			break
		}
		if f.discarding {
			f.discarding = false
			f.text = f.text[i+1:]
			continue
		}
		line := strings.TrimSpace(string(f.text[:i]))
		f.text = f.text[i+1:]
		if line != "" {
			f.lines = append(f.lines, line)
		}
	}

	switch {
	case f.discarding:
		f.text = nil
	case len(f.text) > f.maxLine:
		f.overflows++
		f.discarding = true
		f.text = nil
	}
	if len(f.text) == 0 {
		// release the backing array consumed by the slicing above
		f.text = nil
	}
}

// Next returns the next complete, trimmed, non-empty line.
func (f *LineFramer) Next() (string, bool) {
	if len(f.lines) == 0 {
		return "", false
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	if len(f.lines) == 0 {
		f.lines = nil
	}
	return line, true
}

// Buffered returns the number of bytes held that do not yet form a line.
func (f *LineFramer) Buffered() int { return len(f.text) + len(f.carry) }

// Overflows returns how many times an overlong unterminated line was dropped.
func (f *LineFramer) Overflows() int { return f.overflows }

// Reset discards everything not yet returned by Next, including an
// unterminated final fragment, and returns the number of bytes dropped.
func (f *LineFramer) Reset() int {
	dropped := f.Buffered()
	for _, l := range f.lines {
		dropped += len(l)
	}
	f.text = nil
	f.carry = nil
	f.lines = nil
	f.discarding = false
	f.decoder.Reset()
	return dropped
}
