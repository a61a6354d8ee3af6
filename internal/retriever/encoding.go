package retriever

// encoding.go normalizes input text before it reaches the CSV parser.
//
// Spreadsheet exports arrive as UTF-8 with or without a BOM, or as UTF-16
// with a BOM. Decoding is streamed: a BOM-sniffing decoder turns everything
// into UTF-8, then any invalid bytes left over are replaced with '?'.

import (
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decode wraps r with BOM detection, UTF-8 sanitizing and byte counting.
func decode(r io.Reader) *countingReader {
	decoded := transform.NewReader(r, unicode.BOMOverride(transform.Nop))
	return &countingReader{reader: newSanitizer(decoded)}
}

// sanitizer replaces invalid UTF-8 bytes with '?' on the fly. A multi-byte
// sequence split across two reads is carried over to the next read.
type sanitizer struct {
	reader  io.Reader
	pending []byte
}

func newSanitizer(r io.Reader) *sanitizer {
	return &sanitizer{reader: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = s.pending[:0]
	}

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	if isASCII(p[:n]) {
		return n, err
	}
	return s.clean(p[:n], err != nil), err
}

// clean rewrites data in place and returns the number of bytes kept.
// Unless atEOF, an incomplete trailing sequence is held back in pending.
func (s *sanitizer) clean(data []byte, atEOF bool) int {
	write := 0
	for read := 0; read < len(data); {
		if !atEOF && !utf8.FullRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			return write
		}

		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

func isASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// countingReader tracks bytes handed to the parser.
type countingReader struct {
	reader    io.Reader
	BytesRead int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}
