package core

// streaming.go provides the readers a roster passes through before CSV
// parsing. Nothing here loads the whole file into memory.
//
// Invalid UTF-8 is rejected rather than repaired: a roster with mangled
// names must be fixed at the source, not silently imported with '?' in
// place of letters. A leading UTF-8 BOM, common in Excel exports, is
// accepted and stripped.

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrInvalidUTF8 reports a byte sequence that is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("invalid UTF-8")

// CheckUTF8 reads r to EOF and fails on the first invalid sequence. The
// returned error wraps ErrInvalidUTF8 and names the approximate byte offset.
func CheckUTF8(r io.Reader) error {
	counter := NewCountingReader(r, 0)
	_, err := io.Copy(io.Discard, transform.NewReader(counter, encoding.UTF8Validator))
	switch {
	case err == nil:
		return nil
	case counter.Err != nil:
		return counter.Err
	default:
		// Any failure not raised by the source came from the validator.
		return fmt.Errorf("%w near byte %d", ErrInvalidUTF8, counter.BytesRead)
	}
}

// NewRosterReader strips a leading UTF-8 BOM. Callers must have checked
// the content with CheckUTF8 first.
func NewRosterReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.UTF8BOM.NewDecoder())
}

// CountingReader wraps an io.Reader to track bytes read.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // 0 if unknown
	Err       error // first non-EOF error from the source
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if err != nil && err != io.EOF && r.Err == nil {
		r.Err = err
	}
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead * 100 / r.Total)
}
