package core

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestCheckUTF8(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr bool
	}{
		{name: "ascii", input: []byte("student_id,first_name\nS1,Ada\n")},
		{name: "multibyte", input: []byte("S1,Zoë,東京\n")},
		{name: "with BOM", input: append([]byte{0xEF, 0xBB, 0xBF}, "a,b"...)},
		{name: "empty", input: []byte{}},
		{name: "latin-1 byte", input: []byte("S1,Zo\xeb\n"), wantErr: true},
		{name: "truncated sequence at EOF", input: []byte("abc\xe6\x9d"), wantErr: true},
		{name: "overlong encoding", input: []byte{'a', 0xC0, 0xAF}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckUTF8(bytes.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckUTF8() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidUTF8) {
				t.Errorf("error %v does not wrap ErrInvalidUTF8", err)
			}
		})
	}
}

func TestCheckUTF8SourceError(t *testing.T) {
	boom := errors.New("disk gone")
	err := CheckUTF8(io.MultiReader(strings.NewReader("abc"), errReader{boom}))
	if !errors.Is(err, boom) {
		t.Errorf("CheckUTF8() error = %v, want source error", err)
	}
	if errors.Is(err, ErrInvalidUTF8) {
		t.Error("source error reported as invalid UTF-8")
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestNewRosterReaderStripsBOM(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{name: "file with BOM", input: append([]byte{0xEF, 0xBB, 0xBF}, "hello,world"...), expected: "hello,world"},
		{name: "file without BOM", input: []byte("hello,world"), expected: "hello,world"},
		{name: "empty file", input: []byte{}, expected: ""},
		{name: "only BOM", input: []byte{0xEF, 0xBB, 0xBF}, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(NewRosterReader(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestCountingReader(t *testing.T) {
	data := "hello world"
	cr := NewCountingReader(strings.NewReader(data), int64(len(data)))

	buf := make([]byte, 5)
	n, err := cr.Read(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 || cr.BytesRead != 5 {
		t.Errorf("read %d, BytesRead %d, want 5/5", n, cr.BytesRead)
	}
	if got := cr.Progress(); got != 45 {
		t.Errorf("Progress() = %d, want 45", got)
	}

	if _, err := io.ReadAll(cr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cr.Progress(); got != 100 {
		t.Errorf("Progress() = %d, want 100", got)
	}
	if cr.Err != nil {
		t.Errorf("Err = %v, want nil at EOF", cr.Err)
	}
}

func TestCountingReaderUnknownTotal(t *testing.T) {
	cr := NewCountingReader(strings.NewReader("abc"), 0)
	_, _ = io.ReadAll(cr)
	if got := cr.Progress(); got != 0 {
		t.Errorf("Progress() = %d, want 0 when total unknown", got)
	}
}
