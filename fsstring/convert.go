package fsstring

import (
	"fmt"
	"unicode/utf8"

	"github.com/brettbedarf/bootvfs"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Hosts that present names to Go code (FUSE, the CLI) need real Unicode
// conversions. These helpers do not widen what Equal and DupCoerce support.

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// FromGo encodes a Go (UTF-8) string as enc. Characters that enc cannot
// represent fail with bootvfs.ErrUnsupported.
func FromGo(s string, enc Encoding) (String, error) {
	switch enc {
	case EncodingEmpty:
		if s == "" {
			return String{}, nil
		}
	case EncodingISO88591:
		b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return String{}, fmt.Errorf("encode %q as %s: %v: %w", s, enc, err, bootvfs.ErrUnsupported)
		}
		return NewISO88591(b), nil
	case EncodingUTF8:
		if !utf8.ValidString(s) {
			return String{}, fmt.Errorf("encode %q as %s: invalid utf-8: %w", s, enc, bootvfs.ErrUnsupported)
		}
		return NewUTF8([]byte(s)), nil
	case EncodingUTF16:
		b, err := utf16LE.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return String{}, fmt.Errorf("encode %q as %s: %v: %w", s, enc, err, bootvfs.ErrUnsupported)
		}
		return NewUTF16Bytes(b), nil
	}
	return String{}, fmt.Errorf("encode %q as %s: %w", s, enc, bootvfs.ErrUnsupported)
}

// Decode converts s into a Go string.
func (s String) Decode() (string, error) {
	switch s.enc {
	case EncodingEmpty:
		return "", nil
	case EncodingISO88591:
		b, err := charmap.ISO8859_1.NewDecoder().Bytes(s.data)
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", s.enc, err)
		}
		return string(b), nil
	case EncodingUTF8:
		if !utf8.Valid(s.data) {
			return "", fmt.Errorf("decode %s: invalid byte sequence: %w", s.enc, bootvfs.ErrVolumeCorrupted)
		}
		return string(s.data), nil
	case EncodingUTF16:
		b, err := utf16LE.NewDecoder().Bytes(s.data)
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", s.enc, err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("decode %s: %w", s.enc, bootvfs.ErrUnsupported)
}

// String implements fmt.Stringer for logging. Undecodable data is quoted.
func (s String) String() string {
	if d, err := s.Decode(); err == nil {
		return d
	}
	return fmt.Sprintf("%q", s.data)
}
