// Package fsstring implements the encoding-tagged strings used for node
// names, volume labels and symlink targets. A String carries its encoding,
// its length in characters and its raw bytes so drivers can hand over
// on-disk names without converting them first.
package fsstring

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/brettbedarf/bootvfs"
)

// Encoding tags the representation of a String's data.
type Encoding int

const (
	// EncodingEmpty marks a String that carries no data at all.
	EncodingEmpty Encoding = iota
	EncodingISO88591
	EncodingUTF8
	// EncodingUTF16 stores little-endian 16-bit code units.
	EncodingUTF16
)

func (e Encoding) String() string {
	switch e {
	case EncodingEmpty:
		return "empty"
	case EncodingISO88591:
		return "iso-8859-1"
	case EncodingUTF8:
		return "utf-8"
	case EncodingUTF16:
		return "utf-16"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// ParseEncoding maps a configuration name onto an Encoding.
func ParseEncoding(name string) (Encoding, error) {
	switch name {
	case "iso-8859-1", "iso88591", "latin1":
		return EncodingISO88591, nil
	case "utf-8", "utf8":
		return EncodingUTF8, nil
	case "utf-16", "utf16", "ucs-2":
		return EncodingUTF16, nil
	}
	return EncodingEmpty, fmt.Errorf("unknown string encoding %q: %w", name, bootvfs.ErrUnsupported)
}

// String is an immutable view over encoded character data. The zero value
// is the Empty string.
//
// Invariants: Empty carries no data; UTF-16 data is exactly 2*length bytes;
// ISO-8859-1 data is exactly length bytes; UTF-8 length is the rune count.
type String struct {
	enc    Encoding
	length int
	data   []byte
}

// Empty returns the Empty string.
func Empty() String {
	return String{}
}

// NewISO88591 wraps b as an ISO-8859-1 string without copying.
func NewISO88591(b []byte) String {
	return String{enc: EncodingISO88591, length: len(b), data: b}
}

// NewUTF8 wraps b as a UTF-8 string without copying.
func NewUTF8(b []byte) String {
	return String{enc: EncodingUTF8, length: utf8.RuneCount(b), data: b}
}

// NewUTF16Bytes wraps little-endian UTF-16 data without copying. A trailing
// odd byte is not part of the string.
func NewUTF16Bytes(b []byte) String {
	n := len(b) / 2
	return String{enc: EncodingUTF16, length: n, data: b[:2*n]}
}

// NewUTF16 encodes units into a new UTF-16 string.
func NewUTF16(units []uint16) String {
	b := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[2*i:], u)
	}
	return String{enc: EncodingUTF16, length: len(units), data: b}
}

// Literal interprets the bytes of a Go string constant as ISO-8859-1.
func Literal(s string) String {
	return NewISO88591([]byte(s))
}

// Encoding returns the string's encoding tag.
func (s String) Encoding() Encoding {
	return s.enc
}

// Len returns the length in characters (code units for UTF-16).
func (s String) Len() int {
	if s.enc == EncodingEmpty {
		return 0
	}
	return s.length
}

// Size returns the data size in bytes.
func (s String) Size() int {
	if s.enc == EncodingEmpty {
		return 0
	}
	return len(s.data)
}

// Bytes returns the underlying data. The slice is shared, not copied.
func (s String) Bytes() []byte {
	if s.enc == EncodingEmpty {
		return nil
	}
	return s.data
}

// IsEmpty reports whether s has no characters, regardless of encoding.
func (s String) IsEmpty() bool {
	return s.Len() == 0
}

// Release drops the string's data and turns it into Empty. Releasing Empty
// is a no-op.
func (s *String) Release() {
	*s = String{}
}

// unit returns the i-th UTF-16 code unit.
func (s String) unit(i int) uint16 {
	return binary.LittleEndian.Uint16(s.data[2*i:])
}

// normalize turns Empty into a zero-length ISO-8859-1 string.
func (s String) normalize() String {
	if s.enc == EncodingEmpty {
		return String{enc: EncodingISO88591}
	}
	return s
}

// Equal reports whether s and t hold the same characters.
func (s String) Equal(t String) bool {
	return Equal(s, t)
}

// EqualLiteral compares s against a Go string constant interpreted as
// ISO-8859-1.
func (s String) EqualLiteral(lit string) bool {
	return Equal(s, Literal(lit))
}

// Equal compares two strings taking their encodings into account.
//
// Cross-encoding pairs are resolved by equalDirected, which is consulted
// once in each operand order. Pairs it does not know compare unequal.
func Equal(a, b String) bool {
	a, b = a.normalize(), b.normalize()
	if a.length != b.length {
		return false
	}
	if a.length == 0 {
		return true
	}
	if a.enc == b.enc {
		return bytes.Equal(a.data, b.data)
	}
	if eq, ok := equalDirected(a, b); ok {
		return eq
	}
	if eq, ok := equalDirected(b, a); ok {
		return eq
	}
	return false
}

// equalDirected handles each supported encoding pair in exactly one
// direction. Both strings have the same non-zero length.
func equalDirected(a, b String) (equal, handled bool) {
	switch {
	case a.enc == EncodingISO88591 && b.enc == EncodingUTF8:
		// no conversion implemented; fail closed
		return false, true
	case a.enc == EncodingISO88591 && b.enc == EncodingUTF16:
		for i := 0; i < a.length; i++ {
			if uint16(a.data[i]) != b.unit(i) {
				return false, true
			}
		}
		return true, true
	case a.enc == EncodingUTF8 && b.enc == EncodingUTF16:
		// no conversion implemented; fail closed
		return false, true
	}
	return false, false
}

// DupCoerce returns a copy of s converted to target. Zero-length input
// always succeeds. Besides same-encoding copies only ISO-8859-1 to UTF-16 is
// supported; other pairs fail with bootvfs.ErrUnsupported.
func (s String) DupCoerce(target Encoding) (String, error) {
	if s.IsEmpty() {
		if target == EncodingEmpty {
			return String{}, nil
		}
		return String{enc: target, data: []byte{}}, nil
	}

	switch {
	case s.enc == target:
		return String{enc: target, length: s.length, data: bytes.Clone(s.data)}, nil
	case s.enc == EncodingISO88591 && target == EncodingUTF16:
		b := make([]byte, 2*s.length)
		for i, c := range s.data {
			binary.LittleEndian.PutUint16(b[2*i:], uint16(c))
		}
		return String{enc: EncodingUTF16, length: s.length, data: b}, nil
	}
	return String{}, fmt.Errorf("convert %s to %s: %w", s.enc, target, bootvfs.ErrUnsupported)
}

// Split cuts s at the first occurrence of sep. elem is the part before the
// separator and rest the part after it; the separator itself is dropped.
// Without a separator elem is all of s and rest is zero-length.
//
// No data is copied: both results alias s. For UTF-8 only ASCII separators
// are searched for; any other separator is treated as absent.
func (s String) Split(sep byte) (elem, rest String) {
	if s.IsEmpty() {
		return String{}, s
	}

	idx := -1
	switch s.enc {
	case EncodingISO88591:
		idx = bytes.IndexByte(s.data, sep)
		if idx < 0 {
			return s, String{enc: s.enc, data: s.data[len(s.data):]}
		}
		return String{enc: s.enc, length: idx, data: s.data[:idx:idx]},
			String{enc: s.enc, length: s.length - idx - 1, data: s.data[idx+1:]}

	case EncodingUTF8:
		if sep < utf8.RuneSelf {
			idx = bytes.IndexByte(s.data, sep)
		}
		if idx < 0 {
			return s, String{enc: s.enc, data: s.data[len(s.data):]}
		}
		n := utf8.RuneCount(s.data[:idx])
		return String{enc: s.enc, length: n, data: s.data[:idx:idx]},
			String{enc: s.enc, length: s.length - n - 1, data: s.data[idx+1:]}

	case EncodingUTF16:
		for i := 0; i < s.length; i++ {
			if s.unit(i) == uint16(sep) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return s, String{enc: s.enc, data: s.data[len(s.data):]}
		}
		return String{enc: s.enc, length: idx, data: s.data[: 2*idx : 2*idx]},
			String{enc: s.enc, length: s.length - idx - 1, data: s.data[2*(idx+1):]}
	}
	return s, String{}
}
