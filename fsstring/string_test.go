package fsstring

import (
	"testing"

	"github.com/brettbedarf/bootvfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utf16Of(t *testing.T, s string) String {
	t.Helper()
	u, err := FromGo(s, EncodingUTF16)
	require.NoError(t, err)
	return u
}

func TestEqual(t *testing.T) {
	t.Parallel()

	iso := Literal("EFI")
	u16 := utf16Of(t, "EFI")
	u8 := NewUTF8([]byte("EFI"))

	tests := []struct {
		name string
		a, b String
		want bool
	}{
		{"SameISO", iso, Literal("EFI"), true},
		{"ISOvsUTF16", iso, u16, true},
		{"ISOvsUTF16Mismatch", iso, utf16Of(t, "EFJ"), false},
		{"DifferentLength", iso, Literal("EFIX"), false},
		{"ISOvsUTF8FailsClosed", iso, u8, false},
		{"UTF8vsUTF16FailsClosed", u8, u16, false},
		{"EmptyVsZeroLength", Empty(), NewUTF16(nil), true},
		{"EmptyVsEmpty", Empty(), Empty(), true},
		{"EmptyVsNonEmpty", Empty(), iso, false},
		{"Latin1High", NewISO88591([]byte{0xE9}), NewUTF16([]uint16{0x00E9}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
			assert.Equal(t, Equal(tt.a, tt.b), Equal(tt.b, tt.a), "symmetric")
			assert.True(t, tt.a.Equal(tt.a), "reflexive")
			assert.True(t, tt.b.Equal(tt.b), "reflexive")
		})
	}
}

func TestEqualLiteral(t *testing.T) {
	t.Parallel()

	assert.True(t, utf16Of(t, "..").EqualLiteral(".."))
	assert.True(t, Literal("x").EqualLiteral("x"))
	assert.False(t, utf16Of(t, "x").EqualLiteral("y"))
	assert.True(t, Empty().EqualLiteral(""))
}

func TestDupCoerce(t *testing.T) {
	t.Parallel()

	t.Run("ISOToUTF16Widens", func(t *testing.T) {
		t.Parallel()

		src := NewISO88591([]byte{'A', 0xE9, 'z'})
		dst, err := src.DupCoerce(EncodingUTF16)
		require.NoError(t, err)
		assert.Equal(t, EncodingUTF16, dst.Encoding())
		assert.Equal(t, 3, dst.Len())
		assert.Equal(t, 6, dst.Size())
		assert.Equal(t, []byte{'A', 0, 0xE9, 0, 'z', 0}, dst.Bytes())
		assert.True(t, Equal(src, dst))
	})

	t.Run("SameEncodingCopies", func(t *testing.T) {
		t.Parallel()

		data := []byte("boot")
		src := NewUTF8(data)
		dst, err := src.DupCoerce(EncodingUTF8)
		require.NoError(t, err)
		data[0] = 'X'
		assert.Equal(t, "boot", string(dst.Bytes()), "copy does not alias")
	})

	t.Run("ZeroLengthAlwaysSucceeds", func(t *testing.T) {
		t.Parallel()

		dst, err := NewUTF8(nil).DupCoerce(EncodingUTF16)
		require.NoError(t, err)
		assert.Equal(t, EncodingUTF16, dst.Encoding())
		assert.Zero(t, dst.Len())

		dst, err = Literal("").DupCoerce(EncodingEmpty)
		require.NoError(t, err)
		assert.Equal(t, EncodingEmpty, dst.Encoding())
	})

	t.Run("Unsupported", func(t *testing.T) {
		t.Parallel()

		pairs := []struct {
			src    String
			target Encoding
		}{
			{utf16Of(t, "a"), EncodingISO88591},
			{NewUTF8([]byte("a")), EncodingUTF16},
			{Literal("a"), EncodingUTF8},
			{utf16Of(t, "a"), EncodingUTF8},
		}
		for _, p := range pairs {
			_, err := p.src.DupCoerce(p.target)
			assert.ErrorIs(t, err, bootvfs.ErrUnsupported, "%s to %s", p.src.Encoding(), p.target)
		}
	})
}

func TestSplit(t *testing.T) {
	t.Parallel()

	t.Run("BackslashPath", func(t *testing.T) {
		t.Parallel()

		for _, enc := range []Encoding{EncodingISO88591, EncodingUTF8, EncodingUTF16} {
			s, err := FromGo(`boot\efi\x64`, enc)
			require.NoError(t, err)

			var parts []string
			rest := s
			for !rest.IsEmpty() {
				var elem String
				elem, rest = rest.Split('\\')
				assert.Equal(t, enc, elem.Encoding())
				parts = append(parts, elem.String())
			}
			assert.Equal(t, []string{"boot", "efi", "x64"}, parts, enc.String())
		}
	})

	t.Run("ZeroCopy", func(t *testing.T) {
		t.Parallel()

		data := []byte("a/b")
		elem, rest := NewISO88591(data).Split('/')
		data[0], data[2] = 'X', 'Y'
		assert.Equal(t, "X", elem.String())
		assert.Equal(t, "Y", rest.String())
	})

	t.Run("ElemCannotOverwriteRest", func(t *testing.T) {
		t.Parallel()

		elem, rest := Literal("ab/cd").Split('/')
		b := append(elem.Bytes(), 'Z')
		assert.Equal(t, "abZ", string(b))
		assert.Equal(t, "cd", rest.String())
	})

	t.Run("Edges", func(t *testing.T) {
		t.Parallel()

		elem, rest := Literal("/x").Split('/')
		assert.True(t, elem.IsEmpty())
		assert.Equal(t, "x", rest.String())

		elem, rest = Literal("x/").Split('/')
		assert.Equal(t, "x", elem.String())
		assert.True(t, rest.IsEmpty())

		elem, rest = Literal("plain").Split('/')
		assert.Equal(t, "plain", elem.String())
		assert.True(t, rest.IsEmpty())

		elem, rest = Empty().Split('/')
		assert.True(t, elem.IsEmpty())
		assert.True(t, rest.IsEmpty())
	})

	t.Run("UTF8NonASCIISeparatorIsAbsent", func(t *testing.T) {
		t.Parallel()

		s := NewUTF8([]byte("aé/b"))
		elem, rest := s.Split(0xE9)
		assert.Equal(t, s.Bytes(), elem.Bytes())
		assert.True(t, rest.IsEmpty())

		elem, rest = s.Split('/')
		assert.Equal(t, 2, elem.Len())
		assert.Equal(t, "b", rest.String())
	})
}

func TestRelease(t *testing.T) {
	t.Parallel()

	s := Literal("abc")
	s.Release()
	assert.Equal(t, EncodingEmpty, s.Encoding())
	assert.Zero(t, s.Len())
	assert.Nil(t, s.Bytes())

	s.Release()
	assert.True(t, s.IsEmpty())
}

func TestParseEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want Encoding
	}{
		{"iso-8859-1", EncodingISO88591},
		{"utf-8", EncodingUTF8},
		{"utf-16", EncodingUTF16},
	}
	for _, tt := range tests {
		got, err := ParseEncoding(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseEncoding("ebcdic")
	assert.ErrorIs(t, err, bootvfs.ErrUnsupported)
}

func TestFromGoDecode(t *testing.T) {
	t.Parallel()

	for _, enc := range []Encoding{EncodingISO88591, EncodingUTF8, EncodingUTF16} {
		s, err := FromGo("Grüße", enc)
		require.NoError(t, err, enc.String())
		assert.Equal(t, 5, s.Len(), enc.String())
		d, err := s.Decode()
		require.NoError(t, err)
		assert.Equal(t, "Grüße", d)
	}

	_, err := FromGo("€", EncodingISO88591)
	assert.ErrorIs(t, err, bootvfs.ErrUnsupported)

	assert.Equal(t, `"\xff"`, NewUTF8([]byte{0xff}).String())
}
