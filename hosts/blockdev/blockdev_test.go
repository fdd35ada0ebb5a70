package blockdev

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/brettbedarf/bootvfs"
	"github.com/brettbedarf/bootvfs/config"
	"github.com/brettbedarf/bootvfs/drivers/memfs"
	"github.com/brettbedarf/bootvfs/filesystem"
	"github.com/brettbedarf/bootvfs/fsstring"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testImage returns blocks 512 byte blocks, each filled with its number.
func testImage(blocks int) []byte {
	img := make([]byte, blocks*512)
	for i := range img {
		img[i] = byte(i / 512)
	}
	return img
}

func mountImage(t *testing.T, d *Device) *filesystem.Volume {
	t.Helper()
	fs := memfs.New("IMG")
	_, err := fs.AddFile("f", 1024, filesystem.PhysExtent(0, 2, 2))
	require.NoError(t, err)
	vol, err := filesystem.Mount(config.NewDefaultConfig(), nil, d, fs)
	require.NoError(t, err)
	t.Cleanup(func() { vol.Unmount() })
	return vol
}

func TestDevice_ReadBlock(t *testing.T) {
	t.Parallel()

	d := New(bytes.NewReader(testImage(4)), fsstring.EncodingUTF16)
	vol := mountImage(t, d)

	b, err := vol.ReadBlock(3)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{3}, 512), b)
	assert.Equal(t, uint64(1), d.Reads())

	_, err = vol.ReadBlock(4)
	assert.ErrorIs(t, err, bootvfs.ErrIO)
}

func TestDevice_ShortTrailingBlock(t *testing.T) {
	t.Parallel()

	img := append(testImage(1), 1, 2, 3)
	d := New(bytes.NewReader(img), fsstring.EncodingISO88591)
	vol := mountImage(t, d)

	_, err := vol.ReadBlock(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, bootvfs.ErrIO)
	assert.Contains(t, err.Error(), "short read")
}

func TestDevice_ChangeBlocksize(t *testing.T) {
	t.Parallel()

	fs := memfs.New("BIG").SetBlocksize(1024, 4096)
	d := New(bytes.NewReader(testImage(8)), fsstring.EncodingUTF16)
	vol, err := filesystem.Mount(nil, nil, d, fs)
	require.NoError(t, err)
	defer vol.Unmount()

	b, err := vol.ReadBlock(1)
	require.NoError(t, err)
	assert.Len(t, b, 1024)
	assert.Equal(t, byte(2), b[0])
	assert.Equal(t, byte(3), b[1023])
}

func TestOpenImage(t *testing.T) {
	t.Parallel()

	img := testImage(4)
	dir := t.TempDir()

	raw := filepath.Join(dir, "disk.img")
	require.NoError(t, os.WriteFile(raw, img, 0o644))

	var zbuf bytes.Buffer
	zw, err := zstd.NewWriter(&zbuf)
	require.NoError(t, err)
	_, err = zw.Write(img)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	zst := filepath.Join(dir, "disk.img.zst")
	require.NoError(t, os.WriteFile(zst, zbuf.Bytes(), 0o644))

	var lbuf bytes.Buffer
	lw := lz4.NewWriter(&lbuf)
	_, err = lw.Write(img)
	require.NoError(t, err)
	require.NoError(t, lw.Close())
	lz := filepath.Join(dir, "disk.img.lz4")
	require.NoError(t, os.WriteFile(lz, lbuf.Bytes(), 0o644))

	for _, path := range []string{raw, zst, lz} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			d, err := Open(path, fsstring.EncodingUTF16)
			require.NoError(t, err)
			defer d.Close()

			vol := mountImage(t, d)
			f, err := vol.Root().LookupPath(fsstring.Literal("f"), '/')
			require.NoError(t, err)
			defer f.Release()

			h, err := filesystem.Open(f)
			require.NoError(t, err)
			defer h.Close()

			buf := make([]byte, 1024)
			n, err := h.Read(buf)
			require.NoError(t, err)
			assert.Equal(t, 1024, n)
			assert.Equal(t, byte(2), buf[0])
			assert.Equal(t, byte(3), buf[1023])
		})
	}

	t.Run("Missing", func(t *testing.T) {
		_, err := Open(filepath.Join(dir, "nope.img"), fsstring.EncodingUTF16)
		assert.Error(t, err)
	})

	t.Run("CorruptZstd", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.zst")
		require.NoError(t, os.WriteFile(bad, []byte("not zstd at all"), 0o644))
		_, err := Open(bad, fsstring.EncodingUTF16)
		assert.Error(t, err)
	})
}
