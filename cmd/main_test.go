package main

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brettbedarf/bootvfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

const manifest = `
label: ESP
block_size: 512
image: esp.img
nodes:
  - path: EFI/BOOT/BOOTX64.EFI
    size: 1000
    extents:
      - {logical: 0, physical: 3, count: 2}
  - path: loader/loader.conf
    data: "default arch\n"
    mtime: 1700000000
  - path: current
    type: symlink
    target: loader/loader.conf
`

// writeVolume writes the manifest and an eight block image whose bytes
// all hold their block number.
func writeVolume(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	img := make([]byte, 8*512)
	for i := range img {
		img[i] = byte(i / 512)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "esp.img"), img, 0o644))
	path := filepath.Join(dir, "esp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), err
}

func TestRun_Ls(t *testing.T) {
	path := writeVolume(t)

	out, err := runCLI(t, "ls", path)
	require.NoError(t, err)
	assert.Contains(t, out, "d          0 EFI")
	assert.Contains(t, out, "d          0 loader")
	assert.Contains(t, out, "current -> loader/loader.conf")

	out, err = runCLI(t, "ls", path, "/EFI/BOOT")
	require.NoError(t, err)
	assert.Equal(t, "-       1000 BOOTX64.EFI\n", out)
}

func TestRun_Cat(t *testing.T) {
	path := writeVolume(t)

	out, err := runCLI(t, "cat", path, "current")
	require.NoError(t, err)
	assert.Equal(t, "default arch\n", out)

	out, err = runCLI(t, "cat", path, "EFI/BOOT/BOOTX64.EFI")
	require.NoError(t, err)
	require.Len(t, out, 1000)
	assert.Equal(t, byte(3), out[0])
	assert.Equal(t, byte(4), out[999])

	_, err = runCLI(t, "cat", path, "EFI")
	assert.ErrorContains(t, err, "is a directory")

	_, err = runCLI(t, "cat", path, "missing")
	assert.Error(t, err)
}

func TestRun_Sum(t *testing.T) {
	path := writeVolume(t)

	out, err := runCLI(t, "sum", path, "loader/loader.conf")
	require.NoError(t, err)

	want := blake3.Sum256([]byte("default arch\n"))
	assert.Equal(t, hex.EncodeToString(want[:])+"  loader/loader.conf\n", out)
}

func TestRun_Stat(t *testing.T) {
	path := writeVolume(t)

	out, err := runCLI(t, "stat", path, "current")
	require.NoError(t, err)
	assert.Contains(t, out, "Type: symlink")
	assert.Contains(t, out, "Target: loader/loader.conf")

	out, err = runCLI(t, "stat", path, "loader/loader.conf")
	require.NoError(t, err)
	assert.Contains(t, out, "Size: 13")
	assert.Contains(t, out, "Modify: 2023-11-14T22:13:20Z")
}

func TestRun_Df(t *testing.T) {
	path := writeVolume(t)

	out, err := runCLI(t, "df", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Label: ESP")
	assert.Contains(t, out, "Driver: memfs")
	assert.Contains(t, out, "Block size: 512/512")
}

func TestRun_Errors(t *testing.T) {
	path := writeVolume(t)

	_, err := runCLI(t)
	assert.Error(t, err)

	_, err = runCLI(t, "frobnicate", path)
	assert.ErrorContains(t, err, "unknown command")

	_, err = runCLI(t, "cat", path)
	assert.ErrorContains(t, err, "expected exactly one path")

	_, err = runCLI(t, "--driver", "ext9", "ls", path)
	assert.Error(t, err)

	_, err = runCLI(t, "ls", filepath.Join(t.TempDir(), "none.yaml"))
	assert.ErrorContains(t, err, "read manifest")

	_, err = runCLI(t, "-h")
	assert.NoError(t, err)
}

func TestRun_Encodings(t *testing.T) {
	path := writeVolume(t)

	for _, enc := range []string{"iso-8859-1", "utf-16"} {
		out, err := runCLI(t, "--encoding", enc, "cat", path, "current")
		require.NoError(t, err, enc)
		assert.Equal(t, "default arch\n", out, enc)
	}

	// ISO-8859-1 names do not convert to a UTF-8 host
	_, err := runCLI(t, "--encoding", "utf-8", "ls", path)
	assert.ErrorIs(t, err, bootvfs.ErrUnsupported)

	utf8Manifest := filepath.Join(filepath.Dir(path), "utf8.yaml")
	require.NoError(t, os.WriteFile(utf8Manifest, []byte("name_encoding: utf-8\n"+manifest), 0o644))
	out, err := runCLI(t, "--encoding", "utf-8", "cat", utf8Manifest, "current")
	require.NoError(t, err)
	assert.Equal(t, "default arch\n", out)

	_, err = runCLI(t, "--encoding", "ebcdic", "ls", path)
	assert.Error(t, err)
}

func TestRun_ConfigFile(t *testing.T) {
	path := writeVolume(t)
	cfgPath := filepath.Join(t.TempDir(), "bootvfs.jsonc")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{
		// current needs a single hop
		"max_symlink_depth": 1,
		"host_encoding": "iso-8859-1"
	}`), 0o644))

	out, err := runCLI(t, "-c", cfgPath, "cat", path, "current")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "default"))
}
