// Package blockdev provides filesystem.HostServices over a disk image or
// any other io.ReaderAt.
package blockdev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/brettbedarf/bootvfs"
	"github.com/brettbedarf/bootvfs/filesystem"
	"github.com/brettbedarf/bootvfs/fsstring"
	"github.com/brettbedarf/bootvfs/internal/util"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Device reads blocks from an io.ReaderAt. It serves one volume at a time
// and is not safe for concurrent use.
type Device struct {
	r      io.ReaderAt
	closer io.Closer
	enc    fsstring.Encoding
	buf    []byte
	reads  uint64
	logger util.Logger
}

// New returns a device reading from r that reports enc as the host's
// native encoding.
func New(r io.ReaderAt, enc fsstring.Encoding) *Device {
	return &Device{r: r, enc: enc, logger: util.GetLogger("BlockDev")}
}

// Open opens an image file or an http(s) URL. Images ending in .zst or .lz4
// are decompressed into memory first.
func Open(path string, enc fsstring.Encoding) (*Device, error) {
	r, closer, err := OpenImage(path)
	if err != nil {
		return nil, err
	}
	d := New(r, enc)
	d.closer = closer
	return d, nil
}

// OpenImage returns a reader over the uncompressed contents of the image at
// path. The closer is nil for images held in memory or read over HTTP.
func OpenImage(path string) (io.ReaderAt, io.Closer, error) {
	if isURL(path) {
		return openHTTPImage(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open image: %w", err)
	}
	if !compressed(path) {
		return f, f, nil
	}
	defer f.Close()
	data, err := decompress(path, f)
	if err != nil {
		return nil, nil, err
	}
	return bytes.NewReader(data), nil, nil
}

func openHTTPImage(rawURL string) (io.ReaderAt, io.Closer, error) {
	src, err := NewHTTPSource(rawURL, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	if !compressed(src.URL) {
		return src, nil, nil
	}

	body, err := src.Open(context.Background())
	if err != nil {
		return nil, nil, err
	}
	defer body.Close()
	data, err := decompress(src.URL, body)
	if err != nil {
		return nil, nil, err
	}
	return bytes.NewReader(data), nil, nil
}

func compressed(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd", ".lz4":
		return true
	}
	return false
}

func decompress(path string, r io.Reader) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if strings.ToLower(filepath.Ext(path)) == ".lz4" {
		data, err = io.ReadAll(lz4.NewReader(r))
	} else {
		data, err = decompressZstd(r)
	}
	if err != nil {
		return nil, fmt.Errorf("decompress image %s: %w", path, err)
	}
	return data, nil
}

func decompressZstd(r io.Reader) ([]byte, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

func (d *Device) NativeEncoding() fsstring.Encoding { return d.enc }

// ChangeBlocksize drops the block buffer sized for the old block size.
func (d *Device) ChangeBlocksize(vol *filesystem.Volume, oldPhys, oldLog, newPhys, newLog uint32) {
	d.logger.Debug().
		Uint32("old_phys", oldPhys).
		Uint32("new_phys", newPhys).
		Uint32("new_log", newLog).
		Msg("Block size change")
	d.buf = nil
}

// ReadBlock reads physical block bno. The returned slice is reused by the
// next call.
func (d *Device) ReadBlock(vol *filesystem.Volume, bno uint64) ([]byte, error) {
	bs := int(vol.PhysBlocksize())
	if len(d.buf) != bs {
		d.buf = make([]byte, bs)
	}
	d.reads++

	n, err := d.r.ReadAt(d.buf, int64(bno)*int64(bs))
	if n == bs {
		return d.buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = fmt.Errorf("short read of %d bytes", n)
	}
	d.logger.Debug().Err(err).Uint64("block", bno).Msg("Block read failed")
	return nil, fmt.Errorf("block %d: %w: %w", bno, bootvfs.ErrIO, err)
}

// Reads returns the number of blocks read so far.
func (d *Device) Reads() uint64 { return d.reads }

// Close closes the underlying image file, if the device opened one.
func (d *Device) Close() error {
	if d.closer == nil {
		return nil
	}
	err := d.closer.Close()
	d.closer = nil
	return err
}

var _ filesystem.HostServices = (*Device)(nil)
