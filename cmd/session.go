package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brettbedarf/bootvfs/config"
	"github.com/brettbedarf/bootvfs/drivers"
	"github.com/brettbedarf/bootvfs/drivers/memfs"
	"github.com/brettbedarf/bootvfs/filesystem"
	"github.com/brettbedarf/bootvfs/fsstring"
	"github.com/brettbedarf/bootvfs/hosts/blockdev"
	"github.com/zeebo/blake3"
)

// session is one mounted volume and the host device under it.
type session struct {
	dev *blockdev.Device
	vol *filesystem.Volume
}

func openSession(cfg *config.Config, opts *options, manifestPath string) (*session, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	drv, err := drivers.Default.NewDriver(opts.driver, raw)
	if err != nil {
		return nil, err
	}

	enc, err := fsstring.ParseEncoding(cfg.HostEncoding)
	if err != nil {
		return nil, err
	}

	image := opts.image
	if fs, ok := drv.(*memfs.FS); ok && image == "" && fs.Image() != "" {
		image = fs.Image()
		if !filepath.IsAbs(image) && !strings.Contains(image, "://") {
			image = filepath.Join(filepath.Dir(manifestPath), image)
		}
	}

	var dev *blockdev.Device
	if image == "" {
		dev = blockdev.New(bytes.NewReader(nil), enc)
	} else if dev, err = blockdev.Open(image, enc); err != nil {
		return nil, err
	}

	vol, err := filesystem.Mount(cfg, image, dev, drv)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return &session{dev: dev, vol: vol}, nil
}

func (s *session) close() {
	s.vol.Unmount() // nolint:errcheck
	s.dev.Close()   // nolint:errcheck
}

// lookup finds path without following a final symlink.
func (s *session) lookup(path string) (*filesystem.Node, error) {
	p, err := fsstring.FromGo(path, s.vol.HostEncoding())
	if err != nil {
		return nil, err
	}
	n, err := s.vol.Root().LookupPath(p, '/')
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// resolve finds path and follows symlinks.
func (s *session) resolve(path string) (*filesystem.Node, error) {
	n, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	defer n.Release()
	r, err := n.Resolve()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func typeChar(t filesystem.NodeType) byte {
	switch t {
	case filesystem.TypeDir:
		return 'd'
	case filesystem.TypeSymlink:
		return 'l'
	case filesystem.TypeSpecial:
		return 's'
	default:
		return '-'
	}
}

func (s *session) ls(w io.Writer, path string) error {
	n, err := s.resolve(path)
	if err != nil {
		return err
	}
	defer n.Release()

	if n.Type() != filesystem.TypeDir {
		fmt.Fprintf(w, "%c %10d %s\n", typeChar(n.Type()), n.Size(), path)
		return nil
	}

	entries, err := filesystem.ReadDirAll(n)
	if err != nil {
		return err
	}
	defer func() {
		for _, e := range entries {
			e.Release()
		}
	}()
	for _, e := range entries {
		if err := e.Fill(); err != nil {
			return err
		}
		line := fmt.Sprintf("%c %10d %s", typeChar(e.Type()), e.Size(), e.Name())
		if e.Type() == filesystem.TypeSymlink {
			if target, err := e.Readlink(); err == nil {
				line += " -> " + target.String()
			}
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func (s *session) copyFile(w io.Writer, path string) error {
	n, err := s.resolve(path)
	if err != nil {
		return err
	}
	defer n.Release()
	if n.Type() == filesystem.TypeDir {
		return fmt.Errorf("%s: is a directory", path)
	}

	h, err := filesystem.Open(n)
	if err != nil {
		return err
	}
	defer h.Close()
	_, err = io.Copy(w, h)
	return err
}

func (s *session) cat(w io.Writer, path string) error {
	return s.copyFile(w, path)
}

func (s *session) sum(w io.Writer, path string) error {
	hasher := blake3.New()
	if err := s.copyFile(hasher, path); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s  %s\n", hex.EncodeToString(hasher.Sum(nil)), path)
	return nil
}

func (s *session) stat(w io.Writer, path string) error {
	n, err := s.lookup(path)
	if err != nil {
		return err
	}
	defer n.Release()

	var mode uint16
	times := map[filesystem.TimeKind]uint32{}
	sb := filesystem.NodeStat{
		StoreMode: func(m uint16) { mode = m },
		StoreTime: func(k filesystem.TimeKind, ts uint32) { times[k] = ts },
	}
	if err := n.Stat(&sb); err != nil {
		return err
	}

	fmt.Fprintf(w, "  Node: %d\n", n.ID())
	fmt.Fprintf(w, "  Type: %s\n", n.Type())
	fmt.Fprintf(w, "  Size: %d\n", n.Size())
	fmt.Fprintf(w, "  Used: %d\n", sb.UsedBytes)
	fmt.Fprintf(w, "  Mode: %06o\n", mode)
	fmt.Fprintf(w, "Modify: %s\n", time.Unix(int64(times[filesystem.TimeModify]), 0).UTC().Format(time.RFC3339))
	if n.Type() == filesystem.TypeSymlink {
		target, err := n.Readlink()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Target: %s\n", target)
	}
	return nil
}

func (s *session) df(w io.Writer) error {
	st, err := s.vol.Stat()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Label: %s\n", s.vol.Label())
	fmt.Fprintf(w, "Driver: %s\n", s.vol.Driver().Name())
	fmt.Fprintf(w, "Block size: %d/%d\n", s.vol.PhysBlocksize(), s.vol.LogBlocksize())
	fmt.Fprintf(w, "Total: %d\nFree: %d\n", st.TotalBytes, st.FreeBytes)
	return nil
}
