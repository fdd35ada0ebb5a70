package filesystem

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"math/bits"

	"github.com/brettbedarf/bootvfs"
)

// Handle reads the data of a node sequentially. For directories the
// position is driver defined and advanced by ReadDir. A handle holds a
// reference to its node until Close.
type Handle struct {
	node   *Node
	pos    uint64
	extent Extent // last extent returned by the driver, reused while it covers pos
}

// Open fills n and returns a handle positioned at 0.
func Open(n *Node) (*Handle, error) {
	if err := n.Fill(); err != nil {
		return nil, err
	}
	n.Retain()
	return &Handle{node: n}, nil
}

// Node returns the handle's node. No reference is taken.
func (h *Handle) Node() *Node { return h.node }

func (h *Handle) Pos() uint64 { return h.pos }

// SetPos moves the handle. Positions beyond the end are allowed and read as
// end of file.
func (h *Handle) SetPos(pos uint64) { h.pos = pos }

// Skip advances the position by delta.
func (h *Handle) Skip(delta uint64) { h.pos += delta }

// Close drops the cached extent and the node reference. Closing twice is a
// no-op.
func (h *Handle) Close() error {
	if h.node == nil {
		return nil
	}
	h.extent = Extent{}
	h.node.Release()
	h.node = nil
	return nil
}

// Read copies data from the current position into p and advances the
// position by the number of bytes read. A read that reaches the end of the
// node is short; a read at or past the end returns io.EOF.
//
// When reading a block fails, the position stays where it was.
func (h *Handle) Read(p []byte) (int, error) {
	if h.node == nil {
		return 0, fmt.Errorf("read: %w", iofs.ErrClosed)
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := h.node
	vol := n.vol
	if h.pos >= n.size {
		return 0, io.EOF
	}

	buf := p[:min(uint64(len(p)), n.size-h.pos)]
	logBS := uint64(vol.logBlocksize)
	physBS := uint64(vol.physBlocksize)
	pos := h.pos

	for len(buf) > 0 {
		lbn := pos / logBS
		if !h.extent.contains(lbn) {
			ext, err := vol.driver.GetExtent(vol, n, lbn)
			if err == nil {
				err = checkExtent(ext, lbn, logBS)
			}
			if err != nil {
				h.extent = Extent{}
				return 0, fmt.Errorf("read %s at %d: %w", n.Path(), pos, err)
			}
			h.extent = ext
		}

		inExtent := pos - h.extent.LogStart*logBS
		extentLeft := min(h.extent.LogCount*logBS-inExtent, n.size-pos)
		var copied int
		switch h.extent.Type {
		case ExtentPhysBlock:
			block, err := vol.ReadBlock(h.extent.PhysStart + inExtent/physBS)
			if err != nil {
				return 0, fmt.Errorf("read %s at %d: %w", n.Path(), pos, err)
			}
			copied = copy(buf, block[inExtent%physBS:])

		case ExtentBuffer:
			chunk := buf[:min(uint64(len(buf)), extentLeft)]
			c := 0
			if inExtent < uint64(len(h.extent.Buffer)) {
				c = copy(chunk, h.extent.Buffer[inExtent:])
			}
			clear(chunk[c:])
			copied = len(chunk)

		case ExtentSparse:
			chunk := buf[:min(uint64(len(buf)), extentLeft)]
			clear(chunk)
			copied = len(chunk)
		}
		buf = buf[copied:]
		pos += uint64(copied)
	}

	read := int(pos - h.pos)
	h.pos = pos
	return read, nil
}

func checkExtent(e Extent, lbn, logBS uint64) error {
	switch e.Type {
	case ExtentSparse, ExtentPhysBlock, ExtentBuffer:
	default:
		return fmt.Errorf("driver returned %s extent: %w", e.Type, bootvfs.ErrUnknown)
	}
	if !e.contains(lbn) {
		return fmt.Errorf("extent [%d,+%d) does not cover block %d: %w", e.LogStart, e.LogCount, lbn, bootvfs.ErrVolumeCorrupted)
	}
	// the byte offset of the extent's end must fit in a uint64
	end, carry := bits.Add64(e.LogStart, e.LogCount, 0)
	if hi, _ := bits.Mul64(end, logBS); carry != 0 || hi != 0 {
		return fmt.Errorf("extent [%d,+%d) exceeds the byte range: %w", e.LogStart, e.LogCount, bootvfs.ErrVolumeCorrupted)
	}
	return nil
}

// ReadDir returns the next entry of the handle's directory, or io.EOF after
// the last one. The caller owns a reference to the returned node.
func (h *Handle) ReadDir() (*Node, error) {
	if h.node == nil {
		return nil, fmt.Errorf("readdir: %w", iofs.ErrClosed)
	}
	n := h.node
	if n.typ != TypeDir {
		return nil, fmt.Errorf("readdir %s: %s is not a directory: %w", n.Path(), n.typ, bootvfs.ErrUnsupported)
	}
	child, err := n.vol.driver.DirRead(n.vol, n, h)
	if errors.Is(err, io.EOF) || (err == nil && child == nil) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", n.Path(), err)
	}
	return child, nil
}

// ReadDirAll opens dir and returns all its entries. The caller owns a
// reference to each returned node.
func ReadDirAll(dir *Node) ([]*Node, error) {
	h, err := Open(dir)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	var entries []*Node
	for {
		child, err := h.ReadDir()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			for _, e := range entries {
				e.Release()
			}
			return nil, err
		}
		entries = append(entries, child)
	}
}
