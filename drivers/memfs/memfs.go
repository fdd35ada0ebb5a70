// Package memfs is a driver for volumes described in memory rather than
// parsed from disk. File data is mapped onto the host's block device with
// explicit extents, kept inline, or left sparse, so the core's extent
// handling can be exercised against a real image without an on-disk
// format.
package memfs

import (
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/brettbedarf/bootvfs"
	"github.com/brettbedarf/bootvfs/config"
	"github.com/brettbedarf/bootvfs/drivers"
	"github.com/brettbedarf/bootvfs/filesystem"
	"github.com/brettbedarf/bootvfs/fsstring"
	"github.com/brettbedarf/bootvfs/internal/util"
)

// DriverName is the name memfs registers under.
const DriverName = "memfs"

// RootID is the node id of the root directory.
const RootID = 1

func init() {
	drivers.Register(DriverName, drivers.ProviderFunc(func(raw []byte) (filesystem.Driver, error) {
		if len(raw) == 0 {
			return New(""), nil
		}
		return Load(raw)
	}))
}

type memNode struct {
	id       uint64
	parent   uint64
	name     string
	typ      filesystem.NodeType
	size     uint64
	extents  []filesystem.Extent // sorted by LogStart, non-overlapping
	data     []byte              // inline content, served as one buffer extent
	mode     uint16              // permission bits
	mtime    uint32
	children []uint64
}

// FS is a volume description and the driver serving it. Build it with the
// Add methods before mounting; it must not be changed while mounted.
type FS struct {
	label   string
	phys    uint32
	log     uint32
	nameEnc fsstring.Encoding
	image   string
	nodes   map[uint64]*memNode
	nextID  uint64
}

// New returns an FS holding only an empty root directory. Names are stored
// as ISO-8859-1 and blocks default to 512 bytes.
func New(label string) *FS {
	fs := &FS{
		label:   label,
		phys:    config.DefaultPhysBlocksize,
		log:     config.DefaultLogBlocksize,
		nameEnc: fsstring.EncodingISO88591,
		nodes:   map[uint64]*memNode{},
		nextID:  RootID + 1,
	}
	fs.nodes[RootID] = &memNode{id: RootID, typ: filesystem.TypeDir, mode: 0o755}
	return fs
}

// SetBlocksize sets the block sizes applied when the volume is mounted.
func (fs *FS) SetBlocksize(phys, log uint32) *FS {
	fs.phys, fs.log = phys, log
	return fs
}

// SetNameEncoding sets the encoding names and the label are stored in.
func (fs *FS) SetNameEncoding(enc fsstring.Encoding) *FS {
	fs.nameEnc = enc
	return fs
}

// Image is the block image named by the manifest, if any.
func (fs *FS) Image() string { return fs.image }

func (fs *FS) Label() string { return fs.label }

// lookup walks a '/' separated path.
func (fs *FS) lookup(p string) (*memNode, bool) {
	cur := fs.nodes[RootID]
	for _, seg := range strings.Split(strings.Trim(path.Clean("/"+p), "/"), "/") {
		if seg == "" {
			continue
		}
		next, ok := fs.child(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func (fs *FS) child(dir *memNode, name string) (*memNode, bool) {
	for _, id := range dir.children {
		if c := fs.nodes[id]; c.name == name {
			return c, true
		}
	}
	return nil, false
}

// add links n at p, creating missing parent directories.
func (fs *FS) add(p string, n *memNode) (uint64, error) {
	clean := strings.Trim(path.Clean("/"+p), "/")
	if clean == "" {
		return 0, fmt.Errorf("memfs: add %q: path names the root", p)
	}
	dirPath, name := path.Split(clean)

	parent := fs.nodes[RootID]
	for _, seg := range strings.Split(strings.Trim(dirPath, "/"), "/") {
		if seg == "" {
			continue
		}
		next, ok := fs.child(parent, seg)
		if !ok {
			next = &memNode{id: fs.nextID, parent: parent.id, name: seg, typ: filesystem.TypeDir, mode: 0o755}
			fs.nextID++
			fs.nodes[next.id] = next
			parent.children = append(parent.children, next.id)
		}
		if next.typ != filesystem.TypeDir {
			return 0, fmt.Errorf("memfs: add %q: %s is a %s", p, seg, next.typ)
		}
		parent = next
	}
	if _, exists := fs.child(parent, name); exists {
		return 0, fmt.Errorf("memfs: add %q: already exists", p)
	}

	n.id = fs.nextID
	fs.nextID++
	n.parent = parent.id
	n.name = name
	fs.nodes[n.id] = n
	parent.children = append(parent.children, n.id)
	return n.id, nil
}

// AddDir adds an empty directory.
func (fs *FS) AddDir(p string) (uint64, error) {
	return fs.add(p, &memNode{typ: filesystem.TypeDir, mode: 0o755})
}

// AddFile adds a file of size bytes whose data lives in extents. Blocks no
// extent covers read as zeros.
func (fs *FS) AddFile(p string, size uint64, extents ...filesystem.Extent) (uint64, error) {
	sorted := slices.Clone(extents)
	slices.SortFunc(sorted, func(a, b filesystem.Extent) int {
		switch {
		case a.LogStart < b.LogStart:
			return -1
		case a.LogStart > b.LogStart:
			return 1
		}
		return 0
	})
	for i, e := range sorted {
		if e.LogCount == 0 {
			return 0, fmt.Errorf("memfs: add %q: empty extent at block %d", p, e.LogStart)
		}
		if i > 0 && sorted[i-1].LogStart+sorted[i-1].LogCount > e.LogStart {
			return 0, fmt.Errorf("memfs: add %q: extents overlap at block %d", p, e.LogStart)
		}
	}
	return fs.add(p, &memNode{typ: filesystem.TypeFile, size: size, extents: sorted, mode: 0o644})
}

// AddInline adds a file whose content is held in memory.
func (fs *FS) AddInline(p string, data []byte) (uint64, error) {
	return fs.add(p, &memNode{typ: filesystem.TypeFile, size: uint64(len(data)), data: data, mode: 0o644})
}

// AddSymlink adds a symlink. The target is kept as the link's data, the way
// most on-disk formats store long targets, and read back in the volume's
// name encoding.
func (fs *FS) AddSymlink(p, target string) (uint64, error) {
	return fs.add(p, &memNode{typ: filesystem.TypeSymlink, size: uint64(len(target)), data: []byte(target), mode: 0o777})
}

// AddSpecial adds a device, fifo or socket node. mode carries the POSIX
// type and permission bits.
func (fs *FS) AddSpecial(p string, mode uint16) (uint64, error) {
	return fs.add(p, &memNode{typ: filesystem.TypeSpecial, mode: mode})
}

// SetAttr sets the permission bits and modification time of the node at p.
func (fs *FS) SetAttr(p string, perm uint16, mtime uint32) error {
	n, ok := fs.lookup(p)
	if !ok {
		return fmt.Errorf("memfs: %q: %w", p, bootvfs.ErrNotFound)
	}
	if n.typ == filesystem.TypeSpecial {
		n.mode = n.mode&filesystem.ModeTypeMask | perm&filesystem.ModePermMask
	} else {
		n.mode = perm & filesystem.ModePermMask
	}
	n.mtime = mtime
	return nil
}

func (fs *FS) encode(s string) (fsstring.String, error) {
	return fsstring.FromGo(s, fs.nameEnc)
}

func (fs *FS) node(n *filesystem.Node) (*memNode, error) {
	if mn, ok := n.Private.(*memNode); ok {
		return mn, nil
	}
	mn, ok := fs.nodes[n.ID()]
	if !ok {
		return nil, fmt.Errorf("memfs: no node %d: %w", n.ID(), bootvfs.ErrVolumeCorrupted)
	}
	return mn, nil
}

func (fs *FS) Name() string { return DriverName }

func (fs *FS) VolumeMount(vol *filesystem.Volume) (uint64, error) {
	if err := vol.SetBlocksize(fs.phys, fs.log); err != nil {
		return 0, err
	}
	label, err := fs.encode(fs.label)
	if err != nil {
		return 0, err
	}
	if err := vol.SetLabel(label); err != nil {
		return 0, err
	}
	vol.Private = fs
	logger := util.GetLogger("memfs")
	logger.Debug().Str("label", fs.label).Int("nodes", len(fs.nodes)).Msg("Mounted")
	return RootID, nil
}

func (fs *FS) VolumeFree(vol *filesystem.Volume) {
	vol.Private = nil
}

func (fs *FS) VolumeStat(vol *filesystem.Volume) (filesystem.VolumeStat, error) {
	var used uint64
	for _, n := range fs.nodes {
		used += fs.usedBytes(n, uint64(vol.LogBlocksize()))
	}
	return filesystem.VolumeStat{TotalBytes: used}, nil
}

func (fs *FS) usedBytes(n *memNode, logBS uint64) uint64 {
	if n.data != nil {
		return uint64(len(n.data))
	}
	var used uint64
	for _, e := range n.extents {
		if e.Type != filesystem.ExtentSparse {
			used += e.LogCount * logBS
		}
	}
	return used
}

func (fs *FS) NodeFill(vol *filesystem.Volume, n *filesystem.Node) (filesystem.FillInfo, error) {
	mn, err := fs.node(n)
	if err != nil {
		return filesystem.FillInfo{}, err
	}
	n.Private = mn
	return filesystem.FillInfo{Type: mn.typ, Size: mn.size}, nil
}

func (fs *FS) NodeFree(*filesystem.Volume, *filesystem.Node) {}

func (fs *FS) NodeStat(vol *filesystem.Volume, n *filesystem.Node, sb *filesystem.NodeStat) error {
	mn, err := fs.node(n)
	if err != nil {
		return err
	}
	sb.UsedBytes = fs.usedBytes(mn, uint64(vol.LogBlocksize()))
	mode := mn.mode
	if mn.typ != filesystem.TypeSpecial {
		mode = filesystem.ModeType(mn.typ) | mn.mode&filesystem.ModePermMask
	}
	sb.SetMode(mode)
	sb.SetTime(filesystem.TimeChange, mn.mtime)
	sb.SetTime(filesystem.TimeModify, mn.mtime)
	sb.SetTime(filesystem.TimeAccess, mn.mtime)
	return nil
}

func (fs *FS) GetExtent(vol *filesystem.Volume, n *filesystem.Node, lbn uint64) (filesystem.Extent, error) {
	mn, err := fs.node(n)
	if err != nil {
		return filesystem.Extent{}, err
	}
	logBS := uint64(vol.LogBlocksize())
	blocks := (mn.size + logBS - 1) / logBS

	if mn.data != nil {
		return filesystem.BufferExtent(0, max(blocks, 1), mn.data), nil
	}

	i, found := slices.BinarySearchFunc(mn.extents, lbn, func(e filesystem.Extent, lbn uint64) int {
		switch {
		case e.LogStart+e.LogCount <= lbn:
			return -1
		case e.LogStart > lbn:
			return 1
		}
		return 0
	})
	if found {
		return mn.extents[i], nil
	}

	// a hole up to the next mapped extent or the end of the file
	end := max(blocks, lbn+1)
	if i < len(mn.extents) {
		end = mn.extents[i].LogStart
	}
	return filesystem.SparseExtent(lbn, end-lbn), nil
}

func (fs *FS) create(dir *filesystem.Node, child *memNode) (*filesystem.Node, error) {
	name, err := fs.encode(child.name)
	if err != nil {
		return nil, err
	}
	return filesystem.Create(dir, child.id, child.typ, name)
}

func (fs *FS) DirLookup(vol *filesystem.Volume, dir *filesystem.Node, name fsstring.String) (*filesystem.Node, error) {
	mn, err := fs.node(dir)
	if err != nil {
		return nil, err
	}
	for _, id := range mn.children {
		child := fs.nodes[id]
		onDisk, err := fs.encode(child.name)
		if err != nil {
			return nil, err
		}
		if fsstring.Equal(name, onDisk) {
			return fs.create(dir, child)
		}
	}
	return nil, fmt.Errorf("memfs: %q: %w", name, bootvfs.ErrNotFound)
}

// DirRead uses the handle position as an index into the directory.
func (fs *FS) DirRead(vol *filesystem.Volume, dir *filesystem.Node, h *filesystem.Handle) (*filesystem.Node, error) {
	mn, err := fs.node(dir)
	if err != nil {
		return nil, err
	}
	if h.Pos() >= uint64(len(mn.children)) {
		return nil, io.EOF
	}
	child := fs.nodes[mn.children[h.Pos()]]
	h.Skip(1)
	return fs.create(dir, child)
}

// Readlink returns the stored target in the name encoding, converted to the
// host encoding like node names are.
func (fs *FS) Readlink(vol *filesystem.Volume, n *filesystem.Node) (fsstring.String, error) {
	mn, err := fs.node(n)
	if err != nil {
		return fsstring.String{}, err
	}
	if maxLen := vol.Config().MaxPathLen; maxLen > 0 && len(mn.data) > maxLen {
		return fsstring.String{}, fmt.Errorf("memfs: symlink %d: target of %d bytes: %w", mn.id, len(mn.data), bootvfs.ErrVolumeCorrupted)
	}
	target, err := fs.encode(string(mn.data))
	if err != nil {
		return fsstring.String{}, err
	}
	return target.DupCoerce(vol.HostEncoding())
}

var _ filesystem.Driver = (*FS)(nil)
