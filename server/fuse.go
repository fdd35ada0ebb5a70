package server

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brettbedarf/bootvfs/config"
	"github.com/brettbedarf/bootvfs/filesystem"
	"github.com/brettbedarf/bootvfs/fsstring"
	"github.com/brettbedarf/bootvfs/internal/util"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v4"
)

// registered is a node the kernel knows by a FUSE NodeId. It holds one
// node reference for all of the kernel's lookups.
type registered struct {
	node    *filesystem.Node
	lookups uint64
}

// dirStream serves FUSE readdir offsets from a driver directory handle,
// whose positions are driver defined and cannot be seeked to.
type dirStream struct {
	h       *filesystem.Handle
	entries []fuse.DirEntry
	done    bool
}

// FuseRaw implements the low-level FUSE wire protocol on top of a mounted
// volume. It is read-only.
//
// Volumes are not safe for concurrent use, so every request holds mu while
// it touches the volume.
// See https://www.man7.org/linux//man-pages/man4/fuse.4.html
type FuseRaw struct {
	fuse.RawFileSystem
	vol    *filesystem.Volume
	cfg    *config.Config
	server *fuse.Server
	mu     sync.Mutex

	lastNodeID atomic.Uint64
	nodes      *xsync.Map[uint64, *registered] // FUSE NodeId to node
	byID       *xsync.Map[uint64, uint64]      // driver node id to FUSE NodeId
	lastFh     atomic.Uint64
	files      *xsync.Map[uint64, *filesystem.Handle]
	dirs       *xsync.Map[uint64, *dirStream]
}

// NewFuseRaw serves vol. The root directory is registered as
// fuse.FUSE_ROOT_ID and keeps its own reference until Close.
func NewFuseRaw(vol *filesystem.Volume, cfg *config.Config) *FuseRaw {
	r := &FuseRaw{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		vol:           vol,
		cfg:           cfg,
		nodes:         xsync.NewMap[uint64, *registered](),
		byID:          xsync.NewMap[uint64, uint64](),
		files:         xsync.NewMap[uint64, *filesystem.Handle](),
		dirs:          xsync.NewMap[uint64, *dirStream](),
	}
	root := vol.Root()
	root.Retain()
	r.nodes.Store(fuse.FUSE_ROOT_ID, &registered{node: root, lookups: 1})
	r.byID.Store(root.ID(), fuse.FUSE_ROOT_ID)
	r.lastNodeID.Store(fuse.FUSE_ROOT_ID)
	return r
}

func (r *FuseRaw) Init(s *fuse.Server) {
	logger := util.GetLogger("Fuse.Init")
	logger.Debug().Msg("FUSE initialized")
	r.server = s
}

func (r *FuseRaw) OnUnmount() {
	logger := util.GetLogger("Fuse.OnUnmount")
	logger.Info().Msg("FUSE unmounted")
}

func (r *FuseRaw) String() string {
	return "bootvfs"
}

// Close drops every node and handle reference the kernel was holding. The
// volume can be unmounted afterwards.
func (r *FuseRaw) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.files.Range(func(fh uint64, h *filesystem.Handle) bool {
		h.Close()
		r.files.Delete(fh)
		return true
	})
	r.dirs.Range(func(fh uint64, d *dirStream) bool {
		d.h.Close()
		r.dirs.Delete(fh)
		return true
	})
	r.nodes.Range(func(id uint64, reg *registered) bool {
		reg.node.Release()
		r.nodes.Delete(id)
		return true
	})
	r.byID.Clear()
}

func (r *FuseRaw) node(nodeID uint64) (*filesystem.Node, fuse.Status) {
	reg, ok := r.nodes.Load(nodeID)
	if !ok {
		return nil, fuse.ENOENT
	}
	return reg.node, fuse.OK
}

// register records a lookup of n, which carries a reference owned by the
// caller, and returns its FUSE NodeId.
func (r *FuseRaw) register(n *filesystem.Node) uint64 {
	if nodeID, ok := r.byID.Load(n.ID()); ok {
		if reg, ok := r.nodes.Load(nodeID); ok && reg.node == n {
			reg.lookups++
			n.Release()
			return nodeID
		}
	}
	nodeID := r.lastNodeID.Add(1)
	r.nodes.Store(nodeID, &registered{node: n, lookups: 1})
	r.byID.Store(n.ID(), nodeID)
	return nodeID
}

func (r *FuseRaw) timeout(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func (r *FuseRaw) fillAttr(n *filesystem.Node, attr *fuse.Attr) fuse.Status {
	*attr = fuse.Attr{
		Ino:     n.ID(),
		Size:    n.Size(),
		Nlink:   1,
		Blksize: r.vol.LogBlocksize(),
		Owner: fuse.Owner{
			Uid: uint32(os.Getuid()),
			Gid: uint32(os.Getgid()),
		},
	}
	sb := filesystem.NodeStat{
		StoreMode: func(mode uint16) { attr.Mode = uint32(mode) },
		StoreTime: func(which filesystem.TimeKind, ts uint32) {
			switch which {
			case filesystem.TimeAccess:
				attr.Atime = uint64(ts)
			case filesystem.TimeModify:
				attr.Mtime = uint64(ts)
			case filesystem.TimeChange:
				attr.Ctime = uint64(ts)
			}
		},
	}
	if err := n.Stat(&sb); err != nil {
		return toStatus(err)
	}
	attr.Size = n.Size()
	attr.Blocks = (sb.UsedBytes + 511) / 512
	if attr.Mode&syscall.S_IFMT == 0 {
		attr.Mode |= uint32(filesystem.ModeType(n.Type()))
	}
	if n.Type() == filesystem.TypeDir {
		attr.Nlink = 2
	}
	return fuse.OK
}

// Lookup is called by the kernel when the VFS wants to know about a file
// inside a directory.
func (r *FuseRaw) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	logger := util.GetLogger("Fuse.Lookup")
	r.mu.Lock()
	defer r.mu.Unlock()

	dir, st := r.node(header.NodeId)
	if !st.Ok() {
		return st
	}
	fname, err := fsstring.FromGo(name, r.vol.HostEncoding())
	if err != nil {
		return fuse.ENOENT
	}
	child, err := dir.Lookup(fname)
	if err != nil {
		logger.Debug().Err(err).Uint64("parent", header.NodeId).Str("name", name).Msg("Lookup failed")
		return toStatus(err)
	}
	if st := r.fillAttr(child, &out.Attr); !st.Ok() {
		child.Release()
		return st
	}
	out.NodeId = r.register(child)
	out.SetAttrTimeout(r.timeout(r.cfg.AttrTimeout))
	out.SetEntryTimeout(r.timeout(r.cfg.EntryTimeout))
	return fuse.OK
}

// Forget is called when the kernel discards entries from its dentry cache.
func (r *FuseRaw) Forget(nodeID, nlookup uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.nodes.Load(nodeID)
	if !ok || nodeID == fuse.FUSE_ROOT_ID {
		return
	}
	if nlookup < reg.lookups {
		reg.lookups -= nlookup
		return
	}
	r.nodes.Delete(nodeID)
	if cur, ok := r.byID.Load(reg.node.ID()); ok && cur == nodeID {
		r.byID.Delete(reg.node.ID())
	}
	reg.node.Release()
}

func (r *FuseRaw) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, st := r.node(input.NodeId)
	if !st.Ok() {
		return st
	}
	if st := r.fillAttr(n, &out.Attr); !st.Ok() {
		return st
	}
	out.SetTimeout(r.timeout(r.cfg.AttrTimeout))
	return fuse.OK
}

func (r *FuseRaw) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	if input.Mask&2 != 0 { // W_OK
		return fuse.Status(syscall.EROFS)
	}
	return fuse.OK
}

func (r *FuseRaw) Readlink(cancel <-chan struct{}, header *fuse.InHeader) ([]byte, fuse.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, st := r.node(header.NodeId)
	if !st.Ok() {
		return nil, st
	}
	target, err := n.Readlink()
	if err != nil {
		return nil, toStatus(err)
	}
	s, err := target.Decode()
	if err != nil {
		return nil, fuse.EIO
	}
	return []byte(s), fuse.OK
}

func (r *FuseRaw) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	if input.Flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		return fuse.Status(syscall.EROFS)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n, st := r.node(input.NodeId)
	if !st.Ok() {
		return st
	}
	if n.Type() == filesystem.TypeDir {
		return fuse.Status(syscall.EISDIR)
	}
	h, err := filesystem.Open(n)
	if err != nil {
		return toStatus(err)
	}
	fh := r.lastFh.Add(1)
	r.files.Store(fh, h)
	out.Fh = fh
	out.OpenFlags = fuse.FOPEN_KEEP_CACHE
	return fuse.OK
}

func (r *FuseRaw) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.files.Load(input.Fh)
	if !ok {
		return nil, fuse.Status(syscall.EBADF)
	}
	h.SetPos(input.Offset)
	n, err := h.Read(buf[:min(len(buf), int(input.Size))])
	if err != nil && !errors.Is(err, io.EOF) {
		logger := util.GetLogger("Fuse.Read")
		logger.Error().Err(err).Uint64("fh", input.Fh).Uint64("offset", input.Offset).Msg("Read failed")
		return nil, toStatus(err)
	}
	return fuse.ReadResultData(buf[:n]), fuse.OK
}

func (r *FuseRaw) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.files.LoadAndDelete(input.Fh); ok {
		h.Close()
	}
}

func (r *FuseRaw) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, st := r.node(input.NodeId)
	if !st.Ok() {
		return st
	}
	if err := n.Fill(); err != nil {
		return toStatus(err)
	}
	if n.Type() != filesystem.TypeDir {
		return fuse.Status(syscall.ENOTDIR)
	}
	h, err := filesystem.Open(n)
	if err != nil {
		return toStatus(err)
	}
	parentIno := n.ID()
	if p, err := n.Lookup(fsstring.Literal("..")); err == nil {
		parentIno = p.ID()
		p.Release()
	}
	fh := r.lastFh.Add(1)
	r.dirs.Store(fh, &dirStream{
		h: h,
		entries: []fuse.DirEntry{
			{Name: ".", Mode: syscall.S_IFDIR, Ino: n.ID()},
			{Name: "..", Mode: syscall.S_IFDIR, Ino: parentIno},
		},
	})
	out.Fh = fh
	return fuse.OK
}

// fill reads entries from the driver until index i is available or the
// directory ends.
func (d *dirStream) fill(i int) error {
	for !d.done && len(d.entries) <= i {
		child, err := d.h.ReadDir()
		if errors.Is(err, io.EOF) {
			d.done = true
			break
		}
		if err != nil {
			return err
		}
		name, err := child.Name().Decode()
		if err == nil {
			if err = child.Fill(); err == nil {
				d.entries = append(d.entries, fuse.DirEntry{
					Name: name,
					Mode: uint32(filesystem.ModeType(child.Type())),
					Ino:  child.ID(),
				})
			}
		}
		child.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *FuseRaw) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.dirs.Load(input.Fh)
	if !ok {
		return fuse.Status(syscall.EBADF)
	}
	for i := int(input.Offset); ; i++ {
		if err := d.fill(i); err != nil {
			logger := util.GetLogger("Fuse.ReadDir")
			logger.Error().Err(err).Uint64("fh", input.Fh).Msg("ReadDir failed")
			return toStatus(err)
		}
		if i >= len(d.entries) {
			return fuse.OK
		}
		if !out.AddDirEntry(d.entries[i]) {
			// buffer full; the kernel asks again from the next offset
			return fuse.OK
		}
	}
}

func (r *FuseRaw) ReleaseDir(input *fuse.ReleaseIn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.dirs.LoadAndDelete(input.Fh); ok {
		d.h.Close()
	}
}

func (r *FuseRaw) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.vol.Stat()
	if err != nil {
		return toStatus(err)
	}
	bs := uint64(r.vol.LogBlocksize())
	out.Bsize = uint32(bs)
	out.Frsize = uint32(bs)
	out.Blocks = st.TotalBytes / bs
	out.Bfree = st.FreeBytes / bs
	out.Bavail = out.Bfree
	out.NameLen = 255
	out.Files = uint64(r.vol.LiveNodes())
	return fuse.OK
}
