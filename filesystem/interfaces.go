package filesystem

import "github.com/brettbedarf/bootvfs/fsstring"

// HostServices is implemented once per host environment. It is the only
// way the layer reaches the storage device.
type HostServices interface {
	// NativeEncoding is the string encoding node names and labels are
	// converted to.
	NativeEncoding() fsstring.Encoding

	// ChangeBlocksize is called before the volume's block sizes change so
	// the host can drop anything sized for the old values.
	ChangeBlocksize(vol *Volume, oldPhys, oldLog, newPhys, newLog uint32)

	// ReadBlock synchronously reads one physical block. The returned slice
	// must hold at least PhysBlocksize bytes and stays valid until the next
	// call. Failures should wrap bootvfs.ErrIO.
	ReadBlock(vol *Volume, physBlock uint64) ([]byte, error)
}

// Driver is implemented once per on-disk filesystem format. The core calls
// it for everything format specific and never interprets on-disk data
// itself. Drivers keep their own state in Volume.Private and Node.Private.
type Driver interface {
	// Name is the display name of the filesystem type.
	Name() string

	// VolumeMount checks the volume, may adjust block sizes, label and
	// Private, and returns the id of the root directory.
	VolumeMount(vol *Volume) (rootID uint64, err error)
	// VolumeFree releases driver state. It is also called after a failed
	// VolumeMount and must cope with partial state.
	VolumeFree(vol *Volume)
	VolumeStat(vol *Volume) (VolumeStat, error)

	// NodeFill reports the type and size of a node. Called at most once
	// per node.
	NodeFill(vol *Volume, n *Node) (FillInfo, error)
	// NodeFree releases driver state of a node whose refcount reached zero.
	NodeFree(vol *Volume, n *Node)
	NodeStat(vol *Volume, n *Node, sb *NodeStat) error
	// GetExtent returns an extent covering logical block lbn. The core only
	// asks for blocks inside the node's size.
	GetExtent(vol *Volume, n *Node, lbn uint64) (Extent, error)

	// DirLookup returns a new reference to the child of dir called name,
	// or an error wrapping bootvfs.ErrNotFound.
	DirLookup(vol *Volume, dir *Node, name fsstring.String) (*Node, error)
	// DirRead returns a new reference to the next entry of dir, using h to
	// keep its position between calls, or io.EOF after the last entry.
	DirRead(vol *Volume, dir *Node, h *Handle) (*Node, error)
	// Readlink returns the target path of a symlink, '/' separated.
	Readlink(vol *Volume, n *Node) (fsstring.String, error)
}
