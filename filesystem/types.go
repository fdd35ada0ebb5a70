package filesystem

import "fmt"

// NodeType is the kind of directory entry a Node represents.
type NodeType int

const (
	// TypeUnknown is only valid until the node has been filled.
	TypeUnknown NodeType = iota
	TypeFile
	TypeDir
	TypeSymlink
	TypeSpecial
)

func (t NodeType) String() string {
	switch t {
	case TypeUnknown:
		return "unknown"
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	case TypeSymlink:
		return "symlink"
	case TypeSpecial:
		return "special"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// POSIX file type bits as reported through NodeStat.StoreMode.
const (
	ModeTypeMask = 0o170000
	ModeFifo     = 0o010000
	ModeChar     = 0o020000
	ModeDir      = 0o040000
	ModeBlock    = 0o060000
	ModeRegular  = 0o100000
	ModeSymlink  = 0o120000
	ModeSocket   = 0o140000
	ModePermMask = 0o7777
)

// ModeType returns the POSIX file type bits for t. Special nodes have no
// single type and report 0.
func ModeType(t NodeType) uint16 {
	switch t {
	case TypeFile:
		return ModeRegular
	case TypeDir:
		return ModeDir
	case TypeSymlink:
		return ModeSymlink
	default:
		return 0
	}
}

// ExtentType tells where the data of an Extent lives.
type ExtentType int

const (
	// ExtentInvalid is the placeholder of a handle that has not looked up
	// an extent yet. Drivers must never return it.
	ExtentInvalid ExtentType = iota
	// ExtentSparse covers blocks that read as zeros.
	ExtentSparse
	// ExtentPhysBlock covers blocks stored contiguously on the volume.
	ExtentPhysBlock
	// ExtentBuffer covers blocks the driver synthesized in memory.
	ExtentBuffer
)

func (t ExtentType) String() string {
	switch t {
	case ExtentInvalid:
		return "invalid"
	case ExtentSparse:
		return "sparse"
	case ExtentPhysBlock:
		return "physblock"
	case ExtentBuffer:
		return "buffer"
	default:
		return fmt.Sprintf("extent(%d)", int(t))
	}
}

// Extent maps the logical blocks [LogStart, LogStart+LogCount) of a node's
// data. Logical blocks are LogBlocksize bytes, PhysStart counts physical
// blocks of PhysBlocksize bytes.
type Extent struct {
	Type      ExtentType
	LogStart  uint64
	LogCount  uint64
	PhysStart uint64 // ExtentPhysBlock only
	// Buffer holds the data of an ExtentBuffer. It belongs to the extent and
	// is dropped together with it. Bytes missing at the end read as zeros.
	Buffer []byte
}

// SparseExtent returns a zero-filled extent.
func SparseExtent(logStart, logCount uint64) Extent {
	return Extent{Type: ExtentSparse, LogStart: logStart, LogCount: logCount}
}

// PhysExtent returns an extent stored at physStart on the volume.
func PhysExtent(logStart, logCount, physStart uint64) Extent {
	return Extent{Type: ExtentPhysBlock, LogStart: logStart, LogCount: logCount, PhysStart: physStart}
}

// BufferExtent returns an extent served from buf.
func BufferExtent(logStart, logCount uint64, buf []byte) Extent {
	return Extent{Type: ExtentBuffer, LogStart: logStart, LogCount: logCount, Buffer: buf}
}

func (e Extent) contains(lbn uint64) bool {
	return e.Type != ExtentInvalid && lbn >= e.LogStart && lbn-e.LogStart < e.LogCount
}

// VolumeStat describes the space of a mounted volume.
type VolumeStat struct {
	TotalBytes uint64
	FreeBytes  uint64
}

// TimeKind selects the timestamp passed to NodeStat.StoreTime.
type TimeKind int

const (
	TimeChange TimeKind = iota
	TimeModify
	TimeAccess
)

// NodeStat collects detailed information on a node. Timestamps and the mode
// are not stored here but handed to the host's callbacks so it can keep them
// in whatever representation it needs.
type NodeStat struct {
	UsedBytes uint64 // bytes the node occupies on disk
	StoreTime func(which TimeKind, posixTime uint32)
	StoreMode func(posixMode uint16)
	HostData  any
}

// SetTime forwards a POSIX timestamp to the host callback, if any.
func (sb *NodeStat) SetTime(which TimeKind, posixTime uint32) {
	if sb.StoreTime != nil {
		sb.StoreTime(which, posixTime)
	}
}

// SetMode forwards a POSIX mode to the host callback, if any.
func (sb *NodeStat) SetMode(posixMode uint16) {
	if sb.StoreMode != nil {
		sb.StoreMode(posixMode)
	}
}

// FillInfo is what a driver reports when filling a node.
type FillInfo struct {
	Type NodeType
	Size uint64
}
