package filesystem

import (
	"fmt"
	"strings"

	"github.com/brettbedarf/bootvfs"
	"github.com/brettbedarf/bootvfs/fsstring"
)

// Node is a file, directory, symlink or special entry of a mounted volume.
// Nodes are reference counted: every function returning a *Node hands out a
// reference the caller must Release.
type Node struct {
	vol      *Volume
	parent   *Node           // not counted; see acquireParent
	name     fsstring.String // host encoding, kept after release
	id       uint64          // driver id, unique per volume
	typ      NodeType
	size     uint64
	refcount int
	filled   bool

	// Private is owned by the driver.
	Private any
}

// CreateRoot creates the root node of vol with refcount 1. Drivers do not
// normally call it, Mount does.
func CreateRoot(vol *Volume, id uint64) *Node {
	if n, ok := vol.nodes.Load(id); ok {
		n.Retain()
		return n
	}
	n := &Node{vol: vol, id: id, refcount: 1}
	vol.nodes.Store(id, n)
	vol.logger.Trace().Uint64("node", id).Msg("Created root node")
	return n
}

// Create returns a node for the entry id below parent. If the volume already
// has a live node with that id it is retained and returned, so each on-disk
// object has at most one Node. Otherwise a new node is created with
// refcount 1 and its name converted to the host encoding.
//
// typ may be TypeUnknown if the driver only learns the type when filling.
func Create(parent *Node, id uint64, typ NodeType, name fsstring.String) (*Node, error) {
	vol := parent.vol
	if n, ok := vol.nodes.Load(id); ok {
		n.Retain()
		return n, nil
	}

	hostName, err := name.DupCoerce(vol.hostEncoding)
	if err != nil {
		return nil, fmt.Errorf("create node %d: name: %w", id, err)
	}
	n := &Node{
		vol:      vol,
		parent:   parent,
		name:     hostName,
		id:       id,
		typ:      typ,
		refcount: 1,
	}
	vol.nodes.Store(id, n)
	vol.logger.Trace().Uint64("node", id).Uint64("parent", parent.id).Stringer("name", hostName).Msg("Created node")
	return n, nil
}

// Retain adds a reference to n.
func (n *Node) Retain() {
	if n.refcount <= 0 {
		panic(fmt.Sprintf("filesystem: retain of released node %d", n.id))
	}
	n.refcount++
}

// Release drops a reference to n. Dropping the last one frees the driver's
// node state and removes the node from the volume.
func (n *Node) Release() {
	if n.refcount <= 0 {
		panic(fmt.Sprintf("filesystem: release of released node %d", n.id))
	}
	n.refcount--
	if n.refcount > 0 {
		return
	}

	n.vol.driver.NodeFree(n.vol, n)
	n.Private = nil
	if cur, ok := n.vol.nodes.Load(n.id); ok && cur == n {
		n.vol.nodes.Delete(n.id)
	}
	n.vol.logger.Trace().Uint64("node", n.id).Msg("Freed node")
}

// Fill asks the driver for the node's type and size. It is a no-op once it
// has succeeded. A reported type that is not concrete, or that contradicts
// the type the node was created with, means the volume is corrupted.
func (n *Node) Fill() error {
	if n.filled {
		return nil
	}
	info, err := n.vol.driver.NodeFill(n.vol, n)
	if err != nil {
		return fmt.Errorf("fill node %d: %w", n.id, err)
	}
	if info.Type <= TypeUnknown || info.Type > TypeSpecial {
		return fmt.Errorf("fill node %d: driver reported %s: %w", n.id, info.Type, bootvfs.ErrVolumeCorrupted)
	}
	if n.typ != TypeUnknown && n.typ != info.Type {
		return fmt.Errorf("fill node %d: created as %s, filled as %s: %w", n.id, n.typ, info.Type, bootvfs.ErrVolumeCorrupted)
	}
	n.typ = info.Type
	n.size = info.Size
	n.filled = true
	return nil
}

// Stat fills n if needed and lets the driver report its details into sb.
func (n *Node) Stat(sb *NodeStat) error {
	if err := n.Fill(); err != nil {
		return err
	}
	if err := n.vol.driver.NodeStat(n.vol, n, sb); err != nil {
		return fmt.Errorf("stat node %d: %w", n.id, err)
	}
	return nil
}

func (n *Node) Volume() *Volume { return n.vol }

func (n *Node) ID() uint64 { return n.id }

// Name returns the entry name in the host encoding. The root has an empty
// name.
func (n *Node) Name() fsstring.String { return n.name }

// Type is TypeUnknown until the node has been filled, unless the driver
// knew it at creation.
func (n *Node) Type() NodeType { return n.typ }

// Size is the data size in bytes, valid once filled.
func (n *Node) Size() uint64 { return n.size }

func (n *Node) Filled() bool { return n.filled }

func (n *Node) Refcount() int { return n.refcount }

func (n *Node) IsRoot() bool { return n.parent == nil }

// Path returns the '/' separated path of n from the root, for logging.
// Undecodable names are quoted.
func (n *Node) Path() string {
	var parts []string
	for cur := n; cur.parent != nil; cur = cur.parent {
		parts = append(parts, cur.name.String())
	}
	var sb strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		sb.WriteByte('/')
		sb.WriteString(parts[i])
	}
	if sb.Len() == 0 {
		return "/"
	}
	return sb.String()
}
