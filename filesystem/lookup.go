package filesystem

import (
	"errors"
	"fmt"
	"io"

	"github.com/brettbedarf/bootvfs"
	"github.com/brettbedarf/bootvfs/config"
	"github.com/brettbedarf/bootvfs/fsstring"
)

// dotName reports whether name is "." or "..", whatever its encoding.
func dotName(name fsstring.String) (dot, dotdot bool) {
	if name.Len() > 2 {
		return false, false
	}
	s, err := name.Decode()
	if err != nil {
		return false, false
	}
	return s == ".", s == ".."
}

// Lookup returns the child of directory n called name. "." is n itself and
// ".." its parent for any node type; the root is its own parent. Misses
// wrap bootvfs.ErrNotFound.
func (n *Node) Lookup(name fsstring.String) (*Node, error) {
	if err := n.Fill(); err != nil {
		return nil, err
	}
	dot, dotdot := dotName(name)
	switch {
	case dot:
		n.Retain()
		return n, nil
	case dotdot:
		return n.acquireParent()
	}

	if n.typ != TypeDir {
		return nil, fmt.Errorf("lookup %q in %s: not a directory: %w", name, n.Path(), bootvfs.ErrUnsupported)
	}

	child, err := n.vol.driver.DirLookup(n.vol, n, name)
	if err != nil {
		return nil, fmt.Errorf("lookup %q in %s: %w", name, n.Path(), err)
	}
	if child == nil {
		return nil, fmt.Errorf("lookup %q in %s: driver returned no node: %w", name, n.Path(), bootvfs.ErrUnknown)
	}
	return child, nil
}

// acquireParent returns a new reference to n's parent. Parent links are not
// counted, so the parent may have been released since n was created. It is
// then created again from its id and name, which also brings back any
// released ancestors.
func (n *Node) acquireParent() (*Node, error) {
	p := n.parent
	if p == nil {
		n.Retain()
		return n, nil
	}
	if p.refcount > 0 {
		p.Retain()
		return p, nil
	}
	if p.parent == nil {
		// a released root: the volume's root replaces it
		root := n.vol.root
		if root == nil {
			return nil, fmt.Errorf("parent of node %d: volume is unmounted: %w", n.id, bootvfs.ErrUnknown)
		}
		root.Retain()
		n.parent = root
		return root, nil
	}

	gp, err := p.acquireParent()
	if err != nil {
		return nil, err
	}
	defer gp.Release()
	np, err := Create(gp, p.id, p.typ, p.name)
	if err != nil {
		return nil, fmt.Errorf("parent of node %d: %w", n.id, err)
	}
	n.vol.logger.Trace().Uint64("node", np.id).Msg("Recreated released parent")
	n.parent = np
	return np, nil
}

// LookupPath walks path starting at n. Segments are split at sep. A leading
// separator starts the walk at the root; empty segments elsewhere are
// skipped. Intermediate nodes are released as soon as the next one is
// found, and symlinks along the way are not followed.
func (n *Node) LookupPath(path fsstring.String, sep byte) (*Node, error) {
	cur := n
	cur.Retain()

	rest := path
	for first := true; !rest.IsEmpty(); first = false {
		var seg fsstring.String
		seg, rest = rest.Split(sep)

		var next *Node
		if seg.IsEmpty() {
			if !first {
				continue
			}
			next = n.vol.root
			if next == nil {
				cur.Release()
				return nil, fmt.Errorf("lookup path: volume is unmounted: %w", bootvfs.ErrUnknown)
			}
			next.Retain()
		} else {
			var err error
			if next, err = cur.Lookup(seg); err != nil {
				cur.Release()
				return nil, err
			}
		}
		cur.Release()
		cur = next
	}
	return cur, nil
}

// Resolve follows symlinks starting at n until it reaches a node of another
// type, which it returns filled. Relative targets are looked up from the
// link's directory. Giving up after the configured number of links fails
// with bootvfs.ErrSymlinkLoop.
func (n *Node) Resolve() (*Node, error) {
	limit := n.vol.cfg.MaxSymlinkDepth
	if limit <= 0 {
		limit = config.DefaultMaxSymlinkDepth
	}

	cur := n
	cur.Retain()
	for hops := 0; ; hops++ {
		if err := cur.Fill(); err != nil {
			cur.Release()
			return nil, err
		}
		if cur.typ != TypeSymlink {
			return cur, nil
		}
		if hops >= limit {
			cur.Release()
			return nil, fmt.Errorf("resolve %s: followed %d links: %w", n.Path(), hops, bootvfs.ErrSymlinkLoop)
		}

		target, err := cur.Readlink()
		if err != nil {
			cur.Release()
			return nil, err
		}
		dir, err := cur.acquireParent()
		if err != nil {
			cur.Release()
			return nil, err
		}
		next, err := dir.LookupPath(target, '/')
		dir.Release()
		cur.Release()
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", n.Path(), err)
		}
		cur = next
	}
}

// Readlink returns the target of symlink n in the host encoding.
func (n *Node) Readlink() (fsstring.String, error) {
	if err := n.Fill(); err != nil {
		return fsstring.String{}, err
	}
	if n.typ != TypeSymlink {
		return fsstring.String{}, fmt.Errorf("readlink %s: %s is not a symlink: %w", n.Path(), n.typ, bootvfs.ErrUnsupported)
	}
	target, err := n.vol.driver.Readlink(n.vol, n)
	if err != nil {
		return fsstring.String{}, fmt.Errorf("readlink %s: %w", n.Path(), err)
	}
	return target, nil
}

// ReadlinkData reads the target of a symlink stored as ISO-8859-1 in the
// node's file data, which is how most formats keep longer targets. Drivers
// call it from their Readlink hook.
func (n *Node) ReadlinkData() (fsstring.String, error) {
	maxLen := n.vol.cfg.MaxPathLen
	if maxLen <= 0 {
		maxLen = config.DefaultMaxPathLen
	}
	if n.size > uint64(maxLen) {
		return fsstring.String{}, fmt.Errorf("symlink %d: target of %d bytes: %w", n.id, n.size, bootvfs.ErrVolumeCorrupted)
	}

	h, err := Open(n)
	if err != nil {
		return fsstring.String{}, err
	}
	defer h.Close()

	buf := make([]byte, n.size)
	got, err := h.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return fsstring.String{}, err
	}
	if got != len(buf) {
		return fsstring.String{}, fmt.Errorf("symlink %d: read %d of %d bytes: %w", n.id, got, len(buf), bootvfs.ErrVolumeCorrupted)
	}
	return fsstring.NewISO88591(buf).DupCoerce(n.vol.hostEncoding)
}
