package memfs

import (
	"bytes"
	"fmt"

	"github.com/brettbedarf/bootvfs/filesystem"
	"github.com/brettbedarf/bootvfs/fsstring"
	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

// Manifest describes a memfs volume. It is written as YAML by hand or as
// CBOR by tools.
type Manifest struct {
	Label        string  `yaml:"label" cbor:"label"`
	BlockSize    uint32  `yaml:"block_size,omitempty" cbor:"block_size,omitempty"`
	LogBlockSize uint32  `yaml:"log_block_size,omitempty" cbor:"log_block_size,omitempty"`
	NameEncoding string  `yaml:"name_encoding,omitempty" cbor:"name_encoding,omitempty"`
	Image        string  `yaml:"image,omitempty" cbor:"image,omitempty"` // block image the host serves
	Nodes        []Entry `yaml:"nodes" cbor:"nodes"`
}

// Entry is one node of a Manifest. Missing parent directories are created.
type Entry struct {
	Path    string       `yaml:"path" cbor:"path"`
	Type    string       `yaml:"type" cbor:"type"` // file, dir, symlink or special
	Size    uint64       `yaml:"size,omitempty" cbor:"size,omitempty"`
	Extents []ExtentSpec `yaml:"extents,omitempty" cbor:"extents,omitempty"`
	Data    string       `yaml:"data,omitempty" cbor:"data,omitempty"` // inline file content
	Target  string       `yaml:"target,omitempty" cbor:"target,omitempty"`
	Mode    uint16       `yaml:"mode,omitempty" cbor:"mode,omitempty"`
	MTime   uint32       `yaml:"mtime,omitempty" cbor:"mtime,omitempty"`
}

// ExtentSpec maps Count logical blocks starting at Logical to physical
// blocks starting at Physical, or to zeros when Sparse is set.
type ExtentSpec struct {
	Logical  uint64 `yaml:"logical" cbor:"logical"`
	Physical uint64 `yaml:"physical,omitempty" cbor:"physical,omitempty"`
	Count    uint64 `yaml:"count" cbor:"count"`
	Sparse   bool   `yaml:"sparse,omitempty" cbor:"sparse,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("memfs: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("memfs: CBOR decoder initialization failed: " + err.Error())
	}
}

// ParseManifest decodes raw as CBOR when it starts with a CBOR map header
// and as YAML otherwise.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if isCBORMap(raw) {
		if err := decMode.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("memfs: decode cbor manifest: %w", err)
		}
		return &m, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("memfs: decode yaml manifest: %w", err)
	}
	return &m, nil
}

// CBOR major type 5 with any length encoding; no YAML document starts with
// these bytes.
func isCBORMap(raw []byte) bool {
	return len(raw) > 0 && raw[0]>>5 == 5
}

// MarshalCBOR encodes m deterministically.
func (m *Manifest) MarshalCBOR() ([]byte, error) {
	type plain Manifest
	return encMode.Marshal((*plain)(m))
}

// Build turns the manifest into a volume description.
func (m *Manifest) Build() (*FS, error) {
	fs := New(m.Label)
	fs.image = m.Image
	if m.BlockSize != 0 {
		log := m.LogBlockSize
		if log == 0 {
			log = m.BlockSize
		}
		fs.SetBlocksize(m.BlockSize, log)
	}
	if m.NameEncoding != "" {
		enc, err := fsstring.ParseEncoding(m.NameEncoding)
		if err != nil {
			return nil, fmt.Errorf("memfs: %w", err)
		}
		fs.SetNameEncoding(enc)
	}

	for _, e := range m.Nodes {
		var err error
		switch e.Type {
		case "dir":
			_, err = fs.AddDir(e.Path)
		case "file", "":
			if e.Data != "" {
				_, err = fs.AddInline(e.Path, []byte(e.Data))
				break
			}
			extents := make([]filesystem.Extent, 0, len(e.Extents))
			for _, x := range e.Extents {
				if x.Sparse {
					extents = append(extents, filesystem.SparseExtent(x.Logical, x.Count))
				} else {
					extents = append(extents, filesystem.PhysExtent(x.Logical, x.Count, x.Physical))
				}
			}
			_, err = fs.AddFile(e.Path, e.Size, extents...)
		case "symlink":
			_, err = fs.AddSymlink(e.Path, e.Target)
		case "special":
			_, err = fs.AddSpecial(e.Path, e.Mode)
		default:
			err = fmt.Errorf("memfs: %q: unknown node type %q", e.Path, e.Type)
		}
		if err != nil {
			return nil, err
		}
		if e.Mode != 0 || e.MTime != 0 {
			perm := e.Mode
			if perm == 0 {
				perm = defaultPerm(e.Type)
			}
			if err := fs.SetAttr(e.Path, perm, e.MTime); err != nil {
				return nil, err
			}
		}
	}
	return fs, nil
}

func defaultPerm(typ string) uint16 {
	switch typ {
	case "dir":
		return 0o755
	case "symlink":
		return 0o777
	default:
		return 0o644
	}
}

// Load parses and builds a manifest.
func Load(raw []byte) (*FS, error) {
	m, err := ParseManifest(raw)
	if err != nil {
		return nil, err
	}
	return m.Build()
}
