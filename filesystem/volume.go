package filesystem

import (
	"errors"
	"fmt"

	"github.com/brettbedarf/bootvfs"
	"github.com/brettbedarf/bootvfs/config"
	"github.com/brettbedarf/bootvfs/fsstring"
	"github.com/brettbedarf/bootvfs/internal/util"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// Volume is a mounted filesystem. It owns the root node for the whole time
// it is mounted.
//
// A Volume and its nodes are not safe for concurrent use. Hosts that serve
// several callers serialize access themselves.
type Volume struct {
	ID uuid.UUID // Session id, used to tell volumes apart in logs

	physBlocksize uint32
	logBlocksize  uint32
	root          *Node
	label         fsstring.String
	nodes         *xsync.Map[uint64, *Node] // live nodes by driver id
	hostData      any
	host          HostServices
	driver        Driver
	hostEncoding  fsstring.Encoding
	cfg           *config.Config
	logger        util.Logger

	// Private is owned by the driver.
	Private any
}

// Mount opens a volume with driver, reading blocks through host. hostData is
// kept for the host and never interpreted. A nil cfg uses the defaults.
//
// On failure everything set up so far is torn down again.
func Mount(cfg *config.Config, hostData any, host HostServices, driver Driver) (*Volume, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := checkBlocksizes(cfg.PhysBlocksize, cfg.LogBlocksize); err != nil {
		return nil, fmt.Errorf("mount %s: %w", driver.Name(), err)
	}

	vol := &Volume{
		ID:            uuid.New(),
		physBlocksize: cfg.PhysBlocksize,
		logBlocksize:  cfg.LogBlocksize,
		nodes:         xsync.NewMap[uint64, *Node](),
		hostData:      hostData,
		host:          host,
		driver:        driver,
		hostEncoding:  host.NativeEncoding(),
		cfg:           cfg,
	}
	vol.logger = util.GetLogger("Volume").With().
		Str("volume", vol.ID.String()).
		Str("driver", driver.Name()).
		Logger()

	rootID, err := driver.VolumeMount(vol)
	if err != nil {
		vol.abortMount()
		return nil, fmt.Errorf("mount %s: %w", driver.Name(), err)
	}

	vol.root = CreateRoot(vol, rootID)
	if err := vol.root.Fill(); err != nil {
		vol.abortMount()
		return nil, fmt.Errorf("mount %s: root: %w", driver.Name(), err)
	}
	if vol.root.Type() != TypeDir {
		typ := vol.root.Type()
		vol.abortMount()
		return nil, fmt.Errorf("mount %s: root is a %s: %w", driver.Name(), typ, bootvfs.ErrVolumeCorrupted)
	}

	vol.logger.Info().
		Stringer("label", vol.label).
		Uint32("phys_blocksize", vol.physBlocksize).
		Uint32("log_blocksize", vol.logBlocksize).
		Msg("Mounted volume")
	return vol, nil
}

func (vol *Volume) abortMount() {
	if err := vol.teardown(); err != nil {
		vol.logger.Warn().Err(err).Msg("Teardown after failed mount")
	}
}

// Unmount tears the volume down: the driver frees its volume state, then
// the root is released. Nodes still referenced by the caller at that point
// are reported as a leak.
func (vol *Volume) Unmount() error {
	err := vol.teardown()
	if err != nil {
		vol.logger.Error().Err(err).Msg("Unmounted with live nodes")
		return err
	}
	vol.logger.Info().Msg("Unmounted volume")
	return nil
}

func (vol *Volume) teardown() error {
	vol.driver.VolumeFree(vol)
	if vol.root != nil {
		vol.root.Release()
		vol.root = nil
	}
	vol.label.Release()

	if live := vol.nodes.Size(); live > 0 {
		return fmt.Errorf("unmount: %d nodes still referenced: %w", live, bootvfs.ErrNodeLeak)
	}
	return nil
}

func checkBlocksizes(phys, log uint32) error {
	if phys == 0 || log == 0 || log%phys != 0 {
		return fmt.Errorf("block sizes phys=%d log=%d: logical size must be a non-zero multiple of the physical size: %w",
			phys, log, bootvfs.ErrUnsupported)
	}
	return nil
}

// SetBlocksize changes the volume's block sizes. Drivers call it from
// VolumeMount once they know the real values. The host is notified before
// the change takes effect.
func (vol *Volume) SetBlocksize(phys, log uint32) error {
	if err := checkBlocksizes(phys, log); err != nil {
		return err
	}
	if phys == vol.physBlocksize && log == vol.logBlocksize {
		return nil
	}

	vol.host.ChangeBlocksize(vol, vol.physBlocksize, vol.logBlocksize, phys, log)
	vol.logger.Debug().
		Uint32("phys_blocksize", phys).
		Uint32("log_blocksize", log).
		Msg("Block size changed")
	vol.physBlocksize = phys
	vol.logBlocksize = log
	return nil
}

// ReadBlock reads one physical block through the host. The slice is only
// valid until the next read and holds exactly PhysBlocksize bytes.
func (vol *Volume) ReadBlock(physBlock uint64) ([]byte, error) {
	buf, err := vol.host.ReadBlock(vol, physBlock)
	if err != nil {
		if errors.Is(err, bootvfs.ErrIO) {
			return nil, fmt.Errorf("read block %d: %w", physBlock, err)
		}
		return nil, fmt.Errorf("read block %d: %w: %w", physBlock, bootvfs.ErrIO, err)
	}
	if len(buf) < int(vol.physBlocksize) {
		return nil, fmt.Errorf("read block %d: short block of %d bytes: %w", physBlock, len(buf), bootvfs.ErrIO)
	}
	return buf[:vol.physBlocksize], nil
}

// Stat asks the driver for the volume's space usage.
func (vol *Volume) Stat() (VolumeStat, error) {
	st, err := vol.driver.VolumeStat(vol)
	if err != nil {
		return VolumeStat{}, fmt.Errorf("volume stat: %w", err)
	}
	return st, nil
}

// SetLabel stores a copy of label converted to the host encoding.
func (vol *Volume) SetLabel(label fsstring.String) error {
	l, err := label.DupCoerce(vol.hostEncoding)
	if err != nil {
		return fmt.Errorf("volume label: %w", err)
	}
	vol.label.Release()
	vol.label = l
	return nil
}

// Label returns the volume label in the host encoding.
func (vol *Volume) Label() fsstring.String { return vol.label }

// Root returns the root directory. The volume keeps its own reference;
// callers that store the node must Retain it.
func (vol *Volume) Root() *Node { return vol.root }

func (vol *Volume) PhysBlocksize() uint32 { return vol.physBlocksize }

func (vol *Volume) LogBlocksize() uint32 { return vol.logBlocksize }

func (vol *Volume) HostEncoding() fsstring.Encoding { return vol.hostEncoding }

func (vol *Volume) HostData() any { return vol.hostData }

func (vol *Volume) Driver() Driver { return vol.driver }

func (vol *Volume) Config() *config.Config { return vol.cfg }

// Logger returns the volume's logger for drivers that want to log with the
// volume's context attached.
func (vol *Volume) Logger() *util.Logger { return &vol.logger }

// LiveNodes returns the number of nodes currently referenced.
func (vol *Volume) LiveNodes() int { return vol.nodes.Size() }

// Node returns the live node with driver id, if any. No reference is taken.
func (vol *Volume) Node(id uint64) (*Node, bool) { return vol.nodes.Load(id) }
