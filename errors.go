package bootvfs

import (
	"errors"
	"io"
)

// Status classifies an error returned by the filesystem layer. The values
// mirror the status codes drivers and hosts report.
type Status int

const (
	StatusSuccess Status = iota
	StatusOutOfMemory
	StatusIOError
	StatusUnsupported
	StatusNotFound
	StatusVolumeCorrupted
	StatusUnknownError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusOutOfMemory:
		return "out of memory"
	case StatusIOError:
		return "i/o error"
	case StatusUnsupported:
		return "unsupported"
	case StatusNotFound:
		return "not found"
	case StatusVolumeCorrupted:
		return "volume corrupted"
	default:
		return "unknown error"
	}
}

var (
	// ErrOutOfMemory is returned when an allocation could not be satisfied.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrIO is returned when the host failed to read a block.
	ErrIO = errors.New("i/o error")

	// ErrUnsupported is returned for operations or string conversions that
	// are not implemented, and for operations on the wrong node type.
	ErrUnsupported = errors.New("operation not supported")

	// ErrNotFound is returned when a lookup misses. Callers are expected
	// to handle it routinely.
	ErrNotFound = errors.New("not found")

	// ErrVolumeCorrupted is returned when a driver or the core detects a
	// structural inconsistency in the volume.
	ErrVolumeCorrupted = errors.New("volume corrupted")

	// ErrUnknown is the catch-all for driver failures that have no better
	// classification.
	ErrUnknown = errors.New("unknown error")

	// ErrSymlinkLoop is returned when symlink resolution exceeds the
	// configured depth. Classified as StatusNotFound.
	ErrSymlinkLoop = errors.New("too many levels of symbolic links")

	// ErrNodeLeak is returned by unmount when nodes are still referenced
	// after the root has been released. Classified as StatusUnknownError.
	ErrNodeLeak = errors.New("node reference leak")
)

// StatusOf maps err onto the status taxonomy. A nil error and io.EOF map to
// StatusSuccess since end-of-file and end-of-directory are not failures.
func StatusOf(err error) Status {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return StatusSuccess
	case errors.Is(err, ErrOutOfMemory):
		return StatusOutOfMemory
	case errors.Is(err, ErrIO):
		return StatusIOError
	case errors.Is(err, ErrUnsupported):
		return StatusUnsupported
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSymlinkLoop):
		return StatusNotFound
	case errors.Is(err, ErrVolumeCorrupted):
		return StatusVolumeCorrupted
	default:
		return StatusUnknownError
	}
}
