package server

import (
	"errors"
	"syscall"

	"github.com/brettbedarf/bootvfs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// toStatus maps filesystem errors onto FUSE errnos.
func toStatus(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	if errors.Is(err, bootvfs.ErrSymlinkLoop) {
		return fuse.Status(syscall.ELOOP)
	}
	switch bootvfs.StatusOf(err) {
	case bootvfs.StatusSuccess:
		return fuse.OK
	case bootvfs.StatusNotFound:
		return fuse.ENOENT
	case bootvfs.StatusUnsupported:
		return fuse.Status(syscall.ENOTSUP)
	case bootvfs.StatusOutOfMemory:
		return fuse.Status(syscall.ENOMEM)
	default:
		return fuse.EIO
	}
}
