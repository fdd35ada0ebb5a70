package server

import (
	"github.com/brettbedarf/bootvfs/config"
	"github.com/brettbedarf/bootvfs/filesystem"
	"github.com/brettbedarf/bootvfs/internal/util"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Server exposes a mounted volume through FUSE.
type Server struct {
	raw    *FuseRaw
	cfg    *config.Config
	server *fuse.Server
}

// New creates a Server for vol. A nil cfg uses the volume's configuration.
func New(vol *filesystem.Volume, cfg *config.Config) *Server {
	if cfg == nil {
		cfg = vol.Config()
	}
	return &Server{raw: NewFuseRaw(vol, cfg), cfg: cfg}
}

// Serve mounts the volume at mountPoint and returns once the kernel has
// accepted the mount.
func (s *Server) Serve(mountPoint string) error {
	opts := s.cfg.MountOptions
	srv, err := fuse.NewServer(s.raw, mountPoint, &fuse.MountOptions{
		Name:               opts.Name,
		FsName:             opts.FsName,
		Debug:              opts.Debug || s.cfg.LogLvl == util.TraceLevel,
		Logger:             util.NewLogLogger("FuseServer", s.cfg.LogLvl),
		DisableReadDirPlus: true,
		Options:            []string{"ro"},
	})
	if err != nil {
		return err
	}
	s.server = srv

	go srv.Serve()
	return srv.WaitMount()
}

func (s *Server) ServeAsync(mountPoint string) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- s.Serve(mountPoint)
		close(done)
	}()

	return done
}

// Unmount unmounts the filesystem and drops the references the kernel was
// holding, so the volume itself can be unmounted next.
func (s *Server) Unmount() error {
	if s.server == nil {
		s.raw.Close()
		return nil
	}
	err := s.server.Unmount()
	s.raw.Close()
	return err
}
