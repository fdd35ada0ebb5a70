package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/brettbedarf/bootvfs/config"
	"github.com/brettbedarf/bootvfs/internal/util"
	"github.com/brettbedarf/bootvfs/server"
	"github.com/spf13/pflag"
)

type options struct {
	verbose    int
	configPath string
	driver     string
	image      string
	encoding   string
	umount     bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("bootvfs", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.IntVarP(&opts.verbose, "verbose", "v", 2, "Log verbosity level between 1 (error) and 5 (trace)")
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML, JSON or JSONC config file")
	flagSet.StringVarP(&opts.driver, "driver", "d", "memfs", "Filesystem driver reading the volume")
	flagSet.StringVarP(&opts.image, "image", "i", "", "Block image to read; overrides the manifest's image")
	flagSet.StringVarP(&opts.encoding, "encoding", "e", "", "Host string encoding: iso-8859-1, utf-8 or utf-16")
	flagSet.BoolVarP(&opts.umount, "umount", "u", false,
		"Unmount the mount point first if needed. Useful for debuggers that don't exit properly.")
	flagSet.Usage = func() { printHelp(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	rest := flagSet.Args()
	if len(rest) < 2 {
		printHelp(stderr, flagSet)
		return fmt.Errorf("expected a command and a manifest")
	}
	command, manifest, rest := rest[0], rest[1], rest[2:]

	cfg, err := loadConfig(&opts, flagSet.Changed("verbose"))
	if err != nil {
		return err
	}

	// Initialize logger
	util.InitializeLoggerTo(stderr, cfg.LogLvl)
	logger := util.GetLogger("main")
	logger.Debug().Str("command", command).Str("manifest", manifest).Str("driver", opts.driver).Msg("Starting")

	sess, err := openSession(cfg, &opts, manifest)
	if err != nil {
		return err
	}
	defer sess.close()

	switch command {
	case "ls":
		return sess.ls(stdout, optionalArg(rest, "/"))
	case "cat":
		return withArg(rest, "path", func(p string) error { return sess.cat(stdout, p) })
	case "stat":
		return withArg(rest, "path", func(p string) error { return sess.stat(stdout, p) })
	case "sum":
		return withArg(rest, "path", func(p string) error { return sess.sum(stdout, p) })
	case "df":
		return sess.df(stdout)
	case "mount":
		return withArg(rest, "mount point", func(mnt string) error { return mount(sess, cfg, mnt, opts.umount) })
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// loadConfig reads the optional config file and applies the flags that were set.
func loadConfig(opts *options, verboseSet bool) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.NewConfigFromFile(opts.configPath); err != nil {
			return nil, err
		}
	}
	var override config.ConfigOverride
	if verboseSet || opts.configPath == "" {
		verbose := min(max(opts.verbose, 1), 5)
		override.LogLvl = &verbose
	}
	if opts.encoding != "" {
		override.HostEncoding = &opts.encoding
	}
	cfg.Merge(&override)
	return cfg, nil
}

func optionalArg(args []string, def string) string {
	if len(args) > 0 {
		return args[0]
	}
	return def
}

func withArg(args []string, what string, fn func(string) error) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one %s", what)
	}
	return fn(args[0])
}

func mount(sess *session, cfg *config.Config, mnt string, umount bool) error {
	logger := util.GetLogger("main")
	if umount {
		// we ignore error here if not already mounted
		exec.Command("fusermount", "-u", mnt).Run() // nolint:errcheck
	}

	srv := server.New(sess.vol, cfg)
	if err := srv.Serve(mnt); err != nil {
		return fmt.Errorf("mount %s: %w", mnt, err)
	}

	// Setup signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	logger.Info().Str("mountpoint", mnt).Stringer("label", sess.vol.Label()).Msg("Volume mounted")

	sig := <-signalChan
	logger.Info().Str("signal", sig.String()).Msg("Received signal, unmounting filesystem")
	if err := srv.Unmount(); err != nil {
		return fmt.Errorf("unmount %s: %w", mnt, err)
	}
	logger.Info().Msg("Filesystem unmounted successfully")
	return nil
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `bootvfs reads boot volumes through a filesystem driver.

Usage:
  bootvfs [flags] <command> <manifest> [argument]

Commands:
  ls <manifest> [path]          list a directory
  cat <manifest> <path>         write a file to stdout, following symlinks
  stat <manifest> <path>        show node details without following symlinks
  sum <manifest> <path>         print the BLAKE3 digest of a file
  df <manifest>                 show volume label and space
  mount <manifest> <mountpoint> serve the volume read-only over FUSE

Flags:
%s`, flagSet.FlagUsages())
}
