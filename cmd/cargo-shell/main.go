package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/clog/slag"
	charmlog "github.com/charmbracelet/log"
	"github.com/joshrwolf/cargo-shell/internal/config"
	"github.com/joshrwolf/cargo-shell/internal/image"
	"github.com/joshrwolf/cargo-shell/internal/manifest"
	"github.com/joshrwolf/cargo-shell/internal/runtime"
	"github.com/joshrwolf/cargo-shell/internal/runtime/docker"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type options struct {
	logLevel slag.Level

	configPath string
	image      string
	buildOnly  bool
	noTTY      bool
	sudo       bool

	// detect locates a container runtime; defaults to detectRuntime
	detect func(ctx context.Context, sudo bool) (runtime.Runtime, error)
}

// setupLogging configures logging for the command
func (o *options) setupLogging(ctx context.Context) context.Context {
	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           charmlog.Level(o.logLevel),
		ReportTimestamp: true,
	})
	ctx = clog.WithLogger(ctx, clog.New(l))
	slog.SetDefault(slog.New(l))
	return ctx
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		// Failures of the wrapped command (and of the image build) already
		// reported themselves on stderr; stay transparent and mirror the
		// exit status.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			os.Exit(exitErr.ExitCode())
		}
		clog.FatalContextf(ctx, "error: %v", err)
	}
}

func run(ctx context.Context) error {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "cargo-shell [cargo args...]",
		Short: "Run cargo inside an ephemeral container, no local Rust toolchain required",
		Long: `cargo-shell forwards its arguments to cargo running inside an ephemeral
container. The working directory is bind mounted into the container, the
container runs as the invoking user, and cargo's cache lives in a
subdirectory of the mount, so build output and caches land on the host
exactly as a native cargo run would leave them.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx = opts.setupLogging(ctx)
			cmd.SetContext(ctx)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), args)
		},
	}

	// Define flags
	rootCmd.PersistentFlags().Var(&opts.logLevel, "log-level", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&opts.configPath, "config", "", "Config file (default: "+config.Filename+" in the working directory)")
	rootCmd.Flags().StringVar(&opts.image, "image", "", "Base image reference (overrides config)")
	rootCmd.Flags().BoolVar(&opts.buildOnly, "build-only", false, "Build the image, print its identifier, and exit")
	rootCmd.Flags().BoolVar(&opts.noTTY, "no-tty", false, "Never allocate a pseudo-terminal")
	rootCmd.Flags().BoolVar(&opts.sudo, "sudo", false, "Invoke the container runtime through sudo")

	// Everything from the first non-flag argument on is cargo's, verbatim
	rootCmd.Flags().SetInterspersed(false)

	return rootCmd.ExecuteContext(ctx)
}

func (o *options) run(ctx context.Context, args []string) error {
	log := clog.FromContext(ctx)

	log.Debug("starting cargo-shell", "args", args)

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	// Resolve config: flag > config file > defaults
	var cfg config.Config
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load(workDir)
	}
	if err != nil {
		return err
	}
	if o.image != "" {
		cfg.Image = o.image
	}

	// Detect runtime
	detect := o.detect
	if detect == nil {
		detect = detectRuntime
	}
	rt, err := detect(ctx, cfg.Sudo || o.sudo)
	if err != nil {
		return err
	}
	log.Debug("detected runtime", "runtime", rt)

	def := image.Definition{
		Base:  cfg.Image,
		Setup: cfg.Setup,
	}
	if def.Setup == "" {
		def.Setup = image.DefaultSetup
	}
	if err := def.Validate(); err != nil {
		return err
	}
	log.Debug("image definition", "dockerfile", def.Render())

	// Build the image. The runtime's layer cache makes repeat builds of an
	// unchanged definition effectively free.
	tag := manifest.ImageTag(workDir)
	log.Info("building image", "tag", tag)
	imageID, err := rt.Build(ctx, def, tag)
	if err != nil {
		return fmt.Errorf("building image: %w", err)
	}

	// If build-only, we're done
	if o.buildOnly {
		fmt.Println(imageID)
		return nil
	}

	// Forwarded environment, plus the cache redirect that keeps cargo's
	// state on the host between invocations.
	env, err := cfg.Environment(workDir)
	if err != nil {
		return err
	}
	env["CARGO_HOME"] = path.Join(runtime.Workdir, cfg.CargoHome)

	runOpts := runtime.RunOptions{
		ImageID: imageID,
		Argv:    append([]string{"cargo"}, args...),
		WorkDir: workDir,
		Env:     env,
		TTY:     o.useTTY(),
	}

	log.Debug("running container", "argv", runOpts.Argv, "tty", runOpts.TTY)
	return rt.Run(ctx, runOpts)
}

// useTTY reports whether the container should get a pseudo-terminal.
func (o *options) useTTY() bool {
	if o.noTTY {
		return false
	}
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

// detectRuntime returns an available container runtime
func detectRuntime(ctx context.Context, sudo bool) (runtime.Runtime, error) {
	// Try Docker
	d := docker.New(docker.WithSudo(sudo))
	if d.Available(ctx) {
		return d, nil
	}

	// Future: try podman, nerdctl, etc.

	return nil, fmt.Errorf("no container runtime found (docker not available)")
}
