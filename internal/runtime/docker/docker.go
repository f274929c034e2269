package docker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/joshrwolf/cargo-shell/internal/image"
	"github.com/joshrwolf/cargo-shell/internal/runtime"
)

// Docker runtime implementation
type Docker struct {
	// Path to docker binary (default: "docker")
	dockerPath string

	// Invoke docker through sudo. Precondition: passwordless or
	// pre-authorized sudo for the docker binary.
	sudo bool
}

// Option configures a Docker runtime
type Option func(*Docker)

// WithSudo invokes docker through sudo
func WithSudo(sudo bool) Option {
	return func(d *Docker) {
		d.sudo = sudo
	}
}

// New creates a new Docker runtime
func New(opts ...Option) *Docker {
	d := &Docker{
		dockerPath: "docker",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// command builds an exec invocation of docker, prepending sudo when
// configured.
func (d *Docker) command(ctx context.Context, args ...string) *exec.Cmd {
	if d.sudo {
		return exec.CommandContext(ctx, "sudo", append([]string{d.dockerPath}, args...)...)
	}
	return exec.CommandContext(ctx, d.dockerPath, args...)
}

// Build implements runtime.Runtime. It feeds the rendered definition to
// `docker build -q -` and captures the emitted image identifier. Caching of
// unchanged definitions is docker's layer cache, not ours.
func (d *Docker) Build(ctx context.Context, def image.Definition, tag string) (string, error) {
	log := clog.FromContext(ctx)

	args := []string{"build", "-q"}
	if tag != "" {
		args = append(args, "-t", tag)
	}
	args = append(args, "-")

	cmd := d.command(ctx, args...)
	cmd.Stdin = strings.NewReader(def.Render())

	// Quiet mode emits only the image identifier on stdout. Stderr passes
	// through so build failures surface docker's own diagnostics.
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	log.Debug("building image", "args", args)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker build: %w", err)
	}

	id, err := ParseBuildOutput(stdout.String())
	if err != nil {
		return "", err
	}
	log.Debug("built image", "id", id)
	return id, nil
}

// ParseBuildOutput extracts the image identifier from quiet build output.
func ParseBuildOutput(out string) (string, error) {
	id := strings.TrimSpace(out)
	if id == "" {
		return "", fmt.Errorf("docker build emitted no image identifier")
	}
	// Quiet mode prints a single line; anything else means the output was
	// not what we asked for.
	if strings.ContainsAny(id, "\n\r") {
		return "", fmt.Errorf("unexpected docker build output: %q", out)
	}
	return id, nil
}

// Run implements runtime.Runtime
func (d *Docker) Run(ctx context.Context, opts runtime.RunOptions) error {
	log := clog.FromContext(ctx)

	args := buildRunArgs(opts, os.Getuid(), os.Getgid())
	cmd := d.command(ctx, args...)

	// Set up IO
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	} else {
		cmd.Stdin = os.Stdin
	}

	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else {
		cmd.Stdout = os.Stdout
	}

	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	} else {
		cmd.Stderr = os.Stderr
	}

	// Run the container
	log.Debug("running container", "args", args)
	return cmd.Run()
}

// buildRunArgs builds the docker run arguments
func buildRunArgs(opts runtime.RunOptions, uid, gid int) []string {
	args := []string{"run", "--rm"}

	// Always keep stdin open
	args = append(args, "-i")

	// Add a pseudo-terminal when the caller has one
	if opts.TTY {
		args = append(args, "-t")
	}

	// Identity mapping: files created under the mount belong to the
	// invoking host user, not root
	args = append(args, "--user", fmt.Sprintf("%d:%d", uid, gid))

	// Working directory mount
	if opts.WorkDir != "" {
		absWorkDir, err := filepath.Abs(opts.WorkDir)
		if err != nil {
			absWorkDir = opts.WorkDir // fallback to original
		}
		args = append(args, "-v", fmt.Sprintf("%s:%s:rw", absWorkDir, runtime.Workdir))
		args = append(args, "-w", runtime.Workdir)
	}

	// Environment variables, sorted for a stable argv
	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}

	// Image, then the forwarded command verbatim
	args = append(args, opts.ImageID)
	args = append(args, opts.Argv...)

	return args
}

// Available checks if docker is available
func (d *Docker) Available(ctx context.Context) bool {
	cmd := d.command(ctx, "version", "--format", "json")
	return cmd.Run() == nil
}

// String returns the runtime name
func (d *Docker) String() string {
	return "docker"
}
