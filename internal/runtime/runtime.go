package runtime

import (
	"context"
	"io"

	"github.com/joshrwolf/cargo-shell/internal/image"
)

// Workdir is the fixed in-container path the host working directory is
// mounted at.
const Workdir = "/workspace"

// Runtime builds toolchain images and executes containers from them
type Runtime interface {
	// Build creates (or reuses from cache) an image for the given definition
	// and returns its identifier.
	Build(ctx context.Context, def image.Definition, tag string) (string, error)

	// Run executes a container from the given image, blocking until it exits.
	// The returned error carries the container's exit status when non-zero.
	Run(ctx context.Context, opts RunOptions) error
}

// RunOptions configures how to run the container
type RunOptions struct {
	// Image identifier from a prior Build
	ImageID string

	// Command and arguments executed inside the container, verbatim
	Argv []string

	// Host directory bind mounted at Workdir
	WorkDir string

	// Environment variables forwarded into the container
	Env map[string]string

	// Allocate a pseudo-terminal
	TTY bool

	// Stdin/stdout/stderr (optional, defaults to os.Std*)
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}
