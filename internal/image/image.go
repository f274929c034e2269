package image

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

const (
	// DefaultBase is the image the toolchain environment derives from.
	DefaultBase = "rust:latest"

	// DefaultSetup is the single setup instruction layered on top of the base.
	DefaultSetup = "rustup component add clippy rustfmt"
)

// Definition describes the ephemeral toolchain image: a base image plus one
// setup instruction. An unchanged definition hits the runtime's layer cache,
// so repeated invocations reuse the same image.
type Definition struct {
	// Base is the image reference to derive from (default: DefaultBase).
	Base string

	// Setup is a shell command run while building the image. Empty means no
	// setup layer.
	Setup string
}

func (d Definition) base() string {
	if d.Base == "" {
		return DefaultBase
	}
	return d.Base
}

// Validate checks that the base image is a well-formed reference, so a typo'd
// config fails before the runtime is invoked.
func (d Definition) Validate() error {
	if _, err := name.ParseReference(d.base()); err != nil {
		return fmt.Errorf("invalid base image %q: %w", d.base(), err)
	}
	return nil
}

// Render produces the Dockerfile payload fed to the build operation's stdin.
func (d Definition) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", d.base())
	if d.Setup != "" {
		fmt.Fprintf(&b, "RUN %s\n", d.Setup)
	}
	return b.String()
}
