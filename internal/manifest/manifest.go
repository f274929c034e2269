// Package manifest derives a stable local image tag from the project's
// Cargo.toml. The tag only labels the cached image; a missing or broken
// manifest is cargo's problem to report, not the wrapper's.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	// Filename is the cargo manifest looked up in the working directory.
	Filename = "Cargo.toml"

	tagRepo     = "cargo-shell"
	fallbackTag = tagRepo + "/workspace"
)

type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
}

// PackageName returns the package name from dir's Cargo.toml, or "" when the
// manifest is missing or does not parse.
func PackageName(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, Filename))
	if err != nil {
		return ""
	}

	var m cargoManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return ""
	}
	return m.Package.Name
}

// ImageTag returns the local tag applied to the built image for dir,
// cargo-shell/<package> when a manifest names one, cargo-shell/workspace
// otherwise.
func ImageTag(dir string) string {
	name := sanitize(PackageName(dir))
	if name == "" {
		return fallbackTag
	}
	return fmt.Sprintf("%s/%s", tagRepo, name)
}

// sanitize maps a crate name onto the character set image repositories allow.
func sanitize(name string) string {
	name = strings.ToLower(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-_.")
}
