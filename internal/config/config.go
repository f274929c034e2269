package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Filename is the per-project config file looked up in the working directory.
const Filename = ".cargo-shell.yaml"

// DefaultCargoHome is the subdirectory of the mounted tree that receives the
// toolchain's cache and registry state.
const DefaultCargoHome = ".cargo"

// ErrBadCargoHome indicates a cargo-home that would escape the mounted tree.
var ErrBadCargoHome = errors.New("cargo-home must be a relative path inside the project directory")

// Config captures the per-project settings for the wrapper.
type Config struct {
	// Image is the base image reference the toolchain image derives from.
	Image string `yaml:"image"`

	// Setup is the single setup instruction layered on the base image.
	Setup string `yaml:"setup"`

	// CargoHome is the subdirectory of the mount receiving CARGO_HOME.
	CargoHome string `yaml:"cargo-home"`

	// Env is extra environment forwarded into the container.
	Env map[string]string `yaml:"env"`

	// EnvFile is an optional dotenv file, resolved against the project
	// directory, whose entries are forwarded into the container.
	EnvFile string `yaml:"env-file"`

	// Sudo invokes the container runtime through sudo. Requires passwordless
	// or pre-authorized sudo for the runtime binary.
	Sudo bool `yaml:"sudo"`
}

func (c *Config) applyDefaults() {
	if c.CargoHome == "" {
		c.CargoHome = DefaultCargoHome
	}
}

// Validate rejects settings that cannot produce a usable container invocation.
func (c Config) Validate() error {
	if filepath.IsAbs(c.CargoHome) {
		return ErrBadCargoHome
	}
	clean := filepath.Clean(c.CargoHome)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return ErrBadCargoHome
	}
	return nil
}

// Parse reads a config from r. Unknown keys are an error so typos surface
// instead of silently falling back to defaults.
func Parse(r io.Reader) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	c := Config{}
	c.applyDefaults()
	return c
}

// Load reads the project config from dir. A missing file yields Default.
func Load(dir string) (Config, error) {
	return LoadFile(filepath.Join(dir, Filename))
}

// LoadFile reads a config from an explicit path. A missing file yields
// Default; any other read or parse failure is an error.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Environment resolves the environment forwarded into the container: dotenv
// entries first (when env-file is set), overlaid by explicit env entries.
func (c Config) Environment(dir string) (map[string]string, error) {
	env := map[string]string{}

	if c.EnvFile != "" {
		path := c.EnvFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		fileEnv, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("reading env-file %s: %w", c.EnvFile, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}

	for k, v := range c.Env {
		env[k] = v
	}

	return env, nil
}
