package docker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"github.com/joshrwolf/cargo-shell/internal/image"
	"github.com/joshrwolf/cargo-shell/internal/runtime"
)

func TestBuildRunArgs(t *testing.T) {
	opts := runtime.RunOptions{
		ImageID: "sha256:abc123",
		Argv:    []string{"cargo", "build", "--release"},
		WorkDir: "/home/user/project",
		Env: map[string]string{
			"RUST_BACKTRACE": "1",
			"CARGO_HOME":     "/workspace/.cargo",
		},
		TTY: true,
	}

	args := buildRunArgs(opts, 1000, 1000)

	want := []string{
		"run", "--rm", "-i", "-t",
		"--user", "1000:1000",
		"-v", "/home/user/project:/workspace:rw",
		"-w", "/workspace",
		"-e", "CARGO_HOME=/workspace/.cargo",
		"-e", "RUST_BACKTRACE=1",
		"sha256:abc123",
		"cargo", "build", "--release",
	}

	if !slices.Equal(args, want) {
		t.Errorf("buildRunArgs() =\n  %v\nwant\n  %v", args, want)
	}
}

func TestBuildRunArgsNoTTY(t *testing.T) {
	args := buildRunArgs(runtime.RunOptions{ImageID: "img", Argv: []string{"cargo", "test"}}, 501, 20)

	if slices.Contains(args, "-t") {
		t.Errorf("buildRunArgs() allocated a tty: %v", args)
	}
	if !slices.Contains(args, "-i") {
		t.Errorf("buildRunArgs() must keep stdin open: %v", args)
	}
	if !slices.Contains(args, "501:20") {
		t.Errorf("buildRunArgs() missing uid:gid mapping: %v", args)
	}
}

func TestBuildRunArgsForwardsVerbatim(t *testing.T) {
	// Forwarded arguments must come last, in order, untouched, even when
	// they look like flags docker itself understands.
	argv := []string{"cargo", "run", "--", "-v", "--rm"}
	args := buildRunArgs(runtime.RunOptions{ImageID: "img", Argv: argv}, 0, 0)

	tail := args[len(args)-len(argv):]
	if !slices.Equal(tail, argv) {
		t.Errorf("buildRunArgs() tail = %v, want %v", tail, argv)
	}
	if args[len(args)-len(argv)-1] != "img" {
		t.Errorf("buildRunArgs() image must immediately precede the forwarded command: %v", args)
	}
}

func TestParseBuildOutput(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    string
		wantErr bool
	}{
		{
			name: "image id",
			out:  "sha256:3f2b8e5c4d1a\n",
			want: "sha256:3f2b8e5c4d1a",
		},
		{
			name: "no trailing newline",
			out:  "sha256:3f2b8e5c4d1a",
			want: "sha256:3f2b8e5c4d1a",
		},
		{
			name:    "empty output",
			out:     "\n",
			wantErr: true,
		},
		{
			name:    "multi-line output",
			out:     "Step 1/2 : FROM rust\nsha256:3f2b8e5c4d1a\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBuildOutput(tt.out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBuildOutput() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBuildOutput() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDockerRuntime(t *testing.T) {
	ctx := context.Background()

	d := New()
	if !d.Available(ctx) {
		t.Skip("Docker not available")
	}

	// Minimal image, no toolchain pull required
	def := image.Definition{Base: "busybox:latest"}
	id, err := d.Build(ctx, def, "cargo-shell-test")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if id == "" {
		t.Fatal("Build() returned empty image id")
	}

	// Write a file from inside the container and check it lands on the host
	// owned by the invoking user.
	tmpDir := t.TempDir()
	var stdout, stderr bytes.Buffer
	opts := runtime.RunOptions{
		ImageID: id,
		Argv:    []string{"sh", "-c", "echo hello > out.txt && cat out.txt"},
		WorkDir: tmpDir,
		Stdin:   bytes.NewReader(nil),
		Stdout:  &stdout,
		Stderr:  &stderr,
	}

	if err := d.Run(ctx, opts); err != nil {
		t.Fatalf("Run() error = %v, stderr = %s", err, stderr.String())
	}

	if !bytes.Contains(stdout.Bytes(), []byte("hello")) {
		t.Errorf("unexpected container output: %q", stdout.String())
	}

	info, err := os.Stat(filepath.Join(tmpDir, "out.txt"))
	if err != nil {
		t.Fatalf("container output not visible on host: %v", err)
	}
	if info.Size() == 0 {
		t.Error("container wrote an empty file")
	}
}

func TestDockerRuntimeExitStatus(t *testing.T) {
	ctx := context.Background()

	d := New()
	if !d.Available(ctx) {
		t.Skip("Docker not available")
	}

	def := image.Definition{Base: "busybox:latest"}
	id, err := d.Build(ctx, def, "")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	opts := runtime.RunOptions{
		ImageID: id,
		Argv:    []string{"sh", "-c", "exit 42"},
		Stdin:   bytes.NewReader(nil),
		Stdout:  new(bytes.Buffer),
		Stderr:  new(bytes.Buffer),
	}

	err = d.Run(ctx, opts)
	if err == nil {
		t.Fatal("Run() expected non-zero exit")
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 42 {
		t.Errorf("Run() error = %v, want exit status 42", err)
	}
}
