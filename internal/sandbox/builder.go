package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"text/template"
	"time"

	"mvdan.cc/sh/v3/shell"

	"github.com/roach88/pocharness/internal/meta"
)

// Artifact is a built case ready to execute.
type Artifact struct {
	// Path is the executable; Args are passed after it.
	Path string
	Args []string

	// Dir is the working directory of the process.
	Dir string

	// Env is appended to the harness environment.
	Env []string

	// NoAddressLimit skips RLIMIT_AS, which sanitizer runtimes cannot live
	// under. The RSS watchdog still applies.
	NoAddressLimit bool

	BuildTime time.Duration
}

// Builder turns a case into an executable inside its private work directory.
// A compile or dependency failure is a *BuildError; failing to run the build
// tool at all is an *IsolationError.
type Builder interface {
	Build(ctx context.Context, c *meta.CaseDescriptor, dir string) (*Artifact, error)
}

// Cargo build defaults.
const (
	DefaultBuildCommand = "cargo"
	DefaultBuildTimeout = 10 * time.Minute
	DefaultRustFlags    = "-A warnings"
	DefaultLinkPath     = "dependencies"
)

// CargoBuilder builds a case as a throwaway cargo package pinned to the exact
// target version.
type CargoBuilder struct {
	// Command is the cargo invocation, split with shell quoting rules, e.g.
	// "cargo" or "env CARGO_NET_OFFLINE=true cargo".
	Command string

	// Toolchain is used when the case does not declare cargo_toolchain.
	Toolchain string

	// Target is an optional --target triple. Sanitizers need one.
	Target string

	// Sanitizer enables -Zsanitizer=<name> (e.g. "address").
	Sanitizer string

	RustFlags string
	LinkPath  string
	Timeout   time.Duration

	// OutputLimit caps the build log kept for BuildFailed results.
	OutputLimit int
}

// NewCargoBuilder returns a builder with the default command and flags.
func NewCargoBuilder() *CargoBuilder {
	return &CargoBuilder{
		Command:     DefaultBuildCommand,
		RustFlags:   DefaultRustFlags,
		LinkPath:    DefaultLinkPath,
		Timeout:     DefaultBuildTimeout,
		OutputLimit: DefaultOutputLimit,
	}
}

var manifestTemplate = template.Must(template.New("Cargo.toml").Parse(`[package]
name = "{{.Package}}"
version = "0.1.0"
edition = "2018"
build = "build.rs"

[dependencies]
{{range .Deps}}{{.Crate}} = "{{.Requirement}}"
{{end}}`))

var buildScriptTemplate = template.Must(template.New("build.rs").Parse(`fn main() {
    println!("cargo:rustc-link-search={{.}}");
}
`))

// packageName is the cargo package (and binary) name for a case.
func packageName(c *meta.CaseDescriptor) string {
	return "poc-" + c.ID
}

// writeProject lays out Cargo.toml, build.rs and src/main.rs in dir.
func (b *CargoBuilder) writeProject(c *meta.CaseDescriptor, dir, linkPath string) error {
	deps := append([]meta.Target{c.Target}, c.Hint.Peers...)

	var manifest strings.Builder
	if err := manifestTemplate.Execute(&manifest, struct {
		Package string
		Deps    []meta.Target
	}{packageName(c), deps}); err != nil {
		return fmt.Errorf("render Cargo.toml: %w", err)
	}

	var script strings.Builder
	if err := buildScriptTemplate.Execute(&script, linkPath); err != nil {
		return fmt.Errorf("render build.rs: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		return err
	}
	files := map[string]string{
		"Cargo.toml":  manifest.String(),
		"build.rs":    script.String(),
		"src/main.rs": c.Source,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// buildArgs is the cargo argv for a case: <command> [+toolchain] build [flags].
func (b *CargoBuilder) buildArgs(c *meta.CaseDescriptor) ([]string, error) {
	command := b.Command
	if command == "" {
		command = DefaultBuildCommand
	}
	argv, err := shell.Fields(command, nil)
	if err != nil {
		return nil, fmt.Errorf("parse build command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("build command is empty")
	}

	toolchain := c.Hint.Toolchain
	if toolchain == "" {
		toolchain = b.Toolchain
	}
	if toolchain != "" {
		argv = append(argv, "+"+toolchain)
	}
	argv = append(argv, "build", "--color", "never")
	if b.Target != "" {
		argv = append(argv, "--target", b.Target)
	}
	argv = append(argv, c.Hint.CargoFlags...)
	return argv, nil
}

// rustFlags appends the builder's flags to any RUSTFLAGS already set in the
// environment.
func (b *CargoBuilder) rustFlags() string {
	flags := strings.TrimSpace(os.Getenv("RUSTFLAGS") + " " + b.RustFlags)
	if b.Sanitizer != "" {
		flags = strings.TrimSpace(flags + " -Zsanitizer=" + b.Sanitizer)
	}
	return flags
}

// binaryPath is where cargo leaves the case executable.
func (b *CargoBuilder) binaryPath(c *meta.CaseDescriptor, dir string) string {
	profile := "debug"
	if slices.Contains(c.Hint.CargoFlags, "--release") {
		profile = "release"
	}
	parts := []string{dir, "target"}
	if b.Target != "" {
		parts = append(parts, b.Target)
	}
	parts = append(parts, profile, packageName(c))
	return filepath.Join(parts...)
}

// Build implements Builder.
func (b *CargoBuilder) Build(ctx context.Context, c *meta.CaseDescriptor, dir string) (*Artifact, error) {
	linkPath := b.LinkPath
	if linkPath == "" {
		linkPath = DefaultLinkPath
	}
	if abs, err := filepath.Abs(linkPath); err == nil {
		linkPath = abs
	}

	if err := b.writeProject(c, dir, linkPath); err != nil {
		return nil, &IsolationError{CaseID: c.ID, Stage: "project", Err: err}
	}
	argv, err := b.buildArgs(c)
	if err != nil {
		return nil, &IsolationError{CaseID: c.ID, Stage: "build-command", Err: err}
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultBuildTimeout
	}
	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limit := b.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	out := newBoundedBuffer(limit)

	cmd := exec.CommandContext(buildCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "RUSTFLAGS="+b.rustFlags())
	cmd.Stdout = out
	cmd.Stderr = out
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = DefaultGracePeriod

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &IsolationError{CaseID: c.ID, Stage: "spawn-build", Err: err}
	}
	err = cmd.Wait()
	_ = killProcessGroup(cmd)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		output, _ := out.Snapshot()
		be := &BuildError{CaseID: c.ID, Output: output, Err: err}
		if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
			be.Note = NoteBuildTimeout
			be.Err = fmt.Errorf("build exceeded %s: %w", timeout, err)
		}
		return nil, be
	}

	bin := b.binaryPath(c, dir)
	if _, err := os.Stat(bin); err != nil {
		output, _ := out.Snapshot()
		return nil, &BuildError{CaseID: c.ID, Output: output, Err: fmt.Errorf("binary not produced: %w", err)}
	}

	return &Artifact{
		Path:           bin,
		Dir:            dir,
		Env:            []string{"LD_LIBRARY_PATH=" + joinPathList(os.Getenv("LD_LIBRARY_PATH"), linkPath)},
		NoAddressLimit: b.Sanitizer != "",
		BuildTime:      elapsed,
	}, nil
}

func joinPathList(existing, add string) string {
	if existing == "" {
		return add
	}
	return existing + string(os.PathListSeparator) + add
}
