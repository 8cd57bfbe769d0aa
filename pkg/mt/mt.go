// Package mt wraps the windows manifest tool (mt.exe) for reading,
// merging, and replacing the native manifest resource embedded in an
// executable.
package mt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/winpkg/appxbuild/pkg/contexts/ctxlog"
	"github.com/winpkg/appxbuild/pkg/sdkpath"
)

// buildToolsPackage is the SDK component carrying mt.exe.
const buildToolsPackage = "Microsoft.Windows.SDK.BuildTools"

// manifestResourceID is the resource slot executables keep their native
// manifest in.
const manifestResourceID = "#1"

// ToolError carries the exit code and captured output of a failed
// mt.exe invocation so the caller can surface both.
type ToolError struct {
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mt.exe exited %d: %s", e.ExitCode, e.Output)
}

type Tool struct {
	mtPath    string
	workDir   string
	cleanDirs []string

	execCC func(context.Context, string, ...string) *exec.Cmd // Allows test overrides
}

type Opt func(*Tool)

// WithMT sets an explicit mt.exe path instead of resolving one from the
// installed build tools package.
func WithMT(path string) Opt {
	return func(t *Tool) {
		t.mtPath = path
	}
}

func WithExec(execCC func(context.Context, string, ...string) *exec.Cmd) Opt {
	return func(t *Tool) {
		t.execCC = execCC
	}
}

// New returns a Tool ready to run mt.exe, locating the binary through
// the package cache when no explicit path was given.
func New(ctx context.Context, resolver *sdkpath.Resolver, opts ...Opt) (*Tool, error) {
	t := &Tool{
		execCC: exec.CommandContext,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.mtPath == "" {
		mtPath, err := resolver.ResolveBinary(ctx, buildToolsPackage, "mt.exe")
		if err != nil {
			return nil, errors.Wrap(err, "locating mt.exe")
		}
		t.mtPath = mtPath
	}

	workDir, err := os.MkdirTemp("", "mt-work")
	if err != nil {
		return nil, errors.Wrap(err, "making mt work dir")
	}
	t.workDir = workDir
	t.cleanDirs = append(t.cleanDirs, workDir)

	return t, nil
}

// Cleanup removes temp directories. Meant to be called in a defer.
func (t *Tool) Cleanup() {
	for _, d := range t.cleanDirs {
		os.RemoveAll(d)
	}
}

// Extract pulls the existing native manifest out of an executable. A
// manifest-less executable is not an error; ok reports whether one was
// found.
func (t *Tool) Extract(ctx context.Context, exePath string) (string, bool, error) {
	outPath := filepath.Join(t.workDir, "extracted.manifest")

	_, err := t.execOut(ctx,
		"-nologo",
		"-inputresource:"+exePath+";"+manifestResourceID,
		"-out:"+outPath,
	)
	if err != nil {
		// mt.exe fails the extract when the executable has no manifest
		// resource; treat that as absent rather than fatal
		var toolErr *ToolError
		if errors.As(err, &toolErr) && strings.Contains(toolErr.Output, "c101008c") {
			return "", false, nil
		}
		return "", false, err
	}

	if _, err := os.Stat(outPath); err != nil {
		return "", false, nil
	}

	return outPath, true, nil
}

// Merge combines an existing manifest with a new fragment into one
// document and returns its path.
func (t *Tool) Merge(ctx context.Context, existingPath, freshPath string) (string, error) {
	mergedPath := filepath.Join(t.workDir, "merged.manifest")

	if _, err := t.execOut(ctx,
		"-nologo",
		"-manifest", existingPath, freshPath,
		"-out:"+mergedPath,
	); err != nil {
		return "", errors.Wrap(err, "merging manifests")
	}

	return mergedPath, nil
}

// Embed replaces the executable's manifest resource with the given
// manifest document.
func (t *Tool) Embed(ctx context.Context, exePath, manifestPath string) error {
	if _, err := t.execOut(ctx,
		"-nologo",
		"-manifest", manifestPath,
		"-outputresource:"+exePath+";"+manifestResourceID,
	); err != nil {
		return errors.Wrap(err, "embedding manifest")
	}

	return nil
}

// EmbedFragment merges fragmentPath into the executable's existing
// native manifest, or uses the fragment verbatim when the executable has
// none, then replaces the manifest resource. Temp files are cleaned up
// by Cleanup on every path.
func (t *Tool) EmbedFragment(ctx context.Context, exePath, fragmentPath string) error {
	logger := ctxlog.FromContext(ctx)

	existingPath, hasManifest, err := t.Extract(ctx, exePath)
	if err != nil {
		return errors.Wrap(err, "extracting existing manifest")
	}

	manifestPath := fragmentPath
	if hasManifest {
		merged, err := t.Merge(ctx, existingPath, fragmentPath)
		if err != nil {
			return err
		}
		manifestPath = merged
	} else {
		level.Debug(logger).Log(
			"msg", "executable has no manifest, embedding fragment as-is",
			"exe", exePath,
		)
	}

	return t.Embed(ctx, exePath, manifestPath)
}

func (t *Tool) execOut(ctx context.Context, args ...string) (string, error) {
	logger := ctxlog.FromContext(ctx)

	cmd := t.execCC(ctx, t.mtPath, args...)

	level.Debug(logger).Log(
		"msg", "execing",
		"cmd", strings.Join(cmd.Args, " "),
	)

	cmd.Dir = t.workDir
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.Stdout, cmd.Stderr = stdout, stderr
	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		}
		return "", errors.Wrapf(&ToolError{
			ExitCode: exitCode,
			Output:   strings.TrimSpace(stdout.String() + stderr.String()),
		}, "run command %s %v", t.mtPath, args)
	}
	return strings.TrimSpace(stdout.String()), nil
}
