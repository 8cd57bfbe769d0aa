package mt

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecCC reroutes mt.exe invocations into this test binary's
// TestHelperProcess, which emulates the tool behaviors we exercise.
func fakeExecCC(mode string) func(context.Context, string, ...string) *exec.Cmd {
	return func(ctx context.Context, _ string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", mode}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	mode, args := args[1], args[2:]

	outPath := ""
	for _, arg := range args {
		if strings.HasPrefix(arg, "-out:") {
			outPath = strings.TrimPrefix(arg, "-out:")
		}
	}

	switch mode {
	case "ok":
		if outPath != "" {
			os.WriteFile(outPath, []byte("<assembly/>"), 0644)
		}
		os.Exit(0)
	case "no-manifest":
		if isExtract(args) {
			fmt.Fprintln(os.Stderr, "mt.exe : general error c101008c: Failed to read the manifest from the resource of file")
			os.Exit(31)
		}
		if outPath != "" {
			os.WriteFile(outPath, []byte("<assembly/>"), 0644)
		}
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "mt.exe : general error c101008e: something broke")
		os.Exit(31)
	}
	os.Exit(2)
}

func isExtract(args []string) bool {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-inputresource:") {
			return true
		}
	}
	return false
}

func newTestTool(t *testing.T, mode string) *Tool {
	tool, err := New(context.TODO(), nil, WithMT("mt.exe"), WithExec(fakeExecCC(mode)))
	require.NoError(t, err)
	t.Cleanup(tool.Cleanup)
	return tool
}

func TestExtract(t *testing.T) {
	t.Parallel()

	tool := newTestTool(t, "ok")

	manifestPath, ok, err := tool.Extract(context.TODO(), "app.exe")
	require.NoError(t, err)
	require.True(t, ok)
	require.FileExists(t, manifestPath)
}

func TestExtractNoManifest(t *testing.T) {
	t.Parallel()

	tool := newTestTool(t, "no-manifest")

	_, ok, err := tool.Extract(context.TODO(), "app.exe")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEmbedFragmentMergesExisting(t *testing.T) {
	t.Parallel()

	tool := newTestTool(t, "ok")

	fragment := filepath.Join(t.TempDir(), "fragment.manifest")
	require.NoError(t, os.WriteFile(fragment, []byte("<assembly/>"), 0644))

	require.NoError(t, tool.EmbedFragment(context.TODO(), "app.exe", fragment))
}

func TestEmbedFragmentWithoutExisting(t *testing.T) {
	t.Parallel()

	tool := newTestTool(t, "no-manifest")

	fragment := filepath.Join(t.TempDir(), "fragment.manifest")
	require.NoError(t, os.WriteFile(fragment, []byte("<assembly/>"), 0644))

	require.NoError(t, tool.EmbedFragment(context.TODO(), "app.exe", fragment))
}

func TestToolErrorSurfacesExitCodeAndOutput(t *testing.T) {
	t.Parallel()

	tool := newTestTool(t, "fail")

	err := tool.Embed(context.TODO(), "app.exe", "manifest.xml")
	require.Error(t, err)

	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, 31, toolErr.ExitCode)
	assert.Contains(t, toolErr.Output, "c101008e")
}

func TestCleanupRemovesWorkDir(t *testing.T) {
	t.Parallel()

	tool := newTestTool(t, "ok")
	require.DirExists(t, tool.workDir)

	tool.Cleanup()
	require.NoDirExists(t, tool.workDir)
}
