package mrt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveAndCopy(t *testing.T) {
	t.Parallel()

	sourceDir := t.TempDir()
	targetDir := t.TempDir()

	imagesDir := filepath.Join(sourceDir, "Images")
	require.NoError(t, os.MkdirAll(imagesDir, 0755))

	for _, name := range []string{
		"Square44x44Logo.png",
		"Square44x44Logo.scale-200.png",
		"Square44x44Logo.old.png",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(imagesDir, name), []byte("png"), 0644))
	}

	asset := Asset{RelativePath: filepath.Join("Images", "Square44x44Logo.png"), BaseWidth: 44, BaseHeight: 44}

	stats, err := ResolveAndCopy(context.TODO(), asset, sourceDir, targetDir)
	require.NoError(t, err)
	require.Equal(t, CopyStats{Attempted: 2, Copied: 2}, stats)

	// the exact file and its scale variant are copied, the stray .old is not
	require.FileExists(t, filepath.Join(targetDir, "Images", "Square44x44Logo.png"))
	require.FileExists(t, filepath.Join(targetDir, "Images", "Square44x44Logo.scale-200.png"))
	require.NoFileExists(t, filepath.Join(targetDir, "Images", "Square44x44Logo.old.png"))
}

func TestResolveAndCopyExactFallback(t *testing.T) {
	t.Parallel()

	sourceDir := t.TempDir()
	targetDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "StoreLogo.png"), []byte("png"), 0644))

	asset := Asset{RelativePath: "StoreLogo.png", BaseWidth: 50, BaseHeight: 50}

	stats, err := ResolveAndCopy(context.TODO(), asset, sourceDir, targetDir)
	require.NoError(t, err)
	require.Equal(t, CopyStats{Attempted: 1, Copied: 1}, stats)
	require.FileExists(t, filepath.Join(targetDir, "StoreLogo.png"))
}

func TestResolveAndCopyMissingSource(t *testing.T) {
	t.Parallel()

	sourceDir := t.TempDir()
	targetDir := t.TempDir()

	asset := Asset{RelativePath: "Missing.png"}

	_, err := ResolveAndCopy(context.TODO(), asset, sourceDir, targetDir)
	require.Error(t, err)
}

func TestResolveAndCopyIgnoresOtherExtensions(t *testing.T) {
	t.Parallel()

	sourceDir := t.TempDir()
	targetDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "Logo.png"), []byte("png"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "Logo.scale-200.png"), []byte("png"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "Logo.scale-200.svg"), []byte("svg"), 0644))

	asset := Asset{RelativePath: "Logo.png"}

	stats, err := ResolveAndCopy(context.TODO(), asset, sourceDir, targetDir)
	require.NoError(t, err)
	require.Equal(t, CopyStats{Attempted: 2, Copied: 2}, stats)
	require.NoFileExists(t, filepath.Join(targetDir, "Logo.scale-200.svg"))
}
