package mrt

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/kit/fsutil"
	"github.com/pkg/errors"
	"github.com/winpkg/appxbuild/pkg/contexts/ctxlog"
)

// Asset is one logical image slot declared by a manifest, eg a tile
// logo. RelativePath is relative to the manifest's directory.
type Asset struct {
	RelativePath string
	BaseWidth    int
	BaseHeight   int
}

// DefaultAssets returns the standard logo slots with their base
// dimensions, used when a manifest declares no images of its own.
func DefaultAssets() []Asset {
	return []Asset{
		{RelativePath: filepath.Join("Images", "Square44x44Logo.png"), BaseWidth: 44, BaseHeight: 44},
		{RelativePath: filepath.Join("Images", "Square150x150Logo.png"), BaseWidth: 150, BaseHeight: 150},
		{RelativePath: filepath.Join("Images", "Wide310x150Logo.png"), BaseWidth: 310, BaseHeight: 150},
		{RelativePath: filepath.Join("Images", "StoreLogo.png"), BaseWidth: 50, BaseHeight: 50},
	}
}

// CopyStats reports how a variant copy pass went. Attempted counts every
// file that passed variant matching; Copied counts the ones that made it
// to the target tree.
type CopyStats struct {
	Attempted int
	Copied    int
}

// ResolveAndCopy copies every on-disk variant of asset from sourceDir
// into the equivalent relative location under targetDir. Individual copy
// failures are logged and skipped so one bad file doesn't starve the
// remaining variants; a source directory with neither variants nor the
// exact logical file is an error.
func ResolveAndCopy(ctx context.Context, asset Asset, sourceDir, targetDir string) (CopyStats, error) {
	logger := ctxlog.FromContext(ctx)
	stats := CopyStats{}

	assetDir := filepath.Dir(filepath.Join(sourceDir, asset.RelativePath))
	fileName := filepath.Base(asset.RelativePath)
	ext := filepath.Ext(fileName)
	base := strings.TrimSuffix(fileName, ext)

	variants, err := findVariants(assetDir, base, ext)
	if err != nil {
		return stats, err
	}

	if len(variants) == 0 {
		// No variants on disk. If the exact logical file exists, use it
		// alone as the fallback.
		exact := filepath.Join(assetDir, fileName)
		if _, err := os.Stat(exact); err != nil {
			return stats, errors.Errorf("no files found for asset %s under %s", asset.RelativePath, sourceDir)
		}
		variants = []string{exact}
	}

	targetAssetDir := filepath.Dir(filepath.Join(targetDir, asset.RelativePath))
	if err := os.MkdirAll(targetAssetDir, fsutil.DirMode); err != nil {
		return stats, errors.Wrapf(err, "creating asset target dir %s", targetAssetDir)
	}

	for _, variant := range variants {
		stats.Attempted++

		target := filepath.Join(targetAssetDir, filepath.Base(variant))
		if err := fsutil.CopyFile(variant, target); err != nil {
			level.Info(logger).Log(
				"msg", "failed to copy asset variant",
				"variant", variant,
				"err", err,
			)
			continue
		}

		stats.Copied++
	}

	level.Debug(logger).Log(
		"msg", "resolved asset variants",
		"asset", asset.RelativePath,
		"attempted", stats.Attempted,
		"copied", stats.Copied,
	)

	return stats, nil
}

// findVariants lists the files in dir whose names are valid variants of
// base+ext. Files with a different extension, or with any dot-segment
// that fails the qualifier grammar, are left untouched.
func findVariants(dir, base, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading asset source dir %s", dir)
	}

	var variants []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}

		if IsVariant(base, strings.TrimSuffix(name, filepath.Ext(name))) {
			variants = append(variants, filepath.Join(dir, name))
		}
	}

	return variants, nil
}
