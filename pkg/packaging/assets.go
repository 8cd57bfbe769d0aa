package packaging

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/winpkg/appxbuild/pkg/appxmanifest"
	"github.com/winpkg/appxbuild/pkg/contexts/ctxlog"
	"github.com/winpkg/appxbuild/pkg/mrt"
)

// baseDimensions maps the standard logo slot names onto their base
// pixel sizes. Slots we don't recognize still get their variants
// copied; the dimensions are informational.
var baseDimensions = map[string][2]int{
	"Square44x44Logo":   {44, 44},
	"Square71x71Logo":   {71, 71},
	"Square150x150Logo": {150, 150},
	"Square310x310Logo": {310, 310},
	"Wide310x150Logo":   {310, 150},
	"StoreLogo":         {50, 50},
}

// copyDeclaredAssets resolves every image the manifest references into
// the equivalent location under the output directory, bringing along
// all qualifier variants of each. A manifest that declares no images at
// all gets the standard logo slots instead.
func copyDeclaredAssets(ctx context.Context, po *PackageOptions, doc []byte) error {
	logger := ctxlog.FromContext(ctx)

	sourceDir := filepath.Dir(po.manifestPath())

	var assets []mrt.Asset
	for _, image := range appxmanifest.DeclaredImages(doc) {
		assets = append(assets, declaredAsset(image))
	}
	if len(assets) == 0 {
		assets = mrt.DefaultAssets()
	}

	for _, asset := range assets {
		stats, err := mrt.ResolveAndCopy(ctx, asset, sourceDir, po.OutputPathDir)
		if err != nil {
			return err
		}

		if stats.Copied < stats.Attempted {
			level.Info(logger).Log(
				"msg", "some asset variants failed to copy",
				"asset", asset.RelativePath,
				"attempted", stats.Attempted,
				"copied", stats.Copied,
			)
		}
	}

	return nil
}

// declaredAsset turns a manifest image reference (backslashed, relative
// to the manifest) into an Asset with known base dimensions.
func declaredAsset(image string) mrt.Asset {
	relPath := filepath.FromSlash(strings.ReplaceAll(image, `\`, "/"))

	base := filepath.Base(relPath)
	name := base[:len(base)-len(filepath.Ext(base))]

	asset := mrt.Asset{RelativePath: relPath}
	if dims, ok := baseDimensions[name]; ok {
		asset.BaseWidth, asset.BaseHeight = dims[0], dims[1]
	}
	return asset
}
