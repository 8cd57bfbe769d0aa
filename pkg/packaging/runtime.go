package packaging

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/winpkg/appxbuild/pkg/activation"
	"github.com/winpkg/appxbuild/pkg/contexts/ctxlog"
	"github.com/winpkg/appxbuild/pkg/mt"
	"go.opencensus.io/trace"
)

// runtimePackagePrefix is the SDK component carrying the packaging
// runtime's redistributable payload.
const runtimePackagePrefix = "Microsoft.WindowsAppSDK"

// embedActivationFragment generates the WinRT activation fragment from
// the runtime's dependency manifests and merges it into the
// executable's native manifest, so a self-contained app can activate
// runtime classes without package registration.
func embedActivationFragment(ctx context.Context, po *PackageOptions) error {
	ctx, span := trace.StartSpan(ctx, "packaging.embedActivationFragment")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	manifests, err := findDependencyManifests(ctx, po)
	if err != nil {
		return err
	}

	fragmentPath := filepath.Join(po.OutputPathDir, "activation.fragment.manifest")
	fragmentFH, err := os.Create(fragmentPath)
	if err != nil {
		return errors.Wrap(err, "creating fragment file")
	}
	defer os.Remove(fragmentPath)

	genErr := activation.Generate(fragmentFH, manifests, activation.FragmentOptions{})
	fragmentFH.Close()
	if genErr != nil {
		return genErr
	}

	tool, err := mt.New(ctx, po.resolver())
	if err != nil {
		return err
	}
	defer tool.Cleanup()

	if err := tool.EmbedFragment(ctx, po.ExePath, fragmentPath); err != nil {
		return errors.Wrap(err, "embedding activation fragment")
	}

	level.Debug(logger).Log(
		"msg", "embedded activation fragment",
		"exe", po.ExePath,
		"dependency_manifests", len(manifests),
	)

	return nil
}

// findDependencyManifests locates the dependency manifests to extract
// registrations from. Candidate locations are tried in order with the
// first success short-circuiting: the separate runtime package first,
// then the main SDK package for installs that ship without one.
func findDependencyManifests(ctx context.Context, po *PackageOptions) ([]*activation.DepManifest, error) {
	resolver := po.resolver()

	candidates := []func() (string, error){
		func() (string, error) {
			return resolver.Resolve(ctx, runtimePackagePrefix+".Runtime", "runtimes", "", true)
		},
		func() (string, error) {
			return resolver.Resolve(ctx, runtimePackagePrefix, "runtimes", "", true)
		},
	}

	var packageDir string
	var lastErr error
	for _, candidate := range candidates {
		dir, err := candidate()
		if err == nil {
			packageDir = dir
			break
		}
		lastErr = err
	}
	if packageDir == "" {
		return nil, errors.Wrap(lastErr, "locating runtime package")
	}

	return loadDependencyManifests(packageDir)
}

// loadDependencyManifests walks a runtime package directory for
// manifests and pairs each with the DLL inventory of its directory.
func loadDependencyManifests(packageDir string) ([]*activation.DepManifest, error) {
	var manifests []*activation.DepManifest

	err := filepath.WalkDir(packageDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(d.Name(), "AppxManifest.xml") {
			return nil
		}

		fh, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "opening dependency manifest %s", path)
		}
		defer fh.Close()

		dm, err := activation.ParseDepManifest(fh)
		if err != nil {
			return errors.Wrapf(err, "parsing dependency manifest %s", path)
		}

		dm.DLLs, err = dllInventory(filepath.Dir(path))
		if err != nil {
			return err
		}

		manifests = append(manifests, dm)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(manifests) == 0 {
		return nil, errors.Errorf("no dependency manifests under %s", packageDir)
	}

	return manifests, nil
}

func dllInventory(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.dll"))
	if err != nil {
		return nil, errors.Wrapf(err, "globbing dlls in %s", dir)
	}

	dlls := make([]string, 0, len(matches))
	for _, match := range matches {
		dlls = append(dlls, filepath.Base(match))
	}
	return dlls, nil
}
