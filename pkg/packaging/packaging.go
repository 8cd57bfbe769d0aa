// Package packaging drives msix/appx package generation and the
// iterative debug-install workflow. It composes the manifest rewrite
// steps, resolves image asset variants into the staged layout, and for
// self-contained deployment embeds the WinRT activation fragment into
// the executable.
package packaging

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/kit/fsutil"
	"github.com/pkg/errors"
	"github.com/winpkg/appxbuild/pkg/appxmanifest"
	"github.com/winpkg/appxbuild/pkg/contexts/ctxlog"
	"github.com/winpkg/appxbuild/pkg/sdkpath"
	"go.opencensus.io/trace"
)

// ManifestFileName is the well-known manifest location inside a package
// root.
const ManifestFileName = "appxmanifest.xml"

// Defaults for the packaging runtime dependency declaration.
const (
	DefaultRuntimeName      = "Microsoft.WindowsAppRuntime.1.4"
	DefaultRuntimeVersion   = "4000.1049.117.0"
	DefaultRuntimePublisher = "CN=Microsoft Corporation, O=Microsoft Corporation, L=Redmond, S=Washington, C=US"
)

type PackageOptions struct {
	// Root is the build output directory holding the manifest and app
	// payload.
	Root string

	// ManifestPath overrides the manifest location; defaults to
	// Root/appxmanifest.xml.
	ManifestPath string

	// ExePath is the application executable the manifest should point at.
	ExePath string

	// EntryPoint is an explicitly supplied entry point path, when the
	// caller overrides the executable detection.
	EntryPoint string

	// OutputPathDir receives the staged package (or sparse debug
	// package) layout.
	OutputPathDir string

	// SelfContained deploys the runtime alongside the app instead of
	// depending on the installed runtime package.
	SelfContained bool

	// GlobalDir is the package cache root for SDK component lookups.
	GlobalDir string

	// PinnedVersions maps SDK package names to pinned versions; opaque
	// configuration input.
	PinnedVersions map[string]string

	// RuntimeName / RuntimeVersion / RuntimePublisher override the
	// injected runtime dependency declaration.
	RuntimeName      string
	RuntimeVersion   string
	RuntimePublisher string
}

func (po *PackageOptions) manifestPath() string {
	if po.ManifestPath != "" {
		return po.ManifestPath
	}
	return filepath.Join(po.Root, ManifestFileName)
}

func (po *PackageOptions) entryPoint() string {
	if po.EntryPoint != "" {
		return po.EntryPoint
	}
	return po.ExePath
}

func (po *PackageOptions) resolver() *sdkpath.Resolver {
	return &sdkpath.Resolver{GlobalDir: po.GlobalDir, Pins: po.PinnedVersions}
}

func (po *PackageOptions) runtimeDependency() (name, version, publisher string) {
	name, version, publisher = DefaultRuntimeName, DefaultRuntimeVersion, DefaultRuntimePublisher
	if po.RuntimeName != "" {
		name = po.RuntimeName
	}
	if po.RuntimeVersion != "" {
		version = po.RuntimeVersion
	}
	if po.RuntimePublisher != "" {
		publisher = po.RuntimePublisher
	}
	return name, version, publisher
}

// CreatePackage stages a package root ready for the packing toolchain:
// manifest with updated identity, executable path, and runtime
// dependency, plus every referenced asset variant. For self-contained
// deployment the activation fragment is embedded into the executable
// instead of declaring the runtime dependency.
func CreatePackage(ctx context.Context, po *PackageOptions) (string, error) {
	ctx, span := trace.StartSpan(ctx, "packaging.CreatePackage")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	doc, identity, err := readManifest(po)
	if err != nil {
		return "", err
	}

	if err := ensureOutputDir(po); err != nil {
		return "", err
	}

	steps := []appxmanifest.Step{
		appxmanifest.SetIdentity(identity.Name, identity.ApplicationID),
		appxmanifest.SetExecutable(po.OutputPathDir, po.ExePath),
	}

	if injectRuntimeDependency(po) {
		name, version, publisher := po.runtimeDependency()
		steps = append(steps, appxmanifest.EnsureRuntimeDependency(name, version, publisher))
	}

	out, err := appxmanifest.Apply(doc, steps...)
	if err != nil {
		return "", errors.Wrap(err, "transforming manifest")
	}

	stagedManifest := filepath.Join(po.OutputPathDir, ManifestFileName)
	if err := os.WriteFile(stagedManifest, out, fsutil.FileMode); err != nil {
		return "", errors.Wrap(err, "writing staged manifest")
	}

	if err := copyDeclaredAssets(ctx, po, doc); err != nil {
		return "", err
	}

	if po.SelfContained {
		if err := embedActivationFragment(ctx, po); err != nil {
			return "", err
		}
	}

	level.Info(logger).Log(
		"msg", "staged package",
		"package", identity.Name,
		"output", po.OutputPathDir,
	)

	return po.OutputPathDir, nil
}

// DebugInstall produces the sparse debug package for an app: a manifest
// with the debug-suffixed identity and sparse packaging flags, pointing
// at the externally-located build output, with assets resolved
// alongside. Registration of the produced package is the caller's
// (external) concern.
func DebugInstall(ctx context.Context, po *PackageOptions) (string, error) {
	ctx, span := trace.StartSpan(ctx, "packaging.DebugInstall")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	doc, identity, err := readManifest(po)
	if err != nil {
		return "", err
	}

	if err := ensureOutputDir(po); err != nil {
		return "", err
	}

	debugIdentity := identity.WithDebugSuffix()
	isNative := appxmanifest.IsNativeExecutable(po.entryPoint())

	steps := []appxmanifest.Step{
		appxmanifest.SetIdentity(debugIdentity.Name, debugIdentity.ApplicationID),
		appxmanifest.SetExecutable(po.OutputPathDir, po.ExePath),
		appxmanifest.ApplySparseDebug(isNative),
	}

	if injectRuntimeDependency(po) {
		name, version, publisher := po.runtimeDependency()
		steps = append(steps, appxmanifest.EnsureRuntimeDependency(name, version, publisher))
	}

	out, err := appxmanifest.Apply(doc, steps...)
	if err != nil {
		return "", errors.Wrap(err, "transforming manifest")
	}

	sparseManifest := filepath.Join(po.OutputPathDir, ManifestFileName)
	if err := os.WriteFile(sparseManifest, out, fsutil.FileMode); err != nil {
		return "", errors.Wrap(err, "writing sparse manifest")
	}

	if err := copyDeclaredAssets(ctx, po, doc); err != nil {
		return "", err
	}

	level.Info(logger).Log(
		"msg", "generated sparse debug package",
		"package", debugIdentity.Name,
		"output", po.OutputPathDir,
	)

	return po.OutputPathDir, nil
}

// injectRuntimeDependency decides whether the manifest gets a runtime
// PackageDependency: skipped for self-contained deployment, and for
// explicit entry points that aren't native executables.
func injectRuntimeDependency(po *PackageOptions) bool {
	if po.SelfContained {
		return false
	}
	if po.EntryPoint != "" && !appxmanifest.IsNativeExecutable(po.EntryPoint) {
		return false
	}
	return true
}

func readManifest(po *PackageOptions) ([]byte, appxmanifest.Identity, error) {
	manifestPath := po.manifestPath()

	doc, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, appxmanifest.Identity{}, errors.Wrapf(err, "reading manifest %s", manifestPath)
	}

	identity, err := appxmanifest.ParseIdentity(doc)
	if err != nil {
		return nil, appxmanifest.Identity{}, err
	}

	return doc, identity, nil
}

func ensureOutputDir(po *PackageOptions) error {
	if po.OutputPathDir == "" {
		dir, err := os.MkdirTemp("", "appxbuild_")
		if err != nil {
			return errors.Wrap(err, "could not create output directory for package")
		}
		po.OutputPathDir = dir
		return nil
	}

	if err := os.MkdirAll(po.OutputPathDir, fsutil.DirMode); err != nil {
		return errors.Wrapf(err, "could not create directory %s", po.OutputPathDir)
	}
	return nil
}
