// Package sdkpath locates installed SDK components inside the package
// cache. Installed packages live in a nuget style tree:
//
//	{globalDir}/packages/{PackageName}.{version}/{subPath}/{N.N.N.N}/[{arch}/]
//
// Resolution precedence is pin, then newest version on disk, then
// architecture fallback. Nothing here mutates the tree.
package sdkpath

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/winpkg/appxbuild/pkg/contexts/ctxlog"
)

// ErrNotFound indicates a package root, version folder, architecture
// folder, or required sub-path was absent. Callers that have their own
// fallback (eg "use the main package when there is no separate runtime
// package") match on it with errors.Is.
var ErrNotFound = errors.New("sdk path not found")

var versionDirPattern = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)

// architectureFallbacks is the probe order when the current architecture
// folder is missing. The current architecture is always tried first;
// duplicates of it are skipped.
var architectureFallbacks = []string{"x64", "x86", "arm64"}

type Resolver struct {
	// GlobalDir is the root of the package cache.
	GlobalDir string

	// Pins maps a package name prefix to a pinned version string. Treated
	// as opaque input from configuration, never mutated.
	Pins map[string]string
}

// ParsePins parses a comma separated list of Name=Version pairs, as
// supplied on the command line, into a pin map. Every version must be a
// full N.N.N.N quad.
func ParsePins(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}

	pins := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		name, version, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, errors.Errorf("malformed pin %q, expected Name=Version", pair)
		}
		if _, err := parseQuad(version); err != nil {
			return nil, errors.Wrapf(err, "pin for %s", name)
		}
		pins[name] = version
	}

	return pins, nil
}

// CurrentArchitecture maps GOARCH onto the windows package folder names.
func CurrentArchitecture() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x64"
	case "386":
		return "x86"
	default:
		return runtime.GOARCH
	}
}

// Resolve finds the directory for one installed SDK component.
//
// With requireArch set, the returned path includes an architecture folder
// probed in the fixed fallback order, and a pinned version that is not on
// disk is a hard failure. Without it, finalSubPath (if any) is appended
// and required to exist, and a missing pin falls through to the newest
// version on disk.
func (r *Resolver) Resolve(ctx context.Context, packageNamePrefix, subPath, finalSubPath string, requireArch bool) (string, error) {
	logger := log.With(ctxlog.FromContext(ctx), "package", packageNamePrefix)

	packageRoot, err := r.findPackageRoot(logger, packageNamePrefix, requireArch)
	if err != nil {
		return "", err
	}

	subDir := filepath.Join(packageRoot, subPath)
	if _, err := os.Stat(subDir); err != nil {
		return "", errors.Wrapf(ErrNotFound, "no %s under %s", subPath, packageRoot)
	}

	versionDir, err := newestVersionDir(subDir)
	if err != nil {
		return "", err
	}

	if requireArch {
		return probeArchitecture(logger, versionDir)
	}

	if finalSubPath != "" {
		finalDir := filepath.Join(versionDir, finalSubPath)
		if _, err := os.Stat(finalDir); err != nil {
			return "", errors.Wrapf(ErrNotFound, "no %s under %s", finalSubPath, versionDir)
		}
		return finalDir, nil
	}

	return versionDir, nil
}

// ResolveBinary locates a tool executable under a build-tools style
// package: the newest binary folder for the current architecture, plus
// the executable's relative path.
func (r *Resolver) ResolveBinary(ctx context.Context, packageNamePrefix, relExePath string) (string, error) {
	binDir, err := r.Resolve(ctx, packageNamePrefix, "bin", "", true)
	if err != nil {
		return "", err
	}

	exePath := filepath.Join(binDir, relExePath)
	if _, err := os.Stat(exePath); err != nil {
		return "", errors.Wrapf(ErrNotFound, "no %s under %s", relExePath, binDir)
	}

	return exePath, nil
}

// findPackageRoot picks the package root directory for the prefix,
// honoring a configured pin. A pin that's missing on disk is fatal for
// binary resolution (strictPin), and falls back to newest otherwise.
func (r *Resolver) findPackageRoot(logger log.Logger, packageNamePrefix string, strictPin bool) (string, error) {
	packagesDir := filepath.Join(r.GlobalDir, "packages")

	entries, err := os.ReadDir(packagesDir)
	if err != nil {
		return "", errors.Wrapf(ErrNotFound, "reading packages dir %s: %v", packagesDir, err)
	}

	var candidates []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), packageNamePrefix+".") {
			candidates = append(candidates, entry.Name())
		}
	}

	if len(candidates) == 0 {
		return "", errors.Wrapf(ErrNotFound, "no installed package matches %s", packageNamePrefix)
	}

	if pin := r.Pins[packageNamePrefix]; pin != "" {
		for _, name := range candidates {
			if strings.HasSuffix(name, "."+pin) {
				return filepath.Join(packagesDir, name), nil
			}
		}

		if strictPin {
			return "", errors.Wrapf(ErrNotFound, "pinned version %s of %s is not installed", pin, packageNamePrefix)
		}

		level.Debug(logger).Log(
			"msg", "pinned version not installed, falling back to newest",
			"pin", pin,
		)
	}

	newest := candidates[0]
	for _, name := range candidates[1:] {
		if quadSuffix(name).compare(quadSuffix(newest)) > 0 {
			newest = name
		}
	}

	return filepath.Join(packagesDir, newest), nil
}

// newestVersionDir returns the greatest strictly N.N.N.N named immediate
// subdirectory of dir.
func newestVersionDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(ErrNotFound, "reading %s: %v", dir, err)
	}

	var newestName string
	var newestVersion quad
	for _, entry := range entries {
		if !entry.IsDir() || !versionDirPattern.MatchString(entry.Name()) {
			continue
		}

		v, err := parseQuad(entry.Name())
		if err != nil {
			continue
		}

		if newestName == "" || v.compare(newestVersion) > 0 {
			newestName = entry.Name()
			newestVersion = v
		}
	}

	if newestName == "" {
		return "", errors.Wrapf(ErrNotFound, "no version folders under %s", dir)
	}

	return filepath.Join(dir, newestName), nil
}

// probeArchitecture returns the first existing architecture folder under
// versionDir, trying the current architecture and then the fixed
// fallback order.
func probeArchitecture(logger log.Logger, versionDir string) (string, error) {
	currentArch := CurrentArchitecture()

	probes := []string{currentArch}
	for _, arch := range architectureFallbacks {
		if arch == currentArch {
			continue
		}
		probes = append(probes, arch)
	}

	for _, arch := range probes {
		archDir := filepath.Join(versionDir, arch)
		if _, err := os.Stat(archDir); err == nil {
			if arch != currentArch {
				level.Debug(logger).Log(
					"msg", "using fallback architecture",
					"wanted", currentArch,
					"got", arch,
				)
			}
			return archDir, nil
		}
	}

	return "", errors.Wrapf(ErrNotFound, "no architecture folder under %s", versionDir)
}
