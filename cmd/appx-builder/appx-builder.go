package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/kolide/kit/env"
	"github.com/kolide/kit/version"
	"github.com/pkg/errors"
	"github.com/winpkg/appxbuild/pkg/contexts/ctxlog"
	"github.com/winpkg/appxbuild/pkg/packaging"
	"github.com/winpkg/appxbuild/pkg/sdkpath"
)

func runVersion(args []string) error {
	version.PrintFull()
	return nil
}

func runMake(args []string) error {
	flagset := flag.NewFlagSet("make", flag.ExitOnError)
	var (
		flDebug = flagset.Bool(
			"debug",
			false,
			"enable debug logging",
		)
		flRoot = flagset.String(
			"root",
			env.String("BUILD_ROOT", ""),
			"the build output directory holding appxmanifest.xml and the app payload",
		)
		flExe = flagset.String(
			"exe",
			env.String("APP_EXE", ""),
			"path to the application executable",
		)
		flOutput = flagset.String(
			"output",
			env.String("OUTPUT_DIR", ""),
			"directory to stage the package into",
		)
		flSelfContained = flagset.Bool(
			"self_contained",
			env.Bool("SELF_CONTAINED", false),
			"deploy the runtime alongside the app instead of depending on the installed runtime",
		)
		flGlobalDir = flagset.String(
			"global_dir",
			env.String("GLOBAL_DIR", ""),
			"root of the SDK package cache",
		)
		flSDKPins = flagset.String(
			"sdk_pins",
			env.String("SDK_PINS", ""),
			"pinned SDK package versions, comma separated Name=N.N.N.N pairs",
		)
		flRuntimeName = flagset.String(
			"runtime_name",
			env.String("RUNTIME_NAME", ""),
			"override the declared runtime dependency package name",
		)
		flRuntimeVersion = flagset.String(
			"runtime_version",
			env.String("RUNTIME_VERSION", ""),
			"override the declared runtime dependency minimum version",
		)
		flRuntimePublisher = flagset.String(
			"runtime_publisher",
			env.String("RUNTIME_PUBLISHER", ""),
			"override the declared runtime dependency publisher",
		)
	)

	flagset.Usage = usageFor(flagset, "appx-builder make [flags]")
	if err := flagset.Parse(args); err != nil {
		return err
	}

	logger := buildLogger(*flDebug)

	if *flRoot == "" {
		return errors.New("build root undefined")
	}

	pins, err := sdkpath.ParsePins(*flSDKPins)
	if err != nil {
		return errors.Wrap(err, "parsing sdk_pins")
	}

	ctx := ctxlog.NewContext(context.Background(), logger)

	po := &packaging.PackageOptions{
		Root:             *flRoot,
		ExePath:          *flExe,
		OutputPathDir:    *flOutput,
		SelfContained:    *flSelfContained,
		GlobalDir:        *flGlobalDir,
		PinnedVersions:   pins,
		RuntimeName:      *flRuntimeName,
		RuntimeVersion:   *flRuntimeVersion,
		RuntimePublisher: *flRuntimePublisher,
	}

	staged, err := packaging.CreatePackage(ctx, po)
	if err != nil {
		return errors.Wrap(err, "could not stage package")
	}

	level.Info(logger).Log(
		"msg", "staged package",
		"output", staged,
	)

	return nil
}

func runDebugInstall(args []string) error {
	flagset := flag.NewFlagSet("debug-install", flag.ExitOnError)
	var (
		flDebug = flagset.Bool(
			"debug",
			false,
			"enable debug logging",
		)
		flRoot = flagset.String(
			"root",
			env.String("BUILD_ROOT", ""),
			"the build output directory holding appxmanifest.xml and the app payload",
		)
		flExe = flagset.String(
			"exe",
			env.String("APP_EXE", ""),
			"path to the application executable",
		)
		flOutput = flagset.String(
			"output",
			env.String("OUTPUT_DIR", ""),
			"directory to write the sparse debug package into",
		)
		flEntryPoint = flagset.String(
			"entry_point",
			env.String("ENTRY_POINT", ""),
			"explicit entry point path, when it differs from the executable",
		)
		flRuntimeName = flagset.String(
			"runtime_name",
			env.String("RUNTIME_NAME", ""),
			"override the declared runtime dependency package name",
		)
		flRuntimeVersion = flagset.String(
			"runtime_version",
			env.String("RUNTIME_VERSION", ""),
			"override the declared runtime dependency minimum version",
		)
		flRuntimePublisher = flagset.String(
			"runtime_publisher",
			env.String("RUNTIME_PUBLISHER", ""),
			"override the declared runtime dependency publisher",
		)
	)

	flagset.Usage = usageFor(flagset, "appx-builder debug-install [flags]")
	if err := flagset.Parse(args); err != nil {
		return err
	}

	logger := buildLogger(*flDebug)

	if *flRoot == "" {
		return errors.New("build root undefined")
	}

	ctx := ctxlog.NewContext(context.Background(), logger)

	po := &packaging.PackageOptions{
		Root:             *flRoot,
		ExePath:          *flExe,
		OutputPathDir:    *flOutput,
		EntryPoint:       *flEntryPoint,
		RuntimeName:      *flRuntimeName,
		RuntimeVersion:   *flRuntimeVersion,
		RuntimePublisher: *flRuntimePublisher,
	}

	sparseDir, err := packaging.DebugInstall(ctx, po)
	if err != nil {
		return errors.Wrap(err, "could not generate debug package")
	}

	level.Info(logger).Log(
		"msg", "generated sparse debug package",
		"output", sparseDir,
	)

	return nil
}

func buildLogger(debug bool) log.Logger {
	logger := log.NewJSONLogger(os.Stderr)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)

	if debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	return logger
}

func usageFor(fs *flag.FlagSet, short string) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "USAGE\n")
		fmt.Fprintf(os.Stderr, "  %s\n", short)
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		w := tabwriter.NewWriter(os.Stderr, 0, 2, 2, ' ', 0)
		fs.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(w, "\t-%s %s\t%s\n", f.Name, f.DefValue, f.Usage)
		})
		w.Flush()
		fmt.Fprintf(os.Stderr, "\n")
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "USAGE\n")
	fmt.Fprintf(os.Stderr, "  %s <mode> --help\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "MODES\n")
	fmt.Fprintf(os.Stderr, "  make           Stage an msix/appx package from a build output tree\n")
	fmt.Fprintf(os.Stderr, "  debug-install  Generate a sparse debug package for iterative development\n")
	fmt.Fprintf(os.Stderr, "  version        Print full version information\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "VERSION\n")
	fmt.Fprintf(os.Stderr, "  %s\n", version.Version().Version)
	fmt.Fprintf(os.Stderr, "\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var run func([]string) error
	switch strings.ToLower(os.Args[1]) {
	case "version":
		run = runVersion
	case "make":
		run = runMake
	case "debug-install":
		run = runDebugInstall
	default:
		usage()
		os.Exit(1)
	}

	if err := run(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
