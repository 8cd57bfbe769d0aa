package packaging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `<?xml version="1.0" encoding="utf-8"?>
<Package xmlns="http://schemas.microsoft.com/appx/manifest/foundation/windows10"
  xmlns:uap="http://schemas.microsoft.com/appx/manifest/uap/windows10"
  xmlns:rescap="http://schemas.microsoft.com/appx/manifest/foundation/windows10/restrictedcapabilities">
  <Identity Version="1.0.0.0" Name="Contoso.App" Publisher="CN=Contoso" />
  <Properties>
    <DisplayName>Contoso App</DisplayName>
    <PublisherDisplayName>Contoso</PublisherDisplayName>
    <Logo>Images\StoreLogo.png</Logo>
  </Properties>
  <Applications>
    <Application Id="App" Executable="contoso.exe" EntryPoint="Windows.FullTrustApplication">
      <uap:VisualElements DisplayName="Contoso App" Square150x150Logo="Images\Square150x150Logo.png" Square44x44Logo="Images\Square44x44Logo.png" BackgroundColor="transparent" />
    </Application>
  </Applications>
  <Capabilities>
    <rescap:Capability Name="runFullTrust" />
  </Capabilities>
</Package>`

// setupBuildRoot writes the manifest, executable, and image assets of a
// fake build output tree.
func setupBuildRoot(t *testing.T) string {
	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestFileName), []byte(testManifest), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "contoso.exe"), []byte("MZ"), 0755))

	imagesDir := filepath.Join(root, "Images")
	require.NoError(t, os.MkdirAll(imagesDir, 0755))
	for _, name := range []string{
		"StoreLogo.png",
		"Square150x150Logo.png",
		"Square44x44Logo.png",
		"Square44x44Logo.scale-200.png",
		"Square44x44Logo.old.png",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(imagesDir, name), []byte("png"), 0644))
	}

	return root
}

func TestDebugInstall(t *testing.T) {
	t.Parallel()

	root := setupBuildRoot(t)
	outputDir := t.TempDir()

	po := &PackageOptions{
		Root:          root,
		ExePath:       filepath.Join(root, "contoso.exe"),
		OutputPathDir: outputDir,
	}

	got, err := DebugInstall(context.TODO(), po)
	require.NoError(t, err)
	require.Equal(t, outputDir, got)

	out, err := os.ReadFile(filepath.Join(outputDir, ManifestFileName))
	require.NoError(t, err)
	doc := string(out)

	// debug identity, publisher untouched
	assert.Contains(t, doc, `Name="Contoso.App.debug"`)
	assert.Contains(t, doc, `Id="App.debug"`)
	assert.Contains(t, doc, `Publisher="CN=Contoso"`)

	// sparse packaging flags
	assert.Contains(t, doc, `<uap10:AllowExternalContent>true</uap10:AllowExternalContent>`)
	assert.Contains(t, doc, `AppListEntry="none"`)
	assert.NotContains(t, doc, "EntryPoint=")

	// runtime dependency was injected
	assert.Contains(t, doc, `Name="Microsoft.WindowsAppRuntime.1.4"`)

	// declared assets and their variants landed, stray files did not
	assert.FileExists(t, filepath.Join(outputDir, "Images", "StoreLogo.png"))
	assert.FileExists(t, filepath.Join(outputDir, "Images", "Square44x44Logo.png"))
	assert.FileExists(t, filepath.Join(outputDir, "Images", "Square44x44Logo.scale-200.png"))
	assert.NoFileExists(t, filepath.Join(outputDir, "Images", "Square44x44Logo.old.png"))
}

func TestDebugInstallTwiceIsStable(t *testing.T) {
	t.Parallel()

	root := setupBuildRoot(t)
	outputDir := t.TempDir()

	po := &PackageOptions{
		Root:          root,
		ExePath:       filepath.Join(root, "contoso.exe"),
		OutputPathDir: outputDir,
	}

	_, err := DebugInstall(context.TODO(), po)
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(outputDir, ManifestFileName))
	require.NoError(t, err)

	_, err = DebugInstall(context.TODO(), po)
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(outputDir, ManifestFileName))
	require.NoError(t, err)

	require.Equal(t, string(first), string(second))
}

func TestCreatePackage(t *testing.T) {
	t.Parallel()

	root := setupBuildRoot(t)
	outputDir := t.TempDir()

	po := &PackageOptions{
		Root:          root,
		ExePath:       filepath.Join(root, "contoso.exe"),
		OutputPathDir: outputDir,
	}

	_, err := CreatePackage(context.TODO(), po)
	require.NoError(t, err)

	out, err := os.ReadFile(filepath.Join(outputDir, ManifestFileName))
	require.NoError(t, err)
	doc := string(out)

	// identity is preserved (no debug suffix) and dependency injected
	assert.Contains(t, doc, `Name="Contoso.App"`)
	assert.NotContains(t, doc, ".debug")
	assert.Contains(t, doc, `Name="Microsoft.WindowsAppRuntime.1.4"`)
	assert.Contains(t, doc, `MinVersion="`+DefaultRuntimeVersion+`"`)

	// no sparse flags on a full package
	assert.NotContains(t, doc, "AllowExternalContent")
}

func TestCreatePackageSelfContainedSkipsDependency(t *testing.T) {
	t.Parallel()

	root := setupBuildRoot(t)
	outputDir := t.TempDir()

	po := &PackageOptions{
		Root:          root,
		ExePath:       filepath.Join(root, "contoso.exe"),
		OutputPathDir: outputDir,
		SelfContained: true,
		GlobalDir:     t.TempDir(), // empty cache: runtime lookup must fail
	}

	_, err := CreatePackage(context.TODO(), po)

	// self-contained needs the runtime package on disk for the
	// activation fragment; an empty cache is a hard error
	require.Error(t, err)

	// but the staged manifest was written without a dependency entry
	// before the failure
	out, readErr := os.ReadFile(filepath.Join(outputDir, ManifestFileName))
	require.NoError(t, readErr)
	assert.NotContains(t, string(out), "PackageDependency")
}

func TestInjectRuntimeDependency(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name     string
		po       PackageOptions
		expected bool
	}{
		{name: "default", po: PackageOptions{}, expected: true},
		{name: "self contained", po: PackageOptions{SelfContained: true}, expected: false},
		{name: "native entry point", po: PackageOptions{EntryPoint: `C:\app\main.exe`}, expected: true},
		{name: "managed entry point", po: PackageOptions{EntryPoint: "MyApp.Program"}, expected: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, injectRuntimeDependency(&tt.po))
		})
	}
}

func TestReadManifestMissing(t *testing.T) {
	t.Parallel()

	po := &PackageOptions{Root: t.TempDir()}

	_, _, err := readManifest(po)
	require.Error(t, err)
}

func TestDeclaredAsset(t *testing.T) {
	t.Parallel()

	asset := declaredAsset(`Images\Square44x44Logo.png`)
	assert.Equal(t, filepath.Join("Images", "Square44x44Logo.png"), asset.RelativePath)
	assert.Equal(t, 44, asset.BaseWidth)
	assert.Equal(t, 44, asset.BaseHeight)

	unknown := declaredAsset(`Assets\custom.png`)
	assert.Zero(t, unknown.BaseWidth)
}

func TestCopyDeclaredAssetsDefaults(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	imagesDir := filepath.Join(root, "Images")
	require.NoError(t, os.MkdirAll(imagesDir, 0755))
	for _, asset := range []string{
		"Square44x44Logo.png",
		"Square150x150Logo.png",
		"Wide310x150Logo.png",
		"StoreLogo.png",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(imagesDir, asset), []byte("png"), 0644))
	}

	outputDir := t.TempDir()
	po := &PackageOptions{Root: root, OutputPathDir: outputDir}

	// manifest with no image references falls back to the standard slots
	doc := []byte(`<Package><Identity Name="Contoso.App" Publisher="CN=Contoso" /></Package>`)
	require.NoError(t, copyDeclaredAssets(context.TODO(), po, doc))

	assert.FileExists(t, filepath.Join(outputDir, "Images", "Square44x44Logo.png"))
	assert.FileExists(t, filepath.Join(outputDir, "Images", "StoreLogo.png"))
}

func TestLoadDependencyManifests(t *testing.T) {
	t.Parallel()

	packageDir := t.TempDir()
	archDir := filepath.Join(packageDir, "win-x64")
	require.NoError(t, os.MkdirAll(archDir, 0755))

	depManifest := `<Package>
  <Extensions>
    <Extension Category="windows.activatableClass.inProcessServer">
      <InProcessServer>
        <Path>Runtime.dll</Path>
        <ActivatableClass ActivatableClassId="Runtime.Widget" ThreadingModel="both" />
      </InProcessServer>
    </Extension>
  </Extensions>
</Package>`

	require.NoError(t, os.WriteFile(filepath.Join(archDir, "AppxManifest.xml"), []byte(depManifest), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(archDir, "Runtime.dll"), []byte("MZ"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(archDir, "Helper.dll"), []byte("MZ"), 0644))

	manifests, err := loadDependencyManifests(packageDir)
	require.NoError(t, err)
	require.Len(t, manifests, 1)

	require.Len(t, manifests[0].InProcessServers, 1)
	assert.Equal(t, "Runtime.dll", manifests[0].InProcessServers[0].Path)
	assert.ElementsMatch(t, []string{"Runtime.dll", "Helper.dll"}, manifests[0].DLLs)
}

func TestLoadDependencyManifestsEmpty(t *testing.T) {
	t.Parallel()

	_, err := loadDependencyManifests(t.TempDir())
	require.Error(t, err)
}

func TestDebugInstallMalformedManifest(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestFileName), []byte("<Package></Package>"), 0644))

	po := &PackageOptions{Root: root, OutputPathDir: t.TempDir()}

	_, err := DebugInstall(context.TODO(), po)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "malformed manifest"))
}
