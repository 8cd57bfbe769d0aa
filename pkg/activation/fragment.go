package activation

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	assemblyNamespace = "urn:schemas-microsoft-com:asm.v1"
	winrtNamespace    = "urn:schemas-microsoft-com:winrt.v1"
)

// proxyStubDenylist names the proxy-stub DLLs that only work inside the
// full runtime package; registering them in a self-contained manifest
// breaks activation, so they are skipped outright.
var proxyStubDenylist = map[string]bool{
	"microsoft.windowsappruntime.dll":     true,
	"microsoft.internal.frameworkudk.dll": true,
}

// FragmentOptions control fragment generation.
type FragmentOptions struct {
	// RedirectPaths rewrites DLL names to runtime-relative load paths.
	RedirectPaths bool

	// LoadPathPrefix is the runtime-relative directory prepended when
	// RedirectPaths is set.
	LoadPathPrefix string

	// FullManifest marks that we are processing a complete manifest
	// rather than a fragment; only then are leftover unclaimed DLLs
	// emitted as plain file blocks (and only with RedirectPaths).
	FullManifest bool
}

// sxs manifest fragment shapes, marshalled the same way the rest of the
// toolchain models externally-owned xml.
type assemblyXML struct {
	XMLName         xml.Name  `xml:"assembly"`
	Xmlns           string    `xml:"xmlns,attr"`
	ManifestVersion string    `xml:"manifestVersion,attr"`
	Files           []fileXML `xml:"file"`
}

type fileXML struct {
	Name               string                     `xml:"name,attr"`
	ActivatableClasses []activatableClassXML      `xml:"activatableClass,omitempty"`
	ComClasses         []comClassXML              `xml:"comClass,omitempty"`
	ProxyStubs         []comInterfaceProxyStubXML `xml:"comInterfaceProxyStub,omitempty"`
}

type activatableClassXML struct {
	Name           string `xml:"name,attr"`
	ThreadingModel string `xml:"threadingModel,attr"`
	Xmlns          string `xml:"xmlns,attr"`
}

type comClassXML struct {
	ClassID        string `xml:"clsid,attr"`
	ThreadingModel string `xml:"threadingModel,attr"`
}

type comInterfaceProxyStubXML struct {
	Name             string `xml:"name,attr,omitempty"`
	InterfaceID      string `xml:"iid,attr"`
	ProxyStubClassID string `xml:"proxyStubClsid32,attr"`
}

// Generate writes a native manifest fragment registering every
// activation factory and proxy stub declared by the dependency
// manifests. Each registered DLL is removed from the manifest's plain
// DLL list; whatever remains is emitted as bare file entries only for a
// full manifest with path redirection on.
func Generate(w io.Writer, manifests []*DepManifest, opts FragmentOptions) error {
	doc := assemblyXML{
		Xmlns:           assemblyNamespace,
		ManifestVersion: "1.0",
	}

	for _, dm := range manifests {
		claimed := make(map[string]bool)

		for _, file := range inProcessServerFiles(dm, opts) {
			doc.Files = append(doc.Files, file)
		}
		for _, server := range dm.InProcessServers {
			claimed[strings.ToLower(server.Path)] = true
		}

		for _, file := range proxyStubFiles(dm, opts) {
			doc.Files = append(doc.Files, file)
		}
		for _, stub := range dm.ProxyStubs {
			if !proxyStubDenylist[strings.ToLower(stub.Path)] {
				claimed[strings.ToLower(stub.Path)] = true
			}
		}

		if opts.FullManifest && opts.RedirectPaths {
			for _, dll := range dm.DLLs {
				if claimed[strings.ToLower(dll)] {
					continue
				}
				doc.Files = append(doc.Files, fileXML{Name: loadPath(dll, opts)})
			}
		}
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling activation fragment")
	}

	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return errors.Wrap(err, "writing fragment header")
	}
	if _, err := w.Write(out); err != nil {
		return errors.Wrap(err, "writing fragment")
	}

	return nil
}

// inProcessServerFiles emits one file block per activation DLL, merging
// entries that share a DLL so each is registered exactly once.
func inProcessServerFiles(dm *DepManifest, opts FragmentOptions) []fileXML {
	var order []string
	classesByDLL := make(map[string][]string)

	for _, server := range dm.InProcessServers {
		key := strings.ToLower(server.Path)
		if _, seen := classesByDLL[key]; !seen {
			order = append(order, server.Path)
		}
		classesByDLL[key] = append(classesByDLL[key], server.ActivatableClasses...)
	}

	var files []fileXML
	for _, dll := range order {
		file := fileXML{Name: loadPath(dll, opts)}
		for _, class := range classesByDLL[strings.ToLower(dll)] {
			file.ActivatableClasses = append(file.ActivatableClasses, activatableClassXML{
				Name:           class,
				ThreadingModel: "both",
				Xmlns:          winrtNamespace,
			})
		}
		files = append(files, file)
	}

	return files
}

// proxyStubFiles emits one file block per proxy-stub DLL with a single
// comClass (per DLL) and one comInterfaceProxyStub per interface.
func proxyStubFiles(dm *DepManifest, opts FragmentOptions) []fileXML {
	var order []string
	fileByDLL := make(map[string]*fileXML)

	for _, stub := range dm.ProxyStubs {
		key := strings.ToLower(stub.Path)
		if proxyStubDenylist[key] {
			continue
		}

		file, seen := fileByDLL[key]
		if !seen {
			order = append(order, stub.Path)
			file = &fileXML{Name: loadPath(stub.Path, opts)}
			file.ComClasses = append(file.ComClasses, comClassXML{
				ClassID:        stub.ClassID,
				ThreadingModel: "Both",
			})
			fileByDLL[key] = file
		}

		for _, iface := range stub.Interfaces {
			file.ProxyStubs = append(file.ProxyStubs, comInterfaceProxyStubXML{
				Name:             iface.Name,
				InterfaceID:      iface.ID,
				ProxyStubClassID: stub.ClassID,
			})
		}
	}

	var files []fileXML
	for _, dll := range order {
		files = append(files, *fileByDLL[strings.ToLower(dll)])
	}

	return files
}

func loadPath(dll string, opts FragmentOptions) string {
	if !opts.RedirectPaths || opts.LoadPathPrefix == "" {
		return dll
	}
	return strings.TrimSuffix(opts.LoadPathPrefix, "\\") + "\\" + dll
}
