// Package activation generates the native manifest fragment that lets a
// self-contained executable activate WinRT classes and COM proxy stubs
// from runtime DLLs without a full package registration.
package activation

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Extension categories we extract registrations from.
const (
	categoryInProcessServer = "windows.activatableClass.inProcessServer"
	categoryComInterface    = "windows.comInterface"
)

// InProcessServer is one activatable-class DLL declared by a dependency
// manifest.
type InProcessServer struct {
	Path               string
	ActivatableClasses []string
}

// ProxyStub is one COM proxy-stub DLL declared by a dependency manifest.
type ProxyStub struct {
	Path       string
	ClassID    string
	Interfaces []Interface
}

// Interface is a named COM interface id served by a proxy stub.
type Interface struct {
	Name string
	ID   string
}

// DepManifest is the read-only view of a dependency package's manifest.
// DLLs is the plain DLL inventory of the package directory, filled in by
// the caller; the generator removes every DLL it registers from it so
// nothing is double registered.
type DepManifest struct {
	InProcessServers []InProcessServer
	ProxyStubs       []ProxyStub
	DLLs             []string
}

// xml decode targets for the Extensions/Extension hierarchy. Prefixed
// element names (uap:, com2:) decode fine, encoding/xml matches on the
// local name.
type depPackageXML struct {
	Extensions []depExtensionXML `xml:"Extensions>Extension"`
}

type depExtensionXML struct {
	Category        string              `xml:"Category,attr"`
	InProcessServer *inProcessServerXML `xml:"InProcessServer"`
	ComInterface    *comInterfaceXML    `xml:"ComInterface"`
}

type inProcessServerXML struct {
	Path    string `xml:"Path"`
	Classes []struct {
		ID string `xml:"ActivatableClassId,attr"`
	} `xml:"ActivatableClass"`
}

type comInterfaceXML struct {
	ProxyStub struct {
		ID          string `xml:"Id,attr"`
		Path        string `xml:"Path,attr"`
		DisplayName string `xml:"DisplayName,attr"`
	} `xml:"ProxyStub"`
	Interfaces []struct {
		ID          string `xml:"Id,attr"`
		DisplayName string `xml:"DisplayName,attr"`
	} `xml:"Interface"`
}

// ParseDepManifest reads the activation registrations out of an
// installed package's manifest. Extensions in categories we don't
// handle are skipped, not errors.
func ParseDepManifest(r io.Reader) (*DepManifest, error) {
	var pkg depPackageXML
	if err := xml.NewDecoder(r).Decode(&pkg); err != nil {
		return nil, errors.Wrap(err, "decoding dependency manifest")
	}

	dm := &DepManifest{}

	for _, ext := range pkg.Extensions {
		switch {
		case strings.EqualFold(ext.Category, categoryInProcessServer) && ext.InProcessServer != nil:
			server := InProcessServer{Path: ext.InProcessServer.Path}
			for _, class := range ext.InProcessServer.Classes {
				if class.ID != "" {
					server.ActivatableClasses = append(server.ActivatableClasses, class.ID)
				}
			}
			if server.Path != "" {
				dm.InProcessServers = append(dm.InProcessServers, server)
			}

		case strings.EqualFold(ext.Category, categoryComInterface) && ext.ComInterface != nil:
			stub := ProxyStub{
				Path:    ext.ComInterface.ProxyStub.Path,
				ClassID: ext.ComInterface.ProxyStub.ID,
			}
			for _, iface := range ext.ComInterface.Interfaces {
				if iface.ID != "" {
					stub.Interfaces = append(stub.Interfaces, Interface{
						Name: iface.DisplayName,
						ID:   iface.ID,
					})
				}
			}
			if stub.Path != "" && stub.ClassID != "" {
				dm.ProxyStubs = append(dm.ProxyStubs, stub)
			}
		}
	}

	return dm, nil
}
