// Package appxmanifest reads and rewrites AppxManifest.xml documents.
//
// The manifest schema belongs to the packaging platform, not to us, and
// the downstream toolchain is byte sensitive. Reads go through a real
// XML decode; rewrites are targeted attribute and element edits that
// leave everything they don't name byte for byte alone.
package appxmanifest

import (
	"fmt"
	"strings"

	"github.com/clbanning/mxj"
	"github.com/pkg/errors"
)

// DebugSuffix is appended to the package name and application id for
// debug installs, so a debug registration never collides with a real
// install of the same app.
const DebugSuffix = ".debug"

// MalformedError reports a manifest missing a required element or
// attribute. These are never guessed around; the operation fails.
type MalformedError struct {
	Missing string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed manifest: missing %s", e.Missing)
}

// Identity is the package identity triple parsed out of a manifest.
type Identity struct {
	Name          string
	Publisher     string
	ApplicationID string
}

// WithDebugSuffix derives the debug identity: Name and ApplicationID
// gain the debug suffix, Publisher is untouched. Idempotent, so an
// already-suffixed identity passes through unchanged.
func (id Identity) WithDebugSuffix() Identity {
	out := id
	if !strings.HasSuffix(out.Name, DebugSuffix) {
		out.Name += DebugSuffix
	}
	if !strings.HasSuffix(out.ApplicationID, DebugSuffix) {
		out.ApplicationID += DebugSuffix
	}
	return out
}

// ParseIdentity extracts the package identity from a manifest document.
// Attribute ordering, quote style, and unrelated attributes don't
// matter; a missing Identity element, Name, Publisher, or Application
// Id does.
func ParseIdentity(doc []byte) (Identity, error) {
	m, err := mxj.NewMapXml(doc)
	if err != nil {
		return Identity{}, errors.Wrap(err, "decoding manifest xml")
	}

	name, err := m.ValueForPath("Package.Identity.-Name")
	if err != nil || toString(name) == "" {
		return Identity{}, &MalformedError{Missing: "Identity Name"}
	}

	publisher, err := m.ValueForPath("Package.Identity.-Publisher")
	if err != nil || toString(publisher) == "" {
		return Identity{}, &MalformedError{Missing: "Identity Publisher"}
	}

	applicationID, err := firstApplicationID(m)
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		Name:          toString(name),
		Publisher:     toString(publisher),
		ApplicationID: applicationID,
	}, nil
}

// firstApplicationID returns the Id of the primary (first declared)
// application.
func firstApplicationID(m mxj.Map) (string, error) {
	apps, err := m.ValuesForPath("Package.Applications.Application")
	if err != nil || len(apps) == 0 {
		return "", &MalformedError{Missing: "Application element"}
	}

	app, ok := apps[0].(map[string]interface{})
	if !ok {
		return "", &MalformedError{Missing: "Application element"}
	}

	id := toString(app["-Id"])
	if id == "" {
		return "", &MalformedError{Missing: "Application Id"}
	}

	return id, nil
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}
