package appxmanifest

import (
	"path/filepath"
	"regexp"
	"strings"
)

// A Step is one manifest rewrite. Steps are pure document -> document
// functions, each individually idempotent and keyed on its own
// structural marker, so the caller composes them in whatever order the
// operation needs and the result doesn't depend on hidden sequencing.
type Step func(doc []byte) ([]byte, error)

// Apply runs steps in order, stopping at the first failure.
func Apply(doc []byte, steps ...Step) ([]byte, error) {
	var err error
	for _, step := range steps {
		doc, err = step(doc)
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// The patterns each step matches on. Collected here rather than inline
// so the set of edits we make against the external schema is reviewable
// in one place.
var (
	identityNameAttr  = regexp.MustCompile(`(<Identity[^>]*?\sName=)["']([^"']*)["']`)
	applicationIDAttr = regexp.MustCompile(`(<Application[^>]*?\sId=)["']([^"']*)["']`)
	executableAttr    = regexp.MustCompile(`(<Application[^>]*?\sExecutable=)["']([^"']*)["']`)
	entryPointAttr    = regexp.MustCompile(`\s+EntryPoint=["'][^"']*["']`)
	packageOpenTag    = regexp.MustCompile(`<Package\s`)
	propertiesOpenTag = regexp.MustCompile(`<Properties\s*>`)
	applicationTag    = regexp.MustCompile(`<Application\s`)
	visualElementsTag = regexp.MustCompile(`<uap:VisualElements\b`)
	dependencyEntry   = regexp.MustCompile(`<PackageDependency[^>]*?\sName=["']([^"']*)["'][^>]*?/?>`)
)

// sparseNamespaces are the namespace declarations a sparse manifest
// needs on the Package element.
var sparseNamespaces = []struct {
	prefix string
	decl   string
}{
	{"uap10", `xmlns:uap10="http://schemas.microsoft.com/appx/manifest/uap/windows10/10"`},
	{"desktop6", `xmlns:desktop6="http://schemas.microsoft.com/appx/manifest/desktop/windows10/6"`},
}

// sparseProperties enable external (unpackaged) content and turn off
// registry virtualization for the debug variant.
var sparseProperties = []string{
	`<uap10:AllowExternalContent>true</uap10:AllowExternalContent>`,
	`<desktop6:RegistryWriteVirtualization>disabled</desktop6:RegistryWriteVirtualization>`,
}

// sparseCapabilities must be declared for an externally-located app to
// run with full trust against unvirtualized resources.
var sparseCapabilities = []string{
	`<rescap:Capability Name="runFullTrust" />`,
	`<uap10:Capability Name="unvirtualizedResources" />`,
}

// sparseTrustAttrs go on the Application element when the entry point is
// a native executable.
const sparseTrustAttrs = `uap10:TrustLevel="mediumIL" uap10:RuntimeBehavior="packagedClassicApp"`

// SetIdentity rewrites the Identity Name and the primary Application Id
// to the given values. All other identity attributes are untouched.
func SetIdentity(name, applicationID string) Step {
	return func(doc []byte) ([]byte, error) {
		out, ok := replaceFirstGroup(doc, identityNameAttr, name)
		if !ok {
			return nil, &MalformedError{Missing: "Identity Name"}
		}

		out, ok = replaceFirstGroup(out, applicationIDAttr, applicationID)
		if !ok {
			return nil, &MalformedError{Missing: "Application Id"}
		}

		return out, nil
	}
}

// SetExecutable rewrites the application Executable attribute to
// exePath relative to the manifest's directory, forward slashed. When a
// relative path can't be computed (different volumes, for one), the bare
// file name is used.
func SetExecutable(manifestDir, exePath string) Step {
	return func(doc []byte) ([]byte, error) {
		rel, err := filepath.Rel(manifestDir, exePath)
		if err != nil {
			rel = filepath.Base(exePath)
		}

		out, ok := replaceFirstGroup(doc, executableAttr, filepath.ToSlash(rel))
		if !ok {
			return nil, &MalformedError{Missing: "Application Executable"}
		}

		return out, nil
	}
}

// ApplySparseDebug turns the manifest into the sparse debug variant:
// external content allowed, registry virtualization off, no app list
// entry, full trust when the entry point is native. Every sub-edit
// checks for existing state first, so reapplying is a no-op.
func ApplySparseDebug(isNativeExe bool) Step {
	return func(doc []byte) ([]byte, error) {
		out := doc

		for _, ns := range sparseNamespaces {
			if strings.Contains(string(out), "xmlns:"+ns.prefix+"=") {
				continue
			}
			var ok bool
			out, ok = insertAfterMatch(out, packageOpenTag, ns.decl+" ")
			if !ok {
				return nil, &MalformedError{Missing: "Package element"}
			}
		}

		for _, prop := range sparseProperties {
			if strings.Contains(string(out), propertyName(prop)) {
				continue
			}
			var ok bool
			out, ok = insertAfterMatch(out, propertiesOpenTag, "\n    "+prop)
			if !ok {
				return nil, &MalformedError{Missing: "Properties element"}
			}
		}

		if isNativeExe && !strings.Contains(string(out), "uap10:TrustLevel=") {
			var ok bool
			out, ok = insertAfterMatch(out, applicationTag, sparseTrustAttrs+" ")
			if !ok {
				return nil, &MalformedError{Missing: "Application element"}
			}
		}

		// EntryPoint is unsupported on sparse packages
		out = entryPointAttr.ReplaceAll(out, nil)

		if !strings.Contains(string(out), "AppListEntry=") {
			out = replaceFirstMatch(out, visualElementsTag, `<uap:VisualElements AppListEntry="none"`)
		}

		out = ensureCapabilities(out)

		return out, nil
	}
}

// EnsureRuntimeDependency upserts the PackageDependency entry for the
// packaging runtime. An existing entry for the same runtime family
// (matched by name prefix) gets its Name and MinVersion rewritten in
// place; otherwise the entry is appended to Dependencies, creating the
// section right before Applications when the manifest has none.
func EnsureRuntimeDependency(name, minVersion, publisher string) Step {
	family := runtimeFamilyPrefix(name)
	entry := `<PackageDependency Name="` + name + `" MinVersion="` + minVersion + `" Publisher="` + publisher + `" />`

	return func(doc []byte) ([]byte, error) {
		if loc := findDependencyForFamily(doc, family); loc != nil {
			existing := doc[loc[0]:loc[1]]
			updated := setAttrValue(existing, "Name", name)
			updated = setAttrValue(updated, "MinVersion", minVersion)

			out := make([]byte, 0, len(doc)-len(existing)+len(updated))
			out = append(out, doc[:loc[0]]...)
			out = append(out, updated...)
			out = append(out, doc[loc[1]:]...)
			return out, nil
		}

		if idx := strings.Index(string(doc), "</Dependencies>"); idx >= 0 {
			return spliceString(doc, idx, "  "+entry+"\n  "), nil
		}

		if idx := strings.Index(string(doc), "<Applications"); idx >= 0 {
			section := "<Dependencies>\n    " + entry + "\n  </Dependencies>\n  "
			return spliceString(doc, idx, section), nil
		}

		return nil, &MalformedError{Missing: "Applications element"}
	}
}

// findDependencyForFamily locates an existing PackageDependency whose
// Name starts with the runtime family prefix.
func findDependencyForFamily(doc []byte, family string) []int {
	for _, loc := range dependencyEntry.FindAllSubmatchIndex(doc, -1) {
		name := string(doc[loc[2]:loc[3]])
		if strings.HasPrefix(name, family) {
			return []int{loc[0], loc[1]}
		}
	}
	return nil
}

// runtimeFamilyPrefix trims the trailing release segment off a runtime
// package name: `Microsoft.WindowsAppRuntime.1.4` shares the family
// `Microsoft.WindowsAppRuntime.` with every other release.
func runtimeFamilyPrefix(name string) string {
	trimmed := regexp.MustCompile(`\.\d+(\.\d+)*$`).ReplaceAllString(name, "")
	return trimmed + "."
}

func ensureCapabilities(doc []byte) []byte {
	var missing []string
	for _, capability := range sparseCapabilities {
		if !strings.Contains(string(doc), capabilityName(capability)) {
			missing = append(missing, capability)
		}
	}
	if len(missing) == 0 {
		return doc
	}

	if idx := strings.Index(string(doc), "</Capabilities>"); idx >= 0 {
		return spliceString(doc, idx, "  "+strings.Join(missing, "\n    ")+"\n  ")
	}

	// no Capabilities section at all; create one at the end of Package
	if idx := strings.Index(string(doc), "</Package>"); idx >= 0 {
		section := "<Capabilities>\n    " + strings.Join(missing, "\n    ") + "\n  </Capabilities>\n"
		return spliceString(doc, idx, section)
	}

	return doc
}

// propertyName pulls the element name out of a property literal so the
// presence check doesn't depend on the literal's exact spacing.
func propertyName(prop string) string {
	end := strings.IndexAny(prop[1:], "> ")
	return prop[1 : end+1]
}

// capabilityName pulls the Name attribute value out of a capability
// literal for the presence check.
func capabilityName(capability string) string {
	m := regexp.MustCompile(`Name="([^"]+)"`).FindStringSubmatch(capability)
	return `"` + m[1] + `"`
}

// replaceFirstGroup replaces the value captured by the pattern's second
// group in the first match only.
func replaceFirstGroup(doc []byte, re *regexp.Regexp, value string) ([]byte, bool) {
	loc := re.FindSubmatchIndex(doc)
	if loc == nil {
		return doc, false
	}

	out := make([]byte, 0, len(doc)+len(value))
	out = append(out, doc[:loc[4]]...)
	out = append(out, value...)
	out = append(out, doc[loc[5]:]...)
	return out, true
}

// insertAfterMatch inserts text immediately after the first match.
func insertAfterMatch(doc []byte, re *regexp.Regexp, text string) ([]byte, bool) {
	loc := re.FindIndex(doc)
	if loc == nil {
		return doc, false
	}
	return spliceString(doc, loc[1], text), true
}

// replaceFirstMatch swaps the first match for the replacement text.
func replaceFirstMatch(doc []byte, re *regexp.Regexp, replacement string) []byte {
	loc := re.FindIndex(doc)
	if loc == nil {
		return doc
	}

	out := make([]byte, 0, len(doc)+len(replacement))
	out = append(out, doc[:loc[0]]...)
	out = append(out, replacement...)
	out = append(out, doc[loc[1]:]...)
	return out
}

// setAttrValue rewrites one attribute's value within a single element's
// text, or appends the attribute when the element lacks it.
func setAttrValue(elem []byte, attr, value string) []byte {
	re := regexp.MustCompile(`(\s` + attr + `=)["']([^"']*)["']`)
	if loc := re.FindSubmatchIndex(elem); loc != nil {
		out := make([]byte, 0, len(elem)+len(value))
		out = append(out, elem[:loc[4]]...)
		out = append(out, value...)
		out = append(out, elem[loc[5]:]...)
		return out
	}

	insertion := ` ` + attr + `="` + value + `"`
	if idx := strings.Index(string(elem), "/>"); idx >= 0 {
		return spliceString(elem, idx, insertion+" ")
	}
	if idx := strings.Index(string(elem), ">"); idx >= 0 {
		return spliceString(elem, idx, insertion)
	}
	return elem
}

func spliceString(doc []byte, at int, text string) []byte {
	out := make([]byte, 0, len(doc)+len(text))
	out = append(out, doc[:at]...)
	out = append(out, text...)
	out = append(out, doc[at:]...)
	return out
}

// IsNativeExecutable reports whether an entry point path is a windows
// native executable, which decides the trust attributes and dependency
// handling for the debug variant.
func IsNativeExecutable(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".exe")
}
