// Package mrt implements the resource variant naming convention used by
// the windows resource management system. A variant file encodes the
// runtime conditions it serves in dot separated qualifier suffixes, eg
// `Square44x44Logo.scale-200.theme-dark.png`.
package mrt

import (
	"regexp"
	"strings"
)

// qualifierFamilies are the recognized qualifier patterns, one per
// qualifier family. A segment part must match one of these exactly to be
// a qualifier. Keeping them in one table keeps the grammar reviewable
// against the MRT documentation.
var qualifierFamilies = []*regexp.Regexp{
	// language tags, eg `en`, `en-US`, `zh-hans-cn`, `lang-fil`. A bare
	// 3-letter code needs the lang- prefix so that ordinary words like
	// `old` don't read as ISO 639 codes.
	regexp.MustCompile(`(?i)^[a-z]{2}(-[a-z0-9]{2,8})*$`),
	regexp.MustCompile(`(?i)^lang-[a-z]{2,3}(-[a-z0-9]{2,8})*$`),
	regexp.MustCompile(`(?i)^scale-[0-9]+$`),
	regexp.MustCompile(`(?i)^theme-(light|dark)$`),
	regexp.MustCompile(`(?i)^contrast-(standard|high|black|white)$`),
	regexp.MustCompile(`(?i)^dxfeaturelevel-(9|10|11)$`),
	regexp.MustCompile(`(?i)^device-?family-[a-z0-9.]+$`),
	regexp.MustCompile(`(?i)^homeregion-[a-z]{2}$`),
	regexp.MustCompile(`(?i)^config(uration)?-[a-z0-9]+$`),
	regexp.MustCompile(`(?i)^targetsize-[0-9]+$`),
	regexp.MustCompile(`(?i)^altform-[a-z0-9]+$`),
	regexp.MustCompile(`(?i)^layoutdir-(ltr|rtl)$`),
	regexp.MustCompile(`(?i)^(ltr|rtl)$`),
}

// IsQualifierToken reports whether a single dot-segment of a file name
// is a valid resource qualifier. A segment may be an underscore joined
// composite (`scale-200_theme-dark`); every part must independently
// match a qualifier family or the whole segment is rejected.
//
// Note the grammar does not constrain family combinations within a
// composite -- `scale-100_scale-200` validates. That matches the
// platform's observed behavior and is pinned in tests.
func IsQualifierToken(segment string) bool {
	if segment == "" {
		return false
	}

	for _, part := range strings.Split(segment, "_") {
		if !matchesAnyFamily(part) {
			return false
		}
	}

	return true
}

func matchesAnyFamily(part string) bool {
	for _, family := range qualifierFamilies {
		if family.MatchString(part) {
			return true
		}
	}
	return false
}

// IsVariant reports whether candidateBase (a file name stripped of its
// extension) is a resource variant of logicalBase. The first dot-segment
// must equal logicalBase case-insensitively; every remaining segment
// must be a qualifier token. A candidate with no further segments is the
// exact logical file, which counts.
func IsVariant(logicalBase, candidateBase string) bool {
	segments := strings.Split(candidateBase, ".")

	if !strings.EqualFold(segments[0], logicalBase) {
		return false
	}

	for _, segment := range segments[1:] {
		if !IsQualifierToken(segment) {
			return false
		}
	}

	return true
}
