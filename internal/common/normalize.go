package common

import (
	"regexp"
	"strings"
)

var (
	tenderIDPrefixRe  = regexp.MustCompile(`(?i)^\s*tender\s*id\s*:?\s*`)
	tenderIDSepRe     = regexp.MustCompile(`[\s\-]+`)
	underscoreRunRe   = regexp.MustCompile(`_+`)
	innerSpaceRe      = regexp.MustCompile(`\s+`)
	bracketedTokenRe  = regexp.MustCompile(`\[([^\[\]]+)\]`)
	slugInvalidCharRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// invalidTenderIDs are the placeholder values portals render for missing
// ids; rows carrying one are dropped before persistence. Matched
// case-insensitively against both the trimmed raw value and its normalized
// form.
var invalidTenderIDs = map[string]struct{}{
	"":     {},
	"NAN":  {},
	"NONE": {},
	"NULL": {},
	"N/A":  {},
	"-":    {},
	"--":   {},
}

// NormalizeTenderID produces the canonical dedup form of a tender id:
// "Tender ID:" prefixes stripped, brackets removed, uppercased, whitespace
// and dash runs collapsed to a single underscore, leading/trailing
// underscores trimmed. Idempotent.
func NormalizeTenderID(raw string) string {
	s := tenderIDPrefixRe.ReplaceAllString(raw, "")
	s = strings.NewReplacer("[", "", "]", "", "(", "", ")", "").Replace(s)
	s = strings.ToUpper(strings.TrimSpace(s))
	s = tenderIDSepRe.ReplaceAllString(s, "_")
	s = underscoreRunRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// NormalizePortalName is the portal half of the tender identity key
func NormalizePortalName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizeDepartmentName makes department names comparable across runs
func NormalizeDepartmentName(raw string) string {
	return innerSpaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), " ")
}

// NormalizeClosingText canonicalizes a closing-date string for snapshot
// comparison: trimmed, inner whitespace collapsed, uppercased. Both the
// skip snapshot and freshly extracted rows go through this before equality
// checks.
func NormalizeClosingText(raw string) string {
	return strings.ToUpper(innerSpaceRe.ReplaceAllString(strings.TrimSpace(raw), " "))
}

// IsInvalidTenderID reports whether a tender id is a placeholder that must
// never be persisted.
func IsInvalidTenderID(raw string) bool {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if _, bad := invalidTenderIDs[upper]; bad {
		return true
	}
	_, bad := invalidTenderIDs[NormalizeTenderID(raw)]
	return bad
}

// TenderKey builds the composite store key enforcing at most one row per
// (portal, tender id).
func TenderKey(portalName, tenderID string) string {
	return NormalizePortalName(portalName) + "|" + NormalizeTenderID(tenderID)
}

// ExtractBracketedID returns the canonical tender id token embedded in
// brackets inside a title cell, or "" when the cell has none. When several
// bracketed tokens exist the last one wins; portals append the id after the
// human-readable title.
func ExtractBracketedID(titleCell string) string {
	matches := bracketedTokenRe.FindAllStringSubmatch(titleCell, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.TrimSpace(matches[len(matches)-1][1])
}

// PortalSlug derives the filesystem-safe portal name used for checkpoint
// files.
func PortalSlug(portalName string) string {
	s := slugInvalidCharRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(portalName)), "_")
	return strings.Trim(s, "_")
}
