// Package namefmt turns raw work-item fields into filesystem-safe,
// human-stable path segments. All functions are total: malformed input
// is clamped or substituted, never rejected.
package namefmt

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxSegmentLength is the longest folder-segment name the storage
// backend accepts.
const MaxSegmentLength = 255

const (
	fallbackClient   = "Unassigned"
	fallbackTitle    = "Untitled"
	fallbackFileName = "attachment"

	// ProposalPlaceholder fills the proposal slot of a folder name when
	// the entity has no proposal number.
	ProposalPlaceholder = "N/A"
)

const invalidSegmentChars = `\/:*?"<>|`

// Overrides maps a raw client segment (matched case-insensitively) to
// its canonical display name, for clients whose names do not survive
// plain title-casing (acronyms, branded capitalization).
type Overrides map[string]string

// Lookup returns the canonical name for raw, if one is configured.
func (o Overrides) Lookup(raw string) (string, bool) {
	if len(o) == 0 {
		return "", false
	}
	name, ok := o[strings.ToLower(strings.TrimSpace(raw))]
	return name, ok
}

// NewOverrides normalizes the keys of a raw mapping for lookup.
func NewOverrides(raw map[string]string) Overrides {
	if len(raw) == 0 {
		return nil
	}
	out := make(Overrides, len(raw))
	for key, value := range raw {
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

// ClientFromAreaPath extracts the last segment of a hierarchical area
// path. Both separators appear in the wild depending on which API
// surface produced the value.
func ClientFromAreaPath(areaPath string) string {
	areaPath = strings.TrimSpace(areaPath)
	if areaPath == "" {
		return ""
	}
	if idx := strings.LastIndexAny(areaPath, `\/`); idx >= 0 {
		areaPath = areaPath[idx+1:]
	}
	return strings.TrimSpace(areaPath)
}

// NormalizeClient rewrites a raw client segment to its display form:
// an override when configured, otherwise per-word title case with
// illegal path characters stripped. Empty input maps to "Unassigned".
func NormalizeClient(raw string, overrides Overrides) string {
	if name, ok := overrides.Lookup(raw); ok {
		return name
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return fallbackClient
	}
	s = replaceInvalid(s, ' ')
	words := strings.Fields(s)
	for i, word := range words {
		words[i] = titleWord(word)
	}
	s = strings.Join(words, " ")
	if s == "" {
		return fallbackClient
	}
	return s
}

// SanitizeSegment makes text safe for use as one folder-path segment:
// illegal characters become spaces, whitespace collapses, and the
// result is truncated to maxLen with a trailing ellipsis. maxLen <= 0
// means MaxSegmentLength.
func SanitizeSegment(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = MaxSegmentLength
	}
	s := replaceInvalid(strings.TrimSpace(text), ' ')
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		keep := maxLen - 3
		if keep < 0 {
			keep = 0
		}
		s = strings.TrimRight(string(runes[:keep]), " ") + "..."
	}
	return strings.TrimSpace(s)
}

// SanitizeFileName makes an attachment name safe for upload: path
// components are stripped, illegal characters become underscores, and
// the extension survives length clamping.
func SanitizeFileName(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 200
	}
	s := strings.TrimSpace(name)
	if idx := strings.LastIndexAny(s, `\/`); idx >= 0 {
		s = s[idx+1:]
	}
	s = replaceInvalid(s, '_')
	s = strings.Map(func(r rune) rune {
		if r == 0 {
			return '_'
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > maxLen {
		ext := ""
		if dot := strings.LastIndex(s, "."); dot > 0 {
			ext = s[dot:]
			s = s[:dot]
		}
		keep := maxLen - len([]rune(ext)) - 1
		if keep < 1 {
			keep = 1
		}
		srunes := []rune(s)
		if len(srunes) > keep {
			srunes = srunes[:keep]
		}
		s = strings.TrimRight(string(srunes), "._ ") + ext
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return fallbackFileName
	}
	return s
}

// BuildFolderName assembles the leaf folder segment for one entity:
// "{id} - {proposal} - {title}". The identifier prefix is never
// truncated; only the title portion absorbs the length clamp.
func BuildFolderName(id int, proposal, title string) string {
	prop := strings.TrimSpace(proposal)
	if prop == "" {
		prop = ProposalPlaceholder
	}
	prefix := fmt.Sprintf("%d - %s - ", id, prop)
	budget := MaxSegmentLength - len([]rune(prefix))
	if budget < 1 {
		budget = 1
	}
	tit := SanitizeSegment(title, budget)
	if tit == "" {
		tit = fallbackTitle
	}
	return prefix + tit
}

func replaceInvalid(s string, with rune) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidSegmentChars, r) {
			return with
		}
		return r
	}, s)
}

func titleWord(word string) string {
	runes := []rune(word)
	for i, r := range runes {
		if i == 0 {
			runes[i] = unicode.ToUpper(r)
		} else {
			runes[i] = unicode.ToLower(r)
		}
	}
	return string(runes)
}
