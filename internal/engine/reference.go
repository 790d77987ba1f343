package engine

import (
	"regexp"
	"strconv"
	"strings"
)

// RefType selects which face of a cell a reference reads.
type RefType string

const (
	// RefDefault means the user wrote no explicit prefix; the resolver picks
	// output for same-sheet references and prompt for cross-sheet ones.
	RefDefault RefType = ""
	RefPrompt  RefType = "prompt"
	RefOutput  RefType = "output"
)

// Reference is the parsed view of one raw {{...}} token.
type Reference struct {
	Raw    string
	Type   RefType
	Sheet  string // optional SheetName! qualifier, empty for same-sheet
	CellID string
	// GenStart/GenEnd are a 1-based generation index or inclusive range in
	// chronological (oldest-first) order. Zero means absent. A single index
	// sets GenStart only.
	GenStart int
	GenEnd   int
}

var (
	tokenPattern  = regexp.MustCompile(`\{\{([^{}]+)\}\}`)
	cellIDPattern = regexp.MustCompile(`^[A-Za-z]+[0-9]+$`)
)

// ParseReferences extracts every genuine cell-reference token from the text,
// deduplicated, in order of first appearance. Conditional syntax tokens
// (if:/then:/else: prefixes) are excluded from plain extraction; condition
// interiors are scanned separately for operand references. Tokens that do not
// classify as cell references (e.g. {{genre}}) are literal placeholders and
// are not returned.
func ParseReferences(text string) []string {
	var refs []string
	seen := make(map[string]struct{})
	add := func(raw string) {
		if _, ok := seen[raw]; ok {
			return
		}
		if _, ok := ParseReference(raw); !ok {
			return
		}
		seen[raw] = struct{}{}
		refs = append(refs, raw)
	}

	for _, m := range tokenPattern.FindAllStringSubmatch(text, -1) {
		raw := strings.TrimSpace(m[1])
		switch {
		case strings.HasPrefix(raw, "if:"):
			left, right, _ := splitCondition(strings.TrimPrefix(raw, "if:"))
			add(left)
			if right != "" && !isBracketedLiteral(right) {
				add(right)
			}
		case strings.HasPrefix(raw, "then:"), strings.HasPrefix(raw, "else:"):
			for _, nested := range ParseReferences(stripBranchPrefix(raw)) {
				add(nested)
			}
		default:
			add(raw)
		}
	}
	return refs
}

// ParseReference classifies a raw token as a cell reference. It strips an
// optional prompt:/output: prefix, an optional SheetName! qualifier and an
// optional generation spec (-N, :N, :N-M), then requires the remainder to be
// a grid-style id (letters followed by digits). The second return value is
// false for literal placeholders.
func ParseReference(raw string) (Reference, bool) {
	ref := Reference{Raw: raw}
	rest := strings.TrimSpace(raw)
	if rest == "" {
		return Reference{}, false
	}

	switch {
	case strings.HasPrefix(rest, "prompt:"):
		ref.Type = RefPrompt
		rest = strings.TrimPrefix(rest, "prompt:")
	case strings.HasPrefix(rest, "output:"):
		ref.Type = RefOutput
		rest = strings.TrimPrefix(rest, "output:")
	}

	if bang := strings.Index(rest, "!"); bang >= 0 {
		ref.Sheet = strings.TrimSpace(rest[:bang])
		rest = rest[bang+1:]
		if ref.Sheet == "" {
			return Reference{}, false
		}
	}

	rest = strings.TrimSpace(rest)
	if colon := strings.Index(rest, ":"); colon >= 0 {
		spec := rest[colon+1:]
		rest = rest[:colon]
		start, end, ok := parseGenerationSpec(spec)
		if !ok {
			return Reference{}, false
		}
		ref.GenStart, ref.GenEnd = start, end
	} else if dash := strings.LastIndex(rest, "-"); dash >= 0 {
		index, err := strconv.Atoi(rest[dash+1:])
		if err != nil || index < 1 {
			return Reference{}, false
		}
		ref.GenStart = index
		rest = rest[:dash]
	}

	if !cellIDPattern.MatchString(rest) {
		return Reference{}, false
	}
	ref.CellID = rest
	return ref, true
}

// ValidCellID reports whether id is a grid-style cell name ("A1", "AB12").
func ValidCellID(id string) bool {
	return cellIDPattern.MatchString(id)
}

// parseGenerationSpec parses "N" or "N-M" (1-based, inclusive).
func parseGenerationSpec(spec string) (int, int, bool) {
	if dash := strings.Index(spec, "-"); dash >= 0 {
		start, err1 := strconv.Atoi(spec[:dash])
		end, err2 := strconv.Atoi(spec[dash+1:])
		if err1 != nil || err2 != nil || start < 1 || end < start {
			return 0, 0, false
		}
		return start, end, true
	}
	index, err := strconv.Atoi(spec)
	if err != nil || index < 1 {
		return 0, 0, false
	}
	return index, 0, true
}

func stripBranchPrefix(raw string) string {
	raw = strings.TrimPrefix(raw, "then:")
	raw = strings.TrimPrefix(raw, "else:")
	return raw
}

// SameSheet reports whether the reference stays on the current sheet.
func (r Reference) SameSheet() bool {
	return r.Sheet == ""
}

// HasGenerationSpec reports whether the reference pins a generation index or range.
func (r Reference) HasGenerationSpec() bool {
	return r.GenStart > 0
}
