package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"promptgrid/internal/domain"
)

// generationSeparator joins the outputs of a generation range.
const generationSeparator = "\n---\n"

// resolveResult is the unified outcome of resolving one reference. A non-nil
// err carries the taxonomy kind; callers choose between rendering it inline
// (Inline) and treating the value as absent.
type resolveResult struct {
	value string
	err   error
}

func resolved(value string) resolveResult {
	return resolveResult{value: value}
}

// marker builds a result whose inline rendering is a visible sentinel, so a
// single bad reference degrades the prompt instead of aborting it.
func marker(kind error, format string, args ...any) resolveResult {
	detail := fmt.Sprintf(format, args...)
	return resolveResult{
		value: fmt.Sprintf("[%s: %s]", kind.Error(), detail),
		err:   kind,
	}
}

// Inline renders the result for direct substitution into a template.
func (r resolveResult) Inline() string {
	return r.value
}

// Resolver expands cell references and conditional blocks against live sheet
// state. Resolution is non-blocking: a reference to a cell whose run is still
// in flight reads whatever state currently exists.
type Resolver struct {
	cache *SheetCache
	log   zerolog.Logger
}

func NewResolver(cache *SheetCache, log zerolog.Logger) *Resolver {
	return &Resolver{cache: cache, log: log}
}

// ResolveTemplate expands a full template: conditional blocks first (their
// operands and branch values may reference cells), then every remaining
// reference token, using exact-match token replacement. Tokens that survive
// substitution unresolved are stripped and whitespace is normalized.
func (r *Resolver) ResolveTemplate(ctx context.Context, sheet, text string) string {
	text = r.resolveConditionals(ctx, sheet, text)
	text = r.substituteReferences(ctx, sheet, text)
	return stripDanglingTokens(text)
}

// substituteReferences replaces each reference token with its resolved value
// at the token's actual span, so interior padding ({{ A1 }}) cannot defeat
// the replacement. Literal placeholders pass through untouched.
func (r *Resolver) substituteReferences(ctx context.Context, sheet, text string) string {
	return tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
		raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(tok, "{{"), "}}"))
		if isConditionalToken(raw) {
			return tok
		}
		if _, ok := ParseReference(raw); !ok {
			return tok
		}
		return r.resolveRawReference(ctx, sheet, raw).Inline()
	})
}

// ResolveReference resolves a single raw token (without braces) in the
// context of the given sheet. Literal placeholders come back unchanged.
func (r *Resolver) ResolveReference(ctx context.Context, sheet, raw string) (string, error) {
	res := r.resolveRawReference(ctx, sheet, raw)
	return res.value, res.err
}

// EvaluateCondition evaluates an execution condition (the same grammar as a
// prompt-embedded conditional's <cond> part) against live cell state.
func (r *Resolver) EvaluateCondition(ctx context.Context, sheet, cond string) bool {
	return evaluateCondition(cond, func(operand string) resolveResult {
		return r.resolveRawReference(ctx, sheet, operand)
	})
}

func (r *Resolver) resolveConditionals(ctx context.Context, sheet, text string) string {
	resolve := func(operand string) resolveResult {
		return r.resolveRawReference(ctx, sheet, operand)
	}

	for offset := 0; ; {
		block, ok := findConditional(text, offset)
		if !ok {
			return text
		}

		var replacement string
		if evaluateCondition(block.condition, resolve) {
			replacement = r.resolveBranch(ctx, sheet, block.thenValue)
		} else {
			replacement = r.resolveBranch(ctx, sheet, block.elseValue)
		}
		text = text[:block.start] + replacement + text[block.end:]
		offset = block.start + len(replacement)
	}
}

// resolveBranch substitutes reference tokens inside a then/else value.
func (r *Resolver) resolveBranch(ctx context.Context, sheet, value string) string {
	return r.substituteReferences(ctx, sheet, value)
}

func (r *Resolver) resolveRawReference(ctx context.Context, sheet, raw string) resolveResult {
	ref, ok := ParseReference(raw)
	if !ok {
		// Literal placeholder, not an error.
		return resolved(raw)
	}
	return r.resolve(ctx, sheet, ref)
}

func (r *Resolver) resolve(ctx context.Context, currentSheet string, ref Reference) resolveResult {
	targetSheet := currentSheet
	returnType := ref.Type
	if !ref.SameSheet() {
		targetSheet = ref.Sheet
		if returnType == RefDefault {
			returnType = RefPrompt
		}
	}
	if returnType == RefDefault {
		returnType = RefOutput
	}

	cells, err := r.cache.GetOrLoad(ctx, targetSheet)
	if err != nil {
		r.log.Debug().Err(err).Str("sheet", targetSheet).Str("ref", ref.Raw).Msg("engine: sheet lookup failed")
		return marker(domain.ErrSheetNotFound, "%s", targetSheet)
	}

	cell, ok := cells[ref.CellID]
	if !ok {
		return marker(domain.ErrCellNotFound, "%s", ref.CellID)
	}

	if ref.HasGenerationSpec() {
		return resolveGenerations(cell, ref)
	}

	if returnType == RefPrompt {
		if strings.TrimSpace(cell.Prompt) == "" {
			return marker(domain.ErrEmptyValue, "%s", ref.CellID)
		}
		return resolved(cell.Prompt)
	}

	output := cell.Output
	if strings.TrimSpace(output) == "" || output == domain.SkippedOutput {
		if strings.TrimSpace(cell.Prompt) != "" {
			return resolved(cell.Prompt)
		}
		return marker(domain.ErrEmptyValue, "%s", ref.CellID)
	}
	if url := extractMediaURL(output); url != "" {
		return resolved(url)
	}
	return resolved(stripMarkup(output))
}

// resolveGenerations maps the 1-based oldest-first index space onto the
// newest-first storage order: arrayIndex = len-1-(userIndex-1).
func resolveGenerations(cell *domain.Cell, ref Reference) resolveResult {
	total := len(cell.Generations)
	end := ref.GenEnd
	if end == 0 {
		end = ref.GenStart
	}
	if ref.GenStart > total || end > total {
		return marker(domain.ErrGenerationRange, "%s has %d generations", ref.CellID, total)
	}

	if ref.GenEnd == 0 {
		gen, _ := cell.GenerationAt(ref.GenStart)
		return resolved(gen.Output)
	}

	outputs := make([]string, 0, end-ref.GenStart+1)
	for i := ref.GenStart; i <= end; i++ {
		gen, _ := cell.GenerationAt(i)
		outputs = append(outputs, gen.Output)
	}
	return resolved(strings.Join(outputs, generationSeparator))
}

var (
	imgTagPattern   = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["']`)
	mdImagePattern  = regexp.MustCompile(`!\[[^\]]*\]\(([^)]+)\)`)
	bareURLPattern  = regexp.MustCompile(`https?://\S+`)
	htmlTagPattern  = regexp.MustCompile(`<[^>]*>`)
	mediaExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".mp4", ".webm", ".mov", ".mp3", ".wav", ".ogg"}
)

// extractMediaURL pulls a raw media URL out of an output so downstream
// templates can chain media references. Returns "" when the output is plain
// text.
func extractMediaURL(output string) string {
	if m := imgTagPattern.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	if m := mdImagePattern.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	if m := bareURLPattern.FindString(strings.TrimSpace(output)); m != "" {
		trimmed := strings.TrimRight(m, ".,;)")
		lower := strings.ToLower(trimmed)
		for _, ext := range mediaExtensions {
			if strings.HasSuffix(lower, ext) || strings.Contains(lower, ext+"?") {
				return trimmed
			}
		}
	}
	return ""
}

func stripMarkup(s string) string {
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(s, ""))
}

var (
	spaceRunPattern = regexp.MustCompile(`[ \t]{2,}`)
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
)

// isConditionalToken reports whether a trimmed token interior belongs to the
// conditional grammar rather than the reference grammar.
func isConditionalToken(inner string) bool {
	return strings.HasPrefix(inner, "if:") ||
		strings.HasPrefix(inner, "then:") ||
		strings.HasPrefix(inner, "else:")
}

// stripDanglingTokens removes leftover {{...}} tokens that are not
// conditional syntax and normalizes the surrounding whitespace.
func stripDanglingTokens(text string) string {
	text = tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
		inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(tok, "{{"), "}}"))
		if isConditionalToken(inner) {
			return tok
		}
		return ""
	})
	text = spaceRunPattern.ReplaceAllString(text, " ")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
