package engine

import (
	"strconv"
	"strings"
)

// Conditional blocks follow {{if:<cond>}}then:<value>{{else:<value>}} with the
// else branch optional. <cond> is <left><op><right> or a bare <left> meaning
// "truthy after resolution". Operands may be cell references or literals; a
// [bracketed] right-hand side is always a literal.

// conditionOps are ordered longest-first so that ">=" wins over ">" and
// "==" over a stray "=".
var conditionOps = []string{"==", "!=", ">=", "<=", "contains", "startsWith", "endsWith", ">", "<"}

const (
	ifOpen    = "{{if:"
	elseOpen  = "{{else:"
	braceOpen = "{{"
	close2    = "}}"
	thenMark  = "then:"
)

// conditionalBlock is one matched {{if:}}then:{{else:}} region of a template.
type conditionalBlock struct {
	start, end int // byte offsets of the full block in the source text
	condition  string
	thenValue  string
	elseValue  string
}

// findConditional locates the first conditional block at or after offset.
// The then branch runs until the {{else:...}} opener, the next {{if: opener,
// or the end of text. Branch values may themselves contain {{CELLID}} tokens.
func findConditional(text string, offset int) (conditionalBlock, bool) {
	start := strings.Index(text[offset:], ifOpen)
	if start < 0 {
		return conditionalBlock{}, false
	}
	start += offset

	condEnd := strings.Index(text[start:], close2)
	if condEnd < 0 {
		return conditionalBlock{}, false
	}
	condEnd += start
	block := conditionalBlock{
		start:     start,
		condition: strings.TrimSpace(text[start+len(ifOpen) : condEnd]),
	}

	rest := text[condEnd+len(close2):]
	if !strings.HasPrefix(rest, thenMark) {
		// Malformed block; report it so the caller can drop the token.
		block.end = condEnd + len(close2)
		return block, true
	}
	rest = rest[len(thenMark):]
	thenBase := condEnd + len(close2) + len(thenMark)

	thenEnd := len(rest)
	hasElse := false
	if i := strings.Index(rest, elseOpen); i >= 0 {
		thenEnd = i
		hasElse = true
	}
	if i := strings.Index(rest, ifOpen); i >= 0 && i < thenEnd {
		thenEnd = i
		hasElse = false
	}
	block.thenValue = rest[:thenEnd]
	block.end = thenBase + thenEnd

	if hasElse {
		elseStart := thenEnd + len(elseOpen)
		elseEnd, ok := matchClose(rest, elseStart)
		if !ok {
			return conditionalBlock{}, false
		}
		block.elseValue = rest[elseStart:elseEnd]
		block.end = thenBase + elseEnd + len(close2)
	}
	return block, true
}

// matchClose finds the }} closing the region starting at from, skipping over
// nested {{...}} tokens embedded in the branch value.
func matchClose(s string, from int) (int, bool) {
	depth := 0
	for i := from; i+1 < len(s); i++ {
		switch {
		case s[i] == '{' && s[i+1] == '{':
			depth++
			i++
		case s[i] == '}' && s[i+1] == '}':
			if depth == 0 {
				return i, true
			}
			depth--
			i++
		}
	}
	return 0, false
}

// splitCondition splits <left><op><right>, returning the bare left side with
// an empty op when no operator is present.
func splitCondition(cond string) (left, right, op string) {
	for _, candidate := range conditionOps {
		var idx int
		switch candidate {
		case "contains", "startsWith", "endsWith":
			// word operators need surrounding whitespace
			idx = strings.Index(cond, " "+candidate+" ")
			if idx < 0 {
				continue
			}
			return strings.TrimSpace(cond[:idx]), strings.TrimSpace(cond[idx+len(candidate)+2:]), candidate
		default:
			idx = strings.Index(cond, candidate)
			if idx < 0 {
				continue
			}
			return strings.TrimSpace(cond[:idx]), strings.TrimSpace(cond[idx+len(candidate):]), candidate
		}
	}
	return strings.TrimSpace(cond), "", ""
}

func isBracketedLiteral(s string) bool {
	return len(s) >= 2 && strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]")
}

func stripBrackets(s string) string {
	if isBracketedLiteral(s) {
		return s[1 : len(s)-1]
	}
	return s
}

// evaluateCondition resolves both operands through the supplied resolver and
// applies the operator. Equality and the word operators use string semantics;
// ordering operators compare numerically when both sides parse as numbers and
// fall back to string ordering otherwise. A bare condition is true when the
// resolved left side is non-empty; operands that failed to resolve count as
// empty.
func evaluateCondition(cond string, resolve func(string) resolveResult) bool {
	left, right, op := splitCondition(cond)

	leftVal := resolveOperand(left, resolve)
	if op == "" {
		return leftVal != ""
	}
	rightVal := resolveOperand(right, resolve)

	switch op {
	case "==":
		return leftVal == rightVal
	case "!=":
		return leftVal != rightVal
	case "contains":
		return strings.Contains(leftVal, rightVal)
	case "startsWith":
		return strings.HasPrefix(leftVal, rightVal)
	case "endsWith":
		return strings.HasSuffix(leftVal, rightVal)
	case ">", "<", ">=", "<=":
		return compareOrdered(leftVal, rightVal, op)
	}
	return false
}

func resolveOperand(operand string, resolve func(string) resolveResult) string {
	operand = strings.TrimSpace(operand)
	if isBracketedLiteral(operand) {
		return stripBrackets(operand)
	}
	if _, ok := ParseReference(operand); ok {
		res := resolve(operand)
		if res.err != nil {
			return ""
		}
		return res.value
	}
	return operand
}

func compareOrdered(left, right, op string) bool {
	lf, errL := strconv.ParseFloat(strings.TrimSpace(left), 64)
	rf, errR := strconv.ParseFloat(strings.TrimSpace(right), 64)
	var cmp int
	if errL == nil && errR == nil {
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(left, right)
	}
	switch op {
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	}
	return false
}
