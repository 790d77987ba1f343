package engine

import "testing"

func staticResolver(values map[string]string) func(string) resolveResult {
	return func(operand string) resolveResult {
		if v, ok := values[operand]; ok {
			return resolved(v)
		}
		return marker(errMissing, "%s", operand)
	}
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errMissing = sentinelErr("missing")

func TestSplitCondition(t *testing.T) {
	tests := []struct {
		cond  string
		left  string
		right string
		op    string
	}{
		{"A1==[fantasy]", "A1", "[fantasy]", "=="},
		{"A1 != B1", "A1", "B1", "!="},
		{"A1>=10", "A1", "10", ">="},
		{"A1 <= 10", "A1", "10", "<="},
		{"A1 contains [dragon]", "A1", "[dragon]", "contains"},
		{"A1 startsWith [Once]", "A1", "[Once]", "startsWith"},
		{"A1 endsWith [end.]", "A1", "[end.]", "endsWith"},
		{"A1>5", "A1", "5", ">"},
		{"A1", "A1", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.cond, func(t *testing.T) {
			left, right, op := splitCondition(tc.cond)
			if left != tc.left || right != tc.right || op != tc.op {
				t.Fatalf("splitCondition(%q) = (%q, %q, %q), want (%q, %q, %q)",
					tc.cond, left, right, op, tc.left, tc.right, tc.op)
			}
		})
	}
}

func TestEvaluateCondition(t *testing.T) {
	values := map[string]string{
		"A1": "fantasy",
		"B1": "12",
		"C1": "Once upon a time there was a dragon.",
		"D1": "",
	}
	resolve := staticResolver(values)

	tests := []struct {
		cond string
		want bool
	}{
		{"A1==[fantasy]", true},
		{"A1==[horror]", false},
		{"A1!=[horror]", true},
		{"B1>10", true},
		{"B1<10", false},
		{"B1>=12", true},
		{"B1<=11", false},
		{"C1 contains [dragon]", true},
		{"C1 startsWith [Once]", true},
		{"C1 endsWith [dragon.]", true},
		{"C1 endsWith [castle.]", false},
		// Bare condition: truthy when non-empty after resolution.
		{"A1", true},
		{"D1", false},
		// A reference that fails to resolve counts as empty.
		{"Z9", false},
		{"Z9==[x]", false},
		// Unbracketed non-reference right side compares as a literal.
		{"A1==fantasy", true},
		// Numeric fallback to string ordering when either side is not a number.
		{"A1<[zzz]", true},
	}
	for _, tc := range tests {
		t.Run(tc.cond, func(t *testing.T) {
			if got := evaluateCondition(tc.cond, resolve); got != tc.want {
				t.Fatalf("evaluateCondition(%q) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}
}

func TestFindConditional(t *testing.T) {
	t.Run("then and else branches", func(t *testing.T) {
		text := "Write {{if:A1==[fantasy]}}then:a dragon tale{{else:a heist story}} now"
		block, ok := findConditional(text, 0)
		if !ok {
			t.Fatal("expected a conditional block")
		}
		if block.condition != "A1==[fantasy]" {
			t.Fatalf("condition = %q", block.condition)
		}
		if block.thenValue != "a dragon tale" {
			t.Fatalf("thenValue = %q", block.thenValue)
		}
		if block.elseValue != "a heist story" {
			t.Fatalf("elseValue = %q", block.elseValue)
		}
		if got := text[block.start:block.end]; got != "{{if:A1==[fantasy]}}then:a dragon tale{{else:a heist story}}" {
			t.Fatalf("block span = %q", got)
		}
	})

	t.Run("else value with nested token", func(t *testing.T) {
		text := "{{if:A1}}then:keep{{else:use {{B1}} instead}}"
		block, ok := findConditional(text, 0)
		if !ok {
			t.Fatal("expected a conditional block")
		}
		if block.elseValue != "use {{B1}} instead" {
			t.Fatalf("elseValue = %q", block.elseValue)
		}
		if block.end != len(text) {
			t.Fatalf("end = %d, want %d", block.end, len(text))
		}
	})

	t.Run("then runs to end without else", func(t *testing.T) {
		block, ok := findConditional("{{if:A1}}then:all of this", 0)
		if !ok {
			t.Fatal("expected a conditional block")
		}
		if block.thenValue != "all of this" || block.elseValue != "" {
			t.Fatalf("branches = (%q, %q)", block.thenValue, block.elseValue)
		}
	})

	t.Run("no block", func(t *testing.T) {
		if _, ok := findConditional("plain {{A1}} text", 0); ok {
			t.Fatal("did not expect a conditional block")
		}
	})
}
