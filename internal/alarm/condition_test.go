package alarm

import "testing"

func eval(t *testing.T, expr, payload string) bool {
	t.Helper()
	cond, err := Compile(expr)
	if err != nil {
		t.Fatalf("Compile(%q): %v", expr, err)
	}
	env := NewEnv(payload)
	return cond(&env)
}

func TestCompileStringEquality(t *testing.T) {
	if !eval(t, "value == '1'", "1") {
		t.Error("expected true for matching string equality")
	}
	if eval(t, "value == '1'", "0") {
		t.Error("expected false for non-matching string equality")
	}
}

func TestCompileNumericComparison(t *testing.T) {
	if !eval(t, "value_float > 10", "15.5") {
		t.Error("expected true for 15.5 > 10")
	}
	if eval(t, "value_float > 10", "not-a-number") {
		t.Error("NaN comparisons should be false, not a panic")
	}
}

func TestCompileJSONPath(t *testing.T) {
	if !eval(t, "value_json.state == 'open'", `{"state":"open"}`) {
		t.Error("expected true for matching json path")
	}
	if eval(t, "value_json.state == 'open'", `not json`) {
		t.Error("invalid json should degenerate to a failed comparison, not an error")
	}
}

func TestCompileIsOnIsOff(t *testing.T) {
	if !eval(t, "is_on(value)", "yes") {
		t.Error("is_on(value) should be true for 'yes'")
	}
	if !eval(t, "is_off(value)", "0") {
		t.Error("is_off(value) should be true for '0'")
	}
}

func TestCompileBooleanCombinators(t *testing.T) {
	if !eval(t, "value == '1' or value == '2'", "2") {
		t.Error("or should short-circuit to true on second operand")
	}
	if eval(t, "value == '1' and value == '2'", "1") {
		t.Error("and should be false when only one side matches")
	}
	if !eval(t, "not (value == '0')", "1") {
		t.Error("not should negate the parenthesized comparison")
	}
}

func TestCompileRejectsMalformedExpression(t *testing.T) {
	if _, err := Compile("value =="); err == nil {
		t.Error("expected parse error for incomplete comparison")
	}
	if _, err := Compile("value == '1' extra"); err == nil {
		t.Error("expected parse error for trailing input")
	}
}
