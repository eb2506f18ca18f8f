package alarm

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Env is the per-message evaluation environment a compiled condition runs
// against: the raw payload string plus lazily-computed float and JSON
// views, matching the three operand kinds the grammar exposes.
type Env struct {
	raw string

	floatOnce  bool
	floatValue float64

	jsonOnce  bool
	jsonValue any
}

// NewEnv builds an evaluation environment for one payload.
func NewEnv(raw string) Env {
	return Env{raw: raw}
}

// Value returns the raw payload string.
func (e Env) Value() string {
	return e.raw
}

// ValueFloat parses the payload as a float64, returning NaN on failure
// rather than an error — a non-numeric payload against a numeric
// comparison is a false comparison, not a fatal condition.
func (e *Env) ValueFloat() float64 {
	if !e.floatOnce {
		e.floatOnce = true
		f, err := strconv.ParseFloat(strings.TrimSpace(e.raw), 64)
		if err != nil {
			f = nan()
		}
		e.floatValue = f
	}
	return e.floatValue
}

// ValueJSON parses the payload as JSON, returning an empty object on
// failure so `value_json.foo.bar` path access degenerates to a lookup
// miss instead of propagating a parse error.
func (e *Env) ValueJSON() any {
	if !e.jsonOnce {
		e.jsonOnce = true
		var v any
		if err := json.Unmarshal([]byte(e.raw), &v); err != nil {
			v = map[string]any{}
		}
		e.jsonValue = v
	}
	return e.jsonValue
}

func nan() float64 {
	var zero float64
	return zero / zero
}

// jsonPath walks dotted path segments through a decoded JSON value, same
// shape as `value_json.foo.bar`. Any miss (wrong type, absent key) yields
// nil rather than an error.
func jsonPath(root any, path []string) any {
	cur := root
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := m[seg]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// truthyTokens are the case-insensitive payload tokens is_on/is_off
// recognize, per the service's external payload-truthiness contract.
var truthyTokens = map[string]bool{
	"1":    true,
	"yes":  true,
	"on":   true,
	"true": true,
}

// IsOn reports whether s is one of the truthy tokens (case-insensitive).
func IsOn(s string) bool {
	return truthyTokens[strings.ToLower(strings.TrimSpace(s))]
}

// IsOff is the complement of IsOn.
func IsOff(s string) bool {
	return !IsOn(s)
}
