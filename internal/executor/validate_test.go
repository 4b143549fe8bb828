package executor

import "testing"

func TestShapeValidatorAcceptsMatchingTypes(t *testing.T) {
	v := NewShapeValidator()
	shape := map[string]string{
		"name":    "string",
		"count":   "number",
		"enabled": "bool",
		"items":   "list",
		"opts":    "object",
	}
	res := v.ValidateAndSanitize(map[string]any{
		"name":    "report",
		"count":   3,
		"enabled": true,
		"items":   []any{"a", "b"},
		"opts":    map[string]any{"k": "v"},
	}, shape)
	if !res.Valid {
		t.Fatalf("expected valid, errors: %v", res.Errors)
	}
	if len(res.Sanitized) != 5 {
		t.Errorf("sanitized has %d keys, want 5", len(res.Sanitized))
	}
}

func TestShapeValidatorRejectsMissingAndMistyped(t *testing.T) {
	v := NewShapeValidator()
	shape := map[string]string{"query": "string", "limit": "number"}

	res := v.ValidateAndSanitize(map[string]any{"query": 42}, shape)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if len(res.Errors) != 2 {
		t.Errorf("errors = %v, want missing limit and mistyped query", res.Errors)
	}
}

func TestShapeValidatorDropsUndeclaredKeys(t *testing.T) {
	v := NewShapeValidator()
	res := v.ValidateAndSanitize(map[string]any{
		"query":      "ok",
		"__internal": "should not pass through",
	}, map[string]string{"query": "string"})
	if !res.Valid {
		t.Fatalf("expected valid, errors: %v", res.Errors)
	}
	if _, ok := res.Sanitized["__internal"]; ok {
		t.Error("undeclared key survived sanitization")
	}
}

func TestShapeValidatorStripsControlCharacters(t *testing.T) {
	v := NewShapeValidator()
	res := v.ValidateAndSanitize(map[string]any{
		"text": "line1\nline2\ttabbed\x00\x1b[31m",
	}, map[string]string{"text": "string"})
	if !res.Valid {
		t.Fatalf("expected valid, errors: %v", res.Errors)
	}
	got := res.Sanitized["text"].(string)
	want := "line1\nline2\ttabbed[31m"
	if got != want {
		t.Errorf("sanitized = %q, want %q", got, want)
	}
}

func TestShapeValidatorUnknownTypeAccepts(t *testing.T) {
	v := NewShapeValidator()
	res := v.ValidateAndSanitize(map[string]any{"blob": struct{}{}}, map[string]string{"blob": "binary"})
	if !res.Valid {
		t.Errorf("unknown declared type should accept, errors: %v", res.Errors)
	}
}

func TestRedactOutput(t *testing.T) {
	out, n := redactOutput(map[string]any{
		"result":       "fine",
		"Access_Token": "abc",
		"nested": map[string]any{
			"ClientSecret": "xyz",
			"region":       "eu",
		},
	})
	if n != 2 {
		t.Errorf("redacted count = %d, want 2", n)
	}
	if out["Access_Token"] != redactedValue {
		t.Errorf("Access_Token = %v, want redacted", out["Access_Token"])
	}
	if out["result"] != "fine" {
		t.Errorf("benign value changed: %v", out["result"])
	}
	nested := out["nested"].(map[string]any)
	if nested["ClientSecret"] != redactedValue || nested["region"] != "eu" {
		t.Errorf("nested redaction wrong: %v", nested)
	}
}

func TestRedactOutputNil(t *testing.T) {
	out, n := redactOutput(nil)
	if out != nil || n != 0 {
		t.Errorf("nil output should stay nil, got %v (%d)", out, n)
	}
}

func TestIsSensitiveKey(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"API_KEY", true},
		{"refreshToken", true},
		{"db_credentials", true},
		{"username", false},
		{"result", false},
	}
	for _, c := range cases {
		if got := isSensitiveKey(c.key); got != c.want {
			t.Errorf("isSensitiveKey(%q) = %v, want %v", c.key, got, c.want)
		}
	}
}
