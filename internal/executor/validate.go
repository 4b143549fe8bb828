package executor

import (
	"fmt"
	"strings"
	"unicode"
)

// ValidationResult is the outcome of input validation.
type ValidationResult struct {
	Valid     bool
	Sanitized map[string]any
	Errors    []string
}

// InputValidator checks request parameters against a tool's declared
// input shape and returns a sanitized copy.
type InputValidator interface {
	ValidateAndSanitize(params map[string]any, shape map[string]string) ValidationResult
}

// ShapeValidator is the default validator: every declared key must be
// present with a value of the declared type, undeclared keys are dropped,
// and string values are stripped of control characters.
type ShapeValidator struct{}

// NewShapeValidator creates the default validator.
func NewShapeValidator() *ShapeValidator { return &ShapeValidator{} }

// ValidateAndSanitize implements InputValidator.
func (v *ShapeValidator) ValidateAndSanitize(params map[string]any, shape map[string]string) ValidationResult {
	res := ValidationResult{Sanitized: make(map[string]any, len(shape))}

	for name, typeName := range shape {
		val, ok := params[name]
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("missing required parameter %q", name))
			continue
		}
		if !matchesType(val, typeName) {
			res.Errors = append(res.Errors,
				fmt.Sprintf("parameter %q: expected %s, got %T", name, typeName, val))
			continue
		}
		if s, isStr := val.(string); isStr {
			res.Sanitized[name] = stripControl(s)
		} else {
			res.Sanitized[name] = val
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func matchesType(val any, typeName string) bool {
	switch typeName {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		switch val.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "bool":
		_, ok := val.(bool)
		return ok
	case "list":
		switch val.(type) {
		case []any, []string, []map[string]any:
			return true
		}
		return false
	case "object":
		_, ok := val.(map[string]any)
		return ok
	}
	// Unknown declared type: accept anything rather than reject valid input.
	return true
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}
