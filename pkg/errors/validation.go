package errors

import (
	"fmt"
	"strings"
)

// FieldError describes one argument that failed its contract
type FieldError struct {
	Field      string      `json:"field"`
	Constraint string      `json:"constraint"`
	Expected   string      `json:"expected,omitempty"`
	Got        interface{} `json:"got,omitempty"`
}

func (f FieldError) String() string {
	if f.Expected != "" {
		return fmt.Sprintf("%s: %s (expected %s)", f.Field, f.Constraint, f.Expected)
	}
	return fmt.Sprintf("%s: %s", f.Field, f.Constraint)
}

// ValidationErrorData is the structured data attached to InvalidParams
type ValidationErrorData struct {
	Tool   string       `json:"tool,omitempty"`
	Fields []FieldError `json:"fields"`
}

// InvalidParams creates an error listing every argument that failed
// validation. The message names each field so the invoking side can act on
// it without inspecting the data.
func InvalidParams(tool string, fields ...FieldError) MCPError {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.String())
	}
	message := "invalid arguments"
	if tool != "" {
		message = fmt.Sprintf("invalid arguments for tool %q", tool)
	}
	if len(parts) > 0 {
		message = message + ": " + strings.Join(parts, "; ")
	}
	return New(CodeInvalidParams, message).WithData(&ValidationErrorData{Tool: tool, Fields: fields})
}

// InvalidParamsf creates an InvalidParams error that is not tied to a field
func InvalidParamsf(format string, args ...interface{}) MCPError {
	return Newf(CodeInvalidParams, format, args...)
}

// MissingField builds the FieldError for an absent required argument
func MissingField(field string) FieldError {
	return FieldError{Field: field, Constraint: "required"}
}

// WrongType builds the FieldError for an argument of the wrong JSON type
func WrongType(field, expected string, got interface{}) FieldError {
	return FieldError{Field: field, Constraint: "type", Expected: expected, Got: describe(got)}
}

// TooLong builds the FieldError for a string or array above its maximum
func TooLong(field string, max, actual int) FieldError {
	return FieldError{
		Field:      field,
		Constraint: fmt.Sprintf("length %d exceeds maximum %d", actual, max),
		Expected:   fmt.Sprintf("at most %d", max),
		Got:        actual,
	}
}

// TooShort builds the FieldError for a string or array below its minimum
func TooShort(field string, min, actual int) FieldError {
	return FieldError{
		Field:      field,
		Constraint: fmt.Sprintf("length %d is below minimum %d", actual, min),
		Expected:   fmt.Sprintf("at least %d", min),
		Got:        actual,
	}
}

// OutOfRange builds the FieldError for a number outside its bounds
func OutOfRange(field string, value float64, bound string) FieldError {
	return FieldError{Field: field, Constraint: "range", Expected: bound, Got: value}
}

// NotInEnum builds the FieldError for a value outside its allowed set
func NotInEnum(field string, value interface{}, allowed []string) FieldError {
	return FieldError{
		Field:      field,
		Constraint: "enum",
		Expected:   "one of [" + strings.Join(allowed, ", ") + "]",
		Got:        describe(value),
	}
}

// PatternMismatch builds the FieldError for a string not matching its pattern
func PatternMismatch(field, pattern string) FieldError {
	return FieldError{Field: field, Constraint: "pattern", Expected: pattern}
}

// UnknownField builds the FieldError for an argument the contract does not declare
func UnknownField(field string) FieldError {
	return FieldError{Field: field, Constraint: "unknown argument"}
}

func describe(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		if len(val) > 64 {
			return val[:64] + "..."
		}
		return val
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	default:
		return val
	}
}

// FieldErrors extracts the per-field details of an InvalidParams error
func FieldErrors(err error) []FieldError {
	mcpErr, ok := AsMCPError(err)
	if !ok || mcpErr.Code() != CodeInvalidParams {
		return nil
	}
	if data, ok := mcpErr.Data().(*ValidationErrorData); ok {
		return data.Fields
	}
	return nil
}
