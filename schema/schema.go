// Package schema validates request bodies into typed values, returning
// explicit results instead of panicking on invalid input.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared across schemas; validator instances cache struct
// metadata and are safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// FieldError names a single violated constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of parsing a request body. Exactly one of Value or
// Errors is meaningful: a valid body yields the canonicalized Value, an
// invalid one yields the field-level error list.
type Result struct {
	Value  any
	Errors []FieldError
}

// Valid reports whether the body passed validation.
func (r *Result) Valid() bool {
	return len(r.Errors) == 0
}

// Schema parses and validates a raw request body.
type Schema interface {
	Parse(body []byte) *Result
}

type structSchema[T any] struct{}

// Struct returns a Schema that decodes the body as JSON into T, rejecting
// unknown fields, and validates it with the struct's `validate` tags.
func Struct[T any]() Schema {
	return structSchema[T]{}
}

// Parse implements Schema.
func (structSchema[T]) Parse(body []byte) *Result {
	var value T

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&value); err != nil {
		return &Result{Errors: decodeErrors(err)}
	}

	if err := validate.Struct(&value); err != nil {
		var violations validator.ValidationErrors
		if errors.As(err, &violations) {
			fieldErrors := make([]FieldError, 0, len(violations))
			for _, v := range violations {
				fieldErrors = append(fieldErrors, FieldError{
					Field:   fieldName(v),
					Message: constraintMessage(v),
				})
			}
			return &Result{Errors: fieldErrors}
		}
		return &Result{Errors: []FieldError{{Field: "body", Message: "validation failed"}}}
	}

	return &Result{Value: &value}
}

func decodeErrors(err error) []FieldError {
	var unmarshalErr *json.UnmarshalTypeError
	if errors.As(err, &unmarshalErr) {
		field := unmarshalErr.Field
		if field == "" {
			field = "body"
		}
		return []FieldError{{Field: field, Message: "expected " + unmarshalErr.Type.String()}}
	}

	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		field := strings.Trim(strings.TrimPrefix(msg, "json: unknown field "), `"`)
		return []FieldError{{Field: field, Message: "unknown field"}}
	}

	return []FieldError{{Field: "body", Message: "invalid JSON"}}
}

func fieldName(v validator.FieldError) string {
	// Namespace is Type.Field.Nested; drop the type prefix and lower the
	// first segmentless name so errors read like the wire format.
	ns := v.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	return strings.ToLower(ns[:1]) + ns[1:]
}

func constraintMessage(v validator.FieldError) string {
	switch v.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + v.Param()
	case "max":
		return "must be at most " + v.Param()
	case "oneof":
		return "must be one of: " + v.Param()
	default:
		return "failed constraint: " + v.Tag()
	}
}
