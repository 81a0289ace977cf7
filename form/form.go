// Package form evaluates declarative form schemas against submitted
// values. A schema lists each field with its tag rules (the
// go-playground/validator vocabulary), optional live checks such as
// uniqueness lookups, and cross-field equality rules.
package form

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Check inspects a single value once its tag rules pass. It returns a
// non-empty message to reject the value. An error aborts validation.
type Check func(ctx context.Context, value string) (string, error)

// Field describes one input.
type Field struct {
	Name  string
	Label string
	// Rules is a validator tag string, e.g. "required,min=3,max=20".
	Rules  string
	Checks []Check
	// Keep leading and trailing whitespace (passwords).
	Raw bool
}

// Match requires Field to equal Other.
type Match struct {
	Field   string
	Other   string
	Message string
}

// Schema is the full description of one form.
type Schema struct {
	Fields  []Field
	Matches []Match
}

// Result holds the cleaned values and any field-scoped messages.
type Result struct {
	Values map[string]string
	Errors map[string][]string
}

// OK reports whether no field failed.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// Add records a message against field.
func (r *Result) Add(field, message string) {
	if r.Errors == nil {
		r.Errors = make(map[string][]string)
	}
	r.Errors[field] = append(r.Errors[field], message)
}

// First returns the first message for field, or "".
func (r Result) First(field string) string {
	if msgs := r.Errors[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// Get returns the cleaned value for field.
func (r Result) Get(field string) string { return r.Values[field] }

var validate = validator.New()

// Validate evaluates schema against values. Tag rules run first; a
// field's checks only run when its tag rules all pass, so a blank
// username never triggers a uniqueness lookup.
func Validate(ctx context.Context, schema Schema, values url.Values) (Result, error) {
	res := Result{Values: make(map[string]string, len(schema.Fields))}

	for _, f := range schema.Fields {
		v := values.Get(f.Name)
		if !f.Raw {
			v = strings.TrimSpace(v)
		}
		res.Values[f.Name] = v

		if f.Rules != "" {
			if err := validate.Var(v, f.Rules); err != nil {
				var verrs validator.ValidationErrors
				if !errors.As(err, &verrs) {
					return res, fmt.Errorf("form: field %s: %w", f.Name, err)
				}
				for _, fe := range verrs {
					res.Add(f.Name, message(fe))
				}
				continue
			}
		}

		for _, check := range f.Checks {
			msg, err := check(ctx, v)
			if err != nil {
				return res, fmt.Errorf("form: field %s: %w", f.Name, err)
			}
			if msg != "" {
				res.Add(f.Name, msg)
				break
			}
		}
	}

	for _, m := range schema.Matches {
		if _, failed := res.Errors[m.Field]; failed {
			continue
		}
		if res.Values[m.Field] != res.Values[m.Other] {
			msg := m.Message
			if msg == "" {
				msg = fmt.Sprintf("Field must be equal to %s.", m.Other)
			}
			res.Add(m.Field, msg)
		}
	}

	return res, nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Invalid email address."
	case "min":
		return fmt.Sprintf("Field must be at least %s characters long.", fe.Param())
	case "max":
		return fmt.Sprintf("Field cannot be longer than %s characters.", fe.Param())
	case "len":
		return fmt.Sprintf("Field must be exactly %s characters long.", fe.Param())
	case "alphanum":
		return "Field may only contain letters and digits."
	default:
		return "Invalid value."
	}
}
