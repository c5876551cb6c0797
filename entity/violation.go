package entity

import (
	"aprendecomigo/lib/errs"
	"fmt"
)

// Violation is a single broken invariant found by a pure validation pass.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type Violations []Violation

func (v Violations) Add(field, message string) Violations {
	return append(v, Violation{Field: field, Message: message})
}

// Err returns nil for an empty list, or a validation error carrying every violation.
func (v Violations) Err() error {
	if len(v) == 0 {
		return nil
	}
	details := make([]string, 0, len(v))
	for _, item := range v {
		details = append(details, item.String())
	}
	return errs.WithDetails(errs.CodeValidation, details[0], details)
}
