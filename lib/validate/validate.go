package validate

import (
	"aprendecomigo/lib/errs"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	instance *validator.Validate
	once     sync.Once
)

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New()
		instance.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return instance
}

// Struct validates a single struct object, returning a validation error that
// lists every failed field as "<field> <tag>"
func Struct(s interface{}) error {
	if s == nil {
		return errs.New(errs.CodeValidation, "is nil")
	}
	if !isStruct(s) {
		return errs.New(errs.CodeValidation, "not a struct")
	}
	var validationErrors validator.ValidationErrors
	var invalidValidationError *validator.InvalidValidationError

	err := get().Struct(s)
	if err == nil {
		return nil
	}

	if errors.As(err, &validationErrors) {
		details := make([]string, 0, len(validationErrors))
		for _, fieldErr := range validationErrors {
			details = append(details, fmt.Sprintf("%s %s", fieldErr.Field(), fieldErr.Tag()))
		}
		return errs.WithDetails(errs.CodeValidation, strings.Join(details, "; "), details)
	} else if errors.As(err, &invalidValidationError) {
		return fmt.Errorf("invalid validation error: %w", err)
	} else {
		return fmt.Errorf("unknown validation error: %w", err)
	}
}

// Var validates a single value against a tag, e.g. Var(email, "required,email")
func Var(value interface{}, tag string) error {
	return get().Var(value, tag)
}

func isStruct(s interface{}) bool {
	r := reflect.TypeOf(s)
	if r.Kind() == reflect.Ptr {
		r = r.Elem()
	}
	return r.Kind() == reflect.Struct
}
