package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RequestValidator adapts validator.Validate to echo.Validator so handlers
// can call c.Validate on bound DTOs.
type RequestValidator struct {
	v *validator.Validate
}

func NewValidator() *RequestValidator {
	return &RequestValidator{v: validator.New()}
}

// Validate runs the struct tags of i and folds the field errors into one
// message.
func (rv *RequestValidator) Validate(i interface{}) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}
	msgs := make([]string, len(fields))
	for k, f := range fields {
		msgs[k] = fmt.Sprintf("invalid '%s' with value '%v'", f.Field(), f.Value())
	}
	return errors.New(strings.Join(msgs, ", "))
}
