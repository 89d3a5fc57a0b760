package services

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate checks api request structs at the service boundary.
var validate = newValidator()

// newValidator registers the race_id tag used by import requests. The
// rule mirrors what the store accepts as a document file name:
// non-empty, no path separators, no parent traversal.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("race_id", func(fl validator.FieldLevel) bool {
		id := fl.Field().String()
		if id == "" || len(id) > 128 {
			return false
		}
		return !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
	})
	return v
}
