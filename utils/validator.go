package utils

import (
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/badoux/checkmail"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON name when they have one.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidateStruct runs the `validate` tags of s and reports every failure as
// one ValidationError.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return NewValidationError(err.Error())
	}

	var problems []string
	for _, err := range validationErrors {
		field := lowerFirst(err.Field())
		param := err.Param()

		switch err.Tag() {
		case "required":
			problems = append(problems, field+" is required")
		case "min":
			problems = append(problems, field+" must be at least "+param)
		case "max":
			problems = append(problems, field+" must be at most "+param)
		case "email":
			problems = append(problems, field+" must be a valid email")
		default:
			problems = append(problems, field+" is invalid")
		}
	}

	return NewValidationError(problems...)
}

// ValidateEmailAddress checks the syntax of an email address.
func ValidateEmailAddress(email string) error {
	if strings.TrimSpace(email) == "" {
		return NewValidationError("email is required")
	}
	if err := checkmail.ValidateFormat(email); err != nil {
		return NewValidationError("invalid email address " + email)
	}
	return nil
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
