package validation

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	upcPattern   = regexp.MustCompile(`^[0-9]{12}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// IsValidUPC reports whether s is exactly twelve ASCII digits.
func IsValidUPC(s string) bool {
	return upcPattern.MatchString(s)
}

// IsValidEmail applies the same loose address check the signup and contact forms use.
func IsValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Register installs the custom tags on gin's validator engine.
func Register() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return RegisterOn(v)
}

// RegisterOn installs the custom tags on v.
func RegisterOn(v *validator.Validate) error {
	if err := v.RegisterValidation("upc", func(fl validator.FieldLevel) bool {
		return IsValidUPC(fl.Field().String())
	}); err != nil {
		return err
	}
	return v.RegisterValidation("loose_email", func(fl validator.FieldLevel) bool {
		return IsValidEmail(fl.Field().String())
	})
}

// FieldErrors flattens validator errors into field -> failed tag.
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return out
	}
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
