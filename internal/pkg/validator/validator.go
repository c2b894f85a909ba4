package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Listing deal type (rent or sale)
	validate.RegisterValidation("listing_type", func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		return v == "rent" || v == "sale"
	})

	// Property kind
	validate.RegisterValidation("property_kind", func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		validKinds := []string{"apartment", "house", "condo", "land"}
		for _, k := range validKinds {
			if v == k {
				return true
			}
		}
		return false
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	for _, err := range err.(validator.ValidationErrors) {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too small"
		case "max":
			errors[field] = "Value is too large"
		case "listing_type":
			errors[field] = "Must be one of: rent, sale"
		case "property_kind":
			errors[field] = "Must be one of: apartment, house, condo, land"
		default:
			errors[field] = "Invalid value"
		}
	}
	return errors
}
