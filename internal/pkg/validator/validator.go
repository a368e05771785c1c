package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var (
	countryCodePattern = regexp.MustCompile(`^[0-9]{1,4}$`)
	serviceCodePattern = regexp.MustCompile(`^[a-z0-9_]{2,16}$`)
	carrierPattern     = regexp.MustCompile(`^[a-z0-9_]{0,32}$`)
)

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
	// Vendor country ids are numeric strings ("52" = Thailand).
	validate.RegisterValidation("country_code", func(fl validator.FieldLevel) bool {
		return countryCodePattern.MatchString(fl.Field().String())
	})

	validate.RegisterValidation("service_code", func(fl validator.FieldLevel) bool {
		return serviceCodePattern.MatchString(fl.Field().String())
	})

	// Empty carrier means "any operator".
	validate.RegisterValidation("carrier_code", func(fl validator.FieldLevel) bool {
		return carrierPattern.MatchString(fl.Field().String())
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too small (min: " + fe.Param() + ")"
		case "max":
			errors[field] = "Value is too large (max: " + fe.Param() + ")"
		case "gte":
			errors[field] = "Value must be at least " + fe.Param()
		case "lte":
			errors[field] = "Value must be at most " + fe.Param()
		case "ne":
			errors[field] = "Value must not be " + fe.Param()
		case "uuid":
			errors[field] = "Invalid identifier"
		case "country_code":
			errors[field] = "Invalid country code. Must be the vendor's numeric country id"
		case "service_code":
			errors[field] = "Invalid service code"
		case "carrier_code":
			errors[field] = "Invalid carrier code"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
