package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

// newValidator reports fields by their json, query or param name so errors
// match what the client sent.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query", "param"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// ReadAndValidateRequest binds the request, applies `default` tags and runs
// `validate` tags. It returns nil on success or a []ValidationError.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		return toValidationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return toValidationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg = fmt.Sprint(he.Message)
		}
		return []ValidationError{{Code: "ERR_UNKNOWN", Message: msg}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Code:    "ERR_" + strings.ToUpper(fe.Tag()),
			Field:   fe.Field(),
			Message: fieldMessage(fe),
			Params:  fieldParams(fe),
		})
	}
	return out
}

// Message templates take the field name and the tag parameter.
var tagMessages = map[string]string{
	"gt":      "%s must be greater than %s",
	"gtfield": "%s must be greater than %s",
	"gte":     "%s must be greater than or equal to %s",
	"lt":      "%s must be less than %s",
	"lte":     "%s must be less than or equal to %s",
	"min":     "%s must be at least %s",
	"max":     "%s must be at most %s",
}

func fieldMessage(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "url":
		return field + " must be a valid URL"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(strings.Fields(param), ", "))
	}
	tmpl, ok := tagMessages[fe.Tag()]
	if !ok {
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
	msg := fmt.Sprintf(tmpl, field, param)
	if fe.Kind() == reflect.String && (fe.Tag() == "min" || fe.Tag() == "max") {
		msg += " characters"
	}
	return msg
}

func fieldParams(fe validator.FieldError) map[string]interface{} {
	key := ""
	switch fe.Tag() {
	case "min", "gte":
		key = "min"
	case "max", "lte":
		key = "max"
	case "gt", "lt":
		key = "value"
	case "oneof":
		return map[string]interface{}{"options": strings.Fields(fe.Param())}
	default:
		return map[string]interface{}{}
	}
	return map[string]interface{}{key: fe.Param()}
}
