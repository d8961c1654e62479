package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// ValidationErrors is the flattened error body returned with a 400.
type ValidationErrors struct {
	FormErrors  []string            `json:"formErrors"`
	FieldErrors map[string][]string `json:"fieldErrors"`
}

var registerOnce sync.Once

// ensureValidators installs the notblank tag and JSON field names on gin's
// binding validator.
func ensureValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		configureValidator(v)
	})
}

func configureValidator(v *validator.Validate) {
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// newRequestValidator checks `validate` tags. Its supported_model tag asks
// supported, so each ChatHandler keeps its own allow-list.
func newRequestValidator(supported func(string) bool) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	configureValidator(v)
	_ = v.RegisterValidation("supported_model", func(fl validator.FieldLevel) bool {
		return supported != nil && supported(fl.Field().String())
	})
	return v
}

// flattenErrors converts a binding error into form and field messages.
func flattenErrors(err error) ValidationErrors {
	out := ValidationErrors{FormErrors: []string{}, FieldErrors: map[string][]string{}}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out.FormErrors = append(out.FormErrors, "Invalid request body")
		return out
	}
	for _, fe := range verrs {
		field := fe.Field()
		out.FieldErrors[field] = append(out.FieldErrors[field], fieldMessage(fe))
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", fe.Field())
	case "supported_model":
		return fmt.Sprintf("Unsupported model %q", fe.Value())
	case "email":
		return "Invalid email address"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
