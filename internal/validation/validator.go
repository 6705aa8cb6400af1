// Package validation wraps go-playground/validator with the storefront's custom tags and
// turns failures into field-keyed errorbank validation errors.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/fx"

	"github.com/Additional-Code/copra/internal/entity"
	"github.com/Additional-Code/copra/pkg/errorbank"
)

// Module provides the shared Validator.
var Module = fx.Provide(New)

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-]{6,19}$`)

// Validator validates structs using `validate` tags. It satisfies echo.Validator.
type Validator struct {
	v *validatorv10.Validate
}

// New returns a Validator with the custom tags registered.
func New() *Validator {
	v := validatorv10.New()

	// report json field names rather than Go field names
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

	must(v.RegisterValidation("order_status", func(fl validatorv10.FieldLevel) bool {
		return entity.OrderStatus(fl.Field().String()).Valid()
	}))
	must(v.RegisterValidation("payment_status", func(fl validatorv10.FieldLevel) bool {
		return entity.PaymentStatus(fl.Field().String()).Valid()
	}))
	must(v.RegisterValidation("payment_method", func(fl validatorv10.FieldLevel) bool {
		switch entity.PaymentMethod(fl.Field().String()) {
		case entity.PaymentMethodMobileMoney, entity.PaymentMethodCard, entity.PaymentMethodBankTransfer:
			return true
		}
		return false
	}))
	must(v.RegisterValidation("phone", func(fl validatorv10.FieldLevel) bool {
		return phonePattern.MatchString(strings.TrimSpace(fl.Field().String()))
	}))
	must(v.RegisterValidation("notblank", func(fl validatorv10.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}))

	return &Validator{v: v}
}

// Validate checks i and returns an errorbank validation error listing every failing field.
func (val *Validator) Validate(i interface{}) error {
	err := val.v.Struct(i)
	if err == nil {
		return nil
	}

	var verrs validatorv10.ValidationErrors
	if !errors.As(err, &verrs) {
		return errorbank.BadRequest("invalid request", errorbank.WithCause(err))
	}
	return errorbank.Validation("request validation failed", Fields(verrs))
}

// Fields flattens validator errors into a json-path to reason map.
func Fields(verrs validatorv10.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fieldPath(fe)] = describe(fe)
	}
	return out
}

func fieldPath(fe validatorv10.FieldError) string {
	ns := fe.Namespace()
	// drop the root struct name
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " item(s)"
		}
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "order_status", "payment_status", "payment_method":
		return "is not a recognised " + strings.ReplaceAll(fe.Tag(), "_", " ")
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
