// Package validation checks inbound requests with validator/v10 and
// converts failures into domain validation errors.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shelfsync/shelfsync/internal/domain"
	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
)

// rootSchemes are the URI schemes a library root may use.
var rootSchemes = []string{"file", "content"}

// Validator wraps go-playground/validator with domain error conversion.
type Validator struct {
	v *validator.Validate
}

// New creates a validator with the library-specific tags registered:
//
//	root_uri     absolute file:// or content:// URI
//	source_kind  a domain.SourceKind
//	scan_type    a domain.ScanType
//	scrape_type  a domain.ScrapeType
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	mustRegister(v, "root_uri", func(fl validator.FieldLevel) bool {
		return validRootURI(fl.Field().String())
	})
	mustRegister(v, "source_kind", func(fl validator.FieldLevel) bool {
		return domain.SourceKind(fl.Field().String()).Valid()
	})
	mustRegister(v, "scan_type", func(fl validator.FieldLevel) bool {
		return domain.ScanType(fl.Field().String()).Valid()
	})
	mustRegister(v, "scrape_type", func(fl validator.FieldLevel) bool {
		return domain.ScrapeType(fl.Field().String()).Valid()
	})

	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s: %v", tag, err))
	}
}

func validRootURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" && u.Opaque == "" {
		return false
	}
	for _, s := range rootSchemes {
		if strings.EqualFold(u.Scheme, s) {
			return true
		}
	}
	return false
}

// Validate validates a struct and returns a domain error.
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// formatError converts validator errors to a validation error whose
// details map field names to messages.
func (v *Validator) formatError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fieldErrors := make(map[string]string, len(validationErrs))
	for _, e := range validationErrs {
		fieldErrors[e.Field()] = friendlyMessage(e)
	}
	return domainerrors.ValidationWithDetails("validation failed", fieldErrors)
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s", e.Param())
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "root_uri":
		return "must be an absolute file:// or content:// URI"
	case "source_kind":
		return "must be one of: downloaded imported-internal imported-external"
	case "scan_type":
		return "must be one of: full incremental"
	case "scrape_type":
		return "must be one of: metadata cover full"
	default:
		return "is invalid"
	}
}
