package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/diagnosis-api/internal/model"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
	ValidateField(field string, value interface{}, rules ...string) error
}

type structValidator struct {
	v *validator.Validate
}

// New returns a validator that understands the catalog tags
// symptom_category, disease_category and severity_level.
func New() Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"yaml", "json"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = Register(v)
	return &structValidator{v: v}
}

// Register adds the catalog tags to an existing engine, such as gin's.
func Register(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"symptom_category": func(fl validator.FieldLevel) bool {
			return model.SymptomCategory(fl.Field().String()).Valid()
		},
		"disease_category": func(fl validator.FieldLevel) bool {
			return model.DiseaseCategory(fl.Field().String()).Valid()
		},
		"severity_level": func(fl validator.FieldLevel) bool {
			return model.SeverityLevel(fl.Field().String()).Valid()
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	return nil
}

func (s *structValidator) Validate(obj interface{}) error {
	return humanize(s.v.Struct(obj))
}

func (s *structValidator) ValidateField(field string, value interface{}, rules ...string) error {
	err := s.v.Var(value, strings.Join(rules, ","))
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("%s %s", field, describe(verrs[0]))
	}
	return err
}

// humanize flattens validator errors into one message listing each field.
func humanize(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", fieldPath(fe), describe(fe)))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must not exceed " + fe.Param()
	case "gte", "lte", "gt", "lt":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	case "oneof":
		return "must be one of " + fe.Param()
	case "symptom_category", "disease_category", "severity_level":
		return fmt.Sprintf("has unknown %s %q", strings.ReplaceAll(fe.Tag(), "_", " "), fe.Value())
	default:
		return "failed " + fe.Tag()
	}
}
