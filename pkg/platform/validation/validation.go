// Package validation holds the process-wide struct validator. Field names in messages
// follow the json tags so they match what API callers sent.
package validation

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	once       sync.Once
	validate   *validator.Validate
	translator ut.Translator
)

func initValidator() {
	enLoc := en.New()
	uni := ut.New(enLoc, enLoc)
	translator, _ = uni.GetTranslator("en")

	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("json")
		if tag == "-" || tag == "" {
			return fld.Name
		}
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}
		return tag
	})
	_ = en_translations.RegisterDefaultTranslations(validate, translator)
}

// Get returns the shared validator.
func Get() *validator.Validate {
	once.Do(initValidator)
	return validate
}

// Struct validates v and returns the failing fields as "namespace: message" pairs. A nil
// slice means v is valid.
func Struct(v any) ([]string, error) {
	err := Get().Struct(v)
	if err == nil {
		return nil, nil
	}
	var inv *validator.InvalidValidationError
	if errors.As(err, &inv) {
		return nil, inv
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fieldPath(fe)+": "+fe.Translate(translator))
	}
	return problems, nil
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}
