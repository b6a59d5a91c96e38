// Package validate provides request validation using go-playground/validator.
package validate

import (
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/mongomigrate/mongomigrate/topo"
)

var (
	instance *validator.Validate //nolint:gochecknoglobals
	once     sync.Once           //nolint:gochecknoglobals
)

// Validator returns the singleton validator instance.
func Validator() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		registerCustomValidators(instance)
		registerTagNameFunc(instance)
	})

	return instance
}

func registerCustomValidators(v *validator.Validate) {
	_ = v.RegisterValidation("mongouri", validateMongoURI)
	_ = v.RegisterValidation("collpattern", validateCollPattern)
}

// registerTagNameFunc uses JSON tag names in error messages.
func registerTagNameFunc(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}

		return name
	})
}

// Struct validates a struct using the singleton validator.
func Struct(s any) error {
	return TranslateErrors(Validator().Struct(s))
}

// validateMongoURI checks that a string is a connection string with a database name.
// Tag usage: mongouri
func validateMongoURI(fl validator.FieldLevel) bool {
	_, err := topo.ResolveEndpoint(fl.Field().String())

	return err == nil
}

// validateCollPattern checks that a string is a collection name or a valid shell pattern.
// Tag usage: collpattern
func validateCollPattern(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return false
	}

	_, err := path.Match(s, "")

	return err == nil
}
