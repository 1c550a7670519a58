package config

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rileyhilliard/gpustat/internal/errors"
)

// hostKeyPattern keeps host names safe to use as file names.
var hostKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("hostkey", func(fl validator.FieldLevel) bool {
			return hostKeyPattern.MatchString(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// ValidateHost checks a single host entry after defaults have been applied.
func ValidateHost(h Host) error {
	if err := validatorInstance().Struct(h); err != nil {
		return describe(err)
	}
	return nil
}

// ValidateSettings checks the settings block.
func ValidateSettings(s Settings) error {
	if err := validatorInstance().Struct(s); err != nil {
		return errors.WrapWithCode(describe(err), errors.ErrConfig,
			"Invalid settings",
			"Check the 'settings' section of your config. Durations look like 5s or 2m.")
	}
	return nil
}

// describe turns validator output into one readable sentence per field.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("missing required field '%s'", field)
	case "hostkey":
		return fmt.Sprintf("'%s' may only contain letters, digits, '.', '_' and '-' (got %q)", field, fe.Value())
	case "gt":
		return fmt.Sprintf("'%s' must be positive (got %v)", field, fe.Value())
	case "min", "max":
		if field == "port" {
			return fmt.Sprintf("'port' must be between 1 and 65535 (got %v)", fe.Value())
		}
		return fmt.Sprintf("'%s' must be %s %s (got %v)", field, boundWord(fe.Tag()), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("'%s' failed %s validation", field, fe.Tag())
	}
}

func boundWord(tag string) string {
	if tag == "min" {
		return "at least"
	}
	return "at most"
}
