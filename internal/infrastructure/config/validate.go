package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// configValidator reports fields by their YAML path, e.g. "door.default_pin".
func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		//nolint:errcheck // tag name and func are static
		validate.RegisterValidation("pin", func(fl validator.FieldLevel) bool {
			return isFourDigits(fl.Field().String())
		})
	})
	return validate
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var problems []string

	var verrs validator.ValidationErrors
	if err := configValidator().Struct(c); errors.As(err, &verrs) {
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	} else if err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// Rules spanning fields that struct tags cannot express.
	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		problems = append(problems, "logging.file.path is required when logging.output is file")
	}
	if c.Door.DedupeWindowSeconds > 0 && c.Door.DedupeCapacity < 1 {
		problems = append(problems, "door.dedupe_capacity must be at least 1 when dedup is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(problems, "; "))
	}
	return nil
}

// describe renders one failure as "<yaml path> <reason>".
func describe(fe validator.FieldError) string {
	_, path, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		if path == "security.jwt.secret" {
			return path + " is required (set GRAYLOGIC_JWT_SECRET)"
		}
		return path + " is required"
	case "required_if":
		return path + " is required when enabled"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", path, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", path, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", path, fe.Param())
	case "pin":
		return path + " must be exactly 4 digits"
	default:
		return fmt.Sprintf("%s failed %s", path, fe.Tag())
	}
}

func isFourDigits(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
