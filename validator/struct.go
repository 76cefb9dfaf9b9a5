package validator

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// errorMessages is a nested map of languages to validation tags to custom error messages.
var errorMessages = map[string]map[string]string{
	"en": {
		"required": "The field '%s' is required.",
		"url":      "The field '%s' must be a valid URL.",
		"http_url": "The field '%s' must be a valid http(s) URL.",
		"min":      "The field '%s' must be at least %s.",
		"max":      "The field '%s' must be at most %s.",
		"lte":      "The field '%s' must be less than or equal to %s.",
		"gte":      "The field '%s' must be greater than or equal to %s.",
		"gt":       "The field '%s' must be greater than %s.",
		"oneof":    "The field '%s' must be one of [%s].",
		"excludes": "The field '%s' must not contain '%s'.",
	},
	"zh": {
		"required": "字段 '%s' 为必填项。",
		"url":      "字段 '%s' 必须是有效的 URL。",
		"http_url": "字段 '%s' 必须是有效的 http(s) URL。",
		"min":      "字段 '%s' 不能小于 %s。",
		"max":      "字段 '%s' 不能大于 %s。",
		"lte":      "字段 '%s' 的值必须小于或等于 %s。",
		"gte":      "字段 '%s' 的值必须大于或等于 %s。",
		"gt":       "字段 '%s' 的值必须大于 %s。",
		"oneof":    "字段 '%s' 的值必须是 [%s] 之一。",
		"excludes": "字段 '%s' 不能包含 '%s'。",
	},
}

// parseMessage constructs a friendly error message based on the validation tag and custom messages.
func parseMessage(jsonTag string, e validator.FieldError, lang ...string) string {
	msgLang := "en"
	if len(lang) > 0 {
		msgLang = lang[0]
	}
	if msgs, exists := errorMessages[msgLang]; exists {
		if msg, exists := msgs[e.Tag()]; exists {
			switch strings.Count(msg, "%s") {
			case 1:
				return fmt.Sprintf(msg, jsonTag)
			case 2:
				return fmt.Sprintf(msg, jsonTag, e.Param())
			}
		}
	}
	// Default error message if no custom message is defined for the tag or language.
	return fmt.Sprintf("Field '%s' is invalid: %s", jsonTag, e.Tag())
}

// ValidateStruct validates a struct and returns a map of JSON field names to friendly error messages.
func ValidateStruct(s any, lang ...string) map[string]string {
	validationErrors := make(map[string]string)

	err := validate.Struct(s)
	if err == nil {
		return validationErrors
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		validationErrors[""] = err.Error()
		return validationErrors
	}

	structType := reflect.TypeOf(s)
	if structType.Kind() == reflect.Pointer {
		structType = structType.Elem()
	}
	for _, e := range validationErrs {
		jsonTag := e.StructField()
		if field, ok := structType.FieldByName(e.StructField()); ok {
			if tag := field.Tag.Get("json"); tag != "" && tag != "-" {
				jsonTag = strings.Split(tag, ",")[0]
			}
		}
		validationErrors[jsonTag] = parseMessage(jsonTag, e, lang...)
	}

	return validationErrors
}

// Validate validates s and folds the field messages into one error, ordered by field.
func Validate(s any) error {
	msgs := ValidateStruct(s)
	if len(msgs) == 0 {
		return nil
	}

	fields := make([]string, 0, len(msgs))
	for f := range msgs {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, msgs[f])
	}
	return errors.New(strings.Join(parts, " "))
}
