package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var eventValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateEvent checks the struct constraints on an inbound event and returns
// an *AppError describing the first violation.
func ValidateEvent(e Event) error {
	if err := eventValidator.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return NewAppError(ErrCodeInternalUnexpected, "event validation failed", err)
		}
		fe := verrs[0]
		field := lowerFirst(fe.Field())
		if fe.Tag() == "oneof" {
			return NewAppErrorWithDetails(ErrCodeValidationInvalidPriority,
				fmt.Sprintf("%s must be one of LOW, MEDIUM, HIGH, CRITICAL", field), err,
				map[string]any{"field": field, "value": fmt.Sprint(fe.Value())})
		}
		return NewAppErrorWithDetails(ErrCodeValidationMissingField,
			fmt.Sprintf("%s is required", field), err,
			map[string]any{"field": field})
	}
	if strings.TrimSpace(e.EventType) == "" {
		return NewAppErrorWithDetails(ErrCodeValidationMissingField, "eventType is required", nil,
			map[string]any{"field": "eventType"})
	}
	if strings.TrimSpace(e.Recipient) == "" {
		return NewAppErrorWithDetails(ErrCodeValidationMissingField, "recipient is required", nil,
			map[string]any{"field": "recipient"})
	}
	return nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
