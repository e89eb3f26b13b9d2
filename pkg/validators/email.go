package validators

import (
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"
)

func ValidateEmail(fieldName string, value string) *ValidationResult {
	userFriendlyName := ToUserFriendlyName(fieldName)

	if len(value) == 0 {
		return NewValidationResult(false, fieldName,
			WithValue(value),
			WithMessage(fmt.Sprintf("%s is required", userFriendlyName)),
			WithSuggestedAction("Please provide a valid email address, e.g., 'name@example.com'."),
			WithValidationCode(ValidationCodeRequired),
		)
	}

	if !govalidator.IsEmail(value) {
		return NewValidationResult(false, fieldName,
			WithValue(value),
			WithMessage(fmt.Sprintf("Please enter a valid %s", userFriendlyName)),
			WithSuggestedAction("Please provide a valid email address, e.g., 'name@example.com'."),
			WithValidationCode(ValidationCodeInvalid),
		)
	}

	return NewValidationResult(true, fieldName,
		WithValue(value),
		WithValidationCode(ValidationCodeSuccess),
	)
}

// NormalizeEmail returns the canonical form used to compare addresses:
// lower-cased, with provider-specific aliases (dots and +tags for Gmail)
// removed. Addresses govalidator cannot parse are only trimmed and
// lower-cased.
func NormalizeEmail(value string) string {
	value = strings.TrimSpace(value)
	if normalized, err := govalidator.NormalizeEmail(value); err == nil {
		return normalized
	}
	return strings.ToLower(value)
}
