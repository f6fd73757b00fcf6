package dispatch

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL rejects an empty string or a scheme other than http/https.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return NewValidationError("url must not be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return NewValidationError(fmt.Sprintf("url is not parseable: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return NewValidationError("url scheme must be http or https")
	}
	return nil
}

// ValidateURLList rejects an empty list, or any element failing ValidateURL.
func ValidateURLList(urls []string) error {
	if len(urls) == 0 {
		return NewValidationError("url list must not be empty")
	}
	for _, u := range urls {
		if err := ValidateURL(u); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePositiveInt rejects n <= 0, naming the field in the error.
func ValidatePositiveInt(n int, field string) error {
	if n <= 0 {
		return NewValidationError(fmt.Sprintf("%s must be a positive integer", field))
	}
	return nil
}

// ValidateNonEmptyString rejects an empty or whitespace-only string, naming
// the field in the error.
func ValidateNonEmptyString(s, field string) error {
	if strings.TrimSpace(s) == "" {
		return NewValidationError(fmt.Sprintf("%s must not be empty", field))
	}
	return nil
}
