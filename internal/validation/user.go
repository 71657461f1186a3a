package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxEmailLength = 254
	maxNameLength  = 50
	maxAge         = 150
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9\-]+(\.[a-zA-Z0-9\-]+)*\.[a-zA-Z]{2,}$`)

// ValidateEmail checks basic email format.
func ValidateEmail(email string) error {
	if len(email) > maxEmailLength {
		return fmt.Errorf("email must not exceed %d characters", maxEmailLength)
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateName checks a first or last name. field names the input in the
// returned message.
func ValidateName(field, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%s is required", field)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%s must not exceed %d characters", field, maxNameLength)
	}
	for _, r := range name {
		if unicode.IsLetter(r) || r == ' ' || r == '-' || r == '\'' {
			continue
		}
		return fmt.Errorf("%s can only contain letters, spaces, hyphens, and apostrophes", field)
	}
	return nil
}

// ValidateAge accepts zero (not provided) or a plausible age.
func ValidateAge(age int) error {
	if age < 0 || age > maxAge {
		return fmt.Errorf("age must be between 0 and %d", maxAge)
	}
	return nil
}

// ValidateSex accepts "M", "F" or empty.
func ValidateSex(sex string) error {
	switch sex {
	case "", "M", "F":
		return nil
	}
	return fmt.Errorf("sex must be M or F")
}
