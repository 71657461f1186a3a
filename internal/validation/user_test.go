package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	t.Parallel()
	// 254 chars total: 64 local + @ + 185 domain label + ".com" (4)
	emailAt254 := strings.Repeat("a", 64) + "@" + strings.Repeat("b", 185) + ".com"
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"Valid", "test@example.com", false},
		{"Subdomain", "first.last+tag@mail.example.co", false},
		{"Exactly 254 Characters", emailAt254, false},
		{"Too Long", "a" + emailAt254, true},
		{"Invalid Format", "not-an-email", true},
		{"Missing Domain", "user@", true},
		{"Multiple At Symbols", "user@@example.com", true},
		{"Space In Local Part", "user @example.com", true},
		{"Trailing Dot In Domain", "user@example.com.", true},
		{"Double Dot In Domain", "user@example..com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Valid", "Ada", false},
		{"Hyphen And Apostrophe", "O'Neil-Smith", false},
		{"Unicode Letters", "Zoë", false},
		{"Blank", "   ", true},
		{"Digits", "R2D2", true},
		{"Too Long", strings.Repeat("a", 51), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName("first name", tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAgeAndSex(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateAge(0))
	assert.NoError(t, ValidateAge(42))
	assert.Error(t, ValidateAge(-1))
	assert.Error(t, ValidateAge(151))

	assert.NoError(t, ValidateSex(""))
	assert.NoError(t, ValidateSex("F"))
	assert.Error(t, ValidateSex("x"))
}
