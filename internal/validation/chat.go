package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxChatNameLength mirrors the chats.name column width.
const MaxChatNameLength = 100

// ValidateChatName checks a group chat name. The name is trimmed first.
func ValidateChatName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("chat name is required")
	}
	if utf8.RuneCountInString(name) > MaxChatNameLength {
		return fmt.Errorf("chat name must not exceed %d characters", MaxChatNameLength)
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return fmt.Errorf("chat name cannot contain control characters")
	}
	return nil
}
