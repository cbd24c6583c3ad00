/**
 * @description
 * Alias type inference and normalization for recipient addressing. Aliases are
 * normalized before lookup so that equivalent spellings of the same alias
 * resolve identically; normalization is idempotent.
 */

package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/interpay/transfer-service/internal/domain"
)

var ErrAliasTypeUnknown = errors.New("alias type could not be inferred; specify it explicitly")

// ParseAliasType validates an explicitly supplied alias type string.
func ParseAliasType(raw string) (domain.AliasType, error) {
	switch domain.AliasType(strings.ToUpper(strings.TrimSpace(raw))) {
	case domain.AliasTypeEmail:
		return domain.AliasTypeEmail, nil
	case domain.AliasTypePhone:
		return domain.AliasTypePhone, nil
	case domain.AliasTypeUsername:
		return domain.AliasTypeUsername, nil
	case domain.AliasTypeRandomKey:
		return domain.AliasTypeRandomKey, nil
	}
	return "", fmt.Errorf("unknown alias type %q", raw)
}

// InferAliasType guesses the alias type from its format:
// contains '@' and '.' means email; a leading '@' means username; 10-15 digits
// after stripping non-digits means phone; 8 alphanumeric characters means a
// random key.
func InferAliasType(alias string) (domain.AliasType, error) {
	trimmed := strings.TrimSpace(alias)
	if trimmed == "" {
		return "", ErrAliasTypeUnknown
	}

	if strings.Contains(trimmed, "@") && strings.Contains(trimmed, ".") {
		return domain.AliasTypeEmail, nil
	}
	if strings.HasPrefix(trimmed, "@") {
		return domain.AliasTypeUsername, nil
	}
	if digits := stripNonDigits(trimmed); len(digits) >= 10 && len(digits) <= 15 && isDigitsWithSeparators(trimmed) {
		return domain.AliasTypePhone, nil
	}
	if len(trimmed) == 8 && isAlphanumeric(trimmed) {
		return domain.AliasTypeRandomKey, nil
	}
	return "", ErrAliasTypeUnknown
}

// NormalizeAlias canonicalizes an alias value per its type. Applying it twice
// yields the same result.
func NormalizeAlias(aliasType domain.AliasType, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("alias value is empty")
	}

	switch aliasType {
	case domain.AliasTypeEmail:
		return strings.ToLower(trimmed), nil
	case domain.AliasTypePhone:
		return normalizePhone(trimmed), nil
	case domain.AliasTypeUsername:
		lowered := strings.ToLower(trimmed)
		if !strings.HasPrefix(lowered, "@") {
			lowered = "@" + lowered
		}
		return lowered, nil
	case domain.AliasTypeRandomKey:
		return strings.ToUpper(trimmed), nil
	}
	return "", fmt.Errorf("unknown alias type %q", aliasType)
}

// normalizePhone produces an E.164-ish form with a North-American default:
// 11 digits starting with "1" get a "+" prefix; 10 digits get "+1"; anything
// else keeps its digits behind a "+".
func normalizePhone(value string) string {
	digits := stripNonDigits(value)
	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits
	case len(digits) == 10:
		return "+1" + digits
	default:
		return "+" + digits
	}
}

func stripNonDigits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isDigitsWithSeparators reports whether the value contains only digits and
// common phone punctuation, so that words with embedded numbers are not
// mistaken for phone numbers.
func isDigitsWithSeparators(value string) bool {
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' || r == '-' || r == '(' || r == ')' || r == ' ' || r == '.':
		default:
			return false
		}
	}
	return true
}

func isAlphanumeric(value string) bool {
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
