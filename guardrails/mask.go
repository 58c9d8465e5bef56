package guardrails

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// RedactedPlaceholder replaces values that cannot be masked in place.
const RedactedPlaceholder = "[REDACTED]"

// Mask 根据类别对值进行脱敏
// The result is never empty, and for ssn and credit-card never exposes more
// than the last four characters of value.
func Mask(category, value string) string {
	if value == "" {
		return RedactedPlaceholder
	}
	switch category {
	case CategoryEmail:
		// 保留首字符和域名
		at := strings.LastIndex(value, "@")
		if at > 0 {
			_, size := utf8.DecodeRuneInString(value)
			return value[:size] + "***" + value[at:]
		}
		return strings.Repeat("*", utf8.RuneCountInString(value))
	case CategoryPhone:
		return maskDigitsExceptLast(value, 4)
	case CategorySSN:
		return "***-**-" + lastDigits(value, 4)
	case CategoryCreditCard:
		return "**** **** **** " + lastDigits(value, 4)
	case CategoryAPIKey, CategoryAWSAccessKey, CategoryPrivateKey, CategoryJWT,
		CategoryPassword, CategoryGenericSecret:
		return maskSecret(value)
	default:
		return strings.Repeat("*", utf8.RuneCountInString(value))
	}
}

// maskDigitsExceptLast replaces every digit but the last keep with '*',
// leaving separators in place.
func maskDigitsExceptLast(value string, keep int) string {
	total := 0
	for _, r := range value {
		if unicode.IsDigit(r) {
			total++
		}
	}
	var b strings.Builder
	b.Grow(len(value))
	seen := 0
	for _, r := range value {
		if unicode.IsDigit(r) {
			seen++
			if seen <= total-keep {
				b.WriteByte('*')
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// lastDigits returns up to n trailing digits of value.
func lastDigits(value string, n int) string {
	digits := make([]byte, 0, n)
	for i := len(value) - 1; i >= 0 && len(digits) < n; i-- {
		if value[i] >= '0' && value[i] <= '9' {
			digits = append(digits, value[i])
		}
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}

// maskSecret fully masks short values and keeps four characters on each end
// of longer ones.
func maskSecret(value string) string {
	runes := []rune(value)
	if len(runes) <= 8 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:4]) + strings.Repeat("*", len(runes)-8) + string(runes[len(runes)-4:])
}
