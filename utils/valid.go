// utils/validation.go
package utils

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	scriptRegex   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
)

// SanitizeInput strips control characters and script tags from free text
func SanitizeInput(input string) string {
	// Trim spaces
	input = strings.TrimSpace(input)

	// Remove control characters but keep line breaks in notes
	input = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, input)

	// Remove any potential script tags
	return scriptRegex.ReplaceAllString(input, "")
}

// NormalizeCurrency upper-cases a currency code and reports whether it is ISO-4217 shaped
func NormalizeCurrency(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code, currencyRegex.MatchString(code)
}
