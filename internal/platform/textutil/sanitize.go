package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanUserText prepares free-form storefront input (delivery notes, artwork
// titles, gift messages) for storage: Unicode is NFC-normalised so Devanagari
// and Latin text compare consistently, HTML tags are stripped, and surrounding
// whitespace is trimmed.
func CleanUserText(value string) string {
	if value == "" {
		return ""
	}
	normalized := norm.NFC.String(value)
	stripped := strictPolicy.Sanitize(normalized)
	// bluemonday escapes entities for HTML output; these fields are stored
	// and rendered as plain text.
	plain := html.UnescapeString(stripped)
	return strings.TrimSpace(plain)
}

// CleanUserTextMap applies CleanUserText to every value, dropping entries
// whose key or cleaned value ends up empty.
func CleanUserTextMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		cleaned := CleanUserText(value)
		if cleaned == "" {
			continue
		}
		result[trimmedKey] = cleaned
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
