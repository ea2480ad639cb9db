package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// Text trims surrounding whitespace. Names are stored verbatim otherwise.
func Text(input string) string {
	return strings.TrimSpace(input)
}

// HasMarkup reports whether input carries HTML that a strict policy strips.
// Plain text with entities such as "&" passes.
func HasMarkup(input string) bool {
	value := strings.TrimSpace(input)
	if value == "" {
		return false
	}
	cleaned := html.UnescapeString(getStrictPolicy().Sanitize(value))
	return cleaned != value
}

// Fields trims each value and returns the names of fields that carry markup.
func Fields(values map[string]*string) []string {
	var offending []string
	for name, ptr := range values {
		if ptr == nil {
			continue
		}
		*ptr = Text(*ptr)
		if HasMarkup(*ptr) {
			offending = append(offending, name)
		}
	}
	return offending
}

func getStrictPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}
