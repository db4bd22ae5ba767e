// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"regexp"
	"strings"
)

// Backslashes are always escaped before the quote character, otherwise the
// backslash added in front of a quote would be escaped again.
var (
	doubleQuoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	backtickEscaper    = strings.NewReplacer(`\`, `\\`, "`", "\\`")
)

// EscapeDoubleQuoted escapes a value to be placed between double quotes in a
// filter expression (Meilisearch, Algolia).
func EscapeDoubleQuoted(s string) string {
	return doubleQuoteEscaper.Replace(s)
}

// QuoteDouble escapes and wraps a value in double quotes.
func QuoteDouble(s string) string {
	return `"` + EscapeDoubleQuoted(s) + `"`
}

// EscapeBacktick escapes a value to be placed between backticks in a filter
// expression (Typesense).
func EscapeBacktick(s string) string {
	return backtickEscaper.Replace(s)
}

// QuoteBacktick escapes and wraps a value in backticks.
func QuoteBacktick(s string) string {
	return "`" + EscapeBacktick(s) + "`"
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)

// ValidateFieldName rejects field names that cannot be written unquoted into
// a native filter, sort or facet expression.
func ValidateFieldName(name string) error {
	if !fieldNamePattern.MatchString(name) {
		return NewValidationError("invalid field name %q", name)
	}
	return nil
}
