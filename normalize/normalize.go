// Package normalize canonicalises fetched text before it is formatted,
// stored or compared.
package normalize

import "strings"

// Text replaces CRLF line endings with LF and trims leading and trailing
// whitespace. It is total and idempotent.
func Text(s string) string {
	// "\r\r\n" turns into a fresh "\r\n" after one pass.
	for strings.Contains(s, "\r\n") {
		s = strings.ReplaceAll(s, "\r\n", "\n")
	}
	return strings.TrimSpace(s)
}

// Equal reports whether a and b are identical once normalised.
func Equal(a, b string) bool {
	return Text(a) == Text(b)
}
