// Package sqlutil provides SQL utility functions for pgfreeze.
package sqlutil

import (
	"regexp"
	"strings"
)

// QuoteIdentifier quotes a PostgreSQL identifier (table name, schema name) with
// double quotes. It escapes any embedded double quotes by doubling them.
// Example: "my_table" -> "\"my_table\""
// Example: `My"Table` -> `"My""Table"`
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteQualified quotes a possibly schema-qualified relation name so it is safe
// to embed in a VACUUM statement. "public.orders" becomes `"public"."orders"`,
// a bare "orders" becomes `"orders"`. Names produced by ::regclass come back
// pre-quoted when they contain special characters; those are split on dots
// outside quotes and re-quoted uniformly.
func QuoteQualified(name string) string {
	parts := splitQualified(name)
	for i, p := range parts {
		parts[i] = QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// splitQualified splits schema.relation on dots that are not inside a quoted
// segment, stripping any quoting the server already applied.
func splitQualified(name string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false

	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '"':
			if inQuote && i+1 < len(name) && name[i+1] == '"' {
				cur.WriteByte('"')
				i++
				continue
			}
			inQuote = !inQuote
		case c == '.' && !inQuote:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// BareRelation returns the relation part of a possibly schema-qualified name,
// without quoting. "public.orders" -> "orders".
func BareRelation(name string) string {
	parts := splitQualified(name)
	return parts[len(parts)-1]
}

// validIdentifierRegex matches conservative PostgreSQL identifier characters.
// Identifiers may legally contain more, but names arriving from user input
// (database lists, exclusion rules) are restricted to this set as a
// defense-in-depth measure against injection.
var validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_$]*$`)

// IsValidIdentifier checks if a name is an acceptable identifier for values
// that get embedded in connection strings.
func IsValidIdentifier(name string) bool {
	return validIdentifierRegex.MatchString(name)
}

// InvalidIdentifierError is returned when an identifier contains invalid characters.
type InvalidIdentifierError struct {
	Name string
}

func (e *InvalidIdentifierError) Error() string {
	return "invalid identifier: " + e.Name + " (must start with a letter or underscore and contain only alphanumerics, underscores, or $)"
}

// ValidateIdentifier returns an error if the identifier contains invalid characters.
func ValidateIdentifier(name string) error {
	if !IsValidIdentifier(name) {
		return &InvalidIdentifierError{Name: name}
	}
	return nil
}
