package repositories

import "strings"

// nonNil turns a nil slice into an empty one so NOT NULL array columns accept it.
func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
