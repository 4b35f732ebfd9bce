package store

import "strings"

// splitQualifiedIdentifier splits a possibly schema-qualified identifier
// ("main.orders", `"my.schema"."t"`) into its unquoted parts.
func splitQualifiedIdentifier(ident string) []string {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return nil
	}
	var parts []string
	var buf strings.Builder
	inQuotes := false
	runes := []rune(ident)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				buf.WriteRune('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case '.':
			if inQuotes {
				buf.WriteRune(r)
				continue
			}
			parts = append(parts, strings.TrimSpace(buf.String()))
			buf.Reset()
		default:
			buf.WriteRune(r)
		}
	}
	return append(parts, strings.TrimSpace(buf.String()))
}

// quoteQualifiedIdentifier renders identifier parts as a SQL identifier.
func quoteQualifiedIdentifier(parts []string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = quoteIdentifier(p)
	}
	return strings.Join(quoted, ".")
}

func quoteIdentifier(part string) string {
	return `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
}
