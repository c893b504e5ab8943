package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect describes the differences between supported SQL databases.
type Dialect struct {
	// Name identifies the dialect in logs.
	Name string

	// Schema is executed once when the repository is opened.
	// It must be idempotent.
	Schema string

	// Numbered placeholders ($1, $2, ...) instead of ?.
	Numbered bool
}

// rebind rewrites ? placeholders for dialects with numbered placeholders.
func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
