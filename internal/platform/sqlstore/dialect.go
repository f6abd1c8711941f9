package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between SQL backends.
type Dialect struct {
	// Name is the driver name used with sql.Open.
	Name string
	// Numbered rewrites '?' placeholders as $1, $2, ...
	Numbered bool
	// LockClause is appended to the row read inside Update, e.g. "FOR UPDATE".
	LockClause string
	// MapError translates driver errors into store errors.
	MapError func(error) error
}

// Rebind rewrites a query written with '?' placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d Dialect) mapError(err error) error {
	if err == nil || d.MapError == nil {
		return err
	}
	return d.MapError(err)
}
