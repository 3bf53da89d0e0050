package quickbooks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// MaxResultsLimit is the largest page the query endpoint returns.
const MaxResultsLimit = 1000

var identifier = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*(\.[A-Za-z][A-Za-z0-9]*)*$`)

// BuildQuery renders q in the API's query language.
func BuildQuery(q domain.Query) (string, error) {
	if !identifier.MatchString(q.Entity) {
		return "", fmt.Errorf("%w: entity %q", domain.ErrInvalidInput, q.Entity)
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(q.Entity)

	for i, c := range q.Where {
		if !identifier.MatchString(c.Field) {
			return "", fmt.Errorf("%w: field %q", domain.ErrInvalidInput, c.Field)
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(c.Field)
		b.WriteString(" = ")
		b.WriteString(literal(c.Value))
	}

	max := q.MaxResults
	if max <= 0 || max > MaxResultsLimit {
		max = MaxResultsLimit
	}
	b.WriteString(" MAXRESULTS ")
	b.WriteString(strconv.Itoa(max))
	return b.String(), nil
}

// literal quotes strings and leaves booleans and numbers bare.
func literal(v any) string {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return quote(fmt.Sprint(v))
	}
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
