package salesforce

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultOrderBy = "CreatedDate ASC, Id ASC"

	// DefaultInChunkSize is the number of values sent in a single IN clause.
	DefaultInChunkSize = 100
)

// Operator is a SOQL comparison operator.
type Operator string

const (
	// OpEquals matches a single value.
	OpEquals Operator = "="

	// OpIn matches any of a list of values.
	OpIn Operator = "IN"

	// OpNotEquals excludes a single value.
	OpNotEquals Operator = "!="
)

// Condition is a single WHERE clause term. Conditions are joined with AND.
type Condition struct {
	// Field is the field being compared.
	Field string

	// Literal, when set, is rendered unquoted (e.g. true, null).
	Literal string

	// Op is the comparison operator.
	Op Operator

	// Values are the compared values, quoted as strings.
	Values []string
}

// QueryRequest describes a SOQL query.
type QueryRequest struct {
	// Fields is the field projection. Id is always included.
	Fields []string

	// Limit caps the number of records returned. Zero means no limit.
	Limit int

	// Object is the object family being queried (e.g. Account).
	Object string

	// OrderBy overrides the default creation-order sort.
	OrderBy string

	// Since restricts results to records modified after the given time.
	Since *time.Time

	// Where holds additional filter conditions.
	Where []Condition
}

// Eq returns an equality condition.
func Eq(field string, value string) Condition {
	return Condition{Field: field, Op: OpEquals, Values: []string{value}}
}

// EqLiteral returns an equality condition against an unquoted literal.
func EqLiteral(field string, literal string) Condition {
	return Condition{Field: field, Op: OpEquals, Literal: literal}
}

// In returns an IN condition. Callers must keep values within the API list limit; see ChunkIn.
func In(field string, values []string) Condition {
	return Condition{Field: field, Op: OpIn, Values: values}
}

// ChunkIn splits values into chunks of at most size entries, preserving order.
func ChunkIn(values []string, size int) [][]string {
	if size <= 0 {
		size = DefaultInChunkSize
	}

	chunks := make([][]string, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := min(start+size, len(values))
		chunks = append(chunks, values[start:end])
	}

	return chunks
}

// SOQL renders the request as a SOQL statement.
func (q QueryRequest) SOQL() (string, error) {
	if q.Object == "" {
		return "", errors.New("object is required")
	}

	fields := []string{FieldID}
	for _, f := range q.Fields {
		if f != "" && f != FieldID {
			fields = append(fields, f)
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(fields, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(q.Object)

	clauses := make([]string, 0, len(q.Where)+1)
	for _, c := range q.Where {
		clause, err := c.render()
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	if q.Since != nil && !q.Since.IsZero() {
		clauses = append(clauses, fmt.Sprintf("%s > %s", FieldLastModifiedDate, q.Since.UTC().Format(time.RFC3339)))
	}
	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = defaultOrderBy
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(orderBy)

	if q.Limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(q.Limit))
	}

	return sb.String(), nil
}

// render renders a single condition.
func (c Condition) render() (string, error) {
	if c.Field == "" {
		return "", errors.New("condition field is required")
	}

	if c.Literal != "" {
		return fmt.Sprintf("%s %s %s", c.Field, c.Op, c.Literal), nil
	}

	switch c.Op {
	case OpIn:
		if len(c.Values) == 0 {
			return "", fmt.Errorf("IN condition on %s has no values", c.Field)
		}
		quoted := make([]string, len(c.Values))
		for i, v := range c.Values {
			quoted[i] = quote(v)
		}
		return fmt.Sprintf("%s IN (%s)", c.Field, strings.Join(quoted, ", ")), nil
	case OpEquals, OpNotEquals:
		if len(c.Values) != 1 {
			return "", fmt.Errorf("%s condition on %s needs exactly one value", c.Op, c.Field)
		}
		return fmt.Sprintf("%s %s %s", c.Field, c.Op, quote(c.Values[0])), nil
	default:
		return "", fmt.Errorf("unsupported operator %q", c.Op)
	}
}

// quote renders a SOQL string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
