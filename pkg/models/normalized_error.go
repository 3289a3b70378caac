package models

import "strconv"

// ErrorKind is the semantic category of a database or validation error.
type ErrorKind string

const (
	ErrorKindUnknownColumn     ErrorKind = "unknown_column"
	ErrorKindUnknownTable      ErrorKind = "unknown_table"
	ErrorKindAmbiguousColumn   ErrorKind = "ambiguous_column"
	ErrorKindDuplicateAlias    ErrorKind = "duplicate_alias"
	ErrorKindMissingJoin       ErrorKind = "missing_join"
	ErrorKindInvalidJoinColumn ErrorKind = "invalid_join_column"
	ErrorKindGroupByViolation  ErrorKind = "group_by_violation"
	ErrorKindSyntaxError       ErrorKind = "syntax_error"
	ErrorKindOther             ErrorKind = "other"
)

// ErrorKinds lists every kind in a stable order.
var ErrorKinds = []ErrorKind{
	ErrorKindUnknownColumn,
	ErrorKindUnknownTable,
	ErrorKindAmbiguousColumn,
	ErrorKindDuplicateAlias,
	ErrorKindMissingJoin,
	ErrorKindInvalidJoinColumn,
	ErrorKindGroupByViolation,
	ErrorKindSyntaxError,
	ErrorKindOther,
}

// Detail keys extracted from raw error messages.
const (
	DetailExpressionIndex = "expression_index"
	DetailExpression      = "expression"
	DetailColumn          = "column"
	DetailQualifier       = "qualifier"
	DetailTable           = "table"
)

// NormalizedError is a database error reduced to a kind plus structured detail.
type NormalizedError struct {
	Kind       ErrorKind         `json:"kind"`
	RawMessage string            `json:"raw_message"`
	Details    map[string]string `json:"details,omitempty"`
}

// Detail returns the detail value for key, or "" if absent.
func (e NormalizedError) Detail(key string) string {
	if e.Details == nil {
		return ""
	}
	return e.Details[key]
}

// ExpressionIndex returns the 1-based SELECT expression index, if one was extracted.
func (e NormalizedError) ExpressionIndex() (int, bool) {
	raw := e.Detail(DetailExpressionIndex)
	if raw == "" {
		return 0, false
	}
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 1 {
		return 0, false
	}
	return idx, true
}
