// Package sql provides SQL validation, static reference checks and AST-based repairs
// for generated statements.
package sql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/apperrors"
)

var (
	// ErrEmptyStatement indicates the drafted SQL was blank after cleaning.
	ErrEmptyStatement = errors.New("empty SQL statement")

	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// Normalize trims whitespace, strips one trailing semicolon and rejects input that still
// holds a statement separator outside literals, quoted identifiers and comments.
func Normalize(sqlQuery string) (string, error) {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return "", ErrEmptyStatement
	}

	normalized := strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(normalized, ";") {
		normalized = strings.TrimRight(strings.TrimSuffix(normalized, ";"), " \t\n\r")
	}
	if normalized == "" {
		return "", ErrEmptyStatement
	}

	if separatorIndex(normalized) >= 0 {
		return "", ErrMultipleStatements
	}
	return normalized, nil
}

// RequireReadOnly rejects anything but a SELECT (optionally introduced by WITH).
func RequireReadOnly(sqlQuery string) error {
	first := strings.ToUpper(firstWord(sqlQuery))
	switch first {
	case "SELECT", "WITH":
		return nil
	case "":
		return ErrEmptyStatement
	default:
		return fmt.Errorf("%w: %s statements are not allowed", apperrors.ErrUnsupportedStatement, first)
	}
}

// separatorIndex returns the byte offset of the first ';' outside string literals,
// quoted identifiers and comments, or -1. The body of an executable comment is code.
func separatorIndex(sqlQuery string) int {
	n := len(sqlQuery)
	executable := false
	for i := 0; i < n; i++ {
		switch c := sqlQuery[i]; {
		case c == ';':
			return i
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(sqlQuery, i, c)
		case c == '-' && i+1 < n && sqlQuery[i+1] == '-', c == '#':
			for i < n && sqlQuery[i] != '\n' {
				i++
			}
		case executable && c == '*' && i+1 < n && sqlQuery[i+1] == '/':
			executable = false
			i++
		case c == '/' && i+1 < n && sqlQuery[i+1] == '*':
			if body, ok := executableCommentBody(sqlQuery, i); ok {
				executable = true
				i = body - 1
				continue
			}
			end := strings.Index(sqlQuery[i+2:], "*/")
			if end < 0 {
				return -1
			}
			i += 2 + end + 1
		}
	}
	return -1
}

// executableCommentBody returns the offset where the body of a MySQL executable
// comment (/*! ... */, /*!50000 ... */, /*M! ... */) starting at i begins.
func executableCommentBody(sqlQuery string, i int) (int, bool) {
	rest := sqlQuery[i:]
	var j int
	switch {
	case strings.HasPrefix(rest, "/*!"):
		j = i + 3
	case strings.HasPrefix(rest, "/*M!"):
		j = i + 4
	default:
		return 0, false
	}
	for j < len(sqlQuery) && sqlQuery[j] >= '0' && sqlQuery[j] <= '9' {
		j++
	}
	return j, true
}

// HasExecutableComment reports whether sqlQuery holds a MySQL executable comment
// outside string literals and quoted identifiers. MySQL runs such a comment's body.
func HasExecutableComment(sqlQuery string) bool {
	n := len(sqlQuery)
	for i := 0; i < n; i++ {
		switch c := sqlQuery[i]; {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(sqlQuery, i, c)
		case c == '-' && i+1 < n && sqlQuery[i+1] == '-', c == '#':
			for i < n && sqlQuery[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && sqlQuery[i+1] == '*':
			if _, ok := executableCommentBody(sqlQuery, i); ok {
				return true
			}
			end := strings.Index(sqlQuery[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += 2 + end + 1
		}
	}
	return false
}

// skipQuoted returns the index of the closing quote of the literal starting at i.
// Doubled quotes and backslash escapes stay inside the literal.
func skipQuoted(sqlQuery string, i int, quote byte) int {
	n := len(sqlQuery)
	for i++; i < n; i++ {
		switch sqlQuery[i] {
		case '\\':
			if quote != '`' {
				i++
			}
		case quote:
			if i+1 < n && sqlQuery[i+1] == quote {
				i++
				continue
			}
			return i
		}
	}
	return n
}

// firstWord returns the first keyword of the statement, skipping comments and
// opening parentheses. An executable comment's body counts as statement text.
func firstWord(sqlQuery string) string {
	s := sqlQuery
	for {
		s = strings.TrimLeft(s, " \t\n\r(")
		switch {
		case strings.HasPrefix(s, "--"), strings.HasPrefix(s, "#"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return ""
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*!"), strings.HasPrefix(s, "/*M!"):
			body, _ := executableCommentBody(s, 0)
			s = s[body:]
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s, "*/")
			if idx < 0 {
				return ""
			}
			s = s[idx+2:]
		default:
			end := strings.IndexFunc(s, func(r rune) bool {
				return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
			})
			if end < 0 {
				return s
			}
			return s[:end]
		}
	}
}
