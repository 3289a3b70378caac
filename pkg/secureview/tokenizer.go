package secureview

import "strings"

type tokenKind int

const (
	tokWord    tokenKind = iota // bare identifier, keyword or number
	tokQuoted                   // `name`, "name" or [name]
	tokString                   // 'literal'
	tokPunct                    // single punctuation byte
	tokSpace                    // whitespace run
	tokComment                  // -- line, # line or /* block */
)

// executableCommentBody returns the offset where the body of a MySQL executable
// comment (/*! ... */, /*!50000 ... */, /*M! ... */) starting at i begins.
// MySQL runs that body as SQL, so it is scanned as code.
func executableCommentBody(sql string, i int) (int, bool) {
	rest := sql[i:]
	var j int
	switch {
	case strings.HasPrefix(rest, "/*!"):
		j = i + 3
	case strings.HasPrefix(rest, "/*M!"):
		j = i + 4
	default:
		return 0, false
	}
	for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
		j++
	}
	return j, true
}

type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

// ident returns the identifier text with quoting removed.
func (t token) ident() string {
	if t.kind == tokQuoted && len(t.text) >= 2 {
		return t.text[1 : len(t.text)-1]
	}
	return t.text
}

func (t token) isPunct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

func (t token) keyword() string {
	if t.kind != tokWord {
		return ""
	}
	return strings.ToUpper(t.text)
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c >= 0x80
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// tokenize splits sql into tokens covering every byte of the input.
// Unterminated literals and comments run to the end of the input. The markers of an
// executable comment are comment tokens; its body is tokenized like any other SQL.
func tokenize(sql string) []token {
	var tokens []token
	i := 0
	n := len(sql)
	executable := false

	emit := func(kind tokenKind, start, end int) {
		tokens = append(tokens, token{kind: kind, text: sql[start:end], start: start, end: end})
	}

	for i < n {
		c := sql[i]
		start := i

		switch {
		case isSpaceByte(c):
			for i < n && isSpaceByte(sql[i]) {
				i++
			}
			emit(tokSpace, start, i)

		case c == '-' && i+1 < n && sql[i+1] == '-', c == '#':
			for i < n && sql[i] != '\n' {
				i++
			}
			emit(tokComment, start, i)

		case executable && c == '*' && i+1 < n && sql[i+1] == '/':
			i += 2
			executable = false
			emit(tokComment, start, i)

		case c == '/' && i+1 < n && sql[i+1] == '*':
			if body, ok := executableCommentBody(sql, i); ok {
				i = body
				executable = true
				emit(tokComment, start, i)
				continue
			}
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = n
			} else {
				i = i + 2 + end + 2
			}
			emit(tokComment, start, i)

		case c == '\'':
			i = scanQuoted(sql, i, '\'', true)
			emit(tokString, start, i)

		case c == '`' || c == '"':
			i = scanQuoted(sql, i, c, false)
			emit(tokQuoted, start, i)

		case c == '[':
			end := strings.IndexByte(sql[i+1:], ']')
			if end < 0 {
				i = n
			} else {
				i = i + 1 + end + 1
			}
			emit(tokQuoted, start, i)

		case isWordByte(c):
			for i < n && isWordByte(sql[i]) {
				i++
			}
			emit(tokWord, start, i)

		default:
			i++
			emit(tokPunct, start, i)
		}
	}

	return tokens
}

// scanQuoted returns the index just past the closing quote. A doubled quote is an
// escaped quote; backslash escapes apply inside string literals only.
func scanQuoted(sql string, i int, quote byte, backslash bool) int {
	n := len(sql)
	i++ // opening quote
	for i < n {
		switch {
		case backslash && sql[i] == '\\':
			i += 2
		case sql[i] == quote:
			if i+1 < n && sql[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		default:
			i++
		}
	}
	return n
}

// significant drops whitespace and comments.
func significant(tokens []token) []token {
	result := make([]token, 0, len(tokens))
	for _, t := range tokens {
		if t.kind == tokSpace || t.kind == tokComment {
			continue
		}
		result = append(result, t)
	}
	return result
}
