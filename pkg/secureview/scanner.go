package secureview

import "strings"

// TableReference is a table named in a FROM or JOIN clause.
type TableReference struct {
	Name      string // unquoted identifier
	Qualifier string // schema or database prefix, if any

	// byte span of the name token, quotes included
	start  int
	end    int
	quoted bool
}

// clauseEnd keywords close a FROM list at the current nesting depth.
var clauseEnd = map[string]bool{
	"WHERE": true, "GROUP": true, "ORDER": true, "HAVING": true, "LIMIT": true,
	"UNION": true, "EXCEPT": true, "INTERSECT": true, "ON": true, "USING": true,
	"SELECT": true, "WINDOW": true, "SET": true, "VALUES": true, "FOR": true,
	"OFFSET": true, "FETCH": true, "RETURNING": true, "QUALIFY": true, "INTO": true,
}

// tablePrefix keywords may sit between FROM/JOIN and the table name.
var tablePrefix = map[string]bool{
	"LATERAL": true, "ONLY": true,
}

type scope struct {
	query    bool // a statement body, as opposed to a function argument list
	fromList bool // commas introduce another table
	cte      bool // inside a WITH list; commas introduce another CTE name
}

type scanResult struct {
	refs []TableReference
	// lower-cased WITH names -> offset after which the name is in scope
	ctes map[string]int
}

// isCTE reports whether ref names a common table expression rather than a table.
// A CTE body still sees the base table of the same name.
func (r scanResult) isCTE(ref TableReference) bool {
	if ref.Qualifier != "" {
		return false
	}
	visible, ok := r.ctes[strings.ToLower(ref.Name)]
	return ok && ref.start >= visible
}

// scanTables finds table positions by a tokenizing scan. It tracks parenthesis depth
// so FROM lists inside subqueries and CTE bodies are found, and it never looks inside
// string literals, quoted identifiers or comments.
func scanTables(sql string) scanResult {
	toks := significant(tokenize(sql))
	result := scanResult{ctes: make(map[string]int)}

	scopes := []scope{{query: true}}
	expectTable := false
	expectCTE := false
	pendingCTE := ""
	pendingDepth := 0

	top := func() *scope { return &scopes[len(scopes)-1] }

	for i := 0; i < len(toks); i++ {
		tok := toks[i]

		switch {
		case tok.isPunct("("):
			next := ""
			if i+1 < len(toks) {
				next = toks[i+1].keyword()
			}
			subquery := next == "SELECT" || next == "WITH"
			// Parenthesized join: FROM (a JOIN b ON ...)
			nested := expectTable && !subquery && next != "VALUES"
			scopes = append(scopes, scope{query: subquery || nested, fromList: nested})
			expectTable = nested
			continue

		case tok.isPunct(")"):
			if len(scopes) > 1 {
				closed := scopes[len(scopes)-1]
				scopes = scopes[:len(scopes)-1]
				if pendingCTE != "" && closed.query && len(scopes) == pendingDepth {
					result.ctes[pendingCTE] = tok.end
					pendingCTE = ""
				}
			}
			expectTable = false
			continue

		case tok.isPunct(","):
			if top().cte {
				expectCTE = true
			} else if top().fromList {
				expectTable = true
			}
			continue
		}

		kw := tok.keyword()

		if expectCTE {
			if kw == "RECURSIVE" {
				continue
			}
			if tok.kind == tokWord || tok.kind == tokQuoted {
				pendingCTE = strings.ToLower(tok.ident())
				pendingDepth = len(scopes)
			}
			expectCTE = false
			continue
		}

		// EXTRACT(YEAR FROM d) and friends
		if !top().query && (kw == "FROM" || kw == "JOIN" || kw == "WITH") {
			continue
		}

		switch {
		case kw == "WITH":
			top().cte = true
			expectCTE = true
			continue
		case kw == "FROM":
			top().fromList = true
			top().cte = false
			expectTable = true
			continue
		case kw == "JOIN" || kw == "STRAIGHT_JOIN":
			expectTable = true
			continue
		case clauseEnd[kw]:
			top().fromList = false
			if kw == "SELECT" {
				top().cte = false
			}
			expectTable = false
			continue
		case expectTable && tablePrefix[kw]:
			continue
		}

		if !expectTable || (tok.kind != tokWord && tok.kind != tokQuoted) {
			continue
		}
		expectTable = false

		// Qualified name: a.b.c; the last part is the table
		parts := []token{tok}
		for i+2 < len(toks) && toks[i+1].isPunct(".") &&
			(toks[i+2].kind == tokWord || toks[i+2].kind == tokQuoted) {
			parts = append(parts, toks[i+2])
			i += 2
		}

		// Table-valued function, not a table
		if i+1 < len(toks) && toks[i+1].isPunct("(") {
			continue
		}

		name := parts[len(parts)-1]
		qualifiers := make([]string, 0, len(parts)-1)
		for _, p := range parts[:len(parts)-1] {
			qualifiers = append(qualifiers, p.ident())
		}
		result.refs = append(result.refs, TableReference{
			Name:      name.ident(),
			Qualifier: strings.Join(qualifiers, "."),
			start:     name.start,
			end:       name.end,
			quoted:    name.kind == tokQuoted,
		})
	}

	return result
}

// ExtractTableReferences returns the tables named in FROM and JOIN clauses, in order
// of appearance. Names defined by WITH clauses are left out.
func ExtractTableReferences(sql string) []TableReference {
	scan := scanTables(sql)
	refs := make([]TableReference, 0, len(scan.refs))
	for _, ref := range scan.refs {
		if scan.isCTE(ref) {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// TableNames returns the distinct names of refs in order of first appearance.
func TableNames(refs []TableReference) []string {
	seen := make(map[string]bool, len(refs))
	var names []string
	for _, ref := range refs {
		key := strings.ToLower(ref.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, ref.Name)
	}
	return names
}
