package correction

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// maxSuggestDistance is the largest edit distance still offered as a "did you mean".
const maxSuggestDistance = 2

// Unit-cost substitutions, so a swapped pair of letters costs 2.
var editOptions = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// Suggest returns the names in candidates that look like a misspelling of name, closest
// first. Singular/plural variants count as exact matches.
func Suggest(name string, candidates []string, limit int) []string {
	target := strings.ToLower(strings.TrimSpace(name))
	if target == "" {
		return nil
	}

	type scored struct {
		name     string
		distance int
	}
	var found []scored
	seen := make(map[string]bool)
	for _, c := range candidates {
		key := strings.ToLower(c)
		if key == target || seen[key] {
			continue
		}
		seen[key] = true

		var distance int
		if inflection.Singular(key) == inflection.Singular(target) {
			distance = 0
		} else {
			distance = levenshtein.DistanceForStrings([]rune(target), []rune(key), editOptions)
		}
		if distance <= maxSuggestDistance {
			found = append(found, scored{name: c, distance: distance})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].distance != found[j].distance {
			return found[i].distance < found[j].distance
		}
		return found[i].name < found[j].name
	})

	var names []string
	for _, s := range found {
		if limit > 0 && len(names) == limit {
			break
		}
		names = append(names, s.name)
	}
	return names
}

// hint renders a suggestion line for a prompt, or "" when there is nothing to suggest.
func hint(what, name string, suggestions []string) string {
	if len(suggestions) == 0 {
		return ""
	}
	quoted := make([]string, len(suggestions))
	for i, s := range suggestions {
		quoted[i] = "'" + s + "'"
	}
	return fmt.Sprintf("%s '%s' does not exist; did you mean %s?", what, name, strings.Join(quoted, " or "))
}
