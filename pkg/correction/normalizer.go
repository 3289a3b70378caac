package correction

import (
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
)

// errorPattern maps one raw message shape to a kind. Named groups become details.
type errorPattern struct {
	kind models.ErrorKind
	re   *regexp.Regexp
}

// Order matters: the first match wins, so narrower shapes come first.
var errorPatterns = []errorPattern{
	// MySQL
	{models.ErrorKindGroupByViolation, regexp.MustCompile(`(?i)Expression #(?P<expression_index>\d+) of SELECT list is not in GROUP BY clause(?: and contains nonaggregated column '(?P<expression>[^']*)')?`)},
	{models.ErrorKindAmbiguousColumn, regexp.MustCompile(`(?i)Column '(?P<column>[^']+)' in [a-z ]+ is ambiguous`)},
	{models.ErrorKindDuplicateAlias, regexp.MustCompile(`(?i)Not unique table/alias: '(?P<table>[^']+)'`)},
	{models.ErrorKindMissingJoin, regexp.MustCompile(`(?i)Unknown table '(?P<table>[^']+)' in (?:field list|on clause|where clause|order clause|group statement|having clause|MULTI DELETE)`)},
	{models.ErrorKindInvalidJoinColumn, regexp.MustCompile(`(?i)Unknown column '(?:(?P<qualifier>[^'.]+)\.)?(?P<column>[^'.]+)' in 'on clause'`)},
	{models.ErrorKindUnknownColumn, regexp.MustCompile(`(?i)Unknown column '(?:(?P<qualifier>[^'.]+)\.)?(?P<column>[^'.]+)' in '[^']*'`)},
	{models.ErrorKindUnknownTable, regexp.MustCompile(`(?i)Table '(?:[^'.]+\.)?(?P<table>[^'.]+)' doesn't exist`)},
	{models.ErrorKindUnknownTable, regexp.MustCompile(`(?i)Unknown table '(?:[^'.]+\.)?(?P<table>[^'.]+)'`)},
	{models.ErrorKindSyntaxError, regexp.MustCompile(`(?i)You have an error in your SQL syntax`)},
	{models.ErrorKindSyntaxError, regexp.MustCompile(`(?i)syntax error at position \d+`)},

	// PostgreSQL
	{models.ErrorKindGroupByViolation, regexp.MustCompile(`(?i)column "(?P<expression>[^"]+)" must appear in the GROUP BY clause`)},
	{models.ErrorKindMissingJoin, regexp.MustCompile(`(?i)missing FROM-clause entry for table "(?P<table>[^"]+)"`)},
	{models.ErrorKindDuplicateAlias, regexp.MustCompile(`(?i)table name "(?P<table>[^"]+)" specified more than once`)},
	{models.ErrorKindAmbiguousColumn, regexp.MustCompile(`(?i)column reference "(?P<column>[^"]+)" is ambiguous`)},
	{models.ErrorKindUnknownColumn, regexp.MustCompile(`(?i)column "(?:(?P<qualifier>[^".]+)\.)?(?P<column>[^".]+)" does not exist`)},
	{models.ErrorKindUnknownTable, regexp.MustCompile(`(?i)relation "(?:[^".]+\.)?(?P<table>[^".]+)" does not exist`)},
	{models.ErrorKindSyntaxError, regexp.MustCompile(`(?i)syntax error at or near`)},

	// SQL Server
	{models.ErrorKindMissingJoin, regexp.MustCompile(`(?i)The multi-part identifier "(?P<qualifier>[^".]+)\.(?P<column>[^".]+)" could not be bound`)},
	{models.ErrorKindAmbiguousColumn, regexp.MustCompile(`(?i)Ambiguous column name '(?P<column>[^']+)'`)},
	{models.ErrorKindUnknownColumn, regexp.MustCompile(`(?i)Invalid column name '(?P<column>[^']+)'`)},
	{models.ErrorKindUnknownTable, regexp.MustCompile(`(?i)Invalid object name '(?:[^'.]+\.)?(?P<table>[^'.]+)'`)},
	{models.ErrorKindDuplicateAlias, regexp.MustCompile(`(?i)The correlation name '(?P<table>[^']+)' is specified multiple times`)},
	{models.ErrorKindGroupByViolation, regexp.MustCompile(`(?i)Column '(?P<expression>[^']+)' is invalid in the select list because it is not contained in either an aggregate function or the GROUP BY clause`)},
	{models.ErrorKindSyntaxError, regexp.MustCompile(`(?i)Incorrect syntax near`)},
}

// NormalizeError reduces a raw database or validator message to a NormalizedError.
// Unrecognized messages become ErrorKindOther with no details.
func NormalizeError(raw string) models.NormalizedError {
	for _, p := range errorPatterns {
		match := p.re.FindStringSubmatch(raw)
		if match == nil {
			continue
		}
		details := make(map[string]string)
		for i, name := range p.re.SubexpNames() {
			if name == "" || match[i] == "" {
				continue
			}
			details[name] = strings.TrimSpace(match[i])
		}
		if len(details) == 0 {
			details = nil
		}
		return models.NormalizedError{Kind: p.kind, RawMessage: raw, Details: details}
	}
	return models.NormalizedError{Kind: models.ErrorKindOther, RawMessage: raw}
}
