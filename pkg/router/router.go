// Package router classifies SQL statements with a lexical classifier,
// not a parser: uppercase-leading-keyword dispatch plus a per-verb
// regex for the first table name.
package router

import (
	"regexp"
	"strings"

	"github.com/cuemby/quorum/pkg/errs"
)

// Verb is the classified statement kind.
type Verb string

const (
	Select  Verb = "SELECT"
	Insert  Verb = "INSERT"
	Update  Verb = "UPDATE"
	Delete  Verb = "DELETE"
	Unknown Verb = "UNKNOWN"
)

// IsWrite reports whether v belongs to the write union {INSERT, UPDATE,
// DELETE}.
func (v Verb) IsWrite() bool {
	switch v {
	case Insert, Update, Delete:
		return true
	default:
		return false
	}
}

// IsRead reports whether v is a read ({SELECT}).
func (v Verb) IsRead() bool { return v == Select }

var (
	selectTable = regexp.MustCompile(`(?is)\bFROM\s+` + "`?" + `([a-zA-Z0-9_\.]+)` + "`?")
	insertTable = regexp.MustCompile(`(?is)\bINSERT\s+(?:INTO\s+)?` + "`?" + `([a-zA-Z0-9_\.]+)` + "`?")
	updateTable = regexp.MustCompile(`(?is)\bUPDATE\s+` + "`?" + `([a-zA-Z0-9_\.]+)` + "`?")
	deleteTable = regexp.MustCompile(`(?is)\bDELETE\s+FROM\s+` + "`?" + `([a-zA-Z0-9_\.]+)` + "`?")
)

// Classified is the result of classifying one statement.
type Classified struct {
	Verb      Verb
	Table     string // empty if unextractable
	Statement string
}

// Classify inspects the statement's leading keyword and, for recognized
// verbs, extracts the first referenced table name via a per-verb regex.
// Unrecognized statements are rejected at the boundary with
// ErrInvalidStatement.
func Classify(statement string) (Classified, error) {
	trimmed := strings.TrimSpace(statement)
	leading := leadingKeyword(trimmed)

	switch leading {
	case "SELECT":
		return Classified{Verb: Select, Table: firstMatch(selectTable, trimmed), Statement: statement}, nil
	case "INSERT":
		return Classified{Verb: Insert, Table: firstMatch(insertTable, trimmed), Statement: statement}, nil
	case "UPDATE":
		return Classified{Verb: Update, Table: firstMatch(updateTable, trimmed), Statement: statement}, nil
	case "DELETE":
		return Classified{Verb: Delete, Table: firstMatch(deleteTable, trimmed), Statement: statement}, nil
	default:
		return Classified{}, errs.ErrInvalidStatement
	}
}

func leadingKeyword(statement string) string {
	fields := strings.Fields(statement)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func firstMatch(re *regexp.Regexp, statement string) string {
	m := re.FindStringSubmatch(statement)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
