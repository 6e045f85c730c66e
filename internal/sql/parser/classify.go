package parser

import "strings"

// Command is the leading keyword of a statement.
type Command string

const CommandUnknown Command = "UNKNOWN"

// commands is matched in order, so a keyword that is a prefix of another
// must come after it.
var commands = []Command{
	"SELECT",
	"INSERT",
	"UPDATE",
	"DELETE",
	"MERGE",
	"CREATE",
	"ALTER",
	"DROP",
	"TRUNCATE",
	"GRANT",
	"REVOKE",
	"VACUUM",
	"ANALYZE",
	"EXPLAIN",
	"TABLE",
	"VALUES",
	"WITH",
	"COPY",
	"DO",
	"CALL",
	"SHOW",
	"SET",
	"RESET",
	"BEGIN",
	"START",
	"COMMIT",
	"END",
	"ROLLBACK",
	"SAVEPOINT",
	"RELEASE",
	"LOCK",
	"COMMENT",
	"REFRESH",
	"REINDEX",
	"CLUSTER",
	"LISTEN",
	"NOTIFY",
	"UNLISTEN",
	"DISCARD",
	"PREPARE",
	"EXECUTE",
	"DEALLOCATE",
	"DECLARE",
	"FETCH",
	"MOVE",
	"CLOSE",
	"CHECKPOINT",
	"IMPORT",
	"REASSIGN",
	"SECURITY",
}

var rowReturning = map[Command]bool{
	"SELECT":  true,
	"TABLE":   true,
	"VALUES":  true,
	"WITH":    true,
	"SHOW":    true,
	"EXPLAIN": true,
	"FETCH":   true,
}

// Classify returns the command keyword of a single statement, or
// CommandUnknown. Leading whitespace, comments and opening parentheses are
// skipped; the match is case-insensitive and must end on a word boundary.
func Classify(stmt string) Command {
	s := skipLeading(stmt)

	for _, cmd := range commands {
		n := len(cmd)
		if len(s) < n || !strings.EqualFold(s[:n], string(cmd)) {
			continue
		}
		if len(s) > n && isIdentByte(s[n]) {
			continue
		}
		return cmd
	}

	return CommandUnknown
}

// ReturnsRows reports whether the command takes the row-returning path.
func (c Command) ReturnsRows() bool {
	return rowReturning[c]
}

func (c Command) String() string { return string(c) }

func skipLeading(s string) string {
	for {
		trimmed := strings.TrimLeft(s, " \t\r\n\f\v(")
		switch {
		case strings.HasPrefix(trimmed, "--"):
			nl := strings.IndexByte(trimmed, '\n')
			if nl < 0 {
				return ""
			}
			s = trimmed[nl+1:]
		case strings.HasPrefix(trimmed, "/*"):
			sc := scanner{src: trimmed, state: stateBlockComment, depth: 1, pos: 2}
			for sc.pos < len(trimmed) && sc.state == stateBlockComment {
				sc.next()
			}
			if sc.state == stateBlockComment {
				return ""
			}
			s = trimmed[sc.pos:]
		default:
			return trimmed
		}
	}
}
