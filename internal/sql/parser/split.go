package parser

import "strings"

type scanState int

const (
	stateNormal scanState = iota
	stateQuote
	stateDollarQuote
	stateLineComment
	stateBlockComment
)

// scanner is a character automaton over SQL text. It only tracks enough
// lexical context to tell whether a ';' is a top-level statement separator.
type scanner struct {
	src   string
	pos   int
	state scanState

	quote     byte   // stateQuote: ' or "
	backslash bool   // stateQuote: E'' string, backslash escapes the next byte
	tag       string // stateDollarQuote: full delimiter, e.g. "$fn$"
	depth     int    // stateBlockComment: nesting depth
}

// next advances over one lexical unit and reports whether the byte at the
// previous position was a top-level ';'.
func (s *scanner) next() (sep bool) {
	src := s.src
	i := s.pos
	c := src[i]

	switch s.state {
	case stateNormal:
		switch {
		case c == ';':
			s.pos++
			return true
		case c == '\'' || c == '"':
			s.state = stateQuote
			s.quote = c
			s.backslash = c == '\'' && isEscapeStringPrefix(src, i)
			s.pos++
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			s.state = stateLineComment
			s.pos += 2
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			s.state = stateBlockComment
			s.depth = 1
			s.pos += 2
		case c == '$':
			s.pos = s.scanDollar(i)
		default:
			s.pos++
		}

	case stateQuote:
		switch {
		case s.backslash && c == '\\':
			// Skip the escaped byte, even if it is the quote char.
			s.pos += 2
		case c == s.quote:
			if i+1 < len(src) && src[i+1] == s.quote {
				// Doubled quote is an escaped quote.
				s.pos += 2
				break
			}
			s.state = stateNormal
			s.pos++
		default:
			s.pos++
		}

	case stateDollarQuote:
		if c == '$' && strings.HasPrefix(src[i:], s.tag) {
			s.pos += len(s.tag)
			s.state = stateNormal
			s.tag = ""
			break
		}
		s.pos++

	case stateLineComment:
		if c == '\n' {
			s.state = stateNormal
		}
		s.pos++

	case stateBlockComment:
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			s.depth++
			s.pos += 2
		case c == '*' && i+1 < len(src) && src[i+1] == '/':
			s.depth--
			if s.depth == 0 {
				s.state = stateNormal
			}
			s.pos += 2
		default:
			s.pos++
		}
	}

	if s.pos > len(src) {
		s.pos = len(src)
	}

	return false
}

// scanDollar handles a '$' seen in normal state. It returns the position to
// resume scanning from. When the '$' opens a dollar quote the scanner moves
// into stateDollarQuote. A failed tag scan resumes after the scanned run:
// tag characters are ordinary in normal state, so nothing is skipped that
// could change state, and no byte is scanned twice.
func (s *scanner) scanDollar(i int) int {
	src := s.src

	// $ inside an identifier (foo$bar) never opens a quote.
	if i > 0 && isIdentByte(src[i-1]) {
		return i + 1
	}

	j := i + 1
	if j < len(src) && src[j] >= '0' && src[j] <= '9' {
		// Positional parameter ($1).
		return j
	}

	for j < len(src) && isIdentByte(src[j]) {
		j++
	}

	if j < len(src) && src[j] == '$' {
		s.state = stateDollarQuote
		s.tag = src[i : j+1]
		return j + 1
	}

	return j
}

// Split splits SQL text into top-level statements. Separators inside quoted
// strings, quoted identifiers, dollar-quoted bodies and comments are ignored.
// Returned statements are trimmed and never empty. An unterminated construct
// at end of input is kept as part of the last statement.
func Split(sql string) []string {
	var out []string

	s := scanner{src: sql}
	start := 0
	for s.pos < len(sql) {
		at := s.pos
		if s.next() {
			out = appendStatement(out, sql[start:at])
			start = s.pos
		}
	}
	out = appendStatement(out, sql[start:])

	return out
}

func appendStatement(out []string, stmt string) []string {
	stmt = strings.TrimSpace(stmt)
	if stmt == "" {
		return out
	}
	return append(out, stmt)
}

// StatementComplete reports whether buf contains at least one top-level ';'
// and nothing but whitespace after the last one. Used by interactive input to
// decide whether to keep reading lines.
func StatementComplete(buf string) bool {
	s := scanner{src: buf}
	complete := false
	for s.pos < len(buf) {
		at := s.pos
		prev := s.state
		if s.next() {
			complete = true
			continue
		}
		if prev != stateNormal || s.state == stateLineComment || s.state == stateBlockComment {
			continue
		}
		if !isSpace(buf[at]) {
			complete = false
		}
	}

	// A trailing line comment after the last ';' does not make it incomplete.
	return complete && (s.state == stateNormal || s.state == stateLineComment)
}

func isEscapeStringPrefix(src string, quoteAt int) bool {
	if quoteAt == 0 {
		return false
	}
	p := src[quoteAt-1]
	if p != 'E' && p != 'e' {
		return false
	}
	// The E must be a standalone prefix, not the tail of an identifier (name').
	return quoteAt < 2 || !isIdentByte(src[quoteAt-2])
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c >= 0x80
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}
