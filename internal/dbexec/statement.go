package dbexec

import "strings"

// singleStatement reports whether sqlText contains exactly one SQL statement.
// A trailing terminator is allowed; a second statement after a terminator is
// not. Terminators inside string literals, quoted identifiers, and comments
// do not count.
func singleStatement(sqlText string) bool {
	rest, found := afterTerminator(sqlText)
	if !found {
		return true
	}
	// Anything but whitespace and comments after the terminator means a
	// second statement is stacked on.
	return strings.TrimSpace(stripLeadingComments(rest)) == ""
}

// afterTerminator returns everything after the first statement terminator
// outside of literals and comments.
func afterTerminator(s string) (string, bool) {
	var inSingle, inDouble, inBracket, inLine, inBlock bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inLine:
			if c == '\n' {
				inLine = false
			}
		case inBlock:
			if c == '*' && i+1 < len(s) && s[i+1] == '/' {
				inBlock = false
				i++
			}
		case inSingle:
			if c == '\'' {
				// '' is an escaped quote inside the literal
				if i+1 < len(s) && s[i+1] == '\'' {
					i++
				} else {
					inSingle = false
				}
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		case inBracket:
			if c == ']' {
				inBracket = false
			}
		default:
			switch c {
			case '\'':
				inSingle = true
			case '"':
				inDouble = true
			case '[':
				inBracket = true
			case '-':
				if i+1 < len(s) && s[i+1] == '-' {
					inLine = true
					i++
				}
			case '/':
				if i+1 < len(s) && s[i+1] == '*' {
					inBlock = true
					i++
				}
			case ';':
				return s[i+1:], true
			}
		}
	}
	return "", false
}

func stripLeadingComments(s string) string {
	for {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, "--"):
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = s[i+1:]
			} else {
				return ""
			}
		case strings.HasPrefix(s, "/*"):
			if i := strings.Index(s, "*/"); i >= 0 {
				s = s[i+2:]
			} else {
				return ""
			}
		default:
			return s
		}
	}
}

// isWrite reports whether the statement's leading keyword can mutate the
// database. Unknown keywords are treated as writes so they fall under the
// single-writer lock.
func isWrite(sqlText string) bool {
	head := stripLeadingComments(sqlText)
	if i := strings.IndexAny(head, " \t\r\n(;"); i >= 0 {
		head = head[:i]
	}
	switch strings.ToUpper(head) {
	case "SELECT", "WITH", "VALUES", "EXPLAIN", "PRAGMA", "":
		return false
	default:
		return true
	}
}
