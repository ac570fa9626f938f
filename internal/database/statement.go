package database

import "strings"

// scanStatements counts the SQL statements in query and returns the first one, stripped of
// surrounding comments and separators, with its leading keyword upper-cased. Semicolons
// inside literals, quoted identifiers, comments and CREATE TRIGGER bodies do not end a
// statement. Empty statements are not counted.
func scanStatements(query string) (count int, first, leading string) {
	var (
		start     int
		content   bool
		words     int
		head      [3]string
		trigger   bool
		inBody    bool
		bodyDone  bool
		caseDepth int
	)

	mark := func(at int) {
		if !content {
			content = true
			start = at
		}
	}

	reset := func() {
		content, words, head = false, 0, [3]string{}
		trigger, inBody, bodyDone, caseDepth = false, false, false, 0
	}

	word := func(w string) {
		w = strings.ToUpper(w)
		if count == 0 && words == 0 {
			leading = w
		}
		if words < len(head) {
			head[words] = w
			if head[0] == "CREATE" && (head[1] == "TRIGGER" ||
				(head[1] == "TEMP" || head[1] == "TEMPORARY") && head[2] == "TRIGGER") {
				trigger = true
			}
		}
		words++
		if !trigger {
			return
		}

		// The body runs from BEGIN to the END that is not closing a CASE expression
		switch {
		case !inBody && w == "BEGIN":
			inBody = true
		case inBody && !bodyDone && w == "CASE":
			caseDepth++
		case inBody && !bodyDone && w == "END":
			if caseDepth > 0 {
				caseDepth--
			} else {
				bodyDone = true
			}
		}
	}

	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			for i < len(query) && query[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				i = len(query)
			} else {
				i += end + 4
			}
		case c == '\'' || c == '"' || c == '`' || c == '[':
			closing := c
			if c == '[' {
				closing = ']'
			}
			mark(i)
			i++
			for i < len(query) {
				if query[i] == closing {
					// a doubled quote is an escaped quote
					if closing != ']' && i+1 < len(query) && query[i+1] == closing {
						i += 2
						continue
					}
					break
				}
				i++
			}
			i++
		case c == ';':
			i++
			if trigger && !bodyDone {
				continue
			}
			if content {
				count++
				if count == 1 {
					first = query[start:i]
				}
			}
			reset()
		case isWordByte(c):
			begin := i
			for i < len(query) && isWordByte(query[i]) {
				i++
			}
			mark(begin)
			word(query[begin:i])
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++
		default:
			mark(i)
			i++
		}
	}
	if content {
		count++
		if count == 1 {
			first = strings.TrimSpace(query[start:])
		}
	}
	return count, first, leading
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// readOnlyStatement reports whether a statement starting with keyword never writes.
func readOnlyStatement(keyword string) bool {
	switch keyword {
	case "SELECT", "VALUES", "EXPLAIN":
		return true
	}
	return false
}
