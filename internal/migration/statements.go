package migration

import "strings"

type splitState int

const (
	stateCode splitState = iota
	stateSingleQuote
	stateDoubleQuote
	stateDollarQuote
	stateLineComment
	stateBlockComment
)

// SplitStatements splits CQL text into individual statements on semicolons.
// Semicolons inside quoted strings, quoted identifiers, $$ blocks and comments
// do not terminate a statement. Comments (--, //, /* */) are removed and
// empty statements are dropped.
func SplitStatements(cql string) []string {
	var (
		statements []string
		current    strings.Builder
		state      = stateCode
	)

	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(cql); i++ {
		c := cql[i]
		var next byte
		if i+1 < len(cql) {
			next = cql[i+1]
		}

		switch state {
		case stateCode:
			switch {
			case (c == '-' && next == '-') || (c == '/' && next == '/'):
				state = stateLineComment
				i++
				continue
			case c == '/' && next == '*':
				state = stateBlockComment
				i++
				continue
			case c == '$' && next == '$':
				state = stateDollarQuote
				current.WriteString("$$")
				i++
				continue
			case c == '\'':
				state = stateSingleQuote
			case c == '"':
				state = stateDoubleQuote
			case c == ';':
				flush()
				continue
			}
			current.WriteByte(c)
		case stateSingleQuote:
			current.WriteByte(c)
			if c == '\'' {
				state = stateCode
			}
		case stateDoubleQuote:
			current.WriteByte(c)
			if c == '"' {
				state = stateCode
			}
		case stateDollarQuote:
			if c == '$' && next == '$' {
				current.WriteString("$$")
				state = stateCode
				i++
				continue
			}
			current.WriteByte(c)
		case stateLineComment:
			if c == '\n' {
				current.WriteByte(c)
				state = stateCode
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				current.WriteByte(' ')
				state = stateCode
				i++
			}
		}
	}
	flush()

	return statements
}
