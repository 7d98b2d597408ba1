package imap

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError reports a command that could not be parsed. No session or
// store state changes before parsing completes.
type SyntaxError struct {
	msg string
}

func (e *SyntaxError) Error() string {
	return e.msg
}

func syntaxErrorf(format string, args ...any) error {
	return &SyntaxError{msg: fmt.Sprintf(format, args...)}
}

// Parser tokenizes one complete IMAP command. The input contains the full
// command text with literal payloads already present in the stream after
// their {n} markers, so the parser never performs I/O.
type Parser struct {
	input string
	pos   int
}

// NewParser creates a parser over the complete command text.
func NewParser(input string) *Parser {
	return &Parser{input: input}
}

func (p *Parser) peek() (byte, bool) {
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

// SP consumes a single space separator.
func (p *Parser) SP() error {
	if c, ok := p.peek(); !ok || c != ' ' {
		return syntaxErrorf("expected space at position %d", p.pos)
	}
	p.pos++
	return nil
}

// Empty reports whether all input has been consumed.
func (p *Parser) Empty() bool {
	return p.pos >= len(p.input)
}

// End verifies that no input remains.
func (p *Parser) End() error {
	if !p.Empty() {
		return syntaxErrorf("unexpected trailing arguments %q", p.input[p.pos:])
	}
	return nil
}

// atomSpecials are the characters that terminate an atom.
const atomSpecials = "(){%*\"\\] "

func isAtomChar(c byte) bool {
	return c > 0x1f && c < 0x7f && !strings.ContainsRune(atomSpecials, rune(c))
}

// Atom reads a run of atom characters.
func (p *Parser) Atom() (string, error) {
	start := p.pos
	for {
		c, ok := p.peek()
		if !ok || !isAtomChar(c) {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return "", syntaxErrorf("expected atom at position %d", start)
	}
	return p.input[start:p.pos], nil
}

// Quoted reads a double-quoted string with backslash escapes.
func (p *Parser) Quoted() (string, error) {
	if c, ok := p.peek(); !ok || c != '"' {
		return "", syntaxErrorf("expected quoted string at position %d", p.pos)
	}
	p.pos++

	var sb strings.Builder
	for {
		c, ok := p.peek()
		if !ok {
			return "", syntaxErrorf("unterminated quoted string")
		}
		p.pos++
		switch c {
		case '"':
			return sb.String(), nil
		case '\\':
			next, ok := p.peek()
			if !ok {
				return "", syntaxErrorf("unterminated escape in quoted string")
			}
			if next != '"' && next != '\\' {
				return "", syntaxErrorf("invalid escape \\%c", next)
			}
			p.pos++
			sb.WriteByte(next)
		case '\r', '\n':
			return "", syntaxErrorf("newline in quoted string")
		default:
			sb.WriteByte(c)
		}
	}
}

// Literal reads a {n} or {n+} literal marker followed by CRLF and exactly n
// payload bytes.
func (p *Parser) Literal() (string, error) {
	if c, ok := p.peek(); !ok || c != '{' {
		return "", syntaxErrorf("expected literal at position %d", p.pos)
	}
	end := strings.IndexByte(p.input[p.pos:], '}')
	if end < 0 {
		return "", syntaxErrorf("unterminated literal marker")
	}
	marker := p.input[p.pos+1 : p.pos+end]
	marker = strings.TrimSuffix(marker, "+")
	n, err := strconv.Atoi(marker)
	if err != nil || n < 0 {
		return "", syntaxErrorf("invalid literal size %q", marker)
	}
	p.pos += end + 1

	if !strings.HasPrefix(p.input[p.pos:], "\r\n") {
		return "", syntaxErrorf("literal marker not at end of line")
	}
	p.pos += 2

	if len(p.input)-p.pos < n {
		return "", syntaxErrorf("literal payload truncated")
	}
	payload := p.input[p.pos : p.pos+n]
	p.pos += n
	return payload, nil
}

// Astring reads an atom, quoted string, or literal.
func (p *Parser) Astring() (string, error) {
	c, ok := p.peek()
	if !ok {
		return "", syntaxErrorf("expected argument at end of command")
	}
	switch c {
	case '"':
		return p.Quoted()
	case '{':
		return p.Literal()
	default:
		return p.Atom()
	}
}

// Number reads a non-negative decimal number.
func (p *Parser) Number() (uint32, error) {
	start := p.pos
	for {
		c, ok := p.peek()
		if !ok || c < '0' || c > '9' {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return 0, syntaxErrorf("expected number at position %d", start)
	}
	n, err := strconv.ParseUint(p.input[start:p.pos], 10, 32)
	if err != nil {
		return 0, syntaxErrorf("number out of range")
	}
	return uint32(n), nil
}

// Mailbox reads a mailbox name argument.
func (p *Parser) Mailbox() (string, error) {
	return p.Astring()
}

// SeqSet reads a sequence-set argument.
func (p *Parser) SeqSet() (*SeqSet, error) {
	start := p.pos
	for {
		c, ok := p.peek()
		if !ok {
			break
		}
		if c != '*' && c != ':' && c != ',' && (c < '0' || c > '9') {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return nil, syntaxErrorf("expected sequence set at position %d", start)
	}
	return ParseSeqSet(p.input[start:p.pos])
}

// FlagList reads a flag list, parenthesized or bare, possibly empty.
func (p *Parser) FlagList() ([]string, error) {
	c, ok := p.peek()
	if !ok {
		return nil, syntaxErrorf("expected flag list at end of command")
	}

	paren := c == '('
	if paren {
		p.pos++
	}

	var flags []string
	for {
		c, ok := p.peek()
		if !ok || c == ')' {
			break
		}
		if len(flags) > 0 {
			if c != ' ' {
				return nil, syntaxErrorf("expected space in flag list")
			}
			p.pos++
		}
		flag, err := p.flag()
		if err != nil {
			return nil, err
		}
		flags = append(flags, flag)
	}

	if paren {
		if c, ok := p.peek(); !ok || c != ')' {
			return nil, syntaxErrorf("unterminated flag list")
		}
		p.pos++
	}
	return flags, nil
}

// flag reads one flag token, with its optional leading backslash.
func (p *Parser) flag() (string, error) {
	prefix := ""
	if c, ok := p.peek(); ok && c == '\\' {
		p.pos++
		prefix = "\\"
	}
	atom, err := p.Atom()
	if err != nil {
		return "", err
	}
	return prefix + atom, nil
}

// ParenList consumes an opening parenthesis and returns the raw content up
// to its matching close, used for FETCH item lists.
func (p *Parser) ParenList() (string, error) {
	if c, ok := p.peek(); !ok || c != '(' {
		return "", syntaxErrorf("expected parenthesized list at position %d", p.pos)
	}
	p.pos++
	depth := 1
	start := p.pos
	for {
		c, ok := p.peek()
		if !ok {
			return "", syntaxErrorf("unterminated parenthesized list")
		}
		p.pos++
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return p.input[start : p.pos-1], nil
			}
		}
	}
}

// Remaining returns the unconsumed input.
func (p *Parser) Remaining() string {
	return p.input[p.pos:]
}
