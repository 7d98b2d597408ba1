package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserAtom(t *testing.T) {
	p := NewParser("SELECT INBOX")
	atom, err := p.Atom()
	require.NoError(t, err)
	assert.Equal(t, "SELECT", atom)
	require.NoError(t, p.SP())
	atom, err = p.Atom()
	require.NoError(t, err)
	assert.Equal(t, "INBOX", atom)
	assert.True(t, p.Empty())
}

func TestParserQuoted(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{`"hello"`, "hello", false},
		{`""`, "", false},
		{`"with space"`, "with space", false},
		{`"es\"cape\\d"`, `es"cape\d`, false},
		{`"unterminated`, "", true},
		{`"bad \x escape"`, "", true},
	}
	for _, tc := range tests {
		p := NewParser(tc.input)
		got, err := p.Quoted()
		if tc.wantErr {
			assert.Error(t, err, "input %s", tc.input)
			continue
		}
		require.NoError(t, err, "input %s", tc.input)
		assert.Equal(t, tc.want, got, "input %s", tc.input)
	}
}

func TestParserLiteral(t *testing.T) {
	p := NewParser("{5}\r\nhello rest")
	got, err := p.Literal()
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, " rest", p.Remaining())

	p = NewParser("{4+}\r\nmore")
	got, err = p.Literal()
	require.NoError(t, err)
	assert.Equal(t, "more", got)

	// Literal payloads may contain CRLF.
	p = NewParser("{10}\r\nab\r\ncd\r\nef")
	got, err = p.Literal()
	require.NoError(t, err)
	assert.Equal(t, "ab\r\ncd\r\nef", got)
}

func TestParserLiteralErrors(t *testing.T) {
	for _, input := range []string{"{5}hello", "{x}\r\nhello", "{9}\r\nshort", "{5"} {
		p := NewParser(input)
		_, err := p.Literal()
		assert.Error(t, err, "input %q", input)

		var syntaxErr *SyntaxError
		assert.ErrorAs(t, err, &syntaxErr, "input %q", input)
	}
}

func TestParserAstring(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"atom", "atom"},
		{`"quoted value"`, "quoted value"},
		{"{3}\r\nlit", "lit"},
	}
	for _, tc := range tests {
		p := NewParser(tc.input)
		got, err := p.Astring()
		require.NoError(t, err, "input %q", tc.input)
		assert.Equal(t, tc.want, got)
	}
}

func TestParserFlagList(t *testing.T) {
	p := NewParser(`(\Seen \Deleted $Junk)`)
	flags, err := p.FlagList()
	require.NoError(t, err)
	assert.Equal(t, []string{`\Seen`, `\Deleted`, "$Junk"}, flags)

	p = NewParser("()")
	flags, err = p.FlagList()
	require.NoError(t, err)
	assert.Empty(t, flags)

	// Bare flag lists without parentheses are accepted.
	p = NewParser(`\Answered`)
	flags, err = p.FlagList()
	require.NoError(t, err)
	assert.Equal(t, []string{`\Answered`}, flags)

	p = NewParser(`(\Seen`)
	_, err = p.FlagList()
	assert.Error(t, err)
}

func TestParserParenList(t *testing.T) {
	p := NewParser("(FLAGS UID (NESTED LIST)) tail")
	inner, err := p.ParenList()
	require.NoError(t, err)
	assert.Equal(t, "FLAGS UID (NESTED LIST)", inner)
	assert.Equal(t, " tail", p.Remaining())

	p = NewParser("(unbalanced")
	_, err = p.ParenList()
	assert.Error(t, err)
}

func TestParserNumber(t *testing.T) {
	p := NewParser("42 rest")
	n, err := p.Number()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), n)

	p = NewParser("abc")
	_, err = p.Number()
	assert.Error(t, err)

	p = NewParser("99999999999999999999")
	_, err = p.Number()
	assert.Error(t, err)
}

func TestParserEnd(t *testing.T) {
	p := NewParser("NOOP")
	_, err := p.Atom()
	require.NoError(t, err)
	assert.NoError(t, p.End())

	p = NewParser("NOOP extra")
	_, err = p.Atom()
	require.NoError(t, err)
	assert.Error(t, p.End())
}

func TestTrailingLiteral(t *testing.T) {
	tests := []struct {
		line  string
		n     int
		sync  bool
		found bool
	}{
		{"a APPEND INBOX {11}", 11, true, true},
		{"a LOGIN {3+}", 3, false, true},
		{"a NOOP", 0, false, false},
		{"a SELECT {x}", 0, false, false},
		{"a SELECT box}", 0, false, false},
	}
	for _, tc := range tests {
		n, sync, found := trailingLiteral(tc.line)
		assert.Equal(t, tc.found, found, "line %q", tc.line)
		if tc.found {
			assert.Equal(t, tc.n, n, "line %q", tc.line)
			assert.Equal(t, tc.sync, sync, "line %q", tc.line)
		}
	}
}
