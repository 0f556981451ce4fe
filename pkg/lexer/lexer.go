// Package lexer tokenizes LLVM textual IR as clang writes it with
// -S -emit-llvm.
package lexer

// Lexer tokenizes LLVM IR
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // next reading position
	ch      byte // current character
	line    int
	column  int
}

// New creates a new Lexer for the given input
func New(input string) *Lexer {
	l := &Lexer{input: input, line: 1, column: 0}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
	l.column++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// NextToken returns the next token from the input
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	tok := Token{Line: l.line, Column: l.column}

	switch l.ch {
	case 0:
		tok.Type = TokenEOF
		return tok
	case '=':
		tok.Type, tok.Literal = TokenAssign, "="
	case ',':
		tok.Type, tok.Literal = TokenComma, ","
	case '*':
		tok.Type, tok.Literal = TokenStar, "*"
	case '(':
		tok.Type, tok.Literal = TokenLParen, "("
	case ')':
		tok.Type, tok.Literal = TokenRParen, ")"
	case '{':
		tok.Type, tok.Literal = TokenLBrace, "{"
	case '}':
		tok.Type, tok.Literal = TokenRBrace, "}"
	case '[':
		tok.Type, tok.Literal = TokenLBracket, "["
	case ']':
		tok.Type, tok.Literal = TokenRBracket, "]"
	case '<':
		tok.Type, tok.Literal = TokenLAngle, "<"
	case '>':
		tok.Type, tok.Literal = TokenRAngle, ">"
	case '"':
		tok.Type = TokenString
		tok.Literal = l.readString()
		return tok
	case '%', '@', '!', '#':
		sigil := l.ch
		l.readChar()
		switch {
		case sigil == '!' && l.ch == '{':
			// metadata tuple !{...}: the braces are lexed separately
			tok.Type, tok.Literal = TokenMetadata, ""
			return tok
		case l.ch == '"':
			tok.Literal = l.readString()
		default:
			tok.Literal = l.readName()
		}
		if tok.Literal == "" {
			tok.Type, tok.Literal = TokenIllegal, string(sigil)
			return tok
		}
		switch sigil {
		case '%':
			tok.Type = TokenLocal
		case '@':
			tok.Type = TokenGlobal
		case '!':
			tok.Type = TokenMetadata
		default:
			tok.Type = TokenAttrGroup
		}
		return tok
	case '.':
		if l.peekChar() == '.' {
			l.readChar()
			l.readChar()
			if l.ch == '.' {
				l.readChar()
				tok.Type, tok.Literal = TokenEllipsis, "..."
				return tok
			}
			tok.Type, tok.Literal = TokenIllegal, ".."
			return tok
		}
		fallthrough
	default:
		if l.ch == '-' && isDigit(l.peekChar()) {
			l.readChar()
			tok.Type = TokenInt
			tok.Literal = "-" + l.readNumber()
			return tok
		}
		if isNameChar(l.ch) {
			word := l.readName()
			if l.ch == ':' {
				l.readChar()
				tok.Type, tok.Literal = TokenLabel, word
				return tok
			}
			tok.Literal = word
			tok.Type = TokenWord
			if isNumber(word) {
				tok.Type = TokenInt
			}
			return tok
		}
		tok.Type, tok.Literal = TokenIllegal, string(l.ch)
	}

	l.readChar()
	return tok
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch l.ch {
		case ' ', '\t', '\n', '\r':
			l.readChar()
		case ';':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		default:
			return
		}
	}
}

func (l *Lexer) readName() string {
	pos := l.pos
	for isNameChar(l.ch) {
		l.readChar()
	}
	return l.input[pos:l.pos]
}

func (l *Lexer) readNumber() string {
	pos := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	return l.input[pos:l.pos]
}

func (l *Lexer) readString() string {
	l.readChar() // consume opening quote
	pos := l.pos
	for l.ch != '"' && l.ch != 0 {
		l.readChar()
	}
	str := l.input[pos:l.pos]
	l.readChar() // consume closing quote
	return str
}

// isNameChar matches [-a-zA-Z$._0-9], the characters of LLVM identifiers
func isNameChar(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || isDigit(ch) ||
		ch == '-' || ch == '$' || ch == '.' || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isNumber(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return s != ""
}
