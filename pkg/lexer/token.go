package lexer

// TokenType represents the type of a token
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenIllegal

	// Names
	TokenLocal     // %x, %0, %"quoted name"
	TokenGlobal    // @main
	TokenLabel     // for.cond: or 5: at the start of a block
	TokenMetadata  // !dbg, !0, !llvm.loop
	TokenAttrGroup // #0

	// Literals
	TokenWord   // define, i32, ptr, nsw, label, x ...
	TokenInt    // 42, -1
	TokenString // "fib.c"

	// Delimiters
	TokenAssign   // =
	TokenComma    // ,
	TokenStar     // *
	TokenLParen   // (
	TokenRParen   // )
	TokenLBrace   // {
	TokenRBrace   // }
	TokenLBracket // [
	TokenRBracket // ]
	TokenLAngle   // <
	TokenRAngle   // >
	TokenEllipsis // ...
)

var tokenNames = map[TokenType]string{
	TokenEOF:       "EOF",
	TokenIllegal:   "ILLEGAL",
	TokenLocal:     "LOCAL",
	TokenGlobal:    "GLOBAL",
	TokenLabel:     "LABEL",
	TokenMetadata:  "METADATA",
	TokenAttrGroup: "ATTRGROUP",
	TokenWord:      "WORD",
	TokenInt:       "INT",
	TokenString:    "STRING",
	TokenAssign:    "=",
	TokenComma:     ",",
	TokenStar:      "*",
	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenLBrace:    "{",
	TokenRBrace:    "}",
	TokenLBracket:  "[",
	TokenRBracket:  "]",
	TokenLAngle:    "<",
	TokenRAngle:    ">",
	TokenEllipsis:  "...",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Token represents a lexical token. Names are stored without their sigil
// and labels without the colon.
type Token struct {
	Type    TokenType
	Literal string
	Line    int
	Column  int
}

// Is reports whether the token is the bare word w
func (t Token) Is(w string) bool {
	return t.Type == TokenWord && t.Literal == w
}
