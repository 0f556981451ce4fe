// Package parser reads the subset of LLVM textual IR that clang emits for
// simple integer C programs and lowers it to the backend's IR.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/raymyers/llvm-to-shasm/pkg/lexer"
)

// Error is a positioned parse or lowering error. It prints as
// file:line:col so terminals and editors can link to it.
type Error struct {
	File string
	Pos
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Msg)
}

// Parser parses LLVM IR into a Module
type Parser struct {
	l         *lexer.Lexer
	file      string
	curToken  lexer.Token
	peekToken lexer.Token
	errors    []error
	unnamed   int // next implicit %N of the function being parsed
}

// New creates a new Parser for the given lexer; file is used in error
// positions
func New(file string, l *lexer.Lexer) *Parser {
	p := &Parser{l: l, file: file}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse reads a whole .ll file
func Parse(file, src string) (*Module, error) {
	p := New(file, lexer.New(src))
	mod := p.ParseModule()
	if err := errors.Join(p.Errors()...); err != nil {
		return nil, err
	}
	return mod, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

// Errors returns the list of parsing errors
func (p *Parser) Errors() []error {
	return p.errors
}

func (p *Parser) addError(tok lexer.Token, format string, args ...any) {
	p.errors = append(p.errors, &Error{
		File: p.file,
		Pos:  Pos{Line: tok.Line, Column: tok.Column},
		Msg:  fmt.Sprintf(format, args...),
	})
}

func (p *Parser) curTokenIs(t lexer.TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t lexer.TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) expect(t lexer.TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.addError(p.curToken, "expected %s, got %s", t, describe(p.curToken))
	return false
}

func (p *Parser) expectWord(w string) bool {
	if p.curToken.Is(w) {
		p.nextToken()
		return true
	}
	p.addError(p.curToken, "expected %q, got %s", w, describe(p.curToken))
	return false
}

func describe(tok lexer.Token) string {
	if tok.Type == lexer.TokenEOF {
		return "end of file"
	}
	return fmt.Sprintf("%s %q", tok.Type, tok.Literal)
}

// skipLine drops the rest of the tokens on line
func (p *Parser) skipLine(line int) {
	for p.curToken.Line == line && !p.curTokenIs(lexer.TokenEOF) {
		p.nextToken()
	}
}

// ParseModule parses every define in the input. source_filename, target,
// declare, attributes, metadata, type and global definitions are skipped.
func (p *Parser) ParseModule() *Module {
	mod := &Module{File: p.file}
	for !p.curTokenIs(lexer.TokenEOF) {
		if p.curToken.Is("define") {
			if fn := p.parseFunction(); fn != nil {
				mod.Functions = append(mod.Functions, fn)
			}
			continue
		}
		p.skipLine(p.curToken.Line)
	}
	return mod
}

func isTypeStart(tok lexer.Token) bool {
	switch {
	case tok.Type == lexer.TokenLBracket:
		return true
	case tok.Type != lexer.TokenWord:
		return false
	case tok.Literal == "void", tok.Literal == "ptr", tok.Literal == "label":
		return true
	}
	return intBits(tok.Literal) > 0
}

// intBits returns N for "iN" and 0 for anything else
func intBits(s string) int {
	if !strings.HasPrefix(s, "i") {
		return 0
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func (p *Parser) parseType() (Type, bool) {
	tok := p.curToken
	switch {
	case tok.Type == lexer.TokenLBracket:
		p.nextToken()
		if !p.curTokenIs(lexer.TokenInt) {
			p.addError(p.curToken, "expected array length, got %s", describe(p.curToken))
			return Type{}, false
		}
		n, _ := strconv.ParseInt(p.curToken.Literal, 10, 64)
		p.nextToken()
		if !p.expectWord("x") {
			return Type{}, false
		}
		elem, ok := p.parseType()
		if !ok || !p.expect(lexer.TokenRBracket) {
			return Type{}, false
		}
		return Type{Kind: ArrayType, Len: n, Elem: &elem}, true
	case tok.Is("void"):
		p.nextToken()
		return Type{Kind: VoidType}, true
	case tok.Is("ptr"):
		p.nextToken()
		return Type{Kind: PtrType}, true
	case tok.Is("label"):
		p.nextToken()
		return Type{Kind: LabelType}, true
	case tok.Type == lexer.TokenWord && intBits(tok.Literal) > 0:
		p.nextToken()
		return Type{Kind: IntType, Bits: intBits(tok.Literal)}, true
	}
	p.addError(tok, "unsupported type %s", describe(tok))
	return Type{}, false
}

func (p *Parser) parseValue() (Value, bool) {
	tok := p.curToken
	switch tok.Type {
	case lexer.TokenLocal:
		p.nextToken()
		return Value{Kind: LocalValue, Name: tok.Literal}, true
	case lexer.TokenGlobal:
		p.nextToken()
		return Value{Kind: GlobalValue, Name: tok.Literal}, true
	case lexer.TokenInt:
		p.nextToken()
		n, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(tok.Literal, 10, 64)
			if uerr != nil {
				p.addError(tok, "integer %s out of range", tok.Literal)
				return Value{}, false
			}
			n = int64(u)
		}
		return Value{Kind: ConstValue, Int: n}, true
	case lexer.TokenWord:
		switch tok.Literal {
		case "true":
			p.nextToken()
			return Value{Kind: ConstValue, Int: 1}, true
		default:
			if constWords[tok.Literal] {
				p.nextToken()
				return Value{Kind: ConstValue}, true
			}
		}
	}
	p.addError(tok, "unsupported operand %s", describe(tok))
	return Value{}, false
}

// skipAttributes steps over parameter and return attributes such as
// noundef, signext, align 4 or dereferenceable(8)
func (p *Parser) skipAttributes() {
	for {
		switch {
		case p.curTokenIs(lexer.TokenWord) && !isTypeStart(p.curToken) && !constWords[p.curToken.Literal]:
			word := p.curToken.Literal
			p.nextToken()
			if p.curTokenIs(lexer.TokenLParen) {
				p.skipParens()
			} else if word == "align" && p.curTokenIs(lexer.TokenInt) {
				p.nextToken()
			}
		case p.curTokenIs(lexer.TokenAttrGroup):
			p.nextToken()
		default:
			return
		}
	}
}

// constWords are the constant operands written as bare words
var constWords = map[string]bool{
	"true": true, "false": true, "null": true, "undef": true, "poison": true, "zeroinitializer": true,
}

// skipParens skips a balanced parenthesized group starting at '('
func (p *Parser) skipParens() {
	depth := 0
	for !p.curTokenIs(lexer.TokenEOF) {
		switch p.curToken.Type {
		case lexer.TokenLParen:
			depth++
		case lexer.TokenRParen:
			depth--
		}
		p.nextToken()
		if depth == 0 {
			return
		}
	}
}

// implicitName hands out the next %N for an unnamed parameter or block
func (p *Parser) implicitName() string {
	name := strconv.Itoa(p.unnamed)
	p.unnamed++
	return name
}

// parseFunction parses
//
//	define [linkage] [attrs] <type> @name(<params>) [attrs] { <blocks> }
func (p *Parser) parseFunction() *Function {
	fn := &Function{Pos: Pos{Line: p.curToken.Line, Column: p.curToken.Column}}
	p.unnamed = 0
	p.nextToken() // consume 'define'

	p.skipAttributes()
	ret, ok := p.parseType()
	if !ok {
		p.skipFunction()
		return nil
	}
	fn.Ret = ret
	if !p.curTokenIs(lexer.TokenGlobal) {
		p.addError(p.curToken, "expected function name, got %s", describe(p.curToken))
		p.skipFunction()
		return nil
	}
	fn.Name = p.curToken.Literal
	p.nextToken()

	if !p.expect(lexer.TokenLParen) {
		p.skipFunction()
		return nil
	}
	for !p.curTokenIs(lexer.TokenRParen) {
		if p.curTokenIs(lexer.TokenEllipsis) {
			p.addError(p.curToken, "variadic function @%s is not supported", fn.Name)
			p.skipFunction()
			return nil
		}
		t, ok := p.parseType()
		if !ok {
			p.skipFunction()
			return nil
		}
		p.skipAttributes()
		param := Param{Type: t}
		if p.curTokenIs(lexer.TokenLocal) {
			param.Name = p.curToken.Literal
			if n, err := strconv.Atoi(param.Name); err == nil && n >= p.unnamed {
				p.unnamed = n + 1
			}
			p.nextToken()
		} else {
			param.Name = p.implicitName()
		}
		fn.Params = append(fn.Params, param)
		if !p.curTokenIs(lexer.TokenComma) {
			break
		}
		p.nextToken()
	}
	if !p.expect(lexer.TokenRParen) {
		p.skipFunction()
		return nil
	}
	for !p.curTokenIs(lexer.TokenLBrace) && !p.curTokenIs(lexer.TokenEOF) {
		p.nextToken()
	}
	if !p.expect(lexer.TokenLBrace) {
		return nil
	}

	for !p.curTokenIs(lexer.TokenRBrace) && !p.curTokenIs(lexer.TokenEOF) {
		b := &Block{Pos: Pos{Line: p.curToken.Line, Column: p.curToken.Column}}
		if p.curTokenIs(lexer.TokenLabel) {
			b.Label = p.curToken.Literal
			p.nextToken()
		} else if len(fn.Blocks) == 0 {
			b.Label = p.implicitName()
		} else {
			p.addError(p.curToken, "expected block label, got %s", describe(p.curToken))
			p.skipLine(p.curToken.Line)
			continue
		}
		for !p.curTokenIs(lexer.TokenLabel) && !p.curTokenIs(lexer.TokenRBrace) && !p.curTokenIs(lexer.TokenEOF) {
			line := p.curToken.Line
			if in := p.parseInstruction(); in != nil {
				b.Instrs = append(b.Instrs, in)
			}
			// alignment, metadata attachments and anything else trailing
			p.skipLine(line)
		}
		fn.Blocks = append(fn.Blocks, b)
	}
	if !p.expect(lexer.TokenRBrace) {
		return nil
	}
	return fn
}

// skipFunction recovers from an error in a define header
func (p *Parser) skipFunction() {
	for !p.curTokenIs(lexer.TokenRBrace) && !p.curTokenIs(lexer.TokenEOF) {
		p.nextToken()
	}
	p.nextToken()
}

func (p *Parser) pos() Pos {
	return Pos{Line: p.curToken.Line, Column: p.curToken.Column}
}

var binOps = map[string]bool{
	"add": true, "sub": true, "mul": true,
	"sdiv": true, "udiv": true, "srem": true, "urem": true,
	"and": true, "or": true, "xor": true,
	"shl": true, "lshr": true, "ashr": true,
}

var castOps = map[string]bool{"sext": true, "zext": true, "trunc": true}

// flags that may follow an opcode and do not change the result of
// well-defined programs
var opFlags = map[string]bool{
	"nsw": true, "nuw": true, "exact": true, "disjoint": true, "nneg": true,
	"samesign": true, "inbounds": true, "nusw": true, "volatile": true,
}

func (p *Parser) skipFlags() {
	for p.curTokenIs(lexer.TokenWord) && opFlags[p.curToken.Literal] {
		p.nextToken()
	}
}

func (p *Parser) parseInstruction() Instr {
	start := p.pos()
	var result string
	if p.curTokenIs(lexer.TokenLocal) && p.peekTokenIs(lexer.TokenAssign) {
		result = p.curToken.Literal
		p.nextToken()
		p.nextToken()
	}
	op := p.curToken
	if op.Type != lexer.TokenWord {
		p.addError(op, "expected instruction, got %s", describe(op))
		return nil
	}
	if op.Literal == "tail" || op.Literal == "musttail" || op.Literal == "notail" {
		p.nextToken()
		op = p.curToken
	}
	p.nextToken()
	p.skipFlags()

	needResult := func() bool {
		if result == "" {
			p.addError(op, "%s without a result name", op.Literal)
			return false
		}
		return true
	}

	switch {
	case op.Literal == "alloca":
		if !needResult() {
			return nil
		}
		t, ok := p.parseType()
		if !ok {
			return nil
		}
		in := &Alloca{Pos: start, Result: result, Type: t, Count: 1}
		if p.curTokenIs(lexer.TokenComma) && isTypeStart(p.peekToken) {
			p.nextToken()
			if _, ok := p.parseType(); !ok {
				return nil
			}
			if !p.curTokenIs(lexer.TokenInt) {
				p.addError(p.curToken, "alloca count must be a constant")
				return nil
			}
			in.Count, _ = strconv.ParseInt(p.curToken.Literal, 10, 64)
			p.nextToken()
		}
		return in
	case op.Literal == "load":
		if !needResult() {
			return nil
		}
		t, ok := p.parseType()
		if !ok || !p.expect(lexer.TokenComma) || !p.expectWord("ptr") {
			return nil
		}
		ptr, ok := p.parseValue()
		if !ok {
			return nil
		}
		return &Load{Pos: start, Result: result, Type: t, Ptr: ptr}
	case op.Literal == "store":
		t, ok := p.parseType()
		if !ok {
			return nil
		}
		val, ok := p.parseValue()
		if !ok || !p.expect(lexer.TokenComma) || !p.expectWord("ptr") {
			return nil
		}
		ptr, ok := p.parseValue()
		if !ok {
			return nil
		}
		return &Store{Pos: start, Type: t, Val: val, Ptr: ptr}
	case binOps[op.Literal]:
		if !needResult() {
			return nil
		}
		t, x, y, ok := p.parseOperandPair()
		if !ok {
			return nil
		}
		return &BinOp{Pos: start, Result: result, Op: op.Literal, Type: t, X: x, Y: y}
	case op.Literal == "icmp":
		if !needResult() {
			return nil
		}
		p.skipFlags()
		pred := p.curToken
		if pred.Type != lexer.TokenWord {
			p.addError(pred, "expected icmp predicate, got %s", describe(pred))
			return nil
		}
		p.nextToken()
		t, x, y, ok := p.parseOperandPair()
		if !ok {
			return nil
		}
		return &ICmp{Pos: start, Result: result, Pred: pred.Literal, Type: t, X: x, Y: y}
	case castOps[op.Literal]:
		if !needResult() {
			return nil
		}
		from, ok := p.parseType()
		if !ok {
			return nil
		}
		val, ok := p.parseValue()
		if !ok || !p.expectWord("to") {
			return nil
		}
		to, ok := p.parseType()
		if !ok {
			return nil
		}
		return &Cast{Pos: start, Result: result, Op: op.Literal, From: from, Val: val, To: to}
	case op.Literal == "getelementptr":
		if !needResult() {
			return nil
		}
		return p.parseGEP(start, result)
	case op.Literal == "call":
		return p.parseCall(start, result)
	case op.Literal == "phi":
		if !needResult() {
			return nil
		}
		return p.parsePhi(start, result)
	case op.Literal == "br":
		return p.parseBr(start)
	case op.Literal == "ret":
		t, ok := p.parseType()
		if !ok {
			return nil
		}
		in := &Ret{Pos: start, Type: t}
		if t.Kind != VoidType {
			if in.Val, ok = p.parseValue(); !ok {
				return nil
			}
		}
		return in
	}
	p.addError(op, "unsupported instruction %s", op.Literal)
	return nil
}

// parseOperandPair parses "<type> <x>, <y>"
func (p *Parser) parseOperandPair() (Type, Value, Value, bool) {
	t, ok := p.parseType()
	if !ok {
		return Type{}, Value{}, Value{}, false
	}
	x, ok := p.parseValue()
	if !ok || !p.expect(lexer.TokenComma) {
		return Type{}, Value{}, Value{}, false
	}
	y, ok := p.parseValue()
	if !ok {
		return Type{}, Value{}, Value{}, false
	}
	return t, x, y, true
}

// parseGEP parses "<elem type>, ptr <base>(, <type> <index>)*"
func (p *Parser) parseGEP(start Pos, result string) Instr {
	elem, ok := p.parseType()
	if !ok || !p.expect(lexer.TokenComma) || !p.expectWord("ptr") {
		return nil
	}
	base, ok := p.parseValue()
	if !ok {
		return nil
	}
	in := &GEP{Pos: start, Result: result, Elem: elem, Base: base}
	for p.curTokenIs(lexer.TokenComma) && isTypeStart(p.peekToken) {
		p.nextToken()
		p.skipFlags() // inrange
		t, ok := p.parseType()
		if !ok {
			return nil
		}
		v, ok := p.parseValue()
		if !ok {
			return nil
		}
		in.Indices = append(in.Indices, TypedValue{Type: t, Value: v})
	}
	return in
}

// parseCall parses "[attrs] <type> [(<param types>)] @callee(<args>)"
func (p *Parser) parseCall(start Pos, result string) Instr {
	p.skipAttributes()
	ret, ok := p.parseType()
	if !ok {
		return nil
	}
	if p.curTokenIs(lexer.TokenLParen) {
		// explicit function type of a variadic callee
		p.skipParens()
	}
	if !p.curTokenIs(lexer.TokenGlobal) {
		p.addError(p.curToken, "indirect calls are not supported")
		return nil
	}
	in := &Call{Pos: start, Result: result, Ret: ret, Callee: p.curToken.Literal}
	p.nextToken()
	if !p.expect(lexer.TokenLParen) {
		return nil
	}
	for !p.curTokenIs(lexer.TokenRParen) && !p.curTokenIs(lexer.TokenEOF) {
		t, ok := p.parseType()
		if !ok {
			return nil
		}
		p.skipAttributes()
		v, ok := p.parseValue()
		if !ok {
			return nil
		}
		in.Args = append(in.Args, TypedValue{Type: t, Value: v})
		if !p.curTokenIs(lexer.TokenComma) {
			break
		}
		p.nextToken()
	}
	if !p.expect(lexer.TokenRParen) {
		return nil
	}
	return in
}

// parsePhi parses "<type> [ <v>, %pred ], ..."
func (p *Parser) parsePhi(start Pos, result string) Instr {
	t, ok := p.parseType()
	if !ok {
		return nil
	}
	in := &Phi{Pos: start, Result: result, Type: t}
	for {
		if !p.expect(lexer.TokenLBracket) {
			return nil
		}
		v, ok := p.parseValue()
		if !ok || !p.expect(lexer.TokenComma) {
			return nil
		}
		if !p.curTokenIs(lexer.TokenLocal) {
			p.addError(p.curToken, "expected predecessor label, got %s", describe(p.curToken))
			return nil
		}
		in.Incoming = append(in.Incoming, Incoming{Val: v, Pred: p.curToken.Literal})
		p.nextToken()
		if !p.expect(lexer.TokenRBracket) {
			return nil
		}
		if !p.curTokenIs(lexer.TokenComma) || !p.peekTokenIs(lexer.TokenLBracket) {
			return in
		}
		p.nextToken()
	}
}

func (p *Parser) parseLabelRef() (string, bool) {
	if !p.expectWord("label") {
		return "", false
	}
	if !p.curTokenIs(lexer.TokenLocal) {
		p.addError(p.curToken, "expected label, got %s", describe(p.curToken))
		return "", false
	}
	name := p.curToken.Literal
	p.nextToken()
	return name, true
}

// parseBr parses "label %dest" or "i1 <cond>, label %then, label %else"
func (p *Parser) parseBr(start Pos) Instr {
	if p.curToken.Is("label") {
		target, ok := p.parseLabelRef()
		if !ok {
			return nil
		}
		return &Br{Pos: start, Target: target}
	}
	if !p.expectWord("i1") {
		return nil
	}
	cond, ok := p.parseValue()
	if !ok || !p.expect(lexer.TokenComma) {
		return nil
	}
	then, ok := p.parseLabelRef()
	if !ok || !p.expect(lexer.TokenComma) {
		return nil
	}
	els, ok := p.parseLabelRef()
	if !ok {
		return nil
	}
	return &CondBr{Pos: start, Cond: cond, Then: then, Else: els}
}
