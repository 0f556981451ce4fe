package parser

import "fmt"

// Pos is a source position
type Pos struct {
	Line   int
	Column int
}

// TypeKind distinguishes the types the reader understands
type TypeKind int

const (
	VoidType TypeKind = iota
	IntType
	PtrType
	ArrayType
	LabelType
)

// Type is an LLVM first-class type
type Type struct {
	Kind TypeKind
	Bits int   // IntType
	Len  int64 // ArrayType
	Elem *Type // ArrayType
}

func (t Type) String() string {
	switch t.Kind {
	case VoidType:
		return "void"
	case IntType:
		return fmt.Sprintf("i%d", t.Bits)
	case PtrType:
		return "ptr"
	case ArrayType:
		return fmt.Sprintf("[%d x %s]", t.Len, t.Elem)
	case LabelType:
		return "label"
	}
	return "?"
}

// Size is the allocation size in bytes
func (t Type) Size() int64 {
	switch t.Kind {
	case IntType:
		return int64((t.Bits + 7) / 8)
	case PtrType:
		return 8
	case ArrayType:
		return t.Len * t.Elem.Size()
	}
	return 0
}

// ValueKind distinguishes operand forms
type ValueKind int

const (
	LocalValue  ValueKind = iota // %name
	ConstValue                   // 42, true, false, null, undef, poison
	GlobalValue                  // @name
)

// Value is an operand as written
type Value struct {
	Kind ValueKind
	Name string
	Int  int64
}

func (v Value) String() string {
	switch v.Kind {
	case LocalValue:
		return "%" + v.Name
	case GlobalValue:
		return "@" + v.Name
	}
	return fmt.Sprint(v.Int)
}

// TypedValue is a value with its type, as in call arguments and GEP indices
type TypedValue struct {
	Type  Type
	Value Value
}

// Instr is an instruction inside a basic block
type Instr interface {
	Position() Pos
	implInstr()
}

// Alloca reserves Count elements of Type in the frame
type Alloca struct {
	Pos
	Result string
	Type   Type
	Count  int64
}

// Load reads Type through Ptr
type Load struct {
	Pos
	Result string
	Type   Type
	Ptr    Value
}

// Store writes Val through Ptr
type Store struct {
	Pos
	Type Type
	Val  Value
	Ptr  Value
}

// BinOp is add, sub, mul, the divisions, the bitwise operators and shifts
type BinOp struct {
	Pos
	Result string
	Op     string
	Type   Type
	X, Y   Value
}

// ICmp compares two integers or pointers
type ICmp struct {
	Pos
	Result string
	Pred   string
	Type   Type
	X, Y   Value
}

// Cast is sext, zext or trunc
type Cast struct {
	Pos
	Result string
	Op     string
	From   Type
	Val    Value
	To     Type
}

// GEP computes an element address
type GEP struct {
	Pos
	Result  string
	Elem    Type // source element type
	Base    Value
	Indices []TypedValue
}

// Call calls a function by name; Result is empty for void calls
type Call struct {
	Pos
	Result string
	Ret    Type
	Callee string
	Args   []TypedValue
}

// Incoming is one [value, %pred] pair of a phi
type Incoming struct {
	Val  Value
	Pred string
}

// Phi selects a value by predecessor
type Phi struct {
	Pos
	Result   string
	Type     Type
	Incoming []Incoming
}

// Br is an unconditional branch
type Br struct {
	Pos
	Target string
}

// CondBr branches on an i1
type CondBr struct {
	Pos
	Cond       Value
	Then, Else string
}

// Ret returns; Val is ignored when Type is void
type Ret struct {
	Pos
	Type Type
	Val  Value
}

func (p Pos) Position() Pos { return p }

func (Alloca) implInstr() {}
func (Load) implInstr()   {}
func (Store) implInstr()  {}
func (BinOp) implInstr()  {}
func (ICmp) implInstr()   {}
func (Cast) implInstr()   {}
func (GEP) implInstr()    {}
func (Call) implInstr()   {}
func (Phi) implInstr()    {}
func (Br) implInstr()     {}
func (CondBr) implInstr() {}
func (Ret) implInstr()    {}

// Block is a labeled basic block. The entry block may be unlabeled.
type Block struct {
	Pos
	Label  string
	Instrs []Instr
}

// Param is a function parameter
type Param struct {
	Type Type
	Name string
}

// Function is a define
type Function struct {
	Pos
	Name   string
	Ret    Type
	Params []Param
	Blocks []*Block
}

// Module is a parsed .ll file. Declarations, globals, attributes and
// metadata are not represented.
type Module struct {
	File      string
	Functions []*Function
}
