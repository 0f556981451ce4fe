// Package ir defines the backend's input representation: a CFG of basic blocks
// over SSA-style virtual registers with fixed integer widths.
// Blocks live in an arena indexed by BlockID, so back-edges and shared
// successors are plain integer references.
package ir

import "fmt"

// Width is the bit width of an integer value
type Width uint8

const (
	W8  Width = 8
	W16 Width = 16
	W32 Width = 32
	W64 Width = 64
)

// Widths lists every supported width, narrowest first
var Widths = []Width{W8, W16, W32, W64}

// Valid reports whether w is one of the supported widths
func (w Width) Valid() bool {
	switch w {
	case W8, W16, W32, W64:
		return true
	}
	return false
}

// Bytes returns the storage size of a value of this width
func (w Width) Bytes() int64 {
	return int64(w) / 8
}

func (w Width) String() string {
	return fmt.Sprintf("i%d", uint8(w))
}

// VarID identifies a virtual register within a function
type VarID int

// BlockID identifies a basic block within a function (index into Function.Blocks)
type BlockID int

// SlotID identifies a declared stack slot within a function (index into Function.Slots)
type SlotID int

// --- Operands ---

// Operand is either a virtual register or an immediate constant
type Operand interface {
	implOperand()
	OpWidth() Width
}

// Var is a virtual register, defined exactly once
type Var struct {
	ID VarID
	W  Width
}

// Imm is an immediate constant
type Imm struct {
	Val int64
	W   Width
}

func (Var) implOperand() {}
func (Imm) implOperand() {}

func (v Var) OpWidth() Width { return v.W }
func (i Imm) OpWidth() Width { return i.W }

func (v Var) String() string { return fmt.Sprintf("%%%d", v.ID) }
func (i Imm) String() string { return fmt.Sprintf("%d", i.Val) }

// --- Memory references ---

// MemRef describes the address of a load or store
type MemRef interface {
	implMemRef()
}

// SlotRef addresses a declared stack slot: base(Slot) + Off + Index*Scale.
// Index may be nil (no dynamic component) or an Imm (folded statically).
type SlotRef struct {
	Slot  SlotID
	Index Operand
	Scale int64
	Off   int64
}

// PtrRef addresses memory through a 64-bit pointer value: Ptr + Off
type PtrRef struct {
	Ptr Operand
	Off int64
}

func (SlotRef) implMemRef() {}
func (PtrRef) implMemRef()  {}

// --- Operators ---

// BinOp is an integer arithmetic or bitwise operator
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	SDiv
	UDiv
	SRem
	URem
	And
	Or
	Xor
	Shl
	LShr
	AShr
)

var binOpNames = []string{"add", "sub", "mul", "sdiv", "udiv", "srem", "urem", "and", "or", "xor", "shl", "lshr", "ashr"}

func (op BinOp) String() string {
	if int(op) < len(binOpNames) {
		return binOpNames[op]
	}
	return "?"
}

// Cond is an integer comparison predicate
type Cond int

const (
	Eq Cond = iota
	Ne
	Slt
	Sle
	Sgt
	Sge
	Ult
	Ule
	Ugt
	Uge
)

var condNames = []string{"eq", "ne", "slt", "sle", "sgt", "sge", "ult", "ule", "ugt", "uge"}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return "?"
}

// Unsigned reports whether the predicate compares zero-extended operands
func (c Cond) Unsigned() bool {
	return c >= Ult
}

// CastOp converts between widths
type CastOp int

const (
	Sext CastOp = iota
	Zext
	Trunc
)

func (op CastOp) String() string {
	switch op {
	case Sext:
		return "sext"
	case Zext:
		return "zext"
	case Trunc:
		return "trunc"
	}
	return "?"
}

// --- Instructions ---

// Instruction is the interface for IR instructions
type Instruction interface {
	implInstruction()
}

// Binop computes Dest = X op Y at Dest's width
type Binop struct {
	Op   BinOp
	Dest Var
	X, Y Operand
}

// Cmp computes Dest = (X cond Y) ? 1 : 0; the operands share a width
type Cmp struct {
	Cond Cond
	Dest Var
	X, Y Operand
}

// Cast converts Src to Dest's width
type Cast struct {
	Op   CastOp
	Dest Var
	Src  Operand
}

// Load reads Dest.W bits from memory
type Load struct {
	Dest Var
	Mem  MemRef
}

// Store writes Src (at its width) to memory
type Store struct {
	Src Operand
	Mem MemRef
}

// SlotAddr materializes the address of a stack slot element into a 64-bit value
type SlotAddr struct {
	Dest Var
	Mem  SlotRef
}

// PhiEdge is one incoming value of a Phi
type PhiEdge struct {
	Pred  BlockID
	Value Operand
}

// Phi selects a value according to the predecessor control came from.
// Phis only appear at the start of a block.
type Phi struct {
	Dest  Var
	Edges []PhiEdge
}

// Call invokes a function symbol. Dest is nil for calls whose result is unused.
type Call struct {
	Dest   *Var
	Callee string
	Args   []Operand
}

// Jump transfers control unconditionally
type Jump struct {
	Target BlockID
}

// Branch transfers control to Then if Cond is non-zero, else to Else
type Branch struct {
	Cond       Operand
	Then, Else BlockID
}

// Return leaves the function; Val is nil for void functions
type Return struct {
	Val Operand
}

func (Binop) implInstruction()    {}
func (Cmp) implInstruction()      {}
func (Cast) implInstruction()     {}
func (Load) implInstruction()     {}
func (Store) implInstruction()    {}
func (SlotAddr) implInstruction() {}
func (Phi) implInstruction()      {}
func (Call) implInstruction()     {}
func (Jump) implInstruction()     {}
func (Branch) implInstruction()   {}
func (Return) implInstruction()   {}

// IsTerminator reports whether the instruction ends a basic block
func IsTerminator(instr Instruction) bool {
	switch instr.(type) {
	case Jump, Branch, Return:
		return true
	}
	return false
}

// Successors returns the blocks control may transfer to after instr
func Successors(instr Instruction) []BlockID {
	switch i := instr.(type) {
	case Jump:
		return []BlockID{i.Target}
	case Branch:
		if i.Then == i.Else {
			return []BlockID{i.Then}
		}
		return []BlockID{i.Then, i.Else}
	}
	return nil
}

// Def returns the value defined by instr, if any
func Def(instr Instruction) (Var, bool) {
	switch i := instr.(type) {
	case Binop:
		return i.Dest, true
	case Cmp:
		return i.Dest, true
	case Cast:
		return i.Dest, true
	case Load:
		return i.Dest, true
	case SlotAddr:
		return i.Dest, true
	case Phi:
		return i.Dest, true
	case Call:
		if i.Dest != nil {
			return *i.Dest, true
		}
	}
	return Var{}, false
}

// Uses returns the operands read by instr. Phi operands are not included:
// they are read on the incoming edges, not in the block holding the phi.
func Uses(instr Instruction) []Operand {
	switch i := instr.(type) {
	case Binop:
		return []Operand{i.X, i.Y}
	case Cmp:
		return []Operand{i.X, i.Y}
	case Cast:
		return []Operand{i.Src}
	case Load:
		return memUses(i.Mem)
	case Store:
		return append([]Operand{i.Src}, memUses(i.Mem)...)
	case SlotAddr:
		return memUses(i.Mem)
	case Call:
		return append([]Operand(nil), i.Args...)
	case Branch:
		return []Operand{i.Cond}
	case Return:
		if i.Val != nil {
			return []Operand{i.Val}
		}
	}
	return nil
}

func memUses(m MemRef) []Operand {
	switch r := m.(type) {
	case SlotRef:
		if r.Index != nil {
			return []Operand{r.Index}
		}
	case PtrRef:
		return []Operand{r.Ptr}
	}
	return nil
}

// UsedVars returns the virtual registers among Uses(instr)
func UsedVars(instr Instruction) []Var {
	var vars []Var
	for _, op := range Uses(instr) {
		if v, ok := op.(Var); ok {
			vars = append(vars, v)
		}
	}
	return vars
}

// --- Blocks, functions, modules ---

// Block is a basic block
type Block struct {
	ID    BlockID
	Label string
	Code  []Instruction
}

// Terminator returns the block's final instruction, or nil if it has none
func (b *Block) Terminator() Instruction {
	if len(b.Code) == 0 {
		return nil
	}
	last := b.Code[len(b.Code)-1]
	if !IsTerminator(last) {
		return nil
	}
	return last
}

// Phis returns the leading phi instructions of the block
func (b *Block) Phis() []Phi {
	var phis []Phi
	for _, instr := range b.Code {
		phi, ok := instr.(Phi)
		if !ok {
			break
		}
		phis = append(phis, phi)
	}
	return phis
}

// PhiMove is the copy a phi implies on one incoming edge
type PhiMove struct {
	Dest Var
	Src  Operand
}

// PhiMoves returns the copies to perform when control enters b from pred,
// in phi order. They are a parallel assignment.
func (b *Block) PhiMoves(pred BlockID) []PhiMove {
	var moves []PhiMove
	for _, phi := range b.Phis() {
		for _, e := range phi.Edges {
			if e.Pred == pred {
				moves = append(moves, PhiMove{Dest: phi.Dest, Src: e.Value})
			}
		}
	}
	return moves
}

// Slot is a declared stack allocation (an alloca): Count elements of Elem width
type Slot struct {
	ID    SlotID
	Name  string
	Count int64
	Elem  Width
}

// Size returns the slot's size in bytes before alignment
func (s Slot) Size() int64 {
	return s.Count * s.Elem.Bytes()
}

// Function is an IR function. Blocks appear in layout order and
// Blocks[i].ID == BlockID(i).
type Function struct {
	Name   string
	Params []Var
	Result Width // 0 for void
	Blocks []*Block
	Entry  BlockID
	Slots  []Slot
}

// Block returns the block with the given ID
func (f *Function) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}
	return f.Blocks[id]
}

// Predecessors computes the predecessor lists for every block, in layout order
func (f *Function) Predecessors() map[BlockID][]BlockID {
	preds := make(map[BlockID][]BlockID)
	for _, b := range f.Blocks {
		if term := b.Terminator(); term != nil {
			for _, s := range Successors(term) {
				preds[s] = append(preds[s], b.ID)
			}
		}
	}
	return preds
}

// Vars returns every virtual register defined in the function, params first,
// then in layout order
func (f *Function) Vars() []Var {
	vars := append([]Var(nil), f.Params...)
	for _, b := range f.Blocks {
		for _, instr := range b.Code {
			if v, ok := Def(instr); ok {
				vars = append(vars, v)
			}
		}
	}
	return vars
}

// Module is a translation unit
type Module struct {
	Functions []*Function
}

// Function looks up a function by name
func (m *Module) Function(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}
