package ir

import "fmt"

// Builder constructs a Function block by block. It is the in-memory
// equivalent of what a front end hands to the backend.
type Builder struct {
	fn      *Function
	cur     BlockID
	nextVar VarID
	labels  map[string]BlockID
}

// NewBuilder starts a function with the given name and result width (0 for void)
func NewBuilder(name string, result Width) *Builder {
	return &Builder{
		fn:      &Function{Name: name, Result: result},
		cur:     -1,
		nextVar: 1,
		labels:  make(map[string]BlockID),
	}
}

// NewVar allocates a fresh virtual register without defining it
func (b *Builder) NewVar(w Width) Var {
	v := Var{ID: b.nextVar, W: w}
	b.nextVar++
	return v
}

// Param declares the next parameter
func (b *Builder) Param(w Width) Var {
	v := b.NewVar(w)
	b.fn.Params = append(b.fn.Params, v)
	return v
}

// Slot declares a stack slot of count elements of width elem
func (b *Builder) Slot(name string, count int64, elem Width) SlotID {
	id := SlotID(len(b.fn.Slots))
	b.fn.Slots = append(b.fn.Slots, Slot{ID: id, Name: name, Count: count, Elem: elem})
	return id
}

// Block creates a new block (appended to the layout) and returns its ID.
// The first block created is the entry block.
func (b *Builder) Block(label string) BlockID {
	id := BlockID(len(b.fn.Blocks))
	b.fn.Blocks = append(b.fn.Blocks, &Block{ID: id, Label: label})
	b.labels[label] = id
	return id
}

// Lookup returns the block previously created with label
func (b *Builder) Lookup(label string) (BlockID, bool) {
	id, ok := b.labels[label]
	return id, ok
}

// SetBlock makes id the insertion block
func (b *Builder) SetBlock(id BlockID) {
	b.cur = id
}

// Current returns the insertion block
func (b *Builder) Current() BlockID {
	return b.cur
}

// Emit appends an instruction to the insertion block
func (b *Builder) Emit(instr Instruction) {
	if b.cur < 0 {
		panic("ir: Emit with no insertion block")
	}
	blk := b.fn.Blocks[b.cur]
	blk.Code = append(blk.Code, instr)
}

// Binop emits Dest = x op y at x's width
func (b *Builder) Binop(op BinOp, x, y Operand) Var {
	d := b.NewVar(x.OpWidth())
	b.Emit(Binop{Op: op, Dest: d, X: x, Y: y})
	return d
}

// Add emits x + y
func (b *Builder) Add(x, y Operand) Var { return b.Binop(Add, x, y) }

// Sub emits x - y
func (b *Builder) Sub(x, y Operand) Var { return b.Binop(Sub, x, y) }

// Cmp emits an 8-bit 0/1 comparison result
func (b *Builder) Cmp(c Cond, x, y Operand) Var {
	d := b.NewVar(W8)
	b.Emit(Cmp{Cond: c, Dest: d, X: x, Y: y})
	return d
}

// Cast emits a width conversion
func (b *Builder) Cast(op CastOp, src Operand, to Width) Var {
	d := b.NewVar(to)
	b.Emit(Cast{Op: op, Dest: d, Src: src})
	return d
}

// Load emits a load of width w
func (b *Builder) Load(w Width, mem MemRef) Var {
	d := b.NewVar(w)
	b.Emit(Load{Dest: d, Mem: mem})
	return d
}

// Store emits a store of src
func (b *Builder) Store(src Operand, mem MemRef) {
	b.Emit(Store{Src: src, Mem: mem})
}

// SlotAddr emits the address computation for a slot element
func (b *Builder) SlotAddr(mem SlotRef) Var {
	d := b.NewVar(W64)
	b.Emit(SlotAddr{Dest: d, Mem: mem})
	return d
}

// Phi emits an empty phi at the current block; fill it with AddIncoming
func (b *Builder) Phi(w Width) Var {
	d := b.NewVar(w)
	b.Emit(Phi{Dest: d})
	return d
}

// AddIncoming adds an incoming edge to the phi defining dest
func (b *Builder) AddIncoming(dest Var, pred BlockID, val Operand) {
	for _, blk := range b.fn.Blocks {
		for i, instr := range blk.Code {
			if phi, ok := instr.(Phi); ok && phi.Dest.ID == dest.ID {
				phi.Edges = append(phi.Edges, PhiEdge{Pred: pred, Value: val})
				blk.Code[i] = phi
				return
			}
		}
	}
	panic(fmt.Sprintf("ir: no phi defines %s", dest))
}

// Call emits a call; result 0 means the result is discarded
func (b *Builder) Call(callee string, result Width, args ...Operand) *Var {
	var dest *Var
	if result != 0 {
		d := b.NewVar(result)
		dest = &d
	}
	b.Emit(Call{Dest: dest, Callee: callee, Args: args})
	return dest
}

// Jump terminates the current block with an unconditional branch
func (b *Builder) Jump(target BlockID) {
	b.Emit(Jump{Target: target})
}

// Branch terminates the current block with a conditional branch
func (b *Builder) Branch(cond Operand, then, els BlockID) {
	b.Emit(Branch{Cond: cond, Then: then, Else: els})
}

// Return terminates the current block; val may be nil
func (b *Builder) Return(val Operand) {
	b.Emit(Return{Val: val})
}

// Finish verifies and returns the built function
func (b *Builder) Finish() (*Function, error) {
	if err := Verify(b.fn); err != nil {
		return nil, err
	}
	return b.fn, nil
}

// Const is a shorthand for an immediate of width w
func Const(val int64, w Width) Imm {
	return Imm{Val: Canonical(w, val), W: w}
}
