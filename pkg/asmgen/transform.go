// Package asmgen lowers an allocated IR function to shasm assembly.
// This is the final compilation phase: every decision about registers and
// frame offsets has already been made by regalloc and stacking, and this
// pass only selects instructions for them.
package asmgen

import (
	"fmt"

	"github.com/raymyers/llvm-to-shasm/pkg/asm"
	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/regalloc"
	"github.com/raymyers/llvm-to-shasm/pkg/stacking"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
)

// UnsupportedError reports an operation the target cannot perform at a width
type UnsupportedError struct {
	Func   string
	Block  string
	Instr  string
	Width  ir.Width
	Form   target.Form
	Target string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: block %s: %s: target %s has no %s form at %s",
		e.Func, e.Block, e.Instr, e.Target, e.Form, e.Width)
}

// edgeBlock holds the phi moves of a critical edge, placed after the body
type edgeBlock struct {
	label asm.Label
	code  []asm.Instruction
}

// genContext holds state during code generation of one function
type genContext struct {
	fn     *ir.Function
	res    *regalloc.Result
	layout *stacking.Layout
	desc   *target.Descriptor

	out     *asm.Function
	block   *ir.Block
	next    ir.BlockID // block laid out after the current one, -1 at the end
	edges   []edgeBlock
	scratch int // scratch registers handed out for the current instruction
}

// TransformFunction lowers fn given its allocation and frame layout
func TransformFunction(fn *ir.Function, res *regalloc.Result, layout *stacking.Layout, desc *target.Descriptor) (*asm.Function, error) {
	ctx := &genContext{
		fn:     fn,
		res:    res,
		layout: layout,
		desc:   desc,
		out:    asm.NewFunction(fn.Name),
	}
	ctx.out.FrameSize = layout.Size

	ctx.emit(stacking.Prologue(layout)...)
	ctx.emit(ctx.entryMoves()...)
	if fn.Entry != fn.Blocks[0].ID {
		ctx.emit(asm.Jmp{Target: ctx.blockLabel(fn.Entry)})
	}

	for i, b := range fn.Blocks {
		ctx.block = b
		ctx.next = -1
		if i+1 < len(fn.Blocks) {
			ctx.next = fn.Blocks[i+1].ID
		}
		ctx.out.AppendLabel(ctx.blockLabel(b.ID))
		for _, instr := range b.Code {
			ctx.scratch = 0
			if err := ctx.translateInstruction(instr); err != nil {
				return nil, err
			}
		}
	}
	for _, e := range ctx.edges {
		ctx.out.AppendLabel(e.label)
		ctx.emit(e.code...)
	}
	return ctx.out, nil
}

func (ctx *genContext) emit(code ...asm.Instruction) {
	ctx.out.Code = append(ctx.out.Code, code...)
}

// blockLabel names a block; labels are qualified by the function so that
// they are unique in the program
func (ctx *genContext) blockLabel(id ir.BlockID) asm.Label {
	return asm.Label(fmt.Sprintf(".L%s.%s", ctx.fn.Name, ctx.fn.Block(id).Label))
}

func (ctx *genContext) newEdgeLabel() asm.Label {
	return asm.Label(fmt.Sprintf(".L%s.edge%d", ctx.fn.Name, len(ctx.edges)))
}

// takeScratch hands out the next scratch register for this instruction
func (ctx *genContext) takeScratch() target.Reg {
	if ctx.scratch >= len(ctx.desc.Scratch) {
		// regalloc.ScratchDemand guarantees enough registers
		panic(fmt.Sprintf("asmgen: %s: out of scratch registers", ctx.fn.Name))
	}
	r := ctx.desc.Scratch[ctx.scratch]
	ctx.scratch++
	return r
}

func (ctx *genContext) require(instr ir.Instruction, w ir.Width, f target.Form) error {
	if ctx.desc.Supports(w, f) {
		return nil
	}
	return &UnsupportedError{
		Func:   ctx.fn.Name,
		Block:  ctx.block.Label,
		Instr:  ir.FormatInstruction(ctx.fn, instr),
		Width:  w,
		Form:   f,
		Target: ctx.desc.Name,
	}
}

// --- Operand access ---

// locOf returns where an operand lives
func (ctx *genContext) locOf(op ir.Operand) location {
	switch o := op.(type) {
	case ir.Imm:
		return immLoc(o.Val)
	case ir.Var:
		loc := ctx.res.Loc(o)
		if loc.Spilled {
			return frameLoc(ctx.layout.SpillOffset(o))
		}
		return regLoc(loc.Reg)
	}
	panic(fmt.Sprintf("asmgen: unknown operand %T", op))
}

// src returns a register holding op, reloading spilled values and
// materializing immediates into a scratch register
func (ctx *genContext) src(op ir.Operand) target.Reg {
	loc := ctx.locOf(op)
	if loc.kind == inReg {
		return loc.reg
	}
	r := ctx.takeScratch()
	ctx.emit(load(op.OpWidth(), r, loc))
	return r
}

// dest returns the register an instruction should write d into. A spilled
// value is produced in the first scratch register; finish stores it.
func (ctx *genContext) dest(d ir.Var) target.Reg {
	if loc := ctx.res.Loc(d); !loc.Spilled {
		return loc.Reg
	}
	return ctx.desc.Scratch[0]
}

// finish writes back d if it is spilled
func (ctx *genContext) finish(d ir.Var, r target.Reg) {
	if ctx.res.IsSpilled(d) {
		ctx.emit(asm.St{W: d.W, Rs: r, Mem: asm.Addr{Base: target.FP, Off: ctx.layout.SpillOffset(d)}})
	}
}

// addr computes a memory operand, using a scratch register for dynamic
// indices and spilled pointers
func (ctx *genContext) addr(m ir.MemRef) asm.Addr {
	switch r := m.(type) {
	case ir.SlotRef:
		off := ctx.layout.LocalOffset(r.Slot) + r.Off
		switch idx := r.Index.(type) {
		case nil:
			return asm.Addr{Base: target.FP, Off: off}
		case ir.Imm:
			return asm.Addr{Base: target.FP, Off: off + idx.Val*r.Scale}
		case ir.Var:
			s := ctx.takeScratch()
			index := s
			if loc := ctx.locOf(idx); loc.kind == inReg {
				index = loc.reg
			} else {
				ctx.emit(load(idx.W, s, loc))
			}
			ctx.emit(asm.Lea{Rd: s, Mem: asm.Addr{Base: target.FP, Index: index, HasIndex: true, Scale: r.Scale, Off: off}})
			return asm.Addr{Base: s}
		}
	case ir.PtrRef:
		return asm.Addr{Base: ctx.src(r.Ptr), Off: r.Off}
	}
	panic(fmt.Sprintf("asmgen: unknown memory reference %T", m))
}

// --- Instructions ---

func (ctx *genContext) translateInstruction(instr ir.Instruction) error {
	switch i := instr.(type) {
	case ir.Binop:
		return ctx.translateBinop(i)
	case ir.Cmp:
		return ctx.translateCmp(i)
	case ir.Cast:
		return ctx.translateCast(i)
	case ir.Load:
		return ctx.translateLoad(i)
	case ir.Store:
		return ctx.translateStore(i)
	case ir.SlotAddr:
		ctx.translateSlotAddr(i)
	case ir.Phi:
		// lowered on the incoming edges
	case ir.Call:
		ctx.translateCall(i)
	case ir.Jump:
		ctx.translateJump(i.Target)
	case ir.Branch:
		ctx.translateBranch(i)
	case ir.Return:
		ctx.translateReturn(i)
	default:
		panic(fmt.Sprintf("asmgen: unknown instruction %T", instr))
	}
	return nil
}

func (ctx *genContext) translateBinop(i ir.Binop) error {
	w := i.Dest.W
	if err := ctx.require(i, w, target.FormFor(i.Op)); err != nil {
		return err
	}
	rn := ctx.src(i.X)
	if y, ok := i.Y.(ir.Imm); ok {
		rd := ctx.dest(i.Dest)
		ctx.emit(asm.AluImm{Op: i.Op, W: w, Rd: rd, Rn: rn, Imm: y.Val})
		ctx.finish(i.Dest, rd)
		return nil
	}
	rm := ctx.src(i.Y)
	rd := ctx.dest(i.Dest)
	ctx.emit(asm.Alu{Op: i.Op, W: w, Rd: rd, Rn: rn, Rm: rm})
	ctx.finish(i.Dest, rd)
	return nil
}

func (ctx *genContext) translateCmp(i ir.Cmp) error {
	w := i.X.OpWidth()
	if err := ctx.require(i, w, target.FormCmp); err != nil {
		return err
	}
	rn := ctx.src(i.X)
	if y, ok := i.Y.(ir.Imm); ok {
		rd := ctx.dest(i.Dest)
		ctx.emit(asm.CmpImm{Cond: i.Cond, W: w, Rd: rd, Rn: rn, Imm: y.Val})
		ctx.finish(i.Dest, rd)
		return nil
	}
	rm := ctx.src(i.Y)
	rd := ctx.dest(i.Dest)
	ctx.emit(asm.Cmp{Cond: i.Cond, W: w, Rd: rd, Rn: rn, Rm: rm})
	ctx.finish(i.Dest, rd)
	return nil
}

func (ctx *genContext) translateCast(i ir.Cast) error {
	from, to := i.Src.OpWidth(), i.Dest.W
	if err := ctx.require(i, to, target.FormMove); err != nil {
		return err
	}
	rs := ctx.src(i.Src)
	rd := ctx.dest(i.Dest)
	switch i.Op {
	case ir.Sext:
		ctx.emit(asm.Sext{W: from, Rd: rd, Rs: rs})
	case ir.Zext:
		ctx.emit(asm.Zext{W: from, Rd: rd, Rs: rs})
	case ir.Trunc:
		// a width-W move re-canonicalizes the low W bits
		ctx.emit(asm.Mov{W: to, Rd: rd, Rs: rs})
	}
	ctx.finish(i.Dest, rd)
	return nil
}

func (ctx *genContext) translateLoad(i ir.Load) error {
	if err := ctx.require(i, i.Dest.W, target.FormLoad); err != nil {
		return err
	}
	mem := ctx.addr(i.Mem)
	rd := ctx.dest(i.Dest)
	ctx.emit(asm.Ld{W: i.Dest.W, Rd: rd, Mem: mem})
	ctx.finish(i.Dest, rd)
	return nil
}

func (ctx *genContext) translateStore(i ir.Store) error {
	w := i.Src.OpWidth()
	if err := ctx.require(i, w, target.FormStore); err != nil {
		return err
	}
	rs := ctx.src(i.Src)
	mem := ctx.addr(i.Mem)
	ctx.emit(asm.St{W: w, Rs: rs, Mem: mem})
	return nil
}

func (ctx *genContext) translateSlotAddr(i ir.SlotAddr) {
	off := ctx.layout.LocalOffset(i.Mem.Slot) + i.Mem.Off
	mem := asm.Addr{Base: target.FP, Off: off}
	switch idx := i.Mem.Index.(type) {
	case ir.Imm:
		mem.Off += idx.Val * i.Mem.Scale
	case ir.Var:
		mem.Index = ctx.src(idx)
		mem.HasIndex = true
		mem.Scale = i.Mem.Scale
	}
	rd := ctx.dest(i.Dest)
	ctx.emit(asm.Lea{Rd: rd, Mem: mem})
	ctx.finish(i.Dest, rd)
}

// translateCall pushes stack arguments right to left, moves register
// arguments into place, calls, pops the stack arguments and captures r0
func (ctx *genContext) translateCall(i ir.Call) {
	nregs := len(ctx.desc.ArgRegs)
	var pushed int64
	for k := len(i.Args) - 1; k >= nregs; k-- {
		a := i.Args[k]
		loc := ctx.locOf(a)
		r := loc.reg
		if loc.kind != inReg {
			r = ctx.desc.Scratch[0]
			ctx.emit(load(a.OpWidth(), r, loc))
		}
		ctx.emit(asm.Push{Rs: r})
		pushed += ctx.desc.StackArgSize
	}

	var moves []move
	for k, a := range i.Args {
		if k >= nregs {
			break
		}
		moves = append(moves, move{dst: regLoc(ctx.desc.ArgRegs[k]), src: ctx.locOf(a), w: a.OpWidth()})
	}
	ctx.emit(ctx.parallel(moves)...)
	ctx.emit(asm.Call{Target: asm.Label(i.Callee)})
	if pushed > 0 {
		ctx.emit(asm.AluImm{Op: ir.Add, W: ir.W64, Rd: target.SP, Rn: target.SP, Imm: pushed})
	}
	if i.Dest != nil {
		d := *i.Dest
		// a register source never needs the carry register
		ctx.emit(ctx.parallel([]move{{dst: ctx.locOf(d), src: regLoc(ctx.desc.Return), w: d.W}})...)
	}
}

func (ctx *genContext) translateReturn(i ir.Return) {
	if i.Val != nil {
		ctx.emit(load(i.Val.OpWidth(), ctx.desc.Return, ctx.locOf(i.Val)))
	}
	ctx.emit(stacking.Epilogue(ctx.layout)...)
}

// --- Control flow ---

func (ctx *genContext) parallel(moves []move) []asm.Instruction {
	var temp, carry target.Reg
	if len(ctx.desc.Scratch) > 0 {
		temp = ctx.desc.Scratch[0]
	}
	if len(ctx.desc.Scratch) > 1 {
		carry = ctx.desc.Scratch[1]
	}
	return parallelMoves(moves, temp, carry)
}

// phiMoves returns the code for the phis of succ on the edge from the
// current block
func (ctx *genContext) phiMoves(succ ir.BlockID) []asm.Instruction {
	var moves []move
	for _, m := range ctx.fn.Block(succ).PhiMoves(ctx.block.ID) {
		moves = append(moves, move{dst: ctx.locOf(m.Dest), src: ctx.locOf(m.Src), w: m.Dest.W})
	}
	return ctx.parallel(moves)
}

func (ctx *genContext) translateJump(succ ir.BlockID) {
	ctx.emit(ctx.phiMoves(succ)...)
	if succ != ctx.next {
		ctx.emit(asm.Jmp{Target: ctx.blockLabel(succ)})
	}
}

// branchTarget returns the label a conditional jump to succ should use: the
// block itself, or a fresh edge block when the edge carries phi moves
func (ctx *genContext) branchTarget(succ ir.BlockID) asm.Label {
	code := ctx.phiMoves(succ)
	if len(code) == 0 {
		return ctx.blockLabel(succ)
	}
	label := ctx.newEdgeLabel()
	code = append(code, asm.Jmp{Target: ctx.blockLabel(succ)})
	ctx.edges = append(ctx.edges, edgeBlock{label: label, code: code})
	return label
}

func (ctx *genContext) translateBranch(i ir.Branch) {
	if c, ok := i.Cond.(ir.Imm); ok {
		if c.Val != 0 {
			ctx.translateJump(i.Then)
		} else {
			ctx.translateJump(i.Else)
		}
		return
	}
	if i.Then == i.Else {
		ctx.translateJump(i.Then)
		return
	}

	rc := ctx.src(i.Cond)
	switch {
	case i.Else == ctx.next:
		ctx.emit(asm.Jnz{Rs: rc, Target: ctx.branchTarget(i.Then)})
		ctx.emit(ctx.phiMoves(i.Else)...)
	case i.Then == ctx.next:
		ctx.emit(asm.Jz{Rs: rc, Target: ctx.branchTarget(i.Else)})
		ctx.emit(ctx.phiMoves(i.Then)...)
	default:
		ctx.emit(asm.Jnz{Rs: rc, Target: ctx.branchTarget(i.Then)})
		ctx.translateJump(i.Else)
	}
}

// entryMoves copies the parameters from the argument registers and the
// incoming stack words to their allocated homes
func (ctx *genContext) entryMoves() []asm.Instruction {
	nregs := len(ctx.desc.ArgRegs)
	var moves []move
	for k, p := range ctx.fn.Params {
		var src location
		if k < nregs {
			src = regLoc(ctx.desc.ArgRegs[k])
		} else {
			src = frameLoc(ctx.layout.IncomingArgOffset(k - nregs))
		}
		moves = append(moves, move{dst: ctx.locOf(p), src: src, w: p.W})
	}
	return ctx.parallel(moves)
}
