package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raymyers/llvm-to-shasm/pkg/ir"
)

// ParseIR parses src and lowers it to backend IR
func ParseIR(file, src string) (*ir.Module, error) {
	mod, err := Parse(file, src)
	if err != nil {
		return nil, err
	}
	return Lower(mod)
}

// Lower converts every function of mod. Errors from all functions are
// joined.
func Lower(mod *Module) (*ir.Module, error) {
	out := &ir.Module{}
	var errs []error
	defined := make(map[string]Pos)
	for _, fn := range mod.Functions {
		if first, ok := defined[fn.Name]; ok {
			errs = append(errs, &Error{File: mod.File, Pos: fn.Pos,
				Msg: fmt.Sprintf("@%s: redefinition of function first defined at %d:%d", fn.Name, first.Line, first.Column)})
			continue
		}
		defined[fn.Name] = fn.Pos
		f, err := lowerFunction(mod.File, fn)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out.Functions = append(out.Functions, f)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// stackPtr is a pointer into a stack slot known at compile time:
// slot + Off + Index*Scale. Allocas and GEPs on them fold into these so that
// loads and stores address the frame directly.
type stackPtr struct {
	slot  ir.SlotID
	index ir.Operand // nil when fully static
	scale int64
	off   int64
}

func (p stackPtr) ref() ir.SlotRef {
	return ir.SlotRef{Slot: p.slot, Index: p.index, Scale: p.scale, Off: p.off}
}

type pendingPhi struct {
	pos  Pos
	dest ir.Var
	typ  Type
	in   []Incoming
}

type lowerer struct {
	file   string
	fn     *Function
	b      *ir.Builder
	vals   map[string]ir.Var
	ptrs   map[string]stackPtr
	blocks map[string]ir.BlockID
	pruned map[string]bool
	phis   []pendingPhi
}

func (l *lowerer) errorf(pos Pos, format string, args ...any) error {
	return &Error{File: l.file, Pos: pos, Msg: fmt.Sprintf("@%s: ", l.fn.Name) + fmt.Sprintf(format, args...)}
}

// width maps an LLVM type to a register width. i1 is carried as an 8-bit 0/1.
func width(t Type) (ir.Width, bool) {
	switch t.Kind {
	case PtrType:
		return ir.W64, true
	case IntType:
		switch t.Bits {
		case 1, 8:
			return ir.W8, true
		case 16:
			return ir.W16, true
		case 32:
			return ir.W32, true
		case 64:
			return ir.W64, true
		}
	}
	return 0, false
}

func isBool(t Type) bool { return t.Kind == IntType && t.Bits == 1 }

func (l *lowerer) width(pos Pos, t Type) (ir.Width, error) {
	w, ok := width(t)
	if !ok {
		return 0, l.errorf(pos, "unsupported type %s", t)
	}
	return w, nil
}

// reachable returns the labels reachable from the entry block
func reachable(fn *Function) map[string]bool {
	succs := make(map[string][]string)
	for _, b := range fn.Blocks {
		if len(b.Instrs) == 0 {
			continue
		}
		switch t := b.Instrs[len(b.Instrs)-1].(type) {
		case *Br:
			succs[b.Label] = []string{t.Target}
		case *CondBr:
			succs[b.Label] = []string{t.Then, t.Else}
		}
	}
	seen := make(map[string]bool)
	work := []string{fn.Blocks[0].Label}
	for len(work) > 0 {
		label := work[len(work)-1]
		work = work[:len(work)-1]
		if seen[label] {
			continue
		}
		seen[label] = true
		work = append(work, succs[label]...)
	}
	return seen
}

func lowerFunction(file string, fn *Function) (*ir.Function, error) {
	l := &lowerer{
		file:   file,
		fn:     fn,
		vals:   make(map[string]ir.Var),
		ptrs:   make(map[string]stackPtr),
		blocks: make(map[string]ir.BlockID),
		pruned: make(map[string]bool),
	}
	if len(fn.Blocks) == 0 {
		return nil, l.errorf(fn.Pos, "function has no body")
	}
	var result ir.Width
	if fn.Ret.Kind != VoidType {
		w, err := l.width(fn.Pos, fn.Ret)
		if err != nil {
			return nil, err
		}
		result = w
	}
	l.b = ir.NewBuilder(fn.Name, result)
	for _, p := range fn.Params {
		w, err := l.width(fn.Pos, p.Type)
		if err != nil {
			return nil, err
		}
		l.vals[p.Name] = l.b.Param(w)
	}

	live := reachable(fn)
	var blocks []*Block
	for _, b := range fn.Blocks {
		if !live[b.Label] {
			l.pruned[b.Label] = true
			continue
		}
		if _, dup := l.blocks[b.Label]; dup {
			return nil, l.errorf(b.Pos, "duplicate label %%%s", b.Label)
		}
		l.blocks[b.Label] = l.b.Block(b.Label)
		blocks = append(blocks, b)
	}
	if err := l.declare(blocks); err != nil {
		return nil, err
	}

	for _, b := range blocks {
		l.b.SetBlock(l.blocks[b.Label])
		for _, in := range b.Instrs {
			if err := l.lower(in); err != nil {
				return nil, err
			}
		}
	}
	if err := l.resolvePhis(); err != nil {
		return nil, err
	}

	out, err := l.b.Finish()
	if err != nil {
		return nil, fmt.Errorf("%s:%d:%d: %w", file, fn.Line, fn.Column, err)
	}
	return out, nil
}

// declare creates the result value of every instruction up front so that
// phis and blocks laid out before their dominators can refer to values
// defined later. Allocas and GEPs into them become stack pointers instead.
func (l *lowerer) declare(blocks []*Block) error {
	stack := make(map[string]bool)
	for _, b := range blocks {
		for _, in := range b.Instrs {
			var name string
			var t Type
			switch i := in.(type) {
			case *Alloca:
				stack[i.Result] = true
				continue
			case *GEP:
				if i.Base.Kind == LocalValue && stack[i.Base.Name] {
					stack[i.Result] = true
					continue
				}
				name, t = i.Result, Type{Kind: PtrType}
			case *Load:
				name, t = i.Result, i.Type
			case *BinOp:
				name, t = i.Result, i.Type
			case *ICmp:
				name, t = i.Result, Type{Kind: IntType, Bits: 1}
			case *Cast:
				name, t = i.Result, i.To
			case *Call:
				if i.Result == "" || i.Ret.Kind == VoidType {
					continue
				}
				name, t = i.Result, i.Ret
			case *Phi:
				name, t = i.Result, i.Type
			default:
				continue
			}
			w, err := l.width(in.Position(), t)
			if err != nil {
				return err
			}
			if _, dup := l.vals[name]; dup {
				return l.errorf(in.Position(), "%%%s defined more than once", name)
			}
			l.vals[name] = l.b.NewVar(w)
		}
	}
	return nil
}

// operand resolves v as a value of type t. A stack pointer used as a value
// is materialized with a slot address computation.
func (l *lowerer) operand(pos Pos, v Value, t Type) (ir.Operand, error) {
	w, err := l.width(pos, t)
	if err != nil {
		return nil, err
	}
	switch v.Kind {
	case ConstValue:
		return ir.Const(v.Int, w), nil
	case GlobalValue:
		return nil, l.errorf(pos, "global @%s is not supported", v.Name)
	}
	if p, ok := l.ptrs[v.Name]; ok {
		return l.b.SlotAddr(p.ref()), nil
	}
	if x, ok := l.vals[v.Name]; ok {
		if x.W != w {
			return nil, l.errorf(pos, "%%%s is %s, used as %s", v.Name, x.W, t)
		}
		return x, nil
	}
	return nil, l.errorf(pos, "use of undefined value %%%s", v.Name)
}

// memRef resolves a pointer operand of a load or store
func (l *lowerer) memRef(pos Pos, v Value) (ir.MemRef, error) {
	if v.Kind == LocalValue {
		if p, ok := l.ptrs[v.Name]; ok {
			return p.ref(), nil
		}
	}
	ptr, err := l.operand(pos, v, Type{Kind: PtrType})
	if err != nil {
		return nil, err
	}
	if _, isConst := ptr.(ir.Imm); isConst {
		return nil, l.errorf(pos, "access through constant address %s", v)
	}
	return ir.PtrRef{Ptr: ptr}, nil
}

var binOpCodes = map[string]ir.BinOp{
	"add": ir.Add, "sub": ir.Sub, "mul": ir.Mul,
	"sdiv": ir.SDiv, "udiv": ir.UDiv, "srem": ir.SRem, "urem": ir.URem,
	"and": ir.And, "or": ir.Or, "xor": ir.Xor,
	"shl": ir.Shl, "lshr": ir.LShr, "ashr": ir.AShr,
}

var predicates = map[string]ir.Cond{
	"eq": ir.Eq, "ne": ir.Ne,
	"slt": ir.Slt, "sle": ir.Sle, "sgt": ir.Sgt, "sge": ir.Sge,
	"ult": ir.Ult, "ule": ir.Ule, "ugt": ir.Ugt, "uge": ir.Uge,
}

// intrinsics that have no effect on the generated code
var ignoredIntrinsics = []string{"llvm.lifetime.", "llvm.dbg.", "llvm.assume", "llvm.experimental.noalias.scope.decl"}

func (l *lowerer) lower(in Instr) error {
	pos := in.Position()
	switch i := in.(type) {
	case *Alloca:
		return l.lowerAlloca(i)
	case *Load:
		w, err := l.width(pos, i.Type)
		if err != nil {
			return err
		}
		mem, err := l.memRef(pos, i.Ptr)
		if err != nil {
			return err
		}
		dest := l.vals[i.Result]
		if dest.W != w {
			return l.errorf(pos, "load width mismatch")
		}
		l.b.Emit(ir.Load{Dest: dest, Mem: mem})
	case *Store:
		src, err := l.operand(pos, i.Val, i.Type)
		if err != nil {
			return err
		}
		mem, err := l.memRef(pos, i.Ptr)
		if err != nil {
			return err
		}
		l.b.Store(src, mem)
	case *BinOp:
		return l.lowerBinOp(i)
	case *ICmp:
		cond, ok := predicates[i.Pred]
		if !ok {
			return l.errorf(pos, "unknown icmp predicate %s", i.Pred)
		}
		if isBool(i.Type) && cond != ir.Eq && cond != ir.Ne && !cond.Unsigned() {
			return l.errorf(pos, "signed comparison of i1 is not supported")
		}
		x, err := l.operand(pos, i.X, i.Type)
		if err != nil {
			return err
		}
		y, err := l.operand(pos, i.Y, i.Type)
		if err != nil {
			return err
		}
		l.b.Emit(ir.Cmp{Cond: cond, Dest: l.vals[i.Result], X: x, Y: y})
	case *Cast:
		return l.lowerCast(i)
	case *GEP:
		return l.lowerGEP(i)
	case *Call:
		return l.lowerCall(i)
	case *Phi:
		dest := l.vals[i.Result]
		l.b.Emit(ir.Phi{Dest: dest})
		l.phis = append(l.phis, pendingPhi{pos: pos, dest: dest, typ: i.Type, in: i.Incoming})
	case *Br:
		target, err := l.block(pos, i.Target)
		if err != nil {
			return err
		}
		l.b.Jump(target)
	case *CondBr:
		cond, err := l.operand(pos, i.Cond, Type{Kind: IntType, Bits: 1})
		if err != nil {
			return err
		}
		then, err := l.block(pos, i.Then)
		if err != nil {
			return err
		}
		els, err := l.block(pos, i.Else)
		if err != nil {
			return err
		}
		l.b.Branch(cond, then, els)
	case *Ret:
		if i.Type.Kind == VoidType {
			l.b.Return(nil)
			return nil
		}
		v, err := l.operand(pos, i.Val, i.Type)
		if err != nil {
			return err
		}
		l.b.Return(v)
	default:
		return l.errorf(pos, "unsupported instruction %T", in)
	}
	return nil
}

func (l *lowerer) block(pos Pos, label string) (ir.BlockID, error) {
	id, ok := l.blocks[label]
	if !ok {
		return 0, l.errorf(pos, "branch to unknown label %%%s", label)
	}
	return id, nil
}

// lowerAlloca declares a slot; arrays are flattened to their scalar element
func (l *lowerer) lowerAlloca(i *Alloca) error {
	count := i.Count
	t := i.Type
	for t.Kind == ArrayType {
		count *= t.Len
		t = *t.Elem
	}
	elem, err := l.width(i.Pos, t)
	if err != nil {
		return err
	}
	if count <= 0 {
		return l.errorf(i.Pos, "empty alloca")
	}
	l.ptrs[i.Result] = stackPtr{slot: l.b.Slot(i.Result, count, elem)}
	return nil
}

func (l *lowerer) lowerBinOp(i *BinOp) error {
	op := binOpCodes[i.Op]
	if isBool(i.Type) && op != ir.And && op != ir.Or && op != ir.Xor {
		return l.errorf(i.Pos, "%s on i1 is not supported", i.Op)
	}
	x, err := l.operand(i.Pos, i.X, i.Type)
	if err != nil {
		return err
	}
	y, err := l.operand(i.Pos, i.Y, i.Type)
	if err != nil {
		return err
	}
	l.b.Emit(ir.Binop{Op: op, Dest: l.vals[i.Result], X: x, Y: y})
	return nil
}

// lowerCast handles sext, zext and trunc. Values of type i1 are 0 or 1 in
// an 8-bit register, so casts from and to i1 need explicit fixups.
func (l *lowerer) lowerCast(i *Cast) error {
	src, err := l.operand(i.Pos, i.Val, i.From)
	if err != nil {
		return err
	}
	dest := l.vals[i.Result]
	from := src.OpWidth()
	switch {
	case isBool(i.To):
		if i.Op != "trunc" {
			return l.errorf(i.Pos, "%s to i1", i.Op)
		}
		if from != ir.W8 {
			src = l.b.Cast(ir.Trunc, src, ir.W8)
		}
		l.b.Emit(ir.Binop{Op: ir.And, Dest: dest, X: src, Y: ir.Const(1, ir.W8)})
		return nil
	case isBool(i.From) && i.Op == "sext":
		// 0 or -1
		if dest.W != ir.W8 {
			src = l.b.Cast(ir.Zext, src, dest.W)
		}
		l.b.Emit(ir.Binop{Op: ir.Sub, Dest: dest, X: ir.Const(0, dest.W), Y: src})
		return nil
	case isBool(i.From) && dest.W == ir.W8:
		l.b.Emit(ir.Binop{Op: ir.Or, Dest: dest, X: src, Y: ir.Const(0, ir.W8)})
		return nil
	}

	var op ir.CastOp
	switch i.Op {
	case "sext":
		op = ir.Sext
	case "zext":
		op = ir.Zext
	default:
		op = ir.Trunc
	}
	if (op == ir.Trunc && from <= dest.W) || (op != ir.Trunc && from >= dest.W) {
		return l.errorf(i.Pos, "%s from %s to %s", i.Op, i.From, i.To)
	}
	l.b.Emit(ir.Cast{Op: op, Dest: dest, Src: src})
	return nil
}

// term is one dynamic index of a GEP with its byte scale
type term struct {
	index ir.Operand
	scale int64
}

// widen sign-extends an index to 64 bits for address arithmetic
func (l *lowerer) widen(op ir.Operand) ir.Operand {
	if op.OpWidth() == ir.W64 {
		return op
	}
	return l.b.Cast(ir.Sext, op, ir.W64)
}

// scaled computes the sum of terms as one 64-bit value
func (l *lowerer) scaled(terms []term) ir.Operand {
	var sum ir.Operand
	for _, t := range terms {
		v := l.widen(t.index)
		if t.scale != 1 {
			v = l.b.Binop(ir.Mul, v, ir.Const(t.scale, ir.W64))
		}
		if sum == nil {
			sum = v
		} else {
			sum = l.b.Add(sum, v)
		}
	}
	return sum
}

// lowerGEP folds constant indices into an offset. On a stack pointer the
// result stays a stack pointer with at most one dynamic index; on a pointer
// value the address is computed with 64-bit arithmetic.
func (l *lowerer) lowerGEP(i *GEP) error {
	var off int64
	var terms []term
	t := i.Elem
	for k, idx := range i.Indices {
		if k > 0 {
			if t.Kind != ArrayType {
				return l.errorf(i.Pos, "getelementptr into non-array type %s", t)
			}
			t = *t.Elem
		}
		size := t.Size()
		if size == 0 {
			return l.errorf(i.Pos, "getelementptr over unsized type %s", t)
		}
		if idx.Value.Kind == ConstValue {
			off += idx.Value.Int * size
			continue
		}
		v, err := l.operand(i.Pos, idx.Value, idx.Type)
		if err != nil {
			return err
		}
		terms = append(terms, term{index: v, scale: size})
	}

	if i.Base.Kind == LocalValue {
		if p, ok := l.ptrs[i.Base.Name]; ok {
			p.off += off
			if p.index != nil {
				terms = append([]term{{index: p.index, scale: p.scale}}, terms...)
			}
			switch len(terms) {
			case 0:
			case 1:
				p.index, p.scale = terms[0].index, terms[0].scale
			default:
				p.index, p.scale = l.scaled(terms), 1
			}
			l.ptrs[i.Result] = p
			return nil
		}
	}

	base, err := l.operand(i.Pos, i.Base, Type{Kind: PtrType})
	if err != nil {
		return err
	}
	dest := l.vals[i.Result]
	if len(terms) == 0 {
		l.b.Emit(ir.Binop{Op: ir.Add, Dest: dest, X: base, Y: ir.Const(off, ir.W64)})
		return nil
	}
	delta := l.scaled(terms)
	if off != 0 {
		base = l.b.Add(base, ir.Const(off, ir.W64))
	}
	l.b.Emit(ir.Binop{Op: ir.Add, Dest: dest, X: base, Y: delta})
	return nil
}

func (l *lowerer) lowerCall(i *Call) error {
	if strings.HasPrefix(i.Callee, "llvm.") {
		for _, prefix := range ignoredIntrinsics {
			if strings.HasPrefix(i.Callee, prefix) {
				return nil
			}
		}
		return l.errorf(i.Pos, "unsupported intrinsic @%s", i.Callee)
	}
	args := make([]ir.Operand, len(i.Args))
	for k, a := range i.Args {
		v, err := l.operand(i.Pos, a.Value, a.Type)
		if err != nil {
			return err
		}
		args[k] = v
	}
	call := ir.Call{Callee: i.Callee, Args: args}
	if dest, ok := l.vals[i.Result]; ok && i.Result != "" {
		call.Dest = &dest
	}
	l.b.Emit(call)
	return nil
}

// resolvePhis fills in phi edges once every block and value exists.
// Edges from pruned unreachable blocks are dropped.
func (l *lowerer) resolvePhis() error {
	for _, phi := range l.phis {
		for _, in := range phi.in {
			if l.pruned[in.Pred] {
				continue
			}
			pred, err := l.block(phi.pos, in.Pred)
			if err != nil {
				return err
			}
			var val ir.Operand
			switch {
			case in.Val.Kind == ConstValue:
				val = ir.Const(in.Val.Int, phi.dest.W)
			case in.Val.Kind == LocalValue && l.hasVal(in.Val.Name):
				val = l.vals[in.Val.Name]
			default:
				return l.errorf(phi.pos, "unsupported phi operand %s", in.Val)
			}
			l.b.AddIncoming(phi.dest, pred, val)
		}
	}
	return nil
}

func (l *lowerer) hasVal(name string) bool {
	_, ok := l.vals[name]
	return ok
}
