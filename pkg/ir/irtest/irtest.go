// Package irtest builds small IR functions shared by the backend's tests:
// the Fibonacci variants, a phi swap loop, spill and argument-passing stress
// functions.
package irtest

import (
	"fmt"

	"github.com/raymyers/llvm-to-shasm/pkg/ir"
)

func must(b *ir.Builder) *ir.Function {
	fn, err := b.Finish()
	if err != nil {
		panic(fmt.Sprintf("irtest: %v", err))
	}
	return fn
}

// Module wraps functions into a module
func Module(fns ...*ir.Function) *ir.Module {
	return &ir.Module{Functions: fns}
}

// ArrayFib is the iterative array-based Fibonacci as clang emits it at -O0:
// every local lives in a stack slot and the terms go into an 18-element array.
func ArrayFib(w ir.Width) *ir.Function {
	b := ir.NewBuilder("fib", w)
	n := b.Param(w)
	entry := b.Block("entry")
	cond := b.Block("for.cond")
	body := b.Block("for.body")
	end := b.Block("for.end")

	nAddr := b.Slot("n.addr", 1, w)
	terms := b.Slot("terms", 18, w)
	i := b.Slot("i", 1, w)
	at := func(idx ir.Operand) ir.SlotRef {
		return ir.SlotRef{Slot: terms, Index: idx, Scale: w.Bytes()}
	}

	b.SetBlock(entry)
	b.Store(n, ir.SlotRef{Slot: nAddr})
	b.Store(ir.Const(0, w), at(ir.Const(0, w)))
	b.Store(ir.Const(1, w), at(ir.Const(1, w)))
	b.Store(ir.Const(2, w), ir.SlotRef{Slot: i})
	b.Jump(cond)

	b.SetBlock(cond)
	iv := b.Load(w, ir.SlotRef{Slot: i})
	nv := b.Load(w, ir.SlotRef{Slot: nAddr})
	c := b.Cmp(ir.Sle, iv, nv)
	b.Branch(c, body, end)

	b.SetBlock(body)
	i1 := b.Load(w, ir.SlotRef{Slot: i})
	prev := b.Sub(i1, ir.Const(1, w))
	x := b.Load(w, at(prev))
	prev2 := b.Sub(i1, ir.Const(2, w))
	y := b.Load(w, at(prev2))
	s := b.Add(x, y)
	b.Store(s, at(i1))
	inc := b.Add(i1, ir.Const(1, w))
	b.Store(inc, ir.SlotRef{Slot: i})
	b.Jump(cond)

	b.SetBlock(end)
	nn := b.Load(w, ir.SlotRef{Slot: nAddr})
	r := b.Load(w, at(nn))
	b.Return(r)
	return must(b)
}

// RollingFib computes Fibonacci with two rolling values carried by phis.
// Both the entry edge and the back edge into the loop are critical.
func RollingFib(w ir.Width) *ir.Function {
	b := ir.NewBuilder("fib", w)
	n := b.Param(w)
	entry := b.Block("entry")
	small := b.Block("small")
	loop := b.Block("loop")
	exit := b.Block("exit")

	b.SetBlock(entry)
	c := b.Cmp(ir.Slt, n, ir.Const(2, w))
	b.Branch(c, small, loop)

	b.SetBlock(small)
	b.Return(n)

	b.SetBlock(loop)
	a := b.Phi(w)
	bv := b.Phi(w)
	i := b.Phi(w)
	s := b.Add(a, bv)
	i2 := b.Add(i, ir.Const(1, w))
	more := b.Cmp(ir.Slt, i2, n)
	b.Branch(more, loop, exit)
	b.AddIncoming(a, entry, ir.Const(0, w))
	b.AddIncoming(a, loop, bv)
	b.AddIncoming(bv, entry, ir.Const(1, w))
	b.AddIncoming(bv, loop, s)
	b.AddIncoming(i, entry, ir.Const(1, w))
	b.AddIncoming(i, loop, i2)

	b.SetBlock(exit)
	b.Return(s)
	return must(b)
}

// RecursiveFib is the doubly recursive Fibonacci
func RecursiveFib(w ir.Width) *ir.Function {
	b := ir.NewBuilder("fib", w)
	n := b.Param(w)
	entry := b.Block("entry")
	base := b.Block("base")
	rec := b.Block("rec")

	b.SetBlock(entry)
	c := b.Cmp(ir.Slt, n, ir.Const(2, w))
	b.Branch(c, base, rec)

	b.SetBlock(base)
	b.Return(n)

	b.SetBlock(rec)
	a := b.Sub(n, ir.Const(1, w))
	x := b.Call("fib", w, a)
	d := b.Sub(n, ir.Const(2, w))
	y := b.Call("fib", w, d)
	s := b.Add(*x, *y)
	b.Return(s)
	return must(b)
}

// Main returns callee(arg) at width w
func Main(callee string, w ir.Width, arg int64) *ir.Function {
	b := ir.NewBuilder("main", w)
	b.SetBlock(b.Block("entry"))
	r := b.Call(callee, w, ir.Const(arg, w))
	b.Return(*r)
	return must(b)
}

// SwapLoop exchanges two phis n times, which turns the back edge's phi moves
// into a cycle. It returns x*10+y.
func SwapLoop() *ir.Function {
	const w = ir.W32
	b := ir.NewBuilder("swap", w)
	n := b.Param(w)
	entry := b.Block("entry")
	loop := b.Block("loop")
	exit := b.Block("exit")

	b.SetBlock(entry)
	b.Jump(loop)

	b.SetBlock(loop)
	x := b.Phi(w)
	y := b.Phi(w)
	i := b.Phi(w)
	i2 := b.Add(i, ir.Const(1, w))
	more := b.Cmp(ir.Slt, i2, n)
	b.Branch(more, loop, exit)
	b.AddIncoming(x, entry, ir.Const(1, w))
	b.AddIncoming(x, loop, y)
	b.AddIncoming(y, entry, ir.Const(2, w))
	b.AddIncoming(y, loop, x)
	b.AddIncoming(i, entry, ir.Const(0, w))
	b.AddIncoming(i, loop, i2)

	b.SetBlock(exit)
	tens := b.Binop(ir.Mul, x, ir.Const(10, w))
	b.Return(b.Add(tens, y))
	return must(b)
}

// SpillStress keeps count values p+1 .. p+count live at once and then sums
// them, returning count*p + count*(count+1)/2.
func SpillStress(count int) *ir.Function {
	const w = ir.W64
	b := ir.NewBuilder("stress", w)
	p := b.Param(w)
	b.SetBlock(b.Block("entry"))
	vals := make([]ir.Var, count)
	for k := range vals {
		vals[k] = b.Add(p, ir.Const(int64(k+1), w))
	}
	var sum ir.Operand = ir.Const(0, w)
	for k := count - 1; k >= 0; k-- {
		sum = b.Add(sum, vals[k])
	}
	b.Return(sum)
	return must(b)
}

// ManyArgs takes six arguments, so two of them arrive on the stack.
// It returns a - b + c*d - e + f.
func ManyArgs() *ir.Function {
	const w = ir.W32
	b := ir.NewBuilder("many", w)
	a, bb, c, d, e, f := b.Param(w), b.Param(w), b.Param(w), b.Param(w), b.Param(w), b.Param(w)
	b.SetBlock(b.Block("entry"))
	r := b.Sub(a, bb)
	r = b.Add(r, b.Binop(ir.Mul, c, d))
	r = b.Sub(r, e)
	r = b.Add(r, f)
	b.Return(r)
	return must(b)
}

// CallMany calls ManyArgs with the given constants
func CallMany(args ...int64) *ir.Function {
	const w = ir.W32
	b := ir.NewBuilder("main", w)
	b.SetBlock(b.Block("entry"))
	ops := make([]ir.Operand, len(args))
	for i, a := range args {
		ops[i] = ir.Const(a, w)
	}
	r := b.Call("many", w, ops...)
	b.Return(*r)
	return must(b)
}

// Widths exercises narrow arithmetic, casts and unsigned operations:
// it returns zext(trunc8(x) + 200) + sext(trunc16(x)) udiv-ed by 3 as i32.
func Widths() *ir.Function {
	b := ir.NewBuilder("widths", ir.W32)
	x := b.Param(ir.W32)
	b.SetBlock(b.Block("entry"))
	lo := b.Cast(ir.Trunc, x, ir.W8)
	sum8 := b.Add(lo, ir.Const(200, ir.W8))
	z := b.Cast(ir.Zext, sum8, ir.W32)
	h := b.Cast(ir.Trunc, x, ir.W16)
	s := b.Cast(ir.Sext, h, ir.W32)
	t := b.Add(z, s)
	b.Return(b.Binop(ir.UDiv, t, ir.Const(3, ir.W32)))
	return must(b)
}
