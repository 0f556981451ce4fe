// Package ireval interprets IR directly. It defines what a function computes
// independently of register allocation and frame layout, so generated code
// can be checked against it.
package ireval

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/raymyers/llvm-to-shasm/pkg/ir"
)

const (
	DefaultMemSize   = 1 << 20
	DefaultMaxSteps  = 50_000_000
	DefaultMaxDepth  = 10_000
	slotAlign        = 8
	framePointerSize = 8
)

var (
	ErrStepLimit     = errors.New("step limit exceeded")
	ErrStackOverflow = errors.New("stack overflow")
	ErrBadAddress    = errors.New("memory access out of bounds")
	ErrNoFunction    = errors.New("undefined function")
	ErrArgCount      = errors.New("wrong number of arguments")
)

// Interpreter evaluates functions of one module
type Interpreter struct {
	Mod *ir.Module
	Mem []byte

	MaxSteps int
	MaxDepth int
	Steps    int

	sp    int64
	depth int
}

// New creates an interpreter for mod
func New(mod *ir.Module) *Interpreter {
	return &Interpreter{
		Mod:      mod,
		Mem:      make([]byte, DefaultMemSize),
		MaxSteps: DefaultMaxSteps,
		MaxDepth: DefaultMaxDepth,
	}
}

// Eval runs fn in a fresh interpreter
func Eval(mod *ir.Module, fn string, args ...int64) (int64, error) {
	return New(mod).Call(fn, args...)
}

// Call evaluates fn on args and returns its result (0 for void functions)
func (in *Interpreter) Call(fn string, args ...int64) (int64, error) {
	in.sp = int64(len(in.Mem))
	in.depth = 0
	in.Steps = 0
	return in.call(fn, args)
}

type frame struct {
	fn    *ir.Function
	vals  map[ir.VarID]int64
	slots []int64 // base address of each declared slot
}

func (f *frame) value(op ir.Operand) int64 {
	switch o := op.(type) {
	case ir.Imm:
		return ir.Canonical(o.W, o.Val)
	case ir.Var:
		return f.vals[o.ID]
	}
	panic(fmt.Sprintf("ireval: unknown operand %T", op))
}

func (in *Interpreter) call(name string, args []int64) (int64, error) {
	fn := in.Mod.Function(name)
	if fn == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoFunction, name)
	}
	if len(args) != len(fn.Params) {
		return 0, fmt.Errorf("%w: %s takes %d, got %d", ErrArgCount, name, len(fn.Params), len(args))
	}
	if in.depth >= in.MaxDepth {
		return 0, fmt.Errorf("%s: %w", name, ErrStackOverflow)
	}
	in.depth++
	savedSP := in.sp
	defer func() {
		in.depth--
		in.sp = savedSP
	}()

	f := &frame{fn: fn, vals: make(map[ir.VarID]int64)}
	for i, p := range fn.Params {
		f.vals[p.ID] = ir.Canonical(p.W, args[i])
	}
	in.sp -= framePointerSize
	for _, s := range fn.Slots {
		in.sp = (in.sp - s.Size()) &^ (slotAlign - 1)
		if in.sp < 0 {
			return 0, fmt.Errorf("%s: %w", name, ErrStackOverflow)
		}
		f.slots = append(f.slots, in.sp)
	}

	pred := ir.BlockID(-1)
	cur := fn.Entry
	for {
		b := fn.Block(cur)
		next, ret, done, err := in.block(f, b, pred)
		if err != nil {
			return 0, fmt.Errorf("%s: block %s: %w", name, b.Label, err)
		}
		if done {
			return ret, nil
		}
		pred, cur = cur, next
	}
}

// block executes b entered from pred. It returns the next block, or the
// return value with done set.
func (in *Interpreter) block(f *frame, b *ir.Block, pred ir.BlockID) (next ir.BlockID, ret int64, done bool, err error) {
	// phis read their operands before any of them is written
	moves := b.PhiMoves(pred)
	vals := make([]int64, len(moves))
	for i, m := range moves {
		vals[i] = f.value(m.Src)
	}
	for i, m := range moves {
		f.vals[m.Dest.ID] = vals[i]
	}

	for _, instr := range b.Code {
		in.Steps++
		if in.Steps > in.MaxSteps {
			return 0, 0, false, ErrStepLimit
		}
		switch i := instr.(type) {
		case ir.Phi:
		case ir.Binop:
			v, err := ir.EvalBinop(i.Op, i.Dest.W, f.value(i.X), f.value(i.Y))
			if err != nil {
				return 0, 0, false, err
			}
			f.vals[i.Dest.ID] = v
		case ir.Cmp:
			c := ir.EvalCmp(i.Cond, i.X.OpWidth(), f.value(i.X), f.value(i.Y))
			f.vals[i.Dest.ID] = 0
			if c {
				f.vals[i.Dest.ID] = 1
			}
		case ir.Cast:
			f.vals[i.Dest.ID] = ir.EvalCast(i.Op, i.Src.OpWidth(), i.Dest.W, f.value(i.Src))
		case ir.Load:
			v, err := in.read(i.Dest.W, in.address(f, i.Mem))
			if err != nil {
				return 0, 0, false, err
			}
			f.vals[i.Dest.ID] = v
		case ir.Store:
			if err := in.write(i.Src.OpWidth(), in.address(f, i.Mem), f.value(i.Src)); err != nil {
				return 0, 0, false, err
			}
		case ir.SlotAddr:
			f.vals[i.Dest.ID] = in.address(f, i.Mem)
		case ir.Call:
			args := make([]int64, len(i.Args))
			for k, a := range i.Args {
				args[k] = f.value(a)
			}
			v, err := in.call(i.Callee, args)
			if err != nil {
				return 0, 0, false, err
			}
			if i.Dest != nil {
				f.vals[i.Dest.ID] = ir.Canonical(i.Dest.W, v)
			}
		case ir.Jump:
			return i.Target, 0, false, nil
		case ir.Branch:
			if f.value(i.Cond) != 0 {
				return i.Then, 0, false, nil
			}
			return i.Else, 0, false, nil
		case ir.Return:
			if i.Val == nil {
				return 0, 0, true, nil
			}
			return 0, f.value(i.Val), true, nil
		default:
			return 0, 0, false, fmt.Errorf("unknown instruction %T", instr)
		}
	}
	return 0, 0, false, errors.New("fell off the end of the block")
}

func (in *Interpreter) address(f *frame, m ir.MemRef) int64 {
	switch r := m.(type) {
	case ir.SlotRef:
		addr := f.slots[r.Slot] + r.Off
		if r.Index != nil {
			addr += f.value(r.Index) * r.Scale
		}
		return addr
	case ir.PtrRef:
		return f.value(r.Ptr) + r.Off
	}
	panic(fmt.Sprintf("ireval: unknown memory reference %T", m))
}

func (in *Interpreter) read(w ir.Width, addr int64) (int64, error) {
	if addr < 0 || addr+w.Bytes() > int64(len(in.Mem)) {
		return 0, fmt.Errorf("%w: %d", ErrBadAddress, addr)
	}
	return ir.Canonical(w, int64(binary.LittleEndian.Uint64(pad(in.Mem[addr:addr+w.Bytes()])))), nil
}

func (in *Interpreter) write(w ir.Width, addr, v int64) error {
	if addr < 0 || addr+w.Bytes() > int64(len(in.Mem)) {
		return fmt.Errorf("%w: %d", ErrBadAddress, addr)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	copy(in.Mem[addr:], buf[:w.Bytes()])
	return nil
}

// pad widens a little-endian value of up to 8 bytes to 8 bytes
func pad(b []byte) []byte {
	var buf [8]byte
	copy(buf[:], b)
	return buf[:]
}
