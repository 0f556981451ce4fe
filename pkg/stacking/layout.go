// Package stacking lays out activation records: it assigns every saved
// register, declared local and spilled value a fixed fp-relative offset and
// generates the prologue and epilogue that build and tear down the frame.
package stacking

import (
	"fmt"

	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
)

const (
	savedFPSize = 8 // push fp
	retAddrSize = 8 // call pushes the return address
)

// shasm frame layout (called function's view, stack grows down):
//
//	+---------------------------+
//	| incoming stack arg k      |  fp + 16 + 8k
//	| return address            |  fp + 8
//	| saved fp                  |  fp + 0   <- fp
//	+---------------------------+
//	| callee-saved registers    |  negative offsets from fp
//	| locals and arrays         |
//	| spill slots               |
//	+---------------------------+  <- sp = fp - Size (StackAlign multiple)
//	| pushed outgoing args      |  only around a call
//
// Every offset below fp is assigned exactly once and slots never overlap.

// SlotKind says what a frame slot holds
type SlotKind int

const (
	SlotSave SlotKind = iota
	SlotLocal
	SlotSpill
)

func (k SlotKind) String() string {
	switch k {
	case SlotSave:
		return "save"
	case SlotLocal:
		return "local"
	case SlotSpill:
		return "spill"
	}
	return "?"
}

// FrameSlot is one region of the frame: [fp+Offset, fp+Offset+Size)
type FrameSlot struct {
	Kind   SlotKind
	Name   string
	Offset int64 // negative, fp-relative
	Size   int64
	Align  int64

	Reg   target.Reg // SlotSave
	Local ir.SlotID  // SlotLocal
	Var   ir.Var     // SlotSpill
}

// Layout is the concrete frame of one function
type Layout struct {
	Func  string
	Slots []FrameSlot
	Size  int64 // sp decrement after fp is set up

	argSize int64
	locals  map[ir.SlotID]int64
	spills  map[ir.VarID]int64
	saves   map[target.Reg]int64
}

// FrameOverflowError reports a frame larger than the target allows
type FrameOverflowError struct {
	Func string
	Size int64
	Max  int64
}

func (e *FrameOverflowError) Error() string {
	return fmt.Sprintf("%s: stack frame of %d bytes exceeds the %d byte limit", e.Func, e.Size, e.Max)
}

// Build lays out the frame for fn. spilled lists the values the allocator
// placed in memory and saved the callee-saved registers the allocation
// uses; both are laid out in the order given.
func Build(fn *ir.Function, spilled []ir.Var, saved []target.Reg, desc *target.Descriptor) (*Layout, error) {
	l := &Layout{
		Func:    fn.Name,
		argSize: desc.StackArgSize,
		locals:  make(map[ir.SlotID]int64),
		spills:  make(map[ir.VarID]int64),
		saves:   make(map[target.Reg]int64),
	}
	depth := int64(0)
	place := func(s FrameSlot) int64 {
		depth = alignUp(depth+s.Size, s.Align)
		s.Offset = -depth
		l.Slots = append(l.Slots, s)
		return s.Offset
	}

	for _, r := range saved {
		l.saves[r] = place(FrameSlot{Kind: SlotSave, Name: r.String(), Size: 8, Align: 8, Reg: r})
	}
	for _, s := range fn.Slots {
		align := s.Elem.Bytes()
		if desc.SlotAlign > align {
			align = desc.SlotAlign
		}
		l.locals[s.ID] = place(FrameSlot{
			Kind:  SlotLocal,
			Name:  s.Name,
			Size:  alignUp(s.Size(), desc.SlotAlign),
			Align: align,
			Local: s.ID,
		})
	}
	for _, v := range spilled {
		l.spills[v.ID] = place(FrameSlot{
			Kind:  SlotSpill,
			Name:  v.String(),
			Size:  v.W.Bytes(),
			Align: v.W.Bytes(),
			Var:   v,
		})
	}

	l.Size = alignUp(depth, desc.StackAlign)
	if l.Size > desc.MaxFrameSize {
		return nil, &FrameOverflowError{Func: fn.Name, Size: l.Size, Max: desc.MaxFrameSize}
	}
	return l, nil
}

// LocalOffset returns the fp-relative offset of a declared slot
func (l *Layout) LocalOffset(id ir.SlotID) int64 {
	off, ok := l.locals[id]
	if !ok {
		panic(fmt.Sprintf("stacking: %s has no slot %d", l.Func, id))
	}
	return off
}

// SpillOffset returns the fp-relative offset of a spilled value
func (l *Layout) SpillOffset(v ir.Var) int64 {
	off, ok := l.spills[v.ID]
	if !ok {
		panic(fmt.Sprintf("stacking: %s has no spill slot for %s", l.Func, v))
	}
	return off
}

// SaveOffset returns the fp-relative offset where a callee-saved register is kept
func (l *Layout) SaveOffset(r target.Reg) int64 {
	off, ok := l.saves[r]
	if !ok {
		panic(fmt.Sprintf("stacking: %s does not save %s", l.Func, r))
	}
	return off
}

// IncomingArgOffset returns the fp-relative offset of the k-th stack-passed
// argument (k counts from 0 among the stack arguments)
func (l *Layout) IncomingArgOffset(k int) int64 {
	return savedFPSize + retAddrSize + int64(k)*l.argSize
}

// alignUp rounds n up to the nearest multiple of align
func alignUp(n, align int64) int64 {
	if align == 0 {
		return n
	}
	return ((n + align - 1) / align) * align
}
