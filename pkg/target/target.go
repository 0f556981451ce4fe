// Package target describes the shasm machine to the backend: its registers,
// the instruction forms available at each width, the calling convention and
// the stack discipline. A Descriptor is immutable once built and may be shared
// by concurrent compilations.
package target

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/raymyers/llvm-to-shasm/pkg/ir"
)

// Reg is a physical register
type Reg uint8

const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	FP
	SP
)

// NumRegs is the size of the register file, fp and sp included
const NumRegs = int(SP) + 1

func (r Reg) String() string {
	switch r {
	case FP:
		return "fp"
	case SP:
		return "sp"
	}
	if r < FP {
		return fmt.Sprintf("r%d", uint8(r))
	}
	return fmt.Sprintf("reg?%d", uint8(r))
}

// ParseReg parses a register name such as "r3", "fp" or "sp"
func ParseReg(s string) (Reg, error) {
	switch s {
	case "fp":
		return FP, nil
	case "sp":
		return SP, nil
	}
	if strings.HasPrefix(s, "r") {
		n, err := strconv.Atoi(s[1:])
		if err == nil && n >= 0 && n < int(FP) {
			return Reg(n), nil
		}
	}
	return 0, fmt.Errorf("unknown register %q", s)
}

// Form is a class of instruction forms the machine may provide at a width
type Form uint8

const (
	FormAdd Form = iota
	FormSub
	FormMul
	FormDiv
	FormLogic
	FormShift
	FormCmp
	FormLoad
	FormStore
	FormMove
	numForms
)

var formNames = []string{"add", "sub", "mul", "div", "logic", "shift", "cmp", "load", "store", "move"}

func (f Form) String() string {
	if f < numForms {
		return formNames[f]
	}
	return "?"
}

// ParseForm parses a form class name
func ParseForm(s string) (Form, error) {
	for i, name := range formNames {
		if name == s {
			return Form(i), nil
		}
	}
	return 0, fmt.Errorf("unknown instruction form %q", s)
}

// FormSet is a set of forms
type FormSet uint16

// AllForms contains every form class
const AllForms FormSet = 1<<numForms - 1

// Has reports whether the set contains f
func (s FormSet) Has(f Form) bool {
	return s&(1<<f) != 0
}

// With returns s plus f
func (s FormSet) With(f Form) FormSet {
	return s | 1<<f
}

// FormFor returns the form class implementing a binary operator
func FormFor(op ir.BinOp) Form {
	switch op {
	case ir.Add:
		return FormAdd
	case ir.Sub:
		return FormSub
	case ir.Mul:
		return FormMul
	case ir.SDiv, ir.UDiv, ir.SRem, ir.URem:
		return FormDiv
	case ir.And, ir.Or, ir.Xor:
		return FormLogic
	}
	return FormShift
}

var (
	// ErrNoRegisters is returned for a descriptor without allocatable registers
	ErrNoRegisters = errors.New("target: no allocatable registers")
	// ErrInvalidConfig wraps every other descriptor validation failure
	ErrInvalidConfig = errors.New("target: invalid descriptor")
)

// Descriptor is the machine description the backend compiles against
type Descriptor struct {
	Name string

	Allocatable []Reg // in allocation preference order
	Return      Reg
	Scratch     []Reg // reserved for reloads, spill stores and move cycles
	ArgRegs     []Reg
	CalleeSaved []Reg // subset of Allocatable

	Forms map[ir.Width]FormSet

	StackAlign   int64 // frame size is a multiple of this
	SlotAlign    int64 // locals and arrays are padded to this
	MaxFrameSize int64
	StackArgSize int64 // bytes per stack-passed argument
	GrowsDown    bool
}

// Supports reports whether the machine has the form at width w
func (d *Descriptor) Supports(w ir.Width, f Form) bool {
	return d.Forms[w].Has(f)
}

// IsCalleeSaved reports whether r must be preserved across calls
func (d *Descriptor) IsCalleeSaved(r Reg) bool {
	for _, c := range d.CalleeSaved {
		if c == r {
			return true
		}
	}
	return false
}

// Default returns the built-in shasm descriptor
func Default() *Descriptor {
	d, err := New(DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("target: default descriptor: %v", err))
	}
	return d
}
