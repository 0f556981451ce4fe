package sim

import (
	"errors"
	"strings"
	"testing"

	"github.com/raymyers/llvm-to-shasm/pkg/asm"
	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
)

func load(t *testing.T, src string) *Machine {
	t.Helper()
	code, err := asm.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	m, err := New(code)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return m
}

const sumTo = `
	.global	sum
sum:
	push	fp
	mov.64	fp, sp
	movi.32	r2, #0
.Lsum.loop:
	cmp.sle.32	r3, r1, #0
	jnz	r3, .Lsum.done
	add.32	r2, r2, r1
	sub.32	r1, r1, #1
	jmp	.Lsum.loop
.Lsum.done:
	mov.32	r0, r2
	mov.64	sp, fp
	pop	fp
	ret
`

func TestCall(t *testing.T) {
	m := load(t, sumTo)
	got, err := m.Call(target.Default(), "sum", 10)
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if got != 55 {
		t.Errorf("sum(10) = %d, want 55", got)
	}
	if m.MaxDepth != 16 {
		t.Errorf("MaxDepth = %d, want 16 (return address and saved fp)", m.MaxDepth)
	}
}

func TestRunEntryStub(t *testing.T) {
	src := `
_start:
	call	main
	halt
main:
	movi.64	r0, #42
	ret
`
	m := load(t, src)
	got, err := m.Run(asm.StartLabel)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got != 42 {
		t.Errorf("Run() = %d, want 42", got)
	}
}

func TestStackArguments(t *testing.T) {
	// second stack argument minus the first register argument
	src := `
f:
	push	fp
	mov.64	fp, sp
	ld.32	r0, [fp, #24]
	sub.32	r0, r0, r1
	mov.64	sp, fp
	pop	fp
	ret
`
	desc := target.Default()
	m := load(t, src)
	got, err := m.Call(desc, "f", 5, 0, 0, 0, 100, 47)
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if got != 42 {
		t.Errorf("f() = %d, want 42", got)
	}
}

func TestSemantics(t *testing.T) {
	tests := []struct {
		name string
		code []asm.Instruction
		want int64
	}{
		{"add wraps at i8", []asm.Instruction{
			asm.Movi{W: ir.W8, Rd: asm.R1, Imm: 127},
			asm.AluImm{Op: ir.Add, W: ir.W8, Rd: asm.R0, Rn: asm.R1, Imm: 1},
		}, -128},
		{"udiv sees low bits", []asm.Instruction{
			asm.Movi{W: ir.W32, Rd: asm.R1, Imm: -2},
			asm.AluImm{Op: ir.UDiv, W: ir.W32, Rd: asm.R0, Rn: asm.R1, Imm: 2},
		}, 0x7fffffff},
		{"lshr", []asm.Instruction{
			asm.Movi{W: ir.W16, Rd: asm.R1, Imm: -1},
			asm.AluImm{Op: ir.LShr, W: ir.W16, Rd: asm.R0, Rn: asm.R1, Imm: 12},
		}, 15},
		{"shift amount masked", []asm.Instruction{
			asm.Movi{W: ir.W32, Rd: asm.R1, Imm: 1},
			asm.AluImm{Op: ir.Shl, W: ir.W32, Rd: asm.R0, Rn: asm.R1, Imm: 33},
		}, 2},
		{"unsigned compare", []asm.Instruction{
			asm.Movi{W: ir.W32, Rd: asm.R1, Imm: -1},
			asm.CmpImm{Cond: ir.Ugt, W: ir.W32, Rd: asm.R0, Rn: asm.R1, Imm: 5},
		}, 1},
		{"zext", []asm.Instruction{
			asm.Movi{W: ir.W8, Rd: asm.R1, Imm: -1},
			asm.Zext{W: ir.W8, Rd: asm.R0, Rs: asm.R1},
		}, 255},
		{"truncating move", []asm.Instruction{
			asm.Movi{W: ir.W32, Rd: asm.R1, Imm: 0x1ff},
			asm.Mov{W: ir.W8, Rd: asm.R0, Rs: asm.R1},
		}, -1},
		{"store and load narrow", []asm.Instruction{
			asm.Movi{W: ir.W32, Rd: asm.R1, Imm: 0x12345678},
			asm.St{W: ir.W16, Rs: asm.R1, Mem: asm.Addr{Base: asm.SP, Off: -8}},
			asm.Ld{W: ir.W16, Rd: asm.R0, Mem: asm.Addr{Base: asm.SP, Off: -8}},
		}, 0x5678},
		{"indexed lea", []asm.Instruction{
			asm.Movi{W: ir.W64, Rd: asm.R1, Imm: 3},
			asm.Movi{W: ir.W64, Rd: asm.R2, Imm: 100},
			asm.Lea{Rd: asm.R0, Mem: asm.Addr{Base: asm.R2, Index: asm.R1, HasIndex: true, Scale: 4, Off: -2}},
		}, 110},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := append([]asm.Instruction{asm.LabelDef{Name: "t"}}, tt.code...)
			code = append(code, asm.Halt{})
			m, err := New(code)
			if err != nil {
				t.Fatal(err)
			}
			got, err := m.Run("t")
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("r0 = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name string
		code []asm.Instruction
		want error
	}{
		{"divide by zero", []asm.Instruction{
			asm.Movi{W: ir.W32, Rd: asm.R1, Imm: 0},
			asm.Alu{Op: ir.SDiv, W: ir.W32, Rd: asm.R0, Rn: asm.R1, Rm: asm.R1},
		}, ErrDivideByZero},
		{"bad address", []asm.Instruction{
			asm.Ld{W: ir.W64, Rd: asm.R0, Mem: asm.Addr{Base: asm.SP}},
		}, ErrBadAddress},
		{"stack overflow", []asm.Instruction{
			asm.LabelDef{Name: "again"},
			asm.Push{Rs: asm.R0},
			asm.Jmp{Target: "again"},
		}, ErrStackOverflow},
		{"unknown label", []asm.Instruction{
			asm.Jmp{Target: "nowhere"},
		}, ErrUnknownLabel},
		{"step limit", []asm.Instruction{
			asm.LabelDef{Name: "spin"},
			asm.Jmp{Target: "spin"},
		}, ErrStepLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := append([]asm.Instruction{asm.LabelDef{Name: "t"}}, tt.code...)
			code = append(code, asm.Halt{})
			m, err := New(code)
			if err != nil {
				t.Fatal(err)
			}
			m.MaxSteps = 1_000_000
			_, err = m.Run("t")
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			var fault *Fault
			if !errors.As(err, &fault) {
				t.Errorf("error %v is not a *Fault", err)
			}
		})
	}
}

func TestDuplicateLabel(t *testing.T) {
	_, err := New([]asm.Instruction{asm.LabelDef{Name: "a"}, asm.LabelDef{Name: "a"}})
	if !errors.Is(err, ErrDuplicateLabel) {
		t.Errorf("error = %v, want ErrDuplicateLabel", err)
	}
}
