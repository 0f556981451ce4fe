package ireval

import (
	"errors"
	"testing"

	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/ir/irtest"
)

func TestEvalFixtures(t *testing.T) {
	tests := []struct {
		name string
		mod  *ir.Module
		fn   string
		args []int64
		want int64
	}{
		{"array fib i32", irtest.Module(irtest.ArrayFib(ir.W32)), "fib", []int64{17}, 1597},
		{"array fib i64", irtest.Module(irtest.ArrayFib(ir.W64)), "fib", []int64{17}, 1597},
		{"rolling fib", irtest.Module(irtest.RollingFib(ir.W32)), "fib", []int64{17}, 1597},
		{"rolling fib small", irtest.Module(irtest.RollingFib(ir.W32)), "fib", []int64{1}, 1},
		{"recursive fib", irtest.Module(irtest.RecursiveFib(ir.W32)), "fib", []int64{5}, 5},
		{"recursive fib 15", irtest.Module(irtest.RecursiveFib(ir.W64)), "fib", []int64{15}, 610},
		{"main", irtest.Module(irtest.Main("fib", ir.W32, 17), irtest.RollingFib(ir.W32)), "main", nil, 1597},
		{"swap odd", irtest.Module(irtest.SwapLoop()), "swap", []int64{3}, 12},
		{"swap even", irtest.Module(irtest.SwapLoop()), "swap", []int64{4}, 21},
		{"spill stress", irtest.Module(irtest.SpillStress(8)), "stress", []int64{100}, 836},
		{"many args", irtest.Module(irtest.ManyArgs()), "many", []int64{10, 3, 4, 5, 6, 7}, 28},
		{"call many", irtest.Module(irtest.CallMany(10, 3, 4, 5, 6, 7), irtest.ManyArgs()), "main", nil, 28},
		{"widths", irtest.Module(irtest.Widths()), "widths", []int64{300}, 181},
		{"widths negative", irtest.Module(irtest.Widths()), "widths", []int64{-1}, 66},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.mod, tt.fn, tt.args...)
			if err != nil {
				t.Fatalf("Eval() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Eval() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEvalErrors(t *testing.T) {
	t.Run("undefined function", func(t *testing.T) {
		_, err := Eval(irtest.Module(irtest.Main("nope", ir.W32, 1)), "main")
		if !errors.Is(err, ErrNoFunction) {
			t.Errorf("error = %v, want ErrNoFunction", err)
		}
	})

	t.Run("argument count", func(t *testing.T) {
		_, err := Eval(irtest.Module(irtest.ManyArgs()), "many", 1, 2)
		if !errors.Is(err, ErrArgCount) {
			t.Errorf("error = %v, want ErrArgCount", err)
		}
	})

	t.Run("division by zero", func(t *testing.T) {
		b := ir.NewBuilder("div", ir.W32)
		x := b.Param(ir.W32)
		b.SetBlock(b.Block("entry"))
		b.Return(b.Binop(ir.SDiv, ir.Const(10, ir.W32), x))
		fn, err := b.Finish()
		if err != nil {
			t.Fatal(err)
		}
		_, err = Eval(irtest.Module(fn), "div", 0)
		if !errors.Is(err, ir.ErrDivideByZero) {
			t.Errorf("error = %v, want ErrDivideByZero", err)
		}
	})

	t.Run("recursion depth", func(t *testing.T) {
		in := New(irtest.Module(irtest.RecursiveFib(ir.W32)))
		in.MaxDepth = 3
		_, err := in.Call("fib", 10)
		if !errors.Is(err, ErrStackOverflow) {
			t.Errorf("error = %v, want ErrStackOverflow", err)
		}
	})

	t.Run("step limit", func(t *testing.T) {
		in := New(irtest.Module(irtest.RollingFib(ir.W32)))
		in.MaxSteps = 20
		_, err := in.Call("fib", 1000)
		if !errors.Is(err, ErrStepLimit) {
			t.Errorf("error = %v, want ErrStepLimit", err)
		}
	})
}
