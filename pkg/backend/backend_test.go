package backend

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/raymyers/llvm-to-shasm/pkg/asm"
	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/ir/irtest"
	"github.com/raymyers/llvm-to-shasm/pkg/ireval"
	"github.com/raymyers/llvm-to-shasm/pkg/regalloc"
	"github.com/raymyers/llvm-to-shasm/pkg/sim"
	"github.com/raymyers/llvm-to-shasm/pkg/stacking"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
)

func twoRegisters(t *testing.T) *target.Descriptor {
	t.Helper()
	cfg := target.DefaultConfig()
	cfg.Name = "tight"
	cfg.Registers.Allocatable = []string{"r1", "r2"}
	cfg.CallingConvention.Args = []string{"r1"}
	d, err := target.New(cfg)
	if err != nil {
		t.Fatalf("target.New() error: %v", err)
	}
	return d
}

func render(t *testing.T, out *Output) string {
	t.Helper()
	var buf bytes.Buffer
	asm.NewPrinter(&buf).PrintProgram(out.Program)
	return buf.String()
}

func TestCompileModuleRuns(t *testing.T) {
	tests := []struct {
		name  string
		mod   *ir.Module
		entry string
		want  int64
	}{
		{"array fib", irtest.Module(irtest.Main("fib", ir.W32, 17), irtest.ArrayFib(ir.W32)), "main", 1597},
		{"array fib 64", irtest.Module(irtest.Main("fib", ir.W64, 17), irtest.ArrayFib(ir.W64)), "main", 1597},
		{"rolling fib", irtest.Module(irtest.Main("fib", ir.W32, 17), irtest.RollingFib(ir.W32)), "main", 1597},
		{"recursive fib", irtest.Module(irtest.Main("fib", ir.W32, 5), irtest.RecursiveFib(ir.W32)), "main", 5},
		{"stack arguments", irtest.Module(irtest.CallMany(10, 3, 4, 5, 6, 7), irtest.ManyArgs()), "main", 28},
	}
	descs := map[string]*target.Descriptor{
		"default": target.Default(),
		"tight":   twoRegisters(t),
	}
	for dname, desc := range descs {
		for _, tt := range tests {
			t.Run(dname+"/"+tt.name, func(t *testing.T) {
				out, err := CompileModule(context.Background(), tt.mod, desc, Options{Entry: tt.entry})
				if err != nil {
					t.Fatalf("CompileModule() error: %v", err)
				}
				ref, err := ireval.Eval(tt.mod, tt.entry)
				if err != nil {
					t.Fatalf("ireval: %v", err)
				}

				// run the printed text, not the in-memory program
				code, err := asm.Parse(strings.NewReader(render(t, out)))
				if err != nil {
					t.Fatalf("Parse() error: %v", err)
				}
				m, err := sim.New(code)
				if err != nil {
					t.Fatal(err)
				}
				got, err := m.Run(asm.StartLabel)
				if err != nil {
					t.Fatalf("Run() error: %v", err)
				}
				if got != tt.want || got != ref {
					t.Errorf("sim = %d, ireval = %d, want %d", got, ref, tt.want)
				}
			})
		}
	}
}

func TestFunctionOrderAndDeterminism(t *testing.T) {
	mod := func() *ir.Module {
		return irtest.Module(
			irtest.CallMany(1, 2, 3, 4, 5, 6),
			irtest.ManyArgs(),
			irtest.SpillStress(20),
			irtest.SwapLoop(),
			irtest.Widths(),
		)
	}
	desc := twoRegisters(t)
	first, err := CompileModule(context.Background(), mod(), desc, Options{Entry: "main", Jobs: 1})
	if err != nil {
		t.Fatalf("CompileModule() error: %v", err)
	}
	want := render(t, first)

	var names []string
	for _, f := range first.Program.Functions {
		names = append(names, f.Name)
	}
	if got := strings.Join(names, " "); got != "main many stress swap widths" {
		t.Errorf("function order = %s", got)
	}

	for _, jobs := range []int{1, 4, 0} {
		out, err := CompileModule(context.Background(), mod(), desc, Options{Entry: "main", Jobs: jobs})
		if err != nil {
			t.Fatalf("jobs=%d: %v", jobs, err)
		}
		if got := render(t, out); got != want {
			t.Errorf("jobs=%d: output differs", jobs)
		}
	}
}

func TestRegisterAssignmentValid(t *testing.T) {
	desc := twoRegisters(t)
	array := irtest.ArrayFib(ir.W32)
	array.Name = "array_fib"
	out, err := CompileModule(context.Background(),
		irtest.Module(irtest.SpillStress(16), irtest.RecursiveFib(ir.W64), array),
		desc, Options{})
	if err != nil {
		t.Fatalf("CompileModule() error: %v", err)
	}
	for _, c := range out.Functions {
		if err := regalloc.Check(c.Alloc, desc); err != nil {
			t.Errorf("%s: %v", c.Func.Name, err)
		}
		if len(c.Alloc.Spilled) == 0 && c.Func.Name == "stress" {
			t.Errorf("stress should spill with two registers")
		}
		// frame slots are disjoint and inside the frame
		type span struct{ lo, hi int64 }
		var seen []span
		for _, s := range c.Layout.Slots {
			cur := span{s.Offset, s.Offset + s.Size}
			if cur.lo < -c.Layout.Size || cur.hi > 0 {
				t.Errorf("%s: slot %s [%d,%d) outside frame of %d", c.Func.Name, s.Name, cur.lo, cur.hi, c.Layout.Size)
			}
			for _, o := range seen {
				if cur.lo < o.hi && o.lo < cur.hi {
					t.Errorf("%s: slot %s overlaps [%d,%d)", c.Func.Name, s.Name, o.lo, o.hi)
				}
			}
			seen = append(seen, cur)
		}
	}
}

func TestCompileModuleErrors(t *testing.T) {
	t.Run("undefined callee", func(t *testing.T) {
		_, err := CompileModule(context.Background(), irtest.Module(irtest.Main("nope", ir.W32, 1)), target.Default(), Options{})
		if !errors.Is(err, ErrUndefined) {
			t.Fatalf("error = %v, want ErrUndefined", err)
		}
		if !strings.Contains(err.Error(), "main: block entry: call to nope") {
			t.Errorf("error text %q", err)
		}
	})

	t.Run("undefined entry", func(t *testing.T) {
		_, err := CompileModule(context.Background(), irtest.Module(irtest.SwapLoop()), target.Default(), Options{Entry: "main"})
		if !errors.Is(err, ErrUndefined) {
			t.Errorf("error = %v, want ErrUndefined", err)
		}
	})

	t.Run("duplicate function", func(t *testing.T) {
		mod := irtest.Module(irtest.RecursiveFib(ir.W32), irtest.ArrayFib(ir.W32))
		_, err := CompileModule(context.Background(), mod, target.Default(), Options{})
		if !errors.Is(err, ErrDuplicate) {
			t.Fatalf("error = %v, want ErrDuplicate", err)
		}
		if errors.Is(err, ErrInternal) || !strings.Contains(err.Error(), "fib: duplicate function") {
			t.Errorf("error text %q", err)
		}
	})

	t.Run("every failing function reported", func(t *testing.T) {
		cfg := target.DefaultConfig()
		cfg.Registers.Allocatable = []string{"r1"}
		cfg.Registers.Scratch = []string{"r13"}
		cfg.CallingConvention.Args = []string{"r1"}
		desc, err := target.New(cfg)
		if err != nil {
			t.Fatal(err)
		}
		stress := irtest.SpillStress(4)
		widths := irtest.Widths()
		widths.Name = "w2"
		_, err = CompileModule(context.Background(), irtest.Module(stress, irtest.Widths(), widths), desc, Options{Jobs: 2})
		var capErr *regalloc.CapacityError
		if !errors.As(err, &capErr) {
			t.Fatalf("error = %v, want *regalloc.CapacityError", err)
		}
		for _, name := range []string{"stress:", "widths:", "w2:"} {
			if !strings.Contains(err.Error(), name) {
				t.Errorf("error should mention %s:\n%v", name, err)
			}
		}
	})

	t.Run("frame overflow", func(t *testing.T) {
		cfg := target.DefaultConfig()
		cfg.Stack.MaxFrame = 32
		desc, err := target.New(cfg)
		if err != nil {
			t.Fatal(err)
		}
		_, err = CompileModule(context.Background(), irtest.Module(irtest.ArrayFib(ir.W32)), desc, Options{})
		var overflow *stacking.FrameOverflowError
		if !errors.As(err, &overflow) {
			t.Errorf("error = %v, want *stacking.FrameOverflowError", err)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		out, err := CompileModule(ctx, irtest.Module(irtest.SwapLoop()), target.Default(), Options{})
		if !errors.Is(err, context.Canceled) || out != nil {
			t.Errorf("CompileModule() = %v, %v; want nil, context.Canceled", out, err)
		}
	})
}

func TestCallResultWithoutScratch(t *testing.T) {
	cfg := target.DefaultConfig()
	cfg.Registers.Scratch = nil
	desc, err := target.New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	seven := ir.NewBuilder("seven", ir.W32)
	seven.SetBlock(seven.Block("entry"))
	seven.Return(ir.Const(7, ir.W32))
	callee, err := seven.Finish()
	if err != nil {
		t.Fatal(err)
	}
	b := ir.NewBuilder("main", ir.W32)
	b.SetBlock(b.Block("entry"))
	r := b.Call("seven", ir.W32)
	b.Return(*r)
	caller, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	out, err := CompileModule(context.Background(), irtest.Module(caller, callee), desc, Options{Entry: "main"})
	if err != nil {
		t.Fatalf("CompileModule() error: %v", err)
	}
	code, err := asm.Parse(strings.NewReader(render(t, out)))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	m, err := sim.New(code)
	if err != nil {
		t.Fatal(err)
	}
	if got, err := m.Run(asm.StartLabel); err != nil || got != 7 {
		t.Errorf("Run() = %d, %v; want 7", got, err)
	}
}

func TestLog(t *testing.T) {
	var log bytes.Buffer
	_, err := CompileModule(context.Background(), irtest.Module(irtest.RecursiveFib(ir.W32)), target.Default(), Options{Log: &log})
	if err != nil {
		t.Fatal(err)
	}
	want := "fib: 3 blocks, 7 values, 2 spilled, frame 16 bytes\n"
	if log.String() != want {
		t.Errorf("log = %q, want %q", log.String(), want)
	}
}
