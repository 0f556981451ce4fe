// Package backend drives the pipeline for a module: verify, allocate
// registers, lay out the frame and select instructions for each function,
// then assemble the results into one program.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/raymyers/llvm-to-shasm/pkg/asm"
	"github.com/raymyers/llvm-to-shasm/pkg/asmgen"
	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/regalloc"
	"github.com/raymyers/llvm-to-shasm/pkg/stacking"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
)

var (
	// ErrInternal marks output the backend itself got wrong
	ErrInternal = errors.New("internal error")
	// ErrUndefined reports a call or entry naming a function the module lacks
	ErrUndefined = errors.New("undefined function")
	// ErrDuplicate reports two functions with the same name
	ErrDuplicate = errors.New("duplicate function")
)

// Options controls CompileModule
type Options struct {
	// Entry names the function the _start stub calls; empty for no stub
	Entry string
	// Jobs bounds parallel compilation; zero means GOMAXPROCS
	Jobs int
	// Log receives one progress line per function when set
	Log io.Writer
}

// Compiled holds every stage's output for one function
type Compiled struct {
	Func   *ir.Function
	Alloc  *regalloc.Result
	Layout *stacking.Layout
	Asm    *asm.Function
}

// Output is a compiled module. Functions are in module order.
type Output struct {
	Program   *asm.Program
	Functions []*Compiled
}

// CompileFunction runs the pipeline on one function
func CompileFunction(fn *ir.Function, desc *target.Descriptor) (*Compiled, error) {
	if err := ir.Verify(fn); err != nil {
		return nil, err
	}
	alloc, err := regalloc.Allocate(fn, desc)
	if err != nil {
		return nil, err
	}
	layout, err := stacking.Build(fn, alloc.Spilled, alloc.UsedCalleeSaved, desc)
	if err != nil {
		return nil, err
	}
	code, err := asmgen.TransformFunction(fn, alloc, layout, desc)
	if err != nil {
		return nil, err
	}
	return &Compiled{Func: fn, Alloc: alloc, Layout: layout, Asm: code}, nil
}

// compileGuarded is CompileFunction with emitter panics reported as
// ErrInternal instead of taking down the process
func compileGuarded(fn *ir.Function, desc *target.Descriptor) (c *Compiled, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("%s: %w: %v", fn.Name, ErrInternal, r)
		}
	}()
	return CompileFunction(fn, desc)
}

// checkSymbols reports duplicate definitions and calls to functions the
// module does not define
func checkSymbols(mod *ir.Module, entry string) error {
	var errs []error
	seen := make(map[string]bool)
	for _, fn := range mod.Functions {
		if seen[fn.Name] {
			errs = append(errs, fmt.Errorf("%s: %w", fn.Name, ErrDuplicate))
		}
		seen[fn.Name] = true
	}
	if entry != "" && mod.Function(entry) == nil {
		errs = append(errs, fmt.Errorf("entry %s: %w", entry, ErrUndefined))
	}
	for _, fn := range mod.Functions {
		for _, b := range fn.Blocks {
			for _, instr := range b.Code {
				if call, ok := instr.(ir.Call); ok && mod.Function(call.Callee) == nil {
					errs = append(errs, fmt.Errorf("%s: block %s: call to %s: %w", fn.Name, b.Label, call.Callee, ErrUndefined))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// CompileModule compiles every function of mod, in parallel up to
// opts.Jobs. It is all or nothing: when any function fails the joined
// errors are returned and no output. Cancellation is observed between
// functions.
func CompileModule(ctx context.Context, mod *ir.Module, desc *target.Descriptor, opts Options) (*Output, error) {
	if err := checkSymbols(mod, opts.Entry); err != nil {
		return nil, err
	}
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	compiled := make([]*Compiled, len(mod.Functions))
	errs := make([]error, len(mod.Functions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, fn := range mod.Functions {
		i, fn := i, fn
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			compiled[i], errs[i] = compileGuarded(fn, desc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	prog := &asm.Program{Entry: opts.Entry}
	for _, c := range compiled {
		prog.Functions = append(prog.Functions, *c.Asm)
		if opts.Log != nil {
			fmt.Fprintf(opts.Log, "%s: %d blocks, %d values, %d spilled, frame %d bytes\n",
				c.Func.Name, len(c.Func.Blocks), len(c.Alloc.Intervals), len(c.Alloc.Spilled), c.Layout.Size)
		}
	}
	if err := asm.Validate(prog); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return &Output{Program: prog, Functions: compiled}, nil
}
