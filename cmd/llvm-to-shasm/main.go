package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/raymyers/llvm-to-shasm/pkg/asm"
	"github.com/raymyers/llvm-to-shasm/pkg/backend"
	"github.com/raymyers/llvm-to-shasm/pkg/frontend"
	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/parser"
	"github.com/raymyers/llvm-to-shasm/pkg/sim"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Debug flags for dumping intermediate stages
var (
	dIR    bool
	dAlloc bool
	dFrame bool
	dAsm   bool
)

// Pipeline options
var (
	asmOut     string
	llOut      string
	targetFile string
	entry      string
	clangBin   string
	optLevel   string
	emitLL     bool
	emitAsm    bool
	jobs       int
	runResult  bool
	verbose    bool
)

var (
	// ErrNoEntry is returned by --run when there is no function to start from
	ErrNoEntry = errors.New("no entry function to run")
	// ErrNoIR is returned when --emit-ll=false and the .ll file is missing
	ErrNoIR = errors.New("LLVM IR file not found")
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	// Normalize CompCert-style single-dash flags to double-dash for pflag compatibility
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// debugFlagNames lists the dump flags that also accept a single dash
var debugFlagNames = []string{"dir", "dalloc", "dframe", "dasm"}

// negatedFlags maps the --no-X spelling of boolean flags to --X=false
var negatedFlags = map[string]string{
	"--no-emit-ll":  "--emit-ll=false",
	"--no-emit-asm": "--emit-asm=false",
}

// normalizeFlags converts single-dash dump flags like -dasm to --dasm and
// negated flags like --no-emit-ll to --emit-ll=false
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		if neg, ok := negatedFlags[arg]; ok {
			result[i] = neg
			continue
		}
		for _, flagName := range debugFlagNames {
			if arg == "-"+flagName {
				result[i] = "--" + flagName
				break
			}
		}
		if result[i] == "" {
			result[i] = arg
		}
	}
	return result
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "llvm-to-shasm [file]",
		Short: "llvm-to-shasm compiles LLVM IR (or C, through clang) to shasm assembly",
		Long: `llvm-to-shasm lowers the integer subset of LLVM IR that clang emits
for small C programs to assembly for the shasm register machine.
C sources are first compiled to a sibling .ll file with clang.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Help()
				return nil
			}
			return compile(cmd.Context(), args[0], out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	// Add debug flags
	rootCmd.Flags().BoolVarP(&dIR, "dir", "", false, "Dump the IR after parsing")
	rootCmd.Flags().BoolVarP(&dAlloc, "dalloc", "", false, "Dump register allocation")
	rootCmd.Flags().BoolVarP(&dFrame, "dframe", "", false, "Dump frame layouts")
	rootCmd.Flags().BoolVarP(&dAsm, "dasm", "", false, "Dump assembly")

	rootCmd.Flags().StringVarP(&asmOut, "asm-out", "o", "", "shasm output path (default: sibling .asm file)")
	rootCmd.Flags().StringVar(&llOut, "ll-out", "", "LLVM output path for C input (default: sibling .ll file)")
	rootCmd.Flags().StringVar(&targetFile, "target", "", "Target descriptor YAML (default: built-in shasm)")
	rootCmd.Flags().StringVar(&entry, "entry", "", "Function called by the _start stub (default: main when defined)")
	rootCmd.Flags().StringVar(&clangBin, "clang-bin", "", "clang executable (default: found on PATH)")
	rootCmd.Flags().StringVarP(&optLevel, "opt-level", "O", "O0", "clang optimization level: O0 O1 O2 O3 Os Oz")
	rootCmd.Flags().BoolVar(&emitLL, "emit-ll", true, "Run clang to emit the LLVM IR file for C input (--no-emit-ll reuses an existing one)")
	rootCmd.Flags().BoolVar(&emitAsm, "emit-asm", true, "Emit the shasm file")
	rootCmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Functions compiled in parallel (default: number of CPUs)")
	rootCmd.Flags().BoolVar(&runResult, "run", false, "Run the program in the simulator and print r0")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print per-function progress")

	return rootCmd
}

// siblingPath replaces the extension of filename with ext
func siblingPath(filename, ext string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ext
}

// compile runs the whole pipeline for one input file
func compile(ctx context.Context, filename string, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	llFile := filename
	if frontend.IsC(filename) {
		llFile = llOut
		if llFile == "" {
			llFile = siblingPath(filename, ".ll")
		}
		if emitLL {
			opts := frontend.Options{ClangBin: clangBin, OptLevel: optLevel}
			if err := frontend.CompileC(ctx, filename, llFile, opts); err != nil {
				fmt.Fprintf(errOut, "llvm-to-shasm: %v\n", err)
				return err
			}
			fmt.Fprintf(out, "LLVM IR: %s\n", llFile)
		}
	}
	if !emitAsm {
		return nil
	}
	if _, err := os.Stat(llFile); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(errOut, "llvm-to-shasm: %v: %s\n", ErrNoIR, llFile)
		return fmt.Errorf("%w: %s", ErrNoIR, llFile)
	}

	mod, err := readModule(llFile, errOut)
	if err != nil {
		return err
	}
	if dIR {
		ir.NewPrinter(out).PrintModule(mod)
	}

	desc, err := loadTarget(errOut)
	if err != nil {
		return err
	}

	opts := backend.Options{Entry: entry, Jobs: jobs}
	if opts.Entry == "" && mod.Function("main") != nil {
		opts.Entry = "main"
	}
	if verbose {
		opts.Log = errOut
	}
	res, err := backend.CompileModule(ctx, mod, desc, opts)
	if err != nil {
		report(errOut, err)
		return err
	}

	for _, c := range res.Functions {
		if dAlloc {
			c.Alloc.Dump(out)
		}
		if dFrame {
			c.Layout.Dump(out)
		}
	}

	outputFilename := asmOut
	if outputFilename == "" {
		outputFilename = siblingPath(filename, ".asm")
	}
	if err := writeAsm(outputFilename, res.Program); err != nil {
		fmt.Fprintf(errOut, "llvm-to-shasm: error writing %s: %v\n", outputFilename, err)
		return err
	}
	if dAsm {
		asm.NewPrinter(out).PrintProgram(res.Program)
	} else {
		fmt.Fprintf(out, "shasm: %s\n", outputFilename)
	}

	if runResult {
		return runProgram(res.Program, out, errOut)
	}
	return nil
}

// readModule parses an .ll file into IR
func readModule(filename string, errOut io.Writer) (*ir.Module, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(errOut, "llvm-to-shasm: error reading %s: %v\n", filename, err)
		return nil, err
	}
	mod, err := parser.ParseIR(filename, string(content))
	if err != nil {
		report(errOut, err)
		return nil, err
	}
	return mod, nil
}

func loadTarget(errOut io.Writer) (*target.Descriptor, error) {
	if targetFile == "" {
		return target.Default(), nil
	}
	desc, err := target.LoadFile(targetFile)
	if err != nil {
		fmt.Fprintf(errOut, "llvm-to-shasm: %v\n", err)
		return nil, err
	}
	return desc, nil
}

// report prints one diagnostic line per joined error
func report(errOut io.Writer, err error) {
	for _, line := range strings.Split(err.Error(), "\n") {
		if line != "" {
			fmt.Fprintf(errOut, "llvm-to-shasm: %s\n", line)
		}
	}
}

// writeAsm prints the program to filename. Nothing is written unless every
// function compiled.
func writeAsm(filename string, prog *asm.Program) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	outFile, err := os.Create(filename)
	if err != nil {
		return err
	}
	printer := asm.NewPrinter(outFile)
	printer.PrintProgram(prog)
	return outFile.Close()
}

// runProgram executes the program from its _start stub and prints r0
func runProgram(prog *asm.Program, out, errOut io.Writer) error {
	if prog.Entry == "" {
		fmt.Fprintf(errOut, "llvm-to-shasm: %v\n", ErrNoEntry)
		return ErrNoEntry
	}
	m, err := sim.Load(prog)
	if err != nil {
		fmt.Fprintf(errOut, "llvm-to-shasm: %v\n", err)
		return err
	}
	r0, err := m.Run(asm.StartLabel)
	if err != nil {
		fmt.Fprintf(errOut, "llvm-to-shasm: run: %v\n", err)
		return err
	}
	fmt.Fprintf(out, "r0 = %d\n", r0)
	return nil
}
