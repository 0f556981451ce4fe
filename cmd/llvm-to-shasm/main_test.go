package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestFlagsExist(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)

	expectedFlags := []string{
		"dir", "dalloc", "dframe", "dasm",
		"asm-out", "ll-out", "target", "entry", "clang-bin", "opt-level",
		"emit-ll", "emit-asm", "jobs", "run", "verbose",
	}
	for _, flagName := range expectedFlags {
		if cmd.Flags().Lookup(flagName) == nil {
			t.Errorf("expected flag --%s to exist", flagName)
		}
	}
}

func TestNormalizeFlags(t *testing.T) {
	got := normalizeFlags([]string{"-dasm", "-dir", "-o", "out.asm", "--dframe", "-dalloc", "-v", "fib.ll"})
	want := []string{"--dasm", "--dir", "-o", "out.asm", "--dframe", "--dalloc", "-v", "fib.ll"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("normalizeFlags = %v, want %v", got, want)
	}
}

func TestNormalizeNegatedFlags(t *testing.T) {
	got := normalizeFlags([]string{"--no-emit-ll", "--no-emit-asm", "--emit-ll", "fib.c"})
	want := []string{"--emit-ll=false", "--emit-asm=false", "--emit-ll", "fib.c"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("normalizeFlags = %v, want %v", got, want)
	}
}

func TestNoArgsPrintsHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "llvm-to-shasm [file]") {
		t.Errorf("expected usage, got %q", out.String())
	}
}

// copyFixture copies a testdata file into a fresh directory
func copyFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("../../testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// execute runs the command line and returns stdout, stderr and the error
func execute(args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(normalizeFlags(args))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestCompileWritesSiblingAsm(t *testing.T) {
	ll := copyFixture(t, "fib.ll")
	out, errOut, err := execute(ll)
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, errOut)
	}

	asmFile := strings.TrimSuffix(ll, ".ll") + ".asm"
	if !strings.Contains(out, "shasm: "+asmFile) {
		t.Errorf("expected output to name %s, got %q", asmFile, out)
	}
	content, err := os.ReadFile(asmFile)
	if err != nil {
		t.Fatalf("expected %s to be written: %v", asmFile, err)
	}
	for _, want := range []string{"_start:", "\tcall\tmain", "\thalt", "\t.global\tmain", "main:"} {
		if !strings.Contains(string(content), want) {
			t.Errorf("assembly missing %q", want)
		}
	}
}

func TestRun(t *testing.T) {
	tests := []struct {
		fixture string
		want    string
	}{
		{"fib.ll", "r0 = 1597"},
		{"fib64.ll", "r0 = 1597"},
		{"fib_fast.ll", "r0 = 1597"},
		{"fib_recursive.ll", "r0 = 5"},
	}

	for _, tt := range tests {
		t.Run(tt.fixture, func(t *testing.T) {
			asmFile := filepath.Join(t.TempDir(), "out.asm")
			out, errOut, err := execute("--run", "-o", asmFile, filepath.Join("../../testdata", tt.fixture))
			if err != nil {
				t.Fatalf("unexpected error: %v\n%s", err, errOut)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q, got %q", tt.want, out)
			}
		})
	}
}

func TestDumpFlags(t *testing.T) {
	asmFile := filepath.Join(t.TempDir(), "fib.asm")
	out, errOut, err := execute("-dir", "-dalloc", "-dframe", "-dasm", "-o", asmFile, "../../testdata/fib_recursive.ll")
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, errOut)
	}

	for _, want := range []string{
		"define i32 @fib(i32 %1) {",
		"allocation fib:",
		"allocation main:",
		"frame fib:",
		"\t.global\tfib",
		"\tcall\tfib",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump output missing %q", want)
		}
	}

	// -dasm prints the same text it writes
	content, err := os.ReadFile(asmFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, string(content)) {
		t.Error("-dasm output differs from the written file")
	}
}

func TestVerbose(t *testing.T) {
	asmFile := filepath.Join(t.TempDir(), "fib.asm")
	_, errOut, err := execute("-v", "-o", asmFile, "../../testdata/fib_recursive.ll")
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, errOut)
	}
	for _, want := range []string{"fib: 4 blocks", "main: 1 blocks"} {
		if !strings.Contains(errOut, want) {
			t.Errorf("expected progress line %q, got %q", want, errOut)
		}
	}
}

func TestParseErrorWritesNothing(t *testing.T) {
	dir := t.TempDir()
	ll := filepath.Join(dir, "bad.ll")
	src := "define i32 @main() {\n  %1 = fadd float 1.0, 2.0\n  ret i32 0\n}\n"
	if err := os.WriteFile(ll, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	_, errOut, err := execute(ll)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(errOut, "llvm-to-shasm: "+ll+":2:8: unsupported instruction fadd") {
		t.Errorf("unexpected diagnostics %q", errOut)
	}
	if _, err := os.Stat(filepath.Join(dir, "bad.asm")); !os.IsNotExist(err) {
		t.Error("no assembly should be written when compilation fails")
	}
}

func TestCompileErrorWritesNothing(t *testing.T) {
	dir := t.TempDir()
	ll := filepath.Join(dir, "undef.ll")
	src := "define i32 @main() {\n  %1 = call i32 @missing()\n  ret i32 %1\n}\n"
	if err := os.WriteFile(ll, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	_, errOut, err := execute(ll)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(errOut, "llvm-to-shasm: main: block 0: call to missing: undefined function") {
		t.Errorf("unexpected diagnostics %q", errOut)
	}
	if _, err := os.Stat(filepath.Join(dir, "undef.asm")); !os.IsNotExist(err) {
		t.Error("no assembly should be written when compilation fails")
	}
}

func TestTargetFlag(t *testing.T) {
	dir := t.TempDir()
	desc := filepath.Join(dir, "tight.yaml")
	descriptor := `name: tight
registers:
  allocatable: [r1, r2]
  scratch: [r13, r14]
calling_convention:
  args: [r1]
`
	if err := os.WriteFile(desc, []byte(descriptor), 0644); err != nil {
		t.Fatal(err)
	}

	out, errOut, err := execute("--target", desc, "--run", "-o", filepath.Join(dir, "fib.asm"), "../../testdata/fib_recursive.ll")
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, errOut)
	}
	if !strings.Contains(out, "r0 = 5") {
		t.Errorf("expected r0 = 5, got %q", out)
	}

	_, errOut, err = execute("--target", filepath.Join(dir, "missing.yaml"), "-o", filepath.Join(dir, "x.asm"), "../../testdata/fib.ll")
	if err == nil {
		t.Fatal("expected error for missing descriptor")
	}
	if !strings.Contains(errOut, "missing.yaml") {
		t.Errorf("diagnostic should name the descriptor, got %q", errOut)
	}
}

func TestRunWithoutEntry(t *testing.T) {
	dir := t.TempDir()
	ll := filepath.Join(dir, "lib.ll")
	if err := os.WriteFile(ll, []byte("define i32 @f() {\n  ret i32 0\n}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, errOut, err := execute("--run", ll)
	if !errors.Is(err, ErrNoEntry) {
		t.Fatalf("expected ErrNoEntry, got %v", err)
	}
	if !strings.Contains(errOut, "no entry function") {
		t.Errorf("unexpected diagnostics %q", errOut)
	}
	content, err := os.ReadFile(filepath.Join(dir, "lib.asm"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(content), "_start") {
		t.Error("no _start stub expected without an entry function")
	}
}

func TestExplicitEntry(t *testing.T) {
	dir := t.TempDir()
	ll := filepath.Join(dir, "lib.ll")
	if err := os.WriteFile(ll, []byte("define i32 @answer() {\n  ret i32 42\n}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, errOut, err := execute("--entry", "answer", "--run", ll)
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, errOut)
	}
	if !strings.Contains(out, "r0 = 42") {
		t.Errorf("expected r0 = 42, got %q", out)
	}
}

// fakeClang writes a script that stands in for clang by copying fixture to
// the path after -o
func fakeClang(t *testing.T, fixture string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	src, err := filepath.Abs(filepath.Join("../../testdata", fixture))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "clang")
	script := "#!/bin/sh\nfor last; do :; done\ncp '" + src + "' \"$last\"\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCSource(t *testing.T) {
	clang := fakeClang(t, "fib.ll")
	dir := t.TempDir()
	c := filepath.Join(dir, "fib.c")
	if err := os.WriteFile(c, []byte("int main(void) { return 0; }\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, errOut, err := execute("--clang-bin", clang, "-O0", "--run", c)
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, errOut)
	}
	for _, want := range []string{
		"LLVM IR: " + filepath.Join(dir, "fib.ll"),
		"shasm: " + filepath.Join(dir, "fib.asm"),
		"r0 = 1597",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestCSourceWithoutAsm(t *testing.T) {
	clang := fakeClang(t, "fib_recursive.ll")
	dir := t.TempDir()
	c := filepath.Join(dir, "fib.c")
	if err := os.WriteFile(c, []byte("int main(void) { return 0; }\n"), 0644); err != nil {
		t.Fatal(err)
	}
	ll := filepath.Join(dir, "ir", "out.ll")

	out, errOut, err := execute("--clang-bin", clang, "--ll-out", ll, "--emit-asm=false", c)
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, errOut)
	}
	if !strings.Contains(out, "LLVM IR: "+ll) {
		t.Errorf("unexpected output %q", out)
	}
	if _, err := os.Stat(ll); err != nil {
		t.Errorf("expected %s: %v", ll, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "fib.asm")); !os.IsNotExist(err) {
		t.Error("--emit-asm=false should not write assembly")
	}
}

func TestCSourceReusesIR(t *testing.T) {
	dir := t.TempDir()
	c := filepath.Join(dir, "fib.c")
	if err := os.WriteFile(c, []byte("int main(void) { return 0; }\n"), 0644); err != nil {
		t.Fatal(err)
	}
	missingClang := filepath.Join(dir, "no-such-clang")

	t.Run("missing", func(t *testing.T) {
		out, errOut, err := execute("--clang-bin", missingClang, "--no-emit-ll", c)
		if !errors.Is(err, ErrNoIR) {
			t.Fatalf("error = %v, want ErrNoIR", err)
		}
		if !strings.Contains(errOut, "LLVM IR file not found: "+filepath.Join(dir, "fib.ll")) {
			t.Errorf("unexpected diagnostic %q", errOut)
		}
		if strings.Contains(out, "LLVM IR:") {
			t.Errorf("clang should not run, got %q", out)
		}
	})

	t.Run("existing", func(t *testing.T) {
		data, err := os.ReadFile("../../testdata/fib_recursive.ll")
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "fib.ll"), data, 0644); err != nil {
			t.Fatal(err)
		}
		out, errOut, err := execute("--clang-bin", missingClang, "--no-emit-ll", "--run", c)
		if err != nil {
			t.Fatalf("unexpected error: %v\n%s", err, errOut)
		}
		if strings.Contains(out, "LLVM IR:") {
			t.Errorf("clang should not run, got %q", out)
		}
		if !strings.Contains(out, "r0 = 5") {
			t.Errorf("expected r0 = 5, got %q", out)
		}
	})
}

func TestBadOptLevel(t *testing.T) {
	dir := t.TempDir()
	c := filepath.Join(dir, "fib.c")
	if err := os.WriteFile(c, []byte("int main(void) { return 0; }\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, errOut, err := execute("--clang-bin", "clang", "--opt-level", "O7", c)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(errOut, "unsupported optimization level") {
		t.Errorf("unexpected diagnostics %q", errOut)
	}
}
