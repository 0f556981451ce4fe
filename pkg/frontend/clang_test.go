package frontend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestNormalizeOptLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
		err   bool
	}{
		{"", "O0", false},
		{"O0", "O0", false},
		{"-O2", "O2", false},
		{"o3", "O3", false},
		{" os ", "Os", false},
		{"-Oz", "Oz", false},
		{"2", "O2", false},
		{"s", "Os", false},
		{"O4", "", true},
		{"fast", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeOptLevel(tt.input)
			if tt.err {
				if !errors.Is(err, ErrOptLevel) {
					t.Fatalf("expected ErrOptLevel, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeOptLevel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestArgs(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"default", Options{}, "-S -emit-llvm -O0 -Xclang -disable-O0-optnone fib.c -o fib.ll"},
		{"optimized", Options{OptLevel: "O2"}, "-S -emit-llvm -O2 fib.c -o fib.ll"},
		{"extra", Options{OptLevel: "Os", ExtraArgs: []string{"-DN=5"}}, "-S -emit-llvm -Os -DN=5 fib.c -o fib.ll"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := Args("fib.c", "fib.ll", tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if got := strings.Join(args, " "); got != tt.want {
				t.Errorf("args = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsC(t *testing.T) {
	for name, want := range map[string]bool{
		"fib.c": true, "FIB.C": true, "fib.i": true, "fib.ll": false, "fib": false,
	} {
		if got := IsC(name); got != want {
			t.Errorf("IsC(%q) = %v, want %v", name, got, want)
		}
	}
}

// fakeClang writes a shell script standing in for clang
func fakeClang(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "clang")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCompileC(t *testing.T) {
	// records its arguments in the output file, which is the last argument
	clang := fakeClang(t, `for last; do :; done
echo "$@" > "$last"
`)
	dir := t.TempDir()
	ll := filepath.Join(dir, "out", "fib.ll")

	if err := CompileC(context.Background(), "fib.c", ll, Options{ClangBin: clang}); err != nil {
		t.Fatalf("CompileC: %v", err)
	}
	data, err := os.ReadFile(ll)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "-S -emit-llvm -O0 -Xclang -disable-O0-optnone fib.c -o") {
		t.Errorf("clang invoked with %q", data)
	}
}

func TestCompileCFailure(t *testing.T) {
	clang := fakeClang(t, "echo 'fib.c:3:1: error: expected expression' >&2\nexit 1\n")
	ll := filepath.Join(t.TempDir(), "fib.ll")

	err := CompileC(context.Background(), "fib.c", ll, Options{ClangBin: clang})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "expected expression") {
		t.Errorf("error %q does not carry clang's diagnostics", err)
	}
}

func TestCompileCBadLevel(t *testing.T) {
	err := CompileC(context.Background(), "fib.c", "fib.ll", Options{ClangBin: "clang", OptLevel: "O9"})
	if !errors.Is(err, ErrOptLevel) {
		t.Fatalf("expected ErrOptLevel, got %v", err)
	}
}
