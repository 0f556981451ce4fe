// Package frontend turns C sources into LLVM IR by running clang.
// Everything after that, parsing included, happens in-process.
package frontend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrOptLevel is returned for an optimization level clang does not accept
var ErrOptLevel = errors.New("unsupported optimization level")

// ErrNoClang is returned when no clang binary can be found
var ErrNoClang = errors.New("no clang found")

// Options configures the clang invocation
type Options struct {
	ClangBin  string   // clang executable; found on PATH when empty
	OptLevel  string   // O0 O1 O2 O3 Os Oz, with or without the dash
	ExtraArgs []string // passed through before the input file
}

var optLevels = map[string]string{
	"O0": "O0", "O1": "O1", "O2": "O2", "O3": "O3", "OS": "Os", "OZ": "Oz",
}

// NormalizeOptLevel accepts "O2", "-o2", "2", " os " and the like and
// returns the spelling clang expects. An empty level means O0.
func NormalizeOptLevel(level string) (string, error) {
	l := strings.ToUpper(strings.TrimSpace(level))
	l = strings.TrimPrefix(l, "-")
	if l == "" {
		return "O0", nil
	}
	if !strings.HasPrefix(l, "O") {
		l = "O" + l
	}
	if norm, ok := optLevels[l]; ok {
		return norm, nil
	}
	return "", fmt.Errorf("%w: %q", ErrOptLevel, level)
}

// Args returns the clang arguments that compile cFile to llFile
func Args(cFile, llFile string, opts Options) ([]string, error) {
	level, err := NormalizeOptLevel(opts.OptLevel)
	if err != nil {
		return nil, err
	}
	args := []string{"-S", "-emit-llvm", "-" + level}
	// At O0 clang marks every function optnone, which keeps allocas for all
	// locals but also blocks any pass run on the result later.
	if level == "O0" {
		args = append(args, "-Xclang", "-disable-O0-optnone")
	}
	args = append(args, opts.ExtraArgs...)
	return append(args, cFile, "-o", llFile), nil
}

// CompileC runs clang on cFile and writes textual LLVM IR to llFile
func CompileC(ctx context.Context, cFile, llFile string, opts Options) error {
	args, err := Args(cFile, llFile, opts)
	if err != nil {
		return err
	}
	clang := opts.ClangBin
	if clang == "" {
		if clang = findClang(); clang == "" {
			return fmt.Errorf("%w (tried: clang, clang-19, clang-18, clang-17)", ErrNoClang)
		}
	}
	if dir := filepath.Dir(llFile); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	cmd := exec.CommandContext(ctx, clang, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("clang failed on %s: %w\n%s", cFile, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// IsC reports whether filename is a C source that must go through clang.
// Anything else is read as LLVM IR.
func IsC(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".c" || ext == ".i"
}

// findClang searches for clang on the system
func findClang() string {
	candidates := []string{"clang", "clang-19", "clang-18", "clang-17"}

	for _, cmd := range candidates {
		if path, err := exec.LookPath(cmd); err == nil {
			return path
		}
	}
	return ""
}
