package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/raymyers/llvm-to-shasm/pkg/asm"
	"github.com/raymyers/llvm-to-shasm/pkg/sim"
	"gopkg.in/yaml.v3"
)

// E2ETestSpec represents a single end-to-end test case
type E2ETestSpec struct {
	Name         string   `yaml:"name"`
	File         string   `yaml:"file"`
	Target       string   `yaml:"target,omitempty"`
	Want         int64    `yaml:"want"`
	Expect       []string `yaml:"expect"`        // Strings that must appear in output
	ExpectOrder  []string `yaml:"expect_order"`  // Strings that must appear in this order
	ExpectUnique []string `yaml:"expect_unique"` // Strings that must appear exactly once
	ExpectNot    []string `yaml:"expect_not"`    // Strings that must NOT appear in output
	Skip         string   `yaml:"skip,omitempty"`
}

// E2ETestFile represents the e2e.yaml file structure
type E2ETestFile struct {
	Tests []E2ETestSpec `yaml:"tests"`
}

func TestE2E(t *testing.T) {
	data, err := os.ReadFile("../../testdata/e2e.yaml")
	if err != nil {
		t.Fatalf("failed to read e2e.yaml: %v", err)
	}

	var testFile E2ETestFile
	if err := yaml.Unmarshal(data, &testFile); err != nil {
		t.Fatalf("failed to parse e2e.yaml: %v", err)
	}

	for _, tc := range testFile.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			if tc.Skip != "" {
				t.Skip(tc.Skip)
			}

			asmFile := filepath.Join(t.TempDir(), tc.Name+".asm")
			args := []string{"--run", "-o", asmFile}
			if tc.Target != "" {
				args = append(args, "--target", filepath.Join("../../testdata", tc.Target))
			}
			args = append(args, filepath.Join("../../testdata", tc.File))

			out, errOut, err := execute(args...)
			if err != nil {
				t.Fatalf("compile failed: %v\n%s", err, errOut)
			}
			if want := "r0 = " + strconv.FormatInt(tc.Want, 10); !strings.Contains(out, want) {
				t.Errorf("expected %q, got %q", want, out)
			}

			content, err := os.ReadFile(asmFile)
			if err != nil {
				t.Fatalf("failed to read output: %v", err)
			}
			output := string(content)

			for _, exp := range tc.Expect {
				if !strings.Contains(output, exp) {
					t.Errorf("expected output to contain %q\nGot:\n%s", exp, output)
				}
			}

			lastIdx := -1
			for _, exp := range tc.ExpectOrder {
				idx := strings.Index(output[lastIdx+1:], exp)
				if idx < 0 {
					t.Errorf("expected %q after position %d\nGot:\n%s", exp, lastIdx, output)
					break
				}
				lastIdx += idx + 1
			}

			for _, exp := range tc.ExpectUnique {
				if n := strings.Count(output, exp); n != 1 {
					t.Errorf("expected %q exactly once, found %d times", exp, n)
				}
			}

			for _, notExp := range tc.ExpectNot {
				if strings.Contains(output, notExp) {
					t.Errorf("expected output NOT to contain %q\nGot:\n%s", notExp, output)
				}
			}

			// the written text, not just the in-memory program, must run
			code, err := asm.Parse(strings.NewReader(output))
			if err != nil {
				t.Fatalf("written assembly does not parse: %v", err)
			}
			m, err := sim.New(code)
			if err != nil {
				t.Fatal(err)
			}
			got, err := m.Run(asm.StartLabel)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if got != tc.Want {
				t.Errorf("written assembly returned %d, want %d", got, tc.Want)
			}
		})
	}
}
