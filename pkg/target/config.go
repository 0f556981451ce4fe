package target

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/raymyers/llvm-to-shasm/pkg/ir"
)

// Config is the YAML form of a descriptor; see testdata/shasm.yaml
type Config struct {
	Name              string              `yaml:"name"`
	Registers         RegisterConfig      `yaml:"registers"`
	CallingConvention ConventionConfig    `yaml:"calling_convention"`
	Stack             StackConfig         `yaml:"stack"`
	Widths            map[string][]string `yaml:"widths,omitempty"` // widths not listed support every form
}

// RegisterConfig names the register classes
type RegisterConfig struct {
	Allocatable []string `yaml:"allocatable"`
	Return      string   `yaml:"return"`
	Scratch     []string `yaml:"scratch"`
	CalleeSaved []string `yaml:"callee_saved"`
}

// ConventionConfig describes argument passing
type ConventionConfig struct {
	Args         []string `yaml:"args"`
	StackArgSize int64    `yaml:"stack_arg_size"`
}

// StackConfig describes the stack discipline
type StackConfig struct {
	Align     int64  `yaml:"align"`
	SlotAlign int64  `yaml:"slot_align"`
	MaxFrame  int64  `yaml:"max_frame"`
	Grows     string `yaml:"grows"`
}

// DefaultConfig returns the configuration of the built-in descriptor
func DefaultConfig() Config {
	return Config{
		Name: "shasm",
		Registers: RegisterConfig{
			Allocatable: []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10", "r11", "r12"},
			Return:      "r0",
			Scratch:     []string{"r13", "r14", "r15"},
		},
		CallingConvention: ConventionConfig{
			Args:         []string{"r1", "r2", "r3", "r4"},
			StackArgSize: 8,
		},
		Stack: StackConfig{
			Align:     16,
			SlotAlign: 8,
			MaxFrame:  64 * 1024,
			Grows:     "down",
		},
	}
}

// Load reads a YAML descriptor. Fields the document omits keep their
// default values.
func Load(r io.Reader) (*Descriptor, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return New(cfg)
}

// LoadFile reads a YAML descriptor from path
func LoadFile(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func parseRegs(class string, names []string) ([]Reg, error) {
	regs := make([]Reg, 0, len(names))
	seen := make(map[Reg]bool)
	for _, n := range names {
		r, err := ParseReg(n)
		if err != nil {
			return nil, invalid("%s: %v", class, err)
		}
		if seen[r] {
			return nil, invalid("%s: register %s listed twice", class, r)
		}
		seen[r] = true
		regs = append(regs, r)
	}
	return regs, nil
}

func contains(regs []Reg, r Reg) bool {
	for _, x := range regs {
		if x == r {
			return true
		}
	}
	return false
}

func powerOfTwo(n int64) bool {
	return n > 0 && n&(n-1) == 0
}

// New validates a configuration and builds the descriptor
func New(cfg Config) (*Descriptor, error) {
	d := &Descriptor{
		Name:         cfg.Name,
		StackAlign:   cfg.Stack.Align,
		SlotAlign:    cfg.Stack.SlotAlign,
		MaxFrameSize: cfg.Stack.MaxFrame,
		StackArgSize: cfg.CallingConvention.StackArgSize,
		GrowsDown:    true,
	}
	var err error
	if d.Allocatable, err = parseRegs("allocatable", cfg.Registers.Allocatable); err != nil {
		return nil, err
	}
	if len(d.Allocatable) == 0 {
		return nil, ErrNoRegisters
	}
	if d.Return, err = ParseReg(cfg.Registers.Return); err != nil {
		return nil, invalid("return: %v", err)
	}
	if d.Scratch, err = parseRegs("scratch", cfg.Registers.Scratch); err != nil {
		return nil, err
	}
	if d.ArgRegs, err = parseRegs("args", cfg.CallingConvention.Args); err != nil {
		return nil, err
	}
	if d.CalleeSaved, err = parseRegs("callee_saved", cfg.Registers.CalleeSaved); err != nil {
		return nil, err
	}

	reserved := []Reg{FP, SP, d.Return}
	if d.Return == FP || d.Return == SP {
		return nil, invalid("return register cannot be %s", d.Return)
	}
	for _, r := range d.Allocatable {
		if contains(reserved, r) {
			return nil, invalid("reserved register %s is allocatable", r)
		}
		if contains(d.Scratch, r) {
			return nil, invalid("register %s is both scratch and allocatable", r)
		}
	}
	for _, r := range d.Scratch {
		if contains(reserved, r) {
			return nil, invalid("reserved register %s used as scratch", r)
		}
	}
	for _, r := range d.ArgRegs {
		if contains(reserved, r) || contains(d.Scratch, r) {
			return nil, invalid("argument register %s is reserved or scratch", r)
		}
	}
	for _, r := range d.CalleeSaved {
		if !contains(d.Allocatable, r) {
			return nil, invalid("callee-saved register %s is not allocatable", r)
		}
		if contains(d.ArgRegs, r) {
			return nil, invalid("argument register %s cannot be callee-saved", r)
		}
	}

	switch cfg.Stack.Grows {
	case "down", "":
	default:
		return nil, invalid("unsupported stack growth direction %q", cfg.Stack.Grows)
	}
	if !powerOfTwo(d.StackAlign) || d.StackAlign < 8 {
		return nil, invalid("stack alignment %d", d.StackAlign)
	}
	if !powerOfTwo(d.SlotAlign) {
		return nil, invalid("slot alignment %d", d.SlotAlign)
	}
	if d.MaxFrameSize <= 0 {
		return nil, invalid("max frame size %d", d.MaxFrameSize)
	}
	if d.StackArgSize != 8 {
		return nil, invalid("stack argument size %d (only 8 is supported)", d.StackArgSize)
	}

	d.Forms = make(map[ir.Width]FormSet)
	for _, w := range ir.Widths {
		d.Forms[w] = AllForms
	}
	keys := make([]string, 0, len(cfg.Widths))
	for k := range cfg.Widths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w, ok := parseWidth(k)
		if !ok {
			return nil, invalid("unknown width %q", k)
		}
		var set FormSet
		for _, name := range cfg.Widths[k] {
			f, err := ParseForm(name)
			if err != nil {
				return nil, invalid("%s: %v", k, err)
			}
			set = set.With(f)
		}
		d.Forms[w] = set
	}
	return d, nil
}

func parseWidth(s string) (ir.Width, bool) {
	for _, w := range ir.Widths {
		if w.String() == s {
			return w, true
		}
	}
	return 0, false
}
