package regalloc

import (
	"reflect"
	"testing"

	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/ir/irtest"
)

func TestVarSetOperations(t *testing.T) {
	t.Run("Add and Contains", func(t *testing.T) {
		s := NewVarSet()
		s.Add(1)
		s.Add(2)

		if !s.Contains(1) || !s.Contains(2) {
			t.Error("set should contain 1 and 2")
		}
		if s.Contains(3) {
			t.Error("set should not contain 3")
		}
	})

	t.Run("Union", func(t *testing.T) {
		s1 := NewVarSet()
		s1.Add(1)
		s1.Add(2)
		s2 := NewVarSet()
		s2.Add(2)
		s2.Add(3)

		u := s1.Union(s2)
		if !u.Contains(1) || !u.Contains(2) || !u.Contains(3) {
			t.Error("union should contain 1, 2, and 3")
		}
		if s1.Contains(3) {
			t.Error("union should not modify the receiver")
		}
	})

	t.Run("Minus", func(t *testing.T) {
		s1 := NewVarSet()
		s1.Add(1)
		s1.Add(2)
		s1.Add(3)
		s2 := NewVarSet()
		s2.Add(2)

		diff := s1.Minus(s2)
		if !diff.Contains(1) || !diff.Contains(3) || diff.Contains(2) {
			t.Errorf("difference = %v, want {1, 3}", diff.Slice())
		}
	})

	t.Run("Equal", func(t *testing.T) {
		s1 := NewVarSet()
		s1.Add(1)
		s1.Add(2)
		s2 := s1.Copy()
		s3 := NewVarSet()
		s3.Add(1)

		if !s1.Equal(s2) {
			t.Error("s1 and its copy should be equal")
		}
		if s1.Equal(s3) {
			t.Error("s1 and s3 should not be equal")
		}
	})

	t.Run("Slice is sorted", func(t *testing.T) {
		s := NewVarSet()
		s.Add(7)
		s.Add(3)
		s.Add(5)
		s.Remove(5)
		if got := s.Slice(); !reflect.DeepEqual(got, []ir.VarID{3, 7}) {
			t.Errorf("Slice() = %v, want [3 7]", got)
		}
	})
}

func ids(vs ...ir.VarID) []ir.VarID { return vs }

func TestLivenessStraightLine(t *testing.T) {
	fn := irtest.ManyArgs()
	info := AnalyzeLiveness(fn)

	if len(info.LiveIn[fn.Entry]) != 0 {
		t.Errorf("LiveIn[entry] = %v, want empty", info.LiveIn[fn.Entry].Slice())
	}
	if len(info.LiveOut[fn.Entry]) != 0 {
		t.Errorf("LiveOut[entry] = %v, want empty", info.LiveOut[fn.Entry].Slice())
	}
	for _, p := range fn.Params {
		if !info.Def[fn.Entry].Contains(p.ID) {
			t.Errorf("param %s should be defined in the entry block", p)
		}
		if info.Use[fn.Entry].Contains(p.ID) {
			t.Errorf("param %s read in the entry block is not an upward-exposed use", p)
		}
	}
}

func TestLivenessLoopWithPhis(t *testing.T) {
	// %1 = n, %3..%5 = phis a b i, %6 = s, %7 = i2
	fn := irtest.RollingFib(ir.W32)
	info := AnalyzeLiveness(fn)
	entry, small, loop, exit := ir.BlockID(0), ir.BlockID(1), ir.BlockID(2), ir.BlockID(3)

	tests := []struct {
		name string
		got  VarSet
		want []ir.VarID
	}{
		{"LiveIn entry", info.LiveIn[entry], ids()},
		{"LiveOut entry", info.LiveOut[entry], ids(1)},
		{"LiveIn small", info.LiveIn[small], ids(1)},
		{"LiveIn loop", info.LiveIn[loop], ids(1)},
		// phi operands on the back edge are live out of the latch
		{"LiveOut loop", info.LiveOut[loop], ids(1, 4, 6, 7)},
		{"LiveIn exit", info.LiveIn[exit], ids(6)},
		{"LiveOut exit", info.LiveOut[exit], ids()},
		{"Use loop", info.Use[loop], ids(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.got.Slice()
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNumber(t *testing.T) {
	fn := irtest.RecursiveFib(ir.W32)
	num := Number(fn)

	// entry: cmp 2, br 4; base: ret 8; rec: sub 12, call 14, sub 16, call 18, add 20, ret 22
	wantStart := map[ir.BlockID]int{0: 0, 1: 6, 2: 10}
	wantEnd := map[ir.BlockID]int{0: 4, 1: 8, 2: 22}
	for id, want := range wantStart {
		if num.BlockStart[id] != want {
			t.Errorf("BlockStart[%d] = %d, want %d", id, num.BlockStart[id], want)
		}
		if num.BlockEnd[id] != wantEnd[id] {
			t.Errorf("BlockEnd[%d] = %d, want %d", id, num.BlockEnd[id], wantEnd[id])
		}
	}
	if !reflect.DeepEqual(num.Calls, []int{14, 18}) {
		t.Errorf("Calls = %v, want [14 18]", num.Calls)
	}
}

func TestNumberPhisShareBlockStart(t *testing.T) {
	fn := irtest.RollingFib(ir.W32)
	num := Number(fn)
	loop := ir.BlockID(2)
	for i := 0; i < 3; i++ {
		if num.Instr[loop][i] != num.BlockStart[loop] {
			t.Errorf("phi %d at %d, want block start %d", i, num.Instr[loop][i], num.BlockStart[loop])
		}
	}
	if num.Instr[loop][3] != num.BlockStart[loop]+2 {
		t.Errorf("first non-phi at %d, want %d", num.Instr[loop][3], num.BlockStart[loop]+2)
	}
}

func TestBuildIntervals(t *testing.T) {
	fn := irtest.RollingFib(ir.W32)
	live := AnalyzeLiveness(fn)
	intervals := BuildIntervals(fn, Number(fn), live)

	byID := make(map[ir.VarID]Interval)
	for _, iv := range intervals {
		byID[iv.Var.ID] = iv
	}
	tests := []struct {
		id         ir.VarID
		start, end int
	}{
		{1, 0, 18},  // n: param, used in small and in the loop
		{2, 2, 4},   // entry compare
		{3, 4, 18},  // phi a: written at the end of entry and of the loop
		{6, 12, 22}, // s: live into exit
		{7, 14, 18}, // i2: back-edge phi operand
	}
	for _, tt := range tests {
		iv, ok := byID[tt.id]
		if !ok {
			t.Errorf("no interval for %%%d", tt.id)
			continue
		}
		if iv.Start != tt.start || iv.End != tt.end {
			t.Errorf("%%%d = [%d,%d], want [%d,%d]", tt.id, iv.Start, iv.End, tt.start, tt.end)
		}
	}
	for i := 1; i < len(intervals); i++ {
		a, b := intervals[i-1], intervals[i]
		if a.Start > b.Start || (a.Start == b.Start && a.Var.ID > b.Var.ID) {
			t.Errorf("intervals not sorted at %d: %v then %v", i, a, b)
		}
	}
}

func TestSpansCall(t *testing.T) {
	fn := irtest.RecursiveFib(ir.W32)
	intervals := BuildIntervals(fn, Number(fn), AnalyzeLiveness(fn))
	// %1 = n, %3 = n-1, %4 = fib(n-1), %5 = n-2, %6 = fib(n-2)
	want := map[ir.VarID]bool{1: true, 3: false, 4: true, 5: false, 6: false}
	for _, iv := range intervals {
		if w, ok := want[iv.Var.ID]; ok && iv.SpansCall != w {
			t.Errorf("%s [%d,%d] SpansCall = %v, want %v", iv.Var, iv.Start, iv.End, iv.SpansCall, w)
		}
	}
}

func TestOverlaps(t *testing.T) {
	a := Interval{Start: 2, End: 6}
	tests := []struct {
		b    Interval
		want bool
	}{
		{Interval{Start: 6, End: 8}, true},
		{Interval{Start: 8, End: 10}, false},
		{Interval{Start: 0, End: 2}, true},
		{Interval{Start: 3, End: 4}, true},
	}
	for _, tt := range tests {
		if got := a.Overlaps(tt.b); got != tt.want {
			t.Errorf("[2,6] overlaps [%d,%d] = %v, want %v", tt.b.Start, tt.b.End, got, tt.want)
		}
	}
}
