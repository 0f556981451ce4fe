package ir

import "fmt"

// VerifyError reports a structural defect in a function
type VerifyError struct {
	Func  string
	Block string // empty for function-level defects
	Msg   string
}

func (e *VerifyError) Error() string {
	if e.Block == "" {
		return fmt.Sprintf("%s: %s", e.Func, e.Msg)
	}
	return fmt.Sprintf("%s: block %s: %s", e.Func, e.Block, e.Msg)
}

type verifier struct {
	fn      *Function
	defined map[VarID]Width
	preds   map[BlockID][]BlockID
}

// Verify checks the structural invariants the backend relies on: one
// terminator per block and nothing after it, phis first, every non-entry block
// reachable from some predecessor, each value defined once and used at its
// defined width.
func Verify(fn *Function) error {
	v := &verifier{fn: fn, defined: make(map[VarID]Width)}
	if len(fn.Blocks) == 0 {
		return v.errorf(nil, "no blocks")
	}
	if fn.Block(fn.Entry) == nil {
		return v.errorf(nil, "entry block %d does not exist", fn.Entry)
	}
	if fn.Result != 0 && !fn.Result.Valid() {
		return v.errorf(nil, "invalid result width %d", fn.Result)
	}
	for i, s := range fn.Slots {
		if s.ID != SlotID(i) {
			return v.errorf(nil, "slot %q has id %d at index %d", s.Name, s.ID, i)
		}
		if s.Count <= 0 || !s.Elem.Valid() {
			return v.errorf(nil, "slot %q has invalid shape %d x %s", s.Name, s.Count, s.Elem)
		}
	}
	for _, p := range fn.Params {
		if err := v.define(nil, p); err != nil {
			return err
		}
	}

	labels := make(map[string]bool)
	for i, b := range fn.Blocks {
		if b.ID != BlockID(i) {
			return v.errorf(b, "id %d at index %d", b.ID, i)
		}
		if labels[b.Label] {
			return v.errorf(b, "duplicate label")
		}
		labels[b.Label] = true
		if err := v.checkShape(b); err != nil {
			return err
		}
		for _, instr := range b.Code {
			if d, ok := Def(instr); ok {
				if err := v.define(b, d); err != nil {
					return err
				}
			}
		}
	}

	v.preds = fn.Predecessors()
	for _, b := range fn.Blocks {
		if b.ID != fn.Entry && len(v.preds[b.ID]) == 0 {
			return v.errorf(b, "no predecessors")
		}
		if b.ID == fn.Entry && len(v.preds[b.ID]) > 0 {
			return v.errorf(b, "entry block has predecessors")
		}
		for _, instr := range b.Code {
			if err := v.checkInstr(b, instr); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *verifier) errorf(b *Block, format string, args ...any) error {
	e := &VerifyError{Func: v.fn.Name, Msg: fmt.Sprintf(format, args...)}
	if b != nil {
		e.Block = b.Label
	}
	return e
}

func (v *verifier) define(b *Block, d Var) error {
	if !d.W.Valid() {
		return v.errorf(b, "%s has invalid width %d", d, d.W)
	}
	if _, dup := v.defined[d.ID]; dup {
		return v.errorf(b, "%s defined more than once", d)
	}
	v.defined[d.ID] = d.W
	return nil
}

func (v *verifier) checkShape(b *Block) error {
	if len(b.Code) == 0 {
		return v.errorf(b, "empty block")
	}
	inPhis := true
	for i, instr := range b.Code {
		if _, ok := instr.(Phi); ok {
			if !inPhis {
				return v.errorf(b, "phi after non-phi instruction")
			}
			continue
		}
		inPhis = false
		if IsTerminator(instr) && i != len(b.Code)-1 {
			return v.errorf(b, "instruction after terminator")
		}
	}
	if b.Terminator() == nil {
		return v.errorf(b, "missing terminator")
	}
	for _, s := range Successors(b.Terminator()) {
		if v.fn.Block(s) == nil {
			return v.errorf(b, "branch to unknown block %d", s)
		}
	}
	return nil
}

func (v *verifier) checkOperand(b *Block, op Operand) error {
	switch o := op.(type) {
	case Var:
		w, ok := v.defined[o.ID]
		if !ok {
			return v.errorf(b, "use of undefined %s", o)
		}
		if w != o.W {
			return v.errorf(b, "%s used as %s, defined as %s", o, o.W, w)
		}
	case Imm:
		if !o.W.Valid() {
			return v.errorf(b, "immediate %d has invalid width %d", o.Val, o.W)
		}
	case nil:
		return v.errorf(b, "missing operand")
	}
	return nil
}

func (v *verifier) checkMem(b *Block, m MemRef) error {
	switch r := m.(type) {
	case SlotRef:
		if int(r.Slot) < 0 || int(r.Slot) >= len(v.fn.Slots) {
			return v.errorf(b, "unknown slot %d", r.Slot)
		}
	case PtrRef:
		if r.Ptr == nil || r.Ptr.OpWidth() != W64 {
			return v.errorf(b, "pointer operand must be %s", W64)
		}
	default:
		return v.errorf(b, "missing memory reference")
	}
	return nil
}

func (v *verifier) checkInstr(b *Block, instr Instruction) error {
	for _, op := range Uses(instr) {
		if err := v.checkOperand(b, op); err != nil {
			return err
		}
	}
	switch i := instr.(type) {
	case Binop:
		if i.X.OpWidth() != i.Dest.W || i.Y.OpWidth() != i.Dest.W {
			return v.errorf(b, "%s operands must be %s", i.Op, i.Dest.W)
		}
	case Cmp:
		if i.X.OpWidth() != i.Y.OpWidth() {
			return v.errorf(b, "icmp %s operand widths differ", i.Cond)
		}
		if i.Dest.W != W8 {
			return v.errorf(b, "comparison result must be %s", W8)
		}
	case Cast:
		from, to := i.Src.OpWidth(), i.Dest.W
		if (i.Op == Trunc && from <= to) || (i.Op != Trunc && from >= to) {
			return v.errorf(b, "%s from %s to %s", i.Op, from, to)
		}
	case Load:
		return v.checkMem(b, i.Mem)
	case Store:
		return v.checkMem(b, i.Mem)
	case SlotAddr:
		if i.Dest.W != W64 {
			return v.errorf(b, "slot address must be %s", W64)
		}
		return v.checkMem(b, i.Mem)
	case Phi:
		return v.checkPhi(b, i)
	case Return:
		if i.Val == nil && v.fn.Result != 0 {
			return v.errorf(b, "missing return value")
		}
		if i.Val != nil && i.Val.OpWidth() != v.fn.Result {
			return v.errorf(b, "return value is %s, function returns %s", i.Val.OpWidth(), v.fn.Result)
		}
	}
	return nil
}

func (v *verifier) checkPhi(b *Block, phi Phi) error {
	preds := v.preds[b.ID]
	if len(phi.Edges) != len(preds) {
		return v.errorf(b, "phi %s has %d edges for %d predecessors", phi.Dest, len(phi.Edges), len(preds))
	}
	seen := make(map[BlockID]bool)
	for _, e := range phi.Edges {
		if seen[e.Pred] {
			return v.errorf(b, "phi %s lists predecessor %d twice", phi.Dest, e.Pred)
		}
		seen[e.Pred] = true
		if err := v.checkOperand(b, e.Value); err != nil {
			return err
		}
		if e.Value.OpWidth() != phi.Dest.W {
			return v.errorf(b, "phi %s incoming value width %s", phi.Dest, e.Value.OpWidth())
		}
	}
	for _, p := range preds {
		if !seen[p] {
			return v.errorf(b, "phi %s missing edge from %s", phi.Dest, v.fn.Blocks[p].Label)
		}
	}
	return nil
}
