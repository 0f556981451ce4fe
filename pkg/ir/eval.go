package ir

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrDivideByZero is returned for a division or remainder by zero
var ErrDivideByZero = errors.New("division by zero")

// Canonical sign-extends the low w bits of v. Every value of width w is
// held in this form.
func Canonical(w Width, v int64) int64 {
	shift := 64 - uint(w)
	return v << shift >> shift
}

// Low returns the low w bits of v, zero-extended
func Low(w Width, v int64) uint64 {
	if w == W64 {
		return uint64(v)
	}
	return uint64(v) & (1<<uint(w) - 1)
}

// EvalBinop computes x op y at width w. Shift amounts are taken modulo w;
// unsigned operators look only at the low w bits of their operands.
func EvalBinop(op BinOp, w Width, x, y int64) (int64, error) {
	x, y = Canonical(w, x), Canonical(w, y)
	shift := uint(y) & uint(w-1)
	var r int64
	switch op {
	case Add:
		r = x + y
	case Sub:
		r = x - y
	case Mul:
		r = x * y
	case SDiv, SRem:
		if y == 0 {
			return 0, ErrDivideByZero
		}
		// MinInt / -1 wraps, matching two's complement hardware
		if op == SDiv {
			r = x / y
		} else {
			r = x % y
		}
	case UDiv, URem:
		ux, uy := Low(w, x), Low(w, y)
		if uy == 0 {
			return 0, ErrDivideByZero
		}
		q, rem := bits.Div64(0, ux, uy)
		if op == UDiv {
			r = int64(q)
		} else {
			r = int64(rem)
		}
	case And:
		r = x & y
	case Or:
		r = x | y
	case Xor:
		r = x ^ y
	case Shl:
		r = x << shift
	case LShr:
		r = int64(Low(w, x) >> shift)
	case AShr:
		r = x >> shift
	default:
		return 0, fmt.Errorf("unknown operator %d", op)
	}
	return Canonical(w, r), nil
}

// EvalCmp evaluates x cond y at width w
func EvalCmp(cond Cond, w Width, x, y int64) bool {
	x, y = Canonical(w, x), Canonical(w, y)
	ux, uy := Low(w, x), Low(w, y)
	switch cond {
	case Eq:
		return x == y
	case Ne:
		return x != y
	case Slt:
		return x < y
	case Sle:
		return x <= y
	case Sgt:
		return x > y
	case Sge:
		return x >= y
	case Ult:
		return ux < uy
	case Ule:
		return ux <= uy
	case Ugt:
		return ux > uy
	case Uge:
		return ux >= uy
	}
	return false
}

// EvalCast converts v from width from to width to
func EvalCast(op CastOp, from, to Width, v int64) int64 {
	switch op {
	case Zext:
		return Canonical(to, int64(Low(from, v)))
	case Sext:
		return Canonical(to, Canonical(from, v))
	}
	return Canonical(to, v)
}
