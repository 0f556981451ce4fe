package regalloc

import (
	"fmt"
	"io"
)

// Dump writes one line per interval: value, range, location
func (r *Result) Dump(w io.Writer) {
	fmt.Fprintf(w, "allocation %s: %d values, %d spilled\n", r.Func, len(r.Intervals), len(r.Spilled))
	for _, iv := range r.Intervals {
		call := ""
		if iv.SpansCall {
			call = " call"
		}
		fmt.Fprintf(w, "  %-5s [%d,%d]%s -> %s\n", iv.Var, iv.Start, iv.End, call, r.Locs[iv.Var.ID])
	}
}
