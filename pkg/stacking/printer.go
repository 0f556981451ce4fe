package stacking

import (
	"fmt"
	"io"
)

// Dump writes the frame layout, one slot per line, highest address first
func (l *Layout) Dump(w io.Writer) {
	fmt.Fprintf(w, "frame %s: %d bytes\n", l.Func, l.Size)
	for _, s := range l.Slots {
		fmt.Fprintf(w, "  [fp%+d] %-5s %s (%d bytes)\n", s.Offset, s.Kind, s.Name, s.Size)
	}
}
