package logging

import (
	"fmt"
	"strings"
)

// HexView formats a buffer as a classic 16-bytes-per-line hex dump with
// an ASCII column. Used by diagnostics when a decode fails.
func HexView(buffer []byte) string {
	var sb strings.Builder

	for i := 0; i < len(buffer); i += 16 {
		fmt.Fprintf(&sb, "%08x ", i)

		for j := 0; j < 16; j++ {
			if i+j < len(buffer) {
				fmt.Fprintf(&sb, "%02x ", buffer[i+j])
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteByte('|')

		for j := 0; j < 16 && i+j < len(buffer); j++ {
			b := buffer[i+j]
			if b >= 0x20 && b < 0x7f {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}

	return sb.String()
}
