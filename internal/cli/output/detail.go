package output

import (
	"fmt"
	"io"
	"strings"
)

// Field is a single named property of a file, rendered in detail blocks.
type Field struct {
	Name  string
	Value string
}

// DetailRenderer is implemented by types that render as per-file property blocks.
type DetailRenderer interface {
	// Details returns one ordered slice of fields per file.
	Details() [][]Field
}

// fieldNameWidth is the left-justified width of property names in detail blocks.
const fieldNameWidth = 20

// PrintDetails writes one numbered block of properties per file for operator
// examination. Fields whose name starts with an underscore carry internal
// identifiers and are skipped.
func PrintDetails(w io.Writer, blocks [][]Field) error {
	if _, err := fmt.Fprintf(w, "\nThis is the list of %d file(s) found with the given criteria:\n", len(blocks)); err != nil {
		return err
	}
	for i, fields := range blocks {
		fmt.Fprintf(w, "\n%d)\n", i)
		for _, f := range fields {
			if strings.HasPrefix(f.Name, "_") {
				continue
			}
			fmt.Fprintf(w, "%-*s | %s\n", fieldNameWidth, f.Name, f.Value)
		}
	}
	return nil
}
