package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

var jsonOptions = ojg.Options{Sort: true, Indent: 2, UseTags: true}

// printJSON writes v as indented JSON with sorted keys.
func printJSON(w io.Writer, v any) error {
	_, err := fmt.Fprintln(w, oj.JSON(v, &jsonOptions))
	return err
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
