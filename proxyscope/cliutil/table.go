// Package cliutil provides shared terminal output helpers.
package cliutil

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// NewTable returns a table writer with the house style applied.
func NewTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatTitle
	return t
}

// StatusRowPainter colors table rows by the HTTP status code found at column
// statusCol: 4xx yellow, 5xx red. Rows without a status stay uncolored.
func StatusRowPainter(statusCol int) table.RowPainter {
	return func(row table.Row) text.Colors {
		if statusCol >= len(row) {
			return nil
		}
		code, ok := row[statusCol].(int)
		if !ok {
			return nil
		}
		switch {
		case code >= 500:
			return text.Colors{text.FgRed}
		case code >= 400:
			return text.Colors{text.FgYellow}
		}
		return nil
	}
}

// Summary prints a one-line count footer, pluralizing the noun.
func Summary(out io.Writer, count int, singular, plural string) {
	noun := plural
	if count == 1 {
		noun = singular
	}
	fmt.Fprintf(out, "\n%d %s\n", count, noun)
}

// NoResults prints the empty-result message.
func NoResults(out io.Writer, msg string) {
	fmt.Fprintln(out, msg)
}

// HintCommand prints a follow-up command suggestion.
func HintCommand(out io.Writer, explain, command string) {
	fmt.Fprintf(out, "%s:\n  %s\n", explain, command)
}
