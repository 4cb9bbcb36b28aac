package verdict

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

const maxFindings = 50

type RenderOptions struct {
	Format string
	Color  bool
	// Width caps table rows; zero leaves them unbounded.
	Width int
	// Diagnostics prints each tool's full output after the table.
	Diagnostics bool
}

// Render writes the report in the requested format.
func Render(w io.Writer, r Report, opts RenderOptions) error {
	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable, "":
		return renderTable(w, r, opts)
	default:
		return fmt.Errorf("unsupported output format %q", opts.Format)
	}
}

func renderTable(w io.Writer, r Report, opts RenderOptions) error {
	paint := func(attr color.Attribute, s string) string {
		c := color.New(attr)
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.Sprint(s)
	}

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Format.Header = text.FormatDefault
	if opts.Width > 0 {
		tbl.SetAllowedRowLength(opts.Width)
	}
	tbl.AppendHeader(table.Row{
		"Tool",
		"Parent " + r.Pair.ShortPrevious(),
		"Pull request " + r.Pair.DisplayCurrent(),
		"Result",
	})
	for _, row := range r.Rows {
		result := strings.ToUpper(string(row.Status))
		switch row.Status {
		case StatusPass:
			result = paint(color.FgGreen, result)
		case StatusFail:
			result = paint(color.FgRed, result)
		default:
			result = paint(color.FgYellow, result)
		}
		if row.Note != "" {
			result += " (" + row.Note + ")"
		}
		tbl.AppendRow(table.Row{row.Tool, formatScore(row.Previous), formatScore(row.Current), result})
	}

	if _, err := fmt.Fprintln(w, tbl.Render()); err != nil {
		return err
	}

	for _, row := range r.Rows {
		if opts.Diagnostics && strings.TrimSpace(row.Diagnostics) != "" {
			fmt.Fprintf(w, "\n%s\n%s", paint(color.Bold, "== "+row.Tool+" =="), row.Diagnostics)
			if !strings.HasSuffix(row.Diagnostics, "\n") {
				fmt.Fprintln(w)
			}
		}
		if len(row.NewFindings) > 0 {
			fmt.Fprintf(w, "\n%s\n", paint(color.FgRed, fmt.Sprintf("New in %s (%s):", row.Tool, humanize.Comma(int64(len(row.NewFindings))))))
			for i, line := range row.NewFindings {
				if i == maxFindings {
					fmt.Fprintf(w, "  ... %d more\n", len(row.NewFindings)-maxFindings)
					break
				}
				fmt.Fprintf(w, "  + %s\n", line)
			}
		}
	}

	verdict := paint(color.FgGreen, "PASSED")
	if !r.Passed {
		verdict = paint(color.FgRed, "FAILED")
	}
	_, err := fmt.Fprintf(w, "\nQuality gate %s (%s changed %s)\n", verdict,
		humanize.Comma(int64(len(r.Files))), plural(len(r.Files), "file", "files"))
	return err
}

// formatScore prints integers without a fraction and others to two places.
func formatScore(v float64) string {
	return humanize.FtoaWithDigits(v, 2)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
