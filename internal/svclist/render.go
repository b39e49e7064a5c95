package svclist

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
)

// Printer renders groups. Summaries and rules go to Meta so the table on
// Out stays pipeable.
type Printer struct {
	Out  io.Writer
	Meta io.Writer
	// Bold enables ANSI emphasis for headings.
	Bold bool
}

func (p Printer) bold(s string) string {
	if !p.Bold {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (p Printer) Print(groups []Group, descFile bool) error {
	for _, g := range groups {
		summary := fmt.Sprintf("%s %d", p.bold(strings.ToUpper(g.Type)+"S:"), len(g.Units))
		if len(g.Units) != g.Total {
			summary += fmt.Sprintf(" / %d", g.Total)
		}
		fmt.Fprintln(p.Meta, summary)
		fmt.Fprintln(p.Meta, strings.Repeat("-", 40))
		for _, col := range Columns {
			if counts := g.Counts[col]; len(counts) > 0 {
				fmt.Fprintf(p.Meta, "%s: %s\n", col, formatCounts(counts))
			}
		}
		fmt.Fprintln(p.Meta, strings.Repeat("=", 40))

		tw := tabwriter.NewWriter(p.Out, 0, 0, 5, ' ', 0)
		fmt.Fprintln(tw, "Name\t"+strings.Join(Columns, "\t"))
		for _, u := range g.Units {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", u.Name, u.Loaded, u.Active, u.SubActive, u.FileState, u.FilePreset)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if descFile {
			for _, u := range g.Units {
				if u.Description == "" && u.Fragment == "" {
					continue
				}
				fmt.Fprintln(p.Out, p.bold(u.Name))
				if u.Description != "" {
					fmt.Fprintf(p.Out, "%s %s\n", p.bold("Desc:"), u.Description)
				}
				if u.Fragment != "" {
					fmt.Fprintf(p.Out, "%s %s\n", p.bold("File:"), u.Fragment)
				}
				fmt.Fprintln(p.Out)
			}
		}
		fmt.Fprintln(p.Meta)
	}
	return nil
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}
