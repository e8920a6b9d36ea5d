package main

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/gonzalop/ftpsession"
)

// renderEntries writes a listing as a table.
func renderEntries(w io.Writer, entries []*ftpsession.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Directory is empty")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Name", "Type", "Size", "Modified")
	for _, e := range entries {
		name := e.Name
		size := formatSize(e.Size)
		switch e.Type {
		case ftpsession.EntryDir:
			name += "/"
			size = "-"
		case ftpsession.EntryLink:
			if e.Target != "" {
				name += " -> " + e.Target
			}
		}
		modified := "-"
		if !e.Time.IsZero() {
			modified = e.Time.Format("Jan 02 2006 15:04")
		}
		if err := table.Append([]string{name, e.Type.String(), size, modified}); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderHelp(w io.Writer, commands []*command) error {
	table := tablewriter.NewWriter(w)
	table.Header("Command", "Description")
	for _, c := range commands {
		if err := table.Append([]string{c.usage, c.help}); err != nil {
			return err
		}
	}
	return table.Render()
}

// formatSize formats a byte count with a binary unit.
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
