// Package render writes parsed-diff summaries and progress timelines to an
// io.Writer in table, plain, or json formats.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"lareview/cli/internal/diff"
	"lareview/cli/internal/protocol"
	"lareview/cli/internal/timeline"
)

// WriteDiffSummary writes a per-file summary of parsed to w in the requested
// format: "table" (default), "plain" (tab-separated), or "json". width caps
// the rendered table row length (from TerminalWidth); 0 means unconstrained.
func WriteDiffSummary(w io.Writer, parsed diff.ParsedDiff, format string, width int) error {
	switch strings.ToLower(format) {
	case "", "table":
		writeDiffTable(w, parsed, width)
		return nil
	case "plain":
		return writeDiffPlain(w, parsed)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(parsed)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeDiffTable(w io.Writer, parsed diff.ParsedDiff, width int) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateHeader = true
	if width > 0 {
		tw.SetAllowedRowLength(width)
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter, WidthMax: 60},
		{Number: 2, Align: text.AlignCenter, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignCenter},
	})
	tw.AppendHeader(table.Row{"File", "Status", "Hunks", "+/-"})

	for _, f := range parsed.Files {
		adds, dels := fileCounts(f)
		tw.AppendRow(table.Row{f.Name, f.Status, len(f.Hunks), fmt.Sprintf("+%d/-%d", adds, dels)})
	}
	if len(parsed.Files) == 0 {
		tw.AppendRow(table.Row{"(no files)", "-", 0, "+0/-0"})
	}
	tw.AppendFooter(table.Row{
		fmt.Sprintf("%d files", parsed.ChangedFiles), "", "",
		fmt.Sprintf("+%d/-%d", parsed.TotalAdditions, parsed.TotalDeletions),
	})
	tw.Render()
}

func writeDiffPlain(w io.Writer, parsed diff.ParsedDiff) error {
	if _, err := fmt.Fprintln(w, "file\tstatus\thunks\tadditions\tdeletions"); err != nil {
		return err
	}
	for _, f := range parsed.Files {
		adds, dels := fileCounts(f)
		if _, err := fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", f.Name, f.Status, len(f.Hunks), adds, dels); err != nil {
			return err
		}
	}
	return nil
}

// fileCounts tallies added and removed lines for a single file's hunks.
func fileCounts(f diff.File) (adds, dels int) {
	for _, h := range f.Hunks {
		for _, line := range strings.Split(h.Content, "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				adds++
			case strings.HasPrefix(line, "-"):
				dels++
			}
		}
	}
	return adds, dels
}

// WriteTimeline writes timeline entries to w, one line per entry, in the
// order they were ingested.
func WriteTimeline(w io.Writer, entries []timeline.Entry) error {
	for _, e := range entries {
		if err := writeEntry(w, e); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(w io.Writer, e timeline.Entry) error {
	var err error
	switch e.Type {
	case timeline.EntryToolCall:
		status := e.ToolStatus
		if status == "" {
			status = protocol.StatusRunning
		}
		_, err = fmt.Fprintf(w, "[%3d] tool  %-9s %s\n", e.Seq, status, e.Message)
	case timeline.EntryAgentThought:
		_, err = fmt.Fprintf(w, "[%3d] think %s\n", e.Seq, firstLine(e.Message))
	case timeline.EntryError:
		_, err = fmt.Fprintf(w, "[%3d] error %s\n", e.Seq, e.Message)
	default:
		_, err = fmt.Fprintf(w, "[%3d] %s\n", e.Seq, firstLine(e.Message))
	}
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// WritePlan writes the merged plan to w, one entry per line with a status
// marker: [x] completed, [~] in progress, [ ] pending.
func WritePlan(w io.Writer, tl *timeline.Timeline) error {
	for _, entry := range tl.Plan() {
		marker := " "
		switch entry.Status {
		case protocol.PlanCompleted:
			marker = "x"
		case protocol.PlanInProgress:
			marker = "~"
		}
		if _, err := fmt.Fprintf(w, "[%s] %s\n", marker, entry.Content); err != nil {
			return err
		}
	}
	return nil
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// TerminalWidth returns the column width of f's terminal, or fallback when
// f is not a terminal or the size cannot be determined.
func TerminalWidth(f *os.File, fallback int) int {
	if !IsTerminal(f) {
		return fallback
	}
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
		return w
	}
	return fallback
}
