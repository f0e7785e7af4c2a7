// Package diff turns raw unified-diff text into a structured file/hunk model
// used for statistics, rendering, and per-task scoping, and validates diff
// text before a generation run is allowed to start.
//
// # Malformed input
// Parse never fails. Unrecognized lines degrade to partial results: a hunk
// header that does not match the @@ regex opens no hunk, and subsequent
// content lines are attributed to the previous hunk (or dropped when none is
// open). This mirrors the upstream behavior and is covered by tests.
//
// # Bare diffs
// Text without any "diff --git" line but with ---/+++ file markers is treated
// as a single-file diff. The file name comes from the +++ line, falling back
// to "unknown".
package diff

import (
	"regexp"
	"strconv"
	"strings"
)

// File status values derived from the ---/+++ paths.
const (
	StatusAdded    = "added"
	StatusDeleted  = "deleted"
	StatusModified = "modified"
)

// devNull is the path git emits for the missing side of an add or delete.
const devNull = "/dev/null"

// fallbackFileName is used for bare diffs whose +++ line never appeared.
const fallbackFileName = "unknown"

// hunkHeaderRegex captures old start/lines and new start/lines from
// "@@ -a,b +c,d @@"; b and d are optional and default to 1.
var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// bareFileNameRegex extracts the file name from a "+++ b/X" or "+++ X" line.
var bareFileNameRegex = regexp.MustCompile(`^\+\+\+ (?:b/)?(\S+)`)

// Hunk is one contiguous changed region of a file. Content is the raw hunk
// body with every line's prefix character preserved, in encounter order.
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Header   string `json:"header"`
	Content  string `json:"content"`
}

// File is one file's diff. Name mirrors NewPath once resolved; hunks keep
// encounter order.
type File struct {
	Name    string `json:"name"`
	OldPath string `json:"old_path,omitempty"`
	NewPath string `json:"new_path"`
	Hunks   []Hunk `json:"hunks"`
	Status  string `json:"status"`
}

// ParsedDiff is the structured result of Parse. Totals count only +/- lines
// inside a recognized hunk; files preserve diff order.
type ParsedDiff struct {
	DiffText       string `json:"diff_text"`
	Files          []File `json:"files"`
	TotalAdditions int    `json:"total_additions"`
	TotalDeletions int    `json:"total_deletions"`
	ChangedFiles   int    `json:"changed_files"`
}

// ChangedFileNames returns the resolved file names in diff order. Used for
// the post-run task coverage report.
func (d *ParsedDiff) ChangedFileNames() []string {
	names := make([]string, 0, len(d.Files))
	for _, f := range d.Files {
		names = append(names, f.Name)
	}
	return names
}

// Parse scans text line by line and builds the file/hunk model. It never
// returns an error; malformed input yields partial or empty results.
func Parse(text string) ParsedDiff {
	result := ParsedDiff{DiffText: text}
	lines := splitLines(text)

	if hasGitHeader(lines) {
		parseGitDiff(lines, &result)
	} else if hasFileMarker(lines) {
		parseBareDiff(lines, &result)
	}

	result.ChangedFiles = len(result.Files)
	return result
}

// splitLines splits on \n and drops a single trailing empty element so that
// text ending in a newline does not produce a phantom line.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

func hasGitHeader(lines []string) bool {
	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git ") {
			return true
		}
	}
	return false
}

func hasFileMarker(lines []string) bool {
	for _, line := range lines {
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") {
			return true
		}
	}
	return false
}

// parseGitDiff handles text with one or more "diff --git" sections.
func parseGitDiff(lines []string, result *ParsedDiff) {
	var current *File
	var hunk *Hunk

	flush := func() {
		if current != nil {
			if hunk != nil {
				current.Hunks = append(current.Hunks, *hunk)
				hunk = nil
			}
			current.Status = fileStatus(current)
			result.Files = append(result.Files, *current)
			current = nil
		}
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flush()
			name := rightHandPath(line)
			current = &File{Name: name, NewPath: name}
		case strings.HasPrefix(line, "--- "):
			if current != nil {
				current.OldPath = stripPathPrefix(line[len("--- "):], "a/")
			}
		case strings.HasPrefix(line, "+++ "):
			if current != nil {
				p := stripPathPrefix(line[len("+++ "):], "b/")
				current.NewPath = p
				current.Name = p
			}
		case strings.HasPrefix(line, "@@"):
			if current == nil {
				continue
			}
			if h, ok := parseHunkHeader(line); ok {
				if hunk != nil {
					current.Hunks = append(current.Hunks, *hunk)
				}
				hunk = h
				continue
			}
			// Unmatched @@ line: no hunk opened; the line itself is
			// treated as content of the previous hunk below.
			appendContent(hunk, line, result)
		default:
			appendContent(hunk, line, result)
		}
	}
	flush()
}

// parseBareDiff handles text with ---/+++ markers but no "diff --git" line:
// the whole text is one file's diff.
func parseBareDiff(lines []string, result *ParsedDiff) {
	file := File{Name: fallbackFileName}
	var hunk *Hunk

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "--- "):
			file.OldPath = stripPathPrefix(line[len("--- "):], "a/")
		case strings.HasPrefix(line, "+++ "):
			if m := bareFileNameRegex.FindStringSubmatch(line); m != nil {
				file.NewPath = m[1]
				file.Name = m[1]
			}
		case strings.HasPrefix(line, "@@"):
			if h, ok := parseHunkHeader(line); ok {
				if hunk != nil {
					file.Hunks = append(file.Hunks, *hunk)
				}
				hunk = h
				continue
			}
			appendContent(hunk, line, result)
		default:
			// Content before the first hunk header is dropped.
			appendContent(hunk, line, result)
		}
	}
	if hunk != nil {
		file.Hunks = append(file.Hunks, *hunk)
	}
	if file.NewPath == "" {
		file.NewPath = file.Name
	}
	file.Status = fileStatus(&file)
	result.Files = append(result.Files, file)
}

// appendContent adds line to the open hunk (if any) and updates the addition
// and deletion totals. Lines outside any open hunk are counted nowhere.
func appendContent(hunk *Hunk, line string, result *ParsedDiff) {
	if hunk == nil {
		return
	}
	hunk.Content += line + "\n"
	if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
		result.TotalAdditions++
	}
	if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
		result.TotalDeletions++
	}
}

// parseHunkHeader parses "@@ -a,b +c,d @@"; b and d default to 1 when omitted.
func parseHunkHeader(line string) (*Hunk, bool) {
	m := hunkHeaderRegex.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	return &Hunk{
		OldStart: mustAtoi(m[1]),
		OldLines: atoiDefault(m[2], 1),
		NewStart: mustAtoi(m[3]),
		NewLines: atoiDefault(m[4], 1),
		Header:   line,
	}, true
}

// mustAtoi converts a digits-only regex capture; the regex guarantees it parses.
func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// rightHandPath returns the b/ path from a "diff --git a/X b/Y" line.
func rightHandPath(line string) string {
	rest := strings.TrimPrefix(line, "diff --git ")
	parts := strings.Fields(rest)
	if len(parts) < 2 {
		return fallbackFileName
	}
	return strings.TrimPrefix(parts[len(parts)-1], "b/")
}

// stripPathPrefix trims a trailing tab section and the a// b/ prefix from a
// ---/+++ path. "/dev/null" is returned unchanged.
func stripPathPrefix(s, prefix string) string {
	if idx := strings.IndexByte(s, '\t'); idx >= 0 {
		s = s[:idx]
	}
	if s == devNull {
		return s
	}
	return strings.TrimPrefix(s, prefix)
}

func fileStatus(f *File) string {
	switch {
	case f.OldPath == devNull:
		return StatusAdded
	case f.NewPath == devNull:
		return StatusDeleted
	default:
		return StatusModified
	}
}
