// Package rules loads review rule files for injection into the generation
// request. A rule is a markdown file with YAML frontmatter (name, globs,
// priority) between --- delimiters and the rule text as body. Rules live in
// .lareview/rules/ under the repo root; loading is read-only.
package rules

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one parsed review rule.
type Rule struct {
	// Name defaults to the file name without extension when the
	// frontmatter omits it.
	Name string
	// Globs restrict the rule to matching file paths; empty means the rule
	// always applies.
	Globs []string
	// Priority orders rules in the request; higher first. Default 0.
	Priority int
	// Body is the rule text injected into the generation request.
	Body string
	// Source is the rule file name, for trace output.
	Source string
}

// frontmatter is the YAML header of a rule file. Globs accepts a string or
// a list of strings.
type frontmatter struct {
	Name     string      `yaml:"name"`
	Globs    interface{} `yaml:"globs"`
	Priority int         `yaml:"priority"`
}

// Load reads all .md files from rulesDir. A missing directory yields
// (nil, nil) so lareview works without any rules; unreadable or unparsable
// files are skipped. Results are ordered by descending priority, then name.
func Load(rulesDir string) ([]Rule, error) {
	entries, err := os.ReadDir(rulesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Rule
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(rulesDir, e.Name()))
		if err != nil {
			continue
		}
		rule, ok := parse(string(data))
		if !ok {
			continue
		}
		rule.Source = e.Name()
		if rule.Name == "" {
			rule.Name = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
		out = append(out, rule)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// parse splits content on --- delimiters, reads the YAML frontmatter, and
// returns the rule with the remainder as Body. A file without frontmatter is
// treated as an always-apply rule whose whole content is the body.
func parse(content string) (Rule, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		if trimmed == "" {
			return Rule{}, false
		}
		return Rule{Body: trimmed}, true
	}
	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		return Rule{}, false
	}
	var fm frontmatter
	if err := yaml.Unmarshal([]byte(strings.TrimSpace(parts[1])), &fm); err != nil {
		return Rule{}, false
	}
	return Rule{
		Name:     strings.TrimSpace(fm.Name),
		Globs:    normalizeGlobs(fm.Globs),
		Priority: fm.Priority,
		Body:     strings.TrimSpace(parts[2]),
	}, true
}

// normalizeGlobs accepts a YAML string or sequence and returns the glob list.
func normalizeGlobs(v interface{}) []string {
	switch g := v.(type) {
	case string:
		g = strings.TrimSpace(g)
		if g == "" {
			return nil
		}
		var out []string
		for _, part := range strings.Split(g, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []interface{}:
		var out []string
		for _, item := range g {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	default:
		return nil
	}
}

// ForFiles filters rules to those applying to at least one of the given file
// paths. A rule with no globs always applies. Glob matching uses
// filepath.Match against the full path and, for simple patterns, the base name.
func ForFiles(all []Rule, files []string) []Rule {
	if len(all) == 0 {
		return nil
	}
	var out []Rule
	for _, r := range all {
		if len(r.Globs) == 0 || matchesAny(r.Globs, files) {
			out = append(out, r)
		}
	}
	return out
}

func matchesAny(globs, files []string) bool {
	for _, file := range files {
		path := filepath.ToSlash(file)
		for _, g := range globs {
			if ok, err := filepath.Match(g, path); err == nil && ok {
				return true
			}
			if ok, _ := filepath.Match(g, filepath.Base(path)); ok {
				return true
			}
		}
	}
	return false
}
