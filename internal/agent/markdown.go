package agent

import (
	"regexp"
	"strings"
)

var (
	codeFenceRe      = regexp.MustCompile("(?m)^```[a-zA-Z]*\\s*$")
	emptyListItemRe  = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s*$`)
	listMarkerRe     = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+\S`)
	trailingSpacesRe = regexp.MustCompile(`(?m)[ \t]+$`)
)

// CleanMarkdown post-processes model output: strips code fence lines,
// drops empty list markers, removes blank lines between consecutive list
// items, and trims trailing whitespace. The transform is idempotent.
func CleanMarkdown(s string) string {
	s = codeFenceRe.ReplaceAllString(s, "")
	s = emptyListItemRe.ReplaceAllString(s, "")
	s = trailingSpacesRe.ReplaceAllString(s, "")

	lines := strings.Split(s, "\n")
	var out []string
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			// Drop blank lines sandwiched between two list items.
			if prevIsListItem(out) && nextIsListItem(lines, i+1) {
				continue
			}
			// Collapse runs of blank lines.
			if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
				continue
			}
		}
		out = append(out, line)
	}

	result := strings.Join(out, "\n")
	return strings.TrimSpace(result) + "\n"
}

func prevIsListItem(lines []string) bool {
	if len(lines) == 0 {
		return false
	}
	return listMarkerRe.MatchString(lines[len(lines)-1])
}

func nextIsListItem(lines []string, from int) bool {
	for i := from; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		return listMarkerRe.MatchString(lines[i])
	}
	return false
}
