package changesets

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/docpilot/internal/proposals"
)

var errSectionNotFound = errors.New("section not found")

var (
	headingLine   = regexp.MustCompile(`^ {0,3}(#{1,6})[ \t]+(.*)$`)
	closingHashes = regexp.MustCompile(`[ \t]+#+$`)
	fenceLine     = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})")
)

type heading struct {
	line  int
	level int
	title string
}

func scanHeadings(lines []string) []heading {
	var out []heading
	fence := ""
	for i, l := range lines {
		if m := fenceLine.FindStringSubmatch(l); m != nil {
			switch {
			case fence == "":
				fence = m[1]
			case m[1][0] == fence[0] && len(m[1]) >= len(fence):
				fence = ""
			}
			continue
		}
		if fence != "" {
			continue
		}
		if m := headingLine.FindStringSubmatch(l); m != nil {
			title := closingHashes.ReplaceAllString(strings.TrimSpace(m[2]), "")
			out = append(out, heading{line: i, level: len(m[1]), title: title})
		}
	}
	return out
}

func sectionKey(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), "#")))
}

// sectionEnd is the line index where the section opened by hs[i] ends: the
// next heading of the same or a higher level, or the end of the document.
func sectionEnd(hs []heading, i, total int) int {
	for _, h := range hs[i+1:] {
		if h.level <= hs[i].level {
			return h.line
		}
	}
	return total
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

// applyToSection applies one proposal to a markdown document. INSERT adds the
// text at the end of the named section, or as a new section when it does not
// exist; UPDATE replaces the section body; DELETE removes the section.
func applyToSection(doc, section string, updateType proposals.UpdateType, text string) (string, error) {
	lines := strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n")
	body := strings.Split(strings.Trim(text, "\n"), "\n")
	hs := scanHeadings(lines)

	idx := -1
	if key := sectionKey(section); key != "" {
		for i, h := range hs {
			if strings.ToLower(h.title) == key {
				idx = i
				break
			}
		}
	}

	var out []string
	switch updateType {
	case proposals.UpdateInsert:
		if idx < 0 {
			end := len(lines)
			for end > 0 && isBlank(lines[end-1]) {
				end--
			}
			out = append(out, lines[:end]...)
			if end > 0 {
				out = append(out, "")
			}
			if sectionKey(section) != "" {
				out = append(out, "## "+strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(section), "#")), "")
			}
			out = append(out, body...)
			break
		}
		end := sectionEnd(hs, idx, len(lines))
		j := end
		for j > hs[idx].line+1 && isBlank(lines[j-1]) {
			j--
		}
		out = append(out, lines[:j]...)
		out = append(out, "")
		out = append(out, body...)
		if end < len(lines) {
			out = append(out, "")
		}
		out = append(out, lines[end:]...)

	case proposals.UpdateUpdate:
		if idx < 0 {
			return "", fmt.Errorf("%w: %q", errSectionNotFound, section)
		}
		end := sectionEnd(hs, idx, len(lines))
		out = append(out, lines[:hs[idx].line+1]...)
		out = append(out, "")
		out = append(out, body...)
		if end < len(lines) {
			out = append(out, "")
		}
		out = append(out, lines[end:]...)

	case proposals.UpdateDelete:
		if idx < 0 {
			return "", fmt.Errorf("%w: %q", errSectionNotFound, section)
		}
		end := sectionEnd(hs, idx, len(lines))
		out = append(out, lines[:hs[idx].line]...)
		out = append(out, lines[end:]...)

	default:
		return "", fmt.Errorf("update type %s has nothing to apply", updateType)
	}

	return strings.TrimRight(strings.Join(out, "\n"), "\n") + "\n", nil
}
