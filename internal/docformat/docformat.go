// Package docformat normalizes generated markdown before it is stored or
// committed. Format is idempotent and never touches fenced code.
package docformat

import (
	"regexp"
	"strings"
)

var (
	htmlTag    = regexp.MustCompile(`</?[A-Za-z][A-Za-z0-9-]*(?:\s[^<>]*)?/?>`)
	bullet     = regexp.MustCompile(`^(\s*)[*+](\s+)`)
	thematic   = regexp.MustCompile(`^\s*([*_-])(?:\s*[*_-]){2,}\s*$`)
	heading    = regexp.MustCompile(`^#{1,6}(?:\s|$)`)
	fenceStart = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})")
	zeroWidth  = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\u2060", "", "\ufeff", "")
)

type line struct {
	text   string
	fenced bool
}

// Format applies the markdown clean-up rules to text.
func Format(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []line
	fence := ""
	for _, raw := range strings.Split(text, "\n") {
		if fence != "" {
			if closesFence(raw, fence) {
				out = append(out, line{text: strings.TrimRight(raw, " \t")})
				fence = ""
				continue
			}
			out = append(out, line{text: raw, fenced: true})
			continue
		}

		l := cleanLine(raw)
		if m := fenceStart.FindStringSubmatch(l); m != nil {
			fence = m[1]
			out = append(out, line{text: l})
			continue
		}
		if !thematic.MatchString(l) {
			l = bullet.ReplaceAllString(l, "${1}-${2}")
		}
		if heading.MatchString(l) {
			out = appendHeadingGap(out)
		}
		out = append(out, line{text: l})
	}

	out = collapseBlankRuns(out)
	for len(out) > 0 && isBlank(out[0]) {
		out = out[1:]
	}
	for len(out) > 0 && isBlank(out[len(out)-1]) {
		out = out[:len(out)-1]
	}

	lines := make([]string, len(out))
	for i, l := range out {
		lines[i] = l.text
	}
	return strings.Join(lines, "\n")
}

func cleanLine(s string) string {
	s = zeroWidth.Replace(s)
	for {
		stripped := htmlTag.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.TrimRight(s, " \t")
}

func closesFence(s, open string) bool {
	t := strings.TrimLeft(s, " ")
	if len(s)-len(t) > 3 {
		return false
	}
	t = strings.TrimRight(t, " \t")
	if len(t) < len(open) || t[0] != open[0] {
		return false
	}
	return strings.Trim(t, string(open[0])) == ""
}

// appendHeadingGap adds a blank line before a heading when the previous
// line has content.
func appendHeadingGap(out []line) []line {
	if len(out) > 0 && !isBlank(out[len(out)-1]) {
		out = append(out, line{})
	}
	return out
}

func collapseBlankRuns(in []line) []line {
	out := make([]line, 0, len(in))
	for i := 0; i < len(in); {
		if !isBlank(in[i]) || in[i].fenced {
			out = append(out, in[i])
			i++
			continue
		}
		j := i
		for j < len(in) && isBlank(in[j]) && !in[j].fenced {
			j++
		}
		if j-i >= 3 {
			out = append(out, line{})
		} else {
			out = append(out, in[i:j]...)
		}
		i = j
	}
	return out
}

func isBlank(l line) bool {
	return strings.TrimSpace(l.text) == ""
}
