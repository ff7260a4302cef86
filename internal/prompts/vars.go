package prompts

import (
	"regexp"
	"strings"
)

// Placeholder represents a single {{VAR:...}} occurrence with parsed options.
type Placeholder struct {
	Raw     string
	Name    string
	Options map[string]string // join, default
}

var (
	// Matches {{VAR:name|key=value|key2="quoted value"}}
	// Capture 1 = name, Capture 2 = options (may be empty)
	varPattern = regexp.MustCompile(`\{\{VAR:([a-zA-Z0-9_\-]+)((?:\|[^}]+)?)}}`)
	optPattern = regexp.MustCompile(`\|([^=|]+)=([^|]+)`) // key=value segments
)

// ParsePlaceholders returns all placeholder occurrences in order of appearance.
func ParsePlaceholders(body string) []Placeholder {
	matches := varPattern.FindAllStringSubmatch(body, -1)
	out := make([]Placeholder, 0, len(matches))
	for _, m := range matches {
		opts := map[string]string{}
		for _, seg := range optPattern.FindAllStringSubmatch(m[2], -1) {
			key := strings.TrimSpace(seg[1])
			val := strings.TrimSpace(seg[2])
			if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
				val = val[1 : len(val)-1]
			}
			opts[strings.ToLower(key)] = decodeEscapes(val)
		}
		out = append(out, Placeholder{Raw: m[0], Name: m[1], Options: opts})
	}
	return out
}

// Render substitutes every placeholder in tpl. A variable's values are joined
// with the join option (default "\n"); a missing or empty variable renders
// its default option, or nothing.
func Render(tpl string, vars map[string][]string) string {
	var b strings.Builder
	last := 0
	for _, idx := range varPattern.FindAllStringIndex(tpl, -1) {
		b.WriteString(tpl[last:idx[0]])
		ph := ParsePlaceholders(tpl[idx[0]:idx[1]])[0]

		sep, ok := ph.Options["join"]
		if !ok {
			sep = "\n"
		}
		val := strings.Join(nonEmpty(vars[ph.Name]), sep)
		if val == "" {
			val = ph.Options["default"]
		}
		b.WriteString(val)
		last = idx[1]
	}
	b.WriteString(tpl[last:])
	return b.String()
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func decodeEscapes(s string) string {
	// Minimal decoding: \n, \t, \r, \; leave others as-is
	b := strings.Builder{}
	b.Grow(len(s))
	esc := false
	for _, r := range s {
		if !esc {
			if r == '\\' {
				esc = true
				continue
			}
			b.WriteRune(r)
			continue
		}
		switch r {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
		esc = false
	}
	if esc {
		b.WriteByte('\\')
	}
	return b.String()
}
