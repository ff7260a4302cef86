package ruleset

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/docpilot/internal/proposals"
)

type section int

const (
	sectionNone section = iota
	sectionPromptContext
	sectionRejection
	sectionModification
	sectionGates
)

var sectionNames = map[string]section{
	"PROMPT_CONTEXT":       sectionPromptContext,
	"REJECTION_RULES":      sectionRejection,
	"REVIEW_MODIFICATIONS": sectionModification,
	"QUALITY_GATES":        sectionGates,
}

type frontMatter struct {
	Tenant      string `yaml:"tenant"`
	Version     int    `yaml:"version"`
	Description string `yaml:"description"`
}

var bulletPrefix = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+`)

// Parse parses a rule document. Malformed rule lines are skipped and
// recorded in Warnings; only malformed front matter is an error.
func Parse(doc string) (*Ruleset, error) {
	rs := &Ruleset{}
	body, err := splitFrontMatter(doc, rs)
	if err != nil {
		return nil, err
	}

	current := sectionNone
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "<!--") {
			continue
		}
		if strings.HasPrefix(line, "#") {
			name := strings.ToUpper(strings.TrimSpace(strings.TrimLeft(line, "#")))
			name = strings.ReplaceAll(name, " ", "_")
			if s, ok := sectionNames[name]; ok {
				current = s
			} else {
				current = sectionNone
			}
			continue
		}

		item := bulletPrefix.ReplaceAllString(line, "")
		switch current {
		case sectionNone:
			continue
		case sectionPromptContext:
			rs.PromptContext = append(rs.PromptContext, item)
			continue
		}
		if item == line {
			// Rules must be list items; prose inside rule sections is commentary.
			continue
		}

		var perr error
		switch current {
		case sectionRejection:
			var r RejectionRule
			r, perr = parseRejection(item)
			if perr == nil {
				rs.Rejections = append(rs.Rejections, r)
			}
		case sectionModification:
			var m ModificationRule
			m, perr = parseModification(item)
			if perr == nil {
				rs.Modifications = append(rs.Modifications, m)
			}
		case sectionGates:
			var g GateRule
			g, perr = parseGate(item)
			if perr == nil {
				rs.Gates = append(rs.Gates, g)
			}
		}
		if perr != nil {
			rs.Warnings = append(rs.Warnings, fmt.Sprintf("line %d: %v", lineNo, perr))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

func splitFrontMatter(doc string, rs *Ruleset) (string, error) {
	trimmed := strings.TrimLeft(doc, "\ufeff\r\n\t ")
	if !strings.HasPrefix(trimmed, "---") {
		return doc, nil
	}
	rest := strings.TrimPrefix(trimmed, "---")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", fmt.Errorf("front matter is not terminated")
	}
	var fm frontMatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return "", fmt.Errorf("invalid front matter: %w", err)
	}
	rs.Tenant = fm.Tenant
	rs.Version = fm.Version
	rs.Description = fm.Description

	body := rest[end+len("\n---"):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	return body, nil
}

// parseRejection parses `reject if <condition>: <reason>`.
func parseRejection(s string) (RejectionRule, error) {
	rest, ok := cutWord(s, "reject")
	if !ok {
		return RejectionRule{}, fmt.Errorf("rejection rule must start with \"reject\": %q", s)
	}
	rest, ok = cutWord(rest, "if")
	if !ok {
		return RejectionRule{}, fmt.Errorf("rejection rule needs a condition: %q", s)
	}
	condText, reason, found := cutOutsideQuotes(rest, ':')
	if !found || strings.TrimSpace(reason) == "" {
		return RejectionRule{}, fmt.Errorf("rejection rule needs a reason after ':': %q", s)
	}
	cond, err := parseCondition(condText)
	if err != nil {
		return RejectionRule{}, err
	}
	return RejectionRule{When: cond, Reason: strings.TrimSpace(reason)}, nil
}

// parseModification parses replace/remove/append/prepend with an optional
// trailing `if <condition>`.
func parseModification(s string) (ModificationRule, error) {
	verb, rest, _ := strings.Cut(s, " ")
	var action Modification
	switch strings.ToLower(verb) {
	case "replace":
		oldText, after, err := readQuoted(rest)
		if err != nil {
			return ModificationRule{}, err
		}
		after, ok := cutWord(after, "with")
		if !ok {
			return ModificationRule{}, fmt.Errorf("replace needs `with`: %q", s)
		}
		newText, tail, err := readQuoted(after)
		if err != nil {
			return ModificationRule{}, err
		}
		if oldText == "" {
			return ModificationRule{}, fmt.Errorf("replace needs a non-empty search text: %q", s)
		}
		action, rest = Replace{Old: oldText, New: newText}, tail
	case "remove":
		pattern, tail, err := readQuoted(rest)
		if err != nil {
			return ModificationRule{}, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return ModificationRule{}, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		action, rest = Remove{Pattern: re}, tail
	case "append", "prepend":
		text, tail, err := readQuoted(rest)
		if err != nil {
			return ModificationRule{}, err
		}
		if strings.EqualFold(verb, "append") {
			action = Append{Text: text}
		} else {
			action = Prepend{Text: text}
		}
		rest = tail
	default:
		return ModificationRule{}, fmt.Errorf("unknown modification %q", verb)
	}

	rule := ModificationRule{Action: action, When: Always{}}
	if strings.TrimSpace(rest) == "" {
		return rule, nil
	}
	condText, ok := cutWord(rest, "if")
	if !ok {
		return ModificationRule{}, fmt.Errorf("unexpected text after modification: %q", rest)
	}
	cond, err := parseCondition(condText)
	if err != nil {
		return ModificationRule{}, err
	}
	rule.When = cond
	return rule, nil
}

// parseGate parses `flag <name> if <condition>`.
func parseGate(s string) (GateRule, error) {
	rest, ok := cutWord(s, "flag")
	if !ok {
		return GateRule{}, fmt.Errorf("quality gate must start with \"flag\": %q", s)
	}
	name, condText, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if name == "" {
		return GateRule{}, fmt.Errorf("quality gate needs a flag name: %q", s)
	}
	condText, ok = cutWord(condText, "if")
	if !ok {
		return GateRule{}, fmt.Errorf("quality gate needs a condition: %q", s)
	}
	cond, err := parseCondition(condText)
	if err != nil {
		return GateRule{}, err
	}
	return GateRule{Flag: name, When: cond}, nil
}

func parseCondition(s string) (Condition, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)

	switch {
	case lower == "always":
		return Always{}, nil
	case lower == "no docs retrieved":
		return NoDocs{}, nil
	case strings.HasPrefix(lower, "update_type is "):
		ut, err := proposals.ParseUpdateType(s[len("update_type is "):])
		if err != nil {
			return nil, err
		}
		return UpdateTypeIs{Type: ut}, nil
	case strings.HasPrefix(lower, "category is "):
		cat := strings.Trim(strings.TrimSpace(s[len("category is "):]), `"`)
		if cat == "" {
			return nil, fmt.Errorf("category condition needs a name")
		}
		return CategoryIs{Category: cat}, nil
	case strings.HasPrefix(lower, "text contains "):
		v, err := quotedOnly(s[len("text contains "):])
		if err != nil {
			return nil, err
		}
		return TextContains{Substr: v}, nil
	case strings.HasPrefix(lower, "text matches "):
		re, err := quotedPattern(s[len("text matches "):])
		if err != nil {
			return nil, err
		}
		return TextMatches{Pattern: re}, nil
	case strings.HasPrefix(lower, "page matches "):
		re, err := quotedPattern(s[len("page matches "):])
		if err != nil {
			return nil, err
		}
		return PageMatches{Pattern: re}, nil
	case strings.HasPrefix(lower, "text longer than "):
		n, err := strconv.Atoi(strings.TrimSpace(s[len("text longer than "):]))
		if err != nil {
			return nil, fmt.Errorf("invalid length: %w", err)
		}
		return TextLongerThan{N: n}, nil
	case strings.HasPrefix(lower, "text shorter than "):
		n, err := strconv.Atoi(strings.TrimSpace(s[len("text shorter than "):]))
		if err != nil {
			return nil, fmt.Errorf("invalid length: %w", err)
		}
		return TextShorterThan{N: n}, nil
	case strings.HasPrefix(lower, "similarity below "):
		f, err := strconv.ParseFloat(strings.TrimSpace(s[len("similarity below "):]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid similarity: %w", err)
		}
		return SimilarityBelow{Threshold: f}, nil
	}
	return nil, fmt.Errorf("unknown condition %q", s)
}

// cutWord strips a leading keyword (case-insensitive) followed by a space.
func cutWord(s, word string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(word) || !strings.EqualFold(s[:len(word)], word) {
		return s, false
	}
	rest := s[len(word):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return s, false
	}
	return strings.TrimSpace(rest), true
}

// readQuoted reads a Go-syntax double-quoted string from the start of s.
func readQuoted(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	q, err := strconv.QuotedPrefix(s)
	if err != nil || !strings.HasPrefix(q, `"`) {
		return "", s, fmt.Errorf("expected a double-quoted string at %q", s)
	}
	v, err := strconv.Unquote(q)
	if err != nil {
		return "", s, err
	}
	return v, strings.TrimSpace(s[len(q):]), nil
}

func quotedOnly(s string) (string, error) {
	v, rest, err := readQuoted(s)
	if err != nil {
		return "", err
	}
	if rest != "" {
		return "", fmt.Errorf("unexpected text %q", rest)
	}
	return v, nil
}

func quotedPattern(s string) (*regexp.Regexp, error) {
	v, err := quotedOnly(s)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(v)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", v, err)
	}
	return re, nil
}

// cutOutsideQuotes splits s at the first sep that is not inside a
// double-quoted string.
func cutOutsideQuotes(s string, sep byte) (string, string, bool) {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '"':
			inQuote = !inQuote
		case sep:
			if !inQuote {
				return s[:i], s[i+1:], true
			}
		}
	}
	return s, "", false
}
