package ruleset

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/docpilot/internal/messages"
	"github.com/docpilot/internal/proposals"
)

// Subject is the part of a proposal the rules look at.
type Subject struct {
	UpdateType proposals.UpdateType
	Category   string
	Page       string
	Section    string
	Text       string
}

// Outcome is the result of evaluating a ruleset against one proposal.
type Outcome struct {
	Rejected bool
	Reason   string
	Text     string
	Modified bool
	Flags    []string
}

// ErrEmptyResult is returned when modifications would erase the text.
var ErrEmptyResult = errors.New("modifications would leave the proposal text empty")

// Evaluate applies the ruleset. The first matching rejection rule wins and
// no modification or gate is evaluated after it. On error the caller should
// keep the proposal unmodified.
func (r *Ruleset) Evaluate(subj Subject, rc *messages.RagContext) (Outcome, error) {
	out := Outcome{Text: subj.Text}
	if r == nil {
		return out, nil
	}

	for _, rule := range r.Rejections {
		ok, err := matches(rule.When, subj, rc)
		if err != nil {
			return Outcome{Text: subj.Text}, err
		}
		if ok {
			out.Rejected = true
			out.Reason = rule.Reason
			return out, nil
		}
	}

	text := subj.Text
	for _, rule := range r.Modifications {
		current := subj
		current.Text = text
		ok, err := matches(rule.When, current, rc)
		if err != nil {
			return Outcome{Text: subj.Text}, err
		}
		if !ok {
			continue
		}
		text, err = apply(rule.Action, text)
		if err != nil {
			return Outcome{Text: subj.Text}, err
		}
	}
	if strings.TrimSpace(text) == "" && strings.TrimSpace(subj.Text) != "" {
		return Outcome{Text: subj.Text}, ErrEmptyResult
	}
	out.Text = text
	out.Modified = text != subj.Text

	final := subj
	final.Text = text
	for _, gate := range r.Gates {
		ok, err := matches(gate.When, final, rc)
		if err != nil {
			return Outcome{Text: subj.Text}, err
		}
		if ok && !containsFlag(out.Flags, gate.Flag) {
			out.Flags = append(out.Flags, gate.Flag)
		}
	}
	return out, nil
}

func matches(c Condition, subj Subject, rc *messages.RagContext) (bool, error) {
	switch c := c.(type) {
	case nil, Always:
		return true, nil
	case UpdateTypeIs:
		return subj.UpdateType == c.Type, nil
	case CategoryIs:
		return strings.EqualFold(subj.Category, c.Category), nil
	case TextContains:
		return strings.Contains(strings.ToLower(subj.Text), strings.ToLower(c.Substr)), nil
	case TextMatches:
		return c.Pattern.MatchString(subj.Text), nil
	case TextLongerThan:
		return utf8.RuneCountInString(subj.Text) > c.N, nil
	case TextShorterThan:
		return utf8.RuneCountInString(subj.Text) < c.N, nil
	case PageMatches:
		return c.Pattern.MatchString(subj.Page), nil
	case SimilarityBelow:
		return rc.MaxSimilarity() < c.Threshold, nil
	case NoDocs:
		return rc == nil || len(rc.RetrievedDocs) == 0, nil
	default:
		return false, fmt.Errorf("unsupported condition %T", c)
	}
}

func apply(m Modification, text string) (string, error) {
	switch m := m.(type) {
	case Replace:
		return strings.ReplaceAll(text, m.Old, m.New), nil
	case Remove:
		return m.Pattern.ReplaceAllString(text, ""), nil
	case Append:
		return text + m.Text, nil
	case Prepend:
		return m.Text + text, nil
	default:
		return text, fmt.Errorf("unsupported modification %T", m)
	}
}

func containsFlag(flags []string, f string) bool {
	for _, x := range flags {
		if x == f {
			return true
		}
	}
	return false
}

// PromptContextText renders PROMPT_CONTEXT for injection into a system
// prompt, or "" when there is none.
func (r *Ruleset) PromptContextText() string {
	if r == nil || len(r.PromptContext) == 0 {
		return ""
	}
	var b strings.Builder
	for _, line := range r.PromptContext {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
