// Package ruleset parses tenant-authored rule documents and evaluates them
// against generated proposals.
//
// A rule document is markdown with optional YAML front matter and up to four
// sections:
//
//	---
//	tenant: acme
//	version: 3
//	---
//	# PROMPT_CONTEXT
//	- Write in the second person.
//
//	# REJECTION_RULES
//	- reject if update_type is DELETE: deletions need a maintainer
//	- reject if similarity below 0.4: weakly grounded
//
//	# REVIEW_MODIFICATIONS
//	- replace "utilize" with "use"
//	- append "\n\n_Sourced from community support._" if category is troubleshooting
//
//	# QUALITY_GATES
//	- flag significant_change if text longer than 800
package ruleset

import (
	"regexp"

	"github.com/docpilot/internal/proposals"
)

// Ruleset is the parsed, immutable form of a rule document.
type Ruleset struct {
	Tenant        string
	Version       int
	Description   string
	PromptContext []string
	Rejections    []RejectionRule
	Modifications []ModificationRule
	Gates         []GateRule
	// Warnings lists lines that could not be parsed and were skipped.
	Warnings []string
}

// Empty reports whether the ruleset contains no rules or context.
func (r *Ruleset) Empty() bool {
	return r == nil || (len(r.PromptContext) == 0 && len(r.Rejections) == 0 && len(r.Modifications) == 0 && len(r.Gates) == 0)
}

// RejectionRule rejects a proposal when its condition holds.
type RejectionRule struct {
	When   Condition
	Reason string
}

// ModificationRule rewrites proposal text when its condition holds.
type ModificationRule struct {
	Action Modification
	When   Condition
}

// GateRule attaches a flag when its condition holds.
type GateRule struct {
	Flag string
	When Condition
}

// Condition is a closed set of predicates over a proposal and its
// enrichment. Only the types in this file implement it.
type Condition interface {
	condition()
}

type (
	// Always always matches.
	Always struct{}
	// UpdateTypeIs matches the proposal's update type.
	UpdateTypeIs struct{ Type proposals.UpdateType }
	// CategoryIs matches the conversation category.
	CategoryIs struct{ Category string }
	// TextContains matches a case-insensitive substring of the text.
	TextContains struct{ Substr string }
	// TextMatches matches a regular expression against the text.
	TextMatches struct{ Pattern *regexp.Regexp }
	// TextLongerThan matches texts longer than N characters.
	TextLongerThan struct{ N int }
	// TextShorterThan matches texts shorter than N characters.
	TextShorterThan struct{ N int }
	// PageMatches matches a regular expression against the target page.
	PageMatches struct{ Pattern *regexp.Regexp }
	// SimilarityBelow matches when the best retained document similarity is
	// below Threshold.
	SimilarityBelow struct{ Threshold float64 }
	// NoDocs matches when enrichment retained no documents.
	NoDocs struct{}
)

func (Always) condition()          {}
func (UpdateTypeIs) condition()    {}
func (CategoryIs) condition()      {}
func (TextContains) condition()    {}
func (TextMatches) condition()     {}
func (TextLongerThan) condition()  {}
func (TextShorterThan) condition() {}
func (PageMatches) condition()     {}
func (SimilarityBelow) condition() {}
func (NoDocs) condition()          {}

// Modification is a closed set of text rewrites.
type Modification interface {
	modification()
}

type (
	// Replace substitutes every occurrence of Old with New.
	Replace struct{ Old, New string }
	// Remove deletes every match of Pattern.
	Remove struct{ Pattern *regexp.Regexp }
	// Append adds Text at the end.
	Append struct{ Text string }
	// Prepend adds Text at the start.
	Prepend struct{ Text string }
)

func (Replace) modification() {}
func (Remove) modification()  {}
func (Append) modification()  {}
func (Prepend) modification() {}
