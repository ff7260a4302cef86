// Package pipeline turns a batch of community messages into documentation
// proposal drafts through a fixed sequence of stages sharing one Context.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/docpilot/internal/logging"
	"github.com/docpilot/internal/messages"
	"github.com/docpilot/internal/proposals"
	"github.com/docpilot/internal/ruleset"
)

// ConversationThread is a run-scoped group of messages the classifier found
// worth documenting.
type ConversationThread struct {
	ID                string                  `json:"id"`
	Category          string                  `json:"category"`
	MessageIndices    []int                   `json:"messageIndices"`
	Summary           string                  `json:"summary"`
	DocValueReason    string                  `json:"docValueReason"`
	RagSearchCriteria messages.SearchCriteria `json:"ragSearchCriteria"`
}

// ThreadID derives a conversation id from the ids of the messages it covers.
// The order of ids does not matter.
func ThreadID(messageIDs []string) string {
	ids := append([]string(nil), messageIDs...)
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return "conv-" + hex.EncodeToString(sum[:8])
}

// ProposalDraft is a generated proposal before it is persisted.
type ProposalDraft struct {
	ConversationID   string               `json:"conversationId"`
	Page             string               `json:"page"`
	Section          string               `json:"section"`
	UpdateType       proposals.UpdateType `json:"updateType"`
	RawSuggestedText string               `json:"rawSuggestedText"`
	SuggestedText    string               `json:"suggestedText"`
	Reasoning        string               `json:"reasoning"`
	ModelUsed        string               `json:"modelUsed"`
	Flags            []string             `json:"flags,omitempty"`
	Condensed        bool                 `json:"condensed"`
	Rejected         bool                 `json:"rejected"`
	RejectionReason  string               `json:"rejectionReason,omitempty"`
}

// Actionable reports whether the draft should become a proposal record.
func (d *ProposalDraft) Actionable() bool {
	return d != nil && d.UpdateType != proposals.UpdateNone
}

// PromptRecord is one model exchange made by a stage.
type PromptRecord struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Cached   bool   `json:"cached"`
}

// StageMetric describes one executed stage.
type StageMetric struct {
	Name        string         `json:"name"`
	Duration    time.Duration  `json:"duration"`
	InputCount  int            `json:"inputCount"`
	OutputCount int            `json:"outputCount"`
	Prompts     []PromptRecord `json:"prompts,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Context is the mutable state shared by the stages of one run. Stages that
// fan out must go through the locking helpers.
type Context struct {
	Tenant  string
	BatchID string
	Ruleset *ruleset.Ruleset
	Logger  zerolog.Logger

	Messages         []messages.Message
	FilteredMessages []messages.Message
	Threads          []ConversationThread
	// Dropped maps the id of each message the filter removed to the reason.
	Dropped map[string]string
	// NoValue holds filtered messages that belong to no thread.
	NoValue    []messages.Message
	RagResults map[string]*messages.RagContext
	Proposals  map[string]*ProposalDraft
	// FailedMessages maps message id to the failure reason.
	FailedMessages map[string]string
	Metrics        []StageMetric
	Errors         []error

	mu      sync.Mutex
	current *StageMetric
}

// NewContext prepares a run over msgs. Until a filter runs every message
// counts as filtered.
func NewContext(tenant, batchID string, msgs []messages.Message, rs *ruleset.Ruleset) *Context {
	return &Context{
		Tenant:           tenant,
		BatchID:          batchID,
		Ruleset:          rs,
		Logger:           logging.ForRun(tenant, batchID),
		Messages:         msgs,
		FilteredMessages: msgs,
		Dropped:          make(map[string]string),
		RagResults:       make(map[string]*messages.RagContext),
		Proposals:        make(map[string]*ProposalDraft),
		FailedMessages:   make(map[string]string),
	}
}

// ThreadMessages returns the filtered messages a thread covers.
func (c *Context) ThreadMessages(t ConversationThread) []messages.Message {
	out := make([]messages.Message, 0, len(t.MessageIndices))
	for _, i := range t.MessageIndices {
		if i >= 0 && i < len(c.FilteredMessages) {
			out = append(out, c.FilteredMessages[i])
		}
	}
	return out
}

// MarkFailed records a per-message failure.
func (c *Context) MarkFailed(reason string, msgs ...messages.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		if _, ok := c.FailedMessages[m.ID]; !ok {
			c.FailedMessages[m.ID] = reason
		}
	}
}

func (c *Context) threadFailed(t ConversationThread) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.ThreadMessages(t) {
		if _, ok := c.FailedMessages[m.ID]; ok {
			return true
		}
	}
	return false
}

// SetRagResult stores a thread's enrichment.
func (c *Context) SetRagResult(threadID string, rc *messages.RagContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RagResults[threadID] = rc
}

// SetProposal stores a thread's draft.
func (c *Context) SetProposal(threadID string, d *ProposalDraft) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Proposals[threadID] = d
}

// RecordPrompt attaches a model exchange to the running stage's metric.
func (c *Context) RecordPrompt(prompt, response string, cached bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.Prompts = append(c.current.Prompts, PromptRecord{Prompt: prompt, Response: response, Cached: cached})
	}
}

// SetCounts records the running stage's input and output sizes.
func (c *Context) SetCounts(in, out int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.InputCount, c.current.OutputCount = in, out
	}
}

// ProposalIDs returns the thread ids with drafts, sorted for stable output.
func (c *Context) ProposalIDs() []string {
	ids := make([]string, 0, len(c.Proposals))
	for id := range c.Proposals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Thread looks a thread up by id.
func (c *Context) Thread(id string) (ConversationThread, bool) {
	for _, t := range c.Threads {
		if t.ID == id {
			return t, true
		}
	}
	return ConversationThread{}, false
}
