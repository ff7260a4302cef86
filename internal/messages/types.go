// Package messages holds imported community messages, their classifications
// and the retrieval context attached to each conversation.
package messages

import (
	"fmt"
	"time"
)

// Status is the processing status of a message.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// ParseStatus validates a stored or user-supplied status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusCompleted, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown message status %q", s)
}

// Message is one imported community message.
type Message struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenantId"`
	StreamID         string    `json:"streamId"`
	Author           string    `json:"author"`
	Channel          string    `json:"channel"`
	Content          string    `json:"content"`
	Timestamp        time.Time `json:"timestamp"`
	ProcessingStatus Status    `json:"processingStatus"`
}

// NoDocValueCategory is recorded for messages no thread claimed.
const NoDocValueCategory = "no_doc_value"

// SearchCriteria drives retrieval for a conversation.
type SearchCriteria struct {
	Keywords      []string `json:"keywords"`
	SemanticQuery string   `json:"semantic_query"`
}

// Query renders the criteria as one search string.
func (c SearchCriteria) Query() string {
	q := c.SemanticQuery
	for _, kw := range c.Keywords {
		if q != "" {
			q += " "
		}
		q += kw
	}
	return q
}

// Classification is the classifier's verdict on one message. A nil
// ConversationID means the message has no documentation value.
type Classification struct {
	MessageID         string         `json:"messageId"`
	Category          string         `json:"category"`
	ConversationID    *string        `json:"conversationId"`
	DocValueReason    string         `json:"docValueReason"`
	RagSearchCriteria SearchCriteria `json:"ragSearchCriteria"`
}

// RetrievedDoc is one documentation snippet retrieved for a conversation.
type RetrievedDoc struct {
	FilePath   string  `json:"filePath"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content,omitempty"`
}

// RagContext is the retrieval result attached to a conversation.
type RagContext struct {
	ConversationID    string         `json:"conversationId"`
	RetrievedDocs     []RetrievedDoc `json:"retrievedDocs"`
	TotalTokens       int            `json:"totalTokens"`
	ProposalsRejected bool           `json:"proposalsRejected"`
	RejectionReason   string         `json:"rejectionReason,omitempty"`
}

// MaxSimilarity is the best similarity among retained docs, zero when none.
func (r *RagContext) MaxSimilarity() float64 {
	if r == nil {
		return 0
	}
	best := 0.0
	for _, d := range r.RetrievedDocs {
		if d.Similarity > best {
			best = d.Similarity
		}
	}
	return best
}
