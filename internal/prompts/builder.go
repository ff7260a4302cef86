package prompts

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docpilot/internal/messages"
)

// maxExcerpt bounds each message and document body quoted in a prompt.
const maxExcerpt = 1200

// PromptBuilder provides methods for building the pipeline's model prompts
type PromptBuilder struct{}

// NewPromptBuilder creates a new prompt builder instance
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// BuildClassificationPrompt renders the batched classification call over
// msgs. Message indices in the prompt are positions in msgs.
func (pb *PromptBuilder) BuildClassificationPrompt(msgs []messages.Message, categories []string) (system, prompt string) {
	var b strings.Builder
	b.WriteString(Render(ClassificationInstructions, map[string][]string{"categories": categories}))
	b.WriteString("\n\n")
	b.WriteString(ClassificationJSONStructure)
	b.WriteString("\n\n")
	b.WriteString(MessagesHeader)
	b.WriteString("\n\n")
	pb.addMessages(&b, msgs, true)
	return ClassifierRole, b.String()
}

// GenerationInput is everything the writer sees for one conversation.
type GenerationInput struct {
	Category      string
	Summary       string
	Messages      []messages.Message
	Docs          []messages.RetrievedDoc
	PromptContext string
}

// BuildGenerationPrompt renders the proposal call for one conversation. The
// tenant's prompt context is part of the system prompt.
func (pb *PromptBuilder) BuildGenerationPrompt(in GenerationInput) (system, prompt string) {
	system = WriterRole + "\n\n" + Render(GenerationInstructions, map[string][]string{
		"prompt_context": {strings.TrimSpace(in.PromptContext)},
	})

	var b strings.Builder
	b.WriteString(GenerationJSONStructure)
	b.WriteString("\n\n")
	b.WriteString(ConversationHeader)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Category: %s\nSummary: %s\n\n", in.Category, in.Summary)
	pb.addMessages(&b, in.Messages, false)
	b.WriteString("\n")
	b.WriteString(DocsHeader)
	b.WriteString("\n\n")
	if len(in.Docs) == 0 {
		b.WriteString(NoDocsMarker + "\n")
	}
	for _, d := range in.Docs {
		fmt.Fprintf(&b, "%s%s\n", DocPrefix, d.FilePath)
		if d.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", d.Title)
		}
		fmt.Fprintf(&b, "Similarity: %.2f\n\n", d.Similarity)
		b.WriteString(excerpt(d.Content))
		b.WriteString("\n\n")
	}
	return system, b.String()
}

// BuildCondensePrompt renders the shortening call.
func (pb *PromptBuilder) BuildCondensePrompt(text string, maxChars int) (system, prompt string) {
	var b strings.Builder
	b.WriteString(Render(CondenseInstructions, map[string][]string{"max_chars": {strconv.Itoa(maxChars)}}))
	b.WriteString("\n\n")
	b.WriteString(TextHeader)
	b.WriteString("\n\n")
	b.WriteString(text)
	return EditorRole, b.String()
}

func (pb *PromptBuilder) addMessages(b *strings.Builder, msgs []messages.Message, indexed bool) {
	for i, m := range msgs {
		if indexed {
			fmt.Fprintf(b, "[%d] ", i)
		}
		fmt.Fprintf(b, "%s #%s (%s): %s\n", m.Author, m.Channel, m.Timestamp.UTC().Format(time.RFC3339), excerpt(m.Content))
	}
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxExcerpt {
		return s
	}
	cut := maxExcerpt
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
