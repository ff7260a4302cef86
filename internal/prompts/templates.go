package prompts

// System role definitions
const (
	// ClassifierRole frames the batched conversation classification call.
	ClassifierRole = "You are a documentation analyst for an open-source project. You read community support messages and decide which conversations contain knowledge worth adding to the project documentation."

	// WriterRole frames the per-conversation proposal call.
	WriterRole = "You are a technical writer maintaining the project documentation. You propose precise, minimal edits to existing documentation pages based on community conversations."

	// EditorRole frames the condense call.
	EditorRole = "You are a documentation editor. You shorten text without losing facts, commands, or code."
)

// Core instruction templates
const (
	// ClassificationInstructions is rendered with the category taxonomy.
	ClassificationInstructions = `Group the numbered messages below into conversation threads that have documentation value.
- Use only these categories: {{VAR:categories|join=", "}}
- Each message index may appear in at most one thread
- Leave out small talk, greetings, and messages without documentation value
- For every thread give a one-paragraph summary, the reason it has documentation value, and search criteria for finding the related documentation`

	// GenerationInstructions is rendered with the tenant's prompt context.
	GenerationInstructions = `Propose at most one documentation change for the conversation below.
- Choose the page from the retrieved documentation when any is listed
- Use update_type UPDATE to change an existing section, INSERT only for a genuinely new section, DELETE only for obsolete content, NONE when no change is needed
- suggested_text is the complete new markdown body of the section

PROJECT GUIDELINES:
{{VAR:prompt_context|default="- Follow the existing tone of the documentation."}}`

	// CondenseInstructions is rendered with the character limit.
	CondenseInstructions = `Rewrite the following documentation text so it is at most {{VAR:max_chars}} characters long.
Keep every command, code block, and link. Return only the rewritten markdown, without commentary.`
)

// JSON structure templates
const (
	// ClassificationJSONStructure is the expected classifier output.
	ClassificationJSONStructure = `Format your response as JSON with the following structure:
` + "```json" + `
{
  "threads": [
    {
      "category": "one of the categories",
      "message_indices": [0, 1],
      "summary": "What the conversation is about",
      "doc_value_reason": "Why this belongs in the documentation",
      "rag_search_criteria": {
        "keywords": ["keyword"],
        "semantic_query": "A natural language search query"
      }
    }
  ]
}
` + "```"

	// GenerationJSONStructure is the expected writer output.
	GenerationJSONStructure = `Format your response as JSON with the following structure:
` + "```json" + `
{
  "page": "docs/path/to/page.md",
  "section": "Section heading",
  "update_type": "INSERT|UPDATE|DELETE|NONE",
  "suggested_text": "Markdown body of the section",
  "reasoning": "Why this change is needed"
}
` + "```"
)

// Section headers
const (
	MessagesHeader     = "# Messages"
	ConversationHeader = "# Conversation"
	DocsHeader         = "# Retrieved Documentation"
	DocPrefix          = "## Doc: "
	TextHeader         = "# Text"
	NoDocsMarker       = "(No related documentation was found)"
)
