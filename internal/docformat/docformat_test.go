package docformat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "mixed clean-up",
			in:   "Intro<br/>\r\n\r\n* one\r\n+ two  \r\n# Title\nText\u200b here\n\n\n\n\nEnd\n\n",
			want: "Intro\n\n- one\n- two\n\n# Title\nText here\n\nEnd",
		},
		{
			name: "fenced code untouched",
			in:   "```go\n<b>keep</b>  \n* x\n\n\n\n```\n<b>bold</b>",
			want: "```go\n<b>keep</b>  \n* x\n\n\n\n```\nbold",
		},
		{
			name: "two blank lines survive",
			in:   "a\n\n\nb",
			want: "a\n\n\nb",
		},
		{
			name: "thematic break kept",
			in:   "a\n\n* * *\n\nb",
			want: "a\n\n* * *\n\nb",
		},
		{
			name: "heading at top gets no gap",
			in:   "\n\n## Setup\n- step",
			want: "## Setup\n- step",
		},
		{
			name: "autolinks are not tags",
			in:   "See <https://example.com/docs>",
			want: "See <https://example.com/docs>",
		},
		{
			name: "old mac line endings",
			in:   "a\rb\r",
			want: "a\nb",
		},
		{
			name: "empty",
			in:   "  \n\n",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.in))
		})
	}
}

func TestFormatIsIdempotent(t *testing.T) {
	inputs := []string{
		"Intro<br/>\r\n\r\n* one\r\n+ two  \r\n# Title\nText\u200b here\n\n\n\n\nEnd\n\n",
		"<<b>b>nested</b>\n* item",
		"<\u200bb>hidden tag",
		"text\n```\nunclosed fence\n\n\n\n",
		"<p>```</p>\ncode?\n```",
		"# A\n# B\n\n\n\n# C\r\n   * deep bullet\n~~~\nx\n~~~~\n",
		"\ufeffleading bom\n\n\n\n\n",
	}
	for _, in := range inputs {
		once := Format(in)
		assert.Equal(t, once, Format(once), "input %q", in)
	}
}
