package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type proposalPayload struct {
	Page       string `json:"page"`
	UpdateType string `json:"update_type"`
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bare object", `{"page": "docs/a.md", "update_type": "UPDATE"}`},
		{"fenced block", "Here you go:\n```json\n{\"page\": \"docs/a.md\", \"update_type\": \"UPDATE\"}\n```\nThanks"},
		{"prose around object", `Sure. {"page": "docs/a.md", "update_type": "UPDATE"} Let me know.`},
		{"trailing comma", `{"page": "docs/a.md", "update_type": "UPDATE",}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got proposalPayload
			_, err := DecodeResponse(tt.raw, &got)
			require.NoError(t, err)
			assert.Equal(t, proposalPayload{Page: "docs/a.md", UpdateType: "UPDATE"}, got)
		})
	}
}

func TestDecodeResponseNoJSON(t *testing.T) {
	var got proposalPayload
	_, err := DecodeResponse("I cannot help with that.", &got)
	require.True(t, errors.Is(err, ErrNoJSON))
}

func TestDecodeResponseWrongShape(t *testing.T) {
	var got proposalPayload
	_, err := DecodeResponse(`{"page": 42}`, &got)
	require.Error(t, err)
}
