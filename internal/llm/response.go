package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoJSON is returned when a response contains no JSON at all.
var ErrNoJSON = errors.New("no JSON found in response")

// DecodeResponse extracts the JSON document from a raw model response,
// repairs it when needed and unmarshals it into target.
func DecodeResponse(raw string, target interface{}) (RepairStats, error) {
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		log.Debug().Str("response", truncateForLog(raw, 200)).Msg("No JSON found in LLM response")
		return RepairStats{}, ErrNoJSON
	}

	repaired, stats, err := RepairJSON(jsonStr)
	if stats.WasRepaired {
		log.Debug().
			Strs("strategies", stats.Strategies).
			Int("original_bytes", stats.OriginalBytes).
			Int("repaired_bytes", stats.RepairedBytes).
			Msg("JSON repair applied to LLM response")
	}
	if err != nil {
		return stats, err
	}

	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return stats, fmt.Errorf("JSON parsing failed after repair: %w", err)
	}
	return stats, nil
}

// extractJSON extracts JSON content from mixed text/JSON responses
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	// Fenced ```json blocks
	if strings.Contains(raw, "```") {
		var jsonLines []string
		inCodeBlock := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if inCodeBlock {
					break
				}
				inCodeBlock = true
				continue
			}
			if inCodeBlock {
				jsonLines = append(jsonLines, line)
			}
		}
		if len(jsonLines) > 0 {
			return strings.TrimSpace(strings.Join(jsonLines, "\n"))
		}
	}

	startIdx := strings.IndexAny(raw, "{[")
	if startIdx == -1 {
		return ""
	}

	openChar := raw[startIdx]
	closeChar := byte('}')
	if openChar == '[' {
		closeChar = ']'
	}

	count := 0
	for i := startIdx; i < len(raw); i++ {
		switch raw[i] {
		case openChar:
			count++
		case closeChar:
			count--
			if count == 0 {
				return raw[startIdx : i+1]
			}
		}
	}

	// Unterminated; let the repair step close it.
	return raw[startIdx:]
}

func truncateForLog(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
