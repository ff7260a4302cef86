package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// RepairStats records which repair strategies were needed to make a model
// response parse.
type RepairStats struct {
	OriginalBytes int      `json:"original_bytes"`
	RepairedBytes int      `json:"repaired_bytes"`
	Strategies    []string `json:"strategies"`
	WasRepaired   bool     `json:"was_repaired"`
}

var (
	trailingCommaObject = regexp.MustCompile(`,\s*}`)
	trailingCommaArray  = regexp.MustCompile(`,\s*]`)
)

// RepairJSON attempts to repair malformed JSON. Cheap local fixes are tried
// first (trailing commas, unclosed structures); the jsonrepair library is the
// fallback for everything else.
func RepairJSON(raw string) (string, RepairStats, error) {
	stats := RepairStats{OriginalBytes: len(raw)}

	if json.Valid([]byte(raw)) {
		stats.RepairedBytes = len(raw)
		return raw, stats, nil
	}

	stats.WasRepaired = true
	repaired := raw

	if strings.Contains(repaired, ",") {
		fixed := trailingCommaObject.ReplaceAllString(repaired, "}")
		fixed = trailingCommaArray.ReplaceAllString(fixed, "]")
		if fixed != repaired {
			repaired = fixed
			stats.Strategies = append(stats.Strategies, "trailing_commas")
		}
	}

	if completed := completeJSON(repaired); completed != repaired {
		repaired = completed
		stats.Strategies = append(stats.Strategies, "completion")
	}

	if !json.Valid([]byte(repaired)) {
		libraryRepaired, err := jsonrepair.JSONRepair(repaired)
		if err == nil && libraryRepaired != repaired {
			repaired = libraryRepaired
			stats.Strategies = append(stats.Strategies, "jsonrepair_library")
		}
	}

	stats.RepairedBytes = len(repaired)
	if !json.Valid([]byte(repaired)) {
		return repaired, stats, fmt.Errorf("JSON repair failed after %d strategies", len(stats.Strategies))
	}
	return repaired, stats, nil
}

// completeJSON closes structures left open by a truncated response, in LIFO
// order. Brackets inside string literals are ignored.
func completeJSON(s string) string {
	s = strings.TrimSpace(s)

	var stack []rune
	inString := false
	escaped := false
	for _, char := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case char == '\\':
				escaped = true
			case char == '"':
				inString = false
			}
			continue
		}
		switch char {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == char {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}
