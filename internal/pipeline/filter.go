package pipeline

import (
	"context"
	"strings"

	"github.com/docpilot/internal/messages"
)

// Screen flags message content that must not reach the model.
type Screen interface {
	Name() string
	// Screen returns a non-empty reason when text should be dropped.
	Screen(ctx context.Context, text string) (reason string, err error)
}

// FilterStage drops empty, off-topic and unsafe messages. It makes no model
// calls.
type FilterStage struct {
	Include       []string
	Exclude       []string
	CaseSensitive bool
	Screens       []Screen
}

func (s *FilterStage) Name() string { return "filter" }

func (s *FilterStage) Run(ctx context.Context, pc *Context) error {
	include := s.normalize(s.Include)
	exclude := s.normalize(s.Exclude)

	kept := make([]messages.Message, 0, len(pc.Messages))
	for _, m := range pc.Messages {
		reason := s.dropReason(ctx, pc, m, include, exclude)
		if reason != "" {
			pc.Logger.Debug().Str("message_id", m.ID).Str("reason", reason).Msg("Filtered message")
			pc.Dropped[m.ID] = reason
			continue
		}
		kept = append(kept, m)
	}

	pc.FilteredMessages = kept
	pc.SetCounts(len(pc.Messages), len(kept))
	if dropped := len(pc.Messages) - len(kept); dropped > 0 {
		pc.Logger.Info().Int("dropped", dropped).Int("kept", len(kept)).Msg("Filtered messages")
	}
	return nil
}

func (s *FilterStage) dropReason(ctx context.Context, pc *Context, m messages.Message, include, exclude []string) string {
	if strings.TrimSpace(m.Content) == "" {
		return "empty"
	}
	text := m.Content
	if !s.CaseSensitive {
		text = strings.ToLower(text)
	}
	for _, kw := range exclude {
		if strings.Contains(text, kw) {
			return "excluded keyword: " + kw
		}
	}
	if len(include) > 0 && !containsAny(text, include) {
		return "no include keyword"
	}

	for _, screen := range s.Screens {
		reason, err := screen.Screen(ctx, m.Content)
		if err != nil {
			pc.Logger.Warn().Err(err).Str("screen", screen.Name()).Str("message_id", m.ID).Msg("Content screen failed, keeping message")
			continue
		}
		if reason != "" {
			return screen.Name() + ": " + reason
		}
	}
	return ""
}

func (s *FilterStage) normalize(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if !s.CaseSensitive {
			kw = strings.ToLower(kw)
		}
		out = append(out, kw)
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
