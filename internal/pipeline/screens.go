package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mdombrov-33/go-promptguard/detector"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// SecretScreen drops messages containing credentials matched by the gitleaks
// default rule set.
type SecretScreen struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewSecretScreen loads the default gitleaks configuration.
func NewSecretScreen() (*SecretScreen, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks rules: %w", err)
	}
	return &SecretScreen{detector: d}, nil
}

func (s *SecretScreen) Name() string { return "secrets" }

func (s *SecretScreen) Screen(_ context.Context, text string) (string, error) {
	s.mu.Lock()
	findings := s.detector.DetectString(text)
	s.mu.Unlock()
	if len(findings) == 0 {
		return "", nil
	}
	rules := make(map[string]struct{}, len(findings))
	for _, f := range findings {
		rules[f.RuleID] = struct{}{}
	}
	names := make([]string, 0, len(rules))
	for r := range rules {
		names = append(names, r)
	}
	sort.Strings(names)
	return "possible secret (" + strings.Join(names, ", ") + ")", nil
}

// InjectionScreen drops messages that look like prompt-injection attempts.
type InjectionScreen struct {
	detect func(ctx context.Context, text string) (safe bool, risk float64)
}

// NewInjectionScreen builds a promptguard detector with its defaults.
func NewInjectionScreen() *InjectionScreen {
	guard := detector.New()
	return &InjectionScreen{detect: func(ctx context.Context, text string) (bool, float64) {
		result := guard.Detect(ctx, text)
		return result.Safe, result.RiskScore
	}}
}

func (s *InjectionScreen) Name() string { return "prompt_injection" }

func (s *InjectionScreen) Screen(ctx context.Context, text string) (string, error) {
	safe, risk := s.detect(ctx, text)
	if safe {
		return "", nil
	}
	return fmt.Sprintf("risk score %.2f", risk), nil
}
