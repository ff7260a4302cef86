// Package llmcache is a content-addressed store of generative-model
// responses keyed by (prompt, purpose). Entries are never invalidated
// automatically; purging is an explicit administrative action.
package llmcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Purpose partitions cache entries by the kind of call that produced them.
type Purpose string

const (
	PurposeClassification Purpose = "classification"
	PurposeGeneration     Purpose = "generation"
	PurposeEmbeddings     Purpose = "embeddings"
	PurposeReview         Purpose = "review"
	PurposeGeneral        Purpose = "general"
)

// AllPurposes lists every purpose in a stable order.
var AllPurposes = []Purpose{PurposeClassification, PurposeGeneration, PurposeEmbeddings, PurposeReview, PurposeGeneral}

// ParsePurpose validates a purpose name.
func ParsePurpose(s string) (Purpose, error) {
	for _, p := range AllPurposes {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown cache purpose %q", s)
}

// ParsePurgeScope turns an operator's purpose and age strings into Purge
// arguments. An empty purpose or "all" selects every purpose; an empty age
// selects every entry.
func ParsePurgeScope(purpose, olderThan string) (Purpose, time.Duration, error) {
	var p Purpose
	if purpose != "" && purpose != "all" {
		parsed, err := ParsePurpose(purpose)
		if err != nil {
			return "", 0, err
		}
		p = parsed
	}
	if olderThan == "" {
		return p, 0, nil
	}
	age, err := time.ParseDuration(olderThan)
	if err != nil {
		return "", 0, fmt.Errorf("invalid age %q: %w", olderThan, err)
	}
	if age <= 0 {
		return "", 0, fmt.Errorf("age must be positive, got %s", olderThan)
	}
	return p, age, nil
}

// Entry is one cached response.
type Entry struct {
	Hash       string    `json:"hash"`
	Purpose    Purpose   `json:"purpose"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	Model      string    `json:"model,omitempty"`
	TokensUsed int       `json:"tokensUsed,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Metadata describes the call that produced a response.
type Metadata struct {
	Model      string
	TokensUsed int
}

// Key is the content address of (prompt, purpose).
func Key(prompt string, purpose Purpose) string {
	sum := sha256.Sum256([]byte(string(purpose) + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}

// Cache stores entries through a Storage backend. It is safe for concurrent
// use when the backend is; concurrent writes of one key are last-writer-wins.
type Cache struct {
	storage Storage
	now     func() time.Time
}

// New returns a cache over storage.
func New(storage Storage) *Cache {
	return &Cache{storage: storage, now: time.Now}
}

// Get returns the entry for (prompt, purpose), or nil on a miss.
func (c *Cache) Get(ctx context.Context, prompt string, purpose Purpose) (*Entry, error) {
	key := Key(prompt, purpose)
	data, err := c.storage.Get(ctx, string(purpose), key)
	if errors.Is(err, ErrNotFound) {
		cacheMisses.WithLabelValues(string(purpose)).Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s/%s: %w", purpose, key, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Prompt != prompt {
		log.Warn().Str("purpose", string(purpose)).Str("key", key).Msg("Ignoring unreadable cache entry")
		cacheMisses.WithLabelValues(string(purpose)).Inc()
		return nil, nil
	}
	cacheHits.WithLabelValues(string(purpose)).Inc()
	return &entry, nil
}

// Set stores response for (prompt, purpose).
func (c *Cache) Set(ctx context.Context, prompt, response string, purpose Purpose, meta Metadata) error {
	entry := Entry{
		Hash:       Key(prompt, purpose),
		Purpose:    purpose,
		Prompt:     prompt,
		Response:   response,
		Model:      meta.Model,
		TokensUsed: meta.TokensUsed,
		Timestamp:  c.now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := c.storage.Set(ctx, string(purpose), entry.Hash, data); err != nil {
		return fmt.Errorf("cache set %s/%s: %w", purpose, entry.Hash, err)
	}
	return nil
}

// PurgeAll removes every entry.
func (c *Cache) PurgeAll(ctx context.Context) (int, error) {
	total := 0
	for _, p := range AllPurposes {
		n, err := c.PurgePurpose(ctx, p)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// PurgePurpose removes every entry of one purpose.
func (c *Cache) PurgePurpose(ctx context.Context, purpose Purpose) (int, error) {
	return c.purge(ctx, purpose, func(string) bool { return true })
}

// PurgeOlderThan removes entries written more than age ago, across purposes.
func (c *Cache) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	total := 0
	for _, p := range AllPurposes {
		n, err := c.purge(ctx, p, c.olderThan(ctx, p, age))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Purge removes entries of purpose, or of every purpose when purpose is
// empty. A positive olderThan restricts removal to entries written before
// now minus olderThan.
func (c *Cache) Purge(ctx context.Context, purpose Purpose, olderThan time.Duration) (int, error) {
	switch {
	case purpose == "" && olderThan <= 0:
		return c.PurgeAll(ctx)
	case purpose == "":
		return c.PurgeOlderThan(ctx, olderThan)
	case olderThan <= 0:
		return c.PurgePurpose(ctx, purpose)
	default:
		return c.purge(ctx, purpose, c.olderThan(ctx, purpose, olderThan))
	}
}

func (c *Cache) olderThan(ctx context.Context, purpose Purpose, age time.Duration) func(key string) bool {
	cutoff := c.now().Add(-age)
	return func(key string) bool {
		data, err := c.storage.Get(ctx, string(purpose), key)
		if err != nil {
			return false
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return true
		}
		return entry.Timestamp.Before(cutoff)
	}
}

func (c *Cache) purge(ctx context.Context, purpose Purpose, match func(key string) bool) (int, error) {
	keys, err := c.storage.List(ctx, string(purpose))
	if err != nil {
		return 0, fmt.Errorf("cache list %s: %w", purpose, err)
	}
	removed := 0
	for _, key := range keys {
		if !match(key) {
			continue
		}
		if err := c.storage.Delete(ctx, string(purpose), key); err != nil && !errors.Is(err, ErrNotFound) {
			return removed, fmt.Errorf("cache delete %s/%s: %w", purpose, key, err)
		}
		removed++
	}
	if removed > 0 {
		log.Info().Str("purpose", string(purpose)).Int("removed", removed).Msg("Purged LLM cache entries")
	}
	return removed, nil
}

// Stats returns the number of entries per purpose.
func (c *Cache) Stats(ctx context.Context) (map[Purpose]int, error) {
	out := make(map[Purpose]int, len(AllPurposes))
	for _, p := range AllPurposes {
		keys, err := c.storage.List(ctx, string(p))
		if err != nil {
			return nil, fmt.Errorf("cache list %s: %w", p, err)
		}
		out[p] = len(keys)
	}
	return out, nil
}
