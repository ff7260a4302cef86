package ruleset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/rs/zerolog/log"
)

var tenantName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Registry loads each tenant's rule document once, from <dir>/<tenant>.md,
// and keeps the parsed value. A missing document yields an empty ruleset.
type Registry struct {
	dir   string
	mu    sync.Mutex
	cache map[string]*Ruleset
}

func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, cache: make(map[string]*Ruleset)}
}

// Get returns the tenant's ruleset.
func (r *Registry) Get(tenant string) (*Ruleset, error) {
	if !tenantName.MatchString(tenant) {
		return nil, fmt.Errorf("invalid tenant name %q", tenant)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rs, ok := r.cache[tenant]; ok {
		return rs, nil
	}

	path := filepath.Join(r.dir, tenant+".md")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		rs := &Ruleset{Tenant: tenant}
		r.cache[tenant] = rs
		return rs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ruleset %s: %w", path, err)
	}

	rs, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse ruleset %s: %w", path, err)
	}
	if rs.Tenant == "" {
		rs.Tenant = tenant
	}
	for _, w := range rs.Warnings {
		log.Warn().Str("tenant", tenant).Str("path", path).Msg("Skipped ruleset line: " + w)
	}
	log.Info().
		Str("tenant", tenant).
		Int("rejections", len(rs.Rejections)).
		Int("modifications", len(rs.Modifications)).
		Int("gates", len(rs.Gates)).
		Msg("Loaded ruleset")
	r.cache[tenant] = rs
	return rs, nil
}

// Reload drops cached rulesets so the next Get reads from disk.
func (r *Registry) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*Ruleset)
}
