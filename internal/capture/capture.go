// Package capture writes pipeline debugging artifacts (stage metrics with
// rendered prompts and responses) to disk.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Recorder stores JSON artifacts under <dir>/<run>/, numbered from 01 within
// each run. A nil or zero Recorder is disabled.
type Recorder struct {
	dir string

	mu  sync.Mutex
	seq map[string]int
}

// New returns a recorder rooted at dir; an empty dir disables capture.
func New(dir string) *Recorder {
	return &Recorder{dir: dir, seq: make(map[string]int)}
}

func (r *Recorder) next(run string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seq == nil {
		r.seq = make(map[string]int)
	}
	r.seq[run]++
	return r.seq[run]
}

// Enabled reports whether capture is active.
func (r *Recorder) Enabled() bool {
	return r != nil && r.dir != ""
}

func (r *Recorder) writeFile(run, category, ext string, data []byte) {
	seq := r.next(run)
	runDir := filepath.Join(r.dir, run)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", runDir).Msg("capture: failed to create directory")
		return
	}

	filename := fmt.Sprintf("%02d-%s.%s", seq, category, ext)
	path := filepath.Join(runDir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("capture: failed to write file")
		return
	}

	log.Debug().Str("path", path).Msg("capture: wrote artifact")
}

// WriteJSON marshals the payload to indented JSON and stores it for the run.
// Failures are logged but otherwise ignored.
func (r *Recorder) WriteJSON(run, category string, payload interface{}) {
	if !r.Enabled() {
		return
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		log.Warn().Err(err).Str("category", category).Msg("capture: failed to marshal payload")
		return
	}

	r.writeFile(run, category, "json", data)
}
