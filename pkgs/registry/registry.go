// Package registry persists the small pieces of state that survive between
// process runs: the set of message UIDs already forwarded, and one-shot run
// markers. All writes are whole-file rewrites so an interrupt can never
// leave a partially appended store behind.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Registry is the persisted set of message identifiers already forwarded.
// Identifiers are opaque strings compared exactly; once added, an entry is
// never removed automatically.
type Registry struct {
	path   string
	logger *slog.Logger
}

// New creates a registry backed by the given file path.
func New(path string, logger *slog.Logger) *Registry {
	return &Registry{path: path, logger: logger.With("store", filepath.Base(path))}
}

// Load reads the persisted UID set. A missing or unreadable store yields an
// empty set; losing dedup state only costs duplicate reports, which is the
// safe direction.
func (r *Registry) Load() map[string]struct{} {
	set := make(map[string]struct{})
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("could not read uid registry, starting empty", "error", err)
		}
		return set
	}
	for _, line := range strings.Split(string(data), "\n") {
		if uid := strings.TrimSpace(line); uid != "" {
			set[uid] = struct{}{}
		}
	}
	return set
}

// Save writes the full UID set as a sorted, newline-delimited file.
func (r *Registry) Save(set map[string]struct{}) error {
	uids := make([]string, 0, len(set))
	for uid := range set {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating registry directory: %w", err)
		}
	}
	data := strings.Join(uids, "\n")
	if len(uids) > 0 {
		data += "\n"
	}
	if err := os.WriteFile(r.path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("writing uid registry: %w", err)
	}
	return nil
}

// Add records newly forwarded UIDs: load, union, save.
func (r *Registry) Add(uids []string) error {
	if len(uids) == 0 {
		return nil
	}
	set := r.Load()
	for _, uid := range uids {
		set[uid] = struct{}{}
	}
	return r.Save(set)
}

// Marker is a one-shot persisted flag (first-run confirmation, first
// successful iteration). The file holds a single timestamp line; only its
// existence matters.
type Marker struct {
	path string
}

// NewMarker creates a marker backed by the given file path.
func NewMarker(path string) *Marker { return &Marker{path: path} }

// Exists reports whether the marker has been set.
func (m *Marker) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Set records the marker with the current timestamp.
func (m *Marker) Set() error {
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating marker directory: %w", err)
		}
	}
	line := fmt.Sprintf("completed: %s\n", time.Now().Format(time.RFC3339))
	if err := os.WriteFile(m.path, []byte(line), 0o644); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	return nil
}
