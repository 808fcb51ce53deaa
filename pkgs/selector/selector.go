// Package selector discovers which folder actually holds the account's spam.
// A previously confirmed choice is cached on disk and reused as long as it
// still selects; otherwise candidates are gathered from the server listing
// and a set of well-known provider names, probed, and offered to the
// operator as a numbered choice.
package selector

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spamreport/agent/pkgs/folder"
	"github.com/spamreport/agent/pkgs/prompt"
	"github.com/spamreport/agent/pkgs/wire"
)

// ErrNoSpamFolder is returned when not a single selectable spam folder could
// be found. On the very first run this is fatal: without a confirmed folder
// the agent has nothing safe to operate on.
var ErrNoSpamFolder = errors.New("no selectable spam folder found")

// wellKnown lists provider spam folder names in preference order. They are
// probed even when the listing does not mention them, since some servers
// hide special-use folders from a plain LIST.
var wellKnown = []string{
	"[Gmail]/Spam",
	"[Google Mail]/Spam",
	"Spam",
	"[Gmail]/Junk",
	"Junk",
}

// Mailbox is the slice of the session the selector needs.
type Mailbox interface {
	ListFolders() []string
	SelectFolder(name string) (uint32, error)
	FolderStatus(name string) (uint32, bool)
}

// Cache persists the confirmed folder name as a single-line file.
type Cache struct {
	path string
}

func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Load returns the cached folder name, if any.
func (c *Cache) Load() (string, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", false
	}
	name := strings.TrimSpace(string(data))
	return name, name != ""
}

func (c *Cache) Save(name string) error {
	if err := os.WriteFile(c.path, []byte(name+"\n"), 0o644); err != nil {
		return fmt.Errorf("saving folder cache: %w", err)
	}
	return nil
}

// Clear removes the cache file. A missing file is fine.
func (c *Cache) Clear() {
	os.Remove(c.path)
}

// Selector picks the spam folder for a session.
type Selector struct {
	cache    *Cache
	explicit string
	prompter prompt.Prompter
	logger   *slog.Logger
}

// New builds a selector. explicit optionally names the configured folder; it
// is offered as the first candidate but gets no exemption from the safety
// checks.
func New(cache *Cache, explicit string, prompter prompt.Prompter, logger *slog.Logger) *Selector {
	return &Selector{
		cache:    cache,
		explicit: normalizeInput(explicit),
		prompter: prompter,
		logger:   logger,
	}
}

// Select returns the name and message count of the selected spam folder,
// leaving it selected on the session. A cached folder that still selects is
// reused without prompting; a stale cache entry is cleared and selection
// starts fresh.
func (s *Selector) Select(mb Mailbox) (string, uint32, error) {
	if cached, ok := s.cache.Load(); ok {
		name := normalizeInput(cached)
		count, err := mb.SelectFolder(name)
		if err == nil {
			s.logger.Info("using cached spam folder", "folder", name, "messages", count)
			return name, count, nil
		}
		s.logger.Warn("cached spam folder no longer selectable", "folder", name, "error", err)
		s.cache.Clear()
	}

	listed := mb.ListFolders()
	candidates := s.gatherCandidates(listed)

	type probe struct {
		name  string
		count uint32
	}
	var selectable []probe
	for _, name := range candidates {
		count, err := mb.SelectFolder(name)
		if err != nil {
			s.logger.Debug("candidate not selectable", "folder", name, "error", err)
			continue
		}
		selectable = append(selectable, probe{name, count})
	}

	if len(selectable) == 0 {
		s.logger.Error("no spam folder found, full folder listing follows")
		for _, name := range listed {
			s.logger.Error("discovered folder", "folder", name)
		}
		return "", 0, ErrNoSpamFolder
	}

	chosen := selectable[0]
	if len(selectable) > 1 {
		options := make([]string, len(selectable))
		def := 0
		for i, p := range selectable {
			options[i] = fmt.Sprintf("%s (%d messages)", p.name, p.count)
			if def == 0 && isWellKnown(p.name) {
				def = i
			}
		}
		idx, err := s.prompter.Choose("Multiple spam folders found, which one should be reported?", options, def)
		if err != nil {
			return "", 0, fmt.Errorf("folder choice: %w", err)
		}
		chosen = selectable[idx]
	}

	// Probing may have left a different folder selected.
	count, err := mb.SelectFolder(chosen.name)
	if err != nil {
		return "", 0, fmt.Errorf("re-selecting %s: %w", chosen.name, err)
	}

	if err := s.cache.Save(chosen.name); err != nil {
		s.logger.Warn("could not persist folder choice", "error", err)
	}
	s.logger.Info("selected spam folder", "folder", chosen.name, "messages", count)
	return chosen.name, count, nil
}

// Preview logs a message-count table for every non-forbidden folder. It runs
// on the first iteration to help the operator verify the selection.
func (s *Selector) Preview(mb Mailbox) {
	s.logger.Info("folder overview")
	for _, name := range mb.ListFolders() {
		if folder.IsForbidden(name) {
			continue
		}
		if count, ok := mb.FolderStatus(name); ok {
			s.logger.Info("folder", "name", name, "messages", count)
		} else {
			s.logger.Info("folder", "name", name, "messages", "?")
		}
	}
}

// gatherCandidates merges the explicit configuration choice, the listed spam
// candidates and the well-known names, deduplicated in that order.
func (s *Selector) gatherCandidates(listed []string) []string {
	var candidates []string
	seen := make(map[string]bool)
	add := func(name string) {
		key := folder.Normalize(name)
		if name == "" || seen[key] {
			return
		}
		seen[key] = true
		candidates = append(candidates, name)
	}

	add(s.explicit)
	for _, name := range listed {
		if folder.IsSpamCandidate(name) {
			add(name)
		}
	}
	for _, name := range wellKnown {
		add(name)
	}
	return candidates
}

func isWellKnown(name string) bool {
	norm := folder.Normalize(name)
	for _, w := range wellKnown {
		if folder.Normalize(w) == norm {
			return true
		}
	}
	return false
}

// normalizeInput unwraps folder names that were pasted or cached as raw
// protocol lines. Plain names, including ones with spaces, pass through
// untouched.
func normalizeInput(s string) string {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, `"(`) {
		if name, ok := wire.FolderName(wire.Text(s)); ok {
			return name
		}
	}
	return s
}
