// Package store writes downloaded messages to the local filesystem. Each
// iteration gets its own directory, named deterministically from the
// account, the timestamp and the batch size, and directories are never
// overwritten.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const maxSubjectRunes = 50

var (
	controlRe   = regexp.MustCompile(`[\r\n\t]`)
	invalidRe   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	unsafeRe    = regexp.MustCompile(`[^\p{L}\p{N}_\s.-]`)
	collapseRe  = regexp.MustCompile(`[\s_]+`)
	dirTimeForm = "2006-01-02__150405"
)

// SizeString renders a byte count the way the download directory names and
// logs expect: 512b, 12kb, 3mb.
func SizeString(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%db", n)
	case n < 1024*1024:
		return fmt.Sprintf("%dkb", n/1024)
	default:
		return fmt.Sprintf("%dmb", n/(1024*1024))
	}
}

// SanitizeFilename turns a message subject into a safe filename component.
// Empty results fall back to "NoSubject".
func SanitizeFilename(s string) string {
	s = controlRe.ReplaceAllString(s, "")
	s = invalidRe.ReplaceAllString(s, "")
	s = unsafeRe.ReplaceAllString(s, "")
	s = collapseRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, ". _")
	if s == "" {
		return "NoSubject"
	}
	return s
}

// Dir is one iteration's download directory.
type Dir struct {
	Path string
}

// DirName builds the deterministic directory name:
// [account-localpart]__YYYY-MM-DD__HHMMSS__count__size.
func DirName(account string, now time.Time, count int, totalSize int64) string {
	local := account
	if i := strings.Index(account, "@"); i >= 0 {
		local = account[:i]
	}
	return fmt.Sprintf("[%s]__%s__%d__%s", local, now.Format(dirTimeForm), count, SizeString(totalSize))
}

// Create makes the iteration directory under base. An already-existing
// directory is an error: downloads are never overwritten.
func Create(base, account string, now time.Time, count int, totalSize int64) (*Dir, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	path := filepath.Join(base, DirName(account, now, count, totalSize))
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("download directory already exists: %s", path)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}
	return &Dir{Path: path}, nil
}

// SaveMessage writes one raw message as <sanitized-subject>_<uid>.eml and
// returns the file path.
func (d *Dir) SaveMessage(subject, uid string, raw []byte) (string, error) {
	name := SanitizeFilename(subject)
	if runes := []rune(name); len(runes) > maxSubjectRunes {
		name = string(runes[:maxSubjectRunes]) + ".."
	}
	path := filepath.Join(d.Path, fmt.Sprintf("%s_%s.eml", name, uid))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("saving message %s: %w", uid, err)
	}
	return path, nil
}
