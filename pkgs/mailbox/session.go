// Package mailbox owns the one authenticated, read-only IMAP connection.
// Every folder selection is double-checked against the classifier, before
// and after the server confirms it, because server responses are untrusted
// input: a folder may only reveal its true identity once selected.
//
// No operation exposed here can delete, flag or move a message; all selects
// request read-only semantics and all fetches peek.
package mailbox

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/spamreport/agent/pkgs/folder"
	"github.com/spamreport/agent/pkgs/wire"
)

// ErrUnsafeFolder is returned when an operation would touch a forbidden or
// non-spam folder. It is a safety violation: the caller must tear down the
// connection and must never retry the same selection.
var ErrUnsafeFolder = errors.New("refusing unsafe folder")

// Options holds the connection settings.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string

	// TLS enables implicit TLS (the production default). Tests dial an
	// in-memory server in plaintext.
	TLS bool
}

// Session is one authenticated IMAP connection.
type Session struct {
	opts   Options
	logger *slog.Logger
	client *imapclient.Client
}

// Dial connects and authenticates.
func Dial(opts Options, logger *slog.Logger) (*Session, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

	var client *imapclient.Client
	var err error
	if opts.TLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{})
	} else {
		client, err = imapclient.DialInsecure(addr, &imapclient.Options{})
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	return &Session{
		opts:   opts,
		logger: logger.With("server", addr),
		client: client,
	}, nil
}

// ListFolders returns the names of all folders the server reports. Protocol
// errors here are never fatal by themselves: the result degrades to empty.
func (s *Session) ListFolders() []string {
	mailboxes, err := s.client.List("", "*", &imap.ListOptions{}).Collect()
	if err != nil {
		s.logger.Warn("could not list folders", "error", err)
		return nil
	}
	names := make([]string, 0, len(mailboxes))
	for _, mb := range mailboxes {
		if mb.Mailbox != "" {
			names = append(names, mb.Mailbox)
		}
	}
	return names
}

// SelectFolder opens a folder read-only and returns its message count.
//
// Selection is refused before it is even attempted when the classifier
// forbids the name, and re-validated after the server confirms it: the
// folder must still be classified as a spam candidate, or the selection is
// closed and ErrUnsafeFolder returned.
func (s *Session) SelectFolder(name string) (uint32, error) {
	if folder.IsForbidden(name) {
		s.logger.Error("refused to select forbidden folder", "folder", name)
		return 0, fmt.Errorf("%w: %s", ErrUnsafeFolder, name)
	}

	sel, err := s.client.Select(name, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return 0, fmt.Errorf("selecting %s: %w", name, err)
	}

	cls := folder.Classify(name)
	if cls.Forbidden || !cls.SpamCandidate {
		s.unselect()
		s.logger.Error("selected folder failed post-select safety check", "folder", name)
		return 0, fmt.Errorf("%w: %s is not a spam/junk folder", ErrUnsafeFolder, name)
	}

	count, _ := wire.MessageCount(wire.Text(fmt.Sprintf("MESSAGES %d", sel.NumMessages)))
	return count, nil
}

// FolderStatus returns the message count of a folder without selecting it.
// Folders that refuse STATUS (hierarchy placeholders) report unknown.
func (s *Session) FolderStatus(name string) (uint32, bool) {
	st, err := s.client.Status(name, &imap.StatusOptions{NumMessages: true}).Wait()
	if err != nil || st.NumMessages == nil {
		return 0, false
	}
	return wire.MessageCount(wire.Text(fmt.Sprintf("MESSAGES %d", *st.NumMessages)))
}

// SearchSince runs the server's coarse date search in the selected folder
// and returns the matching persistent UIDs. The search primitive has
// date-only granularity; precise time filtering is the caller's job.
func (s *Session) SearchSince(since time.Time) ([]imap.UID, error) {
	data, err := s.client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching since %s: %w", since.Format("02-Jan-2006"), err)
	}
	return data.AllUIDs(), nil
}

// FetchHeader returns the raw header bytes of a message.
func (s *Session) FetchHeader(uid imap.UID) ([]byte, error) {
	section := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierHeader,
		Peek:      true,
	}
	buf, err := s.fetchOne(uid, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	if err != nil {
		return nil, err
	}
	raw, ok := wire.RawMessage(wire.Data(buf.FindBodySection(section)))
	if !ok {
		return nil, fmt.Errorf("no header payload for uid %d", uid)
	}
	return raw, nil
}

// FetchBody returns the complete raw message without marking it seen.
func (s *Session) FetchBody(uid imap.UID) ([]byte, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	buf, err := s.fetchOne(uid, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	if err != nil {
		return nil, err
	}
	raw, ok := wire.RawMessage(wire.Data(buf.FindBodySection(section)))
	if !ok {
		return nil, fmt.Errorf("no body payload for uid %d", uid)
	}
	return raw, nil
}

// FetchSize returns the message size in bytes, or 0 when the server did not
// report one.
func (s *Session) FetchSize(uid imap.UID) int64 {
	buf, err := s.fetchOne(uid, &imap.FetchOptions{UID: true, RFC822Size: true})
	if err != nil {
		s.logger.Warn("could not fetch size", "uid", uint32(uid), "error", err)
		return 0
	}
	size, ok := wire.MessageSize(wire.Text(fmt.Sprintf("RFC822.SIZE %d", buf.RFC822Size)))
	if !ok {
		return 0
	}
	return size
}

// FetchInternalDate returns the server's received timestamp for a message,
// or unknown when it cannot be resolved.
func (s *Session) FetchInternalDate(uid imap.UID) (time.Time, bool) {
	buf, err := s.fetchOne(uid, &imap.FetchOptions{UID: true, InternalDate: true})
	if err != nil {
		s.logger.Warn("could not fetch internal date", "uid", uint32(uid), "error", err)
		return time.Time{}, false
	}
	if buf.InternalDate.IsZero() {
		return time.Time{}, false
	}
	return wire.InternalDate(wire.Text(buf.InternalDate.Format(wire.InternalDateLayout)))
}

// Close logs out and drops the connection. It is idempotent, and teardown
// failures are logged rather than surfaced: a session that cannot say
// goodbye must never turn a finished iteration into a failed one.
func (s *Session) Close() {
	if s.client == nil {
		return
	}
	if err := s.client.Logout().Wait(); err != nil {
		s.logger.Debug("logout failed", "error", err)
	}
	if err := s.client.Close(); err != nil {
		s.logger.Debug("close failed", "error", err)
	}
	s.client = nil
}

func (s *Session) unselect() {
	if err := s.client.Unselect().Wait(); err != nil {
		s.logger.Debug("unselect failed", "error", err)
	}
}

func (s *Session) fetchOne(uid imap.UID, opts *imap.FetchOptions) (*imapclient.FetchMessageBuffer, error) {
	msgs, err := s.client.Fetch(imap.UIDSetNum(uid), opts).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching uid %d: %w", uid, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("uid %d not found", uid)
	}
	return msgs[0], nil
}
