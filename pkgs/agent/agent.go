// Package agent runs the reporting pipeline: select the spam folder, find
// the messages of the current window, drop what was already reported or
// excluded, download the rest, and hand the batch to the forwarding gate and
// dispatcher. Iterations are strictly sequential; the loop sleeps in between
// and reacts to cancellation.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message/mail"

	"github.com/spamreport/agent/pkgs/config"
	"github.com/spamreport/agent/pkgs/forward"
	"github.com/spamreport/agent/pkgs/mailbox"
	"github.com/spamreport/agent/pkgs/registry"
	"github.com/spamreport/agent/pkgs/selector"
	"github.com/spamreport/agent/pkgs/store"
	"github.com/spamreport/agent/pkgs/triage"
	"github.com/spamreport/agent/pkgs/window"
)

// Mailbox is the slice of the session the pipeline needs.
type Mailbox interface {
	ListFolders() []string
	SelectFolder(name string) (uint32, error)
	FolderStatus(name string) (uint32, bool)
	SearchSince(since time.Time) ([]imap.UID, error)
	FetchHeader(uid imap.UID) ([]byte, error)
	FetchSize(uid imap.UID) int64
	FetchInternalDate(uid imap.UID) (time.Time, bool)
	FetchBody(uid imap.UID) ([]byte, error)
	Close()
}

// Dialer opens a fresh authenticated session. Each iteration dials its own
// connection so a long sleep can never hold a dead one.
type Dialer func() (Mailbox, error)

// sizeDefault substitutes for messages whose size the server does not
// report, so batch totals stay meaningful.
const sizeDefault = 1024

// Deps wires the pipeline together.
type Deps struct {
	Dial       Dialer
	Selector   *selector.Selector
	Registry   *registry.Registry
	Gate       *forward.Gate
	Dispatcher *forward.Dispatcher

	// FirstRun marks the first fully completed iteration. While it is
	// absent, discovery failures are fatal and the folder preview runs.
	FirstRun *registry.Marker

	Logger *slog.Logger
	Now    func() time.Time
}

// Agent is the iteration pipeline plus its scheduling loop.
type Agent struct {
	cfg  *config.Config
	deps Deps
}

func New(cfg *config.Config, deps Deps) *Agent {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Agent{cfg: cfg, deps: deps}
}

// candidate is one message that survived dedup and window filtering so far.
type candidate struct {
	uid      imap.UID
	subject  string
	sender   string
	received time.Time
	hasDate  bool
	size     int64
	body     []byte
}

// RunIteration performs one complete pass. Errors are returned for the loop
// to classify; per-message problems are logged and skipped so one broken
// message cannot sink the batch.
func (a *Agent) RunIteration() error {
	log := a.deps.Logger

	mb, err := a.deps.Dial()
	if err != nil {
		return fmt.Errorf("opening mailbox session: %w", err)
	}
	defer mb.Close()

	firstRun := !a.deps.FirstRun.Exists()
	if firstRun && a.cfg.FolderPreview {
		a.deps.Selector.Preview(mb)
	}

	name, count, err := a.deps.Selector.Select(mb)
	if err != nil {
		return err
	}
	if count == 0 {
		log.Info("spam folder is empty", "folder", name)
		return a.finishIteration(nil)
	}

	now := a.deps.Now()
	cutoff := window.Cutoff(now, a.cfg.WindowHours)
	uids, err := mb.SearchSince(window.CoarseSearchDate(now, a.cfg.WindowHours))
	if err != nil {
		return err
	}
	log.Info("coarse search done", "folder", name, "matches", len(uids))

	candidates := a.collect(mb, a.dedup(uids), cutoff)
	if len(candidates) == 0 {
		log.Info("no new messages to report")
		return a.finishIteration(nil)
	}

	items, err := a.download(mb, candidates, now)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		log.Info("no messages survived download")
		return a.finishIteration(nil)
	}

	ok, err := a.deps.Gate.Approve(items)
	if err != nil {
		return err
	}
	if !ok {
		// Cancelled: files stay, registry untouched, candidates remain
		// eligible next iteration.
		return a.finishIteration(nil)
	}

	if err := a.deps.Dispatcher.Send(items); err != nil {
		return err
	}

	if a.cfg.Simulate {
		log.Info("simulation: registry left untouched", "messages", len(items))
		return a.finishIteration(nil)
	}

	forwarded := make([]string, len(items))
	for i, it := range items {
		forwarded[i] = it.UID
	}
	return a.finishIteration(forwarded)
}

// finishIteration records forwarded UIDs and marks the first completed run.
func (a *Agent) finishIteration(forwarded []string) error {
	if err := a.deps.Registry.Add(forwarded); err != nil {
		return err
	}
	if !a.deps.FirstRun.Exists() {
		if err := a.deps.FirstRun.Set(); err != nil {
			a.deps.Logger.Warn("could not record first completed run", "error", err)
		}
	}
	return nil
}

// dedup drops UIDs already present in the registry. This happens before the
// precise window filter: an already-reported message needs no further
// fetches at all.
func (a *Agent) dedup(uids []imap.UID) []imap.UID {
	known := a.deps.Registry.Load()
	fresh := uids[:0:0]
	for _, uid := range uids {
		if _, seen := known[uidString(uid)]; seen {
			continue
		}
		fresh = append(fresh, uid)
	}
	if skipped := len(uids) - len(fresh); skipped > 0 {
		a.deps.Logger.Info("already reported", "messages", skipped)
	}
	return fresh
}

// collect applies the precise window filter and the triage rules.
func (a *Agent) collect(mb Mailbox, uids []imap.UID, cutoff time.Time) []candidate {
	log := a.deps.Logger
	rules := a.cfg.Rules()

	var out []candidate
	for _, uid := range uids {
		received, hasDate := mb.FetchInternalDate(uid)
		if !window.Retain(received, hasDate, cutoff) {
			continue
		}

		header, err := mb.FetchHeader(uid)
		if err != nil {
			log.Warn("skipping message without readable header", "uid", uint32(uid), "error", err)
			continue
		}
		sender, subject := parseHeader(header)

		c := candidate{
			uid:      uid,
			subject:  subject,
			sender:   sender,
			received: received,
			hasDate:  hasDate,
		}

		if !rules.Empty() {
			// Body text is only needed when rules can match it.
			body, err := mb.FetchBody(uid)
			if err != nil {
				log.Warn("could not fetch body for triage, keeping message", "uid", uint32(uid), "error", err)
			} else {
				c.body = body
			}
			verdict := rules.Evaluate(triageMessage(c))
			if !verdict.Forward {
				log.Info("triage filtered message", "uid", uint32(uid), "subject", subject, "reason", verdict.Reason)
				continue
			}
		}

		if c.size = mb.FetchSize(uid); c.size == 0 {
			c.size = sizeDefault
		}
		out = append(out, c)
	}
	return out
}

// download writes each candidate into this iteration's directory and builds
// the dispatch items.
func (a *Agent) download(mb Mailbox, candidates []candidate, now time.Time) ([]forward.Item, error) {
	log := a.deps.Logger

	var total int64
	for _, c := range candidates {
		total += c.size
	}
	dir, err := store.Create(a.cfg.BaseDirectory, a.cfg.Account, now, len(candidates), total)
	if err != nil {
		return nil, err
	}
	log.Info("downloading batch", "dir", dir.Path, "messages", len(candidates), "size", store.SizeString(total))

	var items []forward.Item
	for _, c := range candidates {
		body := c.body
		if body == nil {
			if body, err = mb.FetchBody(c.uid); err != nil {
				log.Warn("skipping message that failed to download", "uid", uint32(c.uid), "error", err)
				continue
			}
		}
		path, err := dir.SaveMessage(c.subject, uidString(c.uid), body)
		if err != nil {
			log.Warn("skipping message that failed to save", "uid", uint32(c.uid), "error", err)
			continue
		}
		items = append(items, forward.Item{
			UID:      uidString(c.uid),
			Subject:  c.subject,
			Received: c.received,
			Path:     path,
		})
	}
	return items, nil
}

// Run iterates until the context is cancelled. Safety violations always
// abort; a missing spam folder aborts only before the first completed run,
// afterwards it is treated like any transient failure.
func (a *Agent) Run(ctx context.Context, once bool) error {
	log := a.deps.Logger
	interval := time.Duration(a.cfg.LoopHours * float64(time.Hour))

	for {
		err := a.RunIteration()
		switch {
		case err == nil:
		case errors.Is(err, mailbox.ErrUnsafeFolder):
			return err
		case errors.Is(err, selector.ErrNoSpamFolder) && !a.deps.FirstRun.Exists():
			return err
		default:
			log.Error("iteration failed", "error", err)
		}

		if once {
			return err
		}

		log.Info("sleeping until next iteration", "hours", a.cfg.LoopHours)
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-time.After(interval):
		}
	}
}

func uidString(uid imap.UID) string {
	return strconv.FormatUint(uint64(uid), 10)
}

func triageMessage(c candidate) triage.Message {
	return triage.Message{
		Sender:  c.sender,
		Subject: c.subject,
		Body:    string(c.body),
	}
}

// parseHeader pulls sender and subject out of raw header bytes. Unreadable
// headers degrade to empty values rather than dropping the message.
func parseHeader(raw []byte) (sender, subject string) {
	// CreateReader can hand back a usable reader together with a charset
	// error; only a nil reader is a dead end.
	mr, _ := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		return "", ""
	}
	subject, _ = mr.Header.Subject()
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		sender = addrs[0].Address
	}
	return sender, subject
}
