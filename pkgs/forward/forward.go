// Package forward holds the last step of the pipeline: the gate that guards
// the very first real dispatch behind an explicit operator confirmation, and
// the dispatcher that bundles the downloaded messages into one report mail.
package forward

import (
	"bytes"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/spamreport/agent/pkgs/prompt"
	"github.com/spamreport/agent/pkgs/registry"
)

// Item is one downloaded message ready to be reported.
type Item struct {
	UID      string
	Subject  string
	Received time.Time // zero when the server reported no date
	Path     string    // local .eml file
}

// Gate decides whether a real dispatch may proceed. The first non-simulated
// dispatch ever requires the operator to confirm after seeing exactly what
// would be sent; the confirmation is persisted so it is asked only once.
type Gate struct {
	marker   *registry.Marker
	prompter prompt.Prompter
	simulate bool
	logger   *slog.Logger
}

func NewGate(marker *registry.Marker, prompter prompt.Prompter, simulate bool, logger *slog.Logger) *Gate {
	return &Gate{marker: marker, prompter: prompter, simulate: simulate, logger: logger}
}

// Approve returns whether dispatch may proceed. A declined confirmation
// cancels without persisting anything: the same messages stay eligible for
// the next iteration.
func (g *Gate) Approve(items []Item) (bool, error) {
	if g.simulate {
		return true, nil
	}
	if g.marker.Exists() {
		return true, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "About to forward %d message(s) for the first time:\n", len(items))
	for _, it := range items {
		date := "unknown date"
		if !it.Received.IsZero() {
			date = it.Received.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&b, "  - %s (%s)\n", it.Subject, date)
	}
	b.WriteString("Proceed with real forwarding?")

	ok, err := g.prompter.Confirm(b.String())
	if err != nil {
		return false, fmt.Errorf("first-run confirmation: %w", err)
	}
	if !ok {
		g.logger.Info("forwarding declined, nothing sent")
		return false, nil
	}
	if err := g.marker.Set(); err != nil {
		return false, fmt.Errorf("recording first-run confirmation: %w", err)
	}
	return true, nil
}

// Options holds the submission server settings.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string

	// StartTLS upgrades the connection before authenticating (the
	// production default). Tests run against a plaintext server.
	StartTLS bool
}

// Dispatcher sends the report bundle over SMTP.
type Dispatcher struct {
	opts     Options
	from     string
	to       string
	simulate bool
	logger   *slog.Logger
}

func NewDispatcher(opts Options, from, to string, simulate bool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{opts: opts, from: from, to: to, simulate: simulate, logger: logger}
}

// Send forwards all items as message/rfc822 attachments of a single report
// mail. In simulation mode it only logs what would have been sent; that
// counts as success for the iteration but must never reach the registry.
func (d *Dispatcher) Send(items []Item) error {
	if len(items) == 0 {
		return nil
	}
	if d.simulate {
		d.logger.Info("simulation: skipping dispatch", "messages", len(items), "to", d.to)
		for _, it := range items {
			d.logger.Info("simulation: would forward", "uid", it.UID, "subject", it.Subject)
		}
		return nil
	}

	msg, err := d.buildBundle(items)
	if err != nil {
		return fmt.Errorf("building report: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", d.opts.Host, d.opts.Port)
	var client *smtp.Client
	if d.opts.StartTLS {
		client, err = smtp.DialStartTLS(addr, &tls.Config{ServerName: d.opts.Host})
	} else {
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer client.Close()

	if d.opts.Password != "" {
		auth := sasl.NewPlainClient("", d.opts.Username, d.opts.Password)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("submission auth failed: %w", err)
		}
	}

	if err := client.SendMail(d.from, []string{d.to}, msg); err != nil {
		return fmt.Errorf("sending report: %w", err)
	}

	d.logger.Info("report dispatched", "messages", len(items), "to", d.to)
	return nil
}

func (d *Dispatcher) buildBundle(items []Item) (*bytes.Buffer, error) {
	var buf bytes.Buffer

	var header mail.Header
	header.SetDate(time.Now())
	header.SetSubject(fmt.Sprintf("Spam Report: %d messages", len(items)))
	header.SetAddressList("From", []*mail.Address{{Address: d.from}})
	header.SetAddressList("To", []*mail.Address{{Address: d.to}})
	header.Set("Message-ID", generateMessageID(d.from))

	mw, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, err
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := iw.CreatePart(th)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(tw, "Attached are %d unsolicited messages from %s.\r\n", len(items), d.from)
	for _, it := range items {
		fmt.Fprintf(tw, "  %s\r\n", filepath.Base(it.Path))
	}
	tw.Close()
	if err := iw.Close(); err != nil {
		return nil, err
	}

	for _, it := range items {
		if err := attachMessage(mw, it); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func attachMessage(mw *mail.Writer, it Item) error {
	var h mail.AttachmentHeader
	h.SetFilename(filepath.Base(it.Path))
	h.SetContentType("message/rfc822", nil)

	w, err := mw.CreateAttachment(h)
	if err != nil {
		return err
	}
	defer w.Close()

	f, err := os.Open(it.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", it.Path, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("attaching %s: %w", it.Path, err)
	}
	return nil
}

// generateMessageID builds an RFC 5322 Message-ID from the sender's domain.
func generateMessageID(fromEmail string) string {
	domain := "localhost"
	if idx := strings.Index(fromEmail, "@"); idx >= 0 {
		domain = fromEmail[idx+1:]
	}
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), hex.EncodeToString(b), domain)
}
