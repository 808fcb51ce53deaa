package forward

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/spamreport/agent/pkgs/prompt"
	"github.com/spamreport/agent/pkgs/registry"
)

// ---------------------------------------------------------------------------
// SMTP mock server
// ---------------------------------------------------------------------------

type testMessage struct {
	From string
	To   []string
	Data []byte
}

type testBackend struct {
	mu       sync.Mutex
	messages []*testMessage
}

func (be *testBackend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &testSession{backend: be}, nil
}

func (be *testBackend) Messages() []*testMessage {
	be.mu.Lock()
	defer be.mu.Unlock()
	return append([]*testMessage(nil), be.messages...)
}

type testSession struct {
	backend *testBackend
	msg     *testMessage
}

func (s *testSession) AuthMechanisms() []string { return []string{"PLAIN"} }

func (s *testSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != "alice@example.com" || password != "apppass" {
			return errors.New("invalid credentials")
		}
		return nil
	}), nil
}

func (s *testSession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.msg = &testMessage{From: from}
	return nil
}

func (s *testSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.msg.To = append(s.msg.To, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.Data = b
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, s.msg)
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset()        { s.msg = nil }
func (s *testSession) Logout() error { return nil }

var _ gosmtp.AuthSession = (*testSession)(nil)

func newTestSMTPServer(t *testing.T) (*testBackend, Options) {
	t.Helper()

	be := &testBackend{}
	srv := gosmtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return be, Options{Host: host, Port: port, Username: "alice@example.com", Password: "apppass"}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeEML(t *testing.T, dir, name, body string) Item {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return Item{
		UID:      "42",
		Subject:  "Totally legit offer",
		Received: time.Date(2024, time.March, 10, 15, 4, 5, 0, time.UTC),
		Path:     path,
	}
}

// ---------------------------------------------------------------------------
// Gate
// ---------------------------------------------------------------------------

func newMarker(t *testing.T) *registry.Marker {
	t.Helper()
	return registry.NewMarker(filepath.Join(t.TempDir(), "first_run_confirmed"))
}

func TestGateSimulationSkipsPrompt(t *testing.T) {
	marker := newMarker(t)
	// No scripted answers: any prompt would fail the test.
	gate := NewGate(marker, &prompt.Script{}, true, testLogger())

	ok, err := gate.Approve([]Item{{Subject: "x"}})
	if err != nil || !ok {
		t.Fatalf("Approve = (%v, %v), want (true, nil)", ok, err)
	}
	if marker.Exists() {
		t.Error("simulation must not record the first-run confirmation")
	}
}

func TestGateFirstRunConfirmed(t *testing.T) {
	marker := newMarker(t)
	gate := NewGate(marker, &prompt.Script{Answers: []string{"yes"}}, false, testLogger())

	ok, err := gate.Approve([]Item{{Subject: "x"}})
	if err != nil || !ok {
		t.Fatalf("Approve = (%v, %v), want (true, nil)", ok, err)
	}
	if !marker.Exists() {
		t.Error("confirmation not persisted")
	}

	// Second time around the marker answers for the operator.
	gate2 := NewGate(marker, &prompt.Script{}, false, testLogger())
	if ok, err := gate2.Approve([]Item{{Subject: "y"}}); err != nil || !ok {
		t.Fatalf("second Approve = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestGateFirstRunDeclined(t *testing.T) {
	marker := newMarker(t)
	gate := NewGate(marker, &prompt.Script{Answers: []string{"no"}}, false, testLogger())

	ok, err := gate.Approve([]Item{{Subject: "x"}})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("declined confirmation must cancel dispatch")
	}
	if marker.Exists() {
		t.Error("declined confirmation must not be persisted")
	}
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

func TestDispatcherSend(t *testing.T) {
	be, opts := newTestSMTPServer(t)
	dir := t.TempDir()
	items := []Item{
		writeEML(t, dir, "offer_42.eml", "From: a@b\r\nSubject: one\r\n\r\nspam one\r\n"),
		writeEML(t, dir, "deal_43.eml", "From: c@d\r\nSubject: two\r\n\r\nspam two\r\n"),
	}

	d := NewDispatcher(opts, "alice@example.com", "reports@reports.example", false, testLogger())
	if err := d.Send(items); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	msgs := be.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 bundle, got %d", len(msgs))
	}
	if msgs[0].From != "alice@example.com" {
		t.Errorf("From = %s", msgs[0].From)
	}
	if len(msgs[0].To) != 1 || msgs[0].To[0] != "reports@reports.example" {
		t.Errorf("To = %v", msgs[0].To)
	}

	data := string(msgs[0].Data)
	if !strings.Contains(data, "Spam Report: 2 messages") {
		t.Error("bundle subject missing")
	}
	if !strings.Contains(data, "message/rfc822") {
		t.Error("attachments not declared as message/rfc822")
	}
	for _, name := range []string{"offer_42.eml", "deal_43.eml"} {
		if !strings.Contains(data, name) {
			t.Errorf("attachment %s missing from bundle", name)
		}
	}
}

func TestDispatcherSimulation(t *testing.T) {
	be, opts := newTestSMTPServer(t)
	dir := t.TempDir()
	items := []Item{writeEML(t, dir, "offer_42.eml", "From: a@b\r\n\r\nx\r\n")}

	d := NewDispatcher(opts, "alice@example.com", "reports@reports.example", true, testLogger())
	if err := d.Send(items); err != nil {
		t.Fatalf("simulated Send error: %v", err)
	}
	if len(be.Messages()) != 0 {
		t.Fatal("simulation reached the SMTP server")
	}
}

func TestDispatcherNothingToSend(t *testing.T) {
	be, opts := newTestSMTPServer(t)
	d := NewDispatcher(opts, "alice@example.com", "reports@reports.example", false, testLogger())
	if err := d.Send(nil); err != nil {
		t.Fatal(err)
	}
	if len(be.Messages()) != 0 {
		t.Fatal("empty batch produced a bundle")
	}
}

func TestDispatcherBadAuth(t *testing.T) {
	_, opts := newTestSMTPServer(t)
	opts.Password = "wrong"
	dir := t.TempDir()
	items := []Item{writeEML(t, dir, "offer_42.eml", "From: a@b\r\n\r\nx\r\n")}

	d := NewDispatcher(opts, "alice@example.com", "reports@reports.example", false, testLogger())
	if err := d.Send(items); err == nil {
		t.Fatal("expected auth error, got nil")
	}
}
