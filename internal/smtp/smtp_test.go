package smtp

import (
	"context"
	"encoding/base64"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/infodancer/mailmock/internal/config"
	"github.com/infodancer/mailmock/internal/sasl"
	"github.com/infodancer/mailmock/internal/server"
	"github.com/infodancer/mailmock/internal/store"
)

const testHost = "mail.example.com"

func testBackend(t *testing.T, cfg config.ProtocolConfig) *Backend {
	t.Helper()
	st := store.New()
	if _, err := st.CreateMailbox("bob", "hunter2", "bob@example.com"); err != nil {
		t.Fatalf("CreateMailbox failed: %v", err)
	}

	auth := sasl.NewAuthenticator(testHost, func(username string) (string, bool) {
		mbox, err := st.GetMailbox(username)
		if err != nil {
			return "", false
		}
		return mbox.Secret(), true
	})
	registry := sasl.NewRegistry(auth)
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	return NewBackend(testHost, cfg, st, registry, nil, nil, clock)
}

type testClient struct {
	t    *testing.T
	conn *textproto.Conn
}

// startSession runs a handler over an in-memory pipe and consumes the
// greeting.
func startSession(t *testing.T, b *Backend) *testClient {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	conn := server.NewConnection(serverSide, server.ConnectionConfig{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Close()
		b.handle(context.Background(), conn)
	}()

	tc := &testClient{t: t, conn: textproto.NewConn(clientSide)}
	t.Cleanup(func() {
		tc.conn.Close()
		<-done
	})

	if _, _, err := tc.conn.ReadResponse(220); err != nil {
		t.Fatalf("greeting: %v", err)
	}
	return tc
}

// cmd sends one command and asserts the reply code, returning the reply text.
func (c *testClient) cmd(expectCode int, line string) string {
	c.t.Helper()
	if err := c.conn.PrintfLine("%s", line); err != nil {
		c.t.Fatalf("sending %q: %v", line, err)
	}
	_, msg, err := c.conn.ReadResponse(expectCode)
	if err != nil {
		c.t.Fatalf("after %q: %v", line, err)
	}
	return msg
}

// sendLines writes raw lines without reading a reply.
func (c *testClient) sendLines(lines ...string) {
	c.t.Helper()
	for _, line := range lines {
		if err := c.conn.PrintfLine("%s", line); err != nil {
			c.t.Fatalf("sending %q: %v", line, err)
		}
	}
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestEhloCapabilities(t *testing.T) {
	b := testBackend(t, config.ProtocolConfig{})
	c := startSession(t, b)

	msg := c.cmd(250, "EHLO client.example.org")
	if !strings.Contains(msg, testHost+" Hello client.example.org") {
		t.Errorf("missing greeting line: %q", msg)
	}
	if !strings.Contains(msg, "AUTH PLAIN LOGIN CRAM-MD5 DIGEST-MD5 XOAUTH2") {
		t.Errorf("missing AUTH capability: %q", msg)
	}
	if strings.Contains(msg, "STARTTLS") {
		t.Errorf("STARTTLS advertised without TLS config: %q", msg)
	}
	if !strings.HasSuffix(msg, "HELP") {
		t.Errorf("block does not end with HELP: %q", msg)
	}
}

func TestDeliveryRoundTrip(t *testing.T) {
	b := testBackend(t, config.ProtocolConfig{})
	c := startSession(t, b)

	c.cmd(250, "HELO client")
	c.cmd(250, "MAIL FROM:<alice@remote.example>")
	c.cmd(250, "RCPT TO:<bob@example.com>")
	c.cmd(250, "RCPT TO:<nobody@example.com>")

	c.sendLines("DATA")
	if _, _, err := c.conn.ReadResponse(354); err != nil {
		t.Fatalf("DATA: %v", err)
	}
	c.sendLines("Subject: hi", "", "..", "body line", ".")
	if _, _, err := c.conn.ReadResponse(250); err != nil {
		t.Fatalf("end of data: %v", err)
	}

	mbox, err := b.Store().GetMailbox("bob")
	if err != nil {
		t.Fatalf("GetMailbox failed: %v", err)
	}
	msgs := mbox.Inbox().Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(msgs))
	}
	want := "Subject: hi\r\n\r\n.\r\nbody line"
	if msgs[0].Content() != want {
		t.Errorf("content mismatch:\n got %q\nwant %q", msgs[0].Content(), want)
	}
	if !msgs[0].Date().Equal(time.Unix(1700000000, 0)) {
		t.Errorf("message date not taken from clock: %v", msgs[0].Date())
	}

	txns := b.Transactions()
	if len(txns) != 1 {
		t.Fatalf("expected 1 archived transaction, got %d", len(txns))
	}
	txn := txns[0]
	if txn.Sender != "alice@remote.example" {
		t.Errorf("unexpected sender %q", txn.Sender)
	}
	if len(txn.Recipients) != 2 {
		t.Errorf("expected both recipients archived, got %v", txn.Recipients)
	}
	if txn.Data != want {
		t.Errorf("transaction data mismatch: %q", txn.Data)
	}
}

func TestRsetDiscardsTransaction(t *testing.T) {
	b := testBackend(t, config.ProtocolConfig{})
	c := startSession(t, b)

	c.cmd(250, "HELO client")
	c.cmd(250, "MAIL FROM:<alice@remote.example>")
	c.cmd(250, "RCPT TO:<bob@example.com>")
	c.cmd(250, "RSET")
	c.cmd(503, "DATA")

	if got := len(b.Transactions()); got != 0 {
		t.Errorf("expected no archived transactions, got %d", got)
	}
}

func TestCommandSequencing(t *testing.T) {
	b := testBackend(t, config.ProtocolConfig{})
	c := startSession(t, b)

	c.cmd(503, "MAIL FROM:<a@b>")
	c.cmd(250, "HELO client")
	c.cmd(503, "RCPT TO:<bob@example.com>")
	c.cmd(503, "DATA")
	c.cmd(250, "MAIL FROM:<a@b>")
	c.cmd(503, "MAIL FROM:<a@b>")
	c.cmd(503, "DATA")
}

func TestMailSyntax(t *testing.T) {
	b := testBackend(t, config.ProtocolConfig{})
	c := startSession(t, b)
	c.cmd(250, "HELO client")
	c.cmd(501, "MAIL")
	c.cmd(501, "MAIL FROM:alice")
	c.cmd(250, "MAIL FROM:<>")
	c.cmd(501, "RCPT TO:<>")
}

func TestAuthRequired(t *testing.T) {
	b := testBackend(t, config.ProtocolConfig{AuthRequired: true})
	c := startSession(t, b)

	c.cmd(250, "EHLO client")
	c.cmd(530, "MAIL FROM:<a@b>")

	c.cmd(235, "AUTH PLAIN "+b64("\x00bob\x00hunter2"))
	c.cmd(250, "MAIL FROM:<a@b>")
}

func TestAuthLoginContinuations(t *testing.T) {
	b := testBackend(t, config.ProtocolConfig{})
	c := startSession(t, b)
	c.cmd(250, "EHLO client")

	c.sendLines("AUTH LOGIN")
	if _, msg, err := c.conn.ReadResponse(334); err != nil || msg != b64("Username:") {
		t.Fatalf("expected username prompt, got %q err %v", msg, err)
	}
	c.sendLines(b64("bob"))
	if _, msg, err := c.conn.ReadResponse(334); err != nil || msg != b64("Password:") {
		t.Fatalf("expected password prompt, got %q err %v", msg, err)
	}
	c.sendLines(b64("hunter2"))
	if _, _, err := c.conn.ReadResponse(235); err != nil {
		t.Fatalf("expected auth success: %v", err)
	}

	c.cmd(503, "AUTH PLAIN "+b64("\x00bob\x00hunter2"))
}

func TestAuthFailures(t *testing.T) {
	b := testBackend(t, config.ProtocolConfig{})
	c := startSession(t, b)
	c.cmd(250, "EHLO client")

	c.cmd(504, "AUTH KERBEROS_V4")
	c.cmd(535, "AUTH PLAIN "+b64("\x00bob\x00wrong"))

	c.sendLines("AUTH LOGIN")
	if _, _, err := c.conn.ReadResponse(334); err != nil {
		t.Fatalf("expected continuation: %v", err)
	}
	c.sendLines("*")
	if _, _, err := c.conn.ReadResponse(501); err != nil {
		t.Fatalf("expected cancel reply: %v", err)
	}
}

func TestVrfy(t *testing.T) {
	b := testBackend(t, config.ProtocolConfig{})
	c := startSession(t, b)
	c.cmd(250, "HELO client")

	msg := c.cmd(250, "VRFY bob@example.com")
	if !strings.Contains(msg, "<bob@example.com>") {
		t.Errorf("expected mailbox address, got %q", msg)
	}
	c.cmd(252, "VRFY stranger@example.com")
	c.cmd(501, "VRFY")
}

func TestDisabledAndUnknownCommands(t *testing.T) {
	b := testBackend(t, config.ProtocolConfig{DisabledCommands: []string{"vrfy"}})
	c := startSession(t, b)
	c.cmd(250, "HELO client")
	c.cmd(502, "VRFY bob@example.com")
	c.cmd(500, "FROBNICATE")
}

func TestStarttlsUnavailable(t *testing.T) {
	b := testBackend(t, config.ProtocolConfig{})
	c := startSession(t, b)
	c.cmd(250, "EHLO client")
	c.cmd(502, "STARTTLS")
}

func TestQuitEndsSession(t *testing.T) {
	b := testBackend(t, config.ProtocolConfig{})
	c := startSession(t, b)
	c.cmd(221, "QUIT")
	if err := c.conn.PrintfLine("NOOP"); err == nil {
		if _, _, err := c.conn.ReadResponse(250); err == nil {
			t.Error("expected session to be closed after QUIT")
		}
	}
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		args    string
		keyword string
		want    string
		wantErr bool
	}{
		{"FROM:<alice@example.com>", "FROM", "alice@example.com", false},
		{"from:<alice@example.com> SIZE=1024", "FROM", "alice@example.com", false},
		{"FROM: <alice@example.com>", "FROM", "alice@example.com", false},
		{"FROM:<>", "FROM", "", false},
		{"TO:<bob@example.com>", "TO", "bob@example.com", false},
		{"FROM:alice@example.com", "FROM", "", true},
		{"FROM:<alice@example.com", "FROM", "", true},
		{"TO:<bob@example.com>", "FROM", "", true},
		{"", "FROM", "", true},
	}
	for _, tc := range tests {
		got, err := parsePath(tc.args, tc.keyword)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parsePath(%q, %q): expected error", tc.args, tc.keyword)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePath(%q, %q): %v", tc.args, tc.keyword, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parsePath(%q, %q) = %q, want %q", tc.args, tc.keyword, got, tc.want)
		}
	}
}

func TestReplyFormatting(t *testing.T) {
	tests := []struct {
		name  string
		reply Reply
		want  string
	}{
		{"simple", Reply{Code: 250, Message: "OK"}, "250 OK"},
		{"enhanced", Reply{Code: 530, Enhanced: EnhancedAuthRequired, Message: "Authentication required"}, "530 5.7.0 Authentication required"},
		{"multiline", Reply{Code: 250, Lines: []string{"a", "b", "HELP"}}, "250-a\r\n250-b\r\n250 HELP"},
		{"single line block", Reply{Code: 250, Lines: []string{"HELP"}}, "250 HELP"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.reply.String(); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
