package imap

import (
	"context"
	"encoding/base64"
	"fmt"
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

func testBackend(t *testing.T) *Backend {
	t.Helper()
	st := store.New()
	mbox, err := st.CreateMailbox("bob", "hunter2", "bob@example.com")
	if err != nil {
		t.Fatalf("CreateMailbox failed: %v", err)
	}
	inbox := mbox.Inbox()
	inbox.Append(store.NewMessage("From: Alice <alice@remote.example>\r\nTo: bob@example.com\r\nSubject: first\r\nDate: Mon, 13 Nov 2023 10:00:00 +0000\r\nMessage-Id: <one@remote.example>\r\n\r\nfirst body"))
	inbox.Append(store.NewMessage("Subject: second\r\n\r\nsecond body"))
	inbox.Append(store.NewMessage("Subject: third\r\n\r\nthird body"))
	if _, err := mbox.CreateFolder("Archive.2023"); err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}

	auth := sasl.NewAuthenticator(testHost, func(username string) (string, bool) {
		account, err := st.GetMailbox(username)
		if err != nil {
			return "", false
		}
		return account.Secret(), true
	})
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	return NewBackend(testHost, config.ProtocolConfig{}, st, sasl.NewRegistry(auth), nil, nil, clock)
}

type testClient struct {
	t    *testing.T
	conn *textproto.Conn
	seq  int
}

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

	greeting, err := tc.conn.ReadLine()
	if err != nil {
		t.Fatalf("greeting: %v", err)
	}
	if !strings.HasPrefix(greeting, "* OK") {
		t.Fatalf("unexpected greeting %q", greeting)
	}
	return tc
}

// cmd sends a tagged command and reads lines through its tagged completion.
// The tagged line is the last element of the returned slice.
func (c *testClient) cmd(command string) []string {
	c.t.Helper()
	c.seq++
	tag := fmt.Sprintf("a%03d", c.seq)
	if err := c.conn.PrintfLine("%s %s", tag, command); err != nil {
		c.t.Fatalf("sending %q: %v", command, err)
	}
	return c.collect(tag)
}

// collect reads lines until the tagged completion for tag.
func (c *testClient) collect(tag string) []string {
	c.t.Helper()
	var lines []string
	for {
		line, err := c.conn.ReadLine()
		if err != nil {
			c.t.Fatalf("reading response for %s: %v", tag, err)
		}
		lines = append(lines, line)
		if strings.HasPrefix(line, tag+" ") {
			return lines
		}
	}
}

// cmdOK sends a command and asserts OK completion.
func (c *testClient) cmdOK(command string) []string {
	c.t.Helper()
	lines := c.cmd(command)
	last := lines[len(lines)-1]
	if !strings.Contains(last, " OK") {
		c.t.Fatalf("%q: expected OK, got %q", command, last)
	}
	return lines
}

// cmdStatus sends a command and asserts the completion status word.
func (c *testClient) cmdStatus(status, command string) []string {
	c.t.Helper()
	lines := c.cmd(command)
	last := lines[len(lines)-1]
	if !strings.Contains(last, " "+status) {
		c.t.Fatalf("%q: expected %s, got %q", command, status, last)
	}
	return lines
}

func (c *testClient) login() {
	c.t.Helper()
	c.cmdOK("LOGIN bob hunter2")
}

func hasLine(lines []string, want string) bool {
	for _, line := range lines {
		if line == want {
			return true
		}
	}
	return false
}

func hasLinePrefix(lines []string, prefix string) bool {
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestCapability(t *testing.T) {
	c := startSession(t, testBackend(t))
	lines := c.cmdOK("CAPABILITY")
	if !hasLinePrefix(lines, "* CAPABILITY IMAP4rev2 LITERAL+") {
		t.Errorf("missing capability line: %v", lines)
	}
	if !strings.Contains(lines[0], "AUTH=PLAIN") || !strings.Contains(lines[0], "AUTH=CRAM-MD5") {
		t.Errorf("missing AUTH capabilities: %v", lines)
	}
	if strings.Contains(lines[0], "STARTTLS") {
		t.Errorf("STARTTLS advertised without TLS config: %v", lines)
	}
}

func TestLogin(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.cmdStatus("NO", "LOGIN bob wrong")
	c.cmdStatus("NO", "LOGIN mallory hunter2")
	c.cmdOK("LOGIN bob hunter2")
	c.cmdStatus("BAD", "LOGIN bob hunter2")
}

func TestLoginWithLiterals(t *testing.T) {
	c := startSession(t, testBackend(t))

	// Synchronizing literal: the username arrives after a continuation.
	if err := c.conn.PrintfLine("a001 LOGIN {3}"); err != nil {
		t.Fatal(err)
	}
	cont, err := c.conn.ReadLine()
	if err != nil || !strings.HasPrefix(cont, "+ ") {
		t.Fatalf("expected continuation, got %q %v", cont, err)
	}
	if err := c.conn.PrintfLine("bob {7+}\r\nhunter2"); err != nil {
		t.Fatal(err)
	}
	lines := c.collect("a001")
	if !strings.Contains(lines[len(lines)-1], "OK") {
		t.Fatalf("literal login failed: %v", lines)
	}
}

func TestAuthenticate(t *testing.T) {
	c := startSession(t, testBackend(t))

	if err := c.conn.PrintfLine("a001 AUTHENTICATE PLAIN"); err != nil {
		t.Fatal(err)
	}
	cont, err := c.conn.ReadLine()
	if err != nil || !strings.HasPrefix(cont, "+") {
		t.Fatalf("expected continuation, got %q %v", cont, err)
	}
	if err := c.conn.PrintfLine("%s", b64("\x00bob\x00hunter2")); err != nil {
		t.Fatal(err)
	}
	lines := c.collect("a001")
	if !strings.Contains(lines[len(lines)-1], "OK") {
		t.Fatalf("AUTHENTICATE failed: %v", lines)
	}
}

func TestAuthenticateInitialResponse(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.cmdOK("AUTHENTICATE PLAIN " + b64("\x00bob\x00hunter2"))
	c.cmdOK("SELECT INBOX")
}

func TestAuthenticateFailures(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.cmdStatus("NO", "AUTHENTICATE GSSAPI")
	c.cmdStatus("NO", "AUTHENTICATE PLAIN "+b64("\x00bob\x00wrong"))
}

func TestSelectResponses(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.login()

	lines := c.cmdOK("SELECT INBOX")
	if !hasLine(lines, "* 3 EXISTS") {
		t.Errorf("missing EXISTS: %v", lines)
	}
	if !hasLine(lines, "* 0 RECENT") {
		t.Errorf("missing RECENT: %v", lines)
	}
	if !hasLine(lines, `* FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`) {
		t.Errorf("missing FLAGS: %v", lines)
	}
	if !hasLinePrefix(lines, "* OK [UIDVALIDITY ") {
		t.Errorf("missing UIDVALIDITY: %v", lines)
	}
	if !hasLine(lines, "* OK [UIDNEXT 4] Predicted next UID") {
		t.Errorf("missing UIDNEXT: %v", lines)
	}
	if !hasLinePrefix(lines, "* OK [PERMANENTFLAGS ") {
		t.Errorf("missing PERMANENTFLAGS: %v", lines)
	}
	if !hasLine(lines, `* LIST () "." "INBOX"`) {
		t.Errorf("missing LIST: %v", lines)
	}
	if !strings.Contains(lines[len(lines)-1], "[READ-WRITE] SELECT completed") {
		t.Errorf("wrong completion: %v", lines)
	}

	// Selecting another folder closes the previous one.
	lines = c.cmdOK("SELECT Archive.2023")
	if !hasLine(lines, "* OK [CLOSED] Previous mailbox closed") {
		t.Errorf("missing CLOSED: %v", lines)
	}
}

func TestExamineReadOnly(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.login()

	lines := c.cmdOK("EXAMINE INBOX")
	if !strings.Contains(lines[len(lines)-1], "[READ-ONLY] EXAMINE completed") {
		t.Errorf("wrong completion: %v", lines)
	}
	c.cmdStatus("NO", `STORE 1 +FLAGS (\Deleted)`)
	c.cmdStatus("NO", "EXPUNGE")

	// BODY[] under EXAMINE must not set \Seen.
	c.cmdOK("FETCH 1 BODY[]")
	lines = c.cmdOK("FETCH 1 FLAGS")
	if !hasLine(lines, "* 1 FETCH (FLAGS ())") {
		t.Errorf("read-only fetch changed flags: %v", lines)
	}
}

func TestMailboxManagement(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.login()

	c.cmdOK("CREATE Drafts")
	c.cmdStatus("NO", "CREATE Drafts")
	c.cmdStatus("NO", "CREATE INBOX")

	lines := c.cmdOK("LIST \"\" *")
	for _, want := range []string{`* LIST () "." "INBOX"`, `* LIST () "." "Archive"`, `* LIST () "." "Archive.2023"`, `* LIST () "." "Drafts"`} {
		if !hasLine(lines, want) {
			t.Errorf("LIST missing %q: %v", want, lines)
		}
	}

	// % does not descend past the hierarchy delimiter.
	lines = c.cmdOK("LIST \"\" %")
	if hasLine(lines, `* LIST () "." "Archive.2023"`) {
		t.Errorf("%% wildcard crossed delimiter: %v", lines)
	}
	if !hasLine(lines, `* LIST () "." "Archive"`) {
		t.Errorf("%% wildcard missing top level: %v", lines)
	}

	lines = c.cmdOK(`LIST "" ""`)
	if !hasLine(lines, `* LIST (\Noselect) "." ""`) {
		t.Errorf("empty pattern: %v", lines)
	}

	c.cmdOK("RENAME Drafts Outbox")
	c.cmdStatus("NO", "RENAME Drafts Elsewhere")
	c.cmdOK("DELETE Outbox")
	c.cmdStatus("NO", "DELETE INBOX")
	c.cmdStatus("NO", "DELETE Archive")
}

func TestStatus(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.login()

	lines := c.cmdOK("STATUS INBOX (MESSAGES UIDNEXT UIDVALIDITY UNSEEN)")
	if !hasLine(lines, `* STATUS "INBOX" (MESSAGES 3 UIDNEXT 4 UIDVALIDITY 1 UNSEEN 3)`) {
		t.Errorf("unexpected STATUS: %v", lines)
	}
	c.cmdStatus("NO", "STATUS Nowhere (MESSAGES)")
	c.cmdStatus("BAD", "STATUS INBOX (GIBBERISH)")
}

func TestFetch(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.login()
	c.cmdOK("SELECT INBOX")

	lines := c.cmdOK("FETCH 1 (UID RFC822.SIZE FLAGS)")
	if !hasLinePrefix(lines, "* 1 FETCH (UID 1 RFC822.SIZE ") {
		t.Errorf("unexpected FETCH: %v", lines)
	}

	lines = c.cmdOK("FETCH 1 ENVELOPE")
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, `"first"`) {
		t.Errorf("envelope missing subject: %v", lines)
	}
	if !strings.Contains(joined, `("Alice" NIL "alice" "remote.example")`) {
		t.Errorf("envelope missing from address: %v", lines)
	}
	if !strings.Contains(joined, `"<one@remote.example>"`) {
		t.Errorf("envelope missing message-id: %v", lines)
	}

	lines = c.cmdOK("FETCH 2 BODY[]")
	joined = strings.Join(lines, "\n")
	if !strings.Contains(joined, "BODY[] {") || !strings.Contains(joined, "second body") {
		t.Errorf("BODY[] missing literal: %v", lines)
	}

	// BODY[] marks the message seen; BODY.PEEK[] does not.
	lines = c.cmdOK("FETCH 2 FLAGS")
	if !hasLine(lines, `* 2 FETCH (FLAGS (\Seen))`) {
		t.Errorf("BODY[] did not set \\Seen: %v", lines)
	}
	c.cmdOK("FETCH 3 BODY.PEEK[]")
	lines = c.cmdOK("FETCH 3 FLAGS")
	if !hasLine(lines, "* 3 FETCH (FLAGS ())") {
		t.Errorf("BODY.PEEK[] set flags: %v", lines)
	}

	lines = c.cmdOK("FETCH 1:2 FLAGS")
	if !hasLinePrefix(lines, "* 1 FETCH") || !hasLinePrefix(lines, "* 2 FETCH") {
		t.Errorf("range fetch incomplete: %v", lines)
	}

	c.cmdStatus("BAD", "FETCH 1 NONSENSE")
}

func TestUidFetch(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.login()
	c.cmdOK("SELECT INBOX")

	lines := c.cmdOK("UID FETCH 2:* FLAGS")
	if !hasLine(lines, "* 2 FETCH (UID 2 FLAGS ())") {
		t.Errorf("missing UID 2: %v", lines)
	}
	if !hasLine(lines, "* 3 FETCH (UID 3 FLAGS ())") {
		t.Errorf("missing UID 3: %v", lines)
	}
	if hasLinePrefix(lines, "* 1 FETCH") {
		t.Errorf("UID 1 should be excluded: %v", lines)
	}
}

func TestStoreAndExpunge(t *testing.T) {
	b := testBackend(t)
	c := startSession(t, b)
	c.login()
	c.cmdOK("SELECT INBOX")

	lines := c.cmdOK(`STORE 1,3 +FLAGS (\Deleted)`)
	if !hasLine(lines, `* 1 FETCH (FLAGS (\Deleted))`) || !hasLine(lines, `* 3 FETCH (FLAGS (\Deleted))`) {
		t.Errorf("unexpected STORE responses: %v", lines)
	}

	lines = c.cmdOK("EXPUNGE")
	if !hasLine(lines, "* 3 EXPUNGE") || !hasLine(lines, "* 1 EXPUNGE") {
		t.Errorf("expected descending EXPUNGE responses: %v", lines)
	}

	mbox, err := b.store.GetMailbox("bob")
	if err != nil {
		t.Fatalf("GetMailbox failed: %v", err)
	}
	if got := mbox.Inbox().MessageCount(); got != 1 {
		t.Errorf("expected 1 survivor, got %d", got)
	}
}

func TestStoreSilentAndReplace(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.login()
	c.cmdOK("SELECT INBOX")

	lines := c.cmdOK(`STORE 1 +FLAGS.SILENT (\Flagged)`)
	if hasLinePrefix(lines, "* 1 FETCH") {
		t.Errorf("SILENT store produced untagged response: %v", lines)
	}

	lines = c.cmdOK(`STORE 1 FLAGS (\Answered)`)
	if !hasLine(lines, `* 1 FETCH (FLAGS (\Answered))`) {
		t.Errorf("FLAGS replace failed: %v", lines)
	}

	lines = c.cmdOK(`STORE 1 -FLAGS (\Answered)`)
	if !hasLine(lines, "* 1 FETCH (FLAGS ())") {
		t.Errorf("-FLAGS failed: %v", lines)
	}
}

func TestJunkFlagExclusion(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.login()
	c.cmdOK("SELECT INBOX")

	c.cmdOK("STORE 1 +FLAGS ($Junk)")
	lines := c.cmdOK("STORE 1 +FLAGS ($NotJunk)")
	if !hasLine(lines, "* 1 FETCH (FLAGS ($NotJunk))") {
		t.Errorf("$Junk not cleared by $NotJunk: %v", lines)
	}
}

func TestUidExpunge(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.login()
	c.cmdOK("SELECT INBOX")

	c.cmdOK(`STORE 1:3 +FLAGS.SILENT (\Deleted)`)
	lines := c.cmdOK("UID EXPUNGE 2")
	if !hasLine(lines, "* 2 EXPUNGE") {
		t.Errorf("expected only UID 2 expunged: %v", lines)
	}
	if hasLine(lines, "* 1 EXPUNGE") || hasLine(lines, "* 3 EXPUNGE") {
		t.Errorf("UID EXPUNGE removed extra messages: %v", lines)
	}

	lines = c.cmdOK("NOOP")
	if !hasLine(lines, "* 2 EXISTS") {
		t.Errorf("expected 2 remaining messages: %v", lines)
	}
}

func TestCopy(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.login()
	c.cmdOK("SELECT INBOX")

	lines := c.cmdOK("COPY 1:2 Archive.2023")
	last := lines[len(lines)-1]
	if !strings.Contains(last, "[COPYUID 1 1,2 1,2]") {
		t.Errorf("unexpected COPYUID: %q", last)
	}

	c.cmdStatus("NO", "COPY 1 Nowhere")

	lines = c.cmdOK("STATUS Archive.2023 (MESSAGES)")
	if !hasLine(lines, `* STATUS "Archive.2023" (MESSAGES 2)`) {
		t.Errorf("copies not present: %v", lines)
	}
}

func TestAppend(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.login()

	content := "Subject: appended\r\n\r\nappended body"
	if err := c.conn.PrintfLine("a001 APPEND INBOX (\\Draft) {%d}", len(content)); err != nil {
		t.Fatal(err)
	}
	cont, err := c.conn.ReadLine()
	if err != nil || !strings.HasPrefix(cont, "+ ") {
		t.Fatalf("expected continuation, got %q %v", cont, err)
	}
	if err := c.conn.PrintfLine("%s", content); err != nil {
		t.Fatal(err)
	}
	lines := c.collect("a001")
	last := lines[len(lines)-1]
	if !strings.Contains(last, "[APPENDUID 1 4] APPEND completed") {
		t.Fatalf("unexpected APPEND completion: %q", last)
	}

	lines = c.cmdOK("SELECT INBOX")
	if !hasLine(lines, "* 4 EXISTS") {
		t.Errorf("appended message missing: %v", lines)
	}
	lines = c.cmdOK("FETCH 4 FLAGS")
	if !hasLine(lines, `* 4 FETCH (FLAGS (\Draft))`) {
		t.Errorf("appended flags missing: %v", lines)
	}

	c.cmdStatus("NO", "APPEND Nowhere {5+}\r\nhello")
}

func TestCloseExpungesUnselect(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.login()

	c.cmdOK("SELECT INBOX")
	c.cmdOK(`STORE 1 +FLAGS.SILENT (\Deleted)`)
	c.cmdOK("UNSELECT")

	c.cmdOK("SELECT INBOX")
	lines := c.cmdOK("NOOP")
	if !hasLine(lines, "* 3 EXISTS") {
		t.Errorf("UNSELECT expunged: %v", lines)
	}

	c.cmdOK("CLOSE")
	c.cmdOK("SELECT INBOX")
	lines = c.cmdOK("NOOP")
	if !hasLine(lines, "* 2 EXISTS") {
		t.Errorf("CLOSE did not expunge: %v", lines)
	}
}

func TestStateEnforcement(t *testing.T) {
	c := startSession(t, testBackend(t))

	c.cmdStatus("BAD", "SELECT INBOX")
	c.cmdStatus("BAD", "FETCH 1 FLAGS")
	c.login()
	c.cmdStatus("BAD", "FETCH 1 FLAGS")
	c.cmdStatus("BAD", "UID NOOP")
	c.cmdStatus("BAD", "FROBNICATE")
}

func TestSyntaxErrorKeepsSession(t *testing.T) {
	c := startSession(t, testBackend(t))
	c.login()
	c.cmdOK("SELECT INBOX")

	c.cmdStatus("BAD", "FETCH")
	c.cmdStatus("BAD", "STORE 1 FLAGS")
	c.cmdStatus("BAD", "FETCH 0 FLAGS")

	// The session is still usable after syntax errors.
	c.cmdOK("NOOP")
}

func TestLogout(t *testing.T) {
	c := startSession(t, testBackend(t))
	lines := c.cmdOK("LOGOUT")
	if !hasLinePrefix(lines, "* BYE") {
		t.Errorf("missing BYE: %v", lines)
	}
}
