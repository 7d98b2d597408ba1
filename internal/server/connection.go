package server

import (
	"bufio"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"golang.org/x/text/encoding"
)

// Connection wraps a client socket with CRLF line framing, an optional
// character encoding, a session transcript, and mid-stream TLS upgrade.
//
// Writers flush after every line; no reply pipelining is assumed. All reads
// and writes are recorded in a transcript buffer for test assertions.
type Connection struct {
	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	closed bool

	encoding   encoding.Encoding // nil = raw bytes (UTF-8)
	logger     *slog.Logger
	logTraffic bool

	transcript  strings.Builder
	commands    []string
	tlsProtocol string
	tlsCipher   string
}

// ConnectionConfig holds per-connection settings.
type ConnectionConfig struct {
	// Encoding applied to read and written lines. Nil means no transcoding.
	Encoding encoding.Encoding

	Logger *slog.Logger

	// LogTraffic logs every line read and written at debug level.
	LogTraffic bool
}

// NewConnection wraps an accepted socket.
func NewConnection(conn net.Conn, cfg ConnectionConfig) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		conn:       conn,
		r:          bufio.NewReader(conn),
		w:          bufio.NewWriter(conn),
		encoding:   cfg.Encoding,
		logger:     logger,
		logTraffic: cfg.LogTraffic,
	}
}

// ReadLine reads one CRLF-terminated line, without the terminator.
// A bare LF terminator is accepted as well.
func (c *Connection) ReadLine() (string, error) {
	raw, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line := strings.TrimRight(raw, "\r\n")
	if c.encoding != nil {
		decoded, err := c.encoding.NewDecoder().String(line)
		if err != nil {
			return "", err
		}
		line = decoded
	}
	c.record("C", line)
	if c.logTraffic {
		c.logger.Debug("read line", "line", line)
	}
	return line, nil
}

// ReadBytes reads exactly n raw bytes from the connection (IMAP literals).
func (c *Connection) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, err
	}
	c.record("C", string(buf))
	return buf, nil
}

// WriteLine writes one line with a forced CRLF terminator and flushes.
func (c *Connection) WriteLine(line string) error {
	out := line
	if c.encoding != nil {
		encoded, err := c.encoding.NewEncoder().String(line)
		if err != nil {
			return err
		}
		out = encoded
	}
	if _, err := c.w.WriteString(out); err != nil {
		return err
	}
	if _, err := c.w.WriteString("\r\n"); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return err
	}
	c.record("S", line)
	if c.logTraffic {
		c.logger.Debug("wrote line", "line", line)
	}
	return nil
}

// WriteLines writes a sequence of lines, flushing after each.
func (c *Connection) WriteLines(lines []string) error {
	for _, line := range lines {
		if err := c.WriteLine(line); err != nil {
			return err
		}
	}
	return nil
}

// UpgradeToTLS performs a server-side TLS handshake on the existing socket,
// replacing the underlying reader and writer in place.
func (c *Connection) UpgradeToTLS(cfg *tls.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tlsProtocol != "" {
		return ErrAlreadyTLS
	}

	tlsConn := tls.Server(c.conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}

	state := tlsConn.ConnectionState()
	c.conn = tlsConn
	c.r = bufio.NewReader(tlsConn)
	c.w = bufio.NewWriter(tlsConn)
	c.tlsProtocol = tls.VersionName(state.Version)
	c.tlsCipher = tls.CipherSuiteName(state.CipherSuite)

	return nil
}

// IsTLS returns true if the connection is encrypted.
func (c *Connection) IsTLS() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tlsProtocol != ""
}

// TLSProtocol returns the negotiated TLS protocol version name, or "".
func (c *Connection) TLSProtocol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tlsProtocol
}

// TLSCipher returns the negotiated cipher suite name, or "".
func (c *Connection) TLSCipher() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tlsCipher
}

// RemoteAddr returns the remote network address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local network address.
func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// IsClosed returns true after Close has been called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// AddCommand appends a parsed command's canonical form to the session history.
func (c *Connection) AddCommand(canonical string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, canonical)
}

// Commands returns a snapshot of the session command history.
func (c *Connection) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.commands))
	copy(out, c.commands)
	return out
}

// Transcript returns everything read from and written to the connection,
// prefixed per line with "C: " or "S: ".
func (c *Connection) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.String()
}

func (c *Connection) record(dir, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript.WriteString(dir)
	c.transcript.WriteString(": ")
	c.transcript.WriteString(line)
	c.transcript.WriteString("\n")
}
