// Package sasl provides the server-side SASL mechanisms shared by the SMTP,
// POP3, and IMAP servers. PLAIN and LOGIN are backed by emersion/go-sasl;
// CRAM-MD5, DIGEST-MD5, and XOAUTH2 are local implementations of the same
// sasl.Server interface.
package sasl

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	gosasl "github.com/emersion/go-sasl"
	"golang.org/x/crypto/bcrypt"
)

// Mechanism names.
const (
	Plain     = "PLAIN"
	Login     = "LOGIN"
	CramMD5   = "CRAM-MD5"
	DigestMD5 = "DIGEST-MD5"
	XOAuth2   = "XOAUTH2"
)

var (
	// ErrAuthFailed is the normal "authentication did not succeed" signal.
	// The caller decides the wire-level reply.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrCancelled is returned when the client aborts the exchange with "*".
	ErrCancelled = errors.New("authentication cancelled")

	// ErrUnknownMechanism is returned for a mechanism name not in the registry.
	ErrUnknownMechanism = errors.New("unrecognized authentication mechanism")

	// ErrMalformedResponse is returned for responses that cannot be decoded.
	ErrMalformedResponse = errors.New("malformed authentication response")
)

// Credentials is the (username, secret) pair produced by a completed exchange.
type Credentials struct {
	Username string
	Secret   string
}

// SecretSource returns the stored secret for a username.
type SecretSource func(username string) (string, bool)

// Authenticator verifies exchanges against stored account secrets.
type Authenticator struct {
	hostname string
	lookup   SecretSource

	// Rand and Clock are injectable for deterministic challenges in tests.
	Rand  io.Reader
	Clock func() time.Time
}

// NewAuthenticator creates an Authenticator for the given hostname (used as
// the DIGEST-MD5 realm and in generated challenges).
func NewAuthenticator(hostname string, lookup SecretSource) *Authenticator {
	return &Authenticator{
		hostname: hostname,
		lookup:   lookup,
		Rand:     rand.Reader,
		Clock:    time.Now,
	}
}

// VerifySecret compares a presented secret against the stored one. A stored
// secret with a bcrypt prefix is verified as a bcrypt hash; anything else is
// compared in constant time.
func VerifySecret(stored, given string) bool {
	if strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

// verifyLogin checks a username/secret pair against the store.
func (a *Authenticator) verifyLogin(username, secret string) error {
	stored, ok := a.lookup(username)
	if !ok {
		return ErrAuthFailed
	}
	if !VerifySecret(stored, secret) {
		return ErrAuthFailed
	}
	return nil
}

// plaintextSecret returns the stored secret when it is usable for
// challenge-response digests. Hashed secrets cannot be used.
func (a *Authenticator) plaintextSecret(username string) (string, error) {
	stored, ok := a.lookup(username)
	if !ok {
		return "", ErrAuthFailed
	}
	if strings.HasPrefix(stored, "$2") {
		return "", ErrAuthFailed
	}
	return stored, nil
}

func (a *Authenticator) nonce(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(a.Rand, buf); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return buf, nil
}

// Factory creates a fresh mechanism server. The produced credentials are
// written through result when the exchange completes successfully.
type Factory func(a *Authenticator, result *Credentials) gosasl.Server

// Registry holds the enabled SASL mechanisms in advertisement order.
type Registry struct {
	auth *Authenticator

	mu        sync.Mutex
	order     []string
	factories map[string]Factory
}

// NewRegistry creates a registry with all built-in mechanisms enabled in the
// default advertisement order.
func NewRegistry(a *Authenticator) *Registry {
	r := &Registry{
		auth:      a,
		factories: make(map[string]Factory),
	}
	r.Register(Plain, newPlainServer)
	r.Register(Login, newLoginServer)
	r.Register(CramMD5, newCramMD5Server)
	r.Register(DigestMD5, newDigestMD5Server)
	r.Register(XOAuth2, newXOAuth2Server)
	return r
}

// Register adds a mechanism at the end of the advertisement order, replacing
// any existing mechanism of the same name in place.
func (r *Registry) Register(name string, f Factory) {
	name = strings.ToUpper(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; !ok {
		r.order = append(r.order, name)
	}
	r.factories[name] = f
}

// Enable restricts the registry to the named mechanisms, in the given order.
// Unknown names are rejected.
func (r *Registry) Enable(names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var order []string
	for _, name := range names {
		name = strings.ToUpper(name)
		if _, ok := r.factories[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMechanism, name)
		}
		order = append(order, name)
	}
	r.order = order
	return nil
}

// Names returns the enabled mechanism names in advertisement order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Server creates a mechanism server for one exchange. The returned
// Credentials pointer is populated when the exchange completes.
func (r *Registry) Server(name string) (gosasl.Server, *Credentials, error) {
	name = strings.ToUpper(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	enabled := false
	for _, n := range r.order {
		if n == name {
			enabled = true
			break
		}
	}
	f, ok := r.factories[name]
	if !ok || !enabled {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownMechanism, name)
	}

	result := &Credentials{}
	return f(r.auth, result), result, nil
}

// newPlainServer authenticates the NUL-separated authzid/authcid/password
// triple per RFC 4616. The authzid may be empty; a non-empty authzid must
// match the authcid.
func newPlainServer(a *Authenticator, result *Credentials) gosasl.Server {
	return gosasl.NewPlainServer(func(identity, username, password string) error {
		if identity != "" && identity != username {
			return ErrAuthFailed
		}
		if err := a.verifyLogin(username, password); err != nil {
			return err
		}
		*result = Credentials{Username: username, Secret: password}
		return nil
	})
}

// newLoginServer runs the two-round-trip LOGIN exchange with "Username:" and
// "Password:" prompts.
func newLoginServer(a *Authenticator, result *Credentials) gosasl.Server {
	return gosasl.NewLoginServer(func(username, password string) error {
		if err := a.verifyLogin(username, password); err != nil {
			return err
		}
		*result = Credentials{Username: username, Secret: password}
		return nil
	})
}

// Exchange drives a SASL server over base64-framed continuation lines.
// writeCont sends one continuation prompt carrying the base64 challenge;
// readLine returns the client's next line. A client line of "*" aborts the
// exchange with ErrCancelled.
func Exchange(srv gosasl.Server, initial []byte, writeCont func(challenge string) error, readLine func() (string, error)) error {
	resp := initial
	for {
		challenge, done, err := srv.Next(resp)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if err := writeCont(base64.StdEncoding.EncodeToString(challenge)); err != nil {
			return err
		}

		line, err := readLine()
		if err != nil {
			return err
		}
		if line == "*" {
			return ErrCancelled
		}

		resp, err = base64.StdEncoding.DecodeString(line)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
}

// DecodeInitialResponse decodes an initial response supplied inline with the
// AUTH/AUTHENTICATE command. "=" denotes an empty initial response.
func DecodeInitialResponse(s string) ([]byte, error) {
	if s == "=" {
		return []byte{}, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return b, nil
}
