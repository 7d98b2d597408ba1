package sasl

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	gosasl "github.com/emersion/go-sasl"
)

// cramMD5Server implements the server side of CRAM-MD5 (RFC 2195). The
// challenge is a message-id style string; the client answers with
// "username SP hex(HMAC-MD5(secret, challenge))".
type cramMD5Server struct {
	auth      *Authenticator
	result    *Credentials
	challenge string
	done      bool
}

func newCramMD5Server(a *Authenticator, result *Credentials) gosasl.Server {
	return &cramMD5Server{auth: a, result: result}
}

func (s *cramMD5Server) Next(response []byte) ([]byte, bool, error) {
	if s.done {
		return nil, false, ErrMalformedResponse
	}

	if s.challenge == "" {
		nonce, err := s.auth.nonce(8)
		if err != nil {
			return nil, false, err
		}
		s.challenge = fmt.Sprintf("<%x.%d@%s>", nonce, s.auth.Clock().Unix(), s.auth.hostname)
		return []byte(s.challenge), false, nil
	}

	s.done = true
	username, digest, ok := strings.Cut(string(response), " ")
	if !ok || username == "" {
		return nil, false, ErrMalformedResponse
	}

	secret, err := s.auth.plaintextSecret(username)
	if err != nil {
		return nil, false, err
	}
	if !hmac.Equal([]byte(digest), []byte(cramDigest(secret, s.challenge))) {
		return nil, false, ErrAuthFailed
	}

	*s.result = Credentials{Username: username, Secret: secret}
	return nil, true, nil
}

// cramDigest computes the lowercase hex HMAC-MD5 of the challenge keyed by
// the shared secret.
func cramDigest(secret, challenge string) string {
	mac := hmac.New(md5.New, []byte(secret))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}
