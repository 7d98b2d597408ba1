package sasl

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	gosasl "github.com/emersion/go-sasl"
)

// digestMD5Server implements the server side of DIGEST-MD5 (RFC 2831) with
// qop=auth. The exchange has three steps: challenge, client response with
// rspauth reply, and a final empty client message acknowledging rspauth.
type digestMD5Server struct {
	auth   *Authenticator
	result *Credentials

	state    int
	nonce    string
	pending  Credentials
	finished bool
}

func newDigestMD5Server(a *Authenticator, result *Credentials) gosasl.Server {
	return &digestMD5Server{auth: a, result: result}
}

func (s *digestMD5Server) Next(response []byte) ([]byte, bool, error) {
	switch s.state {
	case 0:
		nonce, err := s.auth.nonce(16)
		if err != nil {
			return nil, false, err
		}
		s.nonce = hex.EncodeToString(nonce)
		s.state = 1
		challenge := fmt.Sprintf("realm=%q,nonce=%q,qop=%q,charset=utf-8,algorithm=md5-sess",
			s.auth.hostname, s.nonce, "auth")
		return []byte(challenge), false, nil

	case 1:
		s.state = 2
		rspauth, err := s.verify(string(response))
		if err != nil {
			return nil, false, err
		}
		s.finished = true
		return []byte("rspauth=" + rspauth), false, nil

	case 2:
		s.state = 3
		if !s.finished {
			return nil, false, ErrAuthFailed
		}
		*s.result = s.pending
		return nil, true, nil

	default:
		return nil, false, ErrMalformedResponse
	}
}

// verify checks the client's digest-response and returns the rspauth value.
func (s *digestMD5Server) verify(response string) (string, error) {
	fields, err := parseDigestResponse(response)
	if err != nil {
		return "", err
	}

	username := fields["username"]
	uri := fields["digest-uri"]
	cnonce := fields["cnonce"]
	if username == "" || uri == "" || cnonce == "" || fields["response"] == "" {
		return "", ErrMalformedResponse
	}
	if fields["nonce"] != s.nonce {
		return "", ErrAuthFailed
	}
	if fields["nc"] != "00000001" {
		return "", ErrAuthFailed
	}
	if qop, ok := fields["qop"]; ok && qop != "auth" {
		return "", ErrAuthFailed
	}
	if realm, ok := fields["realm"]; ok && realm != s.auth.hostname {
		return "", ErrAuthFailed
	}
	authzid := fields["authzid"]
	if authzid != "" && authzid != username {
		return "", ErrAuthFailed
	}

	secret, err := s.auth.plaintextSecret(username)
	if err != nil {
		return "", err
	}

	ha1 := digestHA1(username, s.auth.hostname, secret, s.nonce, cnonce, authzid)
	expected := digestKD(ha1, s.nonce, cnonce, "AUTHENTICATE:"+uri)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(fields["response"]))) != 1 {
		return "", ErrAuthFailed
	}

	s.pending = Credentials{Username: username, Secret: secret}
	return digestKD(ha1, s.nonce, cnonce, ":"+uri), nil
}

// digestHA1 computes hex(MD5(A1)) where A1 mixes the raw user-hash with the
// nonces per the md5-sess algorithm.
func digestHA1(username, realm, secret, nonce, cnonce, authzid string) string {
	userHash := md5.Sum([]byte(username + ":" + realm + ":" + secret))
	a1 := string(userHash[:]) + ":" + nonce + ":" + cnonce
	if authzid != "" {
		a1 += ":" + authzid
	}
	return hexMD5(a1)
}

// digestKD computes the response digest for the given A2 string with
// nc=00000001 and qop=auth.
func digestKD(ha1, nonce, cnonce, a2 string) string {
	return hexMD5(ha1 + ":" + nonce + ":00000001:" + cnonce + ":auth:" + hexMD5(a2))
}

func hexMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// parseDigestResponse splits a digest-response into its key=value fields.
// Values may be quoted; commas inside quotes do not split fields.
func parseDigestResponse(s string) (map[string]string, error) {
	fields := make(map[string]string)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, ErrMalformedResponse
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = s[eq+1:]

		var value string
		if strings.HasPrefix(s, `"`) {
			s = s[1:]
			var b strings.Builder
			for {
				if len(s) == 0 {
					return nil, ErrMalformedResponse
				}
				c := s[0]
				s = s[1:]
				if c == '\\' && len(s) > 0 {
					b.WriteByte(s[0])
					s = s[1:]
					continue
				}
				if c == '"' {
					break
				}
				b.WriteByte(c)
			}
			value = b.String()
			if len(s) > 0 {
				if s[0] != ',' {
					return nil, ErrMalformedResponse
				}
				s = s[1:]
			}
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				value = s
				s = ""
			} else {
				value = s[:end]
				s = s[end+1:]
			}
			value = strings.TrimSpace(value)
		}
		fields[key] = value
	}
	return fields, nil
}
