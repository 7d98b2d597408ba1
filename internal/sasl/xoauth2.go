package sasl

import (
	"strings"

	gosasl "github.com/emersion/go-sasl"
)

// xoauth2Server implements the server side of XOAUTH2. The client sends
// "user=<user>\x01auth=Bearer <token>\x01\x01"; the bearer token is checked
// against the stored secret rather than against an OAuth issuer.
type xoauth2Server struct {
	auth   *Authenticator
	result *Credentials
	done   bool
}

func newXOAuth2Server(a *Authenticator, result *Credentials) gosasl.Server {
	return &xoauth2Server{auth: a, result: result}
}

func (s *xoauth2Server) Next(response []byte) ([]byte, bool, error) {
	if s.done {
		return nil, false, ErrMalformedResponse
	}
	if response == nil {
		return []byte{}, false, nil
	}
	s.done = true

	var username, token string
	for _, part := range strings.Split(strings.TrimRight(string(response), "\x01"), "\x01") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, false, ErrMalformedResponse
		}
		switch key {
		case "user":
			username = value
		case "auth":
			bearer, ok := strings.CutPrefix(value, "Bearer ")
			if !ok {
				return nil, false, ErrMalformedResponse
			}
			token = bearer
		}
	}
	if username == "" || token == "" {
		return nil, false, ErrMalformedResponse
	}

	if err := s.auth.verifyLogin(username, token); err != nil {
		return nil, false, err
	}
	*s.result = Credentials{Username: username, Secret: token}
	return nil, true, nil
}
