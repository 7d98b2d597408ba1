// Package certs provisions in-memory self-signed certificates for servers
// configured with TLS but no certificate files.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// ServerTLSConfig generates a self-signed ECDSA certificate for hostname and
// returns a server-side TLS config carrying it. The certificate is valid for
// one year and also covers localhost and the loopback addresses so tests can
// dial without name resolution. protocol only labels the subject.
func ServerTLSConfig(protocol, hostname string) (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hostname, OrganizationalUnit: []string{protocol}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{hostname, "localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientTLSConfig builds a client config trusting the server config's
// certificate. Intended for tests and loopback clients.
func ClientTLSConfig(serverConfig *tls.Config, hostname string) (*tls.Config, error) {
	if len(serverConfig.Certificates) == 0 || len(serverConfig.Certificates[0].Certificate) == 0 {
		return nil, fmt.Errorf("server config carries no certificate")
	}
	parsed, err := x509.ParseCertificate(serverConfig.Certificates[0].Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(parsed)
	return &tls.Config{
		RootCAs:    pool,
		ServerName: hostname,
		MinVersion: tls.VersionTLS12,
	}, nil
}
