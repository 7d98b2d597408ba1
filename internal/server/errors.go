package server

import "errors"

var (
	// ErrAlreadyTLS is returned when attempting to upgrade an already-TLS connection.
	ErrAlreadyTLS = errors.New("connection already using TLS")

	// ErrServerStopped is returned when the accept loop exits because Stop was called.
	ErrServerStopped = errors.New("server stopped")
)
