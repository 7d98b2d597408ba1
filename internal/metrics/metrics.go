// Package metrics provides interfaces and implementations for collecting
// mailmock server metrics. This package defines the Collector interface for
// recording metrics and the Server interface for exposing them.
package metrics

import "context"

// Collector defines the interface for recording protocol server metrics.
// The protocol label is one of "smtp", "pop3", "imap".
type Collector interface {
	// Connection metrics
	ConnectionOpened(protocol string)
	ConnectionClosed(protocol string)
	TLSConnectionEstablished(protocol string)

	// Authentication metrics
	AuthAttempt(protocol, mechanism string, success bool)

	// Command metrics
	CommandProcessed(protocol, command string)

	// Mailbox metrics
	MessageDelivered(sizeBytes int64)
	MessageExpunged(protocol string)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
