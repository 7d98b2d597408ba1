package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// ConnectionOpened is a no-op.
func (n *NoopCollector) ConnectionOpened(protocol string) {}

// ConnectionClosed is a no-op.
func (n *NoopCollector) ConnectionClosed(protocol string) {}

// TLSConnectionEstablished is a no-op.
func (n *NoopCollector) TLSConnectionEstablished(protocol string) {}

// AuthAttempt is a no-op.
func (n *NoopCollector) AuthAttempt(protocol, mechanism string, success bool) {}

// CommandProcessed is a no-op.
func (n *NoopCollector) CommandProcessed(protocol, command string) {}

// MessageDelivered is a no-op.
func (n *NoopCollector) MessageDelivered(sizeBytes int64) {}

// MessageExpunged is a no-op.
func (n *NoopCollector) MessageExpunged(protocol string) {}
