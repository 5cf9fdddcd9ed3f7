// Package transport implements interfaces.Core over the pool core's
// control-channel device, submitting commands through internal/ring.
package transport

// ClientConfig configures a Client's connection to the pool core.
type ClientConfig struct {
	// ControlDevicePath is the character device the core's control channel
	// is attached to, e.g. "/dev/mpool-ctl".
	ControlDevicePath string

	// RingEntries sizes the submission/completion queues.
	RingEntries uint32
}

// DefaultClientConfig returns sane defaults for ClientConfig.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ControlDevicePath: "/dev/mpool-ctl",
		RingEntries:       32,
	}
}
