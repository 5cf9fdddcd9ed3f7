package constants

import "time"

// Pool and handle-table limits.
const (
	// MaxOpenMlogs is the fixed capacity of the per-pool handle table.
	MaxOpenMlogs = 516

	// PoolNameMaxLen is the maximum pool name length, NUL-terminated.
	PoolNameMaxLen = 31
)

// mlog engine buffer sizing. Append and read buffers are capped at 1 MiB and
// built from page-sized chunks.
const (
	MaxAppendBufferSize = 1 << 20
	MaxReadBufferSize    = 1 << 20

	// DefaultSectorSize is the on-media log-block alignment unit.
	DefaultSectorSize = 512
)

// MDC defaults.
const (
	// MDCDefaultChannels is a default channel count for an MDC. No code in
	// this module reads it; an MDCHandle is a single log pair with no
	// channel multiplexing.
	MDCDefaultChannels = 1
)

// Sentinel values used by PoolParams for "unset" fields, per the core's RPC
// contract.
const (
	InvalidU32 = 0xffffffff
	InvalidI32 = -1
)

// Transport/transient-retry timing.
//
// The core may report an mlog as "erasing"; a caller retries after a bounded
// backoff rather than spinning. These constants mirror the kind of
// operational delay constants a transport layer needs, the way a device
// lifecycle needs startup/poll delays.
const (
	// EraseBusyBackoff is the wait between retries of an operation that
	// failed because the target mlog was reported as erasing.
	EraseBusyBackoff = 10 * time.Millisecond

	// EraseBusyMaxRetries is a bound on retries of a transient "busy"
	// failure. No code in this module retries by itself; a caller that
	// retries can use these two values.
	EraseBusyMaxRetries = 50
)

// Ring geometry constant. transport.DefaultClientConfig does not use it; it
// sets its own entry count of 32.
const (
	DefaultRingEntries = 128
)
