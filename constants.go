package mpool

import "github.com/hse-project/go-mpool/internal/constants"

// Re-exported package-level constants.
const (
	MaxOpenMlogs         = constants.MaxOpenMlogs
	PoolNameMaxLen       = constants.PoolNameMaxLen
	MaxAppendBufferSize  = constants.MaxAppendBufferSize
	MaxReadBufferSize    = constants.MaxReadBufferSize
	DefaultSectorSize    = constants.DefaultSectorSize
	EraseBusyBackoff     = constants.EraseBusyBackoff
	EraseBusyMaxRetries  = constants.EraseBusyMaxRetries
)
