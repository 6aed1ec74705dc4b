package constants

import "time"

const (
	// MaxSyncRetries bounds automatic re-drives of a failed sync. Entries at
	// the bound stay FAILED and are never picked up by the sweeper again.
	MaxSyncRetries = 3

	// RetryCooldown is how long a PENDING_RETRY entry must sit before the
	// sweeper re-enqueues it.
	RetryCooldown = time.Hour

	// RetrySweepInterval is the cadence of the scheduler sweep.
	RetrySweepInterval = time.Hour

	// ConnectionWarningWindow is how long failures may persist without an
	// intervening success before a connection escalates to WARNING.
	ConnectionWarningWindow = 24 * time.Hour
)
