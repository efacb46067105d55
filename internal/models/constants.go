package models

// Engine defaults. Config values of zero fall back to these.
const (
	DefaultMaxRetries         = 3
	DefaultMaxListenerRetries = 5
	DefaultDrainIntervalSec   = 30
	DefaultProbeIntervalSec   = 15
	DefaultPollIntervalSec    = 10
	DefaultStatusTTLSec       = 3600
	DefaultRetryLimitPerMin   = 6
)
