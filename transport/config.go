package transport

import "time"

// Config carries the transport-layer tuning knobs, supplied by config
// rather than hard-coded, per the teacher's PcpCoreConfig idiom
// (lib/pcpcore.go).
type Config struct {
	MSS        int           // maximum fragment payload size
	Timeout    time.Duration // retransmission timeout T
	RetryLimit int           // 0 = unbounded retransmission
}

// DefaultConfig matches SPEC_FULL.md §6.2's stated defaults.
func DefaultConfig() Config {
	return Config{
		MSS:        4096,
		Timeout:    1500 * time.Millisecond,
		RetryLimit: 0,
	}
}
