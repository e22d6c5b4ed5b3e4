package transport

import "errors"

// Sentinel errors matching the taxonomy carried from spec.md §7, kept as
// plain error values the way the teacher's lib package does (no custom
// error framework appears anywhere in the corpus for this domain).
var (
	ErrDuplicateConnection = errors.New("transport: duplicate connection")
	ErrNotConnected        = errors.New("transport: not connected")
	ErrHandshakeFailed     = errors.New("transport: handshake failed")
	ErrChannelClosed       = errors.New("transport: channel closed")
)
