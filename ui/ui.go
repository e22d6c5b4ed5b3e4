// Package ui implements the chat client's presentation layer: a console
// implementation always available, and an optional systray-backed
// presence indicator for the --gui flag, grounded on original_source's
// application/ui/protocol.py contract.
package ui

import (
	"time"

	"github.com/netlab-course/pseudonet/chatapp"
)

// UI is the presentation contract a chat client drives, matching
// original_source's UI protocol: ShowConnecting, ShowConnected,
// ShowMessage, ShowServerDisconnected, ReadInput.
type UI interface {
	ShowConnecting(name string)
	ShowConnected(name string)
	ShowMessage(msg chatapp.Message, at time.Time)
	ShowServerDisconnected()

	// ReadInput blocks for the next user action. It returns a non-empty
	// text line, a filesystem path to send as a file, ok=false to signal
	// the user wants to quit, or, for a blank line, an empty line with
	// isFile=false and ok=true.
	ReadInput() (line string, filePath string, isFile bool, ok bool)
}
