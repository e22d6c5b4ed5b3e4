package ui

import (
	"time"

	"fyne.io/systray"
	"github.com/netlab-course/pseudonet/chatapp"
)

// GUI layers a systray presence indicator on top of the console text I/O,
// grounded on tailscale-tailscale's cmd/systray/systray.go usage of
// fyne.io/systray. The corpus has no windowed/immediate-mode chat GUI
// toolkit anywhere in it, so --gui is honoured as "run with a background
// status icon" rather than a full window, keeping actual message
// send/receive on the same terminal contract as ConsoleUI.
type GUI struct {
	console *ConsoleUI
	title   *systray.MenuItem
	quit    *systray.MenuItem
	ready   chan struct{}
}

// NewGUI starts the systray icon in the background and returns once it's
// ready to update.
func NewGUI(name string) *GUI {
	g := &GUI{console: NewConsoleUI(), ready: make(chan struct{})}
	go systray.Run(func() { g.onReady(name) }, func() {})
	<-g.ready
	return g
}

func (g *GUI) onReady(name string) {
	systray.SetTitle(name + ": connecting")
	g.title = systray.AddMenuItem(name, "chat client status")
	systray.AddSeparator()
	g.quit = systray.AddMenuItem("Quit", "Quit the chat client")
	close(g.ready)

	go func() {
		<-g.quit.ClickedCh
		systray.Quit()
	}()
}

func (g *GUI) ShowConnecting(name string) {
	systray.SetTitle(name + ": connecting")
	g.console.ShowConnecting(name)
}

func (g *GUI) ShowConnected(name string) {
	systray.SetTitle(name + ": connected")
	g.console.ShowConnected(name)
}

func (g *GUI) ShowMessage(msg chatapp.Message, at time.Time) {
	g.console.ShowMessage(msg, at)
}

func (g *GUI) ShowServerDisconnected() {
	systray.SetTitle("disconnected")
	g.console.ShowServerDisconnected()
}

func (g *GUI) ReadInput() (line string, filePath string, isFile bool, ok bool) {
	return g.console.ReadInput()
}
