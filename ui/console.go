package ui

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/netlab-course/pseudonet/chatapp"
)

// ConsoleUI is a plain terminal implementation of UI, grounded on
// original_source's ConsoleUI. Users send a file by prefixing a line with
// "/file ", matching the shell convention of a leading-slash command; any
// other non-empty line is sent as text; an empty line is ignored; end of
// input (EOF) quits.
type ConsoleUI struct {
	scanner *bufio.Scanner
}

// NewConsoleUI constructs a ConsoleUI reading from stdin.
func NewConsoleUI() *ConsoleUI {
	return &ConsoleUI{scanner: bufio.NewScanner(os.Stdin)}
}

func (c *ConsoleUI) ShowConnecting(name string) {
	fmt.Printf("[%s] connecting…\n", name)
}

func (c *ConsoleUI) ShowConnected(name string) {
	fmt.Printf("[%s] connected. Type a message, or \"/file <path>\" to send a file.\n", name)
}

func (c *ConsoleUI) ShowMessage(msg chatapp.Message, at time.Time) {
	stamp := at.Format("15:04:05")
	switch msg.Type {
	case chatapp.TypeText:
		sender := "?"
		if msg.Sender != nil {
			sender = *msg.Sender
		}
		fmt.Printf("[%s] %s: %s\n", stamp, sender, msg.Content)
	case chatapp.TypeFile:
		sender := "?"
		if msg.Sender != nil {
			sender = *msg.Sender
		}
		fmt.Printf("[%s] %s sent a file: %s (%d bytes)\n", stamp, sender, msg.Name, msg.Size)
	case chatapp.TypeSystem:
		fmt.Printf("[%s] * %s\n", stamp, msg.Content)
	case chatapp.TypeUserList:
		fmt.Printf("[%s] online: %s\n", stamp, strings.Join(msg.Users, ", "))
	}
}

func (c *ConsoleUI) ShowServerDisconnected() {
	fmt.Println("* server disconnected")
}

func (c *ConsoleUI) ReadInput() (line string, filePath string, isFile bool, ok bool) {
	if !c.scanner.Scan() {
		return "", "", false, false
	}
	text := strings.TrimSpace(c.scanner.Text())
	if text == "" {
		return "", "", false, true
	}
	if rest, found := strings.CutPrefix(text, "/file "); found {
		return "", strings.TrimSpace(rest), true, true
	}
	return text, "", false, true
}
