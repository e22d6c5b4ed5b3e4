package chatapp

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/netlab-course/pseudonet/transport"
)

// UI is the presentation contract a Client drives. It has the same method
// set as ui.UI, so ui.ConsoleUI and ui.GUI satisfy it; it is declared here
// because package ui imports chatapp for Message.
type UI interface {
	ShowConnecting(name string)
	ShowConnected(name string)
	ShowMessage(msg Message, at time.Time)
	ShowServerDisconnected()
	ReadInput() (line string, filePath string, isFile bool, ok bool)
}

// Client is a chat participant that connects to the server, exchanges
// messages with one default recipient and writes received files to disk,
// grounded on original_source's application/client.py Client class.
type Client struct {
	Name         string
	Other        string
	UI           UI
	DownloadsDir string
	now          func() time.Time

	mux  *transport.Multiplexer
	dest addr.Endpoint

	closeOnce sync.Once
	conn      *transport.Connection
	connMu    sync.Mutex
}

// NewClient constructs a Client that will connect through mux to dest.
func NewClient(name, other string, u UI, downloadsDir string, mux *transport.Multiplexer, dest addr.Endpoint) *Client {
	return &Client{
		Name: name, Other: other, UI: u, DownloadsDir: downloadsDir,
		now: time.Now, mux: mux, dest: dest,
	}
}

// Run shows the connecting UI, connects in the background, then drives the
// UI's input loop until the user quits (ReadInput reports !ok). A server
// disconnect is reported through the UI but does not end the input loop.
func (c *Client) Run() error {
	c.UI.ShowConnecting(c.Name)

	connErr := make(chan error, 1)
	go func() {
		conn, err := c.mux.Connect(c.dest)
		if err != nil {
			connErr <- err
			return
		}
		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		go c.receiveLoop()
		c.send(NewSystem(RequestOnline, c.now().Unix()))
		c.UI.ShowConnected(c.Name)
		connErr <- nil
	}()

	for {
		line, filePath, isFile, ok := c.UI.ReadInput()
		if !ok {
			break
		}
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			continue
		}

		if isFile {
			data, err := os.ReadFile(filePath)
			if err != nil {
				log.Printf("chatapp: could not read %s: %v", filePath, err)
				continue
			}
			c.send(NewFile(c.Name, c.Other, filepath.Base(filePath), "application/octet-stream", data, c.now().Unix()))
		} else if line != "" {
			c.send(NewText(c.Name, c.Other, line, c.now().Unix()))
		}
	}

	c.closeConnection()
	return <-connErr
}

func (c *Client) send(msg Message) {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return
	}
	raw, err := Encode(msg)
	if err != nil {
		log.Printf("chatapp: failed to encode message: %v", err)
		return
	}
	if err := conn.Send(raw); err != nil {
		log.Printf("chatapp: send failed: %v", err)
	}
}

func (c *Client) closeConnection() {
	c.closeOnce.Do(func() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

func (c *Client) receiveLoop() {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	for {
		raw, err := conn.Receive()
		if err != nil {
			log.Printf("chatapp: receive error: %v", err)
			c.UI.ShowServerDisconnected()
			return
		}
		if raw == nil {
			c.UI.ShowServerDisconnected()
			return
		}
		msg, err := Decode(raw)
		if err != nil {
			log.Printf("chatapp: dropped invalid message: %v", err)
			continue
		}

		if msg.Type == TypeSystem && msg.Content == Shutdown {
			log.Println("chatapp: server is shutting down, closing connection")
			c.closeConnection()
			c.UI.ShowServerDisconnected()
			return
		}

		if msg.Type == TypeFile {
			if err := c.saveFile(msg); err != nil {
				log.Printf("chatapp: failed to save incoming file: %v", err)
			}
		}

		c.UI.ShowMessage(msg, c.now())
	}
}

func (c *Client) saveFile(msg Message) error {
	dir := filepath.Join(c.DownloadsDir, c.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, msg.Name)
	return os.WriteFile(path, msg.Data, 0o644)
}

// String matches original_source's log-friendly repr for a client.
func (c *Client) String() string {
	return fmt.Sprintf("Client(%s -> %s)", c.Name, c.Other)
}
