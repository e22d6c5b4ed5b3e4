// Package chatapp implements the application-layer chat protocol: a single
// JSON-enveloped message type carried over a transport.Connection,
// grounded on original_source's application/chat package but unified into
// one struct per spec.md §6's table (every field present, most nullable),
// with a userlist type supplementing the original's text/file/system set.
package chatapp

import (
	"encoding/json"
	"fmt"
)

// Type discriminates the kind of a Message.
type Type string

const (
	TypeText     Type = "text"
	TypeFile     Type = "file"
	TypeSystem   Type = "system"
	TypeUserList Type = "userlist"
)

// RequestOnline is the well-known system message content a client sends to
// ask the server for the current roster, matching original_source's
// "__REQUEST_ONLINE__" sentinel.
const RequestOnline = "__REQUEST_ONLINE__"

// Shutdown is the well-known system message content the server broadcasts
// as a courtesy notice immediately before it closes every connection,
// matching original_source's "__SHUTDOWN__" sentinel. It is informational
// only: the authoritative teardown is the transport-level four-way close.
const Shutdown = "__SHUTDOWN__"

// Message is the wire envelope for every chat protocol message. All types
// share sender/recipient/timestamp; per-type fields are simply left zero
// for types that don't use them.
type Message struct {
	Type      Type    `json:"type"`
	Sender    *string `json:"sender"`
	Recipient *string `json:"recipient"`
	Timestamp int64   `json:"timestamp"`

	Content string `json:"content,omitempty"` // text, system

	Name string `json:"name,omitempty"` // file
	Mime string `json:"mime,omitempty"` // file
	Size int    `json:"size,omitempty"` // file
	Data []byte `json:"data,omitempty"` // file, base64 on the wire via encoding/json

	Users []string `json:"users,omitempty"` // userlist
}

// Encode serializes m to its JSON wire form.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses raw JSON into a Message, validating that Type is one of
// the four known values.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("chatapp: invalid message: %w", err)
	}
	switch m.Type {
	case TypeText, TypeFile, TypeSystem, TypeUserList:
	default:
		return m, fmt.Errorf("chatapp: unknown message type %q", m.Type)
	}
	return m, nil
}

func strPtr(s string) *string { return &s }

// NewText builds a text message.
func NewText(sender, recipient, content string, ts int64) Message {
	return Message{Type: TypeText, Sender: strPtr(sender), Recipient: strPtr(recipient), Content: content, Timestamp: ts}
}

// NewFile builds a file message; Size is derived from len(data).
func NewFile(sender, recipient, name, mime string, data []byte, ts int64) Message {
	return Message{
		Type: TypeFile, Sender: strPtr(sender), Recipient: strPtr(recipient),
		Name: name, Mime: mime, Data: data, Size: len(data), Timestamp: ts,
	}
}

// NewSystem builds a system message with no sender/recipient.
func NewSystem(content string, ts int64) Message {
	return Message{Type: TypeSystem, Content: content, Timestamp: ts}
}

// NewUserList builds a userlist message announcing who's online.
func NewUserList(users []string, ts int64) Message {
	return Message{Type: TypeUserList, Users: users, Timestamp: ts}
}
