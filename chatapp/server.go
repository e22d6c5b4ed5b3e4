package chatapp

import (
	"log"
	"sync"
	"time"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/netlab-course/pseudonet/transport"
)

// clientConn pairs a connection with the display name of whoever is on
// the other end, grounded on original_source's application/server.py
// _VIP_TO_NAME lookup.
type clientConn struct {
	name string
	conn *transport.Connection
}

// Server relays chat messages between connected clients by recipient
// name, grounded on original_source's application/server.py Server class.
type Server struct {
	listener *transport.Listener
	nameOf   func(addr.VIP) string
	now      func() time.Time

	mu      sync.Mutex
	clients map[string]*clientConn // name -> connection
	wg      sync.WaitGroup

	allDisconnected chan struct{}
}

// NewServer wraps listener; nameOf resolves a connecting VIP to a display
// name (e.g. HOST_A -> "Alice") from the static topology.
func NewServer(listener *transport.Listener, nameOf func(addr.VIP) string) *Server {
	return &Server{
		listener:        listener,
		nameOf:          nameOf,
		now:             time.Now,
		clients:         make(map[string]*clientConn),
		allDisconnected: make(chan struct{}),
	}
}

// Run accepts connections, announcing each new client's roster and
// broadcasting join/leave notices, and returns only if Accept reports an
// error. Listener.Close does not close the accept queue, so a pending
// Accept, and with it Run, stays blocked after the listener is closed.
func (s *Server) Run(remoteVIP func(*transport.Connection) addr.VIP) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		name := s.nameOf(remoteVIP(conn))
		s.addClient(name, conn)

		s.wg.Add(1)
		go s.handle(name, conn)
	}
}

func (s *Server) addClient(name string, conn *transport.Connection) {
	s.mu.Lock()
	s.clients[name] = &clientConn{name: name, conn: conn}
	roster := s.rosterLocked()
	s.mu.Unlock()

	ts := s.now().Unix()
	s.sendTo(conn, NewUserList(roster, ts))
	s.broadcastExcept(name, NewSystem(name+" joined", ts))
}

func (s *Server) rosterLocked() []string {
	names := make([]string, 0, len(s.clients))
	for n := range s.clients {
		names = append(names, n)
	}
	return names
}

func (s *Server) removeClient(name string) {
	s.mu.Lock()
	delete(s.clients, name)
	empty := len(s.clients) == 0
	s.mu.Unlock()

	s.broadcastExcept(name, NewSystem(name+" left", s.now().Unix()))
	if empty {
		select {
		case <-s.allDisconnected:
		default:
			close(s.allDisconnected)
		}
	}
}

func (s *Server) handle(name string, conn *transport.Connection) {
	defer s.wg.Done()
	defer s.removeClient(name)
	defer conn.Close() // completes the four-way close from our side too

	for {
		raw, err := conn.Receive()
		if err != nil {
			log.Printf("chatapp: server receive error from %s: %v", name, err)
			return
		}
		if raw == nil {
			return // peer closed
		}
		msg, err := Decode(raw)
		if err != nil {
			log.Printf("chatapp: server dropped invalid message from %s: %v", name, err)
			continue
		}
		s.route(name, conn, msg)
	}
}

func (s *Server) route(from string, fromConn *transport.Connection, msg Message) {
	if msg.Type == TypeSystem && msg.Content == RequestOnline {
		s.mu.Lock()
		roster := s.rosterLocked()
		s.mu.Unlock()
		s.sendTo(fromConn, NewUserList(roster, s.now().Unix()))
		return
	}

	if msg.Recipient == nil {
		log.Printf("chatapp: server dropped message from %s with no recipient", from)
		return
	}

	s.mu.Lock()
	target, ok := s.clients[*msg.Recipient]
	s.mu.Unlock()
	if !ok {
		log.Printf("chatapp: server dropped message from %s to unknown recipient %s", from, *msg.Recipient)
		return
	}
	s.sendTo(target.conn, msg)
}

func (s *Server) sendTo(conn *transport.Connection, msg Message) {
	raw, err := Encode(msg)
	if err != nil {
		log.Printf("chatapp: server failed to encode message: %v", err)
		return
	}
	if err := conn.Send(raw); err != nil {
		log.Printf("chatapp: server send failed: %v", err)
	}
}

func (s *Server) broadcastExcept(exceptName string, msg Message) {
	s.mu.Lock()
	targets := make([]*clientConn, 0, len(s.clients))
	for n, c := range s.clients {
		if n != exceptName {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		s.sendTo(c.conn, msg)
	}
}

// Shutdown broadcasts the courtesy "__SHUTDOWN__" notice to every
// connected client and waits for each connection to close, matching
// original_source's KeyboardInterrupt handler in application/server.py.
// It does not close connections itself: the notice tells each client to
// close its own end (chatapp.Client does this on receipt), and handle's
// deferred conn.Close() completes the four-way close from our side once
// that client's FIN arrives.
func (s *Server) Shutdown(waitFor time.Duration) {
	s.mu.Lock()
	targets := make([]*clientConn, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	empty := len(targets) == 0
	s.mu.Unlock()
	if empty {
		return
	}

	notice := NewSystem(Shutdown, s.now().Unix())
	for _, c := range targets {
		s.sendTo(c.conn, notice)
	}

	select {
	case <-s.allDisconnected:
	case <-time.After(waitFor):
		log.Println("chatapp: shutdown timed out waiting for all clients to disconnect")
	}
	s.wg.Wait()
}
