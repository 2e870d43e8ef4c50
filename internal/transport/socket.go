package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
)

// Socket is the hub-side Transport over a unix domain socket. Machine
// daemons dial in, identify themselves with a hello frame, and then the
// connection carries liveness events upward and spawn/send requests
// downward. One connection per machine; a daemon reconnecting replaces
// its previous connection.
type Socket struct {
	ln      net.Listener
	events  chan Event
	nextReq atomic.Uint64

	mu       sync.Mutex
	conns    map[string]*daemonConn // machine id -> connection
	pending  map[uint64]chan frame  // spawn request id -> reply
	routes   map[string]string      // session id -> machine id
	closed   bool
	closeErr error
}

type daemonConn struct {
	machineID string
	conn      net.Conn
	writeMu   sync.Mutex
}

func (c *daemonConn) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.conn, f)
}

// Listen binds the socket transport at path. A stale socket file from a
// previous run is removed first.
func Listen(path string) (*Socket, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}

	s := &Socket{
		ln:      ln,
		events:  make(chan Event, 256),
		conns:   make(map[string]*daemonConn),
		pending: make(map[uint64]chan frame),
		routes:  make(map[string]string),
	}
	go s.acceptLoop()
	return s, nil
}

func (s *Socket) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Socket) handleConn(conn net.Conn) {
	hello, err := readFrame(conn)
	if err != nil || hello.Type != frameHello || hello.MachineID == "" {
		conn.Close()
		return
	}

	dc := &daemonConn{machineID: hello.MachineID, conn: conn}

	s.mu.Lock()
	if prev, ok := s.conns[hello.MachineID]; ok {
		prev.conn.Close()
	}
	s.conns[hello.MachineID] = dc
	closed := s.closed
	s.mu.Unlock()
	if closed {
		conn.Close()
		return
	}

	s.emit(Event{MachineID: hello.MachineID, Type: EventOnline})

	for {
		f, err := readFrame(conn)
		if err != nil {
			break
		}
		switch f.Type {
		case frameEvent:
			if f.Event == nil {
				continue
			}
			ev := *f.Event
			if ev.MachineID == "" {
				ev.MachineID = hello.MachineID
			}
			if ev.SessionID != "" {
				s.mu.Lock()
				s.routes[ev.SessionID] = hello.MachineID
				s.mu.Unlock()
			}
			s.emit(ev)
		case frameSpawnResult:
			s.mu.Lock()
			ch, ok := s.pending[f.RequestID]
			delete(s.pending, f.RequestID)
			s.mu.Unlock()
			if ok {
				ch <- f
			}
		}
	}

	s.mu.Lock()
	if s.conns[hello.MachineID] == dc {
		delete(s.conns, hello.MachineID)
	}
	s.mu.Unlock()
	conn.Close()

	// A dropped daemon connection is the external disconnect signal for
	// its machine.
	s.emit(Event{MachineID: hello.MachineID, Type: EventOffline})
}

// emit holds the mutex across the send so it serializes with Close:
// the channel can only be closed while no emit is in flight.
func (s *Socket) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// Spawn forwards the request to the target machine's daemon and waits for
// its reply or ctx.
func (s *Socket) Spawn(ctx context.Context, req SpawnRequest) (string, error) {
	s.mu.Lock()
	dc, ok := s.conns[req.MachineID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("spawn: machine %s not connected", req.MachineID)
	}

	id := s.nextReq.Add(1)
	reply := make(chan frame, 1)
	s.mu.Lock()
	s.pending[id] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := dc.write(frame{Type: frameSpawn, RequestID: id, Spawn: &req}); err != nil {
		return "", fmt.Errorf("spawn: %w", err)
	}

	select {
	case f := <-reply:
		if f.Error != "" {
			return "", fmt.Errorf("spawn: %s", f.Error)
		}
		s.mu.Lock()
		s.routes[f.SessionID] = req.MachineID
		s.mu.Unlock()
		return f.SessionID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Send routes a payload to the machine currently serving the session.
func (s *Socket) Send(_ context.Context, sessionID string, payload []byte) error {
	s.mu.Lock()
	machineID, ok := s.routes[sessionID]
	var dc *daemonConn
	if ok {
		dc, ok = s.conns[machineID]
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("send: no route to session %s", sessionID)
	}

	if err := dc.write(frame{Type: frameSend, SessionID: sessionID, Payload: payload}); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Events returns the liveness stream. Closed by Close.
func (s *Socket) Events() <-chan Event {
	return s.events
}

// Close shuts the listener and all daemon connections. Idempotent.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
	s.closed = true
	conns := make([]*daemonConn, 0, len(s.conns))
	for _, dc := range s.conns {
		conns = append(conns, dc)
	}
	s.closeErr = s.ln.Close()
	close(s.events)
	s.mu.Unlock()

	for _, dc := range conns {
		dc.conn.Close()
	}
	return s.closeErr
}
