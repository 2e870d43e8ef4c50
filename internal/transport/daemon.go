package transport

import (
	"fmt"
	"net"
	"sync"
)

// DaemonHandler is the machine daemon's side of the socket protocol.
// Spawn starts (or resumes) an agent process and returns the session id it
// serves; Deliver hands an inbound payload to the session's process.
type DaemonHandler struct {
	Spawn   func(req SpawnRequest) (string, error)
	Deliver func(sessionID string, payload []byte)
}

// Daemon is a machine daemon's connection to the hub socket.
type Daemon struct {
	machineID string
	conn      net.Conn
	handler   DaemonHandler

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// Dial connects a daemon to the hub socket at path, identifies its
// machine, and starts serving spawn/send requests in the background.
func Dial(path, machineID string, handler DaemonHandler) (*Daemon, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}

	d := &Daemon{
		machineID: machineID,
		conn:      conn,
		handler:   handler,
		done:      make(chan struct{}),
	}

	if err := d.write(frame{Type: frameHello, MachineID: machineID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}

	go d.serveLoop()
	return d, nil
}

func (d *Daemon) serveLoop() {
	defer close(d.done)
	for {
		f, err := readFrame(d.conn)
		if err != nil {
			return
		}
		switch f.Type {
		case frameSpawn:
			if f.Spawn == nil {
				continue
			}
			go d.handleSpawn(f.RequestID, *f.Spawn)
		case frameSend:
			if d.handler.Deliver != nil {
				d.handler.Deliver(f.SessionID, f.Payload)
			}
		}
	}
}

func (d *Daemon) handleSpawn(requestID uint64, req SpawnRequest) {
	reply := frame{Type: frameSpawnResult, RequestID: requestID}
	if d.handler.Spawn == nil {
		reply.Error = "daemon has no spawn handler"
	} else if sessionID, err := d.handler.Spawn(req); err != nil {
		reply.Error = err.Error()
	} else {
		reply.SessionID = sessionID
	}
	_ = d.write(reply)
}

// Emit reports a liveness event upward.
func (d *Daemon) Emit(ev Event) error {
	if ev.MachineID == "" {
		ev.MachineID = d.machineID
	}
	if err := d.write(frame{Type: frameEvent, Event: &ev}); err != nil {
		return fmt.Errorf("emit event: %w", err)
	}
	return nil
}

func (d *Daemon) write(f frame) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return writeFrame(d.conn, f)
}

// Close drops the connection. The hub observes this as the machine's
// disconnect signal.
func (d *Daemon) Close() error {
	var err error
	d.once.Do(func() {
		err = d.conn.Close()
		<-d.done
	})
	return err
}
