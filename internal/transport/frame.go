package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Wire framing for the socket transport: a 4-byte big-endian length
// prefix followed by one CBOR-encoded frame. CBOR uses Core Deterministic
// Encoding so the same logical frame always produces identical bytes.

// maxFrameSize bounds a single frame. Payloads are conversation turns and
// daemon state documents, far below this; anything larger is a corrupt or
// hostile stream.
const maxFrameSize = 4 << 20

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
}

// frameType discriminates the socket protocol's messages.
type frameType string

const (
	// frameHello is the daemon's first frame, identifying its machine.
	frameHello frameType = "hello"
	// frameEvent carries a liveness event from daemon to hub.
	frameEvent frameType = "event"
	// frameSpawn asks the daemon to start an agent process.
	frameSpawn frameType = "spawn"
	// frameSpawnResult answers a spawn request.
	frameSpawnResult frameType = "spawn_result"
	// frameSend delivers an opaque payload to a session's channel.
	frameSend frameType = "send"
)

// frame is the single wire message shape. Only the fields relevant to
// Type are populated.
type frame struct {
	Type      frameType `cbor:"type"`
	RequestID uint64    `cbor:"request_id,omitempty"`

	MachineID string `cbor:"machine_id,omitempty"`
	SessionID string `cbor:"session_id,omitempty"`

	Event   *Event        `cbor:"event,omitempty"`
	Spawn   *SpawnRequest `cbor:"spawn,omitempty"`
	Payload []byte        `cbor:"payload,omitempty"`
	Error   string        `cbor:"error,omitempty"`
}

// writeFrame encodes and writes one length-prefixed frame.
func writeFrame(w io.Writer, f frame) error {
	body, err := encMode.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(body))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// readFrame reads and decodes one length-prefixed frame.
func readFrame(r io.Reader) (frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return frame{}, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxFrameSize {
		return frame{}, fmt.Errorf("frame too large: %d bytes", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return frame{}, fmt.Errorf("read frame body: %w", err)
	}

	var f frame
	if err := decMode.Unmarshal(body, &f); err != nil {
		return frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}
