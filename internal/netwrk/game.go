package netwrk

import (
	"context"
	"io"
	"net"

	"netpong/internal/packet"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Event is one result of reading a connection: a decoded input, a malformed
// packet, or the error that ended the connection.
type Event struct {
	Session uuid.UUID
	Input   packet.PlayerInput
	Err     error
}

// Fatal reports whether the event ends the session. Malformed packets do
// not; everything else, including a short read, does.
func (e Event) Fatal() bool {
	return e.Err != nil && !errors.Is(e.Err, packet.ErrMalformedPacket)
}

// ReadInputs reads fixed-size input packets from conn and sends them to out
// until the connection fails or ctx is done.
func ReadInputs(ctx context.Context, id uuid.UUID, conn net.Conn, out chan<- Event) {
	buf := make([]byte, packet.InputSize)
	for {
		ev := Event{Session: id}
		if _, err := io.ReadFull(conn, buf); err != nil {
			ev.Err = errors.Wrap(err, "read input failed")
		} else {
			ev.Input, ev.Err = packet.DecodeInput(buf)
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
		if ev.Fatal() {
			return
		}
	}
}
