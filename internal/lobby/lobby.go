// Package lobby seats up to two connections in fixed slots.
//
// A Lobby is not safe for concurrent use. It is owned by the tick loop; the
// acceptor only hands raw connections over and never calls into it.
package lobby

import (
	"net"

	"netpong/internal/packet"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Slots is the number of seats.
const Slots = 2

var (
	ErrLobbyFull      = errors.New("lobby is full")
	ErrUnknownSession = errors.New("unknown session")
	ErrTooManyFaults  = errors.New("too many malformed packets")
)

type Session struct {
	ID        uuid.UUID
	Slot      int
	Conn      net.Conn
	LastInput packet.PlayerInput
	Connected bool
	Reason    error

	pending bool
	faults  int
}

// TakeInput returns the newest input if it has not been folded yet.
func (s *Session) TakeInput() (packet.PlayerInput, bool) {
	if !s.pending {
		return packet.PlayerInput{}, false
	}
	s.pending = false
	return s.LastInput, true
}

func (s *Session) Fields() logrus.Fields {
	f := logrus.Fields{
		"session": s.ID.String(),
		"slot":    s.Slot,
	}
	if s.Conn != nil && s.Conn.RemoteAddr() != nil {
		f["remote"] = s.Conn.RemoteAddr().String()
	}
	return f
}

type Lobby struct {
	slots     [Slots]*Session
	maxFaults int
}

// CreateLobby returns an empty lobby. A session is dropped after maxFaults
// consecutive malformed packets; zero or less means never.
func CreateLobby(maxFaults int) *Lobby {
	return &Lobby{maxFaults: maxFaults}
}

// Join seats conn in the lowest free slot. When both slots are taken conn is
// closed and ErrLobbyFull returned.
func (l *Lobby) Join(conn net.Conn) (*Session, error) {
	for slot := range l.slots {
		if l.slots[slot] != nil {
			continue
		}
		s := &Session{
			ID:        uuid.New(),
			Slot:      slot,
			Conn:      conn,
			Connected: true,
		}
		l.slots[slot] = s
		logger.WithFields(s.Fields()).Info("player joined")
		return s, nil
	}
	_ = conn.Close()
	return nil, ErrLobbyFull
}

// Lookup finds a seated session by id.
func (l *Lobby) Lookup(id uuid.UUID) (*Session, error) {
	for _, s := range l.slots {
		if s != nil && s.ID == id {
			return s, nil
		}
	}
	return nil, errors.Wrap(ErrUnknownSession, id.String())
}

func (l *Lobby) session(slot int) *Session {
	if slot < 0 || slot >= Slots {
		return nil
	}
	return l.slots[slot]
}

// InputReceived stores in as the newest input of slot. Older unfolded input
// is overwritten.
func (l *Lobby) InputReceived(slot int, in packet.PlayerInput) {
	s := l.session(slot)
	if s == nil || !s.Connected {
		return
	}
	s.LastInput = in
	s.pending = true
	s.faults = 0
}

// Fault records a malformed packet from slot and reports whether the session
// has now been marked disconnected.
func (l *Lobby) Fault(slot int, err error) bool {
	s := l.session(slot)
	if s == nil || !s.Connected {
		return false
	}
	s.faults++
	logger.WithFields(s.Fields()).WithError(err).Warn("discarding malformed packet")
	if l.maxFaults > 0 && s.faults >= l.maxFaults {
		l.MarkDisconnected(slot, errors.Wrap(ErrTooManyFaults, err.Error()))
		return true
	}
	return false
}

// MarkDisconnected flags slot for removal on the next Sweep.
func (l *Lobby) MarkDisconnected(slot int, reason error) {
	s := l.session(slot)
	if s == nil || !s.Connected {
		return
	}
	s.Connected = false
	s.Reason = reason
}

// Sweep removes disconnected sessions and closes their connections. If slot
// 0 was freed while slot 1 is still seated, that session moves to slot 0 and
// promoted is true.
func (l *Lobby) Sweep() (removed []int, promoted bool) {
	for slot, s := range l.slots {
		if s == nil || s.Connected {
			continue
		}
		_ = s.Conn.Close()
		l.slots[slot] = nil
		removed = append(removed, slot)
		logger.WithFields(s.Fields()).WithField("reason", s.Reason).Info("player left")
	}
	if l.slots[0] == nil && l.slots[1] != nil {
		l.slots[0], l.slots[1] = l.slots[1], nil
		l.slots[0].Slot = 0
		promoted = true
		logger.WithFields(l.slots[0].Fields()).Info("promoted to first seat")
	}
	return removed, promoted
}

func (l *Lobby) OccupiedCount() int {
	n := 0
	for _, s := range l.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// Sessions returns the seated sessions in slot order.
func (l *Lobby) Sessions() []*Session {
	out := make([]*Session, 0, Slots)
	for _, s := range l.slots {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Close disconnects and removes every session.
func (l *Lobby) Close() {
	for slot, s := range l.slots {
		if s == nil {
			continue
		}
		_ = s.Conn.Close()
		l.slots[slot] = nil
	}
}
